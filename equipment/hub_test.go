package equipment

import (
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/younglifestyle/equiplink/link"
)

type recordCodec struct {
	mu     sync.Mutex
	sent   []string
	fail   bool
	closed int
}

func (c *recordCodec) Receive() (interface{}, error) { return nil, io.EOF }

func (c *recordCodec) Send(msg interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("write: broken pipe")
	}
	c.sent = append(c.sent, msg.(string))
	return nil
}

func (c *recordCodec) Close() error {
	c.mu.Lock()
	c.closed++
	c.mu.Unlock()
	return nil
}

func (c *recordCodec) bodies() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

func TestHubBroadcastDropsFailedSessions(t *testing.T) {
	hub := NewHub(nil, NewMetrics(nil))

	good1, good2, bad := &recordCodec{}, &recordCodec{}, &recordCodec{fail: true}
	s1, s2, s3 := link.NewSession(good1, 0), link.NewSession(good2, 0), link.NewSession(bad, 0)
	hub.Register(s1)
	hub.Register(s2)
	hub.Register(s3)
	assert.Equal(t, 3, hub.Len())

	delivered := hub.Broadcast("DATA|x")
	assert.Equal(t, 2, delivered)
	assert.Equal(t, 2, hub.Len())
	assert.Equal(t, []string{"DATA|x"}, good1.bodies())
	assert.Equal(t, []string{"DATA|x"}, good2.bodies())
	assert.True(t, s3.IsClosed())
	assert.Equal(t, 1, bad.closed)

	assert.Equal(t, 2, hub.Broadcast("DATA|y"))
	assert.Equal(t, []string{"DATA|x", "DATA|y"}, good1.bodies())
}

func TestHubUnregisterIsIdempotent(t *testing.T) {
	hub := NewHub(nil, nil)
	codec := &recordCodec{}
	s := link.NewSession(codec, 0)
	hub.Register(s)

	assert.True(t, hub.Unregister(s.ID()))
	assert.False(t, hub.Unregister(s.ID()))
	assert.Equal(t, 1, codec.closed)
	assert.Equal(t, 0, hub.Len())
	assert.Equal(t, 0, hub.Broadcast("ALARM|ERROR|FORCED"))
}

func TestHubConcurrentBroadcastAndUnregister(t *testing.T) {
	hub := NewHub(nil, nil)
	var sessions []*link.Session
	for i := 0; i < 16; i++ {
		s := link.NewSession(&recordCodec{}, 0)
		sessions = append(sessions, s)
		hub.Register(s)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				hub.Broadcast("DATA|z")
			}
		}()
	}
	for _, s := range sessions {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			hub.Unregister(id)
		}(s.ID())
	}
	wg.Wait()

	assert.Equal(t, 0, hub.Len())
	assert.Empty(t, hub.IDs())
}

func TestHubCloseAll(t *testing.T) {
	hub := NewHub(nil, nil)
	a, b := link.NewSession(&recordCodec{}, 0), link.NewSession(&recordCodec{}, 0)
	hub.Register(a)
	hub.Register(b)

	hub.CloseAll()
	assert.Equal(t, 0, hub.Len())
	assert.True(t, a.IsClosed())
	assert.True(t, b.IsClosed())
}
