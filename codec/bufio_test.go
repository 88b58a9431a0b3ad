package codec

import (
	"errors"
	"io"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/younglifestyle/equiplink/link"
)

func TestBufferedWriteDeadlineBoundsFlush(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()

	c, err := Buffered(StxEtx(StxEtxOptions{}), BufferOptions{WriteBufferSize: 64}).NewCodec(local)
	require.NoError(t, err)
	defer c.Close()

	// nobody reads remote, so the flush blocks until the deadline
	d, ok := c.(interface{ SetWriteDeadline(time.Time) error })
	require.True(t, ok)
	require.NoError(t, d.SetWriteDeadline(time.Now().Add(50*time.Millisecond)))

	start := time.Now()
	err = c.Send("DATA|RUN|A|60.0|2.00|1200")
	if !errors.Is(err, os.ErrDeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	assert.Less(t, time.Since(start), 2*time.Second)

	// the torn frame is dropped rather than flushed later
	require.NoError(t, d.SetWriteDeadline(time.Time{}))
	assert.ErrorIs(t, c.Send("STATUS"), io.ErrClosedPipe)
}

func TestBufferedSessionWriteTimeout(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()

	c, err := Buffered(StxEtx(StxEtxOptions{}), BufferOptions{ReadBufferSize: 64, WriteBufferSize: 64}).NewCodec(local)
	require.NoError(t, err)

	s := link.NewSession(c, 50*time.Millisecond)
	done := make(chan error, 1)
	go func() { done <- s.Send("ACK|STOP|STOP") }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("write timeout did not bound a blocked Send")
	}
	assert.True(t, s.IsClosed(), "a failed write closes the session")
}

func TestBufferedFlushesEachFrame(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()

	c, err := Buffered(StxEtx(StxEtxOptions{}), BufferOptions{WriteBufferSize: 256}).NewCodec(local)
	require.NoError(t, err)
	defer c.Close()

	got := make(chan []byte, 2)
	go func() {
		buf := make([]byte, 256)
		for i := 0; i < 2; i++ {
			_ = remote.SetReadDeadline(time.Now().Add(2 * time.Second))
			n, err := remote.Read(buf)
			if err != nil {
				return
			}
			got <- append([]byte(nil), buf[:n]...)
		}
	}()

	require.NoError(t, c.Send("ACK|START|RUN"))
	require.NoError(t, c.Send("DATA|RUN|A|26.0|1.10|150"))
	assert.Equal(t, frame("ACK|START|RUN"), <-got)
	assert.Equal(t, frame("DATA|RUN|A|26.0|1.10|150"), <-got)
}
