package equipment

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/younglifestyle/equiplink/packet"
)

type captureBroadcaster struct {
	mu     sync.Mutex
	bodies []string
}

func (c *captureBroadcaster) Broadcast(body string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bodies = append(c.bodies, body)
	return 1
}

func (c *captureBroadcaster) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.bodies...)
}

func TestGeneratorSilentWhenIdle(t *testing.T) {
	m := NewMachine(DefaultSimParams(), neutral())
	out := &captureBroadcaster{}
	g := NewGenerator(m, out, Options{ActiveInterval: 10 * time.Millisecond, IdleInterval: 40 * time.Millisecond})

	body, next := g.Step()
	assert.Empty(t, body)
	assert.Equal(t, 40*time.Millisecond, next)
	assert.Empty(t, out.snapshot())
}

func TestGeneratorOverspeedSwitchesToAlarm(t *testing.T) {
	clock := time.Date(2024, 1, 2, 10, 11, 12, 345*int(time.Millisecond), time.Local)
	metrics := NewMetrics(nil)
	m := NewMachine(DefaultSimParams(), rising())
	out := &captureBroadcaster{}
	g := NewGenerator(m, out, Options{
		ActiveInterval: 10 * time.Millisecond,
		Clock:          func() time.Time { return clock },
		Metrics:        metrics,
	})

	m.Handle(packet.NewStart("A", 600))
	for i := 0; i < 7; i++ {
		_, next := g.Step()
		assert.Equal(t, 10*time.Millisecond, next)
	}

	bodies := out.snapshot()
	require.Len(t, bodies, 7)
	for i := 0; i < 4; i++ {
		assert.True(t, strings.HasPrefix(bodies[i], "DATA|10:11:12.345|A|600|"), bodies[i])
	}
	assert.True(t, strings.HasSuffix(bodies[3], "|6200"), bodies[3])
	for i := 4; i < 7; i++ {
		assert.Equal(t, "ALARM|ERROR|OVERSPEED", bodies[i])
	}

	assert.Equal(t, 4.0, testutil.ToFloat64(metrics.Broadcasts.WithLabelValues("DATA")))
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.Broadcasts.WithLabelValues("ALARM")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.State.WithLabelValues("ERROR")))
}

func TestGeneratorForcedAlarm(t *testing.T) {
	m := NewMachine(DefaultSimParams(), neutral())
	out := &captureBroadcaster{}
	g := NewGenerator(m, out, Options{})

	m.Handle(packet.Simple(packet.ForceErr))
	body, _ := g.Step()
	assert.Equal(t, "ALARM|ERROR|FORCED", body)
}

func TestGeneratorRunStopsOnCancel(t *testing.T) {
	m := NewMachine(DefaultSimParams(), neutral())
	m.Handle(packet.NewStart("A", 10))
	out := &captureBroadcaster{}
	g := NewGenerator(m, out, Options{ActiveInterval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()

	require.Eventually(t, func() bool { return len(out.snapshot()) >= 3 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("generator did not stop")
	}
}

func TestGeneratorWakeSwitchesCadence(t *testing.T) {
	m := NewMachine(DefaultSimParams(), neutral())
	out := &captureBroadcaster{}
	g := NewGenerator(m, out, Options{ActiveInterval: 5 * time.Millisecond, IdleInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = g.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	m.Handle(packet.NewStart("A", 10))
	g.Wake()

	require.Eventually(t, func() bool { return len(out.snapshot()) >= 1 }, time.Second, 5*time.Millisecond)
}
