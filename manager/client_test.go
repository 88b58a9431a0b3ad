package manager

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/younglifestyle/equiplink/equipment"
	"github.com/younglifestyle/equiplink/packet"
)

func fastPolicy(maxAttempts int) *ReconnectPolicy {
	return &ReconnectPolicy{
		Enabled:     true,
		Grace:       20 * time.Millisecond,
		Base:        20 * time.Millisecond,
		Max:         100 * time.Millisecond,
		MaxAttempts: maxAttempts,
	}
}

func startEquipment(t *testing.T, addr string) *equipment.Server {
	t.Helper()
	s := equipment.NewServer(equipment.Options{
		Address:        addr,
		ActiveInterval: 20 * time.Millisecond,
		IdleInterval:   time.Hour,
		Rand:           rand.New(rand.NewSource(1)),
	})
	require.NoError(t, s.Start())
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func newClient(t *testing.T, addr string, opts Options) *Client {
	t.Helper()
	opts.Dialer = TCPDialer{Address: addr, WriteTimeout: time.Second}
	if opts.PollInterval == 0 {
		opts.PollInterval = -1
	}
	c := NewClient(opts)
	t.Cleanup(func() { _ = c.Disconnect("test done") })
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestClientConnectAndStatus(t *testing.T) {
	s := startEquipment(t, "127.0.0.1:0")
	c := newClient(t, s.Addr().String(), Options{})

	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, StateConnected, c.State())
	assert.True(t, c.Connected())
	assert.ErrorIs(t, c.Connect(context.Background()), ErrAlreadyConnected)

	resp, err := c.SendAndWait(context.Background(), packet.Simple(packet.Status))
	require.NoError(t, err)
	assert.Equal(t, packet.KindAck, resp.Kind)
	assert.Equal(t, "STATUS", resp.Command)
	assert.Equal(t, packet.StateIdle, c.Shadow().Snapshot().State)
}

func TestClientCommandsAndRefusals(t *testing.T) {
	s := startEquipment(t, "127.0.0.1:0")
	c := newClient(t, s.Addr().String(), Options{})
	require.NoError(t, c.Connect(context.Background()))

	resp, err := c.SendAndWait(context.Background(), packet.NewStart("A", 100))
	require.NoError(t, err)
	assert.Equal(t, "ACK|START|RUN", resp.Raw)

	resp, err = c.SendAndWait(context.Background(), packet.NewStart("A", 100))
	require.NoError(t, err)
	assert.Equal(t, packet.KindErr, resp.Kind)
	assert.Equal(t, packet.ReasonAlreadyRunning, resp.Reason())

	resp, err = c.SendAndWait(context.Background(), packet.Simple(packet.ForceErr))
	require.NoError(t, err)
	assert.Equal(t, "ACK|FORCEERR|ERROR", resp.Raw)
	assert.Equal(t, packet.StateError, c.Shadow().Snapshot().State)

	resp, err = c.SendAndWait(context.Background(), packet.Simple(packet.Reset))
	require.NoError(t, err)
	assert.Equal(t, "ACK|RESET|IDLE", resp.Raw)
}

func TestClientSendValidates(t *testing.T) {
	s := startEquipment(t, "127.0.0.1:0")
	c := newClient(t, s.Addr().String(), Options{})
	require.NoError(t, c.Connect(context.Background()))

	err := c.Send(packet.Command{Name: packet.Start})
	assert.ErrorIs(t, err, packet.ErrBadArity)

	err = c.Send(packet.Command{Name: "LAUNCH"})
	assert.ErrorIs(t, err, packet.ErrUnknownCommand)
}

func TestClientNotConnected(t *testing.T) {
	c := NewClient(Options{Dialer: TCPDialer{Address: "127.0.0.1:1"}, PollInterval: -1})

	assert.ErrorIs(t, c.Send(packet.Simple(packet.Status)), ErrNotConnected)
	_, err := c.SendAndWait(context.Background(), packet.Simple(packet.Status))
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.NoError(t, c.Disconnect("never connected"))
}

func TestClientConnectFailure(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	c := newClient(t, addr, Options{Reconnect: fastPolicy(3)})
	require.Error(t, c.Connect(context.Background()))
	assert.Equal(t, StateDisconnected, c.State())

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, StateDisconnected, c.State(), "a failed manual connect does not retry")
	assert.Equal(t, 0, c.Attempts())
}

func TestClientDisconnectIsIdempotent(t *testing.T) {
	s := startEquipment(t, "127.0.0.1:0")
	c := newClient(t, s.Addr().String(), Options{})

	var closes int
	c.Events().StateChanged.AddCallback(func(data map[string]interface{}) {
		if data["to"] == StateDisconnected {
			closes++
		}
	})

	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Disconnect("operator"))
	require.NoError(t, c.Disconnect("operator"))

	assert.Equal(t, StateDisconnected, c.State())
	assert.False(t, c.Connected())
	assert.Equal(t, packet.StateUnknown, c.Shadow().Snapshot().State)
	assert.Equal(t, 1, closes)
}

func TestClientReconnectsAfterServerRestart(t *testing.T) {
	s := startEquipment(t, "127.0.0.1:0")
	addr := s.Addr().String()
	c := newClient(t, addr, Options{Reconnect: fastPolicy(0)})
	require.NoError(t, c.Connect(context.Background()))

	require.NoError(t, s.Stop())
	waitFor(t, "RECONNECTING", func() bool { return c.State() == StateReconnecting })
	assert.Equal(t, packet.StateUnknown, c.Shadow().Snapshot().State)

	startEquipment(t, addr)
	waitFor(t, "CONNECTED", func() bool { return c.State() == StateConnected })
	assert.Equal(t, 0, c.Attempts())

	resp, err := c.SendAndWait(context.Background(), packet.Simple(packet.Status))
	require.NoError(t, err)
	assert.Equal(t, "STATUS", resp.Command)
}

func TestClientNoReconnectAfterDisconnect(t *testing.T) {
	s := startEquipment(t, "127.0.0.1:0")
	c := newClient(t, s.Addr().String(), Options{Reconnect: fastPolicy(0)})
	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Disconnect("operator"))

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, StateDisconnected, c.State())
	assert.False(t, c.AutoReconnect())
}

func TestClientReconnectDisabled(t *testing.T) {
	s := startEquipment(t, "127.0.0.1:0")
	c := newClient(t, s.Addr().String(), Options{Reconnect: &ReconnectPolicy{}})
	require.NoError(t, c.Connect(context.Background()))

	require.NoError(t, s.Stop())
	waitFor(t, "DISCONNECTED", func() bool { return c.State() == StateDisconnected })
}

func TestClientReconnectExhausted(t *testing.T) {
	s := startEquipment(t, "127.0.0.1:0")
	c := newClient(t, s.Addr().String(), Options{Reconnect: fastPolicy(2)})

	failed := make(chan int, 1)
	c.Events().ReconnectFailed.AddCallback(func(data map[string]interface{}) {
		failed <- data["attempts"].(int)
	})

	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, s.Stop())

	select {
	case n := <-failed:
		assert.Equal(t, 2, n)
	case <-time.After(3 * time.Second):
		t.Fatal("ReconnectFailed was not raised")
	}
	waitFor(t, "DISCONNECTED", func() bool { return c.State() == StateDisconnected })
	assert.False(t, c.AutoReconnect())
	assert.Equal(t, 2, c.Attempts())
}

func TestClientConnectAfterReconnectGivesUp(t *testing.T) {
	s := startEquipment(t, "127.0.0.1:0")
	addr := s.Addr().String()
	c := newClient(t, addr, Options{Reconnect: fastPolicy(1)})

	type seen struct {
		state ConnState
		auto  bool
	}
	inCallback := make(chan seen, 1)
	release := make(chan struct{})
	returned := make(chan struct{})
	c.Events().ReconnectFailed.AddCallback(func(map[string]interface{}) {
		defer close(returned)
		inCallback <- seen{state: c.State(), auto: c.AutoReconnect()}
		<-release
	})

	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, s.Stop())

	var got seen
	select {
	case got = <-inCallback:
	case <-time.After(3 * time.Second):
		t.Fatal("ReconnectFailed was not raised")
	}
	assert.Equal(t, StateDisconnected, got.state)
	assert.False(t, got.auto)

	// a manual connect while the failure is still being reported
	startEquipment(t, addr)
	require.NoError(t, c.Connect(context.Background()))
	close(release)
	<-returned

	assert.Equal(t, StateConnected, c.State())
	assert.True(t, c.AutoReconnect(), "giving up must not disarm a later connect")
	assert.Equal(t, 0, c.Attempts())
}

func TestClientDisconnectFromReconnectFailed(t *testing.T) {
	s := startEquipment(t, "127.0.0.1:0")
	c := newClient(t, s.Addr().String(), Options{Reconnect: fastPolicy(1)})

	done := make(chan error, 1)
	c.Events().ReconnectFailed.AddCallback(func(map[string]interface{}) {
		done <- c.Disconnect("gave up")
	})

	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, s.Stop())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Disconnect inside ReconnectFailed did not return")
	}
	assert.Equal(t, StateDisconnected, c.State())
}

func TestClientPendingRequestFailsOnLoss(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	// accept and hang up without answering
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		time.Sleep(50 * time.Millisecond)
		_ = conn.Close()
	}()

	c := newClient(t, l.Addr().String(), Options{Reconnect: &ReconnectPolicy{}})
	require.NoError(t, c.Connect(context.Background()))

	_, err = c.SendAndWait(context.Background(), packet.Simple(packet.Status))
	if !errors.Is(err, ErrConnectionLost) {
		t.Fatalf("expected ErrConnectionLost, got %v", err)
	}
}

func TestClientReplyTimeout(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		time.Sleep(time.Second)
	}()

	c := newClient(t, l.Addr().String(), Options{ReplyTimeout: 50 * time.Millisecond})
	require.NoError(t, c.Connect(context.Background()))

	_, err = c.SendAndWait(context.Background(), packet.Simple(packet.Status))
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestClientPollingUpdatesShadow(t *testing.T) {
	s := startEquipment(t, "127.0.0.1:0")
	c := newClient(t, s.Addr().String(), Options{PollInterval: 20 * time.Millisecond})

	require.NoError(t, c.Connect(context.Background()))
	waitFor(t, "polled status", func() bool {
		return c.Shadow().Snapshot().State == packet.StateIdle
	})
}

func TestClientTelemetry(t *testing.T) {
	s := startEquipment(t, "127.0.0.1:0")
	c := newClient(t, s.Addr().String(), Options{})

	samples := make(chan packet.Telemetry, 16)
	c.Events().Telemetry.AddCallback(func(data map[string]interface{}) {
		select {
		case samples <- data["telemetry"].(packet.Telemetry):
		default:
		}
	})

	require.NoError(t, c.Connect(context.Background()))
	_, err := c.SendAndWait(context.Background(), packet.NewStart("B", 100))
	require.NoError(t, err)

	select {
	case tel := <-samples:
		assert.Equal(t, "B", tel.Mode)
		assert.Equal(t, 100, tel.SetValue)
	case <-time.After(3 * time.Second):
		t.Fatal("no telemetry received")
	}
	assert.GreaterOrEqual(t, c.History().Len(), 1)
	assert.Equal(t, packet.StateRun, c.Shadow().Snapshot().State)
}
