package equipment

import (
	"context"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/younglifestyle/equiplink/codec"
	"github.com/younglifestyle/equiplink/link"
)

func startServer(t *testing.T, opts Options) *Server {
	t.Helper()
	if opts.Address == "" {
		opts.Address = "127.0.0.1:0"
	}
	if opts.Rand == nil {
		opts.Rand = neutral()
	}
	s := NewServer(opts)
	require.NoError(t, s.Start())
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func dialRaw(t *testing.T, s *Server) (net.Conn, *link.Session) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", s.Addr().String(), time.Second)
	require.NoError(t, err)
	session, err := link.NewConnSession(conn, codec.StxEtx(codec.StxEtxOptions{}), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })
	return conn, session
}

// expectReply reads bodies until one starts with prefix, skipping broadcasts.
func expectReply(t *testing.T, conn net.Conn, session *link.Session, prefix string) string {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		msg, err := session.Receive()
		if err != nil {
			t.Fatalf("waiting for %q: %v", prefix, err)
		}
		body := msg.(string)
		if strings.HasPrefix(body, prefix) {
			return body
		}
		if strings.HasPrefix(body, "DATA|") || strings.HasPrefix(body, "ALARM|") {
			continue
		}
		t.Fatalf("expected body starting with %q, got %q", prefix, body)
	}
}

func TestServerSingleFrame(t *testing.T) {
	s := startServer(t, Options{IdleInterval: time.Hour})
	conn, session := dialRaw(t, s)

	_, err := conn.Write(codec.Wrap([]byte("STATUS")))
	require.NoError(t, err)
	assert.Equal(t, "ACK|STATUS|IDLE|NONE|A|0|25.0|1.00|0", expectReply(t, conn, session, "ACK|STATUS|"))
}

func TestServerSplitFrame(t *testing.T) {
	s := startServer(t, Options{ActiveInterval: time.Hour, IdleInterval: time.Hour})
	conn, session := dialRaw(t, s)

	raw := codec.Wrap([]byte("START|A|100"))
	_, err := conn.Write(raw[:5])
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	_, err = conn.Write(raw[5:])
	require.NoError(t, err)

	assert.Equal(t, "ACK|START|RUN", expectReply(t, conn, session, "ACK|START|"))
	assert.Eventually(t, func() bool { return s.Machine().State() == "RUN" }, time.Second, 5*time.Millisecond)
}

func TestServerNoiseAndErrors(t *testing.T) {
	metrics := NewMetrics(nil)
	s := startServer(t, Options{IdleInterval: time.Hour, Metrics: metrics})
	conn, session := dialRaw(t, s)

	stream := []byte("noise")
	stream = append(stream, codec.Wrap([]byte("HELLO"))...)
	stream = append(stream, codec.Wrap([]byte("START|A|X"))...)
	stream = append(stream, codec.Wrap([]byte("status"))...)
	_, err := conn.Write(stream)
	require.NoError(t, err)

	assert.Equal(t, "ERR|HELLO|UNKNOWN_COMMAND", expectReply(t, conn, session, "ERR|"))
	assert.Equal(t, `ERR|PARSE|START param2 must be int, got "X"`, expectReply(t, conn, session, "ERR|"))
	expectReply(t, conn, session, "ACK|STATUS|IDLE")

	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.FramesReceived))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ParseErrors.WithLabelValues("UNKNOWN_COMMAND")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ParseErrors.WithLabelValues("BAD_TYPE")))
}

func TestServerBroadcastsTelemetry(t *testing.T) {
	s := startServer(t, Options{ActiveInterval: 10 * time.Millisecond, IdleInterval: 10 * time.Millisecond})
	connA, sessA := dialRaw(t, s)
	connB, sessB := dialRaw(t, s)
	require.Eventually(t, func() bool { return s.Hub().Len() == 2 }, time.Second, 5*time.Millisecond)

	_, err := connA.Write(codec.Wrap([]byte("START|A|100")))
	require.NoError(t, err)
	expectReply(t, connA, sessA, "ACK|START|RUN")

	expectReply(t, connA, sessA, "DATA|")
	expectReply(t, connB, sessB, "DATA|")

	_, err = connB.Write(codec.Wrap([]byte("FORCEERR")))
	require.NoError(t, err)
	expectReply(t, connB, sessB, "ACK|FORCEERR|ERROR")
	expectReply(t, connA, sessA, "ALARM|ERROR|FORCED")
}

func TestServerDropsClosedClients(t *testing.T) {
	s := startServer(t, Options{IdleInterval: time.Hour})
	_, session := dialRaw(t, s)
	require.Eventually(t, func() bool { return s.Hub().Len() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, session.Close())
	assert.Eventually(t, func() bool { return s.Hub().Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestServerStopResetsMachine(t *testing.T) {
	s := NewServer(Options{Address: "127.0.0.1:0", Rand: neutral(), IdleInterval: time.Hour})
	require.NoError(t, s.Start())
	assert.ErrorIs(t, s.Start(), ErrServerRunning)

	conn, session := dialRaw(t, s)
	_, err := conn.Write(codec.Wrap([]byte("START|A|100")))
	require.NoError(t, err)
	expectReply(t, conn, session, "ACK|START|RUN")

	require.NoError(t, s.Stop())
	st := s.Machine().Status()
	assert.Equal(t, "IDLE", string(st.State))
	assert.Equal(t, 0, st.RPM)
	assert.Equal(t, 0, s.Hub().Len())

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, err = session.Receive()
	assert.Error(t, err)

	assert.NoError(t, s.Stop())
}

func TestServerWebSocketClients(t *testing.T) {
	s := startServer(t, Options{IdleInterval: time.Hour})

	wsl := link.NewWebSocketListener(s.Addr())
	require.NoError(t, s.Serve(wsl))
	httpServer := httptest.NewServer(wsl)
	defer httpServer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(httpServer.URL, "http")
	session, err := link.DialWebSocket(ctx, url, codec.StxEtx(codec.StxEtxOptions{}), time.Second)
	require.NoError(t, err)
	defer session.Close()

	require.NoError(t, session.Send("STATUS"))
	msg, err := session.Receive()
	require.NoError(t, err)
	assert.Equal(t, "ACK|STATUS|IDLE|NONE|A|0|25.0|1.00|0", msg)
}

func TestServeRequiresStart(t *testing.T) {
	s := NewServer(Options{})
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	assert.ErrorIs(t, s.Serve(l), ErrServerNotRunning)
}
