// Package link carries codec-framed messages over stream transports.
//
// A Protocol turns a byte stream into a Codec; a Session wraps one Codec and
// serializes writers; a Server accepts connections and runs a Handler per
// Session.
package link

import (
	"context"
	"errors"
	"io"
	"net"
	"time"
)

var (
	// ErrClosed is returned by Send and Receive once the session is closed.
	ErrClosed = errors.New("link: session closed")
	// ErrStopped is returned by Serve when the server was stopped before it started.
	ErrStopped = errors.New("link: server stopped")
)

// Protocol builds a Codec on top of a byte stream.
type Protocol interface {
	NewCodec(rw io.ReadWriter) (Codec, error)
}

// ProtocolFunc adapts a function to the Protocol interface.
type ProtocolFunc func(rw io.ReadWriter) (Codec, error)

func (pf ProtocolFunc) NewCodec(rw io.ReadWriter) (Codec, error) {
	return pf(rw)
}

// Codec sends and receives whole messages.
type Codec interface {
	Receive() (interface{}, error)
	Send(interface{}) error
	Close() error
}

// Handler is run once per accepted session.
type Handler interface {
	HandleSession(*Session)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(*Session)

func (f HandlerFunc) HandleSession(session *Session) {
	f(session)
}

// Listen announces on the network address and returns a Server ready to Serve.
func Listen(network, address string, protocol Protocol, writeTimeout time.Duration, handler Handler) (*Server, error) {
	listener, err := net.Listen(network, address)
	if err != nil {
		return nil, err
	}
	return NewServer(listener, protocol, writeTimeout, handler), nil
}

// Dial connects to address and wraps the connection in a Session.
func Dial(ctx context.Context, network, address string, protocol Protocol, writeTimeout time.Duration) (*Session, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}
	return NewConnSession(conn, protocol, writeTimeout)
}

// NewConnSession builds a Session over an established connection. The
// connection is closed if the codec cannot be built.
func NewConnSession(conn io.ReadWriteCloser, protocol Protocol, writeTimeout time.Duration) (*Session, error) {
	codec, err := protocol.NewCodec(conn)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	session := NewSession(codec, writeTimeout)
	if nc, ok := conn.(net.Conn); ok && nc.RemoteAddr() != nil {
		session.remote = nc.RemoteAddr().String()
	}
	return session, nil
}
