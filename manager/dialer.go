package manager

import (
	"context"
	"time"

	"github.com/younglifestyle/equiplink/link"
)

// Dialer opens a transport to the equipment and frames it with protocol.
type Dialer interface {
	Dial(ctx context.Context, protocol link.Protocol) (*link.Session, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, protocol link.Protocol) (*link.Session, error)

func (f DialerFunc) Dial(ctx context.Context, protocol link.Protocol) (*link.Session, error) {
	return f(ctx, protocol)
}

// TCPDialer connects over TCP, e.g. "127.0.0.1:5000".
type TCPDialer struct {
	Address      string
	WriteTimeout time.Duration
}

func (d TCPDialer) Dial(ctx context.Context, protocol link.Protocol) (*link.Session, error) {
	return link.Dial(ctx, "tcp", d.Address, protocol, d.WriteTimeout)
}

// WebSocketDialer connects to the equipment's WebSocket endpoint, e.g.
// "ws://127.0.0.1:8080/ws".
type WebSocketDialer struct {
	URL          string
	WriteTimeout time.Duration
}

func (d WebSocketDialer) Dial(ctx context.Context, protocol link.Protocol) (*link.Session, error) {
	return link.DialWebSocket(ctx, d.URL, protocol, d.WriteTimeout)
}

// SerialDialer opens a serial line, e.g. "/dev/ttyUSB0".
type SerialDialer struct {
	Port         string
	Mode         link.SerialMode
	WriteTimeout time.Duration
}

func (d SerialDialer) Dial(ctx context.Context, protocol link.Protocol) (*link.Session, error) {
	return link.DialSerial(ctx, d.Port, d.Mode, protocol, d.WriteTimeout)
}
