package link

import (
	"context"
	"fmt"
	"time"

	"go.bug.st/serial"
)

// SerialMode is the line configuration used by DialSerial.
type SerialMode struct {
	BaudRate int
	DataBits int
}

// DialSerial opens a serial port (8N1 unless DataBits says otherwise) and
// wraps it in a Session.
func DialSerial(ctx context.Context, port string, mode SerialMode, protocol Protocol, writeTimeout time.Duration) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if mode.BaudRate <= 0 {
		mode.BaudRate = 9600
	}
	if mode.DataBits <= 0 {
		mode.DataBits = 8
	}

	p, err := serial.Open(port, &serial.Mode{
		BaudRate: mode.BaudRate,
		DataBits: mode.DataBits,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("link: open serial port %s: %w", port, err)
	}
	return NewConnSession(p, protocol, writeTimeout)
}
