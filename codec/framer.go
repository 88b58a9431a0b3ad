package codec

import (
	"errors"

	"go.uber.org/multierr"
)

const (
	STX byte = 0x02
	ETX byte = 0x03

	// DefaultMaxFrameBytes bounds the body of a frame under construction.
	DefaultMaxFrameBytes = 8192
)

var (
	// ErrFrameTooLong is reported when a partial frame outgrows the limit and is dropped.
	ErrFrameTooLong = errors.New("codec: frame exceeds maximum length, discarded")
	// ErrUnterminatedFrame is reported when STX arrives before the open frame's ETX.
	ErrUnterminatedFrame = errors.New("codec: STX inside open frame, partial frame discarded")
	// ErrDelimiterInBody rejects outbound bodies that carry STX or ETX.
	ErrDelimiterInBody = errors.New("codec: body contains STX or ETX")
)

// Framer recovers STX/ETX delimited bodies from an arbitrarily chunked byte
// stream. State carries over between Feed calls. A Framer is not safe for
// concurrent use.
type Framer struct {
	max     int
	inFrame bool
	buf     []byte
}

// NewFramer returns a Framer whose bodies are at most max bytes.
// A non-positive max selects DefaultMaxFrameBytes.
func NewFramer(max int) *Framer {
	if max <= 0 {
		max = DefaultMaxFrameBytes
	}
	return &Framer{max: max}
}

// Feed consumes chunk and returns every body completed by it, in stream order.
// Resynchronization events are returned as a non-fatal warning; bodies are
// valid even when the warning is non-nil.
func (f *Framer) Feed(chunk []byte) ([][]byte, error) {
	var (
		bodies [][]byte
		warn   error
	)

	for _, b := range chunk {
		if !f.inFrame {
			if b == STX {
				f.inFrame = true
				f.buf = f.buf[:0]
			}
			continue
		}

		switch b {
		case ETX:
			body := make([]byte, len(f.buf))
			copy(body, f.buf)
			bodies = append(bodies, body)
			f.inFrame = false
			f.buf = f.buf[:0]
		case STX:
			warn = multierr.Append(warn, ErrUnterminatedFrame)
			f.buf = f.buf[:0]
		default:
			if len(f.buf) >= f.max {
				warn = multierr.Append(warn, ErrFrameTooLong)
				f.inFrame = false
				f.buf = f.buf[:0]
				continue
			}
			f.buf = append(f.buf, b)
		}
	}

	return bodies, warn
}

// Reset drops any partial frame.
func (f *Framer) Reset() {
	f.inFrame = false
	f.buf = f.buf[:0]
}

// InFrame reports whether an STX has been seen without its ETX.
func (f *Framer) InFrame() bool {
	return f.inFrame
}

// Buffered is the length of the partial body.
func (f *Framer) Buffered() int {
	return len(f.buf)
}

// Wrap encloses body in STX/ETX.
func Wrap(body []byte) []byte {
	out := make([]byte, 0, len(body)+2)
	out = append(out, STX)
	out = append(out, body...)
	return append(out, ETX)
}

// Warnings splits a Feed warning into its individual errors.
func Warnings(err error) []error {
	return multierr.Errors(err)
}
