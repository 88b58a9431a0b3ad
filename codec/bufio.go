package codec

import (
	"bufio"
	"fmt"
	"io"
	"time"

	"github.com/younglifestyle/equiplink/link"
	"go.uber.org/multierr"
)

type deadlineConn interface {
	SetDeadline(time.Time) error
	SetReadDeadline(time.Time) error
	SetWriteDeadline(time.Time) error
}

// BufferOptions sizes the buffers Buffered puts under a frame codec. A zero
// size leaves that direction unbuffered.
type BufferOptions struct {
	// ReadBufferSize smooths byte-at-a-time transports such as serial lines.
	ReadBufferSize int
	// WriteBufferSize lets a frame leave in one transport write.
	WriteBufferSize int
}

// Buffered wraps base with buffered reads and writes. Each frame is flushed
// before Send returns, so a write deadline on the codec bounds the flush.
func Buffered(base link.Protocol, opts BufferOptions) link.Protocol {
	return &bufferedProtocol{base: base, opts: opts}
}

type bufferedProtocol struct {
	base link.Protocol
	opts BufferOptions
}

func (p *bufferedProtocol) NewCodec(rw io.ReadWriter) (link.Codec, error) {
	s := &frameStream{Reader: rw, Writer: rw}
	if p.opts.WriteBufferSize > 0 {
		s.w = bufio.NewWriterSize(rw, p.opts.WriteBufferSize)
		s.Writer = s.w
	}
	if p.opts.ReadBufferSize > 0 {
		s.Reader = bufio.NewReaderSize(rw, p.opts.ReadBufferSize)
	}
	s.transport, _ = rw.(io.Closer)
	s.deadline, _ = rw.(deadlineConn)

	frames, err := p.base.NewCodec(s)
	if err != nil {
		return nil, err
	}
	return &bufferedCodec{frames: frames, stream: s}, nil
}

// frameStream is what the frame codec reads and writes. It has no Close, so
// only bufferedCodec closes the transport.
type frameStream struct {
	io.Reader
	io.Writer
	w         *bufio.Writer
	transport io.Closer
	deadline  deadlineConn
}

// flush pushes the buffered frame out. After a failed flush the rest of the
// frame is dropped; resending it would put a torn frame on the wire.
func (s *frameStream) flush() error {
	if s.w == nil || s.w.Buffered() == 0 {
		return nil
	}
	if err := s.w.Flush(); err != nil {
		s.w.Reset(discard{})
		return err
	}
	return nil
}

func (s *frameStream) SetDeadline(t time.Time) error {
	if s.deadline == nil {
		return nil
	}
	return s.deadline.SetDeadline(t)
}

func (s *frameStream) SetReadDeadline(t time.Time) error {
	if s.deadline == nil {
		return nil
	}
	return s.deadline.SetReadDeadline(t)
}

func (s *frameStream) SetWriteDeadline(t time.Time) error {
	if s.deadline == nil {
		return nil
	}
	return s.deadline.SetWriteDeadline(t)
}

// discard replaces the transport under a writer that already failed.
type discard struct{}

func (discard) Write(p []byte) (int, error) { return 0, io.ErrClosedPipe }

type bufferedCodec struct {
	frames link.Codec
	stream *frameStream
}

func (c *bufferedCodec) Send(msg interface{}) error {
	if err := c.frames.Send(msg); err != nil {
		return err
	}
	if err := c.stream.flush(); err != nil {
		return fmt.Errorf("codec: flush frame: %w", err)
	}
	return nil
}

func (c *bufferedCodec) Receive() (interface{}, error) {
	return c.frames.Receive()
}

func (c *bufferedCodec) Close() error {
	err := c.frames.Close()
	if c.stream.transport != nil {
		err = multierr.Append(err, c.stream.transport.Close())
	}
	return err
}

func (c *bufferedCodec) SetReadDeadline(t time.Time) error {
	return c.stream.SetReadDeadline(t)
}

func (c *bufferedCodec) SetWriteDeadline(t time.Time) error {
	return c.stream.SetWriteDeadline(t)
}
