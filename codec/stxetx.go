package codec

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/younglifestyle/equiplink/link"
)

// StxEtxOptions configures the STX/ETX stream protocol.
type StxEtxOptions struct {
	// MaxFrameBytes bounds inbound bodies. Defaults to DefaultMaxFrameBytes.
	MaxFrameBytes int
	// ReadBufferSize is the size of each transport read. Defaults to 1024.
	ReadBufferSize int
	// OnWarning receives framing anomalies. They never end the stream.
	OnWarning func(error)
}

func (o *StxEtxOptions) applyDefaults() {
	if o.MaxFrameBytes <= 0 {
		o.MaxFrameBytes = DefaultMaxFrameBytes
	}
	if o.ReadBufferSize <= 0 {
		o.ReadBufferSize = 1024
	}
}

// StxEtx returns a Protocol whose codec receives bodies as strings and sends
// strings, byte slices or fmt.Stringer values as single frames.
func StxEtx(opts StxEtxOptions) link.Protocol {
	opts.applyDefaults()
	return &stxEtxProtocol{opts: opts}
}

type stxEtxProtocol struct {
	opts StxEtxOptions
}

func (p *stxEtxProtocol) NewCodec(rw io.ReadWriter) (link.Codec, error) {
	c := &stxEtxCodec{
		rw:        rw,
		framer:    NewFramer(p.opts.MaxFrameBytes),
		readBuf:   make([]byte, p.opts.ReadBufferSize),
		onWarning: p.opts.OnWarning,
	}
	c.closer, _ = rw.(io.Closer)
	c.deadline, _ = rw.(deadlineConn)
	return c, nil
}

type stxEtxCodec struct {
	rw        io.ReadWriter
	closer    io.Closer
	deadline  deadlineConn
	framer    *Framer
	readBuf   []byte
	pending   [][]byte
	readErr   error
	onWarning func(error)
}

func (c *stxEtxCodec) Receive() (interface{}, error) {
	for len(c.pending) == 0 {
		if c.readErr != nil {
			return nil, c.readErr
		}

		n, err := c.rw.Read(c.readBuf)
		if n > 0 {
			bodies, warn := c.framer.Feed(c.readBuf[:n])
			c.warn(warn)
			c.pending = append(c.pending, bodies...)
		}
		switch {
		case err != nil:
			c.readErr = err
		case n == 0:
			c.readErr = io.EOF
		}
	}

	body := c.pending[0]
	c.pending[0] = nil
	c.pending = c.pending[1:]
	return string(body), nil
}

func (c *stxEtxCodec) warn(err error) {
	if err == nil || c.onWarning == nil {
		return
	}
	for _, w := range Warnings(err) {
		c.onWarning(w)
	}
}

func (c *stxEtxCodec) Send(msg interface{}) error {
	var body []byte
	switch m := msg.(type) {
	case string:
		body = []byte(m)
	case []byte:
		body = m
	case fmt.Stringer:
		body = []byte(m.String())
	default:
		return fmt.Errorf("codec: cannot frame %T", msg)
	}

	if bytes.IndexByte(body, STX) >= 0 || bytes.IndexByte(body, ETX) >= 0 {
		return ErrDelimiterInBody
	}

	_, err := c.rw.Write(Wrap(body))
	return err
}

func (c *stxEtxCodec) Close() error {
	if c.closer != nil {
		return c.closer.Close()
	}
	return nil
}

func (c *stxEtxCodec) SetWriteDeadline(t time.Time) error {
	if c.deadline != nil {
		return c.deadline.SetWriteDeadline(t)
	}
	return nil
}
