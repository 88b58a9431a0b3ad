package link

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
)

type writeDeadliner interface {
	SetWriteDeadline(time.Time) error
}

// Session is one established transport. Send may be called from any
// goroutine; a single goroutine should call Receive.
type Session struct {
	id           string
	remote       string
	codec        Codec
	writeTimeout time.Duration

	sendMu sync.Mutex
	closed *atomic.Bool

	closeMu        sync.Mutex
	closeCallbacks []func(*Session)
	closeErr       error
	done           chan struct{}
}

// NewSession wraps codec. A positive writeTimeout bounds every Send when the
// codec supports write deadlines.
func NewSession(codec Codec, writeTimeout time.Duration) *Session {
	return &Session{
		id:           uuid.NewString(),
		codec:        codec,
		writeTimeout: writeTimeout,
		closed:       atomic.NewBool(false),
		done:         make(chan struct{}),
	}
}

func (s *Session) ID() string {
	return s.id
}

// RemoteAddr is the peer address when the transport reports one.
func (s *Session) RemoteAddr() string {
	return s.remote
}

func (s *Session) Codec() Codec {
	return s.codec
}

func (s *Session) IsClosed() bool {
	return s.closed.Load()
}

// Done is closed after the session has been closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Receive returns the next decoded message.
func (s *Session) Receive() (interface{}, error) {
	msg, err := s.codec.Receive()
	if err != nil {
		if s.IsClosed() {
			return nil, ErrClosed
		}
		return nil, err
	}
	return msg, nil
}

// Send writes one message. Concurrent calls are serialized so frames never
// interleave. A failed write closes the session.
func (s *Session) Send(msg interface{}) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if s.IsClosed() {
		return ErrClosed
	}

	if s.writeTimeout > 0 {
		if d, ok := s.codec.(writeDeadliner); ok {
			_ = d.SetWriteDeadline(time.Now().Add(s.writeTimeout))
		}
	}

	if err := s.codec.Send(msg); err != nil {
		_ = s.Close()
		return err
	}
	return nil
}

// AddCloseCallback registers fn to run once when the session closes. If the
// session is already closed fn runs immediately.
func (s *Session) AddCloseCallback(fn func(*Session)) {
	s.closeMu.Lock()
	if s.IsClosed() {
		s.closeMu.Unlock()
		fn(s)
		return
	}
	s.closeCallbacks = append(s.closeCallbacks, fn)
	s.closeMu.Unlock()
}

// Close releases the transport. Only the first call has an effect.
func (s *Session) Close() error {
	s.closeMu.Lock()
	if !s.closed.CompareAndSwap(false, true) {
		err := s.closeErr
		s.closeMu.Unlock()
		return err
	}
	s.closeErr = s.codec.Close()
	callbacks := s.closeCallbacks
	s.closeCallbacks = nil
	close(s.done)
	err := s.closeErr
	s.closeMu.Unlock()

	for _, fn := range callbacks {
		fn(s)
	}
	return err
}
