package link

import (
	"errors"
	"net"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/multierr"
)

// Server accepts connections from a listener and runs the handler for each.
type Server struct {
	listener     net.Listener
	protocol     Protocol
	handler      Handler
	writeTimeout time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
	wg       sync.WaitGroup
	stopped  *atomic.Bool
}

func NewServer(listener net.Listener, protocol Protocol, writeTimeout time.Duration, handler Handler) *Server {
	return &Server{
		listener:     listener,
		protocol:     protocol,
		handler:      handler,
		writeTimeout: writeTimeout,
		sessions:     make(map[string]*Session),
		stopped:      atomic.NewBool(false),
	}
}

func (s *Server) Listener() net.Listener {
	return s.listener
}

func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve runs the accept loop until Stop is called or the listener fails.
// It returns nil after Stop.
func (s *Server) Serve() error {
	if s.stopped.Load() {
		return ErrStopped
	}

	var delay time.Duration
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.stopped.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if delay == 0 {
					delay = 5 * time.Millisecond
				} else {
					delay *= 2
				}
				if delay > time.Second {
					delay = time.Second
				}
				time.Sleep(delay)
				continue
			}
			return err
		}
		delay = 0

		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer s.wg.Done()

	session, err := NewConnSession(conn, s.protocol, s.writeTimeout)
	if err != nil {
		return
	}

	if !s.track(session) {
		_ = session.Close()
		return
	}
	session.AddCloseCallback(s.untrack)

	s.handler.HandleSession(session)
	_ = session.Close()
}

func (s *Server) track(session *Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped.Load() {
		return false
	}
	s.sessions[session.ID()] = session
	return true
}

func (s *Server) untrack(session *Session) {
	s.mu.Lock()
	delete(s.sessions, session.ID())
	s.mu.Unlock()
}

// SessionCount reports the sessions currently served.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Stop closes the listener and every open session, then waits for the
// handlers to return.
func (s *Server) Stop() error {
	if !s.stopped.CompareAndSwap(false, true) {
		return nil
	}

	err := s.listener.Close()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}

	s.mu.Lock()
	open := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		open = append(open, session)
	}
	s.mu.Unlock()

	for _, session := range open {
		err = multierr.Append(err, session.Close())
	}

	s.wg.Wait()
	return err
}
