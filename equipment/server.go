package equipment

import (
	"context"
	"errors"
	"net"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"github.com/younglifestyle/equiplink/codec"
	"github.com/younglifestyle/equiplink/common"
	"github.com/younglifestyle/equiplink/link"
	"github.com/younglifestyle/equiplink/packet"
)

var (
	ErrServerRunning    = errors.New("equipment: server already running")
	ErrServerNotRunning = errors.New("equipment: server not running")
)

// Server is the equipment side: it owns the machine, accepts clients,
// answers their commands and broadcasts telemetry.
type Server struct {
	opts      Options
	logger    common.Logger
	metrics   *Metrics
	machine   *Machine
	hub       *Hub
	generator *Generator
	protocol  link.Protocol

	running *atomic.Bool

	mu        sync.Mutex
	listeners []*link.Server
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func NewServer(opts Options) *Server {
	opts.applyDefaults()

	s := &Server{
		opts:    opts,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		running: atomic.NewBool(false),
	}
	s.machine = NewMachine(opts.Sim, opts.Rand)
	s.hub = NewHub(opts.Logger, opts.Metrics)
	s.generator = NewGenerator(s.machine, s.hub, opts)
	s.protocol = codec.Buffered(codec.StxEtx(codec.StxEtxOptions{
		MaxFrameBytes: opts.MaxFrameBytes,
		OnWarning:     s.onFramerWarning,
	}), codec.BufferOptions{ReadBufferSize: 4096, WriteBufferSize: 4096})
	s.metrics.state(s.machine.State())
	return s
}

func (s *Server) Machine() *Machine { return s.machine }
func (s *Server) Hub() *Hub         { return s.hub }

// Protocol is the wire protocol sessions are framed with.
func (s *Server) Protocol() link.Protocol { return s.protocol }

func (s *Server) onFramerWarning(err error) {
	s.metrics.framerWarning()
	s.logger.Warn("framer resync", "error", err)
}

// Start listens on the configured TCP address and starts the telemetry loop.
func (s *Server) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrServerRunning
	}

	listener, err := net.Listen("tcp", s.opts.Address)
	if err != nil {
		s.running.Store(false)
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_ = s.generator.Run(ctx)
	}()

	s.logger.Info("equipment listening", "addr", listener.Addr().String())
	return s.Serve(listener)
}

// Serve accepts clients from an additional listener, for example a
// link.WebSocketListener. Start must have been called.
func (s *Server) Serve(listener net.Listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running.Load() {
		_ = listener.Close()
		return ErrServerNotRunning
	}

	srv := link.NewServer(listener, s.protocol, s.opts.WriteTimeout, link.HandlerFunc(s.handleSession))
	s.listeners = append(s.listeners, srv)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := srv.Serve(); err != nil {
			s.logger.Error("accept loop ended", "addr", srv.Addr().String(), "error", err)
		}
	}()
	return nil
}

// Addr is the address of the first listener, nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.listeners) == 0 {
		return nil
	}
	return s.listeners[0].Addr()
}

// Stop closes every listener and session, stops the telemetry loop and
// resets the machine to IDLE.
func (s *Server) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	s.mu.Lock()
	cancel := s.cancel
	listeners := s.listeners
	s.cancel = nil
	s.listeners = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	var err error
	for _, l := range listeners {
		err = multierr.Append(err, l.Stop())
	}
	s.hub.CloseAll()
	s.wg.Wait()

	s.machine.Shutdown()
	s.metrics.state(s.machine.State())
	s.logger.Info("equipment stopped")
	return err
}

// UpdateParams swaps the process profile of a running machine.
func (s *Server) UpdateParams(p SimParams) error {
	if err := s.machine.SetParams(p); err != nil {
		return err
	}
	s.logger.Info("simulation parameters updated", "overspeed_rpm", p.OverspeedRPM, "rpm_max", p.RPMMax)
	return nil
}

func (s *Server) handleSession(session *link.Session) {
	s.hub.Register(session)
	defer s.hub.Unregister(session.ID())

	logger := common.With(s.logger, "session", session.ID())
	for {
		msg, err := session.Receive()
		if err != nil {
			logger.Info("session ended", "error", err)
			return
		}

		body, ok := msg.(string)
		if !ok {
			continue
		}
		s.metrics.frameReceived()

		reply := s.Dispatch(body)
		if err := session.Send(reply); err != nil {
			logger.Warn("reply failed", "reply", reply, "error", err)
			return
		}
		logger.Debug("exchange", "request", body, "reply", reply)
	}
}

// Dispatch parses one frame body, applies it and returns the reply body.
func (s *Server) Dispatch(body string) string {
	cmd, err := packet.Parse(body)
	if err != nil {
		var pe *packet.ParseError
		if errors.As(err, &pe) {
			s.metrics.parseError(pe.Code)
			s.logger.Info("rejected body", "body", body, "code", pe.Code, "rule", pe.Rule)
			return pe.Reply()
		}
		return packet.Err("PARSE", packet.Sanitize(err.Error()))
	}

	out := s.machine.Handle(cmd)
	s.metrics.response(cmd.Name, out.Accepted)
	if out.Transition != nil {
		s.logger.Info("state changed", "from", out.Transition.From, "to", out.Transition.To, "command", cmd.Name)
		s.metrics.state(out.Transition.To)
		s.generator.Wake()
	}
	return out.Reply
}
