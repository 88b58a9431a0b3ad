package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/younglifestyle/equiplink/common"
	"github.com/younglifestyle/equiplink/link"
	"github.com/younglifestyle/equiplink/packet"
	"github.com/younglifestyle/equiplink/utils"
)

var (
	// ErrNotConnected is returned when a command is sent without a session.
	ErrNotConnected = errors.New("manager: connection not established")
	// ErrAlreadyConnected is returned by Connect while a session is live.
	ErrAlreadyConnected = errors.New("manager: already connected")
	// ErrConnectInProgress is returned by Connect while another attempt is dialing.
	ErrConnectInProgress = errors.New("manager: connect in progress")
	// ErrConnectAborted is returned when Disconnect interrupts a connect.
	ErrConnectAborted = errors.New("manager: connect aborted")
	// ErrConnectionLost is delivered to pending waiters when the session drops.
	ErrConnectionLost = errors.New("manager: connection lost")
	// ErrDisconnected is delivered to pending waiters on Disconnect.
	ErrDisconnected = errors.New("manager: disconnected")
	// ErrTimeout indicates the equipment did not answer in time.
	ErrTimeout = errors.New("manager: timeout waiting for reply")
)

// Events are raised by the client. Callbacks run on the client's own
// goroutines and must not call Connect or Disconnect synchronously, with
// the exception of ReconnectFailed.
type Events struct {
	// StateChanged data: "from", "to" (ConnState), "event", "reason" (string).
	StateChanged common.Event
	// Response data: "response" (packet.Response).
	Response common.Event
	// Telemetry data: "telemetry" (packet.Telemetry).
	Telemetry common.Event
	// Alarm data: "reason" (string).
	Alarm common.Event
	// ReconnectFailed data: "attempts" (int), "error" (error).
	ReconnectFailed common.Event
}

// connection is one live session with its loops.
type connection struct {
	session *link.Session
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lost    *atomic.Bool
}

// Client is the manager side of the link: it owns one connection to the
// equipment, polls its status, keeps a shadow of its state and reconnects
// after unexpected disconnects.
type Client struct {
	opts    Options
	policy  ReconnectPolicy
	logger  common.Logger
	events  *Events
	state   *ConnectionStateMachine
	shadow  *Shadow
	history *History

	autoReconnect *atomic.Bool
	dialing       *atomic.Bool
	attempts      *atomic.Int32

	mu              sync.Mutex
	conn            *connection
	dialCancel      context.CancelFunc
	reconnectCancel context.CancelFunc
	reconnectDone   chan struct{}

	pendingMu sync.Mutex
	pending   map[string][]*utils.Deque
}

func NewClient(opts Options) *Client {
	opts.applyDefaults()
	return &Client{
		opts:          opts,
		policy:        *opts.Reconnect,
		logger:        opts.Logger,
		events:        &Events{},
		state:         NewConnectionStateMachine(),
		shadow:        NewShadow(opts.Clock),
		history:       NewHistory(opts.HistorySize),
		autoReconnect: atomic.NewBool(false),
		dialing:       atomic.NewBool(false),
		attempts:      atomic.NewInt32(0),
		pending:       make(map[string][]*utils.Deque),
	}
}

func (c *Client) Events() *Events { return c.events }

func (c *Client) Shadow() *Shadow { return c.shadow }

func (c *Client) History() *History { return c.history }

func (c *Client) State() ConnState { return c.state.Current() }

// Connected reports whether a session is live.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Attempts is the number of reconnect attempts since the last successful connect.
func (c *Client) Attempts() int {
	return int(c.attempts.Load())
}

// AutoReconnect reports whether an unexpected disconnect will be retried.
func (c *Client) AutoReconnect() bool {
	return c.autoReconnect.Load()
}

// Connect dials the equipment. It cancels any reconnect loop first and
// re-arms the reconnect policy on success.
func (c *Client) Connect(ctx context.Context) error {
	if c.Connected() {
		return ErrAlreadyConnected
	}
	if c.dialing.Load() && !c.reconnecting() {
		return ErrConnectInProgress
	}

	c.stopReconnect()
	c.attempts.Store(0)
	c.autoReconnect.Store(c.policy.Enabled)

	if err := c.connectOnce(ctx, false); err != nil {
		c.autoReconnect.Store(false)
		return err
	}
	return nil
}

func (c *Client) reconnecting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnectCancel != nil
}

func (c *Client) connectOnce(ctx context.Context, retry bool) error {
	if !c.dialing.CompareAndSwap(false, true) {
		return ErrConnectInProgress
	}
	defer c.dialing.Store(false)

	dctx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
	defer cancel()

	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	tr, err := c.state.Dial()
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("manager: dial from %s: %w", c.state.Current(), err)
	}
	c.dialCancel = cancel
	c.mu.Unlock()
	c.notify(tr, "")

	session, dialErr := c.opts.Dialer.Dial(dctx, c.opts.Protocol)

	c.mu.Lock()
	c.dialCancel = nil
	if !c.state.Is(StateConnecting) {
		// Disconnect ran while dialing.
		c.mu.Unlock()
		if session != nil {
			_ = session.Close()
		}
		return ErrConnectAborted
	}
	if dialErr != nil {
		if retry {
			tr, _ = c.state.Backoff()
		} else {
			tr, _ = c.state.Fail()
		}
		c.mu.Unlock()
		c.notify(tr, dialErr.Error())
		return dialErr
	}

	conn := &connection{session: session, lost: atomic.NewBool(false)}
	conn.ctx, conn.cancel = context.WithCancel(context.Background())
	c.conn = conn
	c.attempts.Store(0)
	tr, _ = c.state.Established()

	conn.wg.Add(1)
	go c.receiveLoop(conn)
	if c.opts.PollInterval > 0 {
		conn.wg.Add(1)
		go c.pollLoop(conn)
	}
	c.mu.Unlock()

	c.shadow.MarkUnknown()
	c.logger.Info("connected", "session", session.ID(), "remote", session.RemoteAddr())
	c.notify(tr, "")
	return nil
}

// Disconnect closes the connection and disables automatic reconnection.
// It is safe to call at any time and more than once.
func (c *Client) Disconnect(reason string) error {
	c.autoReconnect.Store(false)
	c.stopReconnect()

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	if c.dialCancel != nil {
		c.dialCancel()
	}
	var (
		tr      Transition
		changed bool
	)
	if !c.state.Is(StateDisconnected) {
		tr, _ = c.state.Close()
		changed = true
	}
	c.mu.Unlock()

	var err error
	if conn != nil {
		conn.lost.Store(true)
		err = c.teardown(conn)
	}
	c.shadow.MarkUnknown()
	c.failPending(ErrDisconnected)

	if changed {
		c.logger.Info("disconnected", "reason", reason)
		c.notify(tr, reason)
	}
	return err
}

// teardown cancels the loops, closes the transport and waits for the loops
// to return. Errors from the loops are dropped.
func (c *Client) teardown(conn *connection) error {
	conn.cancel()
	err := conn.session.Close()
	conn.wg.Wait()
	if errors.Is(err, link.ErrClosed) {
		err = nil
	}
	return err
}

// connectionLost handles an unexpected end of conn. It must not run on one
// of conn's own loops.
func (c *Client) connectionLost(conn *connection, cause error) {
	if !conn.lost.CompareAndSwap(false, true) {
		return
	}
	_ = c.teardown(conn)

	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil

	var tr Transition
	retry := c.autoReconnect.Load()
	if retry {
		tr, _ = c.state.Backoff()
		c.startReconnectLocked()
	} else {
		tr, _ = c.state.Close()
	}
	c.mu.Unlock()

	c.shadow.MarkUnknown()
	c.failPending(ErrConnectionLost)

	reason := "connection lost"
	if cause != nil {
		reason = cause.Error()
	}
	c.logger.Warn("connection lost", "error", cause, "reconnect", retry)
	c.notify(tr, reason)
}

// startReconnectLocked launches the reconnect loop unless one is running.
func (c *Client) startReconnectLocked() {
	if c.reconnectCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.reconnectCancel = cancel
	c.reconnectDone = done
	go c.reconnectLoop(ctx, done)
}

// stopReconnect cancels the reconnect loop and waits for it to exit.
func (c *Client) stopReconnect() {
	c.mu.Lock()
	cancel, done := c.reconnectCancel, c.reconnectDone
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (c *Client) reconnectLoop(ctx context.Context, done chan struct{}) {
	var (
		exhausted bool
		attempts  int
		lastErr   error
	)
	defer func() {
		// done stays open until giveUp has fired, so a Connect waiting in
		// stopReconnect starts after the failure is reported.
		defer close(done)

		var tr Transition
		c.mu.Lock()
		if c.reconnectDone == done {
			c.reconnectCancel = nil
			c.reconnectDone = nil
		}
		if exhausted {
			c.autoReconnect.Store(false)
			if c.conn == nil && c.state.Is(StateReconnecting) {
				tr, _ = c.state.Close()
			}
		}
		c.mu.Unlock()

		if exhausted {
			c.giveUp(tr, attempts, lastErr)
		}
	}()

	for {
		attempt := int(c.attempts.Inc())
		if c.policy.Exhausted(attempt) {
			exhausted, attempts = true, attempt-1
			c.attempts.Store(int32(attempts))
			return
		}

		delay := c.policy.DelayWithJitter(attempt, c.opts.Jitter)
		c.logger.Info("reconnecting", "attempt", attempt, "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if !c.autoReconnect.Load() {
			return
		}

		err := c.connectOnce(ctx, true)
		switch {
		case err == nil, errors.Is(err, ErrAlreadyConnected), errors.Is(err, ErrConnectAborted):
			return
		case ctx.Err() != nil:
			return
		}
		lastErr = err
		c.logger.Warn("reconnect attempt failed", "attempt", attempt, "error", err)
	}
}

// giveUp reports the end of automatic reconnection. The reconnect fields are
// already cleared, so callbacks may call Connect or Disconnect.
func (c *Client) giveUp(tr Transition, attempts int, lastErr error) {
	c.logger.Error("reconnect attempts exhausted", "attempts", attempts, "error", lastErr)
	c.notify(tr, "reconnect attempts exhausted")
	c.events.ReconnectFailed.Fire(map[string]interface{}{
		"attempts": attempts,
		"error":    lastErr,
	})
}

func (c *Client) receiveLoop(conn *connection) {
	defer conn.wg.Done()

	for {
		msg, err := conn.session.Receive()
		if err != nil {
			if conn.ctx.Err() == nil {
				go c.connectionLost(conn, err)
			}
			return
		}
		if body, ok := msg.(string); ok {
			c.handleBody(body)
		}
	}
}

func (c *Client) pollLoop(conn *connection) {
	defer conn.wg.Done()

	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	status := packet.Encode(packet.Simple(packet.Status))
	for {
		select {
		case <-conn.ctx.Done():
			return
		case <-ticker.C:
			if err := conn.session.Send(status); err != nil {
				if conn.ctx.Err() == nil {
					go c.connectionLost(conn, err)
				}
				return
			}
		}
	}
}

func (c *Client) handleBody(body string) {
	resp, err := packet.ParseResponse(body)
	if err != nil {
		c.logger.Warn("unrecognized body", "body", body, "error", err)
		return
	}

	switch resp.Kind {
	case packet.KindAck, packet.KindErr:
		c.shadow.ApplyResponse(resp)
		c.deliver(resp)
		c.events.Response.Fire(map[string]interface{}{"response": resp})
	case packet.KindData:
		tel, err := resp.Telemetry(c.opts.Clock())
		if err != nil {
			c.logger.Warn("bad telemetry", "body", body, "error", err)
			return
		}
		c.shadow.ApplyTelemetry(tel)
		c.history.Add(tel)
		c.events.Telemetry.Fire(map[string]interface{}{"telemetry": tel})
	case packet.KindAlarm:
		reason := resp.Reason()
		c.shadow.ApplyAlarm(reason)
		c.logger.Warn("equipment alarm", "reason", reason)
		c.events.Alarm.Fire(map[string]interface{}{"reason": reason})
	}
}

// Send writes one command frame. Commands are validated before they are sent.
func (c *Client) Send(cmd packet.Command) error {
	body := packet.Encode(cmd)
	if _, err := packet.Parse(body); err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	if err := conn.session.Send(body); err != nil {
		go c.connectionLost(conn, err)
		return fmt.Errorf("manager: send %s: %w", cmd.Name, err)
	}
	c.logger.Debug("sent", "body", body)
	return nil
}

// SendAndWait sends cmd and waits for the ACK or ERR answering it. Replies
// to the same command are matched in send order.
func (c *Client) SendAndWait(ctx context.Context, cmd packet.Command) (packet.Response, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.ReplyTimeout)
		defer cancel()
	}

	queue := utils.NewDeque()
	key := string(cmd.Name)
	c.addWaiter(key, queue)
	defer c.removeWaiter(key, queue)

	if err := c.Send(cmd); err != nil {
		return packet.Response{}, err
	}

	item, err := queue.GetContext(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return packet.Response{}, ErrTimeout
		}
		return packet.Response{}, err
	}

	switch v := item.(type) {
	case packet.Response:
		return v, nil
	case error:
		return packet.Response{}, v
	default:
		return packet.Response{}, fmt.Errorf("manager: unexpected reply payload %T", item)
	}
}

func (c *Client) addWaiter(key string, q *utils.Deque) {
	c.pendingMu.Lock()
	c.pending[key] = append(c.pending[key], q)
	c.pendingMu.Unlock()
}

func (c *Client) removeWaiter(key string, q *utils.Deque) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	list := c.pending[key]
	for i, cur := range list {
		if cur == q {
			c.pending[key] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(c.pending[key]) == 0 {
		delete(c.pending, key)
	}
}

func (c *Client) deliver(resp packet.Response) {
	c.pendingMu.Lock()
	list := c.pending[resp.Command]
	if len(list) == 0 {
		c.pendingMu.Unlock()
		return
	}
	q := list[0]
	c.pending[resp.Command] = list[1:]
	c.pendingMu.Unlock()
	q.Put(resp)
}

func (c *Client) failPending(err error) {
	c.pendingMu.Lock()
	pending := c.pending
	c.pending = make(map[string][]*utils.Deque)
	c.pendingMu.Unlock()

	for _, list := range pending {
		for _, q := range list {
			q.Put(err)
		}
	}
}

func (c *Client) notify(tr Transition, reason string) {
	if tr.From == "" && tr.To == "" {
		return
	}
	c.logger.Debug("connection state", "from", tr.From, "to", tr.To, "event", tr.Event)
	c.events.StateChanged.Fire(map[string]interface{}{
		"from":   tr.From,
		"to":     tr.To,
		"event":  tr.Event,
		"reason": reason,
	})
}
