package equipment

import (
	"context"
	"time"

	"github.com/younglifestyle/equiplink/common"
	"github.com/younglifestyle/equiplink/packet"
)

// Broadcaster delivers a body to every connected client.
type Broadcaster interface {
	Broadcast(body string) int
}

// Generator drives the machine's process tick and publishes the result.
type Generator struct {
	machine *Machine
	out     Broadcaster
	active  time.Duration
	idle    time.Duration
	now     func() time.Time
	logger  common.Logger
	metrics *Metrics
	wake    chan struct{}
}

func NewGenerator(machine *Machine, out Broadcaster, opts Options) *Generator {
	opts.applyDefaults()
	return &Generator{
		machine: machine,
		out:     out,
		active:  opts.ActiveInterval,
		idle:    opts.IdleInterval,
		now:     opts.Clock,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		wake:    make(chan struct{}, 1),
	}
}

// Wake reschedules the next tick one active interval from now. It is called
// after a command changes the machine state.
func (g *Generator) Wake() {
	select {
	case g.wake <- struct{}{}:
	default:
	}
}

// Step runs one tick. It returns the published body (empty when nothing was
// sent) and the delay before the next tick.
func (g *Generator) Step() (string, time.Duration) {
	res := g.machine.Tick(g.now())
	if res.Transition != nil {
		g.logger.Warn("equipment fault", "from", res.Transition.From, "to", res.Transition.To, "reason", res.Transition.Reason)
		g.metrics.state(res.State)
	}

	var (
		body string
		kind packet.Kind
	)
	switch res.State {
	case packet.StateRun:
		body, kind = res.Telemetry.Body(), packet.KindData
	case packet.StateError:
		body, kind = packet.Alarm(res.LastError), packet.KindAlarm
	default:
		return "", g.idle
	}

	n := g.out.Broadcast(body)
	g.metrics.broadcast(kind, n)
	g.logger.Debug("broadcast", "body", body, "sessions", n)
	return body, g.active
}

// Run ticks until ctx is done.
func (g *Generator) Run(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	g.logger.Info("telemetry loop started", "active", g.active, "idle", g.idle)
	defer g.logger.Info("telemetry loop ended")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-g.wake:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(g.active)
		case <-timer.C:
			_, next := g.Step()
			timer.Reset(next)
		}
	}
}
