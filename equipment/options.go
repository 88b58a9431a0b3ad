package equipment

import (
	"time"

	"github.com/younglifestyle/equiplink/codec"
	"github.com/younglifestyle/equiplink/common"
)

// Options configures an equipment Server.
type Options struct {
	// Address is the TCP listen address. Defaults to ":5000".
	Address string
	// MaxFrameBytes bounds inbound frame bodies.
	MaxFrameBytes int
	// WriteTimeout bounds each frame write. Zero disables it.
	WriteTimeout time.Duration
	// ActiveInterval is the tick period in RUN and ERROR. Defaults to 500ms.
	ActiveInterval time.Duration
	// IdleInterval is the tick period in IDLE and STOP. Defaults to 1s.
	IdleInterval time.Duration
	// Sim is the process profile. The zero value selects DefaultSimParams.
	Sim SimParams

	Logger  common.Logger
	Metrics *Metrics
	// Rand seeds the process tick. Nil selects a time-seeded source.
	Rand Rand
	// Clock stamps telemetry. Defaults to time.Now.
	Clock func() time.Time
}

func (o *Options) applyDefaults() {
	if o.Address == "" {
		o.Address = ":5000"
	}
	if o.MaxFrameBytes <= 0 {
		o.MaxFrameBytes = codec.DefaultMaxFrameBytes
	}
	if o.ActiveInterval <= 0 {
		o.ActiveInterval = 500 * time.Millisecond
	}
	if o.IdleInterval <= 0 {
		o.IdleInterval = time.Second
	}
	if o.Sim == (SimParams{}) {
		o.Sim = DefaultSimParams()
	}
	if o.Logger == nil {
		o.Logger = common.NopLogger()
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
}
