package manager

import (
	"math/rand"
	"time"

	"github.com/younglifestyle/equiplink/codec"
	"github.com/younglifestyle/equiplink/common"
	"github.com/younglifestyle/equiplink/link"
)

// Options configures a Client.
type Options struct {
	// Dialer opens the transport. Required.
	Dialer Dialer
	// Protocol frames the transport. Defaults to buffered STX/ETX.
	Protocol link.Protocol
	// MaxFrameBytes bounds inbound bodies of the default protocol.
	MaxFrameBytes int
	// DialTimeout bounds each connection attempt. Defaults to 5s.
	DialTimeout time.Duration
	// PollInterval is the STATUS poll period. Defaults to 2s; negative disables polling.
	PollInterval time.Duration
	// ReplyTimeout bounds SendAndWait when the caller's context has no deadline.
	ReplyTimeout time.Duration
	// Reconnect is the automatic reconnection policy. Nil selects
	// DefaultReconnectPolicy.
	Reconnect *ReconnectPolicy
	// HistorySize is the number of telemetry samples kept. Defaults to 256.
	HistorySize int

	Logger common.Logger
	// Jitter returns values in [0, 1) for reconnect jitter. Defaults to math/rand.
	Jitter func() float64
	// Clock stamps observations. Defaults to time.Now.
	Clock func() time.Time
}

func (o *Options) applyDefaults() {
	if o.MaxFrameBytes <= 0 {
		o.MaxFrameBytes = codec.DefaultMaxFrameBytes
	}
	if o.Logger == nil {
		o.Logger = common.NopLogger()
	}
	if o.Protocol == nil {
		logger := o.Logger
		o.Protocol = codec.Buffered(codec.StxEtx(codec.StxEtxOptions{
			MaxFrameBytes: o.MaxFrameBytes,
			OnWarning: func(err error) {
				logger.Warn("framer resync", "error", err)
			},
		}), codec.BufferOptions{ReadBufferSize: 4096, WriteBufferSize: 4096})
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 5 * time.Second
	}
	if o.PollInterval == 0 {
		o.PollInterval = 2 * time.Second
	}
	if o.ReplyTimeout <= 0 {
		o.ReplyTimeout = 5 * time.Second
	}
	if o.Reconnect == nil {
		p := DefaultReconnectPolicy()
		o.Reconnect = &p
	}
	if o.HistorySize <= 0 {
		o.HistorySize = 256
	}
	if o.Jitter == nil {
		o.Jitter = rand.Float64
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
}
