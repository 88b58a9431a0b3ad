// Package config loads equipment and manager settings from defaults, a TOML
// file, EQUIPLINK_* environment variables and command line flags, in that
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/younglifestyle/equiplink/codec"
	"github.com/younglifestyle/equiplink/common"
	"github.com/younglifestyle/equiplink/equipment"
	"github.com/younglifestyle/equiplink/link"
	"github.com/younglifestyle/equiplink/manager"
)

var ErrInvalidConfig = errors.New("config: invalid configuration")

// Transports accepted by ManagerConfig.Transport.
const (
	TransportTCP       = "tcp"
	TransportWebSocket = "ws"
	TransportSerial    = "serial"
)

// LogConfig selects the zap logger settings shared by both programs.
type LogConfig struct {
	File       string
	Level      string
	Format     string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
	Console    bool
}

func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:      "info",
		Format:     "console",
		MaxSizeMB:  100,
		MaxBackups: 5,
		MaxAgeDays: 30,
	}
}

func (c LogConfig) Validate() error {
	switch strings.ToLower(c.Level) {
	case "debug", "info":
	default:
		return fmt.Errorf("%w: log level %q (want debug or info)", ErrInvalidConfig, c.Level)
	}
	switch strings.ToLower(c.Format) {
	case "json", "console":
	default:
		return fmt.Errorf("%w: log format %q (want json or console)", ErrInvalidConfig, c.Format)
	}
	return nil
}

// ZapOptions converts c for common.NewZapLogger.
func (c LogConfig) ZapOptions() common.ZapLoggerOptions {
	return common.ZapLoggerOptions{
		LogFile:    c.File,
		MaxSize:    c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAge:     c.MaxAgeDays,
		Compress:   c.Compress,
		DebugLevel: strings.EqualFold(c.Level, "debug"),
		Console:    c.Console,
		Format:     strings.ToLower(c.Format),
	}
}

// EquipmentConfig configures the equipment program.
type EquipmentConfig struct {
	// Listen is the TCP address for framed clients.
	Listen string
	// HTTPListen serves /ws and /metrics when set.
	HTTPListen     string
	MaxFrameBytes  int
	WriteTimeout   time.Duration
	ActiveInterval time.Duration
	IdleInterval   time.Duration
	Sim            equipment.SimParams
	Log            LogConfig
}

func DefaultEquipmentConfig() EquipmentConfig {
	return EquipmentConfig{
		Listen:         ":5000",
		MaxFrameBytes:  codec.DefaultMaxFrameBytes,
		WriteTimeout:   5 * time.Second,
		ActiveInterval: 500 * time.Millisecond,
		IdleInterval:   time.Second,
		Sim:            equipment.DefaultSimParams(),
		Log:            DefaultLogConfig(),
	}
}

func (c *EquipmentConfig) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("%w: listen address is required", ErrInvalidConfig)
	}
	if c.MaxFrameBytes <= 0 {
		return fmt.Errorf("%w: max frame bytes must be positive", ErrInvalidConfig)
	}
	if c.ActiveInterval <= 0 || c.IdleInterval <= 0 {
		return fmt.Errorf("%w: tick intervals must be positive", ErrInvalidConfig)
	}
	if c.WriteTimeout < 0 {
		return fmt.Errorf("%w: write timeout must not be negative", ErrInvalidConfig)
	}
	if err := c.Sim.Validate(); err != nil {
		return err
	}
	return c.Log.Validate()
}

// ServerOptions builds the equipment.Server options for c.
func (c EquipmentConfig) ServerOptions(logger common.Logger, metrics *equipment.Metrics) equipment.Options {
	return equipment.Options{
		Address:        c.Listen,
		MaxFrameBytes:  c.MaxFrameBytes,
		WriteTimeout:   c.WriteTimeout,
		ActiveInterval: c.ActiveInterval,
		IdleInterval:   c.IdleInterval,
		Sim:            c.Sim,
		Logger:         logger,
		Metrics:        metrics,
	}
}

// ReconnectConfig mirrors manager.ReconnectPolicy.
type ReconnectConfig struct {
	Enabled     bool
	Grace       time.Duration
	Base        time.Duration
	Max         time.Duration
	JitterMax   time.Duration
	MaxAttempts int
}

func (r ReconnectConfig) Policy() manager.ReconnectPolicy {
	return manager.ReconnectPolicy{
		Enabled:     r.Enabled,
		Grace:       r.Grace,
		Base:        r.Base,
		Max:         r.Max,
		JitterMax:   r.JitterMax,
		MaxAttempts: r.MaxAttempts,
	}
}

// ManagerConfig configures the manager program.
type ManagerConfig struct {
	Transport string
	// Address is host:port for tcp, a ws:// URL for ws, a device path for serial.
	Address       string
	BaudRate      int
	MaxFrameBytes int
	WriteTimeout  time.Duration
	DialTimeout   time.Duration
	PollInterval  time.Duration
	ReplyTimeout  time.Duration
	HistorySize   int
	Reconnect     ReconnectConfig
	Log           LogConfig
}

func DefaultManagerConfig() ManagerConfig {
	p := manager.DefaultReconnectPolicy()
	return ManagerConfig{
		Transport:     TransportTCP,
		Address:       "127.0.0.1:5000",
		BaudRate:      9600,
		MaxFrameBytes: codec.DefaultMaxFrameBytes,
		WriteTimeout:  5 * time.Second,
		DialTimeout:   5 * time.Second,
		PollInterval:  2 * time.Second,
		ReplyTimeout:  5 * time.Second,
		HistorySize:   256,
		Reconnect: ReconnectConfig{
			Enabled:     p.Enabled,
			Grace:       p.Grace,
			Base:        p.Base,
			Max:         p.Max,
			JitterMax:   p.JitterMax,
			MaxAttempts: p.MaxAttempts,
		},
		Log: DefaultLogConfig(),
	}
}

func (c *ManagerConfig) Validate() error {
	c.Transport = strings.ToLower(c.Transport)
	switch c.Transport {
	case TransportTCP, TransportWebSocket, TransportSerial:
	default:
		return fmt.Errorf("%w: transport %q (want tcp, ws or serial)", ErrInvalidConfig, c.Transport)
	}
	if c.Address == "" {
		return fmt.Errorf("%w: address is required", ErrInvalidConfig)
	}
	if c.Transport == TransportSerial && c.BaudRate <= 0 {
		return fmt.Errorf("%w: baud rate must be positive", ErrInvalidConfig)
	}
	if c.DialTimeout <= 0 || c.ReplyTimeout <= 0 {
		return fmt.Errorf("%w: timeouts must be positive", ErrInvalidConfig)
	}
	if c.MaxFrameBytes <= 0 {
		return fmt.Errorf("%w: max frame bytes must be positive", ErrInvalidConfig)
	}
	if err := c.Reconnect.Policy().Validate(); err != nil {
		return err
	}
	return c.Log.Validate()
}

// Dialer builds the manager.Dialer for the configured transport.
func (c ManagerConfig) Dialer() (manager.Dialer, error) {
	switch strings.ToLower(c.Transport) {
	case TransportTCP:
		return manager.TCPDialer{Address: c.Address, WriteTimeout: c.WriteTimeout}, nil
	case TransportWebSocket:
		return manager.WebSocketDialer{URL: c.Address, WriteTimeout: c.WriteTimeout}, nil
	case TransportSerial:
		return manager.SerialDialer{
			Port:         c.Address,
			Mode:         link.SerialMode{BaudRate: c.BaudRate},
			WriteTimeout: c.WriteTimeout,
		}, nil
	}
	return nil, fmt.Errorf("%w: transport %q", ErrInvalidConfig, c.Transport)
}

// ClientOptions builds manager.Client options for c.
func (c ManagerConfig) ClientOptions(logger common.Logger) (manager.Options, error) {
	dialer, err := c.Dialer()
	if err != nil {
		return manager.Options{}, err
	}
	policy := c.Reconnect.Policy()
	poll := c.PollInterval
	if poll <= 0 {
		// zero disables polling here; manager.Options reads zero as the default
		poll = -1
	}
	return manager.Options{
		Dialer:        dialer,
		MaxFrameBytes: c.MaxFrameBytes,
		DialTimeout:   c.DialTimeout,
		PollInterval:  poll,
		ReplyTimeout:  c.ReplyTimeout,
		Reconnect:     &policy,
		HistorySize:   c.HistorySize,
		Logger:        logger,
	}, nil
}
