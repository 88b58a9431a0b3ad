package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/younglifestyle/equiplink/equipment"
)

// logFile is the [log] table. Durations elsewhere in the file are strings
// such as "500ms".
type logFile struct {
	File       string `toml:"file"`
	Level      string `toml:"level"`
	Format     string `toml:"format"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   *bool  `toml:"compress"`
	Console    *bool  `toml:"console"`
}

type equipmentFile struct {
	Listen         string              `toml:"listen"`
	HTTPListen     string              `toml:"http_listen"`
	MaxFrameBytes  int                 `toml:"max_frame_bytes"`
	WriteTimeout   string              `toml:"write_timeout"`
	ActiveInterval string              `toml:"active_interval"`
	IdleInterval   string              `toml:"idle_interval"`
	Sim            equipment.SimParams `toml:"sim"`
	Log            logFile             `toml:"log"`
}

type reconnectFile struct {
	Enabled     *bool  `toml:"enabled"`
	Grace       string `toml:"grace"`
	Base        string `toml:"base"`
	Max         string `toml:"max"`
	JitterMax   string `toml:"jitter_max"`
	MaxAttempts *int   `toml:"max_attempts"`
}

type managerFile struct {
	Transport     string        `toml:"transport"`
	Address       string        `toml:"address"`
	BaudRate      int           `toml:"baud_rate"`
	MaxFrameBytes int           `toml:"max_frame_bytes"`
	WriteTimeout  string        `toml:"write_timeout"`
	DialTimeout   string        `toml:"dial_timeout"`
	PollInterval  string        `toml:"poll_interval"`
	ReplyTimeout  string        `toml:"reply_timeout"`
	HistorySize   int           `toml:"history_size"`
	Reconnect     reconnectFile `toml:"reconnect"`
	Log           logFile       `toml:"log"`
}

// DefaultPath is ~/.equiplink/<name>.toml, or empty when there is no home
// directory.
func DefaultPath(name string) string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".equiplink", name+".toml")
	}
	return ""
}

func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

func decodeFile(path string, v interface{}) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := toml.Unmarshal(b, v); err != nil {
		return fmt.Errorf("config: decode %s: %w", path, err)
	}
	return nil
}

func applyLogFile(s *setter, l logFile, cfg *LogConfig) error {
	s.setString("log-file", l.File, &cfg.File)
	s.setString("log-level", l.Level, &cfg.Level)
	s.setString("log-format", l.Format, &cfg.Format)
	if l.MaxSizeMB > 0 {
		cfg.MaxSizeMB = l.MaxSizeMB
	}
	if l.MaxBackups > 0 {
		cfg.MaxBackups = l.MaxBackups
	}
	if l.MaxAgeDays > 0 {
		cfg.MaxAgeDays = l.MaxAgeDays
	}
	if err := s.setBool("log-compress", l.Compress, &cfg.Compress); err != nil {
		return err
	}
	return s.setBool("log-console", l.Console, &cfg.Console)
}

// ApplyEquipmentFile overlays the TOML file at path onto cfg, leaving
// explicitly set flags alone. The [sim] table overrides only the keys it
// names.
func ApplyEquipmentFile(cfg *EquipmentConfig, path string, changed map[string]bool) error {
	fc := equipmentFile{Sim: cfg.Sim}
	if err := decodeFile(path, &fc); err != nil {
		return err
	}

	s := newSetter(changed)
	s.setString("listen", fc.Listen, &cfg.Listen)
	s.setString("http", fc.HTTPListen, &cfg.HTTPListen)
	if fc.MaxFrameBytes > 0 {
		if err := s.setInt("max-frame-bytes", fc.MaxFrameBytes, &cfg.MaxFrameBytes); err != nil {
			return err
		}
	}
	if err := s.setDuration("write-timeout", fc.WriteTimeout, &cfg.WriteTimeout); err != nil {
		return err
	}
	if err := s.setDuration("active-interval", fc.ActiveInterval, &cfg.ActiveInterval); err != nil {
		return err
	}
	if err := s.setDuration("idle-interval", fc.IdleInterval, &cfg.IdleInterval); err != nil {
		return err
	}
	overspeed := cfg.Sim.OverspeedRPM
	cfg.Sim = fc.Sim
	if s.skip("overspeed-rpm") {
		cfg.Sim.OverspeedRPM = overspeed
	}
	return applyLogFile(s, fc.Log, &cfg.Log)
}

// LoadSimParams reads only the [sim] table of path on top of base.
func LoadSimParams(path string, base equipment.SimParams) (equipment.SimParams, error) {
	fc := equipmentFile{Sim: base}
	if err := decodeFile(path, &fc); err != nil {
		return base, err
	}
	if err := fc.Sim.Validate(); err != nil {
		return base, err
	}
	return fc.Sim, nil
}

// ApplyManagerFile overlays the TOML file at path onto cfg, leaving
// explicitly set flags alone.
func ApplyManagerFile(cfg *ManagerConfig, path string, changed map[string]bool) error {
	var fc managerFile
	if err := decodeFile(path, &fc); err != nil {
		return err
	}

	s := newSetter(changed)
	s.setString("transport", fc.Transport, &cfg.Transport)
	s.setString("addr", fc.Address, &cfg.Address)
	if fc.BaudRate > 0 {
		if err := s.setInt("baud", fc.BaudRate, &cfg.BaudRate); err != nil {
			return err
		}
	}
	if fc.MaxFrameBytes > 0 {
		if err := s.setInt("max-frame-bytes", fc.MaxFrameBytes, &cfg.MaxFrameBytes); err != nil {
			return err
		}
	}
	if fc.HistorySize > 0 {
		cfg.HistorySize = fc.HistorySize
	}

	durations := []struct {
		flag  string
		value string
		dst   *time.Duration
	}{
		{"write-timeout", fc.WriteTimeout, &cfg.WriteTimeout},
		{"dial-timeout", fc.DialTimeout, &cfg.DialTimeout},
		{"poll", fc.PollInterval, &cfg.PollInterval},
		{"reply-timeout", fc.ReplyTimeout, &cfg.ReplyTimeout},
		{"reconnect-grace", fc.Reconnect.Grace, &cfg.Reconnect.Grace},
		{"reconnect-base", fc.Reconnect.Base, &cfg.Reconnect.Base},
		{"reconnect-max", fc.Reconnect.Max, &cfg.Reconnect.Max},
		{"reconnect-jitter", fc.Reconnect.JitterMax, &cfg.Reconnect.JitterMax},
	}
	for _, d := range durations {
		if err := s.setDuration(d.flag, d.value, d.dst); err != nil {
			return err
		}
	}

	if err := s.setBool("reconnect", fc.Reconnect.Enabled, &cfg.Reconnect.Enabled); err != nil {
		return err
	}
	if err := s.setInt("max-attempts", fc.Reconnect.MaxAttempts, &cfg.Reconnect.MaxAttempts); err != nil {
		return err
	}
	return applyLogFile(s, fc.Log, &cfg.Log)
}
