package config

import "os"

// EnvPrefix prefixes every environment variable read by this package.
const EnvPrefix = "EQUIPLINK_"

func env(name string) string {
	return os.Getenv(EnvPrefix + name)
}

func applyLogEnv(s *setter, cfg *LogConfig) error {
	s.setString("log-file", env("LOG_FILE"), &cfg.File)
	s.setString("log-level", env("LOG_LEVEL"), &cfg.Level)
	s.setString("log-format", env("LOG_FORMAT"), &cfg.Format)
	return s.setBool("log-console", env("LOG_CONSOLE"), &cfg.Console)
}

// ApplyEquipmentEnv applies EQUIPLINK_* variables to cfg. Explicitly set
// flags win.
func ApplyEquipmentEnv(cfg *EquipmentConfig, changed map[string]bool) error {
	s := newSetter(changed)

	s.setString("listen", env("LISTEN"), &cfg.Listen)
	s.setString("http", env("HTTP_LISTEN"), &cfg.HTTPListen)
	if err := s.setInt("max-frame-bytes", env("MAX_FRAME_BYTES"), &cfg.MaxFrameBytes); err != nil {
		return err
	}
	if err := s.setDuration("write-timeout", env("WRITE_TIMEOUT"), &cfg.WriteTimeout); err != nil {
		return err
	}
	if err := s.setDuration("active-interval", env("ACTIVE_INTERVAL"), &cfg.ActiveInterval); err != nil {
		return err
	}
	if err := s.setDuration("idle-interval", env("IDLE_INTERVAL"), &cfg.IdleInterval); err != nil {
		return err
	}
	if err := s.setInt("overspeed-rpm", env("OVERSPEED_RPM"), &cfg.Sim.OverspeedRPM); err != nil {
		return err
	}
	return applyLogEnv(s, &cfg.Log)
}

// ApplyManagerEnv applies EQUIPLINK_* variables to cfg. Explicitly set
// flags win.
func ApplyManagerEnv(cfg *ManagerConfig, changed map[string]bool) error {
	s := newSetter(changed)

	s.setString("transport", env("TRANSPORT"), &cfg.Transport)
	s.setString("addr", env("ADDR"), &cfg.Address)
	if err := s.setInt("baud", env("BAUD"), &cfg.BaudRate); err != nil {
		return err
	}
	if err := s.setInt("max-frame-bytes", env("MAX_FRAME_BYTES"), &cfg.MaxFrameBytes); err != nil {
		return err
	}
	if err := s.setDuration("dial-timeout", env("DIAL_TIMEOUT"), &cfg.DialTimeout); err != nil {
		return err
	}
	if err := s.setDuration("poll", env("POLL_INTERVAL"), &cfg.PollInterval); err != nil {
		return err
	}
	if err := s.setDuration("reply-timeout", env("REPLY_TIMEOUT"), &cfg.ReplyTimeout); err != nil {
		return err
	}
	if err := s.setBool("reconnect", env("RECONNECT"), &cfg.Reconnect.Enabled); err != nil {
		return err
	}
	if err := s.setInt("max-attempts", env("MAX_ATTEMPTS"), &cfg.Reconnect.MaxAttempts); err != nil {
		return err
	}
	return applyLogEnv(s, &cfg.Log)
}
