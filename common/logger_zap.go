package common

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ZapLoggerOptions configures the zap-based logger.
type ZapLoggerOptions struct {
	// LogFile is the path to the log file.
	// If empty, logs are written to Output.
	LogFile string

	// MaxSize is the maximum size in megabytes of the log file before it gets
	// rotated. It defaults to 100 megabytes.
	MaxSize int

	// MaxBackups is the maximum number of old log files to retain.
	MaxBackups int

	// MaxAge is the maximum number of days to retain old log files.
	MaxAge int

	// Compress gzips rotated files.
	Compress bool

	// DebugLevel enables debug logging if true. Otherwise, Info level is used.
	DebugLevel bool

	// Console, if true, writes logs to Output in addition to the log file.
	Console bool

	// Format is "json" (default) or "console".
	Format string

	// Output is the console destination. Defaults to os.Stderr.
	Output io.Writer
}

// NewZapLogger creates a Logger backed by uber-go/zap with optional file rotation.
func NewZapLogger(opts ZapLoggerOptions) Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	var ws zapcore.WriteSyncer
	if opts.LogFile != "" {
		lj := &lumberjack.Logger{
			Filename:   opts.LogFile,
			MaxSize:    opts.MaxSize,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAge,
			Compress:   opts.Compress,
		}
		if opts.Console {
			ws = zapcore.NewMultiWriteSyncer(zapcore.AddSync(out), zapcore.AddSync(lj))
		} else {
			ws = zapcore.AddSync(lj)
		}
	} else {
		ws = zapcore.AddSync(out)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var encoder zapcore.Encoder
	if opts.Format == "console" {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	level := zap.InfoLevel
	if opts.DebugLevel {
		level = zap.DebugLevel
	}

	logger := zap.New(zapcore.NewCore(encoder, ws, level))
	return &zapAdapter{s: logger.Sugar()}
}

// zapAdapter adapts zap.SugaredLogger to our Logger interface.
type zapAdapter struct {
	s *zap.SugaredLogger
}

func (z *zapAdapter) Debug(msg string, kv ...interface{}) {
	z.s.Debugw(msg, kv...)
}

func (z *zapAdapter) Info(msg string, kv ...interface{}) {
	z.s.Infow(msg, kv...)
}

func (z *zapAdapter) Warn(msg string, kv ...interface{}) {
	z.s.Warnw(msg, kv...)
}

func (z *zapAdapter) Error(msg string, kv ...interface{}) {
	z.s.Errorw(msg, kv...)
}

// Sync flushes buffered entries.
func (z *zapAdapter) Sync() error {
	return z.s.Sync()
}

// SyncLogger flushes l if it buffers output.
func SyncLogger(l Logger) error {
	if s, ok := l.(interface{ Sync() error }); ok {
		return s.Sync()
	}
	return nil
}
