package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/younglifestyle/equiplink/common"
	"github.com/younglifestyle/equiplink/config"
	"github.com/younglifestyle/equiplink/equipment"
	"github.com/younglifestyle/equiplink/link"
)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	cfg := config.DefaultEquipmentConfig()
	var cfgPath string

	root := &cobra.Command{
		Use:   "equipment",
		Short: "Simulated process equipment speaking STX/ETX framed commands",
		Example: `  equipment --listen :5000 --http :8080
  equipment --config ./equipment.toml`,
		Version:      fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			changed := map[string]bool{}
			cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

			if cfgPath == "" {
				cfgPath = config.DefaultPath("equipment")
			}
			if cfgPath != "" && config.FileExists(cfgPath) {
				if err := config.ApplyEquipmentFile(&cfg, cfgPath, changed); err != nil {
					return fmt.Errorf("load config: %w", err)
				}
			} else {
				cfgPath = ""
			}
			if err := config.ApplyEquipmentEnv(&cfg, changed); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cfg, cfgPath)
		},
	}

	f := root.Flags()
	f.StringVar(&cfgPath, "config", "", "TOML config file (default ~/.equiplink/equipment.toml)")
	f.StringVar(&cfg.Listen, "listen", cfg.Listen, "TCP listen address")
	f.StringVar(&cfg.HTTPListen, "http", cfg.HTTPListen, "HTTP address for /ws and /metrics (disabled when empty)")
	f.IntVar(&cfg.MaxFrameBytes, "max-frame-bytes", cfg.MaxFrameBytes, "maximum frame body size")
	f.DurationVar(&cfg.WriteTimeout, "write-timeout", cfg.WriteTimeout, "per-frame write timeout")
	f.DurationVar(&cfg.ActiveInterval, "active-interval", cfg.ActiveInterval, "telemetry period in RUN and ERROR")
	f.DurationVar(&cfg.IdleInterval, "idle-interval", cfg.IdleInterval, "tick period in IDLE and STOP")
	f.IntVar(&cfg.Sim.OverspeedRPM, "overspeed-rpm", cfg.Sim.OverspeedRPM, "rpm above which RUN trips to ERROR")
	f.StringVar(&cfg.Log.File, "log-file", cfg.Log.File, "rotate logs into this file")
	f.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "debug or info")
	f.StringVar(&cfg.Log.Format, "log-format", cfg.Log.Format, "json or console")
	f.BoolVar(&cfg.Log.Console, "log-console", cfg.Log.Console, "also log to stderr when --log-file is set")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cfg config.EquipmentConfig, cfgPath string) error {
	logger := common.NewZapLogger(cfg.Log.ZapOptions())
	defer common.SyncLogger(logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := equipment.NewMetrics(reg)

	server := equipment.NewServer(cfg.ServerOptions(logger, metrics))
	if err := server.Start(); err != nil {
		return fmt.Errorf("start equipment: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var httpServer *http.Server
	if cfg.HTTPListen != "" {
		ln, err := net.Listen("tcp", cfg.HTTPListen)
		if err != nil {
			_ = server.Stop()
			return fmt.Errorf("listen http: %w", err)
		}
		ws := link.NewWebSocketListener(ln.Addr())

		mux := http.NewServeMux()
		mux.Handle("/ws", ws)
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		httpServer = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

		go func() {
			if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server failed", "error", err)
				cancel()
			}
		}()
		if err := server.Serve(ws); err != nil {
			_ = server.Stop()
			return err
		}
		logger.Info("http listening", "addr", ln.Addr().String(), "ws", "/ws", "metrics", "/metrics")
	}

	if cfgPath != "" {
		go func() {
			err := config.Watch(ctx, cfgPath, func(err error) {
				if err != nil {
					logger.Warn("config watch error", "error", err)
					return
				}
				p, err := config.LoadSimParams(cfgPath, server.Machine().Params())
				if err != nil {
					logger.Warn("config reload rejected", "path", cfgPath, "error", err)
					return
				}
				if err := server.UpdateParams(p); err != nil {
					logger.Warn("config reload rejected", "path", cfgPath, "error", err)
				}
			})
			if err != nil {
				logger.Warn("config watch disabled", "path", cfgPath, "error", err)
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")

	if httpServer != nil {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		_ = httpServer.Shutdown(sctx)
	}
	return server.Stop()
}
