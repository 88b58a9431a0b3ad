package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/younglifestyle/equiplink/common"
	"github.com/younglifestyle/equiplink/config"
	"github.com/younglifestyle/equiplink/manager"
	"github.com/younglifestyle/equiplink/packet"
)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	cfg := config.DefaultManagerConfig()
	var cfgPath string

	root := &cobra.Command{
		Use:          "manager",
		Short:        "Manager client for STX/ETX framed equipment",
		Version:      fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage: true,
	}

	// load merges file and environment under the flags set on cmd.
	load := func(cmd *cobra.Command) error {
		changed := map[string]bool{}
		cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

		path := cfgPath
		if path == "" {
			path = config.DefaultPath("manager")
		}
		if path != "" && config.FileExists(path) {
			if err := config.ApplyManagerFile(&cfg, path, changed); err != nil {
				return fmt.Errorf("load config: %w", err)
			}
		}
		if err := config.ApplyManagerEnv(&cfg, changed); err != nil {
			return err
		}
		return cfg.Validate()
	}

	pf := root.PersistentFlags()
	pf.StringVar(&cfgPath, "config", "", "TOML config file (default ~/.equiplink/manager.toml)")
	pf.StringVar(&cfg.Transport, "transport", cfg.Transport, "tcp, ws or serial")
	pf.StringVar(&cfg.Address, "addr", cfg.Address, "host:port, ws:// URL or serial device")
	pf.IntVar(&cfg.BaudRate, "baud", cfg.BaudRate, "serial baud rate")
	pf.DurationVar(&cfg.DialTimeout, "dial-timeout", cfg.DialTimeout, "connect timeout")
	pf.DurationVar(&cfg.ReplyTimeout, "reply-timeout", cfg.ReplyTimeout, "reply timeout")
	pf.StringVar(&cfg.Log.File, "log-file", cfg.Log.File, "rotate logs into this file")
	pf.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "debug or info")
	pf.StringVar(&cfg.Log.Format, "log-format", cfg.Log.Format, "json or console")

	monitor := &cobra.Command{
		Use:   "monitor",
		Short: "Stay connected, print traffic and forward commands typed on stdin",
		Long: `Stay connected, print traffic and forward commands typed on stdin.

Lines are sent as commands (STATUS, START|A|100, STOP, RESET, FORCEERR).
Lines starting with ':' are local: :shadow, :summary, :state, :quit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := load(cmd); err != nil {
				return err
			}
			return runMonitor(cfg, os.Stdin, cmd.OutOrStdout())
		},
	}
	mf := monitor.Flags()
	mf.DurationVar(&cfg.PollInterval, "poll", cfg.PollInterval, "STATUS poll period (0 disables)")
	mf.BoolVar(&cfg.Reconnect.Enabled, "reconnect", cfg.Reconnect.Enabled, "reconnect after unexpected disconnects")
	mf.IntVar(&cfg.Reconnect.MaxAttempts, "max-attempts", cfg.Reconnect.MaxAttempts, "reconnect attempts before giving up (0 = unlimited)")

	send := &cobra.Command{
		Use:   "send COMMAND [PARAMS...]",
		Short: "Send one command and print the reply",
		Example: `  manager send STATUS
  manager send START A 100
  manager send --transport ws --addr ws://127.0.0.1:8080/ws STOP`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := load(cmd); err != nil {
				return err
			}
			command, err := packet.Parse(strings.Join(args, packet.Separator))
			if err != nil {
				return err
			}
			return runSend(cfg, command, cmd.OutOrStdout())
		},
	}

	root.AddCommand(monitor, send)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg config.ManagerConfig) common.Logger {
	return common.NewZapLogger(cfg.Log.ZapOptions())
}

func runSend(cfg config.ManagerConfig, cmd packet.Command, out io.Writer) error {
	logger := newLogger(cfg)
	defer common.SyncLogger(logger)

	cfg.Reconnect.Enabled = false
	cfg.PollInterval = 0
	opts, err := cfg.ClientOptions(logger)
	if err != nil {
		return err
	}

	client := manager.NewClient(opts)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect %s: %w", cfg.Address, err)
	}
	defer client.Disconnect("done")

	resp, err := client.SendAndWait(ctx, cmd)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, resp.Raw)
	if resp.Kind == packet.KindErr {
		return fmt.Errorf("%s refused: %s", resp.Command, resp.Reason())
	}
	return nil
}

func runMonitor(cfg config.ManagerConfig, in io.Reader, out io.Writer) error {
	logger := newLogger(cfg)
	defer common.SyncLogger(logger)

	opts, err := cfg.ClientOptions(logger)
	if err != nil {
		return err
	}
	client := manager.NewClient(opts)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	ev := client.Events()
	ev.StateChanged.AddCallback(func(data map[string]interface{}) {
		fmt.Fprintf(out, "# %v -> %v %v\n", data["from"], data["to"], data["reason"])
	})
	ev.Response.AddCallback(func(data map[string]interface{}) {
		fmt.Fprintln(out, data["response"].(packet.Response).Raw)
	})
	ev.Telemetry.AddCallback(func(data map[string]interface{}) {
		fmt.Fprintln(out, data["telemetry"].(packet.Telemetry).Body())
	})
	ev.Alarm.AddCallback(func(data map[string]interface{}) {
		fmt.Fprintln(out, packet.Alarm(data["reason"].(string)))
	})
	ev.ReconnectFailed.AddCallback(func(data map[string]interface{}) {
		fmt.Fprintf(out, "# gave up after %v attempts: %v\n", data["attempts"], data["error"])
		cancel()
	})

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect %s: %w", cfg.Address, err)
	}
	defer client.Disconnect("monitor closed")

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- strings.TrimSpace(sc.Text())
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if line == "" {
				continue
			}
			if strings.HasPrefix(line, ":") {
				if quit := local(client, line, out); quit {
					return nil
				}
				continue
			}
			command, err := packet.Parse(line)
			if err != nil {
				fmt.Fprintf(out, "# %v\n", err)
				continue
			}
			if err := client.Send(command); err != nil {
				if errors.Is(err, manager.ErrNotConnected) {
					fmt.Fprintf(out, "# not connected (%s)\n", client.State())
					continue
				}
				fmt.Fprintf(out, "# send failed: %v\n", err)
			}
		}
	}
}

// local runs a ':' command and reports whether the monitor should exit.
func local(client *manager.Client, line string, out io.Writer) bool {
	switch strings.ToLower(line) {
	case ":quit", ":q":
		return true
	case ":state":
		fmt.Fprintf(out, "# %s attempts=%d\n", client.State(), client.Attempts())
	case ":shadow":
		s := client.Shadow().Snapshot()
		fmt.Fprintf(out, "# %s stale=%t observed=%s\n", s.StatusReport.Body(), s.Stale, s.ObservedAt.Format(packet.ClockLayout))
	case ":summary":
		sum := client.History().Summary()
		fmt.Fprintf(out, "# samples=%d rpm=%d..%d avg=%.0f max_temp=%.1f avg_pressure=%.2f\n",
			sum.Count, sum.MinRPM, sum.MaxRPM, sum.AvgRPM, sum.MaxTemperature, sum.AvgPressure)
	default:
		fmt.Fprintf(out, "# unknown local command %s\n", line)
	}
	return false
}
