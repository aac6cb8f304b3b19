// Command callscribe corrects call-center transcriptions and decides when
// the speaker should be asked to clarify.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/callscribe/internal/app"
	"github.com/MrWong99/callscribe/internal/batch"
	"github.com/MrWong99/callscribe/internal/config"
	"github.com/MrWong99/callscribe/internal/observe"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// cli carries the state shared by all subcommands.
type cli struct {
	configPath string
	level      slog.LevelVar
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "callscribe",
		Short:         "Transcription correction and clarification engine",
		SilenceUsage:  true,
		Version:       version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.load()
		},
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "config.yaml", "path to the YAML configuration file")

	root.AddCommand(
		c.serveCmd(),
		c.batchCmd(),
		c.learnCmd(),
	)
	return root
}

// load reads the config and installs the default logger.
func (c *cli) load() error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config file %q not found", c.configPath)
		}
		return err
	}
	c.cfg = cfg
	c.level.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &c.level})))
	return nil
}

// open builds the providers and the application. The returned cleanup must
// be called once the application is no longer needed.
func (c *cli) open(ctx context.Context, opts ...app.Option) (*app.App, func(), error) {
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, closers, err := buildProviders(c.cfg, reg)
	if err != nil {
		return nil, nil, err
	}
	a, err := app.New(ctx, c.cfg, providers, opts...)
	if err != nil {
		closeAll(closers)
		return nil, nil, err
	}
	cleanup := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := a.Shutdown(shutdownCtx); err != nil {
			slog.Warn("shutdown error", "err", err)
		}
		closeAll(closers)
	}
	return a, cleanup, nil
}

// ── serve ─────────────────────────────────────────────────────────────────────

func (c *cli) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the admin HTTP server (/healthz, /readyz, /metrics)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			tel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
			if err != nil {
				return fmt.Errorf("init telemetry: %w", err)
			}
			defer func() {
				if err := tel.Shutdown(context.Background()); err != nil {
					slog.Warn("telemetry shutdown error", "err", err)
				}
			}()
			metrics, err := observe.NewMetrics(tel.MeterProvider)
			if err != nil {
				return fmt.Errorf("init metrics: %w", err)
			}

			a, cleanup, err := c.open(ctx, app.WithMetrics(metrics))
			if err != nil {
				return err
			}
			defer cleanup()

			watcher, err := config.NewWatcher(c.configPath, c.onConfigChange)
			if err != nil {
				slog.Warn("config hot reload disabled", "err", err)
			} else {
				defer watcher.Stop()
			}

			slog.Info("callscribe serving",
				"version", version,
				"config", c.configPath,
				"listen_addr", c.cfg.Server.ListenAddr,
			)
			return a.Serve(ctx, tel.Handler())
		},
	}
}

// onConfigChange applies the log level and reports sections that need a
// restart.
func (c *cli) onConfigChange(ch config.Change) {
	d := ch.Diff
	if d.LogLevelChanged {
		c.level.Set(d.NewLogLevel.Level())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config sections changed, restart to apply", "sections", d.RestartRequired)
	}
}

// ── batch ─────────────────────────────────────────────────────────────────────

func (c *cli) batchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Reprocess stored recordings through the offline pipeline",
	}
	var concurrency int
	cmd.PersistentFlags().IntVar(&concurrency, "concurrency", 0, "recordings processed in parallel (default from batch.max_concurrent)")

	workers := func() int {
		if concurrency > 0 {
			return concurrency
		}
		return c.cfg.Batch.Concurrency()
	}

	var limit int
	unprocessed := &cobra.Command{
		Use:   "unprocessed",
		Short: "Process the oldest recordings not yet processed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit <= 0 {
				limit = c.cfg.Batch.RecordingLimit()
			}
			return c.runBatch(cmd, func(ctx context.Context, a *app.App) (any, error) {
				rp, err := a.Batch()
				if err != nil {
					return nil, err
				}
				stats, err := rp.ProcessUnprocessed(ctx, limit, workers())
				return orNil(stats), err
			})
		},
	}
	unprocessed.Flags().IntVar(&limit, "limit", 0, "maximum recordings to process (default from batch.limit)")

	var from, to string
	dateRange := &cobra.Command{
		Use:   "range",
		Short: "Process recordings created in [from, to)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			start, err := parseTime(from)
			if err != nil {
				return fmt.Errorf("--from: %w", err)
			}
			end, err := parseTime(to)
			if err != nil {
				return fmt.Errorf("--to: %w", err)
			}
			return c.runBatch(cmd, func(ctx context.Context, a *app.App) (any, error) {
				rp, err := a.Batch()
				if err != nil {
					return nil, err
				}
				stats, err := rp.ProcessByDateRange(ctx, start, end, workers())
				return orNil(stats), err
			})
		},
	}
	dateRange.Flags().StringVar(&from, "from", "", "inclusive start (RFC 3339 or YYYY-MM-DD)")
	dateRange.Flags().StringVar(&to, "to", "", "exclusive end (RFC 3339 or YYYY-MM-DD)")
	_ = dateRange.MarkFlagRequired("from")
	_ = dateRange.MarkFlagRequired("to")

	var reprocess bool
	single := &cobra.Command{
		Use:   "recording <id>...",
		Short: "Process the given recordings",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runBatch(cmd, func(ctx context.Context, a *app.App) (any, error) {
				rp, err := a.Batch()
				if err != nil {
					return nil, err
				}
				if len(args) == 1 {
					m, err := rp.ProcessRecording(ctx, args[0], reprocess)
					if m == nil {
						return nil, err
					}
					return m, err
				}
				var stats *batch.Stats
				if reprocess {
					stats, err = rp.Reprocess(ctx, args, workers())
				} else {
					stats, err = rp.ProcessBatch(ctx, args, workers())
				}
				return orNil(stats), err
			})
		},
	}
	single.Flags().BoolVar(&reprocess, "reprocess", false, "process again even if already processed")

	cmd.AddCommand(unprocessed, dateRange, single)
	return cmd
}

// runBatch opens the application, runs fn and prints its result as JSON on
// stdout. A partial result is printed even when fn fails.
func (c *cli) runBatch(cmd *cobra.Command, fn func(context.Context, *app.App) (any, error)) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, cleanup, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	out, runErr := fn(ctx, a)
	if out != nil {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return errors.Join(runErr, fmt.Errorf("write result: %w", err))
		}
	}
	return runErr
}

// orNil keeps a nil *batch.Stats from becoming a non-nil any.
func orNil(s *batch.Stats) any {
	if s == nil {
		return nil
	}
	return s
}

// parseTime accepts RFC 3339 timestamps and bare dates (midnight UTC).
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, s)
}

// ── learn ─────────────────────────────────────────────────────────────────────

func (c *cli) learnCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "learn <original> <corrected>",
		Short: "Teach the exact tier a new correction pattern",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			if err := a.Learn(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			got, _ := a.Corrector().Lookup(args[0])
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", args[0], got)
			return nil
		},
	}
}
