package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/price-replay/internal/checkpoint"
	"github.com/rickgao/price-replay/internal/clock"
	"github.com/rickgao/price-replay/internal/config"
	"github.com/rickgao/price-replay/internal/dataset"
	"github.com/rickgao/price-replay/internal/delivery"
	"github.com/rickgao/price-replay/internal/indicator"
	"github.com/rickgao/price-replay/internal/monitor"
	"github.com/rickgao/price-replay/internal/scheduler"
	"github.com/rickgao/price-replay/internal/telemetry"
	"github.com/rickgao/price-replay/internal/version"
)

// Exit codes.
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to config file (REPLAY_* environment only when empty)")
	datasetPath := flag.String("dataset", "", "override dataset.path")
	endpoint := flag.String("endpoint", "", "override delivery.endpoint_url")
	speed := flag.Float64("speed", 0, "override clock.speed_factor")
	loop := flag.Bool("loop", false, "override pacing.loop")
	dryRun := flag.Bool("dry-run", false, "encode and log points without sending them")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return exitOK
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "replayer:", err)
		return exitUsage
	}

	// Flags win over file and environment
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "dataset":
			cfg.Dataset.Path = *datasetPath
		case "endpoint":
			cfg.Delivery.EndpointURL = *endpoint
		case "speed":
			cfg.Clock.SpeedFactor = speed
		case "loop":
			cfg.Pacing.Loop = *loop
		case "dry-run":
			cfg.Delivery.DryRun = *dryRun
		}
	})

	if err := cfg.Finalize(); err != nil {
		fmt.Fprintln(os.Stderr, "replayer:", err)
		return exitUsage
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	logger.Info("starting replayer",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
		"dataset", cfg.Dataset.Path,
		"mode", cfg.Clock.Mode,
		"speed", *cfg.Clock.SpeedFactor,
		"loop", cfg.Pacing.Loop,
		"dry_run", cfg.Delivery.DryRun,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	code := replay(ctx, cfg, logger)
	logger.Info("replayer stopped", "exit_code", code)
	return code
}

func loadConfig(path string) (*config.ReplayConfig, error) {
	if path == "" {
		return config.FromEnv()
	}
	return config.Load(path)
}

// replay wires the pipeline, runs it and maps the outcome to an exit code.
func replay(ctx context.Context, cfg *config.ReplayConfig, logger *slog.Logger) int {
	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		logger.Error("failed to set up tracing", "error", err)
		return exitFailure
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	src, err := openSource(ctx, cfg.Dataset, logger)
	if err != nil {
		return exitCode(logger, "failed to open dataset", err)
	}

	clk, err := clock.New(clock.Config{
		Mode:  clock.Mode(cfg.Clock.Mode),
		Speed: *cfg.Clock.SpeedFactor,
	})
	if err != nil {
		return exitCode(logger, "invalid clock", err)
	}

	client := delivery.NewClient(cfg.Delivery.EndpointURL, cfg.Delivery.AuthToken,
		delivery.WithLogger(logger),
		delivery.WithTimeout(cfg.Delivery.Timeout),
		delivery.WithRetries(cfg.Delivery.RetryMaxAttempts, cfg.Delivery.RetryBackoffBase()),
		delivery.WithGzip(cfg.Delivery.Gzip),
		delivery.WithDryRun(cfg.Delivery.DryRun),
		delivery.WithPoint(cfg.Delivery.Measurement, cfg.Delivery.Tags),
	)

	store, err := checkpoint.Open(ctx, cfg.Checkpoint, logger)
	if err != nil {
		return exitCode(logger, "failed to open checkpoint", err)
	}
	defer store.Close()

	opts := []scheduler.Option{
		scheduler.WithLogger(logger),
		scheduler.WithCheckpoint(store),
		scheduler.WithOrigin(cfg.Clock.Start),
	}
	if cfg.Indicators.Enabled {
		opts = append(opts, scheduler.WithIndicators(indicator.NewWindow(cfg.Indicators.Window)))
	}

	var mon *monitor.Server
	if cfg.Monitor.Enabled {
		mon = monitor.NewServer(cfg.Monitor, nil, logger)
		opts = append(opts, scheduler.WithObserver(mon))
	}

	sched, err := scheduler.New(scheduler.ConfigFrom(cfg.Pacing), src, clk, client, opts...)
	if err != nil {
		return exitCode(logger, "invalid pacing", err)
	}

	if mon != nil {
		mon.SetStats(sched)
		if err := mon.Start(ctx); err != nil {
			return exitCode(logger, "failed to start monitor", err)
		}
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	var summary scheduler.Summary
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		defer cancelRun()
		var err error
		summary, err = sched.Run(gctx)
		return err
	})
	if mon != nil {
		g.Go(func() error {
			<-gctx.Done()
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return mon.Stop(stopCtx)
		})
	}
	err = g.Wait()

	logger.Info("replay summary", "summary", summary)

	if err != nil && errors.Is(err, context.Canceled) && ctx.Err() != nil {
		logger.Info("replay interrupted")
		return exitOK
	}
	if err != nil {
		return exitCode(logger, "replay failed", err)
	}
	return exitOK
}

// openSource returns a streaming source, or a preloaded and re-sorted one when
// dataset.preload is set.
func openSource(ctx context.Context, cfg config.DatasetConfig, logger *slog.Logger) (dataset.Source, error) {
	opts := dataset.Options{
		Schema: dataset.Schema{
			TimestampColumn: cfg.TimestampColumn,
			PriceColumn:     cfg.PriceColumn,
			Optional:        cfg.OptionalColumns,
			Extra:           cfg.ExtraColumns,
		},
		MaxSkipRatio:   *cfg.MaxSkipRatio,
		SkipSampleRows: int64(cfg.SkipSampleRows),
		Logger:         logger,
	}

	if !cfg.Preload {
		return dataset.NewFileSource(cfg.Path, opts), nil
	}

	start := time.Now()
	ds, stats, err := dataset.Load(ctx, cfg.Path, opts)
	if err != nil {
		return nil, err
	}
	logger.Info("dataset preloaded",
		"path", cfg.Path,
		"records", len(ds),
		"skipped", stats.Skipped,
		"duration", time.Since(start),
	)
	return dataset.NewMemorySource(ds, stats), nil
}

// exitCode logs err with the details each fatal error type carries and picks
// the exit code.
func exitCode(logger *slog.Logger, msg string, err error) int {
	var (
		invalidErr *config.InvalidConfigError
		corruptErr *dataset.DatasetCorruptError
		behindErr  *scheduler.FallBehindError
	)

	switch {
	case errors.As(err, &invalidErr):
		logger.Error(msg, "field", invalidErr.Field, "error", err)
		return exitUsage
	case errors.As(err, &corruptErr):
		logger.Error(msg,
			"path", corruptErr.Path,
			"row", corruptErr.Offset,
			"read", corruptErr.Read,
			"skipped", corruptErr.Skipped,
			"error", err,
		)
	case errors.As(err, &behindErr):
		logger.Error(msg,
			"seq", behindErr.Seq,
			"row", behindErr.Offset,
			"lag", behindErr.Lag,
			"max_lag", behindErr.MaxLag,
			"error", err,
		)
	default:
		logger.Error(msg, "error", err)
	}
	return exitFailure
}

// newLogger builds the process logger from the log config.
func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(cfg.Level))); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
