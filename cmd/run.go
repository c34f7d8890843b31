package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"ch-ferry/config"
	"ch-ferry/database"
	"ch-ferry/logger"
	"ch-ferry/metrics"
	"ch-ferry/processor"
)

var errRunFailed = errors.New("one or more tables failed to sync")

func runSync(ctx context.Context, opts *options) error {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.FilterTasks(opts.tables); err != nil {
		return err
	}
	if opts.verbose {
		cfg.Log.Level = "debug"
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector := metrics.NewCollector()
	if cfg.Metrics.Listen != "" {
		srv := serveMetrics(cfg.Metrics, collector, log)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Warn("metrics server shutdown failed", zap.Error(err))
			}
		}()
	}

	manager := database.NewConnectionManager(cfg, log)
	defer func() {
		if err := manager.CloseAll(); err != nil {
			log.Warn("failed to close connections", zap.Error(err))
		}
	}()

	log.Info("loaded configuration",
		zap.String("path", opts.configPath),
		zap.String("source", cfg.Source.Type),
		zap.Int("tasks", len(cfg.ActiveTasks())))

	proc := processor.NewProcessor(manager, cfg, log, collector)
	if cfg.Sync.Schedule == "" || opts.once {
		return runOnce(ctx, proc)
	}
	return runScheduled(ctx, cfg.Sync.Schedule, proc, log)
}

func runOnce(ctx context.Context, proc *processor.Processor) error {
	report, err := proc.Run(ctx)
	if err != nil {
		return err
	}
	if !report.OK() {
		return fmt.Errorf("%w: %s", errRunFailed, strings.Join(report.Failed(), ", "))
	}
	return nil
}

// runScheduled re-syncs on the cron schedule until the context is cancelled. A run still
// in progress when the next tick fires makes that tick a no-op.
func runScheduled(ctx context.Context, schedule string, proc *processor.Processor, log *zap.Logger) error {
	cronLogger := cron.PrintfLogger(zap.NewStdLog(log.Named("cron")))
	c := cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)

	_, err := c.AddFunc(schedule, func() {
		if err := runOnce(ctx, proc); err != nil {
			log.Error("scheduled run failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}

	log.Info("waiting for scheduled runs", zap.String("schedule", schedule))
	c.Start()
	<-ctx.Done()

	log.Info("shutting down scheduler")
	<-c.Stop().Done()
	return nil
}

func serveMetrics(cfg config.MetricsConfig, collector *metrics.Collector, log *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, collector.Handler())

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("metrics endpoint listening", zap.String("addr", cfg.Listen), zap.String("path", cfg.Path))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", zap.Error(err))
		}
	}()
	return srv
}
