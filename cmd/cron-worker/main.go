package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"strings"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/studioflow-backend/internal/app"
	"github.com/angelmondragon/studioflow-backend/internal/cron"
	"github.com/angelmondragon/studioflow-backend/pkg/config"
	"github.com/angelmondragon/studioflow-backend/pkg/logger"
	"github.com/angelmondragon/studioflow-backend/pkg/metrics"
	"github.com/angelmondragon/studioflow-backend/pkg/migrate"
	"github.com/angelmondragon/studioflow-backend/pkg/redis"
)

func main() {
	once := flag.Bool("once", false, "run a single cycle and exit")
	only := flag.String("job", "", "comma separated job names to run (default all)")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	a, err := app.New(context.Background(), cfg, logg, app.Options{Broker: true, Registerer: prometheus.DefaultRegisterer})
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap cron worker", err)
		os.Exit(1)
	}
	defer func() {
		if err := a.Close(); err != nil {
			logg.Error(context.Background(), "error closing cron worker clients", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, a.DB); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	metricsCollector := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	lock, err := redis.NewLock(a.Redis, a.Redis.LockKey("cron-worker", envOrLocal(cfg.App.Env)), cfg.Cron.Interval)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	sweep, err := cron.NewEmbeddingBackfillJob(cron.EmbeddingBackfillJobParams{
		Logger:        logg,
		Backfill:      a.Backfill,
		Organizations: cfg.Cron.BackfillSweepSize,
		Queued:        a.Queue != nil,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create backfill sweep job", err)
		os.Exit(1)
	}
	cleanup, err := cron.NewWorkDirCleanupJob(cron.WorkDirCleanupJobParams{
		Logger:    logg,
		Root:      cfg.Pipeline.WorkDir,
		Retention: cfg.Cron.WorkDirRetention,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create workdir cleanup job", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:     logg,
		Registry:   cron.NewRegistry(sweep, cleanup),
		Lock:       lock,
		Metrics:    metricsCollector,
		Interval:   cfg.Cron.Interval,
		JobTimeout: cfg.Cron.JobTimeout,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	if *once {
		results, err := service.RunOnce(ctx, jobNames(*only)...)
		for _, res := range results {
			logg.Info(logg.WithFields(ctx, map[string]any{
				"job":         res.Name,
				"duration_ms": res.Duration.Milliseconds(),
				"failed":      res.Err != nil,
			}), "job result")
		}
		if err != nil {
			logg.Error(ctx, "cron cycle failed", err)
			os.Exit(1)
		}
		return
	}
	if *only != "" {
		logg.Warn(ctx, "-job is only honored together with -once")
	}

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func envOrLocal(env string) string {
	if env == "" {
		return "local"
	}
	return env
}

func jobNames(raw string) []string {
	var names []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			names = append(names, part)
		}
	}
	return names
}
