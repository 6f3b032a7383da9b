package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/studioflow-backend/api/controllers"
	"github.com/angelmondragon/studioflow-backend/internal/app"
	embeddingconsumer "github.com/angelmondragon/studioflow-backend/internal/embeddings/consumer"
	pipelineconsumer "github.com/angelmondragon/studioflow-backend/internal/pipeline/consumer"
	"github.com/angelmondragon/studioflow-backend/pkg/config"
	"github.com/angelmondragon/studioflow-backend/pkg/idempotency"
	"github.com/angelmondragon/studioflow-backend/pkg/instance"
	"github.com/angelmondragon/studioflow-backend/pkg/logger"
	"github.com/angelmondragon/studioflow-backend/pkg/migrate"
)

// processedTTL matches the longest Pub/Sub message retention.
const processedTTL = 7 * 24 * time.Hour

func main() {
	logg := logger.New(logger.Options{ServiceName: "worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = "worker"

	logg = logger.New(logger.Options{
		ServiceName: "worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	a, err := app.New(ctx, cfg, logg, app.Options{Broker: true, Registerer: registry})
	if err != nil {
		logg.Error(ctx, "failed to bootstrap worker", err)
		os.Exit(1)
	}
	defer func() {
		if err := a.Close(); err != nil {
			logg.Error(context.Background(), "error closing worker clients", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, a.DB); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	if err := a.Pipeline.CheckAckExtension(cfg.PubSub.MaxExtension); err != nil {
		logg.Error(ctx, "invalid pubsub lease settings", err)
		os.Exit(1)
	}

	tracker, err := idempotency.NewManager(a.Redis, processedTTL)
	if err != nil {
		logg.Error(ctx, "failed to create idempotency manager", err)
		os.Exit(1)
	}
	stageConsumer, err := pipelineconsumer.NewConsumer(a.Pipeline, tracker, a.PubSub.PipelineSubscription(), logg)
	if err != nil {
		logg.Error(ctx, "failed to create pipeline consumer", err)
		os.Exit(1)
	}
	jobConsumer, err := embeddingconsumer.NewConsumer(a.Embeddings, a.Backfill, a.PubSub.EmbeddingSubscription(), logg)
	if err != nil {
		logg.Error(ctx, "failed to create embedding consumer", err)
		os.Exit(1)
	}

	deps := map[string]pinger{}
	ready := map[string]controllers.Pinger{}
	for name, p := range a.Pingers() {
		deps[name] = p
		ready[name] = p
	}

	service, err := NewService(ServiceParams{
		Logger:            logg,
		Dependencies:      deps,
		PipelineConsumer:  stageConsumer,
		EmbeddingConsumer: jobConsumer,
		Server: &http.Server{
			Addr:    ":" + cfg.App.Port,
			Handler: opsRouter(cfg, logg, registry, ready),
		},
	})
	if err != nil {
		logg.Error(ctx, "failed to create worker service", err)
		os.Exit(1)
	}

	logg.Info(ctx, "starting worker")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "worker shutting down gracefully")
}

func opsRouter(cfg *config.Config, logg *logger.Logger, gatherer prometheus.Gatherer, ready map[string]controllers.Pinger) http.Handler {
	r := chi.NewRouter()
	r.Get("/health/live", controllers.HealthLive(cfg))
	r.Get("/health/ready", controllers.HealthReady(cfg, logg, ready))
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return r
}
