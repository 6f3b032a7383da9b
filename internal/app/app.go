// Package app assembles the pipeline, embedding, backfill and search services
// shared by the api, worker and CLI binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/angelmondragon/studioflow-backend/internal/backfill"
	"github.com/angelmondragon/studioflow-backend/internal/embeddings"
	"github.com/angelmondragon/studioflow-backend/internal/media"
	"github.com/angelmondragon/studioflow-backend/internal/pipeline"
	"github.com/angelmondragon/studioflow-backend/internal/pipeline/stages"
	"github.com/angelmondragon/studioflow-backend/internal/search"
	"github.com/angelmondragon/studioflow-backend/internal/summarizer"
	"github.com/angelmondragon/studioflow-backend/internal/transcode"
	"github.com/angelmondragon/studioflow-backend/internal/transcribe"
	"github.com/angelmondragon/studioflow-backend/pkg/bigquery"
	"github.com/angelmondragon/studioflow-backend/pkg/config"
	"github.com/angelmondragon/studioflow-backend/pkg/db"
	"github.com/angelmondragon/studioflow-backend/pkg/logger"
	"github.com/angelmondragon/studioflow-backend/pkg/metrics"
	"github.com/angelmondragon/studioflow-backend/pkg/pubsub"
	"github.com/angelmondragon/studioflow-backend/pkg/redis"
	"github.com/angelmondragon/studioflow-backend/pkg/storage"
)

// Options selects how much of the graph is connected to real brokers.
type Options struct {
	// Broker publishes stage tasks and embedding jobs to Pub/Sub. Without it
	// stages run inline and embeddings are generated in the caller.
	Broker bool
	// Registerer receives the prometheus collectors; nil disables metrics.
	Registerer prometheus.Registerer
}

// App holds the clients and services of one process.
type App struct {
	Config *config.Config
	Logger *logger.Logger

	DB       *db.Client
	Redis    *redis.Client
	PubSub   *pubsub.Client
	BigQuery *bigquery.Client
	Store    storage.MediaStore

	Media      *media.Repository
	Runs       *pipeline.Repository
	Strategy   *embeddings.Strategy
	Pipeline   *pipeline.Orchestrator
	Embeddings *embeddings.Service
	Queue      *embeddings.JobQueue
	Backfill   *backfill.Loop
	Runner     *backfill.Runner
	Search     *search.Engine

	StageMetrics     *metrics.StageMetrics
	EmbeddingMetrics *metrics.EmbeddingMetrics

	closers []func() error
}

// New connects every dependency and wires the services. On error the
// clients opened so far are closed.
func New(ctx context.Context, cfg *config.Config, logg *logger.Logger, opts Options) (a *App, err error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	a = &App{Config: cfg, Logger: logg}
	defer func() {
		if err != nil {
			_ = a.Close()
			a = nil
		}
	}()

	if err = a.connect(ctx, opts); err != nil {
		return a, err
	}
	a.StageMetrics = metrics.NewStageMetrics(opts.Registerer)
	a.EmbeddingMetrics = metrics.NewEmbeddingMetrics(opts.Registerer)
	a.Media = media.NewRepository(a.DB.DB())
	a.Runs = pipeline.NewRepository(a.DB.DB())

	if err = a.wireEmbeddings(ctx, opts); err != nil {
		return a, err
	}
	if err = a.wirePipeline(opts); err != nil {
		return a, err
	}
	return a, nil
}

func (a *App) connect(ctx context.Context, opts Options) error {
	cfg, logg := a.Config, a.Logger

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("bootstrap database: %w", err)
	}
	a.DB = dbClient
	a.closers = append(a.closers, dbClient.Close)

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("bootstrap redis: %w", err)
	}
	a.Redis = redisClient
	a.closers = append(a.closers, redisClient.Close)

	store, err := storage.New(ctx, cfg, logg)
	if err != nil {
		return fmt.Errorf("bootstrap media store: %w", err)
	}
	a.Store = store
	if c, ok := store.(io.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}

	if opts.Broker {
		ps, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			return fmt.Errorf("bootstrap pubsub: %w", err)
		}
		a.PubSub = ps
		a.closers = append(a.closers, ps.Close)
	}

	if cfg.FeatureFlags.BigQuery {
		bq, err := bigquery.NewClient(ctx, cfg.GCP, cfg.BigQuery, logg)
		if err != nil {
			return fmt.Errorf("bootstrap bigquery: %w", err)
		}
		a.BigQuery = bq
		a.closers = append(a.closers, bq.Close)
	}
	return nil
}

func (a *App) wireEmbeddings(ctx context.Context, opts Options) error {
	cfg, logg := a.Config, a.Logger

	strategy, err := embeddings.NewStrategy(ctx, cfg, embeddings.StrategyOptions{
		Logger:     logg,
		Metrics:    a.EmbeddingMetrics,
		Limiter:    a.Redis,
		HTTPClient: &http.Client{Timeout: cfg.Embedding.RequestTimeout},
	})
	if err != nil {
		return fmt.Errorf("embedding strategy: %w", err)
	}
	a.Strategy = strategy
	a.closers = append(a.closers, strategy.Close)

	params := embeddings.ServiceParams{
		Logger:   logg,
		Media:    a.Media,
		Strategy: strategy,
		Metrics:  a.EmbeddingMetrics,
	}
	// Visual summaries need a vision model, which only the Gemini backends carry.
	if client := strategy.Gemini(); client != nil {
		sum, err := summarizer.New(summarizer.Params{
			Logger:  logg,
			Config:  cfg.Vision,
			Store:   a.Store,
			Media:   a.Media,
			Model:   summarizer.NewGeminiVision(client, cfg.Vision.Model),
			Frames:  transcode.New(cfg.Pipeline),
			WorkDir: cfg.Pipeline.WorkDir,
		})
		if err != nil {
			return fmt.Errorf("summarizer: %w", err)
		}
		params.Summarizer = sum
	}
	service, err := embeddings.NewService(params)
	if err != nil {
		return fmt.Errorf("embedding service: %w", err)
	}
	a.Embeddings = service

	if opts.Broker {
		queue, err := embeddings.NewJobQueue(a.PubSub.EmbeddingPublisher())
		if err != nil {
			return err
		}
		a.Queue = queue
	}

	loopParams := backfill.Params{
		Logger:    logg,
		Config:    cfg.Backfill,
		Repo:      a.Media,
		Generator: service,
	}
	// Leave the queue unset rather than a typed nil when there is no broker.
	if a.Queue != nil {
		loopParams.Queue = a.Queue
	}
	loop, err := backfill.NewLoop(loopParams)
	if err != nil {
		return fmt.Errorf("backfill loop: %w", err)
	}
	a.Backfill = loop

	if a.Queue != nil {
		a.Runner, err = backfill.NewRunner(loop, service, a.Queue)
	} else {
		a.Runner, err = backfill.NewRunner(loop, service, nil)
	}
	if err != nil {
		return fmt.Errorf("backfill runner: %w", err)
	}

	engine, err := search.NewEngine(search.Params{
		Logger:   logg,
		Config:   cfg.Search,
		Repo:     a.Media,
		Embedder: strategy.Backend,
		Index:    strategy.Index,
		Metrics:  a.EmbeddingMetrics,
	})
	if err != nil {
		return fmt.Errorf("search engine: %w", err)
	}
	a.Search = engine
	return nil
}

func (a *App) wirePipeline(opts Options) error {
	cfg, logg := a.Config, a.Logger

	transcriber, err := transcribe.NewClient(cfg.Transcription)
	if err != nil {
		return fmt.Errorf("transcription client: %w", err)
	}
	all, err := stages.All(stages.Deps{
		Logger:       logg,
		Store:        a.Store,
		Media:        a.Media,
		Tool:         transcode.New(cfg.Pipeline),
		Transcriber:  transcriber,
		Locks:        a.Redis,
		WorkDir:      cfg.Pipeline.WorkDir,
		OutputPrefix: cfg.Storage.OutputPrefix,
		MergeLockTTL: cfg.Pipeline.MergeLock,
	})
	if err != nil {
		return fmt.Errorf("pipeline stages: %w", err)
	}
	executor, err := pipeline.NewExecutor(pipeline.ExecutorParams{
		Logger:       logg,
		Metrics:      a.StageMetrics,
		BackoffScale: cfg.Pipeline.BackoffScale,
	})
	if err != nil {
		return fmt.Errorf("stage executor: %w", err)
	}

	params := pipeline.Params{
		Logger:        logg,
		Runs:          a.Runs,
		Organizations: a.Media,
		Stages:        all,
		Executor:      executor,
		Metrics:       a.StageMetrics,
	}
	if a.BigQuery != nil {
		params.Events = a.BigQuery
	}
	if opts.Broker {
		dispatcher, err := pipeline.NewPubSubDispatcher(a.PubSub.PipelinePublisher())
		if err != nil {
			return err
		}
		params.Dispatcher = dispatcher
		params.Embeddings = embeddings.NewQueueRequester(a.Queue)
	} else {
		params.Embeddings = embeddings.NewDirectRequester(a.Embeddings, logg)
	}

	orchestrator, err := pipeline.NewOrchestrator(params)
	if err != nil {
		return fmt.Errorf("pipeline orchestrator: %w", err)
	}
	a.Pipeline = orchestrator
	return nil
}

// Pinger is a dependency with a liveness check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Pingers lists the readiness checks of the connected clients.
func (a *App) Pingers() map[string]Pinger {
	checks := map[string]Pinger{
		"database": a.DB,
		"redis":    a.Redis,
	}
	if a.PubSub != nil {
		checks["pubsub"] = a.PubSub
	}
	if a.BigQuery != nil {
		checks["bigquery"] = a.BigQuery
	}
	if p, ok := a.Store.(Pinger); ok {
		checks["storage"] = p
	}
	return checks
}

// Close releases clients in reverse order of creation.
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	var errs error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = multierr.Append(errs, a.closers[i]())
	}
	a.closers = nil
	return errs
}
