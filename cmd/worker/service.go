package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/studioflow-backend/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

type runner interface {
	Run(ctx context.Context) error
}

type pinger interface {
	Ping(ctx context.Context) error
}

type ServiceParams struct {
	Logger            *logger.Logger
	Dependencies      map[string]pinger
	PipelineConsumer  runner
	EmbeddingConsumer runner
	// Server exposes health and metrics while the consumers run. Optional.
	Server *http.Server
}

// Service runs the stage and embedding consumers side by side. The first
// one to fail stops the other.
type Service struct {
	logg      *logger.Logger
	deps      map[string]pinger
	pipeline  runner
	embedding runner
	server    *http.Server
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.PipelineConsumer == nil {
		return nil, errors.New("pipeline consumer is required")
	}
	if params.EmbeddingConsumer == nil {
		return nil, errors.New("embedding consumer is required")
	}
	return &Service{
		logg:      params.Logger,
		deps:      params.Dependencies,
		pipeline:  params.PipelineConsumer,
		embedding: params.EmbeddingConsumer,
		server:    params.Server,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	for name, dep := range s.deps {
		if err := pingDependency(ctx, s.logg, name, dep.Ping); err != nil {
			return err
		}
	}
	s.logg.Info(ctx, "all worker dependencies are ready")
	return nil
}

func pingDependency(ctx context.Context, logg *logger.Logger, name string, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
		return fmt.Errorf("%s ping failed: %w", name, err)
	}
	return nil
}

func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.consume(gctx, "pipeline", s.pipeline)
	})
	g.Go(func() error {
		return s.consume(gctx, "embedding", s.embedding)
	})
	if s.server != nil {
		g.Go(func() error {
			if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("worker http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return s.server.Shutdown(shutdownCtx)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		s.logg.Info(ctx, "worker context canceled")
		return ctx.Err()
	}
	return err
}

func (s *Service) consume(ctx context.Context, name string, r runner) error {
	err := r.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logg.Error(ctx, fmt.Sprintf("%s consumer stopped unexpectedly", name), err)
		return err
	}
	if ctx.Err() == nil {
		// A consumer returning on its own while the worker still runs is a failure.
		return fmt.Errorf("%s consumer exited", name)
	}
	return ctx.Err()
}
