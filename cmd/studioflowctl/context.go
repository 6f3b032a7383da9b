package main

import (
	"context"
	"errors"
	"io"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/angelmondragon/studioflow-backend/internal/app"
	"github.com/angelmondragon/studioflow-backend/internal/backfill"
	"github.com/angelmondragon/studioflow-backend/internal/embeddings"
	"github.com/angelmondragon/studioflow-backend/internal/pipeline"
	"github.com/angelmondragon/studioflow-backend/internal/search"
	"github.com/angelmondragon/studioflow-backend/pkg/config"
	"github.com/angelmondragon/studioflow-backend/pkg/db/models"
	"github.com/angelmondragon/studioflow-backend/pkg/logger"
)

type pipelineService interface {
	Trigger(ctx context.Context, req pipeline.TriggerRequest) (pipeline.RunHandle, error)
	RunSync(ctx context.Context, req pipeline.TriggerRequest) (pipeline.RunHandle, error)
	Status(ctx context.Context, runID uuid.UUID) (*pipeline.RunReport, error)
}

type embeddingRunner interface {
	Run(ctx context.Context, job embeddings.Job, inline bool) (backfill.Outcome, error)
}

type searcher interface {
	Search(ctx context.Context, q search.Query) (search.Response, error)
}

type organizationLookup interface {
	FindOrganizationBySlug(ctx context.Context, slug string) (*models.Organization, error)
}

// services is what the commands talk to. Tests replace the opener.
type services struct {
	Pipelines     pipelineService
	Embeddings    embeddingRunner
	Search        searcher
	Organizations organizationLookup
	close         func() error
}

func (s *services) Close() error {
	if s == nil || s.close == nil {
		return nil
	}
	return s.close()
}

// opener builds the services. broker is false for commands that run
// everything in this process.
type opener func(ctx context.Context, broker bool, logOutput io.Writer) (*services, error)

type commandContext struct {
	open      opener
	logOutput io.Writer
}

func newCommandContext(open opener) *commandContext {
	return &commandContext{open: open}
}

// withServices opens the services for one command and closes them after fn.
func (c *commandContext) withServices(ctx context.Context, broker bool, fn func(*services) error) error {
	if c.open == nil {
		return errors.New("no service opener configured")
	}
	svc, err := c.open(ctx, broker, c.logOutput)
	if err != nil {
		return err
	}
	defer svc.Close()
	return fn(svc)
}

func openServices(ctx context.Context, broker bool, logOutput io.Writer) (*services, error) {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	cfg.Service.Kind = "cli"

	logg := logger.New(logger.Options{
		ServiceName: "studioflowctl",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
		Output:      logOutput,
	})
	a, err := app.New(ctx, cfg, logg, app.Options{Broker: broker})
	if err != nil {
		return nil, err
	}
	return &services{
		Pipelines:     a.Pipeline,
		Embeddings:    a.Runner,
		Search:        a.Search,
		Organizations: a.Media,
		close:         a.Close,
	}, nil
}
