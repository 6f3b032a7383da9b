package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/studioflow-backend/internal/backfill"
	"github.com/angelmondragon/studioflow-backend/pkg/logger"
)

const defaultBackfillSweepOrganizations = 50

type EmbeddingBackfillJobParams struct {
	Logger        *logger.Logger
	Backfill      backfillSweeper
	Organizations int
	// Queued publishes one job per organization; otherwise the sweep
	// embeds inline.
	Queued bool
}

type backfillSweeper interface {
	EnqueueAll(ctx context.Context, req backfill.Request, limit int) (int, error)
	RunAll(ctx context.Context, req backfill.Request) ([]backfill.Report, error)
}

// NewEmbeddingBackfillJob queues a backfill for organizations whose media
// still lack embeddings, catching anything the pipeline hook missed.
func NewEmbeddingBackfillJob(params EmbeddingBackfillJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Backfill == nil {
		return nil, fmt.Errorf("backfill loop required")
	}
	limit := params.Organizations
	if limit <= 0 {
		limit = defaultBackfillSweepOrganizations
	}
	return &embeddingBackfillJob{logg: params.Logger, backfill: params.Backfill, limit: limit, queued: params.Queued}, nil
}

type embeddingBackfillJob struct {
	logg     *logger.Logger
	backfill backfillSweeper
	limit    int
	queued   bool
}

func (j *embeddingBackfillJob) Name() string { return "embedding-backfill-sweep" }

func (j *embeddingBackfillJob) Run(ctx context.Context) error {
	if !j.queued {
		return j.runInline(ctx)
	}
	queued, err := j.backfill.EnqueueAll(ctx, backfill.Request{}, j.limit)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"organizations_queued": queued,
		"organization_limit":   j.limit,
	})
	if err != nil {
		return fmt.Errorf("embedding backfill sweep: %w", err)
	}
	j.logg.Info(logCtx, "embedding backfill sweep complete")
	return nil
}

func (j *embeddingBackfillJob) runInline(ctx context.Context) error {
	reports, err := j.backfill.RunAll(ctx, backfill.Request{})
	generated, remaining := 0, int64(0)
	for _, r := range reports {
		generated += r.Generated
		remaining += r.Remaining
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"organizations": len(reports),
		"generated":     generated,
		"remaining":     remaining,
	})
	if err != nil {
		return fmt.Errorf("embedding backfill sweep: %w", err)
	}
	j.logg.Info(logCtx, "embedding backfill sweep complete")
	return nil
}
