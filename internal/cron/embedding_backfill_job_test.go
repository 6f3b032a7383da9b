package cron

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/angelmondragon/studioflow-backend/internal/backfill"
	"github.com/angelmondragon/studioflow-backend/pkg/logger"
)

type fakeSweeper struct {
	queued int
	err    error
	limit  int
	calls  int
	req    backfill.Request
	runs   int
}

func (f *fakeSweeper) RunAll(_ context.Context, req backfill.Request) ([]backfill.Report, error) {
	f.runs++
	f.req = req
	return []backfill.Report{{Generated: 4, Stopped: backfill.StopDone}}, f.err
}

func (f *fakeSweeper) EnqueueAll(_ context.Context, req backfill.Request, limit int) (int, error) {
	f.calls++
	f.req = req
	f.limit = limit
	return f.queued, f.err
}

func TestEmbeddingBackfillJobQueuesOrganizations(t *testing.T) {
	t.Parallel()

	sweeper := &fakeSweeper{queued: 3}
	job, err := NewEmbeddingBackfillJob(EmbeddingBackfillJobParams{
		Logger:        logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		Backfill:      sweeper,
		Organizations: 10,
		Queued:        true,
	})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	if job.Name() != "embedding-backfill-sweep" {
		t.Fatalf("unexpected name %q", job.Name())
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sweeper.calls != 1 || sweeper.limit != 10 {
		t.Fatalf("expected one sweep with limit 10, got calls=%d limit=%d", sweeper.calls, sweeper.limit)
	}
	if sweeper.req.Force || sweeper.req.DryRun {
		t.Fatalf("sweep must not force or dry run: %+v", sweeper.req)
	}
}

func TestEmbeddingBackfillJobDefaultsLimit(t *testing.T) {
	t.Parallel()

	sweeper := &fakeSweeper{}
	job, err := NewEmbeddingBackfillJob(EmbeddingBackfillJobParams{
		Logger:   logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		Backfill: sweeper,
		Queued:   true,
	})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sweeper.limit != defaultBackfillSweepOrganizations {
		t.Fatalf("expected default limit, got %d", sweeper.limit)
	}
}

func TestEmbeddingBackfillJobPropagatesErrors(t *testing.T) {
	t.Parallel()

	job, err := NewEmbeddingBackfillJob(EmbeddingBackfillJobParams{
		Logger:   logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		Backfill: &fakeSweeper{err: errors.New("pubsub down")},
	})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestEmbeddingBackfillJobRequiresLoop(t *testing.T) {
	t.Parallel()

	if _, err := NewEmbeddingBackfillJob(EmbeddingBackfillJobParams{
		Logger: logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
	}); err == nil {
		t.Fatal("expected error without backfill loop")
	}
}

func TestEmbeddingBackfillJobRunsInlineWithoutQueue(t *testing.T) {
	t.Parallel()

	sweeper := &fakeSweeper{}
	job, err := NewEmbeddingBackfillJob(EmbeddingBackfillJobParams{
		Logger:   logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		Backfill: sweeper,
	})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sweeper.runs != 1 || sweeper.calls != 0 {
		t.Fatalf("expected inline run only, got runs=%d enqueues=%d", sweeper.runs, sweeper.calls)
	}
}
