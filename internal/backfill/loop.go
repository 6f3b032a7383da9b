// Package backfill embeds media that were never embedded, one bounded batch
// at a time. Every batch either shrinks the remaining count or stops the
// loop, so a run always terminates.
package backfill

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/studioflow-backend/internal/embeddings"
	"github.com/angelmondragon/studioflow-backend/pkg/config"
	"github.com/angelmondragon/studioflow-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/studioflow-backend/pkg/errors"
	"github.com/angelmondragon/studioflow-backend/pkg/logger"
)

// StopReason explains why a loop ended.
type StopReason string

const (
	StopDone       StopReason = "done"
	StopNoProgress StopReason = "no_progress"
	StopMaxBatches StopReason = "max_batches"
	StopDryRun     StopReason = "dry_run"
	StopRequeued   StopReason = "requeued"
)

// Request scopes one backfill. Zero sizes take the configured defaults.
type Request struct {
	OrganizationID uuid.UUID
	BatchSize      int
	MaxBatches     int
	Force          bool
	DryRun         bool
}

// Report summarizes a backfill for one organization.
type Report struct {
	OrganizationID uuid.UUID   `json:"organization_id"`
	Initial        int64       `json:"initial"`
	Remaining      int64       `json:"remaining"`
	Batches        int         `json:"batches"`
	Generated      int         `json:"generated"`
	Failed         []uuid.UUID `json:"failed,omitempty"`
	Stopped        StopReason  `json:"stopped"`
}

type repository interface {
	CountUnembedded(ctx context.Context, organizationID uuid.UUID, exclude []uuid.UUID) (int64, error)
	ListUnembedded(ctx context.Context, organizationID uuid.UUID, exclude []uuid.UUID, limit int) ([]models.Media, error)
	ListOrganizationsWithUnembedded(ctx context.Context, limit int) ([]uuid.UUID, error)
}

type generator interface {
	GenerateForMedia(ctx context.Context, id uuid.UUID, force bool) (embeddings.Result, error)
}

type enqueuer interface {
	Enqueue(ctx context.Context, job embeddings.Job) error
}

// Params wires a Loop. Queue is needed only for queued mode.
type Params struct {
	Logger    *logger.Logger
	Config    config.BackfillConfig
	Repo      repository
	Generator generator
	Queue     enqueuer
}

type Loop struct {
	logg      *logger.Logger
	cfg       config.BackfillConfig
	repo      repository
	generator generator
	queue     enqueuer
}

func NewLoop(p Params) (*Loop, error) {
	switch {
	case p.Logger == nil:
		return nil, errors.New("logger is required")
	case p.Repo == nil:
		return nil, errors.New("media repository is required")
	case p.Generator == nil:
		return nil, errors.New("embedding generator is required")
	}
	cfg := p.Config
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 25
	}
	if cfg.MaxBatches <= 0 {
		cfg.MaxBatches = 200
	}
	return &Loop{logg: p.Logger, cfg: cfg, repo: p.Repo, generator: p.Generator, queue: p.Queue}, nil
}

func (l *Loop) sizes(req Request) (int, int) {
	batch, maxBatches := req.BatchSize, req.MaxBatches
	if batch <= 0 {
		batch = l.cfg.BatchSize
	}
	if maxBatches <= 0 {
		maxBatches = l.cfg.MaxBatches
	}
	return batch, maxBatches
}

// Run backfills one organization in the calling goroutine.
func (l *Loop) Run(ctx context.Context, req Request) (Report, error) {
	if req.OrganizationID == uuid.Nil {
		return Report{}, pkgerrors.New(pkgerrors.CodeValidation, "organization is required")
	}
	ctx = l.logg.WithOrganizationID(ctx, req.OrganizationID.String())
	batchSize, maxBatches := l.sizes(req)
	report := Report{OrganizationID: req.OrganizationID}
	failed := map[uuid.UUID]struct{}{}

	before, err := l.repo.CountUnembedded(ctx, req.OrganizationID, nil)
	if err != nil {
		return report, err
	}
	report.Initial = before
	report.Remaining = before
	if req.DryRun {
		report.Stopped = StopDryRun
		return report, nil
	}

	for {
		if before == 0 {
			report.Stopped = StopDone
			break
		}
		if report.Batches >= maxBatches {
			report.Stopped = StopMaxBatches
			break
		}
		generated, err := l.batch(ctx, req.OrganizationID, batchSize, req.Force, failed)
		report.Generated += generated
		report.Batches++
		if err != nil {
			report.Failed = keys(failed)
			return report, err
		}

		after, err := l.repo.CountUnembedded(ctx, req.OrganizationID, keys(failed))
		if err != nil {
			report.Failed = keys(failed)
			return report, err
		}
		report.Remaining = after
		if after >= before {
			report.Stopped = StopNoProgress
			break
		}
		before = after
	}

	report.Failed = keys(failed)
	l.logg.Info(l.logg.WithFields(ctx, map[string]any{
		"batches":   report.Batches,
		"generated": report.Generated,
		"failed":    len(report.Failed),
		"remaining": report.Remaining,
		"stopped":   string(report.Stopped),
	}), "embedding backfill finished")
	return report, nil
}

// RunQueued processes one batch of an organization job and enqueues the
// next one only when the remaining count strictly decreased.
func (l *Loop) RunQueued(ctx context.Context, job embeddings.Job) (Report, error) {
	if job.Kind != embeddings.JobOrganization || job.OrganizationID == uuid.Nil {
		return Report{}, pkgerrors.New(pkgerrors.CodeValidation, "queued backfill needs an organization job")
	}
	if l.queue == nil {
		return Report{}, pkgerrors.New(pkgerrors.CodeInternal, "queued backfill requires a job queue")
	}
	ctx = l.logg.WithOrganizationID(ctx, job.OrganizationID.String())
	batchSize, _ := l.sizes(Request{BatchSize: job.BatchSize})
	failed := make(map[uuid.UUID]struct{}, len(job.Failed))
	for _, id := range job.Failed {
		failed[id] = struct{}{}
	}
	report := Report{OrganizationID: job.OrganizationID}

	before, err := l.repo.CountUnembedded(ctx, job.OrganizationID, keys(failed))
	if err != nil {
		return report, err
	}
	report.Initial = before
	report.Remaining = before
	if job.DryRun {
		report.Stopped = StopDryRun
		return report, nil
	}
	if before == 0 {
		report.Stopped = StopDone
		return report, nil
	}

	generated, err := l.batch(ctx, job.OrganizationID, batchSize, job.Force, failed)
	report.Generated = generated
	report.Batches = 1
	report.Failed = keys(failed)
	if err != nil {
		return report, err
	}
	after, err := l.repo.CountUnembedded(ctx, job.OrganizationID, report.Failed)
	if err != nil {
		return report, err
	}
	report.Remaining = after

	ceiling := before
	if job.PreviousRemaining != nil && *job.PreviousRemaining < ceiling {
		ceiling = *job.PreviousRemaining
	}
	switch {
	case after == 0:
		report.Stopped = StopDone
	case after >= ceiling:
		report.Stopped = StopNoProgress
	default:
		next := job
		next.PreviousRemaining = &after
		next.Failed = report.Failed
		if err := l.queue.Enqueue(ctx, next); err != nil {
			return report, err
		}
		report.Stopped = StopRequeued
	}
	return report, nil
}

// RunAll backfills every organization with un-embedded media in turn.
func (l *Loop) RunAll(ctx context.Context, req Request) ([]Report, error) {
	orgs, err := l.repo.ListOrganizationsWithUnembedded(ctx, 0)
	if err != nil {
		return nil, err
	}
	var (
		reports []Report
		errs    error
	)
	for _, org := range orgs {
		if err := ctx.Err(); err != nil {
			return reports, multierr.Append(errs, err)
		}
		r := req
		r.OrganizationID = org
		report, err := l.Run(ctx, r)
		reports = append(reports, report)
		errs = multierr.Append(errs, err)
	}
	return reports, errs
}

// EnqueueAll starts a queued backfill for up to limit organizations.
func (l *Loop) EnqueueAll(ctx context.Context, req Request, limit int) (int, error) {
	if l.queue == nil {
		return 0, pkgerrors.New(pkgerrors.CodeInternal, "queued backfill requires a job queue")
	}
	orgs, err := l.repo.ListOrganizationsWithUnembedded(ctx, limit)
	if err != nil {
		return 0, err
	}
	var (
		queued int
		errs   error
	)
	for _, org := range orgs {
		job := embeddings.Job{
			Kind:           embeddings.JobOrganization,
			OrganizationID: org,
			Force:          req.Force,
			DryRun:         req.DryRun,
			BatchSize:      req.BatchSize,
		}
		if err := l.queue.Enqueue(ctx, job); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		queued++
	}
	return queued, errs
}

// batch embeds one page of un-embedded media. Failures join failed so the
// next count excludes them.
func (l *Loop) batch(ctx context.Context, org uuid.UUID, size int, force bool, failed map[uuid.UUID]struct{}) (int, error) {
	rows, err := l.repo.ListUnembedded(ctx, org, keys(failed), size)
	if err != nil {
		return 0, err
	}
	generated := 0
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return generated, err
		}
		res, err := l.generator.GenerateForMedia(ctx, row.ID, force)
		if err != nil {
			if ctx.Err() != nil {
				return generated, ctx.Err()
			}
			failed[row.ID] = struct{}{}
			continue
		}
		if res.Outcome == embeddings.OutcomeGenerated {
			generated++
		}
	}
	return generated, nil
}

func keys(set map[uuid.UUID]struct{}) []uuid.UUID {
	if len(set) == 0 {
		return nil
	}
	out := make([]uuid.UUID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}
