package backfill

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/angelmondragon/studioflow-backend/internal/embeddings"
	pkgerrors "github.com/angelmondragon/studioflow-backend/pkg/errors"
)

type manyGenerator interface {
	GenerateMany(ctx context.Context, ids []uuid.UUID, force, dryRun bool) ([]embeddings.Result, error)
}

// Outcome is what an embedding request produced. Inline runs fill Results
// or Reports; queued runs only set Queued.
type Outcome struct {
	Kind    embeddings.JobKind  `json:"kind"`
	Queued  bool                `json:"queued"`
	Results []embeddings.Result `json:"results,omitempty"`
	Reports []Report            `json:"reports,omitempty"`
}

// Runner executes an embedding job inline or hands it to the queue. The CLI
// and the ops API share it.
type Runner struct {
	loop    *Loop
	service manyGenerator
	queue   enqueuer
}

// NewRunner wires a Runner. queue may be nil when only inline runs are needed.
func NewRunner(loop *Loop, service manyGenerator, queue enqueuer) (*Runner, error) {
	if loop == nil {
		return nil, errors.New("backfill loop is required")
	}
	if service == nil {
		return nil, errors.New("embedding service is required")
	}
	return &Runner{loop: loop, service: service, queue: queue}, nil
}

func (r *Runner) Run(ctx context.Context, job embeddings.Job, inline bool) (Outcome, error) {
	if err := job.Validate(); err != nil {
		return Outcome{}, err
	}
	out := Outcome{Kind: job.Kind}
	if !inline {
		if r.queue == nil {
			return out, pkgerrors.New(pkgerrors.CodeValidation, "no embedding queue configured; run inline instead")
		}
		if err := r.queue.Enqueue(ctx, job); err != nil {
			return out, err
		}
		out.Queued = true
		return out, nil
	}

	req := Request{
		OrganizationID: job.OrganizationID,
		BatchSize:      job.BatchSize,
		Force:          job.Force,
		DryRun:         job.DryRun,
	}
	switch job.Kind {
	case embeddings.JobMedia, embeddings.JobBatch:
		results, err := r.service.GenerateMany(ctx, job.MediaIDs, job.Force, job.DryRun)
		out.Results = results
		return out, err
	case embeddings.JobOrganization:
		report, err := r.loop.Run(ctx, req)
		out.Reports = []Report{report}
		return out, err
	default:
		reports, err := r.loop.RunAll(ctx, req)
		out.Reports = reports
		return out, err
	}
}
