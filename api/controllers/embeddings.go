package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/studioflow-backend/api/responses"
	"github.com/angelmondragon/studioflow-backend/api/validators"
	"github.com/angelmondragon/studioflow-backend/internal/backfill"
	"github.com/angelmondragon/studioflow-backend/internal/embeddings"
	pkgerrors "github.com/angelmondragon/studioflow-backend/pkg/errors"
	"github.com/angelmondragon/studioflow-backend/pkg/logger"
)

type EmbeddingRunner interface {
	Run(ctx context.Context, job embeddings.Job, inline bool) (backfill.Outcome, error)
}

type embeddingRequest struct {
	MediaID        *uuid.UUID  `json:"media_id"`
	MediaIDs       []uuid.UUID `json:"media_ids" validate:"omitempty,max=500"`
	OrganizationID *uuid.UUID  `json:"organization_id"`
	All            bool        `json:"all"`
	Force          bool        `json:"force"`
	DryRun         bool        `json:"dry_run"`
	Sync           bool        `json:"sync"`
	BatchSize      int         `json:"batch_size" validate:"omitempty,min=1,max=500"`
}

// toJob picks exactly one target. Mixing targets is rejected so a request
// never silently widens into a full backfill.
func (r embeddingRequest) toJob() (embeddings.Job, error) {
	targets := 0
	job := embeddings.Job{Force: r.Force, DryRun: r.DryRun, BatchSize: r.BatchSize}
	if r.MediaID != nil {
		targets++
		job.Kind = embeddings.JobMedia
		job.MediaIDs = []uuid.UUID{*r.MediaID}
	}
	if len(r.MediaIDs) > 0 {
		targets++
		job.Kind = embeddings.JobBatch
		job.MediaIDs = r.MediaIDs
	}
	if r.OrganizationID != nil {
		targets++
		job.Kind = embeddings.JobOrganization
		job.OrganizationID = *r.OrganizationID
	}
	if r.All {
		targets++
		job.Kind = embeddings.JobAll
	}
	if targets != 1 {
		return job, pkgerrors.New(pkgerrors.CodeValidation, "exactly one of media_id, media_ids, organization_id or all is required")
	}
	return job, job.Validate()
}

// EmbeddingsRequest queues an embedding job, or runs it inline when sync is
// set. Queued requests answer 202.
func EmbeddingsRequest(runner EmbeddingRunner, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if runner == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "embedding service unavailable"))
			return
		}
		var payload embeddingRequest
		if err := validators.DecodeJSONBody(w, r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		job, err := payload.toJob()
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		outcome, err := runner.Run(r.Context(), job, payload.Sync)
		if err != nil && !payload.Sync {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err != nil {
			// partial inline results are still worth returning
			logg.Warn(logg.WithField(r.Context(), "error", err.Error()), "inline embedding run finished with failures")
		}
		status := http.StatusOK
		if outcome.Queued {
			status = http.StatusAccepted
		}
		responses.WriteSuccessStatus(w, status, outcome)
	}
}
