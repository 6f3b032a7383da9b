package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/studioflow-backend/api/dto"
	"github.com/angelmondragon/studioflow-backend/api/responses"
	"github.com/angelmondragon/studioflow-backend/api/validators"
	"github.com/angelmondragon/studioflow-backend/internal/pipeline"
	pkgerrors "github.com/angelmondragon/studioflow-backend/pkg/errors"
	"github.com/angelmondragon/studioflow-backend/pkg/logger"
)

type PipelineService interface {
	Trigger(ctx context.Context, req pipeline.TriggerRequest) (pipeline.RunHandle, error)
	Status(ctx context.Context, runID uuid.UUID) (*pipeline.RunReport, error)
}

type pipelineTriggerRequest struct {
	SourceFolder string  `json:"source_folder" validate:"required,max=512,folderpath"`
	ProjectID    string  `json:"project_id" validate:"max=128"`
	RunID        *string `json:"run_id" validate:"omitempty,uuid"`
	Tracked      *bool   `json:"tracked"`
}

func (r pipelineTriggerRequest) toInput() (pipeline.TriggerRequest, error) {
	req := pipeline.TriggerRequest{
		SourceFolder: validators.CleanText(r.SourceFolder, 512),
		ProjectID:    validators.CleanText(r.ProjectID, 128),
		Tracked:      true,
	}
	if r.Tracked != nil {
		req.Tracked = *r.Tracked
	}
	if r.RunID != nil && strings.TrimSpace(*r.RunID) != "" {
		id, err := uuid.Parse(strings.TrimSpace(*r.RunID))
		if err != nil {
			return req, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid run_id")
		}
		req.RunID = &id
	}
	return req, nil
}

// PipelineTrigger starts a run for a source folder and answers 202 with the
// run handle. Runs are tracked unless the caller opts out.
func PipelineTrigger(svc PipelineService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "pipeline service unavailable"))
			return
		}
		var payload pipelineTriggerRequest
		if err := validators.DecodeJSONBody(w, r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input, err := payload.toInput()
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		handle, err := svc.Trigger(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, handle)
	}
}

func PipelineStatus(svc PipelineService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "pipeline service unavailable"))
			return
		}
		runID, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, "runId")))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid run id"))
			return
		}
		report, err := svc.Status(r.Context(), runID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto.FromReport(report))
	}
}
