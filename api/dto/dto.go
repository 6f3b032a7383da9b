// Package dto shapes pipeline runs, media and search hits for JSON output.
// The ops API and studioflowctl print the same views.
package dto

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/studioflow-backend/internal/pipeline"
	"github.com/angelmondragon/studioflow-backend/internal/search"
	"github.com/angelmondragon/studioflow-backend/pkg/db/models"
	"github.com/angelmondragon/studioflow-backend/pkg/enums"
)

type Run struct {
	ID                 uuid.UUID       `json:"id"`
	OrganizationID     uuid.UUID       `json:"organization_id"`
	ProjectID          string          `json:"project_id,omitempty"`
	SourceFolder       string          `json:"source_folder"`
	Status             enums.RunStatus `json:"status"`
	Tracked            bool            `json:"tracked"`
	TotalSteps         int             `json:"total_steps"`
	CurrentStepIndex   int             `json:"current_step_index"`
	ProgressPercentage float64         `json:"progress_percentage"`
	ErrorLogs          []string        `json:"error_logs,omitempty"`
	ResultMediaID      *uuid.UUID      `json:"result_media_id,omitempty"`
	StartedAt          *time.Time      `json:"started_at,omitempty"`
	CompletedAt        *time.Time      `json:"completed_at,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	Steps              []Step          `json:"steps,omitempty"`
}

type Step struct {
	Index           int              `json:"index"`
	Name            enums.StageName  `json:"name"`
	Status          enums.StepStatus `json:"status"`
	Attempts        int              `json:"attempts"`
	Output          json.RawMessage  `json:"output,omitempty"`
	Error           *string          `json:"error,omitempty"`
	DurationSeconds *float64         `json:"duration_seconds,omitempty"`
	StartedAt       *time.Time       `json:"started_at,omitempty"`
	CompletedAt     *time.Time       `json:"completed_at,omitempty"`
}

func FromReport(report *pipeline.RunReport) Run {
	run := report.Run
	out := Run{
		ID:                 run.ID,
		OrganizationID:     run.OrganizationID,
		ProjectID:          run.ProjectID,
		SourceFolder:       run.SourceFolder,
		Status:             run.Status,
		Tracked:            run.Tracked,
		TotalSteps:         run.TotalSteps,
		CurrentStepIndex:   run.CurrentStepIndex,
		ProgressPercentage: run.ProgressPercentage,
		ErrorLogs:          []string(run.ErrorLogs),
		ResultMediaID:      run.ResultMediaID,
		StartedAt:          run.StartedAt,
		CompletedAt:        run.CompletedAt,
		CreatedAt:          run.CreatedAt,
	}
	for _, s := range report.Steps {
		step := Step{
			Index:           s.StepIndex,
			Name:            s.StepName,
			Status:          s.Status,
			Attempts:        s.Attempts,
			Error:           s.ErrorMessage,
			DurationSeconds: s.DurationSeconds,
			StartedAt:       s.StartedAt,
			CompletedAt:     s.CompletedAt,
		}
		if len(s.OutputData) > 0 {
			step.Output = json.RawMessage(s.OutputData)
		}
		out.Steps = append(out.Steps, step)
	}
	return out
}

type Media struct {
	ID             uuid.UUID            `json:"id"`
	OrganizationID uuid.UUID            `json:"organization_id"`
	Name           string               `json:"name"`
	Type           enums.MediaType      `json:"type"`
	Status         enums.MediaStatus    `json:"status"`
	StorageURLPath string               `json:"storage_url_path,omitempty"`
	SourceFolder   *string              `json:"source_folder,omitempty"`
	Tags           []string             `json:"tags,omitempty"`
	Metadata       models.MediaMetadata `json:"metadata"`
	Summary        string               `json:"summary,omitempty"`
	Embedded       bool                 `json:"embedded"`
	CreatedAt      time.Time            `json:"created_at"`
}

func FromMedia(m models.Media) Media {
	out := Media{
		ID:             m.ID,
		OrganizationID: m.OrganizationID,
		Name:           m.Name,
		Type:           m.Type,
		Status:         m.Status,
		StorageURLPath: m.StorageURLPath,
		SourceFolder:   m.SourceFolder,
		Tags:           []string(m.Tags),
		Metadata:       m.Metadata,
		Embedded:       m.Embedding != nil,
		CreatedAt:      m.CreatedAt,
	}
	if m.EmbeddingText != nil {
		out.Summary = m.EmbeddingText.Summary
	}
	return out
}

type SearchHit struct {
	Media      Media    `json:"media"`
	Similarity *float64 `json:"similarity,omitempty"`
	Distance   *float64 `json:"distance,omitempty"`
}

type SearchResponse struct {
	Mode           search.Mode `json:"mode"`
	FallbackReason string      `json:"fallback_reason,omitempty"`
	Results        []SearchHit `json:"results"`
}

func FromSearch(resp search.Response) SearchResponse {
	out := SearchResponse{
		Mode:           resp.Mode,
		FallbackReason: resp.FallbackReason,
		Results:        make([]SearchHit, 0, len(resp.Results)),
	}
	for _, r := range resp.Results {
		out.Results = append(out.Results, SearchHit{
			Media:      FromMedia(r.Media),
			Similarity: r.Similarity,
			Distance:   r.Distance,
		})
	}
	return out
}
