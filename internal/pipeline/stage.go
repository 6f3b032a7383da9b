package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/studioflow-backend/internal/media"
	"github.com/angelmondragon/studioflow-backend/pkg/enums"
)

// Policy bounds how a stage is retried.
type Policy struct {
	MaxRetries  int
	BackoffBase time.Duration
	TimeLimit   time.Duration
}

// StageInput is what a stage needs to do its work. MediaID is nil only for
// the first stage, which creates the media row.
type StageInput struct {
	RunID          uuid.UUID
	OrganizationID uuid.UUID
	ProjectID      string
	Folder         media.SourceFolder
	MediaID        uuid.UUID
}

// StageOutput carries the media id into the next stage. Skipped marks a
// guard short-circuit where the artifact already existed.
type StageOutput struct {
	MediaID uuid.UUID         `json:"media_id"`
	Skipped bool              `json:"skipped"`
	Outputs map[string]string `json:"outputs,omitempty"`
}

// Stage is one unit of pipeline work.
type Stage interface {
	Name() enums.StageName
	Policy() Policy
	Execute(ctx context.Context, in StageInput) (StageOutput, error)
}

// StageTask is the message that moves a run from one stage to the next.
type StageTask struct {
	RunID      uuid.UUID       `json:"run_id"`
	Stage      enums.StageName `json:"stage"`
	StageIndex int             `json:"stage_index"`
	MediaID    uuid.UUID       `json:"media_id,omitempty"`
}
