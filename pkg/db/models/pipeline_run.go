package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	dbtypes "github.com/angelmondragon/studioflow-backend/pkg/db/types"
	"github.com/angelmondragon/studioflow-backend/pkg/enums"
)

// PipelineRun is one end-to-end execution of the media pipeline.
type PipelineRun struct {
	ID                 uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	OrganizationID     uuid.UUID          `gorm:"column:organization_id;type:uuid;not null"`
	ProjectID          string             `gorm:"column:project_id"`
	SourceFolder       string             `gorm:"column:source_folder;not null"`
	Status             enums.RunStatus    `gorm:"column:status;type:text;not null"`
	Tracked            bool               `gorm:"column:tracked;not null"`
	TotalSteps         int                `gorm:"column:total_steps;not null"`
	CurrentStepIndex   int                `gorm:"column:current_step_index;not null;default:0"`
	ProgressPercentage float64            `gorm:"column:progress_percentage;not null;default:0"`
	InputPayload       datatypes.JSON     `gorm:"column:input_payload;type:jsonb"`
	InputConfig        datatypes.JSON     `gorm:"column:input_config;type:jsonb"`
	ErrorLogs          dbtypes.StringList `gorm:"column:error_logs;type:jsonb"`
	ResultMediaID      *uuid.UUID         `gorm:"column:result_media_id;type:uuid"`
	StartedAt          *time.Time         `gorm:"column:started_at"`
	CompletedAt        *time.Time         `gorm:"column:completed_at"`
	CreatedAt          time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

func (PipelineRun) TableName() string { return "video_pipeline_runs" }

func (r *PipelineRun) BeforeCreate(_ *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// PipelineStep records one stage of a tracked run.
type PipelineStep struct {
	ID              uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	PipelineRunID   uuid.UUID        `gorm:"column:pipeline_run_id;type:uuid;not null"`
	StepIndex       int              `gorm:"column:step_index;not null"`
	StepName        enums.StageName  `gorm:"column:step_name;type:text;not null"`
	Status          enums.StepStatus `gorm:"column:status;type:text;not null"`
	InputData       datatypes.JSON   `gorm:"column:input_data;type:jsonb"`
	OutputData      datatypes.JSON   `gorm:"column:output_data;type:jsonb"`
	ErrorMessage    *string          `gorm:"column:error_message"`
	Attempts        int              `gorm:"column:attempts;not null;default:0"`
	StartedAt       *time.Time       `gorm:"column:started_at"`
	CompletedAt     *time.Time       `gorm:"column:completed_at"`
	DurationSeconds *float64         `gorm:"column:duration_seconds"`
	CreatedAt       time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

func (PipelineStep) TableName() string { return "video_pipeline_steps" }

func (s *PipelineStep) BeforeCreate(_ *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}
