package pipeline

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/studioflow-backend/internal/repo"
	"github.com/angelmondragon/studioflow-backend/pkg/db/models"
	"github.com/angelmondragon/studioflow-backend/pkg/enums"
)

// Repository persists runs and steps. Status changes go through the
// transition tables.
type Repository struct {
	repo.Base
}

func NewRepository(conn *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(conn)}
}

// CreateRun inserts run and, when steps is non-empty, its step rows in one
// transaction.
func (r *Repository) CreateRun(ctx context.Context, run *models.PipelineRun, steps []models.PipelineStep) error {
	return r.Transaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(run).Error; err != nil {
			return repo.Classify(err, "pipeline run")
		}
		for i := range steps {
			steps[i].PipelineRunID = run.ID
		}
		if len(steps) == 0 {
			return nil
		}
		return repo.Classify(tx.Create(&steps).Error, "pipeline step")
	})
}

func (r *Repository) FindRun(ctx context.Context, id uuid.UUID) (*models.PipelineRun, error) {
	var run models.PipelineRun
	if err := r.DB(ctx).First(&run, "id = ?", id).Error; err != nil {
		return nil, repo.Classify(err, "pipeline run")
	}
	return &run, nil
}

func (r *Repository) ListSteps(ctx context.Context, runID uuid.UUID) ([]models.PipelineStep, error) {
	var steps []models.PipelineStep
	err := r.DB(ctx).Where("pipeline_run_id = ?", runID).Order("step_index ASC").Find(&steps).Error
	if err != nil {
		return nil, repo.Classify(err, "pipeline step")
	}
	return steps, nil
}

func (r *Repository) FindStep(ctx context.Context, runID uuid.UUID, index int) (*models.PipelineStep, error) {
	var step models.PipelineStep
	err := r.DB(ctx).First(&step, "pipeline_run_id = ? AND step_index = ?", runID, index).Error
	if err != nil {
		return nil, repo.Classify(err, "pipeline step")
	}
	return &step, nil
}

// CountCompletedSteps counts completed steps of a run.
func (r *Repository) CountCompletedSteps(ctx context.Context, runID uuid.UUID) (int, error) {
	var n int64
	err := r.DB(ctx).Model(&models.PipelineStep{}).
		Where("pipeline_run_id = ? AND status = ?", runID, enums.StepStatusCompleted).
		Count(&n).Error
	if err != nil {
		return 0, repo.Classify(err, "pipeline step")
	}
	return int(n), nil
}

// UpdateRun applies fn to the locked run row. A status change made by fn
// must be allowed by the run transition table; progress never decreases.
func (r *Repository) UpdateRun(ctx context.Context, id uuid.UUID, fn func(*models.PipelineRun) error) (*models.PipelineRun, error) {
	var run models.PipelineRun
	err := r.Transaction(ctx, func(tx *gorm.DB) error {
		if err := r.lock(tx).First(&run, "id = ?", id).Error; err != nil {
			return repo.Classify(err, "pipeline run")
		}
		prevStatus := run.Status
		prevProgress := run.ProgressPercentage
		if err := fn(&run); err != nil {
			return err
		}
		if run.Status != prevStatus && !canTransitionRun(prevStatus, run.Status) {
			return runTransitionError(prevStatus, run.Status)
		}
		if run.ProgressPercentage < prevProgress {
			run.ProgressPercentage = prevProgress
		}
		return tx.Save(&run).Error
	})
	if err != nil {
		return nil, repo.Classify(err, "pipeline run")
	}
	return &run, nil
}

// UpdateStep applies fn to the locked step row, enforcing step transitions.
func (r *Repository) UpdateStep(ctx context.Context, runID uuid.UUID, index int, fn func(*models.PipelineStep) error) (*models.PipelineStep, error) {
	var step models.PipelineStep
	err := r.Transaction(ctx, func(tx *gorm.DB) error {
		if err := r.lock(tx).First(&step, "pipeline_run_id = ? AND step_index = ?", runID, index).Error; err != nil {
			return repo.Classify(err, "pipeline step")
		}
		prev := step.Status
		if err := fn(&step); err != nil {
			return err
		}
		if step.Status != prev && !canTransitionStep(prev, step.Status) {
			return stepTransitionError(prev, step.Status)
		}
		return tx.Save(&step).Error
	})
	if err != nil {
		return nil, repo.Classify(err, "pipeline step")
	}
	return &step, nil
}

func (r *Repository) lock(tx *gorm.DB) *gorm.DB {
	if r.IsPostgres() {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

// EnsureSteps inserts any of steps missing for the run.
func (r *Repository) EnsureSteps(ctx context.Context, runID uuid.UUID, steps []models.PipelineStep) error {
	if len(steps) == 0 {
		return nil
	}
	for i := range steps {
		steps[i].PipelineRunID = runID
	}
	err := r.DB(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "pipeline_run_id"}, {Name: "step_index"}},
			DoNothing: true,
		}).
		Create(&steps).Error
	return repo.Classify(err, "pipeline step")
}
