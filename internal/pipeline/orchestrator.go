package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/angelmondragon/studioflow-backend/internal/media"
	"github.com/angelmondragon/studioflow-backend/pkg/bigquery"
	"github.com/angelmondragon/studioflow-backend/pkg/db/models"
	"github.com/angelmondragon/studioflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/studioflow-backend/pkg/errors"
	"github.com/angelmondragon/studioflow-backend/pkg/logger"
	"github.com/angelmondragon/studioflow-backend/pkg/metrics"
)

type runStore interface {
	CreateRun(ctx context.Context, run *models.PipelineRun, steps []models.PipelineStep) error
	EnsureSteps(ctx context.Context, runID uuid.UUID, steps []models.PipelineStep) error
	FindRun(ctx context.Context, id uuid.UUID) (*models.PipelineRun, error)
	ListSteps(ctx context.Context, runID uuid.UUID) ([]models.PipelineStep, error)
	FindStep(ctx context.Context, runID uuid.UUID, index int) (*models.PipelineStep, error)
	CountCompletedSteps(ctx context.Context, runID uuid.UUID) (int, error)
	UpdateRun(ctx context.Context, id uuid.UUID, fn func(*models.PipelineRun) error) (*models.PipelineRun, error)
	UpdateStep(ctx context.Context, runID uuid.UUID, index int, fn func(*models.PipelineStep) error) (*models.PipelineStep, error)
}

type organizationLookup interface {
	FindOrganizationBySlug(ctx context.Context, slug string) (*models.Organization, error)
}

type stepEventRecorder interface {
	RecordStepEvent(ctx context.Context, evt bigquery.StepEvent) error
}

// EmbeddingRequester asks for an embedding of a finished media row.
type EmbeddingRequester interface {
	RequestEmbedding(ctx context.Context, organizationID, mediaID uuid.UUID) error
}

// TriggerRequest starts a run for a recording folder. RunID reuses an
// existing run record, or names the one to create.
type TriggerRequest struct {
	SourceFolder string     `json:"source_folder" validate:"required"`
	ProjectID    string     `json:"project_id,omitempty"`
	RunID        *uuid.UUID `json:"run_id,omitempty"`
	Tracked      bool       `json:"tracked"`
}

// RunHandle identifies a triggered run.
type RunHandle struct {
	RunID   uuid.UUID       `json:"run_id"`
	Status  enums.RunStatus `json:"status"`
	Tracked bool            `json:"tracked"`
}

// RunReport is a run with its steps in order.
type RunReport struct {
	Run   models.PipelineRun    `json:"run"`
	Steps []models.PipelineStep `json:"steps"`
}

// StageFailure is returned when a stage fails for good. The failure is
// already recorded on the run, so redelivering the task is pointless.
type StageFailure struct {
	Stage    enums.StageName
	Attempts int
	Err      error
}

func (f *StageFailure) Error() string {
	return fmt.Sprintf("stage %s failed after %d attempt(s): %v", f.Stage, f.Attempts, f.Err)
}

func (f *StageFailure) Unwrap() error { return f.Err }

// Params wires an Orchestrator.
type Params struct {
	Logger        *logger.Logger
	Runs          runStore
	Organizations organizationLookup
	Stages        []Stage
	Executor      *Executor
	// Dispatcher defaults to running tasks inline.
	Dispatcher Dispatcher
	Events     stepEventRecorder
	Metrics    *metrics.StageMetrics
	Embeddings EmbeddingRequester
	Now        func() time.Time
}

// Orchestrator drives runs through the ordered stages.
type Orchestrator struct {
	logg       *logger.Logger
	runs       runStore
	orgs       organizationLookup
	stages     []Stage
	executor   *Executor
	dispatcher Dispatcher
	events     stepEventRecorder
	metrics    *metrics.StageMetrics
	embeddings EmbeddingRequester
	now        func() time.Time
}

func NewOrchestrator(params Params) (*Orchestrator, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.Runs == nil {
		return nil, errors.New("run repository is required")
	}
	if params.Organizations == nil {
		return nil, errors.New("organization lookup is required")
	}
	if params.Executor == nil {
		return nil, errors.New("executor is required")
	}
	if len(params.Stages) != len(enums.PipelineStages) {
		return nil, fmt.Errorf("expected %d stages, got %d", len(enums.PipelineStages), len(params.Stages))
	}
	for i, stage := range params.Stages {
		if stage == nil || stage.Name() != enums.PipelineStages[i] {
			return nil, fmt.Errorf("stage %d must be %s", i, enums.PipelineStages[i])
		}
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	o := &Orchestrator{
		logg:       params.Logger,
		runs:       params.Runs,
		orgs:       params.Organizations,
		stages:     params.Stages,
		executor:   params.Executor,
		dispatcher: params.Dispatcher,
		events:     params.Events,
		metrics:    params.Metrics,
		embeddings: params.Embeddings,
		now:        now,
	}
	if o.dispatcher == nil {
		o.dispatcher = NewInlineDispatcher(o.HandleTask)
	}
	return o, nil
}

// Trigger validates the folder, creates or reuses the run and dispatches the
// first stage. Malformed folders fail before any record is written.
func (o *Orchestrator) Trigger(ctx context.Context, req TriggerRequest) (RunHandle, error) {
	run, first, err := o.start(ctx, req)
	if err != nil {
		return RunHandle{}, err
	}
	ctx = o.logg.WithRunID(ctx, run.ID.String())

	if err := o.dispatcher.Dispatch(ctx, first); err != nil {
		var failure *StageFailure
		if errors.As(err, &failure) {
			return o.handle(ctx, run.ID)
		}
		o.logg.Error(ctx, "dispatching first stage failed", err)
		o.failRun(ctx, run.ID, fmt.Sprintf("dispatch of stage %s failed: %v", first.Stage, err))
		return RunHandle{}, err
	}
	o.logg.Info(ctx, "pipeline run triggered")
	return o.handle(ctx, run.ID)
}

// RunSync executes every stage in the calling goroutine. A stage failure is
// returned alongside the final handle.
func (o *Orchestrator) RunSync(ctx context.Context, req TriggerRequest) (RunHandle, error) {
	run, first, err := o.start(ctx, req)
	if err != nil {
		return RunHandle{}, err
	}
	ctx = o.logg.WithRunID(ctx, run.ID.String())

	runErr := NewInlineDispatcher(o.HandleTask).Dispatch(ctx, first)
	handle, err := o.handle(ctx, run.ID)
	if err != nil {
		return RunHandle{}, err
	}
	return handle, runErr
}

// Process handles one task and dispatches its successor.
func (o *Orchestrator) Process(ctx context.Context, task StageTask) error {
	next, err := o.HandleTask(ctx, task)
	if err != nil {
		return err
	}
	if next == nil {
		return nil
	}
	return o.dispatcher.Dispatch(ctx, *next)
}

// Status returns the run and its steps.
func (o *Orchestrator) Status(ctx context.Context, runID uuid.UUID) (*RunReport, error) {
	run, err := o.runs.FindRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	steps, err := o.runs.ListSteps(ctx, runID)
	if err != nil {
		return nil, err
	}
	return &RunReport{Run: *run, Steps: steps}, nil
}

func (o *Orchestrator) handle(ctx context.Context, runID uuid.UUID) (RunHandle, error) {
	run, err := o.runs.FindRun(ctx, runID)
	if err != nil {
		return RunHandle{}, err
	}
	return RunHandle{RunID: run.ID, Status: run.Status, Tracked: run.Tracked}, nil
}

func (o *Orchestrator) start(ctx context.Context, req TriggerRequest) (*models.PipelineRun, StageTask, error) {
	folder, err := media.ParseSourceFolder(req.SourceFolder)
	if err != nil {
		return nil, StageTask{}, err
	}
	org, err := o.orgs.FindOrganizationBySlug(ctx, folder.Company)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return nil, StageTask{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown organization %q in source folder", folder.Company))
		}
		return nil, StageTask{}, err
	}
	ctx = o.logg.WithOrganizationID(ctx, org.ID.String())

	var run *models.PipelineRun
	if req.RunID != nil {
		run, err = o.runs.FindRun(ctx, *req.RunID)
		if err != nil && !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return nil, StageTask{}, err
		}
	}

	if run == nil {
		run, err = o.createRun(ctx, req, org.ID, folder)
		if err != nil {
			return nil, StageTask{}, err
		}
	} else if run, err = o.reuseRun(ctx, run, req, org.ID, folder); err != nil {
		return nil, StageTask{}, err
	}

	first := StageTask{RunID: run.ID, Stage: o.stages[0].Name(), StageIndex: 0}
	return run, first, nil
}

func (o *Orchestrator) createRun(ctx context.Context, req TriggerRequest, orgID uuid.UUID, folder media.SourceFolder) (*models.PipelineRun, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode trigger request")
	}
	cfg, err := json.Marshal(o.policySnapshot())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode stage policies")
	}

	run := &models.PipelineRun{
		OrganizationID: orgID,
		ProjectID:      req.ProjectID,
		SourceFolder:   folder.Path(),
		Status:         enums.RunStatusCreated,
		Tracked:        req.Tracked,
		TotalSteps:     len(o.stages),
		InputPayload:   datatypes.JSON(payload),
		InputConfig:    datatypes.JSON(cfg),
	}
	if req.RunID != nil {
		run.ID = *req.RunID
	}
	if err := o.runs.CreateRun(ctx, run, o.pendingSteps(req.Tracked)); err != nil {
		return nil, err
	}
	return o.runs.UpdateRun(ctx, run.ID, func(r *models.PipelineRun) error {
		r.Status = enums.RunStatusPending
		return nil
	})
}

// reuseRun moves a created run to pending. A pending run is re-dispatched
// from the first stage; the stage guards make the repeat cheap.
func (o *Orchestrator) reuseRun(ctx context.Context, run *models.PipelineRun, req TriggerRequest, orgID uuid.UUID, folder media.SourceFolder) (*models.PipelineRun, error) {
	if run.OrganizationID != orgID || run.SourceFolder != folder.Path() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "run belongs to a different organization or source folder")
	}
	switch run.Status {
	case enums.RunStatusCreated, enums.RunStatusPending:
	default:
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("run %s is already %s", run.ID, run.Status))
	}
	if run.Tracked {
		if err := o.runs.EnsureSteps(ctx, run.ID, o.pendingSteps(true)); err != nil {
			return nil, err
		}
	}
	return o.runs.UpdateRun(ctx, run.ID, func(r *models.PipelineRun) error {
		if r.TotalSteps == 0 {
			r.TotalSteps = len(o.stages)
		}
		if r.ProjectID == "" {
			r.ProjectID = req.ProjectID
		}
		r.Status = enums.RunStatusPending
		return nil
	})
}

func (o *Orchestrator) pendingSteps(tracked bool) []models.PipelineStep {
	if !tracked {
		return nil
	}
	steps := make([]models.PipelineStep, 0, len(o.stages))
	for i, stage := range o.stages {
		steps = append(steps, models.PipelineStep{
			StepIndex: i,
			StepName:  stage.Name(),
			Status:    enums.StepStatusPending,
		})
	}
	return steps
}

type policySnapshot struct {
	MaxRetries       int     `json:"max_retries"`
	BackoffSeconds   float64 `json:"backoff_seconds"`
	TimeLimitSeconds float64 `json:"time_limit_seconds"`
}

// TaskBudget is the longest any single stage task can hold its message.
func (o *Orchestrator) TaskBudget() time.Duration {
	var longest time.Duration
	for _, stage := range o.stages {
		if b := o.executor.Budget(stage.Policy()); b > longest {
			longest = b
		}
	}
	return longest
}

// CheckAckExtension rejects a lease extension shorter than TaskBudget; the
// broker would redeliver a task while its first worker is still running it.
func (o *Orchestrator) CheckAckExtension(maxExtension time.Duration) error {
	if need := o.TaskBudget(); maxExtension < need {
		return fmt.Errorf("pubsub max extension %s is shorter than the longest stage task (%s)", maxExtension, need)
	}
	return nil
}

func (o *Orchestrator) policySnapshot() map[string]policySnapshot {
	out := make(map[string]policySnapshot, len(o.stages))
	for _, stage := range o.stages {
		p := stage.Policy()
		out[stage.Name().String()] = policySnapshot{
			MaxRetries:       p.MaxRetries,
			BackoffSeconds:   p.BackoffBase.Seconds(),
			TimeLimitSeconds: p.TimeLimit.Seconds(),
		}
	}
	return out
}

// HandleTask runs one stage of a run and returns the task for the next
// stage, or nil when the run is finished. Tasks for finished runs are
// dropped. A step already completed returns its stored output.
func (o *Orchestrator) HandleTask(ctx context.Context, task StageTask) (*StageTask, error) {
	run, err := o.runs.FindRun(ctx, task.RunID)
	if err != nil {
		return nil, err
	}
	ctx = o.logg.WithRunID(ctx, run.ID.String())
	ctx = o.logg.WithOrganizationID(ctx, run.OrganizationID.String())

	if run.Status.IsTerminal() {
		o.logg.Info(ctx, "dropping stage task for finished run")
		return nil, nil
	}

	index, ok := enums.StageIndex(task.Stage)
	if !ok || index != task.StageIndex {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("stage task names %q at index %d", task.Stage, task.StageIndex))
	}
	stage := o.stages[index]
	ctx = o.logg.WithStage(ctx, stage.Name().String(), index)

	if run.Status != enums.RunStatusProcessing {
		if index != 0 {
			return nil, runTransitionError(run.Status, enums.RunStatusProcessing)
		}
		run, err = o.runs.UpdateRun(ctx, run.ID, func(r *models.PipelineRun) error {
			r.Status = enums.RunStatusProcessing
			started := o.now()
			r.StartedAt = &started
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	folder, err := media.ParseSourceFolder(run.SourceFolder)
	if err != nil {
		o.failRun(ctx, run.ID, fmt.Sprintf("stage %s failed: %v", stage.Name(), err))
		return nil, &StageFailure{Stage: stage.Name(), Err: err}
	}

	priorAttempts := 0
	if run.Tracked {
		step, err := o.runs.FindStep(ctx, run.ID, index)
		if err != nil {
			return nil, err
		}
		switch step.Status {
		case enums.StepStatusCompleted:
			var out StageOutput
			if err := json.Unmarshal(step.OutputData, &out); err != nil || out.MediaID == uuid.Nil {
				return nil, pkgerrors.New(pkgerrors.CodeInternal, fmt.Sprintf("completed step %s has no stored output", stage.Name()))
			}
			o.logg.Info(ctx, "stage already completed, advancing")
			return o.advance(ctx, run, index, out)
		case enums.StepStatusFailed:
			o.logg.Warn(ctx, "dropping stage task for failed step")
			return nil, nil
		}
		priorAttempts = step.Attempts
		input, _ := json.Marshal(task)
		_, err = o.runs.UpdateStep(ctx, run.ID, index, func(s *models.PipelineStep) error {
			s.Status = enums.StepStatusRunning
			if s.StartedAt == nil {
				started := o.now()
				s.StartedAt = &started
			}
			s.InputData = datatypes.JSON(input)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	in := StageInput{
		RunID:          run.ID,
		OrganizationID: run.OrganizationID,
		ProjectID:      run.ProjectID,
		Folder:         folder,
		MediaID:        task.MediaID,
	}
	started := o.now()
	out, attempts, execErr := o.executor.Execute(ctx, stage, in)
	elapsed := o.now().Sub(started)

	if execErr != nil {
		if ctx.Err() != nil {
			// worker shutdown: leave the step running so redelivery resumes it
			return nil, ctx.Err()
		}
		return nil, o.failStage(ctx, run, index, priorAttempts+attempts, elapsed, execErr)
	}

	outcome := "completed"
	if out.Skipped {
		outcome = "skipped"
	}
	o.metrics.ObserveStage(stage.Name().String(), outcome, elapsed)

	if run.Tracked {
		output, err := json.Marshal(out)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode stage output")
		}
		_, err = o.runs.UpdateStep(ctx, run.ID, index, func(s *models.PipelineStep) error {
			s.Status = enums.StepStatusCompleted
			s.OutputData = datatypes.JSON(output)
			s.Attempts = priorAttempts + attempts
			completed := o.now()
			s.CompletedAt = &completed
			d := elapsed.Seconds()
			s.DurationSeconds = &d
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	o.recordEvent(ctx, run, index, out.MediaID, enums.StepStatusCompleted, priorAttempts+attempts, elapsed, nil)
	o.logg.Info(o.logg.WithMediaID(ctx, out.MediaID.String()), "stage completed")

	return o.advance(ctx, run, index, out)
}

func (o *Orchestrator) advance(ctx context.Context, run *models.PipelineRun, index int, out StageOutput) (*StageTask, error) {
	completed := index + 1
	if run.Tracked {
		n, err := o.runs.CountCompletedSteps(ctx, run.ID)
		if err != nil {
			return nil, err
		}
		completed = n
	}
	last := index == len(o.stages)-1

	updated, err := o.runs.UpdateRun(ctx, run.ID, func(r *models.PipelineRun) error {
		r.ProgressPercentage = Progress(completed, r.TotalSteps)
		if last {
			r.CurrentStepIndex = index
			r.Status = enums.RunStatusCompleted
			mediaID := out.MediaID
			r.ResultMediaID = &mediaID
			done := o.now()
			r.CompletedAt = &done
			return nil
		}
		if index+1 > r.CurrentStepIndex {
			r.CurrentStepIndex = index + 1
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !last {
		return &StageTask{
			RunID:      run.ID,
			Stage:      o.stages[index+1].Name(),
			StageIndex: index + 1,
			MediaID:    out.MediaID,
		}, nil
	}

	o.metrics.IncRun(enums.RunStatusCompleted.String())
	o.logg.Info(o.logg.WithMediaID(ctx, out.MediaID.String()), "pipeline run completed")
	if o.embeddings != nil {
		if err := o.embeddings.RequestEmbedding(ctx, updated.OrganizationID, out.MediaID); err != nil {
			o.logg.Error(ctx, "requesting embedding for finished media failed", err)
		}
	}
	return nil, nil
}

func (o *Orchestrator) failStage(ctx context.Context, run *models.PipelineRun, index, attempts int, elapsed time.Duration, cause error) error {
	stage := o.stages[index]
	failure := &StageFailure{Stage: stage.Name(), Attempts: attempts, Err: cause}
	o.logg.Error(o.logg.WithField(ctx, "error_code", pkgerrors.CodeOf(cause)), "stage failed", cause)
	o.metrics.ObserveStage(stage.Name().String(), "failed", elapsed)

	if run.Tracked {
		_, err := o.runs.UpdateStep(ctx, run.ID, index, func(s *models.PipelineStep) error {
			s.Status = enums.StepStatusFailed
			msg := cause.Error()
			s.ErrorMessage = &msg
			s.Attempts = attempts
			done := o.now()
			s.CompletedAt = &done
			d := elapsed.Seconds()
			s.DurationSeconds = &d
			return nil
		})
		if err != nil {
			return err
		}
	}
	if err := o.markFailed(ctx, run.ID, failure.Error()); err != nil {
		return err
	}
	o.recordEvent(ctx, run, index, uuid.Nil, enums.StepStatusFailed, attempts, elapsed, cause)
	return failure
}

func (o *Orchestrator) markFailed(ctx context.Context, runID uuid.UUID, msg string) error {
	_, err := o.runs.UpdateRun(ctx, runID, func(r *models.PipelineRun) error {
		r.Status = enums.RunStatusFailed
		r.ErrorLogs = r.ErrorLogs.Append(msg)
		done := o.now()
		r.CompletedAt = &done
		return nil
	})
	if err != nil {
		return err
	}
	o.metrics.IncRun(enums.RunStatusFailed.String())
	return nil
}

func (o *Orchestrator) failRun(ctx context.Context, runID uuid.UUID, msg string) {
	if err := o.markFailed(ctx, runID, msg); err != nil {
		o.logg.Error(ctx, "marking run failed", err)
	}
}

func (o *Orchestrator) recordEvent(ctx context.Context, run *models.PipelineRun, index int, mediaID uuid.UUID, status enums.StepStatus, attempts int, elapsed time.Duration, cause error) {
	if o.events == nil {
		return
	}
	evt := bigquery.StepEvent{
		RunID:           run.ID.String(),
		OrganizationID:  run.OrganizationID.String(),
		Stage:           o.stages[index].Name().String(),
		StepIndex:       index,
		Status:          status.String(),
		Attempts:        attempts,
		DurationSeconds: elapsed.Seconds(),
		OccurredAt:      o.now().UTC(),
	}
	if mediaID != uuid.Nil {
		evt.MediaID = mediaID.String()
	}
	if cause != nil {
		evt.ErrorCode = string(pkgerrors.CodeOf(cause))
	}
	if err := o.events.RecordStepEvent(ctx, evt); err != nil {
		o.logg.Warn(o.logg.WithField(ctx, "error", err.Error()), "recording step event failed")
	}
}
