package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/studioflow-backend/internal/dbtest"
	"github.com/angelmondragon/studioflow-backend/internal/media"
	"github.com/angelmondragon/studioflow-backend/pkg/bigquery"
	"github.com/angelmondragon/studioflow-backend/pkg/db/models"
	"github.com/angelmondragon/studioflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/studioflow-backend/pkg/errors"
)

const testFolder = "acme/session-1/cam_169_1080p/raw/"

type recordingEvents struct {
	mu     sync.Mutex
	events []bigquery.StepEvent
}

func (r *recordingEvents) RecordStepEvent(ctx context.Context, evt bigquery.StepEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

type recordingEmbeddings struct {
	requested []uuid.UUID
	err       error
}

func (r *recordingEmbeddings) RequestEmbedding(ctx context.Context, orgID, mediaID uuid.UUID) error {
	r.requested = append(r.requested, mediaID)
	return r.err
}

type queueDispatcher struct {
	tasks []StageTask
}

func (q *queueDispatcher) Dispatch(ctx context.Context, task StageTask) error {
	q.tasks = append(q.tasks, task)
	return nil
}

type fixture struct {
	orch       *Orchestrator
	runs       *Repository
	stages     []*scriptedStage
	mediaID    uuid.UUID
	events     *recordingEvents
	embeddings *recordingEmbeddings
}

func newFixture(t *testing.T, dispatcher Dispatcher) *fixture {
	t.Helper()
	conn := dbtest.Open(t)
	mediaRepo := media.NewRepository(conn)
	require.NoError(t, mediaRepo.CreateOrganization(context.Background(), &models.Organization{Name: "Acme", Slug: "acme"}))

	mediaID := uuid.New()
	stages := make([]*scriptedStage, 0, len(enums.PipelineStages))
	asStages := make([]Stage, 0, len(enums.PipelineStages))
	for i, name := range enums.PipelineStages {
		s := &scriptedStage{name: name, policy: Policy{MaxRetries: 1, BackoffBase: time.Second}}
		if i == 0 {
			s.out = StageOutput{MediaID: mediaID}
		}
		stages = append(stages, s)
		asStages = append(asStages, s)
	}

	var sleeps []time.Duration
	exec := newTestExecutor(t, &sleeps)
	runs := NewRepository(conn)
	events := &recordingEvents{}
	embeddings := &recordingEmbeddings{}
	orch, err := NewOrchestrator(Params{
		Logger:        testLogger(),
		Runs:          runs,
		Organizations: mediaRepo,
		Stages:        asStages,
		Executor:      exec,
		Dispatcher:    dispatcher,
		Events:        events,
		Embeddings:    embeddings,
	})
	require.NoError(t, err)
	return &fixture{orch: orch, runs: runs, stages: stages, mediaID: mediaID, events: events, embeddings: embeddings}
}

func TestRunSyncCompletesTrackedRun(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	handle, err := f.orch.RunSync(ctx, TriggerRequest{SourceFolder: testFolder, ProjectID: "proj-1", Tracked: true})
	require.NoError(t, err)
	assert.Equal(t, enums.RunStatusCompleted, handle.Status)

	report, err := f.orch.Status(ctx, handle.RunID)
	require.NoError(t, err)
	assert.EqualValues(t, 100, report.Run.ProgressPercentage)
	assert.Equal(t, 5, report.Run.TotalSteps)
	require.NotNil(t, report.Run.ResultMediaID)
	assert.Equal(t, f.mediaID, *report.Run.ResultMediaID)
	assert.NotNil(t, report.Run.StartedAt)
	assert.NotNil(t, report.Run.CompletedAt)
	assert.Empty(t, report.Run.ErrorLogs)

	require.Len(t, report.Steps, 5)
	for i, step := range report.Steps {
		assert.Equal(t, enums.PipelineStages[i], step.StepName)
		assert.Equal(t, enums.StepStatusCompleted, step.Status)
		assert.Equal(t, 1, step.Attempts)
		assert.NotNil(t, step.DurationSeconds)
	}
	for _, s := range f.stages {
		assert.Equal(t, 1, s.calls)
	}
	assert.Equal(t, []uuid.UUID{f.mediaID}, f.embeddings.requested)
	assert.Len(t, f.events.events, 5)
}

func TestUntrackedRunReachesSameEndState(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	handle, err := f.orch.Trigger(ctx, TriggerRequest{SourceFolder: testFolder})
	require.NoError(t, err)
	assert.Equal(t, enums.RunStatusCompleted, handle.Status)

	report, err := f.orch.Status(ctx, handle.RunID)
	require.NoError(t, err)
	assert.Empty(t, report.Steps)
	assert.EqualValues(t, 100, report.Run.ProgressPercentage)
	require.NotNil(t, report.Run.ResultMediaID)
	assert.Equal(t, f.mediaID, *report.Run.ResultMediaID)
}

func TestTriggerRejectsMalformedFolderWithoutRun(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.orch.Trigger(context.Background(), TriggerRequest{SourceFolder: "acme/session/raw", Tracked: true})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	assert.False(t, pkgerrors.IsRetryable(err))

	var count int64
	require.NoError(t, f.runs.DB(context.Background()).Model(&models.PipelineRun{}).Count(&count).Error)
	assert.Zero(t, count)
	for _, s := range f.stages {
		assert.Zero(t, s.calls)
	}
}

func TestTriggerRejectsUnknownOrganization(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.orch.Trigger(context.Background(), TriggerRequest{SourceFolder: "globex/s/cam_11_720p/raw"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestStageFailureFailsRunAndStopsPipeline(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	boom := pkgerrors.New(pkgerrors.CodeIrrecoverable, "moov atom not found")
	f.stages[2].errs = []error{boom}

	handle, err := f.orch.RunSync(ctx, TriggerRequest{SourceFolder: testFolder, Tracked: true})
	var failure *StageFailure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, enums.StageThumbnail, failure.Stage)
	assert.Equal(t, enums.RunStatusFailed, handle.Status)

	report, err := f.orch.Status(ctx, handle.RunID)
	require.NoError(t, err)
	assert.Equal(t, enums.StepStatusCompleted, report.Steps[1].Status)
	assert.Equal(t, enums.StepStatusFailed, report.Steps[2].Status)
	require.NotNil(t, report.Steps[2].ErrorMessage)
	assert.Contains(t, *report.Steps[2].ErrorMessage, "moov atom")
	assert.Equal(t, enums.StepStatusPending, report.Steps[3].Status)
	require.Len(t, report.Run.ErrorLogs, 1)
	assert.Contains(t, report.Run.ErrorLogs[0], "thumbnail")
	assert.EqualValues(t, 40, report.Run.ProgressPercentage)
	assert.Nil(t, report.Run.ResultMediaID)
	assert.Zero(t, f.stages[3].calls)
	assert.Empty(t, f.embeddings.requested)
}

func TestDistributedTasksAdvanceAndDropAfterFinish(t *testing.T) {
	queue := &queueDispatcher{}
	f := newFixture(t, queue)
	ctx := context.Background()

	handle, err := f.orch.Trigger(ctx, TriggerRequest{SourceFolder: testFolder, Tracked: true})
	require.NoError(t, err)
	assert.Equal(t, enums.RunStatusPending, handle.Status)
	require.Len(t, queue.tasks, 1)

	var lastProgress float64
	for i := 0; i < len(queue.tasks); i++ {
		task := queue.tasks[i]
		require.NoError(t, f.orch.Process(ctx, task))

		// a redelivered copy of a completed task must not re-run the stage
		if i == 1 {
			calls := f.stages[1].calls
			next, err := f.orch.HandleTask(ctx, task)
			require.NoError(t, err)
			require.NotNil(t, next)
			assert.Equal(t, calls, f.stages[1].calls)
		}

		run, err := f.runs.FindRun(ctx, handle.RunID)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, run.ProgressPercentage, lastProgress)
		lastProgress = run.ProgressPercentage
	}
	assert.Len(t, queue.tasks, 5)
	assert.EqualValues(t, 100, lastProgress)

	next, err := f.orch.HandleTask(ctx, queue.tasks[4])
	require.NoError(t, err)
	assert.Nil(t, next)
	assert.Equal(t, 1, f.stages[4].calls)
}

func TestTriggerReusesCreatedRunAndRejectsFinished(t *testing.T) {
	queue := &queueDispatcher{}
	f := newFixture(t, queue)
	ctx := context.Background()

	runID := uuid.New()
	handle, err := f.orch.Trigger(ctx, TriggerRequest{SourceFolder: testFolder, RunID: &runID, Tracked: true})
	require.NoError(t, err)
	assert.Equal(t, runID, handle.RunID)

	_, err = f.orch.Trigger(ctx, TriggerRequest{SourceFolder: testFolder, RunID: &runID, Tracked: true})
	require.NoError(t, err)
	assert.Len(t, queue.tasks, 2)

	_, err = f.runs.UpdateRun(ctx, runID, func(r *models.PipelineRun) error {
		r.Status = enums.RunStatusFailed
		return nil
	})
	require.NoError(t, err)

	_, err = f.orch.Trigger(ctx, TriggerRequest{SourceFolder: testFolder, RunID: &runID, Tracked: true})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}

func TestRunTransitionsAreEnforced(t *testing.T) {
	f := newFixture(t, &queueDispatcher{})
	ctx := context.Background()
	handle, err := f.orch.Trigger(ctx, TriggerRequest{SourceFolder: testFolder, Tracked: true})
	require.NoError(t, err)

	_, err = f.runs.UpdateRun(ctx, handle.RunID, func(r *models.PipelineRun) error {
		r.Status = enums.RunStatusCompleted
		return nil
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	_, err = f.runs.UpdateStep(ctx, handle.RunID, 0, func(s *models.PipelineStep) error {
		s.Status = enums.StepStatusCompleted
		return nil
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}

func TestEmbeddingRequestFailureIsNonFatal(t *testing.T) {
	f := newFixture(t, nil)
	f.embeddings.err = errors.New("queue down")

	handle, err := f.orch.RunSync(context.Background(), TriggerRequest{SourceFolder: testFolder, Tracked: true})
	require.NoError(t, err)
	assert.Equal(t, enums.RunStatusCompleted, handle.Status)
}

func TestCheckAckExtensionCoversLongestStage(t *testing.T) {
	f := newFixture(t, nil)
	f.stages[0].policy = Policy{MaxRetries: 2, BackoffBase: 300 * time.Second, TimeLimit: 3 * time.Hour}
	f.stages[1].policy = Policy{MaxRetries: 2, BackoffBase: 300 * time.Second, TimeLimit: 2 * time.Hour}

	assert.Equal(t, 9*time.Hour+15*time.Minute, f.orch.TaskBudget())
	assert.Error(t, f.orch.CheckAckExtension(4*time.Hour))
	assert.NoError(t, f.orch.CheckAckExtension(10*time.Hour))
}
