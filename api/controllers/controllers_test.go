package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/studioflow-backend/internal/backfill"
	"github.com/angelmondragon/studioflow-backend/internal/embeddings"
	"github.com/angelmondragon/studioflow-backend/internal/pipeline"
	"github.com/angelmondragon/studioflow-backend/internal/search"
	"github.com/angelmondragon/studioflow-backend/pkg/config"
	"github.com/angelmondragon/studioflow-backend/pkg/db/models"
	"github.com/angelmondragon/studioflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/studioflow-backend/pkg/errors"
	"github.com/angelmondragon/studioflow-backend/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "api-test", Output: io.Discard})
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

type stubPipelines struct {
	triggered []pipeline.TriggerRequest
	err       error
	report    *pipeline.RunReport
}

func (s *stubPipelines) Trigger(_ context.Context, req pipeline.TriggerRequest) (pipeline.RunHandle, error) {
	s.triggered = append(s.triggered, req)
	if s.err != nil {
		return pipeline.RunHandle{}, s.err
	}
	return pipeline.RunHandle{RunID: uuid.New(), Status: enums.RunStatusProcessing, Tracked: req.Tracked}, nil
}

func (s *stubPipelines) Status(_ context.Context, runID uuid.UUID) (*pipeline.RunReport, error) {
	if s.report == nil || s.report.Run.ID != runID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "pipeline run not found")
	}
	return s.report, nil
}

func TestPipelineTriggerAccepted(t *testing.T) {
	svc := &stubPipelines{}
	body := `{"source_folder":"acme/2025-01-01-demo/iphonepro_916_1080p/raw/","project_id":"proj-1"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/pipelines", strings.NewReader(body))
	rec := httptest.NewRecorder()

	PipelineTrigger(svc, testLogger()).ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, svc.triggered, 1)
	assert.True(t, svc.triggered[0].Tracked, "runs are tracked by default")
	assert.Equal(t, "proj-1", svc.triggered[0].ProjectID)
}

func TestPipelineTriggerRejectsMissingFolder(t *testing.T) {
	svc := &stubPipelines{}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/pipelines", strings.NewReader(`{"project_id":"x"}`))
	rec := httptest.NewRecorder()

	PipelineTrigger(svc, testLogger()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, svc.triggered)
}

func TestPipelineTriggerMapsStateConflict(t *testing.T) {
	svc := &stubPipelines{err: pkgerrors.New(pkgerrors.CodeStateConflict, "run already processing")}
	body := `{"source_folder":"acme/s/d/raw/","run_id":"` + uuid.NewString() + `","tracked":false}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/pipelines", strings.NewReader(body))
	rec := httptest.NewRecorder()

	PipelineTrigger(svc, testLogger()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Len(t, svc.triggered, 1)
	assert.False(t, svc.triggered[0].Tracked)
	require.NotNil(t, svc.triggered[0].RunID)
}

func statusRequest(runID string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/pipelines/"+runID, nil)
	rc := chi.NewRouteContext()
	rc.URLParams.Add("runId", runID)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))
}

func TestPipelineStatusReturnsSteps(t *testing.T) {
	runID := uuid.New()
	svc := &stubPipelines{report: &pipeline.RunReport{
		Run: models.PipelineRun{ID: runID, Status: enums.RunStatusProcessing, TotalSteps: 5, CurrentStepIndex: 2, ProgressPercentage: 40},
		Steps: []models.PipelineStep{
			{StepIndex: 0, StepName: enums.StageMerge, Status: enums.StepStatusCompleted, Attempts: 1},
			{StepIndex: 1, StepName: enums.StageDownscale720, Status: enums.StepStatusCompleted, Attempts: 2},
		},
	}}
	rec := httptest.NewRecorder()

	PipelineStatus(svc, testLogger()).ServeHTTP(rec, statusRequest(runID.String()))

	require.Equal(t, http.StatusOK, rec.Code)
	var run struct {
		Status   string  `json:"status"`
		Progress float64 `json:"progress_percentage"`
		Steps    []struct {
			Name     string `json:"name"`
			Attempts int    `json:"attempts"`
		} `json:"steps"`
	}
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &run))
	assert.Equal(t, "processing", run.Status)
	assert.InDelta(t, 40, run.Progress, 0.001)
	require.Len(t, run.Steps, 2)
	assert.Equal(t, "downscale_720p", run.Steps[1].Name)
	assert.Equal(t, 2, run.Steps[1].Attempts)
}

func TestPipelineStatusUnknownAndMalformedIDs(t *testing.T) {
	svc := &stubPipelines{}

	rec := httptest.NewRecorder()
	PipelineStatus(svc, testLogger()).ServeHTTP(rec, statusRequest(uuid.NewString()))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	PipelineStatus(svc, testLogger()).ServeHTTP(rec, statusRequest("not-a-uuid"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type stubRunner struct {
	jobs   []embeddings.Job
	inline []bool
	err    error
}

func (s *stubRunner) Run(_ context.Context, job embeddings.Job, inline bool) (backfill.Outcome, error) {
	s.jobs = append(s.jobs, job)
	s.inline = append(s.inline, inline)
	if !inline {
		return backfill.Outcome{Kind: job.Kind, Queued: true}, s.err
	}
	return backfill.Outcome{Kind: job.Kind, Results: []embeddings.Result{{Outcome: embeddings.OutcomeGenerated}}}, s.err
}

func TestEmbeddingsRequestQueuesOrganization(t *testing.T) {
	runner := &stubRunner{}
	org := uuid.New()
	body := `{"organization_id":"` + org.String() + `","force":true}`
	rec := httptest.NewRecorder()

	EmbeddingsRequest(runner, testLogger()).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/embeddings", strings.NewReader(body)))

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, runner.jobs, 1)
	assert.Equal(t, embeddings.JobOrganization, runner.jobs[0].Kind)
	assert.Equal(t, org, runner.jobs[0].OrganizationID)
	assert.True(t, runner.jobs[0].Force)
	assert.False(t, runner.inline[0])
}

func TestEmbeddingsRequestSyncMedia(t *testing.T) {
	runner := &stubRunner{}
	body := `{"media_id":"` + uuid.NewString() + `","sync":true,"dry_run":true}`
	rec := httptest.NewRecorder()

	EmbeddingsRequest(runner, testLogger()).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/embeddings", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, runner.jobs, 1)
	assert.Equal(t, embeddings.JobMedia, runner.jobs[0].Kind)
	assert.True(t, runner.jobs[0].DryRun)
	assert.True(t, runner.inline[0])
}

func TestEmbeddingsRequestRequiresExactlyOneTarget(t *testing.T) {
	runner := &stubRunner{}
	for _, body := range []string{
		`{}`,
		`{"all":true,"organization_id":"` + uuid.NewString() + `"}`,
	} {
		rec := httptest.NewRecorder()
		EmbeddingsRequest(runner, testLogger()).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/embeddings", strings.NewReader(body)))
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
	assert.Empty(t, runner.jobs)
}

func TestEmbeddingsRequestQueueFailure(t *testing.T) {
	runner := &stubRunner{err: pkgerrors.New(pkgerrors.CodeTransient, "publish failed")}
	rec := httptest.NewRecorder()

	EmbeddingsRequest(runner, testLogger()).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/embeddings", strings.NewReader(`{"all":true}`)))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type stubSearch struct {
	query search.Query
	resp  search.Response
	err   error
}

func (s *stubSearch) Search(_ context.Context, q search.Query) (search.Response, error) {
	s.query = q
	return s.resp, s.err
}

func TestSearchParsesFiltersAndReturnsMode(t *testing.T) {
	org := uuid.New()
	sim := 0.91
	svc := &stubSearch{resp: search.Response{
		Mode:    search.ModeSemantic,
		Results: []search.Result{{Media: models.Media{ID: uuid.New(), Name: "demo", Type: enums.MediaTypeVideo}, Similarity: &sim}},
	}}
	url := "/api/v1/search?q=product+demo&organization_id=" + org.String() + "&type=video,studio_recording&status=complete&threshold=0.6&limit=5"
	rec := httptest.NewRecorder()

	Search(svc, testLogger()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "product demo", svc.query.Text)
	assert.Equal(t, org, svc.query.OrganizationID)
	assert.Equal(t, []enums.MediaType{enums.MediaTypeVideo, enums.MediaTypeStudioRecording}, svc.query.Filters.Types)
	assert.Equal(t, []enums.MediaStatus{enums.MediaStatusComplete}, svc.query.Filters.Statuses)
	require.NotNil(t, svc.query.SimilarityThreshold)
	assert.InDelta(t, 0.6, *svc.query.SimilarityThreshold, 1e-9)
	assert.Equal(t, 5, svc.query.MaxResults)

	var body struct {
		Mode    string `json:"mode"`
		Results []struct {
			Similarity float64 `json:"similarity"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &body))
	assert.Equal(t, "semantic", body.Mode)
	require.Len(t, body.Results, 1)
	assert.InDelta(t, 0.91, body.Results[0].Similarity, 1e-9)
}

func TestSearchRejectsBadParameters(t *testing.T) {
	svc := &stubSearch{}
	org := uuid.NewString()
	for _, url := range []string{
		"/api/v1/search?q=demo",
		"/api/v1/search?q=demo&organization_id=nope",
		"/api/v1/search?q=demo&organization_id=" + org + "&threshold=1.5",
		"/api/v1/search?q=demo&organization_id=" + org + "&type=hologram",
	} {
		rec := httptest.NewRecorder()
		Search(svc, testLogger()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, url)
	}
}

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

func TestHealthReady(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{Env: "test"}}

	rec := httptest.NewRecorder()
	HealthReady(cfg, testLogger(), map[string]Pinger{"db": stubPinger{}, "redis": stubPinger{}, "pubsub": nil}).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	HealthReady(cfg, testLogger(), map[string]Pinger{"db": stubPinger{}, "redis": stubPinger{err: errors.New("refused")}}).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, string(pkgerrors.CodeDependency), decode(t, rec).Error.Code)
}
