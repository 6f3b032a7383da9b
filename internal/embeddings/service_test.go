package embeddings

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/studioflow-backend/internal/dbtest"
	"github.com/angelmondragon/studioflow-backend/internal/media"
	"github.com/angelmondragon/studioflow-backend/pkg/db/models"
	"github.com/angelmondragon/studioflow-backend/pkg/enums"
)

type fakeBackend struct {
	dim   int
	err   error
	texts []string
}

func (f *fakeBackend) Name() string   { return "fake" }
func (f *fakeBackend) Model() string  { return "fake-model" }
func (f *fakeBackend) Dimension() int { return f.dim }

func (f *fakeBackend) GenerateEmbedding(_ context.Context, text string) ([]float32, error) {
	f.texts = append(f.texts, text)
	if f.err != nil {
		return nil, f.err
	}
	if text == "" {
		return nil, nil
	}
	return Normalize([]float32{0.25, -1.5, float32(len(text))}, f.dim), nil
}

func (f *fakeBackend) GenerateQueryEmbedding(ctx context.Context, text string) ([]float32, error) {
	return f.GenerateEmbedding(ctx, text)
}

func (f *fakeBackend) GenerateEmbeddingsBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = f.GenerateEmbedding(ctx, t)
	}
	return out, nil
}

type fakeSummarizer struct {
	calls   int
	err     error
	summary string
}

func (f *fakeSummarizer) Summarize(_ context.Context, m *models.Media, force bool) (*models.EmbeddingText, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &models.EmbeddingText{Summary: f.summary, Model: "vision", GeneratedAt: time.Now().UTC()}, nil
}

type fakeIndex struct {
	upserts []uuid.UUID
}

func (f *fakeIndex) Upsert(_ context.Context, _, mediaID uuid.UUID, _ []float32, _ map[string]string) error {
	f.upserts = append(f.upserts, mediaID)
	return nil
}

func (f *fakeIndex) Query(context.Context, uuid.UUID, []float32, int, IndexFilter) ([]IndexMatch, error) {
	return nil, nil
}

type serviceFixture struct {
	repo       *media.Repository
	org        *models.Organization
	backend    *fakeBackend
	summarizer *fakeSummarizer
	service    *Service
}

func newServiceFixture(t *testing.T, index VectorIndex) *serviceFixture {
	t.Helper()
	repo := media.NewRepository(dbtest.Open(t))
	org := &models.Organization{Name: "Acme", Slug: "acme"}
	require.NoError(t, repo.CreateOrganization(context.Background(), org))

	f := &serviceFixture{
		repo:       repo,
		org:        org,
		backend:    &fakeBackend{dim: 6},
		summarizer: &fakeSummarizer{summary: "kitchen island with white marble countertop"},
	}
	svc, err := NewService(ServiceParams{
		Logger:     testLogger(),
		Media:      repo,
		Strategy:   &Strategy{Backend: f.backend, Index: index},
		Summarizer: f.summarizer,
	})
	require.NoError(t, err)
	f.service = svc
	return f
}

func (f *serviceFixture) image(t *testing.T, name string) *models.Media {
	t.Helper()
	m, err := f.repo.Create(context.Background(), &models.Media{
		OrganizationID: f.org.ID,
		Name:           name,
		Type:           enums.MediaTypeImage,
		Status:         enums.MediaStatusComplete,
		StorageURLPath: "uploads/" + name,
		Tags:           pq.StringArray{"interior", "kitchen"},
		Metadata:       models.NewImageMetadata(models.ImageMetadata{Format: "jpg"}),
	})
	require.NoError(t, err)
	return m
}

func TestBuildTextIsDeterministic(t *testing.T) {
	m := &models.Media{
		Name:          "Kitchen  shot",
		Type:          enums.MediaTypeImage,
		Tags:          pq.StringArray{"interior", "kitchen"},
		Metadata:      models.NewImageMetadata(models.ImageMetadata{Format: "jpg"}),
		EmbeddingText: &models.EmbeddingText{Summary: "a marble island"},
	}
	want := "Name: Kitchen shot | Type: image | Visual summary: a marble island | Tags: interior, kitchen | Format: jpg"
	assert.Equal(t, want, BuildText(m))
	assert.Equal(t, BuildText(m), BuildText(m))
}

func TestBuildTextSkipsSummaryForAudio(t *testing.T) {
	m := &models.Media{
		Name:          "Podcast",
		Type:          enums.MediaTypeAudio,
		EmbeddingText: &models.EmbeddingText{Summary: "ignored"},
		Metadata:      models.NewVideoMetadata(models.VideoMetadata{Format: "mp3", DurationSeconds: 61.5}),
	}
	assert.Equal(t, "Name: Podcast | Type: audio | Format: mp3 | Duration: 61.5s", BuildText(m))
	assert.Empty(t, BuildText(nil))
}

func TestGenerateForMediaPersistsNormalizedVector(t *testing.T) {
	f := newServiceFixture(t, nil)
	m := f.image(t, "kitchen.jpg")

	res, err := f.service.GenerateForMedia(context.Background(), m.ID, false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeGenerated, res.Outcome)
	assert.Equal(t, 6, res.Dimension)
	assert.Equal(t, 1, f.summarizer.calls)
	require.Len(t, f.backend.texts, 1)
	assert.Contains(t, f.backend.texts[0], "Visual summary: kitchen island with white marble countertop")

	stored, err := f.repo.FindByID(context.Background(), m.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Embedding)
	want := Normalize([]float32{0.25, -1.5, float32(len(f.backend.texts[0]))}, 6)
	assert.Equal(t, want, stored.Embedding.Slice())
}

func TestGenerateForMediaSkipsEmbeddedUnlessForced(t *testing.T) {
	f := newServiceFixture(t, nil)
	m := f.image(t, "kitchen.jpg")
	require.NoError(t, f.repo.SetEmbedding(context.Background(), m.ID, []float32{1, 2, 3, 4, 5, 6}))

	res, err := f.service.GenerateForMedia(context.Background(), m.ID, false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.Empty(t, f.backend.texts)

	res, err = f.service.GenerateForMedia(context.Background(), m.ID, true)
	require.NoError(t, err)
	assert.Equal(t, OutcomeGenerated, res.Outcome)
}

func TestGenerateForMediaUsesCachedSummary(t *testing.T) {
	f := newServiceFixture(t, nil)
	m := f.image(t, "kitchen.jpg")
	require.NoError(t, f.repo.SetEmbeddingText(context.Background(), m.ID, models.EmbeddingText{Summary: "cached words", Model: "vision"}))

	_, err := f.service.GenerateForMedia(context.Background(), m.ID, false)
	require.NoError(t, err)
	assert.Equal(t, 0, f.summarizer.calls)
	assert.Contains(t, f.backend.texts[0], "cached words")
}

func TestSummaryFailureIsNotFatal(t *testing.T) {
	f := newServiceFixture(t, nil)
	f.summarizer.err = errors.New("vision quota")
	m := f.image(t, "kitchen.jpg")

	res, err := f.service.GenerateForMedia(context.Background(), m.ID, false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeGenerated, res.Outcome)
	assert.NotContains(t, f.backend.texts[0], "Visual summary")
}

func TestBackendFailureReportsFailedOutcome(t *testing.T) {
	f := newServiceFixture(t, nil)
	f.backend.err = errors.New("provider down")
	m := f.image(t, "kitchen.jpg")

	res, err := f.service.GenerateForMedia(context.Background(), m.ID, false)
	require.Error(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.NotEmpty(t, res.Error)

	stored, err := f.repo.FindByID(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.Embedding)
}

func TestGenerateManyDryRunAndIndexUpsert(t *testing.T) {
	index := &fakeIndex{}
	f := newServiceFixture(t, index)
	a := f.image(t, "a.jpg")
	b := f.image(t, "b.jpg")

	results, err := f.service.GenerateMany(context.Background(), []uuid.UUID{a.ID, b.ID}, false, true)
	require.NoError(t, err)
	for _, r := range results {
		assert.Equal(t, OutcomeWouldGenerate, r.Outcome)
	}
	assert.Empty(t, f.backend.texts)

	results, err = f.service.GenerateMany(context.Background(), []uuid.UUID{a.ID, uuid.New(), b.ID}, false, false)
	require.Error(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, OutcomeGenerated, results[0].Outcome)
	assert.Equal(t, OutcomeFailed, results[1].Outcome)
	assert.Equal(t, OutcomeGenerated, results[2].Outcome)
	assert.Equal(t, []uuid.UUID{a.ID, b.ID}, index.upserts)
}

func TestJobValidate(t *testing.T) {
	assert.Error(t, Job{Kind: JobMedia}.Validate())
	assert.Error(t, Job{Kind: JobOrganization}.Validate())
	assert.Error(t, Job{Kind: "weird"}.Validate())
	assert.NoError(t, Job{Kind: JobAll}.Validate())
	assert.NoError(t, Job{Kind: JobOrganization, OrganizationID: uuid.New()}.Validate())
}

type recordingQueue struct {
	jobs []Job
}

func (q *recordingQueue) Enqueue(_ context.Context, job Job) error {
	q.jobs = append(q.jobs, job)
	return nil
}

func TestQueueRequesterPublishesMediaJob(t *testing.T) {
	q := &recordingQueue{}
	org, id := uuid.New(), uuid.New()
	require.NoError(t, NewQueueRequester(q).RequestEmbedding(context.Background(), org, id))
	require.Len(t, q.jobs, 1)
	assert.Equal(t, JobMedia, q.jobs[0].Kind)
	assert.Equal(t, []uuid.UUID{id}, q.jobs[0].MediaIDs)
}
