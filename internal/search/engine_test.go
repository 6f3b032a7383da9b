package search

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/studioflow-backend/internal/dbtest"
	"github.com/angelmondragon/studioflow-backend/internal/embeddings"
	"github.com/angelmondragon/studioflow-backend/internal/media"
	"github.com/angelmondragon/studioflow-backend/pkg/config"
	"github.com/angelmondragon/studioflow-backend/pkg/db/models"
	"github.com/angelmondragon/studioflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/studioflow-backend/pkg/errors"
	"github.com/angelmondragon/studioflow-backend/pkg/logger"
)

// keywordEmbedder maps a few words onto fixed axes so similarity is
// predictable.
type keywordEmbedder struct {
	err   error
	calls int
}

func (k *keywordEmbedder) GenerateQueryEmbedding(_ context.Context, text string) ([]float32, error) {
	k.calls++
	if k.err != nil {
		return nil, k.err
	}
	text = strings.ToLower(text)
	vec := []float32{0, 0, 0}
	if strings.Contains(text, "kitchen") {
		vec[0] += 0.9
	}
	if strings.Contains(text, "island") {
		vec[0] += 0.3
		vec[1] += 0.1
	}
	if strings.Contains(text, "bath") {
		vec[1] += 1
	}
	if strings.Contains(text, "garden") {
		vec[2] += 1
	}
	return vec, nil
}

type stubIndex struct {
	matches []embeddings.IndexMatch
	err     error
	topK    int
}

func (s *stubIndex) Upsert(context.Context, uuid.UUID, uuid.UUID, []float32, map[string]string) error {
	return nil
}

func (s *stubIndex) Query(_ context.Context, _ uuid.UUID, _ []float32, topK int, _ embeddings.IndexFilter) ([]embeddings.IndexMatch, error) {
	s.topK = topK
	return s.matches, s.err
}

type fixture struct {
	repo     *media.Repository
	org      *models.Organization
	embedder *keywordEmbedder
	engine   *Engine
	kitchen  *models.Media
	kitchen2 *models.Media
	bath     *models.Media
	garden   *models.Media
}

var testConfig = config.SearchConfig{MinQueryLength: 3, DefaultThreshold: 0.3, DefaultMaxResults: 20, CandidateMultiplier: 3}

func newFixture(t *testing.T, index embeddings.VectorIndex) *fixture {
	t.Helper()
	ctx := context.Background()
	repo := media.NewRepository(dbtest.Open(t))
	org := &models.Organization{Name: "Acme", Slug: "acme"}
	require.NoError(t, repo.CreateOrganization(ctx, org))

	f := &fixture{repo: repo, org: org, embedder: &keywordEmbedder{}}
	add := func(name, summary string, typ enums.MediaType, vec []float32) *models.Media {
		m, err := repo.Create(ctx, &models.Media{
			OrganizationID: org.ID,
			Name:           name,
			Type:           typ,
			Status:         enums.MediaStatusComplete,
			Metadata:       models.NewImageMetadata(models.ImageMetadata{Format: "jpg"}),
		})
		require.NoError(t, err)
		require.NoError(t, repo.SetEmbeddingText(ctx, m.ID, models.EmbeddingText{Summary: summary, Model: "vision"}))
		if vec != nil {
			require.NoError(t, repo.SetEmbedding(ctx, m.ID, vec))
		}
		return m
	}
	f.kitchen = add("IMG_0001.jpg", "kitchen island with white marble countertop", enums.MediaTypeImage, []float32{1, 0, 0})
	f.kitchen2 = add("IMG_0002.jpg", "kitchen with wooden cabinets", enums.MediaTypeVideo, []float32{0.8, 0.6, 0})
	f.bath = add("IMG_0003.jpg", "bathroom with tiled shower", enums.MediaTypeImage, []float32{0, 1, 0})
	f.garden = add("IMG_0004.jpg", "garden path", enums.MediaTypeImage, nil)

	var err error
	f.engine, err = NewEngine(Params{
		Logger:   logger.New(logger.Options{ServiceName: "search-test", Output: io.Discard}),
		Config:   testConfig,
		Repo:     repo,
		Embedder: f.embedder,
		Index:    index,
	})
	require.NoError(t, err)
	return f
}

func ids(results []Result) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(results))
	for _, r := range results {
		out = append(out, r.Media.ID)
	}
	return out
}

func TestSearchRanksByCosineDistance(t *testing.T) {
	f := newFixture(t, nil)
	threshold := 0.3
	resp, err := f.engine.Search(context.Background(), Query{Text: "kitchen island", OrganizationID: f.org.ID, SimilarityThreshold: &threshold})
	require.NoError(t, err)
	require.Equal(t, ModeSemantic, resp.Mode)
	require.NotEmpty(t, resp.Results)

	assert.Equal(t, f.kitchen.ID, resp.Results[0].Media.ID)
	assert.GreaterOrEqual(t, *resp.Results[0].Similarity, 0.3)
	assert.NotContains(t, ids(resp.Results), f.bath.ID)
	for i, r := range resp.Results {
		assert.LessOrEqual(t, *r.Distance, 1-threshold)
		if i > 0 {
			assert.GreaterOrEqual(t, *r.Distance, *resp.Results[i-1].Distance)
		}
	}
}

func TestSearchAppliesFiltersAndLimit(t *testing.T) {
	f := newFixture(t, nil)
	resp, err := f.engine.Search(context.Background(), Query{
		Text:           "kitchen",
		OrganizationID: f.org.ID,
		Filters:        media.Filters{Types: []enums.MediaType{enums.MediaTypeVideo}},
	})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{f.kitchen2.ID}, ids(resp.Results))

	resp, err = f.engine.Search(context.Background(), Query{Text: "kitchen", OrganizationID: f.org.ID, MaxResults: 1})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 1)
}

func TestSearchFallsBackWhenEmbeddingFails(t *testing.T) {
	f := newFixture(t, nil)
	f.embedder.err = pkgerrors.New(pkgerrors.CodeTransient, "provider down")

	resp, err := f.engine.Search(context.Background(), Query{Text: "marble", OrganizationID: f.org.ID})
	require.NoError(t, err)
	assert.Equal(t, ModeKeyword, resp.Mode)
	assert.Equal(t, ReasonEmbeddingFailed, resp.FallbackReason)
	assert.Equal(t, []uuid.UUID{f.kitchen.ID}, ids(resp.Results))
	assert.Nil(t, resp.Results[0].Similarity)

	resp, err = f.engine.Search(context.Background(), Query{Text: "no such words anywhere", OrganizationID: f.org.ID})
	require.NoError(t, err)
	assert.NotNil(t, resp.Results)
	assert.Empty(t, resp.Results)
}

func TestShortQueryUsesKeywordPath(t *testing.T) {
	f := newFixture(t, nil)
	resp, err := f.engine.Search(context.Background(), Query{Text: "ga", OrganizationID: f.org.ID})
	require.NoError(t, err)
	assert.Equal(t, ReasonShortQuery, resp.FallbackReason)
	assert.Equal(t, 0, f.embedder.calls)
	assert.Contains(t, ids(resp.Results), f.garden.ID)
}

func TestEmptySemanticResultFallsBack(t *testing.T) {
	f := newFixture(t, nil)
	resp, err := f.engine.Search(context.Background(), Query{Text: "garden", OrganizationID: f.org.ID})
	require.NoError(t, err)
	assert.Equal(t, ReasonNoResults, resp.FallbackReason)
	assert.Equal(t, []uuid.UUID{f.garden.ID}, ids(resp.Results))
}

func TestSearchRejectsMalformedQueries(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.engine.Search(context.Background(), Query{Text: "kitchen"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = f.engine.Search(context.Background(), Query{Text: "kitchen", OrganizationID: uuid.New()})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = f.engine.Search(context.Background(), Query{Text: "  ", OrganizationID: f.org.ID})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

type orgLookupFailure struct {
	*media.Repository
}

func (orgLookupFailure) FindOrganizationByID(context.Context, uuid.UUID) (*models.Organization, error) {
	return nil, pkgerrors.New(pkgerrors.CodeTransient, "connection reset")
}

func TestOrganizationLookupFailureStillSearches(t *testing.T) {
	f := newFixture(t, nil)
	engine, err := NewEngine(Params{
		Logger:   logger.New(logger.Options{ServiceName: "search-test", Output: io.Discard}),
		Config:   testConfig,
		Repo:     orgLookupFailure{f.repo},
		Embedder: f.embedder,
	})
	require.NoError(t, err)

	resp, err := engine.Search(context.Background(), Query{Text: "kitchen", OrganizationID: f.org.ID})
	require.NoError(t, err)
	assert.Equal(t, ModeSemantic, resp.Mode)
	assert.Equal(t, f.kitchen.ID, resp.Results[0].Media.ID)
}

func TestIndexStrategyHydratesRows(t *testing.T) {
	index := &stubIndex{}
	f := newFixture(t, index)
	index.matches = []embeddings.IndexMatch{
		{MediaID: f.kitchen2.ID, Score: 0.8},
		{MediaID: f.kitchen.ID, Score: 0.95},
		{MediaID: uuid.New(), Score: 0.9},
		{MediaID: f.bath.ID, Score: 0.1},
	}

	resp, err := f.engine.Search(context.Background(), Query{Text: "kitchen", OrganizationID: f.org.ID, MaxResults: 5})
	require.NoError(t, err)
	assert.Equal(t, ModeSemantic, resp.Mode)
	assert.Equal(t, []uuid.UUID{f.kitchen.ID, f.kitchen2.ID}, ids(resp.Results))
	assert.InDelta(t, 0.95, *resp.Results[0].Similarity, 1e-9)
	assert.Equal(t, 15, index.topK)
}

func TestIndexFailureFallsBack(t *testing.T) {
	f := newFixture(t, &stubIndex{err: errors.New("index down")})
	resp, err := f.engine.Search(context.Background(), Query{Text: "bathroom", OrganizationID: f.org.ID})
	require.NoError(t, err)
	assert.Equal(t, ReasonSemanticFailed, resp.FallbackReason)
	assert.Equal(t, []uuid.UUID{f.bath.ID}, ids(resp.Results))
}
