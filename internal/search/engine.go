// Package search ranks an organization's media by semantic similarity to a
// query and falls back to keyword matching whenever the semantic path cannot
// answer.
package search

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/angelmondragon/studioflow-backend/internal/embeddings"
	"github.com/angelmondragon/studioflow-backend/internal/media"
	"github.com/angelmondragon/studioflow-backend/pkg/config"
	"github.com/angelmondragon/studioflow-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/studioflow-backend/pkg/errors"
	"github.com/angelmondragon/studioflow-backend/pkg/logger"
	"github.com/angelmondragon/studioflow-backend/pkg/metrics"
)

const maxResultsCeiling = 100

// Mode names the path that produced a response.
type Mode string

const (
	ModeSemantic Mode = "semantic"
	ModeKeyword  Mode = "keyword"
)

// Fallback reasons, also used as metric labels.
const (
	ReasonShortQuery      = "short_query"
	ReasonEmbeddingFailed = "embedding_failed"
	ReasonSemanticFailed  = "semantic_failed"
	ReasonNoResults       = "no_semantic_results"
)

// Query is one search request. A nil SimilarityThreshold or a zero
// MaxResults take the configured defaults.
type Query struct {
	Text                string
	OrganizationID      uuid.UUID
	Filters             media.Filters
	SimilarityThreshold *float64
	MaxResults          int
}

// Result is one ranked hit. Similarity and Distance are set only for
// semantic results.
type Result struct {
	Media      models.Media
	Similarity *float64
	Distance   *float64
}

type Response struct {
	Mode           Mode
	FallbackReason string
	Results        []Result
}

type repository interface {
	FindOrganizationByID(ctx context.Context, id uuid.UUID) (*models.Organization, error)
	NearestByCosine(ctx context.Context, organizationID uuid.UUID, query []float32, f media.Filters, maxDistance float64, limit int) ([]media.Scored, error)
	KeywordSearch(ctx context.Context, organizationID uuid.UUID, text string, f media.Filters, limit int) ([]models.Media, error)
	FindByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Media, error)
}

type embedder interface {
	GenerateQueryEmbedding(ctx context.Context, text string) ([]float32, error)
}

// Params wires an Engine. Index is optional; when set, candidates come from
// the external index and rows are hydrated from the database.
type Params struct {
	Logger   *logger.Logger
	Config   config.SearchConfig
	Repo     repository
	Embedder embedder
	Index    embeddings.VectorIndex
	Metrics  *metrics.EmbeddingMetrics
}

type Engine struct {
	logg     *logger.Logger
	cfg      config.SearchConfig
	repo     repository
	embedder embedder
	index    embeddings.VectorIndex
	metrics  *metrics.EmbeddingMetrics
}

func NewEngine(p Params) (*Engine, error) {
	switch {
	case p.Logger == nil:
		return nil, errors.New("logger is required")
	case p.Repo == nil:
		return nil, errors.New("media repository is required")
	case p.Embedder == nil:
		return nil, errors.New("embedder is required")
	}
	cfg := p.Config
	if cfg.DefaultMaxResults <= 0 {
		cfg.DefaultMaxResults = 20
	}
	if cfg.CandidateMultiplier <= 0 {
		cfg.CandidateMultiplier = 3
	}
	return &Engine{logg: p.Logger, cfg: cfg, repo: p.Repo, embedder: p.Embedder, index: p.Index, metrics: p.Metrics}, nil
}

// Search returns matching media, best first. It fails only for a malformed
// query; every other problem degrades to the keyword path.
func (e *Engine) Search(ctx context.Context, q Query) (Response, error) {
	text := strings.TrimSpace(q.Text)
	if q.OrganizationID == uuid.Nil {
		return Response{}, pkgerrors.New(pkgerrors.CodeValidation, "organization is required")
	}
	if text == "" {
		return Response{}, pkgerrors.New(pkgerrors.CodeValidation, "query text is required")
	}
	if _, err := e.repo.FindOrganizationByID(ctx, q.OrganizationID); err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return Response{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown organization %s", q.OrganizationID))
		}
		// the query itself is well formed; the org-scoped queries below degrade on their own
		e.logg.Error(e.logg.WithOrganizationID(ctx, q.OrganizationID.String()), "organization lookup failed", err)
	}
	ctx = e.logg.WithOrganizationID(ctx, q.OrganizationID.String())

	threshold := e.cfg.DefaultThreshold
	if q.SimilarityThreshold != nil {
		threshold = *q.SimilarityThreshold
	}
	threshold = min(max(threshold, 0), 1)
	limit := q.MaxResults
	if limit <= 0 {
		limit = e.cfg.DefaultMaxResults
	}
	limit = min(limit, maxResultsCeiling)

	if utf8.RuneCountInString(text) < e.cfg.MinQueryLength {
		return e.keyword(ctx, q, text, limit, ReasonShortQuery), nil
	}

	vec, err := e.embedder.GenerateQueryEmbedding(ctx, text)
	if err != nil || vec == nil {
		if err != nil {
			e.logg.Error(ctx, "query embedding failed", err)
		}
		return e.keyword(ctx, q, text, limit, ReasonEmbeddingFailed), nil
	}

	var results []Result
	if e.index != nil {
		results, err = e.semanticIndex(ctx, q, vec, threshold, limit)
	} else {
		results, err = e.semanticColumn(ctx, q, vec, threshold, limit)
	}
	if err != nil {
		e.logg.Error(ctx, "semantic search failed", err)
		return e.keyword(ctx, q, text, limit, ReasonSemanticFailed), nil
	}
	if len(results) == 0 {
		return e.keyword(ctx, q, text, limit, ReasonNoResults), nil
	}
	return Response{Mode: ModeSemantic, Results: results}, nil
}

func (e *Engine) semanticColumn(ctx context.Context, q Query, vec []float32, threshold float64, limit int) ([]Result, error) {
	scored, err := e.repo.NearestByCosine(ctx, q.OrganizationID, vec, q.Filters, 1-threshold, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(scored))
	for _, s := range scored {
		out = append(out, semanticResult(s.Media, s.Distance))
	}
	return out, nil
}

func (e *Engine) semanticIndex(ctx context.Context, q Query, vec []float32, threshold float64, limit int) ([]Result, error) {
	filter := embeddings.IndexFilter{}
	for _, t := range q.Filters.Types {
		filter.Types = append(filter.Types, t.String())
	}
	for _, s := range q.Filters.Statuses {
		filter.Statuses = append(filter.Statuses, s.String())
	}
	matches, err := e.index.Query(ctx, q.OrganizationID, vec, limit*e.cfg.CandidateMultiplier, filter)
	if err != nil {
		return nil, err
	}

	distances := make(map[uuid.UUID]float64, len(matches))
	ids := make([]uuid.UUID, 0, len(matches))
	for _, m := range matches {
		d := 1 - m.Score
		if d > 1-threshold {
			continue
		}
		if _, seen := distances[m.MediaID]; !seen {
			ids = append(ids, m.MediaID)
		}
		distances[m.MediaID] = d
	}
	rows, err := e.repo.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]Result, 0, len(rows))
	for _, row := range rows {
		// The index can lag the database; the row is the source of truth.
		if row.OrganizationID != q.OrganizationID || !matchesFilters(q.Filters, row) {
			continue
		}
		out = append(out, semanticResult(row, distances[row.ID]))
	}
	slices.SortStableFunc(out, func(a, b Result) int {
		switch {
		case *a.Distance < *b.Distance:
			return -1
		case *a.Distance > *b.Distance:
			return 1
		}
		return 0
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// keyword never fails; a broken keyword query yields an empty list.
func (e *Engine) keyword(ctx context.Context, q Query, text string, limit int, reason string) Response {
	e.metrics.IncFallback(reason)
	resp := Response{Mode: ModeKeyword, FallbackReason: reason, Results: []Result{}}
	rows, err := e.repo.KeywordSearch(ctx, q.OrganizationID, text, q.Filters, limit)
	if err != nil {
		e.logg.Error(e.logg.WithField(ctx, "fallback_reason", reason), "keyword search failed", err)
		return resp
	}
	for _, row := range rows {
		resp.Results = append(resp.Results, Result{Media: row})
	}
	return resp
}

func semanticResult(m models.Media, distance float64) Result {
	similarity := 1 - distance
	return Result{Media: m, Similarity: &similarity, Distance: &distance}
}

func matchesFilters(f media.Filters, m models.Media) bool {
	if len(f.Types) > 0 && !slices.Contains(f.Types, m.Type) {
		return false
	}
	if len(f.Statuses) > 0 {
		return slices.Contains(f.Statuses, m.Status)
	}
	return m.Status.Visible()
}
