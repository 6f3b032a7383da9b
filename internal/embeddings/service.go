package embeddings

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/studioflow-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/studioflow-backend/pkg/errors"
	"github.com/angelmondragon/studioflow-backend/pkg/logger"
	"github.com/angelmondragon/studioflow-backend/pkg/metrics"
)

// Outcome describes what GenerateForMedia did.
type Outcome string

const (
	OutcomeGenerated     Outcome = "generated"
	OutcomeSkipped       Outcome = "skipped"
	OutcomeFailed        Outcome = "failed"
	OutcomeWouldGenerate Outcome = "would_generate"
)

// Result reports one media embedding attempt.
type Result struct {
	MediaID   uuid.UUID `json:"media_id"`
	Outcome   Outcome   `json:"outcome"`
	Dimension int       `json:"dimension,omitempty"`
	Error     string    `json:"error,omitempty"`
}

type mediaStore interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Media, error)
	SetEmbedding(ctx context.Context, id uuid.UUID, vec []float32) error
}

type summarizer interface {
	Summarize(ctx context.Context, m *models.Media, force bool) (*models.EmbeddingText, error)
}

// ServiceParams wires a Service.
type ServiceParams struct {
	Logger     *logger.Logger
	Media      mediaStore
	Strategy   *Strategy
	Summarizer summarizer
	Metrics    *metrics.EmbeddingMetrics
}

// Service generates and persists media embeddings.
type Service struct {
	logg       *logger.Logger
	media      mediaStore
	backend    Backend
	index      VectorIndex
	summarizer summarizer
	metrics    *metrics.EmbeddingMetrics
}

func NewService(p ServiceParams) (*Service, error) {
	if p.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if p.Media == nil {
		return nil, errors.New("media store is required")
	}
	if p.Strategy == nil || p.Strategy.Backend == nil {
		return nil, errors.New("embedding strategy is required")
	}
	return &Service{
		logg:       p.Logger,
		media:      p.Media,
		backend:    p.Strategy.Backend,
		index:      p.Strategy.Index,
		summarizer: p.Summarizer,
		metrics:    p.Metrics,
	}, nil
}

// GenerateForMedia embeds one media record. Records that already carry an
// embedding are skipped unless force is set; force also regenerates the
// cached visual summary.
func (s *Service) GenerateForMedia(ctx context.Context, id uuid.UUID, force bool) (Result, error) {
	return s.generate(ctx, id, force, false)
}

// Plan reports what GenerateForMedia would do without calling any provider.
func (s *Service) Plan(ctx context.Context, id uuid.UUID, force bool) (Result, error) {
	return s.generate(ctx, id, force, true)
}

// GenerateMany embeds ids in order. Individual failures are reported in the
// results and combined into the returned error.
func (s *Service) GenerateMany(ctx context.Context, ids []uuid.UUID, force, dryRun bool) ([]Result, error) {
	results := make([]Result, 0, len(ids))
	var errs error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return results, multierr.Append(errs, err)
		}
		res, err := s.generate(ctx, id, force, dryRun)
		results = append(results, res)
		errs = multierr.Append(errs, err)
	}
	return results, errs
}

func (s *Service) generate(ctx context.Context, id uuid.UUID, force, dryRun bool) (Result, error) {
	ctx = s.logg.WithMediaID(ctx, id.String())
	res := Result{MediaID: id}

	m, err := s.media.FindByID(ctx, id)
	if err != nil {
		return s.fail(ctx, res, err)
	}
	if !m.Status.Visible() || (m.Embedding != nil && !force) {
		res.Outcome = OutcomeSkipped
		return res, nil
	}
	if dryRun {
		res.Outcome = OutcomeWouldGenerate
		return res, nil
	}

	if m.Type.IsVisual() && s.summarizer != nil && (force || m.CachedSummary() == "") {
		summary, err := s.summarizer.Summarize(ctx, m, force)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return s.fail(ctx, res, ctx.Err())
			}
			// The record is still searchable by its other fields.
			s.logg.Error(ctx, "visual summary failed, embedding without it", err)
		case summary != nil:
			m.EmbeddingText = summary
		}
	}

	text := BuildText(m)
	vec, err := s.backend.GenerateEmbedding(ctx, text)
	if err != nil {
		return s.fail(ctx, res, err)
	}
	if vec == nil {
		return s.fail(ctx, res, pkgerrors.New(pkgerrors.CodeValidation, "media has no embeddable text"))
	}

	if err := s.media.SetEmbedding(ctx, m.ID, vec); err != nil {
		return s.fail(ctx, res, err)
	}
	if s.index != nil {
		attrs := map[string]string{"type": m.Type.String(), "status": m.Status.String()}
		if err := s.index.Upsert(ctx, m.OrganizationID, m.ID, vec, attrs); err != nil {
			return s.fail(ctx, res, err)
		}
	}

	s.metrics.IncGenerated(s.backend.Name())
	res.Outcome = OutcomeGenerated
	res.Dimension = len(vec)
	s.logg.Info(s.logg.WithField(ctx, "dimension", len(vec)), "embedding generated")
	return res, nil
}

func (s *Service) fail(ctx context.Context, res Result, err error) (Result, error) {
	s.metrics.IncFailed(s.backend.Name())
	s.logg.Error(ctx, "embedding generation failed", err)
	res.Outcome = OutcomeFailed
	res.Error = err.Error()
	return res, err
}
