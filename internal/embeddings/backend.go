// Package embeddings turns media into fixed-width vectors. One Backend is
// chosen from configuration at startup; every backend normalizes its output
// to the configured dimension before anything is persisted.
package embeddings

import (
	"context"
	"strings"
	"time"

	pkgerrors "github.com/angelmondragon/studioflow-backend/pkg/errors"
	"github.com/angelmondragon/studioflow-backend/pkg/logger"
	"github.com/angelmondragon/studioflow-backend/pkg/metrics"
)

// Backend produces embeddings for text.
type Backend interface {
	Name() string
	Model() string
	Dimension() int
	// GenerateEmbedding returns nil for blank text.
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
	// GenerateQueryEmbedding embeds search text. Models that embed queries
	// and documents differently use their query mode here.
	GenerateQueryEmbedding(ctx context.Context, text string) ([]float32, error)
	// GenerateEmbeddingsBatch returns one entry per input, nil where the input
	// was blank or could not be embedded.
	GenerateEmbeddingsBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Normalize zero-pads or truncates vec to exactly dim entries.
func Normalize(vec []float32, dim int) []float32 {
	if dim <= 0 {
		return nil
	}
	out := make([]float32, dim)
	copy(out, vec)
	return out
}

// provider is the raw model call behind a backend.
type provider interface {
	embed(ctx context.Context, texts []string) ([][]float32, error)
}

// queryProvider is a provider with a separate retrieval-query mode.
type queryProvider interface {
	embedQuery(ctx context.Context, texts []string) ([][]float32, error)
}

type rateLimiter interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

type backend struct {
	name      string
	model     string
	dimension int
	provider  provider
	retry     retryPolicy
	limiter   rateLimiter
	limit     int64
	metrics   *metrics.EmbeddingMetrics
	logg      *logger.Logger
}

func (b *backend) Name() string   { return b.name }
func (b *backend) Model() string  { return b.model }
func (b *backend) Dimension() int { return b.dimension }

func (b *backend) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	return b.single(ctx, text, b.provider.embed)
}

func (b *backend) GenerateQueryEmbedding(ctx context.Context, text string) ([]float32, error) {
	if qp, ok := b.provider.(queryProvider); ok {
		return b.single(ctx, text, qp.embedQuery)
	}
	return b.single(ctx, text, b.provider.embed)
}

func (b *backend) single(ctx context.Context, text string, embed embedFunc) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	vecs, err := b.call(ctx, []string{text}, embed)
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "embedding provider returned no vector")
	}
	return Normalize(vecs[0], b.dimension), nil
}

func (b *backend) GenerateEmbeddingsBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var (
		positions []int
		pending   []string
	)
	for i, text := range texts {
		if strings.TrimSpace(text) != "" {
			positions = append(positions, i)
			pending = append(pending, text)
		}
	}
	if len(pending) == 0 {
		return out, nil
	}

	vecs, err := b.call(ctx, pending, b.provider.embed)
	if err == nil && len(vecs) == len(pending) {
		for i, vec := range vecs {
			if len(vec) > 0 {
				out[positions[i]] = Normalize(vec, b.dimension)
			}
		}
		return out, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	// The batch call failed as a whole; fall back to one call per input so a
	// single bad text does not blank the rest.
	for i, text := range pending {
		vec, err := b.GenerateEmbedding(ctx, text)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			b.logg.Warn(b.logg.WithField(ctx, "batch_index", positions[i]), "embedding batch entry failed")
			continue
		}
		out[positions[i]] = vec
	}
	return out, nil
}

type embedFunc func(ctx context.Context, texts []string) ([][]float32, error)

// call runs embed under the rate limit and retry policy.
func (b *backend) call(ctx context.Context, texts []string, embed embedFunc) ([][]float32, error) {
	var vecs [][]float32
	err := b.retry.do(ctx, func(attempt int) error {
		if attempt > 0 {
			b.metrics.IncRetry(b.name)
		}
		if err := b.acquire(ctx); err != nil {
			return err
		}
		var err error
		vecs, err = embed(ctx, texts)
		return err
	})
	return vecs, err
}

func (b *backend) acquire(ctx context.Context) error {
	if b.limiter == nil || b.limit <= 0 {
		return nil
	}
	allowed, _, err := b.limiter.FixedWindowAllow(ctx, "embeddings:"+b.name, b.limit, time.Minute)
	if err != nil {
		// Redis being down should not stop embedding work.
		b.logg.Warn(ctx, "embedding rate limiter unavailable")
		return nil
	}
	if !allowed {
		return pkgerrors.New(pkgerrors.CodeRateLimit, "embedding rate limit reached")
	}
	return nil
}
