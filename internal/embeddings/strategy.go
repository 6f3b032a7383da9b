package embeddings

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"

	"github.com/angelmondragon/studioflow-backend/pkg/config"
	"github.com/angelmondragon/studioflow-backend/pkg/logger"
	"github.com/angelmondragon/studioflow-backend/pkg/metrics"
)

// Strategy is the embedding setup resolved once from configuration. Index
// is set only when vectors also live in the managed external index.
type Strategy struct {
	Backend Backend
	Index   VectorIndex

	gemini *genai.Client
}

// StrategyOptions carries the shared clients a strategy may use.
type StrategyOptions struct {
	Logger     *logger.Logger
	Metrics    *metrics.EmbeddingMetrics
	Limiter    rateLimiter
	HTTPClient *http.Client
}

// NewStrategy builds the backend named by cfg.Embedding.Backend.
func NewStrategy(ctx context.Context, cfg *config.Config, opts StrategyOptions) (*Strategy, error) {
	if opts.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	ec := cfg.Embedding
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: ec.RequestTimeout}
	}
	b := &backend{
		dimension: ec.TargetDimension,
		retry: retryPolicy{
			maxRetries: ec.MaxRetries,
			baseDelay:  ec.RetryBaseDelay,
			maxDelay:   ec.RetryMaxDelay,
		},
		limiter: opts.Limiter,
		limit:   ec.RateLimitPerMinute,
		metrics: opts.Metrics,
		logg:    opts.Logger,
	}

	s := &Strategy{Backend: b}
	switch ec.Backend {
	case config.EmbeddingBackendGeminiColumn, config.EmbeddingBackendGeminiIndex:
		client, err := NewGeminiClient(ctx, cfg.Gemini.APIKey)
		if err != nil {
			return nil, err
		}
		s.gemini = client
		b.name = ec.Backend
		b.model = ec.Model
		b.provider = newGeminiProvider(client, ec.Model)
		if ec.Backend == config.EmbeddingBackendGeminiIndex {
			index, err := NewRESTIndex(cfg.VectorIndex, httpClient)
			if err != nil {
				client.Close()
				return nil, err
			}
			s.Index = index
		}
	case config.EmbeddingBackendLocalServer:
		b.name = ec.Backend
		b.model = ec.LocalModel
		b.provider = &localServerProvider{
			baseURL:    strings.TrimRight(ec.LocalServerURL, "/"),
			model:      ec.LocalModel,
			httpClient: httpClient,
		}
	default:
		return nil, fmt.Errorf("unknown embedding backend %q", ec.Backend)
	}

	opts.Logger.Info(opts.Logger.WithFields(ctx, map[string]any{
		"embedding_backend": b.name,
		"embedding_model":   b.model,
		"dimension":         b.dimension,
	}), "embedding strategy ready")
	return s, nil
}

// Gemini returns the underlying Gemini client, nil for the local server.
func (s *Strategy) Gemini() *genai.Client {
	return s.gemini
}

func (s *Strategy) Close() error {
	if s == nil || s.gemini == nil {
		return nil
	}
	return s.gemini.Close()
}
