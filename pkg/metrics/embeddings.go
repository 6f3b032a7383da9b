package metrics

import "github.com/prometheus/client_golang/prometheus"

// EmbeddingMetrics tracks embedding generation and search behaviour.
type EmbeddingMetrics struct {
	generated *prometheus.CounterVec
	failed    *prometheus.CounterVec
	retries   *prometheus.CounterVec
	fallbacks *prometheus.CounterVec
}

func NewEmbeddingMetrics(reg prometheus.Registerer) *EmbeddingMetrics {
	if reg == nil {
		return &EmbeddingMetrics{}
	}
	generated := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "embeddings",
		Name:      "generated_total",
		Help:      "Embeddings persisted, by backend.",
	}, []string{"backend"})
	failed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "embeddings",
		Name:      "failed_total",
		Help:      "Embedding generations that gave up, by backend.",
	}, []string{"backend"})
	retries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "embeddings",
		Name:      "provider_retries_total",
		Help:      "Retried embedding provider calls, by backend.",
	}, []string{"backend"})
	fallbacks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "search",
		Name:      "keyword_fallback_total",
		Help:      "Searches answered by the keyword path, by reason.",
	}, []string{"reason"})
	reg.MustRegister(generated, failed, retries, fallbacks)
	return &EmbeddingMetrics{generated: generated, failed: failed, retries: retries, fallbacks: fallbacks}
}

func (m *EmbeddingMetrics) IncGenerated(backend string) {
	if m == nil || m.generated == nil {
		return
	}
	m.generated.WithLabelValues(normalizeLabel(backend)).Inc()
}

func (m *EmbeddingMetrics) IncFailed(backend string) {
	if m == nil || m.failed == nil {
		return
	}
	m.failed.WithLabelValues(normalizeLabel(backend)).Inc()
}

func (m *EmbeddingMetrics) IncRetry(backend string) {
	if m == nil || m.retries == nil {
		return
	}
	m.retries.WithLabelValues(normalizeLabel(backend)).Inc()
}

func (m *EmbeddingMetrics) IncFallback(reason string) {
	if m == nil || m.fallbacks == nil {
		return
	}
	m.fallbacks.WithLabelValues(normalizeLabel(reason)).Inc()
}
