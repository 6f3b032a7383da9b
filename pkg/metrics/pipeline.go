package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// StageMetrics tracks pipeline stage executions.
type StageMetrics struct {
	duration *prometheus.HistogramVec
	outcomes *prometheus.CounterVec
	retries  *prometheus.CounterVec
	runs     *prometheus.CounterVec
}

func NewStageMetrics(reg prometheus.Registerer) *StageMetrics {
	if reg == nil {
		return &StageMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "stage_duration_seconds",
		Help:      "Wall-clock duration of pipeline stages including retries.",
		Buckets:   []float64{1, 10, 30, 60, 300, 900, 1800, 3600, 7200, 10800},
	}, []string{"stage"})
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "stage_outcomes_total",
		Help:      "Pipeline stage results by outcome (completed, failed, skipped).",
	}, []string{"stage", "outcome"})
	retries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "stage_retries_total",
		Help:      "Retried pipeline stage attempts.",
	}, []string{"stage"})
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "runs_total",
		Help:      "Pipeline runs reaching a terminal state.",
	}, []string{"status"})
	reg.MustRegister(duration, outcomes, retries, runs)
	return &StageMetrics{duration: duration, outcomes: outcomes, retries: retries, runs: runs}
}

func (m *StageMetrics) ObserveStage(stage, outcome string, d time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	stage = normalizeLabel(stage)
	m.duration.WithLabelValues(stage).Observe(d.Seconds())
	m.outcomes.WithLabelValues(stage, normalizeLabel(outcome)).Inc()
}

func (m *StageMetrics) IncRetry(stage string) {
	if m == nil || m.retries == nil {
		return
	}
	m.retries.WithLabelValues(normalizeLabel(stage)).Inc()
}

func (m *StageMetrics) IncRun(status string) {
	if m == nil || m.runs == nil {
		return
	}
	m.runs.WithLabelValues(normalizeLabel(status)).Inc()
}
