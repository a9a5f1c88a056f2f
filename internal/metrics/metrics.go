// Package metrics records pipeline counters in a private Prometheus registry.
// The CLI is short-lived, so metrics are exported by writing a node_exporter
// textfile at the end of a run rather than by serving /metrics.
//
// All methods are safe on a nil *Metrics, which records nothing.
package metrics

import (
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
)

const namespace = "policy_monitor"

// Metrics holds the collectors for one process.
type Metrics struct {
	registry *prometheus.Registry

	candidates        *prometheus.CounterVec
	fetchDuration     *prometheus.HistogramVec
	documents         *prometheus.CounterVec
	classifierCalls   *prometheus.CounterVec
	classifierLatency *prometheus.HistogramVec
	llmTokens         *prometheus.CounterVec
	llmCost           *prometheus.CounterVec
	statusGauge       *prometheus.GaugeVec
	lastRun           *prometheus.GaugeVec
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		candidates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_candidates_total",
			Help:      "Feed candidates by ingestion outcome.",
		}, []string{"outcome"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Document fetch and extraction latency.",
			Buckets:   []float64{.25, .5, 1, 2, 5, 10, 15, 30},
		}, []string{"result"}),
		documents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_documents_total",
			Help:      "Documents processed by the analysis run, by resulting status.",
		}, []string{"status"}),
		classifierCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifier_calls_total",
			Help:      "Classifier calls by provider and outcome.",
		}, []string{"provider", "outcome"}),
		classifierLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "classifier_latency_seconds",
			Help:      "Classifier call latency.",
			Buckets:   []float64{.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}, []string{"provider"}),
		llmTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "LLM tokens used.",
		}, []string{"model", "type"}),
		llmCost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_cost_usd_total",
			Help:      "Estimated LLM API cost in USD.",
		}, []string{"model"}),
		statusGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "documents",
			Help:      "Stored documents by processing status.",
		}, []string{"status"}),
		lastRun: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time at which a pipeline stage last completed.",
		}, []string{"stage"}),
	}
	m.registry.MustRegister(
		m.candidates, m.fetchDuration, m.documents, m.classifierCalls,
		m.classifierLatency, m.llmTokens, m.llmCost, m.statusGauge, m.lastRun,
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Candidate counts one feed candidate with its ingestion outcome.
func (m *Metrics) Candidate(outcome string) {
	if m == nil {
		return
	}
	m.candidates.WithLabelValues(outcome).Inc()
}

// Fetch records a fetch attempt; result is "ok" or "failed".
func (m *Metrics) Fetch(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.fetchDuration.WithLabelValues(result).Observe(d.Seconds())
}

// Document counts a document leaving the analysis run in status.
func (m *Metrics) Document(status string) {
	if m == nil {
		return
	}
	m.documents.WithLabelValues(status).Inc()
}

// ClassifierCall records one classifier call.
func (m *Metrics) ClassifierCall(provider, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.classifierCalls.WithLabelValues(provider, outcome).Inc()
	m.classifierLatency.WithLabelValues(provider).Observe(d.Seconds())
}

// Tokens adds token usage and estimated cost for a model.
func (m *Metrics) Tokens(model string, input, output int64, costUSD float64) {
	if m == nil {
		return
	}
	m.llmTokens.WithLabelValues(model, "input").Add(float64(input))
	m.llmTokens.WithLabelValues(model, "output").Add(float64(output))
	if costUSD > 0 {
		m.llmCost.WithLabelValues(model).Add(costUSD)
	}
}

// StatusCounts sets the per-status document gauge.
func (m *Metrics) StatusCounts(counts map[string]int) {
	if m == nil {
		return
	}
	for status, n := range counts {
		m.statusGauge.WithLabelValues(status).Set(float64(n))
	}
}

// StageCompleted stamps the completion time of a pipeline stage.
func (m *Metrics) StageCompleted(stage string, at time.Time) {
	if m == nil {
		return
	}
	m.lastRun.WithLabelValues(stage).Set(float64(at.Unix()))
}

// WriteTextfile writes all metrics in the text exposition format. An empty
// path is a no-op.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "metrics: create dir for %s", path)
	}
	return eris.Wrapf(prometheus.WriteToTextfile(path, m.registry), "metrics: write %s", path)
}
