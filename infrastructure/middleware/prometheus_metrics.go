// Package middleware provides cross-cutting concerns shared by the validation
// service and the LLM client chain.
package middleware

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ahrav/smartvalidator/internal/ports"
)

// PrometheusMetrics implements the MetricsCollector interface using Prometheus.
// Known metrics get dedicated vectors with fixed label sets; anything else
// falls back to generic operation vectors keyed by metric name.
type PrometheusMetrics struct {
	llmRequests       *prometheus.CounterVec
	llmLatency        *prometheus.HistogramVec
	llmTokens         *prometheus.CounterVec
	circuitRejections *prometheus.CounterVec
	circuitState      *prometheus.GaugeVec
	verdicts          *prometheus.CounterVec
	verdictScore      prometheus.Histogram

	executionLatency *prometheus.HistogramVec
	operationCounter *prometheus.CounterVec
	systemGauges     *prometheus.GaugeVec
}

// NewPrometheusMetrics creates a PrometheusMetrics instance and registers all
// metrics with reg. Use prometheus.DefaultRegisterer for the global registry.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		// LLM request metrics.
		llmRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_requests_total",
				Help: "Completion requests by provider, model and outcome.",
			},
			[]string{"provider", "model", "status"},
		),
		llmLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llm_latency_seconds",
				Help:    "Completion request latency.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model", "status"},
		),
		llmTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_tokens_total",
				Help: "Tokens consumed by completion requests.",
			},
			[]string{"provider", "model", "token_type"},
		),
		circuitRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_circuit_rejections_total",
				Help: "Requests rejected by an open circuit breaker.",
			},
			[]string{"provider"},
		),
		circuitState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "llm_circuit_state",
				Help: "Circuit breaker state: 0 closed, 1 open, 2 half-open.",
			},
			[]string{"provider"},
		),

		// Validation metrics.
		verdicts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "validation_verdicts_total",
				Help: "Verdicts produced, by outcome.",
			},
			[]string{"outcome"},
		),
		verdictScore: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "validation_verdict_score",
				Help:    "Confidence scores reported by the model.",
				Buckets: prometheus.LinearBuckets(1, 1, 10),
			},
		),

		// General metrics for everything else.
		executionLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "smartvalidator_operation_duration_seconds",
				Help:    "Execution time of service operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		operationCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smartvalidator_operations_total",
				Help: "Total number of service operations.",
			},
			[]string{"operation", "status"},
		),
		systemGauges: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "smartvalidator_state",
				Help: "Current values of service state gauges.",
			},
			[]string{"metric"},
		),
	}
}

// RecordLatency records the duration of a named operation.
func (pm *PrometheusMetrics) RecordLatency(
	operation string,
	duration time.Duration,
	labels map[string]string,
) {
	pm.RecordHistogram(operation, duration.Seconds(), labels)
}

// RecordCounter increments the counter named by metric.
func (pm *PrometheusMetrics) RecordCounter(
	metric string, value float64, labels map[string]string,
) {
	switch metric {
	case "llm_requests_total":
		pm.llmRequests.WithLabelValues(
			labelOr(labels, "provider"),
			labelOr(labels, "model"),
			labelOr(labels, "status"),
		).Add(value)
	case "llm_tokens_total":
		pm.llmTokens.WithLabelValues(
			labelOr(labels, "provider"),
			labelOr(labels, "model"),
			labelOr(labels, "token_type"),
		).Add(value)
	case "llm_circuit_rejections_total":
		pm.circuitRejections.WithLabelValues(labelOr(labels, "provider")).Add(value)
	case "validation_verdicts_total":
		pm.verdicts.WithLabelValues(labelOr(labels, "outcome")).Add(value)
	default:
		status := labels["status"]
		if status == "" {
			status = "success"
		}
		pm.operationCounter.WithLabelValues(metric, status).Add(value)
	}
}

// RecordGauge sets the gauge named by metric.
func (pm *PrometheusMetrics) RecordGauge(
	metric string, value float64, labels map[string]string,
) {
	switch metric {
	case "llm_circuit_state":
		pm.circuitState.WithLabelValues(labelOr(labels, "provider")).Set(value)
	default:
		pm.systemGauges.WithLabelValues(metric).Set(value)
	}
}

// RecordHistogram observes value in the histogram named by metric.
func (pm *PrometheusMetrics) RecordHistogram(
	metric string, value float64, labels map[string]string,
) {
	switch metric {
	case "llm_latency_seconds":
		pm.llmLatency.WithLabelValues(
			labelOr(labels, "provider"),
			labelOr(labels, "model"),
			labelOr(labels, "status"),
		).Observe(value)
	case "validation_verdict_score":
		pm.verdictScore.Observe(value)
	default:
		pm.executionLatency.WithLabelValues(metric).Observe(value)
	}
}

// labelOr returns labels[key], or "unknown" when it is missing or empty.
func labelOr(labels map[string]string, key string) string {
	if v := labels[key]; v != "" {
		return v
	}
	return "unknown"
}

// Compile-time verification that PrometheusMetrics implements MetricsCollector.
var _ ports.MetricsCollector = (*PrometheusMetrics)(nil)
