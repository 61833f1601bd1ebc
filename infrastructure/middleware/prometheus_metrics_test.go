package middleware

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetrics(t *testing.T) (*PrometheusMetrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewPrometheusMetrics(reg), reg
}

// TestNewPrometheusMetrics verifies that every vector is registered with the
// supplied registry and that separate registries do not collide.
func TestNewPrometheusMetrics(t *testing.T) {
	pm, reg := newTestMetrics(t)
	require.NotNil(t, pm)

	// Vectors only appear once they have a child; touch each one.
	pm.RecordCounter("llm_requests_total", 1, nil)
	pm.RecordHistogram("llm_latency_seconds", 0.1, nil)
	pm.RecordCounter("llm_tokens_total", 1, nil)
	pm.RecordCounter("llm_circuit_rejections_total", 1, nil)
	pm.RecordGauge("llm_circuit_state", 0, nil)
	pm.RecordCounter("validation_verdicts_total", 1, nil)
	pm.RecordHistogram("validation_verdict_score", 5, nil)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Subset(t, names, []string{
		"llm_requests_total",
		"llm_latency_seconds",
		"llm_tokens_total",
		"llm_circuit_rejections_total",
		"llm_circuit_state",
		"validation_verdicts_total",
		"validation_verdict_score",
	})

	assert.NotPanics(t, func() { _, _ = newTestMetrics(t) }, "fresh registries must not collide")
}

// TestPrometheusMetrics_LLMRequests tests that request counters are split by
// their label values.
func TestPrometheusMetrics_LLMRequests(t *testing.T) {
	pm, _ := newTestMetrics(t)

	ok := map[string]string{"provider": "groq", "model": "llama", "status": "success"}
	failed := map[string]string{"provider": "groq", "model": "llama", "status": "http_5xx"}
	pm.RecordCounter("llm_requests_total", 1, ok)
	pm.RecordCounter("llm_requests_total", 1, ok)
	pm.RecordCounter("llm_requests_total", 1, failed)

	assert.InDelta(t, 2.0, testutil.ToFloat64(pm.llmRequests.WithLabelValues("groq", "llama", "success")), 0.001)
	assert.InDelta(t, 1.0, testutil.ToFloat64(pm.llmRequests.WithLabelValues("groq", "llama", "http_5xx")), 0.001)
}

// TestPrometheusMetrics_Tokens tests token counting by direction.
func TestPrometheusMetrics_Tokens(t *testing.T) {
	pm, _ := newTestMetrics(t)

	pm.RecordCounter("llm_tokens_total", 120, map[string]string{"provider": "groq", "model": "m", "token_type": "input"})
	pm.RecordCounter("llm_tokens_total", 30, map[string]string{"provider": "groq", "model": "m", "token_type": "output"})

	assert.InDelta(t, 120.0, testutil.ToFloat64(pm.llmTokens.WithLabelValues("groq", "m", "input")), 0.001)
	assert.InDelta(t, 30.0, testutil.ToFloat64(pm.llmTokens.WithLabelValues("groq", "m", "output")), 0.001)
}

// TestPrometheusMetrics_MissingLabels tests that missing labels become
// "unknown" instead of panicking.
func TestPrometheusMetrics_MissingLabels(t *testing.T) {
	pm, _ := newTestMetrics(t)

	assert.NotPanics(t, func() {
		pm.RecordCounter("llm_requests_total", 1, map[string]string{"provider": "groq"})
		pm.RecordGauge("llm_circuit_state", 1, nil)
	})

	assert.InDelta(t, 1.0, testutil.ToFloat64(pm.llmRequests.WithLabelValues("groq", "unknown", "unknown")), 0.001)
	assert.InDelta(t, 1.0, testutil.ToFloat64(pm.circuitState.WithLabelValues("unknown")), 0.001)
}

// TestPrometheusMetrics_Verdicts tests verdict outcome counts and the score
// histogram.
func TestPrometheusMetrics_Verdicts(t *testing.T) {
	pm, reg := newTestMetrics(t)

	pm.RecordCounter("validation_verdicts_total", 1, map[string]string{"outcome": "ok"})
	pm.RecordCounter("validation_verdicts_total", 1, map[string]string{"outcome": "parse_error"})
	pm.RecordHistogram("validation_verdict_score", 8.5, nil)
	pm.RecordHistogram("validation_verdict_score", 3.0, nil)

	assert.InDelta(t, 1.0, testutil.ToFloat64(pm.verdicts.WithLabelValues("ok")), 0.001)
	assert.InDelta(t, 1.0, testutil.ToFloat64(pm.verdicts.WithLabelValues("parse_error")), 0.001)

	expected := `
# HELP validation_verdict_score Confidence scores reported by the model.
# TYPE validation_verdict_score histogram
validation_verdict_score_bucket{le="1"} 0
validation_verdict_score_bucket{le="2"} 0
validation_verdict_score_bucket{le="3"} 1
validation_verdict_score_bucket{le="4"} 1
validation_verdict_score_bucket{le="5"} 1
validation_verdict_score_bucket{le="6"} 1
validation_verdict_score_bucket{le="7"} 1
validation_verdict_score_bucket{le="8"} 1
validation_verdict_score_bucket{le="9"} 2
validation_verdict_score_bucket{le="10"} 2
validation_verdict_score_bucket{le="+Inf"} 2
validation_verdict_score_sum 11.5
validation_verdict_score_count 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "validation_verdict_score"))
}

// TestPrometheusMetrics_RecordLatency tests that latency of unknown
// operations lands in the generic histogram.
func TestPrometheusMetrics_RecordLatency(t *testing.T) {
	pm, reg := newTestMetrics(t)

	pm.RecordLatency("validate_batch", 250*time.Millisecond, nil)
	pm.RecordLatency("validate_batch", 750*time.Millisecond, nil)

	count, err := testutil.GatherAndCount(reg, "smartvalidator_operation_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count, "one series for the operation")
}

// TestPrometheusMetrics_Fallbacks tests the generic counter and gauge paths.
func TestPrometheusMetrics_Fallbacks(t *testing.T) {
	pm, _ := newTestMetrics(t)

	pm.RecordCounter("validate_batch_total", 1, nil)
	pm.RecordCounter("validate_batch_total", 1, map[string]string{"status": "credential_error"})
	pm.RecordGauge("inflight_batches", 3, nil)

	assert.InDelta(t, 1.0, testutil.ToFloat64(pm.operationCounter.WithLabelValues("validate_batch_total", "success")), 0.001)
	assert.InDelta(t, 1.0, testutil.ToFloat64(pm.operationCounter.WithLabelValues("validate_batch_total", "credential_error")), 0.001)
	assert.InDelta(t, 3.0, testutil.ToFloat64(pm.systemGauges.WithLabelValues("inflight_batches")), 0.001)
}
