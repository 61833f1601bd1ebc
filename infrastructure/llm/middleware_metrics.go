package llm

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/ahrav/smartvalidator/internal/ports"
)

// Metric names recorded by MetricsMiddleware.
const (
	MetricRequestsTotal  = "llm_requests_total"
	MetricLatencySeconds = "llm_latency_seconds"
	MetricTokensTotal    = "llm_tokens_total"
)

// metricsLLM records request counts, latency and token usage.
type metricsLLM struct {
	next      CoreLLM
	collector ports.MetricsCollector
	provider  string
}

// MetricsMiddleware creates middleware that reports every request to
// collector, labeled with provider, model and outcome status.
func MetricsMiddleware(collector ports.MetricsCollector, provider string) Middleware {
	return func(next CoreLLM) CoreLLM {
		if collector == nil {
			return next
		}
		return &metricsLLM{
			next:      next,
			collector: collector,
			provider:  provider,
		}
	}
}

// DoRequest executes the request and records its metrics.
func (m *metricsLLM) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	start := time.Now()
	response, tokensIn, tokensOut, err := m.next.DoRequest(ctx, prompt, opts)

	labels := map[string]string{
		"provider": m.provider,
		"model":    m.next.GetModel(),
		"status":   requestStatus(err),
	}

	m.collector.RecordHistogram(MetricLatencySeconds, time.Since(start).Seconds(), labels)
	m.collector.RecordCounter(MetricRequestsTotal, 1, labels)

	if err == nil {
		m.collector.RecordCounter(MetricTokensTotal, float64(tokensIn), map[string]string{
			"provider": m.provider, "model": labels["model"], "token_type": "input",
		})
		m.collector.RecordCounter(MetricTokensTotal, float64(tokensOut), map[string]string{
			"provider": m.provider, "model": labels["model"], "token_type": "output",
		})
	}

	return response, tokensIn, tokensOut, err
}

// requestStatus maps a request outcome to a low-cardinality label.
func requestStatus(err error) string {
	if err == nil {
		return "success"
	}
	if errors.Is(err, ErrCircuitOpen) {
		return "circuit_open"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	var pe *ProviderError
	if errors.As(err, &pe) && pe.HasStatus() {
		return "http_" + strconv.Itoa(pe.StatusCode/100) + "xx"
	}
	return "error"
}

// GetModel returns the model name from the wrapped implementation.
func (m *metricsLLM) GetModel() string { return m.next.GetModel() }
