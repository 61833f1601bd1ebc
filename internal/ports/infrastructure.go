package ports

import (
	"context"
	"time"

	"github.com/ahrav/smartvalidator/internal/domain"
)

// RawResponse is the uninterpreted outcome of one completion request that
// reached the provider and came back with an HTTP status.
type RawResponse struct {
	// StatusCode is the HTTP status returned by the provider.
	StatusCode int

	// Content is the assistant message text of a successful reply.
	Content string

	// Body is the raw error body of a non-success reply.
	Body string

	// TokensIn and TokensOut are the usage figures reported by the provider,
	// zero when unavailable.
	TokensIn  int
	TokensOut int
}

// OK reports whether the provider answered with a 2xx status.
func (r RawResponse) OK() bool { return r.StatusCode >= 200 && r.StatusCode < 300 }

// CompletionClient issues one chat-completion request per call.
// Implementations must not retry, cache, or batch requests.
type CompletionClient interface {
	// Complete sends prompt as the user message and returns the provider's
	// reply. A non-2xx reply is returned as a RawResponse, not an error;
	// an error is returned only when no HTTP status was received at all
	// (network failure, timeout, cancelled context, open circuit).
	Complete(ctx context.Context, prompt string) (RawResponse, error)

	// GetModel returns the model identifier being used by this client.
	GetModel() string
}

// CredentialResolver determines the API key for a batch.
type CredentialResolver interface {
	// Resolve walks the configured strategies for the given channel hint and
	// returns the first key found. It returns a *domain.CredentialError when
	// no strategy produces a key.
	Resolve(source string) (domain.Credential, error)
}

// RulesLoader supplies the optional rules document for retrieval-augmented
// validation.
type RulesLoader interface {
	// Load returns nil when disabled. When enabled it returns the document
	// text, or a sentinel text describing why it could not be read.
	// It never fails.
	Load(ctx context.Context, enabled bool) *string
}

// MetricsCollector defines the interface for collecting operational metrics.
// Implementations should integrate with observability platforms like
// Prometheus.
type MetricsCollector interface {
	// RecordLatency records the execution time of an operation.
	// The labels map provides additional context for the metric.
	RecordLatency(operation string, duration time.Duration, labels map[string]string)

	// RecordCounter increments a counter metric.
	RecordCounter(metric string, value float64, labels map[string]string)

	// RecordGauge sets the current value of a gauge metric.
	RecordGauge(metric string, value float64, labels map[string]string)

	// RecordHistogram records a value in a histogram, such as verdict scores.
	RecordHistogram(metric string, value float64, labels map[string]string)
}
