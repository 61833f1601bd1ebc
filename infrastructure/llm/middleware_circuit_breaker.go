package llm

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ahrav/smartvalidator/internal/ports"
)

// ErrCircuitOpen indicates that the circuit breaker rejected a request
// without sending it.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerState represents the current state of a circuit breaker.
type CircuitBreakerState int

const (
	// StateClosed allows all requests to pass through.
	StateClosed CircuitBreakerState = iota
	// StateOpen rejects all requests until the cooldown expires.
	StateOpen
	// StateHalfOpen lets a single probe request through.
	StateHalfOpen
)

// String returns the state name.
func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker opens after maxFailures consecutive failures and rejects
// requests for cooldownDuration. After the cooldown one probe is allowed;
// its outcome closes or reopens the circuit.
//
// The lock is held only while reading or updating state, never across the
// wrapped call, so concurrent workers are not serialized.
type CircuitBreaker struct {
	mu               sync.Mutex
	state            CircuitBreakerState
	failureCount     int
	maxFailures      int
	cooldownDuration time.Duration
	openedAt         time.Time
	probing          bool
	now              func() time.Time
}

// NewCircuitBreaker creates a closed circuit breaker.
func NewCircuitBreaker(maxFailures int, cooldownDuration time.Duration) *CircuitBreaker {
	if maxFailures < 1 {
		maxFailures = 1
	}
	return &CircuitBreaker{
		state:            StateClosed,
		maxFailures:      maxFailures,
		cooldownDuration: cooldownDuration,
		now:              time.Now,
	}
}

// allow reports whether a request may proceed.
func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.cooldownDuration {
			return false
		}
		cb.state = StateHalfOpen
		cb.probing = true
		return true
	case StateHalfOpen:
		if cb.probing {
			return false
		}
		cb.probing = true
		return true
	default:
		return true
	}
}

// record updates the state with the outcome of an allowed request.
func (cb *CircuitBreaker) record(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if success {
		cb.failureCount = 0
		cb.state = StateClosed
		cb.probing = false
		return
	}

	cb.failureCount++
	if cb.state == StateHalfOpen || cb.failureCount >= cb.maxFailures {
		cb.state = StateOpen
		cb.openedAt = cb.now()
	}
	cb.probing = false
}

// release frees a half-open probe slot without judging the provider.
func (cb *CircuitBreaker) release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.probing = false
}

// Call executes fn through the circuit breaker. It returns ErrCircuitOpen
// without calling fn when the circuit is open.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if !cb.allow() {
		return ErrCircuitOpen
	}
	err := fn()
	cb.record(err == nil)
	return err
}

// GetState returns the current circuit breaker state.
func (cb *CircuitBreaker) GetState() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

type circuitBreakerLLM struct {
	next      CoreLLM
	cb        *CircuitBreaker
	collector ports.MetricsCollector
	provider  string
}

// CircuitBreakerMiddleware fails requests fast with ErrCircuitOpen after
// maxFailures consecutive failures, for cooldown. A single breaker is shared
// by every client built from the returned middleware. Cancellation by the
// caller is not counted as a failure. collector may be nil.
func CircuitBreakerMiddleware(cb *CircuitBreaker, provider string, collector ports.MetricsCollector) Middleware {
	return func(next CoreLLM) CoreLLM {
		return &circuitBreakerLLM{
			next:      next,
			cb:        cb,
			collector: collector,
			provider:  provider,
		}
	}
}

// DoRequest executes the request through the circuit breaker.
func (c *circuitBreakerLLM) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	if !c.cb.allow() {
		c.observe(ErrCircuitOpen)
		return "", 0, 0, ErrCircuitOpen
	}

	response, tokensIn, tokensOut, err := c.next.DoRequest(ctx, prompt, opts)
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		c.cb.release()
	} else {
		c.cb.record(!countsAsFailure(err))
	}
	c.observe(err)

	return response, tokensIn, tokensOut, err
}

// countsAsFailure reports whether err says something about provider health.
// Rejections of a single request (bad request, not found, content policy)
// do not.
func countsAsFailure(err error) bool {
	if err == nil {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		switch pe.Type {
		case ErrorTypeBadRequest, ErrorTypeNotFound, ErrorTypeContentPolicy:
			return false
		}
	}
	return true
}

func (c *circuitBreakerLLM) observe(err error) {
	if c.collector == nil {
		return
	}
	labels := map[string]string{"provider": c.provider}
	if errors.Is(err, ErrCircuitOpen) {
		c.collector.RecordCounter("llm_circuit_rejections_total", 1, labels)
	}
	c.collector.RecordGauge("llm_circuit_state", float64(c.cb.GetState()), labels)
}

// GetModel returns the model name from the wrapped implementation.
func (c *circuitBreakerLLM) GetModel() string { return c.next.GetModel() }
