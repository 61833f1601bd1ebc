package llm

import (
	"context"

	"golang.org/x/time/rate"
)

// rateLimitedLLM paces requests with a token bucket.
type rateLimitedLLM struct {
	next     CoreLLM
	limiter  *rate.Limiter
	provider string
}

// RateLimitMiddleware creates middleware that waits for a token before each
// request. The limiter is created once, so every client built from the
// returned middleware shares the same budget.
func RateLimitMiddleware(limit rate.Limit, burst int, provider string) Middleware {
	limiter := rate.NewLimiter(limit, burst)

	return func(next CoreLLM) CoreLLM {
		return &rateLimitedLLM{
			next:     next,
			limiter:  limiter,
			provider: provider,
		}
	}
}

// DoRequest blocks until the limiter grants a token or ctx ends.
// A wait that cannot complete is reported as a transport error with no
// status, so the record is marked failed without contacting the provider.
func (r *rateLimitedLLM) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, int, int, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		classifier := ErrorClassifier{Provider: r.provider}
		pe := classifier.ClassifyTransportError(err)
		pe.Type = ErrorTypeRateLimit
		pe.Message = "rate limit wait"
		return "", 0, 0, pe
	}
	return r.next.DoRequest(ctx, prompt, opts)
}

// GetModel returns the model name from the wrapped implementation.
func (r *rateLimitedLLM) GetModel() string { return r.next.GetModel() }
