package llm

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ahrav/smartvalidator/internal/ports"
)

// ProviderConfig describes a named provider preset.
type ProviderConfig struct {
	// Type selects the provider implementation (openai, anthropic, google).
	Type string
	// EnvVar is the conventional environment variable holding the API key.
	EnvVar string
	// DefaultModel is used when no model is configured.
	DefaultModel string
	// BaseURL overrides the implementation's default endpoint.
	BaseURL string
}

// DefaultProviders lists the provider presets known by name. "groq" is the
// default and talks to Groq's OpenAI-compatible endpoint.
var DefaultProviders = map[string]ProviderConfig{
	"groq": {
		Type:         "openai",
		EnvVar:       "GROQ_API_KEY",
		DefaultModel: "llama-3.1-8b-instant",
		BaseURL:      "https://api.groq.com/openai/v1",
	},
	"openai": {
		Type:         "openai",
		EnvVar:       "OPENAI_API_KEY",
		DefaultModel: OpenAIDefaultModel,
	},
	"anthropic": {
		Type:         "anthropic",
		EnvVar:       "ANTHROPIC_API_KEY",
		DefaultModel: AnthropicDefaultModel,
	},
	"google": {
		Type:         "google",
		EnvVar:       "GOOGLE_API_KEY",
		DefaultModel: GoogleDefaultModel,
	},
}

// ProviderNames returns the preset names in sorted order.
func ProviderNames() []string {
	names := make([]string, 0, len(DefaultProviders))
	for name := range DefaultProviders {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// Provider names a DefaultProviders preset.
	Provider string
	// Model overrides the preset's default model.
	Model string
	// BaseURL overrides the preset's endpoint.
	BaseURL string
	// Temperature is the sampling temperature sent with every request.
	Temperature float64
	// MaxTokens caps the reply length.
	MaxTokens int
	// SystemPrompt overrides DefaultSystemPrompt.
	SystemPrompt string
	// RequestTimeout bounds each request. Zero disables the bound.
	RequestTimeout time.Duration
	// RateLimit is the sustained requests per second. Zero disables limiting.
	RateLimit float64
	// RateBurst is the token bucket size; values below one become one.
	RateBurst int
	// CircuitMaxFailures enables the circuit breaker when positive.
	CircuitMaxFailures int
	// CircuitCooldown is how long an open circuit rejects requests.
	CircuitCooldown time.Duration
	// ServiceName names the tracer.
	ServiceName string
	// Metrics receives request metrics; nil disables them.
	Metrics ports.MetricsCollector
}

// Registry builds completion clients for one configured provider.
//
// API keys are resolved per batch, so clients are created on demand for each
// key and cached, up to maxCachedClients keys. The middleware chain is built once: the rate limiter and the
// circuit breaker are shared by every client, which keeps their budgets
// process-wide rather than per key.
type Registry struct {
	name       string
	provider   ProviderConfig
	config     RegistryConfig
	middleware []Middleware
	breaker    *CircuitBreaker

	mu      sync.Mutex
	clients map[string]*Client
	order   []string // keys in insertion order, oldest first
}

// maxCachedClients bounds the per-key client cache. Only a handful of keys
// are live at once; rotated keys age out oldest first.
const maxCachedClients = 16

// NewRegistry validates config and assembles the shared middleware chain.
func NewRegistry(config RegistryConfig) (*Registry, error) {
	provider, ok := DefaultProviders[config.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, config.Provider)
	}
	if config.Model != "" {
		provider.DefaultModel = config.Model
	}
	if config.BaseURL != "" {
		provider.BaseURL = config.BaseURL
	}
	if _, err := ValidateBaseURL(provider.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL for %s: %w", config.Provider, err)
	}
	if config.ServiceName == "" {
		config.ServiceName = "smartvalidator"
	}

	r := &Registry{
		name:     config.Provider,
		provider: provider,
		config:   config,
		clients:  make(map[string]*Client),
	}

	// Outermost first: tracing sees the whole request including waits,
	// metrics see every outcome, the breaker guards the limiter and the
	// timeout applies to the provider call alone.
	r.middleware = append(r.middleware,
		TracingMiddleware(config.ServiceName, r.name),
		MetricsMiddleware(config.Metrics, r.name),
	)
	if config.CircuitMaxFailures > 0 {
		r.breaker = NewCircuitBreaker(config.CircuitMaxFailures, config.CircuitCooldown)
		r.middleware = append(r.middleware, CircuitBreakerMiddleware(r.breaker, r.name, config.Metrics))
	}
	if config.RateLimit > 0 {
		burst := max(config.RateBurst, 1)
		r.middleware = append(r.middleware, RateLimitMiddleware(rate.Limit(config.RateLimit), burst, r.name))
	}
	r.middleware = append(r.middleware, TimeoutMiddleware(ValidateTimeout(config.RequestTimeout)))

	return r, nil
}

// Name returns the provider preset name.
func (r *Registry) Name() string { return r.name }

// Model returns the model every client of this registry uses.
func (r *Registry) Model() string { return r.provider.DefaultModel }

// EnvVar returns the preset's conventional API key variable.
func (r *Registry) EnvVar() string { return r.provider.EnvVar }

// Breaker returns the shared circuit breaker, or nil when disabled.
func (r *Registry) Breaker() *CircuitBreaker { return r.breaker }

// ClientFor returns the client for apiKey, creating it on first use.
func (r *Registry) ClientFor(apiKey string) (*Client, error) {
	if apiKey == "" {
		return nil, ErrEmptyAPIKey
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if client, ok := r.clients[apiKey]; ok {
		return client, nil
	}

	temperature := r.config.Temperature
	client, err := NewClient(r.provider.Type, ClientConfig{
		APIKey:       apiKey,
		Model:        r.provider.DefaultModel,
		BaseURL:      r.provider.BaseURL,
		SystemPrompt: r.config.SystemPrompt,
		Temperature:  &temperature,
		MaxTokens:    r.config.MaxTokens,
		Middleware:   r.middleware,
	})
	if err != nil {
		return nil, fmt.Errorf("create %s client: %w", r.name, err)
	}

	if len(r.order) >= maxCachedClients {
		delete(r.clients, r.order[0])
		r.order = r.order[1:]
	}
	r.clients[apiKey] = client
	r.order = append(r.order, apiKey)
	return client, nil
}
