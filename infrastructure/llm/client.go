package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ahrav/smartvalidator/internal/ports"
)

// DefaultSystemPrompt is the system role message sent with every request.
const DefaultSystemPrompt = "You are a helpful SAP validator assistant."

// DefaultTemperature is the sampling temperature used when none is configured.
const DefaultTemperature = 0.7

// CoreLLM defines the minimal interface that LLM providers must implement.
// Middleware wraps any conforming implementation.
type CoreLLM interface {
	// DoRequest sends a prompt to the provider and returns the reply text
	// with input and output token counts. A reply with a non-success HTTP
	// status is returned as a *ProviderError carrying that status.
	DoRequest(
		ctx context.Context,
		prompt string,
		opts map[string]any,
	) (
		response string,
		tokensIn, tokensOut int,
		err error,
	)

	// GetModel returns the configured model name.
	GetModel() string
}

// ClientConfig holds all configuration options for creating an LLM client.
type ClientConfig struct {
	// APIKey authenticates requests to the provider.
	APIKey string

	// Model specifies which model to use for requests.
	Model string

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string

	// Timeout bounds the underlying HTTP client. Zero leaves it unbounded;
	// per-request deadlines normally come from TimeoutMiddleware instead.
	Timeout time.Duration

	// SystemPrompt is the system role message. Empty uses DefaultSystemPrompt.
	SystemPrompt string

	// Temperature is the sampling temperature. Nil uses DefaultTemperature.
	Temperature *float64

	// MaxTokens caps the reply length. Zero uses DefaultMaxTokens.
	MaxTokens int

	// Middleware is applied so that the first entry is the outermost.
	Middleware []Middleware
}

// Middleware wraps a CoreLLM implementation to add cross-cutting behavior.
type Middleware func(CoreLLM) CoreLLM

// Client adapts a middleware-wrapped CoreLLM to ports.CompletionClient.
// It sends the same system prompt, temperature and token limit with every
// request and turns provider HTTP failures into RawResponse values.
type Client struct {
	core     CoreLLM
	provider string
	opts     map[string]any
}

var _ ports.CompletionClient = (*Client)(nil)

// NewClient creates a client for the named provider type.
func NewClient(providerType string, config ClientConfig) (*Client, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}

	factory, ok := providerFactories[providerType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, providerType)
	}

	core, err := factory(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider: %w", err)
	}

	// Apply middleware in reverse order so the first middleware is the outermost.
	for i := len(config.Middleware) - 1; i >= 0; i-- {
		core = config.Middleware[i](core)
	}

	return &Client{
		core:     core,
		provider: providerType,
		opts:     requestOptions(config),
	}, nil
}

func requestOptions(config ClientConfig) map[string]any {
	system := config.SystemPrompt
	if system == "" {
		system = DefaultSystemPrompt
	}
	temperature := DefaultTemperature
	if config.Temperature != nil {
		temperature = *config.Temperature
	}
	maxTokens := config.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return map[string]any{
		"system":      system,
		"temperature": temperature,
		"max_tokens":  maxTokens,
	}
}

// Complete sends prompt as the user message.
//
// A provider reply with an HTTP status is always returned as a RawResponse,
// with Body set for non-success statuses. A success reply with no usable
// text carries its raw body as Content. An error is returned only when the
// request produced no status at all.
func (c *Client) Complete(ctx context.Context, prompt string) (ports.RawResponse, error) {
	content, tokensIn, tokensOut, err := c.core.DoRequest(ctx, prompt, c.opts)
	if err != nil {
		var pe *ProviderError
		if errors.As(err, &pe) && pe.HasStatus() {
			if pe.Type == ErrorTypeMalformedReply {
				// The raw body stands in for reply text so parsing fails
				// with the body as the reasoning.
				return ports.RawResponse{StatusCode: pe.StatusCode, Content: pe.Body}, nil
			}
			return ports.RawResponse{StatusCode: pe.StatusCode, Body: pe.Body}, nil
		}
		return ports.RawResponse{}, err
	}

	return ports.RawResponse{
		StatusCode: http.StatusOK,
		Content:    content,
		TokensIn:   tokensIn,
		TokensOut:  tokensOut,
	}, nil
}

// GetModel returns the model name from the underlying provider.
func (c *Client) GetModel() string { return c.core.GetModel() }

// Provider returns the provider type this client was built for.
func (c *Client) Provider() string { return c.provider }

// ProviderFactory creates a CoreLLM implementation from configuration.
type ProviderFactory func(ClientConfig) (CoreLLM, error)

var providerFactories = map[string]ProviderFactory{}

// RegisterProviderFactory registers a provider factory under a type name.
// It is called from provider init functions.
func RegisterProviderFactory(providerType string, factory ProviderFactory) {
	providerFactories[providerType] = factory
}

// GetProviderFactory returns the factory registered under name.
func GetProviderFactory(name string) (ProviderFactory, bool) {
	factory, exists := providerFactories[name]
	return factory, exists
}
