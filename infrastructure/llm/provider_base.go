package llm

// DefaultMaxTokens caps the reply length when no max_tokens option is set.
// A verdict object is a few hundred tokens at most.
const DefaultMaxTokens = 512

// BaseProvider holds the model name shared by all provider implementations.
// The model is fixed at construction.
type BaseProvider struct {
	model string
}

// GetModel returns the name of the model configured for the provider.
func (b *BaseProvider) GetModel() string { return b.model }

// RequestOptions is the standardized set of parameters for one request.
type RequestOptions struct {
	// MaxTokens specifies the maximum number of tokens to generate.
	MaxTokens int
	// Model is the identifier of the language model to use.
	Model string
	// Temperature controls sampling randomness. Nil means provider default.
	Temperature *float64
	// System is the system role message.
	System string
}

// ParseRequestOptions extracts request parameters from an option map,
// falling back to defaults for missing or invalid entries.
func ParseRequestOptions(opts map[string]any, defaultModel string) RequestOptions {
	options := RequestOptions{
		MaxTokens: ExtractOptionalInt(opts, "max_tokens", DefaultMaxTokens, IsPositiveInt),
		Model:     ExtractOptionalString(opts, "model", defaultModel, IsNonEmptyString),
		System:    ExtractOptionalString(opts, "system", "", nil),
	}

	if temp := ExtractOptionalFloat64(opts, "temperature", -1, IsValidTemperature); temp != -1 {
		options.Temperature = &temp
	}

	return options
}

// TokenCounter estimates token counts when a provider omits usage figures.
type TokenCounter struct {
	// CharactersPerToken is the average number of characters per token.
	CharactersPerToken float64
}

// NewTokenCounter creates a TokenCounter tuned for English text.
func NewTokenCounter() *TokenCounter {
	return &TokenCounter{CharactersPerToken: 4.0}
}

// EstimateTokens returns an approximate token count for text.
func (tc *TokenCounter) EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return int(float64(len(text)) / tc.CharactersPerToken)
}

// GetTokenCount returns actualCount when positive, otherwise an estimate.
func (tc *TokenCounter) GetTokenCount(actualCount int, text string) int {
	if actualCount > 0 {
		return actualCount
	}
	return tc.EstimateTokens(text)
}
