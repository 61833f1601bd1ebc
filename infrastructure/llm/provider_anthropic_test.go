package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockUsage provides a mock structure for token usage information in test responses.
type mockUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// mockContent provides a mock structure for content blocks in test responses.
type mockContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// mockResponse provides a mock structure for a successful API response in tests.
type mockResponse struct {
	ID      string        `json:"id"`
	Type    string        `json:"type"`
	Role    string        `json:"role"`
	Content []mockContent `json:"content"`
	Model   string        `json:"model"`
	Usage   mockUsage     `json:"usage"`
}

func newAnthropicTestProvider(t *testing.T, handler http.HandlerFunc) CoreLLM {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	provider, err := newAnthropicProvider(ClientConfig{
		APIKey:  "test-api-key",
		BaseURL: server.URL,
	})
	require.NoError(t, err)
	return provider
}

func writeAnthropicMessage(w http.ResponseWriter, usage mockUsage, texts ...string) {
	content := make([]mockContent, 0, len(texts))
	for _, text := range texts {
		content = append(content, mockContent{Type: "text", Text: text})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(mockResponse{
		ID:      "msg_test_id",
		Type:    "message",
		Role:    "assistant",
		Content: content,
		Model:   AnthropicDefaultModel,
		Usage:   usage,
	})
}

// TestNewAnthropicProvider tests provider construction.
func TestNewAnthropicProvider(t *testing.T) {
	t.Run("default model", func(t *testing.T) {
		provider, err := newAnthropicProvider(ClientConfig{APIKey: "k"})
		require.NoError(t, err)
		assert.Equal(t, AnthropicDefaultModel, provider.GetModel())
	})

	t.Run("custom model", func(t *testing.T) {
		provider, err := newAnthropicProvider(ClientConfig{APIKey: "k", Model: "claude-sonnet-4-0"})
		require.NoError(t, err)
		assert.Equal(t, "claude-sonnet-4-0", provider.GetModel())
	})

	t.Run("empty api key", func(t *testing.T) {
		_, err := newAnthropicProvider(ClientConfig{})
		assert.ErrorIs(t, err, ErrEmptyAPIKey)
	})

	t.Run("invalid base url", func(t *testing.T) {
		_, err := newAnthropicProvider(ClientConfig{APIKey: "k", BaseURL: "not a url"})
		assert.Error(t, err)
	})
}

// TestAnthropicProvider_DoRequest_Success tests a successful request to the
// Anthropic provider and the request body it sends.
func TestAnthropicProvider_DoRequest_Success(t *testing.T) {
	provider := newAnthropicTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-api-key", r.Header.Get("X-Api-Key"))

		var reqBody map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&reqBody))

		assert.Equal(t, AnthropicDefaultModel, reqBody["model"])
		assert.InDelta(t, 256.0, reqBody["max_tokens"], 0.0001)
		assert.InDelta(t, 0.7, reqBody["temperature"], 0.0001)

		system, ok := reqBody["system"].([]any)
		require.True(t, ok, "system prompt should be sent as text blocks")
		require.Len(t, system, 1)
		assert.Equal(t, DefaultSystemPrompt, system[0].(map[string]any)["text"])

		messages := reqBody["messages"].([]any)
		assert.Len(t, messages, 1)

		writeAnthropicMessage(w, mockUsage{InputTokens: 10, OutputTokens: 15}, `{"status":"OK"}`)
	})

	response, tokensIn, tokensOut, err := provider.DoRequest(context.Background(), "Hello, world!", map[string]any{
		"system":      DefaultSystemPrompt,
		"temperature": 0.7,
		"max_tokens":  256,
	})

	require.NoError(t, err)
	assert.Equal(t, `{"status":"OK"}`, response)
	assert.Equal(t, 10, tokensIn)
	assert.Equal(t, 15, tokensOut)
}

// TestAnthropicProvider_DoRequest_MultipleContentBlocks tests that text blocks
// are concatenated.
func TestAnthropicProvider_DoRequest_MultipleContentBlocks(t *testing.T) {
	provider := newAnthropicTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		writeAnthropicMessage(w, mockUsage{InputTokens: 1, OutputTokens: 1}, "First. ", "Second.")
	})

	response, _, _, err := provider.DoRequest(context.Background(), "p", nil)

	require.NoError(t, err)
	assert.Equal(t, "First. Second.", response)
}

// TestAnthropicProvider_DoRequest_TemperatureClamped tests that temperatures
// above Anthropic's range are clamped.
func TestAnthropicProvider_DoRequest_TemperatureClamped(t *testing.T) {
	provider := newAnthropicTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		var reqBody map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&reqBody))
		assert.InDelta(t, 1.0, reqBody["temperature"], 0.0001)
		writeAnthropicMessage(w, mockUsage{InputTokens: 1, OutputTokens: 1}, "ok")
	})

	_, _, _, err := provider.DoRequest(context.Background(), "p", map[string]any{"temperature": 1.5})
	require.NoError(t, err)
}

// TestAnthropicProvider_DoRequest_HTTPErrors tests that error replies carry
// their status, classification and raw body, and are not retried.
func TestAnthropicProvider_DoRequest_HTTPErrors(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		body       string
		wantType   ErrorType
	}{
		{
			name:       "auth",
			statusCode: http.StatusUnauthorized,
			body:       `{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`,
			wantType:   ErrorTypeAuthentication,
		},
		{
			name:       "rate limit",
			statusCode: http.StatusTooManyRequests,
			body:       `{"type":"error","error":{"type":"rate_limit_error","message":"rate limit exceeded"}}`,
			wantType:   ErrorTypeRateLimit,
		},
		{
			name:       "overloaded",
			statusCode: 529,
			body:       `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`,
			wantType:   ErrorTypeServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			provider := newAnthropicTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.statusCode)
				_, _ = w.Write([]byte(tt.body))
			})

			response, tokensIn, tokensOut, err := provider.DoRequest(context.Background(), "Test", nil)

			require.Error(t, err)
			var pe *ProviderError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.statusCode, pe.StatusCode)
			assert.Equal(t, tt.wantType, pe.Type)
			assert.JSONEq(t, tt.body, pe.Body)
			assert.Contains(t, err.Error(), "anthropic")
			assert.Empty(t, response)
			assert.Zero(t, tokensIn)
			assert.Zero(t, tokensOut)
			assert.Equal(t, int32(1), calls.Load(), "requests must not be retried")
		})
	}
}

// TestAnthropicProvider_DoRequest_ContextCancellation tests the handling of
// a deadline that expires during a request.
func TestAnthropicProvider_DoRequest_ContextCancellation(t *testing.T) {
	provider := newAnthropicTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		writeAnthropicMessage(w, mockUsage{InputTokens: 5, OutputTokens: 5}, "Response")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	response, _, _, err := provider.DoRequest(ctx, "Test", nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ErrorTypeTimeout, pe.Type)
	assert.False(t, pe.HasStatus())
	assert.Empty(t, response)
}

// TestAnthropicProvider_DoRequest_TokenFallback tests the token estimation
// fallback when the reply does not include usage information.
func TestAnthropicProvider_DoRequest_TokenFallback(t *testing.T) {
	provider := newAnthropicTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		writeAnthropicMessage(w, mockUsage{}, "Test response")
	})

	response, tokensIn, tokensOut, err := provider.DoRequest(context.Background(), "Hello world", nil)

	require.NoError(t, err)
	assert.Equal(t, "Test response", response)
	assert.Positive(t, tokensIn)
	assert.Positive(t, tokensOut)
}

// TestAnthropicProvider_DoRequest_EmptyContent tests that a reply without
// text is an error.
func TestAnthropicProvider_DoRequest_EmptyContent(t *testing.T) {
	provider := newAnthropicTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		writeAnthropicMessage(w, mockUsage{InputTokens: 1, OutputTokens: 0})
	})

	_, _, _, err := provider.DoRequest(context.Background(), "p", nil)

	assert.ErrorIs(t, err, ErrEmptyResponse)
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ErrorTypeMalformedReply, pe.Type)
	assert.Equal(t, http.StatusOK, pe.StatusCode)
	assert.Contains(t, pe.Body, `"content"`, "the reply envelope is kept")
}
