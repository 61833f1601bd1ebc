// Package testutils provides test doubles for the validation pipeline's
// ports: a scriptable completion client, fixed credential and rules
// sources, and an in-memory metrics collector.
package testutils

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ahrav/smartvalidator/internal/ports"
)

// recordIDPattern finds the record index embedded in a validation prompt's
// JSON example.
var recordIDPattern = regexp.MustCompile(`"record_id":\s*(\d+)`)

// MockReply is one scripted outcome of a completion request.
type MockReply struct {
	// Response is returned when Err is nil.
	Response ports.RawResponse
	// Err is returned instead of a response, simulating a request that
	// produced no HTTP status.
	Err error
}

// OKReply returns a 200 reply carrying content.
func OKReply(content string) MockReply {
	return MockReply{Response: ports.RawResponse{StatusCode: 200, Content: content}}
}

// StatusReply returns a non-2xx reply carrying body.
func StatusReply(status int, body string) MockReply {
	return MockReply{Response: ports.RawResponse{StatusCode: status, Body: body}}
}

// ErrReply returns a reply that fails with err.
func ErrReply(err error) MockReply {
	return MockReply{Err: err}
}

// VerdictJSON renders a well-formed model reply for index.
func VerdictJSON(index int, status, reasoning string, score float64) string {
	return fmt.Sprintf(`{"record_id": %d, "llm_reasoning": %q, "status": %q, "score": %g}`,
		index, reasoning, status, score)
}

// MockCall records one Complete invocation.
type MockCall struct {
	// Prompt is the prompt that was sent.
	Prompt string
	// Index is the record index found in the prompt, or -1.
	Index int
	// At is when the call started.
	At time.Time
}

// MockCompletionClient implements ports.CompletionClient with scripted,
// deterministic replies and records every call.
//
// Replies are chosen in this order: a reply scripted for the record index
// found in the prompt, the first pattern whose text appears in the prompt,
// then the default, which approves the record with score 9.
// A MockCompletionClient is safe for concurrent use.
type MockCompletionClient struct {
	model string
	delay time.Duration

	mu       sync.Mutex
	byIndex  map[int]MockReply
	patterns []mockPattern
	fallback *MockReply
	calls    []MockCall
	inFlight int
	peak     int
}

type mockPattern struct {
	pattern string
	reply   MockReply
}

var _ ports.CompletionClient = (*MockCompletionClient)(nil)

// NewMockCompletionClient creates a mock that approves every record.
func NewMockCompletionClient(model string) *MockCompletionClient {
	return &MockCompletionClient{
		model:   model,
		byIndex: make(map[int]MockReply),
	}
}

// RespondTo scripts the reply for the record at index.
func (m *MockCompletionClient) RespondTo(index int, reply MockReply) *MockCompletionClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byIndex[index] = reply
	return m
}

// AddPattern scripts the reply for prompts containing pattern.
// Patterns are matched case-insensitively in the order they were added.
func (m *MockCompletionClient) AddPattern(pattern string, reply MockReply) *MockCompletionClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patterns = append(m.patterns, mockPattern{pattern: strings.ToLower(pattern), reply: reply})
	return m
}

// SetDefault replaces the reply used when nothing else matches.
func (m *MockCompletionClient) SetDefault(reply MockReply) *MockCompletionClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = &reply
	return m
}

// SetDelay makes every call wait d, or until its context ends.
func (m *MockCompletionClient) SetDelay(d time.Duration) *MockCompletionClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// Complete implements ports.CompletionClient.
func (m *MockCompletionClient) Complete(ctx context.Context, prompt string) (ports.RawResponse, error) {
	index := IndexFromPrompt(prompt)

	m.mu.Lock()
	m.calls = append(m.calls, MockCall{Prompt: prompt, Index: index, At: time.Now()})
	m.inFlight++
	m.peak = max(m.peak, m.inFlight)
	reply := m.replyFor(index, prompt)
	delay := m.delay
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ports.RawResponse{}, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return ports.RawResponse{}, err
	}

	if reply.Err != nil {
		return ports.RawResponse{}, reply.Err
	}
	return reply.Response, nil
}

// replyFor must be called with m.mu held.
func (m *MockCompletionClient) replyFor(index int, prompt string) MockReply {
	if r, ok := m.byIndex[index]; ok {
		return r
	}
	lower := strings.ToLower(prompt)
	for _, p := range m.patterns {
		if strings.Contains(lower, p.pattern) {
			return p.reply
		}
	}
	if m.fallback != nil {
		return *m.fallback
	}
	return OKReply(VerdictJSON(max(index, 0), "OK", "Record is consistent.", 9))
}

// GetModel implements ports.CompletionClient.
func (m *MockCompletionClient) GetModel() string { return m.model }

// Calls returns a copy of the recorded calls in arrival order.
func (m *MockCompletionClient) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall(nil), m.calls...)
}

// CallCount returns the number of Complete invocations.
func (m *MockCompletionClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// PeakConcurrency returns the largest number of calls seen in flight at once.
func (m *MockCompletionClient) PeakConcurrency() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peak
}

// Reset clears scripted replies and recorded calls.
func (m *MockCompletionClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byIndex = make(map[int]MockReply)
	m.patterns = nil
	m.fallback = nil
	m.calls = nil
	m.peak = 0
}

// IndexFromPrompt returns the record index embedded in a validation prompt,
// or -1 when there is none. The last occurrence wins because the record
// itself may carry a record_id field ahead of the JSON example.
func IndexFromPrompt(prompt string) int {
	matches := recordIDPattern.FindAllStringSubmatch(prompt, -1)
	if len(matches) == 0 {
		return -1
	}
	n, err := strconv.Atoi(matches[len(matches)-1][1])
	if err != nil {
		return -1
	}
	return n
}
