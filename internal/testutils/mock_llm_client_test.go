package testutils

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMockCompletionClient_ReplyPrecedence tests that index scripts win over
// patterns, patterns over the default, and the default approves.
func TestMockCompletionClient_ReplyPrecedence(t *testing.T) {
	boom := errors.New("boom")
	m := NewMockCompletionClient("m").
		RespondTo(1, StatusReply(500, "server error")).
		AddPattern("WIDGET", OKReply(VerdictJSON(0, "Error", "widget rule", 3))).
		AddPattern("gadget", ErrReply(boom))

	tests := []struct {
		name       string
		prompt     string
		wantStatus int
		wantBody   string
		wantErr    error
		wantText   string
	}{
		{
			name:       "index script",
			prompt:     `{"Material": "widget"} ... "record_id": 1`,
			wantStatus: 500,
			wantBody:   "server error",
		},
		{
			name:       "pattern is case insensitive",
			prompt:     `{"Material": "Widget"} ... "record_id": 0`,
			wantStatus: 200,
			wantText:   "widget rule",
		},
		{
			name:    "pattern error",
			prompt:  `gadget "record_id": 2`,
			wantErr: boom,
		},
		{
			name:       "default approves",
			prompt:     `plain "record_id": 4`,
			wantStatus: 200,
			wantText:   `"record_id": 4`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := m.Complete(context.Background(), tt.prompt)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, tt.wantBody, resp.Body)
			assert.Contains(t, resp.Content, tt.wantText)
		})
	}
	assert.Equal(t, 4, m.CallCount())
	assert.Equal(t, "m", m.GetModel())
}

func TestMockCompletionClient_SetDefault(t *testing.T) {
	m := NewMockCompletionClient("m").SetDefault(OKReply("not json"))

	resp, err := m.Complete(context.Background(), "anything")

	require.NoError(t, err)
	assert.Equal(t, "not json", resp.Content)
}

func TestMockCompletionClient_DelayHonorsContext(t *testing.T) {
	m := NewMockCompletionClient("m").SetDelay(time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := m.Complete(ctx, `"record_id": 0`)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMockCompletionClient_PeakConcurrency(t *testing.T) {
	m := NewMockCompletionClient("m").SetDelay(200 * time.Millisecond)

	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.Complete(context.Background(), "x")
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, m.PeakConcurrency())
	assert.Len(t, m.Calls(), 3)

	m.Reset()
	assert.Zero(t, m.CallCount())
	assert.Zero(t, m.PeakConcurrency())
}

func TestIndexFromPrompt(t *testing.T) {
	assert.Equal(t, -1, IndexFromPrompt("no index here"))
	assert.Equal(t, 7, IndexFromPrompt(`"record_id": 7`))
	assert.Equal(t, 2, IndexFromPrompt(`{"record_id": 99} ... {"record_id":2}`), "last occurrence wins")
}
