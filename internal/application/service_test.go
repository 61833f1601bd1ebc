package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ahrav/smartvalidator/infrastructure/rules"
	"github.com/ahrav/smartvalidator/internal/domain"
	"github.com/ahrav/smartvalidator/internal/ports"
	"github.com/ahrav/smartvalidator/internal/testutils"
)

const testKey = "gsk_test_key"

type serviceFixture struct {
	service  *Service
	client   *testutils.MockCompletionClient
	resolver *testutils.StaticResolver
	metrics  *testutils.RecordingMetrics
	logs     *observer.ObservedLogs

	mu   sync.Mutex
	keys []string
}

func newFixture(t *testing.T, rulesLoader ports.RulesLoader, concurrency int) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		client:   testutils.NewMockCompletionClient("llama-3.1-8b-instant"),
		resolver: testutils.NewStaticResolver(testKey, domain.OriginEnvFallback),
		metrics:  testutils.NewRecordingMetrics(),
	}
	core, logs := observer.New(zapcore.DebugLevel)
	f.logs = logs
	if rulesLoader == nil {
		rulesLoader = &testutils.StaticRules{Text: "1. Picked quantity must not exceed stock."}
	}

	factory := func(apiKey string) (ports.CompletionClient, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.keys = append(f.keys, apiKey)
		return f.client, nil
	}
	svc, err := NewService(f.resolver, rulesLoader, factory, nil, ServiceOptions{
		Logger:      zap.New(core),
		Metrics:     f.metrics,
		Concurrency: concurrency,
	})
	require.NoError(t, err)
	f.service = svc
	return f
}

func records(n int) []domain.Record {
	out := make([]domain.Record, n)
	for i := range out {
		out[i] = domain.Record{"matnr": i, "pick_qty": 1}
	}
	return out
}

func TestNewService_RequiresDependencies(t *testing.T) {
	factory := func(string) (ports.CompletionClient, error) { return nil, nil }
	resolver := testutils.NewStaticResolver("k", "o")
	loader := &testutils.StaticRules{}

	_, err := NewService(nil, loader, factory, nil, ServiceOptions{})
	assert.Error(t, err)
	_, err = NewService(resolver, nil, factory, nil, ServiceOptions{})
	assert.Error(t, err)
	_, err = NewService(resolver, loader, nil, nil, ServiceOptions{})
	assert.Error(t, err)

	svc, err := NewService(resolver, loader, factory, nil, ServiceOptions{Concurrency: -3})
	require.NoError(t, err)
	assert.Equal(t, 1, svc.concurrency)
}

// TestValidateData_OneVerdictPerRecordInOrder tests that a batch of N
// records yields N verdicts whose record_id equals their position.
func TestValidateData_OneVerdictPerRecordInOrder(t *testing.T) {
	for _, concurrency := range []int{1, 4} {
		t.Run(fmt.Sprintf("concurrency %d", concurrency), func(t *testing.T) {
			f := newFixture(t, nil, concurrency)
			f.client.SetDelay(5 * time.Millisecond)
			for i := range 12 {
				f.client.RespondTo(i, testutils.OKReply(testutils.VerdictJSON(100+i, "OK", "fine", float64(1+i%9))))
			}

			result, err := f.service.ValidateData(context.Background(), records(12), ValidateOptions{})

			require.NoError(t, err)
			require.Len(t, result.Results, 12)
			for i, v := range result.Results {
				assert.Equal(t, i, v.RecordID)
				require.NotNil(t, v.Score)
				assert.InDelta(t, float64(1+i%9), *v.Score, 1e-9, "verdict %d out of place", i)
			}
			assert.Equal(t, 12, f.client.CallCount())
			assert.Equal(t, domain.OriginEnvFallback, result.KeySource)
			assert.NotEmpty(t, result.BatchID)
			assert.Equal(t, []string{testKey}, f.keys, "one client per batch")
		})
	}
}

func TestValidateData_EmptyBatch(t *testing.T) {
	f := newFixture(t, nil, 1)

	result, err := f.service.ValidateData(context.Background(), nil, ValidateOptions{})

	require.NoError(t, err)
	assert.Empty(t, result.Results)
	assert.NotNil(t, result.Results)
	assert.Zero(t, f.client.CallCount())
	assert.Equal(t, domain.OriginEnvFallback, result.KeySource)
}

// TestValidateData_RecordFailuresAreIndependent tests that an HTTP failure,
// a transport failure and an unparseable reply only affect their own
// positions.
func TestValidateData_RecordFailuresAreIndependent(t *testing.T) {
	f := newFixture(t, nil, 1)
	f.client.
		RespondTo(1, testutils.StatusReply(503, "upstream unavailable")).
		RespondTo(2, testutils.ErrReply(errors.New("dial tcp: connection refused"))).
		RespondTo(3, testutils.OKReply("I think this record is fine."))

	result, err := f.service.ValidateData(context.Background(), records(5), ValidateOptions{})
	require.NoError(t, err)
	require.Len(t, result.Results, 5)

	http := result.Results[1]
	assert.Equal(t, "Error: HTTP 503", http.Status)
	assert.Equal(t, "upstream unavailable", *http.Reasoning)
	assert.Nil(t, http.Score)

	transport := result.Results[2]
	assert.Equal(t, "Error: dial tcp: connection refused", transport.Status)
	assert.Nil(t, transport.Reasoning)
	assert.Nil(t, transport.Score)

	parse := result.Results[3]
	assert.True(t, strings.HasPrefix(parse.Status, "Error"))
	assert.Equal(t, "I think this record is fine.", *parse.Reasoning)
	assert.Nil(t, parse.Score)

	for _, i := range []int{0, 4} {
		assert.Equal(t, "OK", result.Results[i].Status)
		require.NotNil(t, result.Results[i].Score)
	}
	assert.Equal(t, 2, result.Summary.OK)
	assert.Equal(t, 3, result.Summary.Error)
	assert.Equal(t, 5, f.client.CallCount(), "no early termination")
}

func TestValidateData_ScoreRounding(t *testing.T) {
	f := newFixture(t, nil, 1)
	f.client.RespondTo(0, testutils.OKReply(`{"record_id":3,"llm_reasoning":"ok","status":"OK","score":7.33}`))

	result, err := f.service.ValidateData(context.Background(), records(1), ValidateOptions{})

	require.NoError(t, err)
	v := result.Results[0]
	assert.Equal(t, 0, v.RecordID)
	assert.Equal(t, "OK", v.Status)
	require.NotNil(t, v.Score)
	assert.InDelta(t, 7.3, *v.Score, 1e-9)
}

// TestValidateData_PickedExceedsStock runs the reference scenario end to end
// and checks the wire form of the verdict.
func TestValidateData_PickedExceedsStock(t *testing.T) {
	f := newFixture(t, nil, 1)
	f.client.SetDefault(testutils.OKReply(
		`{"record_id":0,"llm_reasoning":"Picked exceeds stock","status":"Error","score":2.0}`))

	input := []domain.Record{{"matnr": "100", "maktx": "Widget", "pick_qty": 5, "stock_qty": 3}}
	result, err := f.service.ValidateData(context.Background(), input, ValidateOptions{})
	require.NoError(t, err)

	encoded, err := json.Marshal(result.Results)
	require.NoError(t, err)
	assert.JSONEq(t,
		`[{"record_id":0,"status":"Error","llm_reasoning":"Picked exceeds stock","score":2.0}]`,
		string(encoded))

	prompt := f.client.Calls()[0].Prompt
	assert.Contains(t, prompt, `"Material Number": "100"`)
	assert.Contains(t, prompt, `"Picked Quantity": 5`)
	assert.Contains(t, prompt, `"maktx": "Widget"`)
	assert.Contains(t, prompt, `"stock_qty": 3`)
}

// TestValidateData_NoCredential tests that a missing key aborts the batch
// before any request is made.
func TestValidateData_NoCredential(t *testing.T) {
	f := newFixture(t, nil, 1)
	f.service.credentials = testutils.NewFailingResolver()

	result, err := f.service.ValidateData(context.Background(), records(3), ValidateOptions{Source: "react"})

	require.Error(t, err)
	assert.True(t, IsCredentialError(err))
	assert.ErrorIs(t, err, domain.ErrCredentialNotFound)
	assert.Empty(t, result.Results)
	assert.Equal(t, domain.OriginNotFound, result.KeySource)
	assert.Zero(t, f.client.CallCount())
	assert.Empty(t, f.keys, "no client is built")
	assert.Equal(t, 1.0, f.metrics.CounterTotal("validate_batch_total", map[string]string{"status": "credential_error"}))
	assert.Equal(t, 1, f.logs.FilterMessage("no API key available, batch rejected").Len())
}

func TestValidateData_ClientFactoryFailure(t *testing.T) {
	f := newFixture(t, nil, 1)
	boom := errors.New("unknown provider")
	f.service.newClient = func(string) (ports.CompletionClient, error) { return nil, boom }

	result, err := f.service.ValidateData(context.Background(), records(2), ValidateOptions{})

	require.ErrorIs(t, err, boom)
	assert.False(t, IsCredentialError(err))
	assert.Empty(t, result.Results)
	assert.Equal(t, domain.OriginEnvFallback, result.KeySource)
}

func TestValidateData_SourceIsPassedToResolver(t *testing.T) {
	f := newFixture(t, nil, 1)

	_, err := f.service.ValidateData(context.Background(), records(1), ValidateOptions{Source: "react"})

	require.NoError(t, err)
	assert.Equal(t, []string{"react"}, f.resolver.Sources())
}

func TestValidateData_RulesInjectedOnlyWithRAG(t *testing.T) {
	loader := &testutils.StaticRules{Text: "RULE-TEXT-MARKER"}
	f := newFixture(t, loader, 1)

	_, err := f.service.ValidateData(context.Background(), records(2), ValidateOptions{})
	require.NoError(t, err)
	for _, c := range f.client.Calls() {
		assert.NotContains(t, c.Prompt, "RULE-TEXT-MARKER")
	}
	assert.Zero(t, loader.Loads())

	f.client.Reset()
	_, err = f.service.ValidateData(context.Background(), records(3), ValidateOptions{UseRAG: true})
	require.NoError(t, err)
	for _, c := range f.client.Calls() {
		assert.Contains(t, c.Prompt, "RULE-TEXT-MARKER")
	}
	assert.Equal(t, 1, loader.Loads(), "rules are loaded once per batch")
}

// TestValidateData_UnreadableRules tests that a missing rules document
// degrades to the sentinel text instead of failing the batch.
func TestValidateData_UnreadableRules(t *testing.T) {
	loader := rules.NewFileLoader(filepath.Join(t.TempDir(), "missing", "rules.txt"), nil)
	f := newFixture(t, loader, 1)

	result, err := f.service.ValidateData(context.Background(), records(4), ValidateOptions{UseRAG: true})

	require.NoError(t, err)
	assert.Len(t, result.Results, 4)
	calls := f.client.Calls()
	require.Len(t, calls, 4)
	for _, c := range calls {
		assert.Contains(t, c.Prompt, "[Rules could not be loaded: ")
	}
}

// TestValidateData_Cancellation tests that cancelling mid-batch still yields
// one verdict per record.
func TestValidateData_Cancellation(t *testing.T) {
	for _, concurrency := range []int{1, 3} {
		t.Run(fmt.Sprintf("concurrency %d", concurrency), func(t *testing.T) {
			defer goleak.VerifyNone(t)

			f := newFixture(t, nil, concurrency)
			f.client.SetDelay(20 * time.Millisecond)
			ctx, cancel := context.WithCancel(context.Background())
			time.AfterFunc(30*time.Millisecond, cancel)
			defer cancel()

			result, err := f.service.ValidateData(ctx, records(20), ValidateOptions{})

			require.NoError(t, err)
			require.Len(t, result.Results, 20)
			assert.Less(t, f.client.CallCount(), 20, "scheduling stops after cancellation")
			last := result.Results[19]
			assert.Equal(t, 19, last.RecordID)
			assert.Equal(t, "Error: context canceled", last.Status)
			assert.Equal(t, domain.OutcomeRequestError, last.Outcome)
			assert.Equal(t, 1, f.logs.FilterMessage("batch interrupted").Len())
		})
	}
}

// TestValidateData_ConcurrencyIsBounded tests that the worker pool never
// exceeds its limit and leaks no goroutines.
func TestValidateData_ConcurrencyIsBounded(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t, nil, 3)
	f.client.SetDelay(10 * time.Millisecond)

	result, err := f.service.ValidateData(context.Background(), records(15), ValidateOptions{})

	require.NoError(t, err)
	assert.Len(t, result.Results, 15)
	assert.LessOrEqual(t, f.client.PeakConcurrency(), 3)
	assert.Greater(t, f.client.PeakConcurrency(), 1)
}

func TestValidateData_SequentialByDefault(t *testing.T) {
	f := newFixture(t, nil, 0)
	f.client.SetDelay(2 * time.Millisecond)

	_, err := f.service.ValidateData(context.Background(), records(5), ValidateOptions{})

	require.NoError(t, err)
	assert.Equal(t, 1, f.client.PeakConcurrency())
	for i, c := range f.client.Calls() {
		assert.Equal(t, i, c.Index, "records are sent in order")
	}
}

func TestValidateData_Metrics(t *testing.T) {
	f := newFixture(t, nil, 1)
	f.client.
		RespondTo(0, testutils.OKReply(testutils.VerdictJSON(0, "OK", "fine", 8.5))).
		RespondTo(1, testutils.OKReply(testutils.VerdictJSON(1, "Error", "bad", 3))).
		RespondTo(2, testutils.StatusReply(500, ""))

	_, err := f.service.ValidateData(context.Background(), records(3), ValidateOptions{})
	require.NoError(t, err)

	m := f.metrics
	assert.Equal(t, 1.0, m.CounterTotal("validation_verdicts_total", map[string]string{"outcome": "ok"}))
	assert.Equal(t, 1.0, m.CounterTotal("validation_verdicts_total", map[string]string{"outcome": "flagged"}))
	assert.Equal(t, 1.0, m.CounterTotal("validation_verdicts_total", map[string]string{"outcome": "transport_error"}))
	assert.ElementsMatch(t, []float64{8.5, 3}, m.Observations("validation_verdict_score"))
	assert.Equal(t, 1.0, m.CounterTotal("validate_batch_total", map[string]string{"status": "success"}))
	assert.Len(t, m.Observations("validate_batch"), 1)
}

func TestValidateData_Logging(t *testing.T) {
	f := newFixture(t, nil, 1)

	_, err := f.service.ValidateData(context.Background(), records(2), ValidateOptions{UseRAG: true, Source: "react"})
	require.NoError(t, err)

	started := f.logs.FilterMessage("batch started").All()
	require.Len(t, started, 1)
	fields := started[0].ContextMap()
	assert.Equal(t, int64(2), fields["records"])
	assert.Equal(t, true, fields["use_rag"])
	assert.Equal(t, domain.OriginEnvFallback, fields["key_source"])
	assert.NotEmpty(t, fields["batch_id"])

	finished := f.logs.FilterMessage("batch finished").All()
	require.Len(t, finished, 1)
	assert.Equal(t, int64(2), finished[0].ContextMap()["ok"])

	perRecord := f.logs.FilterMessage("record validated")
	assert.Equal(t, 2, perRecord.Len())
	assert.Equal(t, zapcore.DebugLevel, perRecord.All()[0].Level)

	for _, entry := range f.logs.All() {
		for _, v := range entry.ContextMap() {
			if s, ok := v.(string); ok {
				assert.NotContains(t, s, testKey, "API key must never be logged")
			}
		}
	}
}

func TestValidateData_ConcurrentBatches(t *testing.T) {
	f := newFixture(t, nil, 2)
	var done atomic.Int32

	errs := make(chan error, 4)
	for range 4 {
		go func() {
			res, err := f.service.ValidateData(context.Background(), records(3), ValidateOptions{})
			if err == nil && len(res.Results) != 3 {
				err = errors.New("wrong result length")
			}
			done.Add(1)
			errs <- err
		}()
	}
	for range 4 {
		require.NoError(t, <-errs)
	}
	assert.Equal(t, int32(4), done.Load())
	assert.Equal(t, 12, f.client.CallCount())
}

func TestFormatScore(t *testing.T) {
	assert.Equal(t, "-", FormatScore(nil))
	assert.Equal(t, "7.0", FormatScore(ptrF(7)))
	assert.Equal(t, "8.5", FormatScore(ptrF(8.5)))
}
