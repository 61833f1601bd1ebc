package domain

import (
	"math"
	"strings"
)

// StatusOK is the only status value that denotes a valid record.
// Every other status, including model-supplied text and locally synthesized
// "Error: ..." strings, denotes a failure.
const StatusOK = "OK"

// StatusError is the status assumed when a model reply omits one.
const StatusError = "Error"

// NoExplanation is substituted when the model omits llm_reasoning.
const NoExplanation = "No explanation provided."

// Outcome records which stage produced a Verdict. It is not part of the
// wire format; it exists for metrics and for callers that need to tell a
// model rejection apart from a local failure.
type Outcome int

const (
	// OutcomeOK means the model replied with status "OK".
	OutcomeOK Outcome = iota
	// OutcomeFlagged means the model replied with a well-formed verdict
	// whose status is not "OK".
	OutcomeFlagged
	// OutcomeTransportError means the completion endpoint answered with a
	// non-success HTTP status.
	OutcomeTransportError
	// OutcomeParseError means the reply could not be decoded into a verdict.
	OutcomeParseError
	// OutcomeRequestError means no HTTP status was received at all
	// (network failure, timeout, open circuit, cancelled batch).
	OutcomeRequestError
)

// String returns the metric label for the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeFlagged:
		return "flagged"
	case OutcomeTransportError:
		return "transport_error"
	case OutcomeParseError:
		return "parse_error"
	case OutcomeRequestError:
		return "request_error"
	default:
		return "unknown"
	}
}

// Verdict is the normalized outcome for one record of a batch.
// Verdicts are built once and never mutated afterwards.
type Verdict struct {
	// RecordID is the zero-based position of the record within its batch.
	RecordID int `json:"record_id"`

	// Status is "OK" for valid records; anything else is a failure.
	Status string `json:"status"`

	// Reasoning is the model's explanation, or the raw reply or error body
	// when the verdict was synthesized locally. It may be nil.
	Reasoning *string `json:"llm_reasoning"`

	// Score is the model's 1-10 confidence rounded to one decimal, or nil.
	Score *float64 `json:"score"`

	// Outcome identifies the stage that produced this verdict.
	Outcome Outcome `json:"-"`
}

// IsOK reports whether the verdict marks its record as valid.
func (v Verdict) IsOK() bool { return v.Status == StatusOK }

// NewModelVerdict builds a verdict from a successfully decoded model reply.
func NewModelVerdict(index int, status, reasoning string, score *float64) Verdict {
	outcome := OutcomeFlagged
	if status == StatusOK {
		outcome = OutcomeOK
	}
	return Verdict{
		RecordID:  index,
		Status:    status,
		Reasoning: &reasoning,
		Score:     score,
		Outcome:   outcome,
	}
}

// NewFailedVerdict builds a locally synthesized failure verdict.
// The status is prefixed with "Error: " unless it already starts with "Error".
// An empty reasoning is stored as nil.
func NewFailedVerdict(index int, outcome Outcome, message, reasoning string) Verdict {
	status := message
	if !strings.HasPrefix(status, StatusError) {
		status = StatusError + ": " + message
	}
	v := Verdict{
		RecordID: index,
		Status:   status,
		Outcome:  outcome,
	}
	if reasoning != "" {
		v.Reasoning = &reasoning
	}
	return v
}

// RoundScore rounds a score to one decimal place.
func RoundScore(score float64) float64 {
	return math.Round(score*10) / 10
}

// Summary aggregates a batch the same way the review UI summarizes it.
type Summary struct {
	// OK counts verdicts with status "OK".
	OK int `json:"ok"`
	// Error counts every other verdict.
	Error int `json:"error"`
	// AverageScore is the mean of non-nil scores rounded to one decimal,
	// or nil when no verdict carries a score.
	AverageScore *float64 `json:"avg_score"`
}

// BatchResult is the ordered outcome of one validation call.
// Results[i] always corresponds to input record i.
type BatchResult struct {
	// BatchID correlates logs and traces for this call.
	BatchID string `json:"batch_id,omitempty"`

	// Results holds one verdict per input record, in input order.
	Results []Verdict `json:"results"`

	// KeySource names the credential strategy that supplied the API key
	// used for the whole batch.
	KeySource string `json:"key_source"`

	// Summary aggregates Results.
	Summary Summary `json:"summary"`
}

// NewBatchResult assembles a BatchResult and computes its summary.
func NewBatchResult(batchID string, results []Verdict, keySource string) BatchResult {
	if results == nil {
		results = []Verdict{}
	}
	return BatchResult{
		BatchID:   batchID,
		Results:   results,
		KeySource: keySource,
		Summary:   Summarize(results),
	}
}

// Summarize counts OK and failed verdicts and averages the available scores.
func Summarize(results []Verdict) Summary {
	var s Summary
	var total float64
	var scored int
	for _, v := range results {
		if v.IsOK() {
			s.OK++
		} else {
			s.Error++
		}
		if v.Score != nil {
			total += *v.Score
			scored++
		}
	}
	if scored > 0 {
		avg := RoundScore(total / float64(scored))
		s.AverageScore = &avg
	}
	return s
}
