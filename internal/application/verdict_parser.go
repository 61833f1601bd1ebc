package application

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ahrav/smartvalidator/internal/domain"
	"github.com/ahrav/smartvalidator/internal/ports"
)

// Score bounds accepted from a model reply.
const (
	MinScore = 1.0
	MaxScore = 10.0
)

// modelReply is the shape a model reply must decode into. Status and
// reasoning must be strings when present and at least one must be present.
// The score is kept untyped and coerced separately.
type modelReply struct {
	RecordID  any     `json:"record_id"`
	Status    *string `json:"status" validate:"required_without=Reasoning"`
	Reasoning *string `json:"llm_reasoning" validate:"required_without=Status"`
	Score     any     `json:"score"`
}

// VerdictParser turns completion results into verdicts. It never fails:
// every problem is recorded in the returned verdict's status.
// A VerdictParser is safe for concurrent use.
type VerdictParser struct {
	validate *validator.Validate
}

// NewVerdictParser creates a VerdictParser.
func NewVerdictParser() *VerdictParser {
	return &VerdictParser{validate: validator.New()}
}

// Parse builds the verdict for the record at index from a provider reply.
//
// A non-2xx reply yields "Error: HTTP <code>" with the raw body as reasoning.
// A 2xx reply whose text is not a usable verdict yields "Error: <reason>"
// with the raw text as reasoning. The verdict's RecordID is always index,
// whatever record_id the model echoed.
func (p *VerdictParser) Parse(raw ports.RawResponse, index int) domain.Verdict {
	if !raw.OK() {
		return domain.NewFailedVerdict(index, domain.OutcomeTransportError,
			fmt.Sprintf("HTTP %d", raw.StatusCode), raw.Body)
	}

	reply, err := p.decode(raw.Content)
	if err != nil {
		return domain.NewFailedVerdict(index, domain.OutcomeParseError, err.Error(), raw.Content)
	}

	status := domain.StatusError
	if reply.Status != nil {
		status = *reply.Status
	}
	reasoning := domain.NoExplanation
	if reply.Reasoning != nil {
		reasoning = *reply.Reasoning
	}
	return domain.NewModelVerdict(index, status, reasoning, coerceScore(reply.Score))
}

// FromError builds the verdict for a request that produced no HTTP status
// at all, such as a network failure, a timeout or an open circuit.
func (p *VerdictParser) FromError(err error, index int) domain.Verdict {
	return domain.NewFailedVerdict(index, domain.OutcomeRequestError, err.Error(), "")
}

// decode extracts, decodes and shape-checks the verdict object in content.
func (p *VerdictParser) decode(content string) (modelReply, error) {
	if strings.TrimSpace(content) == "" {
		return modelReply{}, domain.NewParseError(domain.ErrEmptyContent, "")
	}

	candidate := extractJSON(content)
	if candidate == "" {
		if strings.Contains(content, "{") {
			return modelReply{}, domain.NewParseError(domain.ErrMalformedJSON, "unterminated object")
		}
		return modelReply{}, domain.NewParseError(domain.ErrNoJSONObject, "")
	}

	var reply modelReply
	if err := json.Unmarshal([]byte(candidate), &reply); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return modelReply{}, domain.NewParseError(domain.ErrInvalidShape,
				fmt.Sprintf("%s must be a %s, got %s", typeErr.Field, typeErr.Type, typeErr.Value))
		}
		return modelReply{}, domain.NewParseError(domain.ErrMalformedJSON, err.Error())
	}

	if err := p.validate.Struct(reply); err != nil {
		return modelReply{}, domain.NewParseError(domain.ErrInvalidShape, "reply has neither status nor llm_reasoning")
	}
	return reply, nil
}

// coerceScore accepts a JSON number or a numeric string and returns it
// rounded to one decimal. Anything else, including values outside
// [MinScore, MaxScore], yields nil.
func coerceScore(v any) *float64 {
	var score float64
	switch s := v.(type) {
	case float64:
		score = s
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil
		}
		score = f
	default:
		return nil
	}

	if math.IsNaN(score) || math.IsInf(score, 0) {
		return nil
	}
	if score < MinScore || score > MaxScore {
		return nil
	}
	rounded := domain.RoundScore(score)
	return &rounded
}

// extractJSON returns the first complete JSON object in response, looking
// inside markdown code fences first. It returns "" when there is none.
func extractJSON(response string) string {
	response = strings.TrimSpace(response)

	if start := strings.Index(response, "```"); start != -1 {
		body := response[start+3:]
		// Skip the language tag on the opening fence.
		if nl := strings.Index(body, "\n"); nl != -1 {
			body = body[nl+1:]
		}
		if end := strings.Index(body, "```"); end != -1 {
			if obj := matchObject(strings.TrimSpace(body[:end])); obj != "" {
				return obj
			}
		}
	}

	return matchObject(response)
}

// matchObject returns the balanced {...} starting at the first brace,
// ignoring braces inside JSON strings.
func matchObject(s string) string {
	start := strings.Index(s, "{")
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		if inString {
			switch c {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
