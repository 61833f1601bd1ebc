package application

import (
	"bytes"
	"encoding/json"
	"fmt"
	"text/template"

	"github.com/ahrav/smartvalidator/internal/domain"
)

// promptText is the single validation prompt. The rules section is rendered
// only when a rules document is supplied.
const promptText = `You are a smart validator of SAP warehouse records.
{{- if .HasRules}}

Validation rules:
{{.Rules}}

Apply these rules when judging the record, but never cite rule numbers or rule identifiers in your answer.
{{- end}}

Here is a record:
{{.Record}}

Your task:
- Identify any inconsistency or invalid value.
- Use logical reasoning to explain if the record is valid or not.
{{- if .HasRules}}
- Base your judgment on the validation rules above without referencing rule numbers or identifiers.
{{- end}}
- Always give a confidence score from 1 to 10 with one decimal place.

Respond in exactly this JSON format:
{
  "record_id": {{.Index}},
  "llm_reasoning": "Explain why the record is valid or invalid.",
  "status": "OK",
  "score": 8.5
}
Set "status" to "OK" when the record is valid and to "Error" otherwise.
Respond with ONLY this JSON object, no prose, no markdown.
`

var promptTemplate = template.Must(template.New("validationPrompt").Parse(promptText))

// PromptBuilder renders the per-record validation prompt.
// A PromptBuilder is safe for concurrent use.
type PromptBuilder struct {
	tmpl *template.Template
}

// NewPromptBuilder creates a PromptBuilder using the built-in template.
func NewPromptBuilder() *PromptBuilder {
	return &PromptBuilder{tmpl: promptTemplate}
}

// Build renders the prompt for the record at index. rules is nil when
// retrieval-augmented mode is off; otherwise its text is inserted verbatim.
//
// The record is rendered as indented JSON with keys in sorted order so the
// same record always produces the same prompt. Characters such as <, > and
// & are written literally.
func (b *PromptBuilder) Build(index int, record domain.LabeledRecord, rules *string) (string, error) {
	if record == nil {
		record = domain.LabeledRecord{}
	}
	var encoded bytes.Buffer
	enc := json.NewEncoder(&encoded)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(record); err != nil {
		return "", fmt.Errorf("failed to encode record %d: %w", index, err)
	}

	data := struct {
		Index    int
		Record   string
		HasRules bool
		Rules    string
	}{
		Index:  index,
		Record: string(bytes.TrimSuffix(encoded.Bytes(), []byte("\n"))),
	}
	if rules != nil {
		data.HasRules = true
		data.Rules = *rules
	}

	var buf bytes.Buffer
	if err := b.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute prompt template for record %d: %w", index, err)
	}
	return buf.String(), nil
}
