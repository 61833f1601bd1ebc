package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
)

// Record is a single warehouse-movement record as supplied by the caller.
// Keys are raw field codes (for example "matnr" or "pick_qty") and values
// are JSON scalars. No schema is enforced: any keys are accepted.
type Record map[string]any

// LabeledRecord is a Record whose known field codes have been replaced by
// human-readable labels. Unknown field codes are carried over unchanged.
type LabeledRecord map[string]any

// DefaultFieldLabels maps the SAP field codes seen in warehouse exports to
// the labels used when a record is rendered into a prompt.
var DefaultFieldLabels = map[string]string{
	"matnr":    "Material Number",
	"rstyp":    "Reservation Type",
	"diffmg":   "Difference Quantity",
	"pick_qty": "Picked Quantity",
	"sernr":    "Serial Number",
	"source":   "Source Type",
	"lgort":    "Storage Location",
	"plnum":    "Production Order Number",
	"werks":    "Plant",
}

// FieldLabeler rewrites raw field codes into readable labels.
// A FieldLabeler is immutable after construction and safe for concurrent use.
type FieldLabeler struct {
	labels map[string]string
}

// NewFieldLabeler creates a labeler from DefaultFieldLabels extended with
// overrides. An override with an empty label removes the code from the table.
func NewFieldLabeler(overrides map[string]string) *FieldLabeler {
	labels := maps.Clone(DefaultFieldLabels)
	for code, label := range overrides {
		if label == "" {
			delete(labels, code)
			continue
		}
		labels[code] = label
	}
	return &FieldLabeler{labels: labels}
}

// Label returns a new LabeledRecord for record. The input is never modified.
//
// Unknown keys are copied first and known codes are applied afterwards in
// sorted order, so a labeled field always wins over a raw key that happens
// to share its label and the output does not depend on map iteration order.
func (l *FieldLabeler) Label(record Record) LabeledRecord {
	out := make(LabeledRecord, len(record))
	var known []string
	for k, v := range record {
		if _, ok := l.labels[k]; ok {
			known = append(known, k)
			continue
		}
		out[k] = v
	}
	slices.Sort(known)
	for _, k := range known {
		out[l.labels[k]] = record[k]
	}
	return out
}

// LabelFor returns the label for a field code, or the code itself when no
// label is configured.
func (l *FieldLabeler) LabelFor(code string) string {
	if label, ok := l.labels[code]; ok {
		return label
	}
	return code
}

// ParseRecords decodes a JSON array of objects into records. Numbers are kept
// as json.Number so identifiers such as order numbers render exactly as sent.
func ParseRecords(data []byte) ([]Record, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, ErrInvalidRecords
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var records []Record
	if err := dec.Decode(&records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecords, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after array", ErrInvalidRecords)
	}
	// null decodes into a nil map; only objects are records.
	for i, r := range records {
		if r == nil {
			return nil, fmt.Errorf("%w: element %d is not an object", ErrInvalidRecords, i)
		}
	}
	return records, nil
}
