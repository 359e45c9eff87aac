package domain

import (
	"bytes"
	"encoding/json"
)

// Row annotation keys written by the pipeline stages.
const (
	KeyLoadNumber       = "load_number"
	KeySubmissionStatus = "submission_status"
	KeySubmissionError  = "submission_error"
	KeyInternalLoadID   = "internal_load_id"
)

// Submission status values stored under KeySubmissionStatus.
const (
	SubmissionSucceeded = "success"
	SubmissionFailed    = "failed"
)

// Row is one load record keyed by schema field path. Keys keep insertion
// order; a key once added is never removed.
type Row struct {
	// Index is the zero-based position of the source record in the upload.
	Index  int
	keys   []string
	values map[string]any
}

// NewRow creates an empty row for the source record at index.
func NewRow(index int) *Row {
	return &Row{Index: index, values: make(map[string]any)}
}

// Set assigns a value, appending the key when it is new.
func (r *Row) Set(key string, value any) {
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = value
}

// Get returns the value stored at key.
func (r *Row) Get(key string) (any, bool) {
	v, ok := r.values[key]
	return v, ok
}

// Text returns the value at key as a string, or "" when absent or not a string.
func (r *Row) Text(key string) string {
	if v, ok := r.values[key].(string); ok {
		return v
	}
	return ""
}

// Has reports whether key is present, regardless of its value.
func (r *Row) Has(key string) bool {
	_, ok := r.values[key]
	return ok
}

// Keys returns the keys in insertion order.
func (r *Row) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Len returns the number of keys.
func (r *Row) Len() int {
	return len(r.keys)
}

// Map returns a copy of the row as a plain map.
func (r *Row) Map() map[string]any {
	out := make(map[string]any, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

// Clone returns an independent copy of the row.
func (r *Row) Clone() *Row {
	c := &Row{
		Index:  r.Index,
		keys:   make([]string, len(r.keys)),
		values: make(map[string]any, len(r.values)),
	}
	copy(c.keys, r.keys)
	for k, v := range r.values {
		c.values[k] = v
	}
	return c
}

// MarshalJSON encodes the row as an object in key order.
func (r *Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(r.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Columns returns the union of row keys in first-seen order.
func Columns(rows []*Row) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, row := range rows {
		for _, k := range row.keys {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	return out
}

// CloneRows deep-copies a row slice.
func CloneRows(rows []*Row) []*Row {
	out := make([]*Row, len(rows))
	for i, row := range rows {
		out[i] = row.Clone()
	}
	return out
}
