package domain

// Reason classifies why a required field failed validation.
type Reason string

const (
	ReasonMissing   Reason = "missing"
	ReasonEmpty     Reason = "empty"
	ReasonMalformed Reason = "malformed"
)

// ValidationError records one failing field of one row.
type ValidationError struct {
	RowIndex int    `json:"row_index"`
	Field    string `json:"field"`
	Reason   Reason `json:"reason"`
}
