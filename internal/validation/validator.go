package validation

import (
	"encoding/json"
	"strings"

	"github.com/rpattn/loadflow/internal/domain"
	"github.com/rpattn/loadflow/pkg/schema"
)

// Result partitions rows into valid and invalid sets. Columns is the full
// column set of the input even when no row is valid.
type Result struct {
	Columns []string
	Valid   []*domain.Row
	Invalid []*domain.Row
	Errors  []domain.ValidationError
}

// ErrorsByRow groups errors by source row index.
func (r Result) ErrorsByRow() map[int][]domain.ValidationError {
	out := make(map[int][]domain.ValidationError)
	for _, e := range r.Errors {
		out[e.RowIndex] = append(out[e.RowIndex], e)
	}
	return out
}

// Validator checks rows against a required-field contract.
type Validator struct {
	required schema.RequiredFieldSpec
}

func New(required schema.RequiredFieldSpec) *Validator {
	return &Validator{required: required}
}

// NewDefault validates against the default registry.
func NewDefault() *Validator {
	return New(schema.Default().Requirements())
}

// Validate inspects every row. A row with any failing field is invalid as
// a whole; one error is emitted per failing field. Row order is kept.
func (v *Validator) Validate(columns []string, rows []*domain.Row) Result {
	res := Result{Columns: columns}
	if len(res.Columns) == 0 {
		res.Columns = domain.Columns(rows)
	}
	for _, row := range rows {
		errs := v.CheckRow(row)
		if len(errs) == 0 {
			res.Valid = append(res.Valid, row)
			continue
		}
		res.Invalid = append(res.Invalid, row)
		res.Errors = append(res.Errors, errs...)
	}
	return res
}

// CheckRow returns the failing fields of one row.
func (v *Validator) CheckRow(row *domain.Row) []domain.ValidationError {
	var errs []domain.ValidationError
	for _, req := range v.required.Applicable(row) {
		value, ok := row.Get(req.Path)
		reason, failed := check(value, ok)
		if !failed {
			continue
		}
		errs = append(errs, domain.ValidationError{
			RowIndex: row.Index,
			Field:    req.Path,
			Reason:   reason,
		})
	}
	return errs
}

func check(value any, present bool) (domain.Reason, bool) {
	if !present {
		return domain.ReasonMissing, true
	}
	switch v := value.(type) {
	case nil:
		return domain.ReasonEmpty, true
	case string:
		if strings.TrimSpace(v) == "" {
			return domain.ReasonEmpty, true
		}
	case json.Number, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
	default:
		return domain.ReasonMalformed, true
	}
	return "", false
}
