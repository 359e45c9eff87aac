package pipeline

import (
	"fmt"
	"io"

	"github.com/rpattn/loadflow/internal/apperr"
	"github.com/rpattn/loadflow/internal/domain"
	"github.com/rpattn/loadflow/internal/ingestion"
)

// PreviewRequest maps and validates the head of an upload without
// touching any external system.
type PreviewRequest struct {
	FileName       string
	Data           io.Reader
	HeaderRowIndex *int
	// Mapping may be nil, in which case a suggested mapping is used.
	Mapping ingestion.Mapping
	Limit   int
}

// PreviewRow is one mapped row with its validation errors.
type PreviewRow struct {
	Index  int                      `json:"index"`
	Valid  bool                     `json:"valid"`
	Values *domain.Row              `json:"values"`
	Errors []domain.ValidationError `json:"errors,omitempty"`
}

// Preview is the outcome of a preview.
type Preview struct {
	SourceColumns    []string               `json:"source_columns"`
	Mapping          ingestion.Mapping      `json:"mapping"`
	Suggestions      []ingestion.Suggestion `json:"suggestions,omitempty"`
	UnmappedRequired []string               `json:"unmapped_required,omitempty"`
	Columns          []string               `json:"columns"`
	Total            int                    `json:"total"`
	Valid            int                    `json:"valid"`
	Invalid          int                    `json:"invalid"`
	Rows             []PreviewRow           `json:"rows"`
}

// Preview parses, maps and validates an upload. Counts cover every row;
// Rows holds at most Limit rows.
func (s *Service) Preview(req PreviewRequest) (Preview, error) {
	table, err := ingestion.Parse(ingestion.ParseRequest{
		FileName:       req.FileName,
		Data:           req.Data,
		HeaderRowIndex: req.HeaderRowIndex,
		MaxBytes:       s.maxUpload,
	})
	if err != nil {
		return Preview{}, err
	}

	out := Preview{SourceColumns: table.Columns, Mapping: req.Mapping}
	if len(out.Mapping) == 0 {
		out.Mapping, out.Suggestions = ingestion.SuggestMapping(s.registry, table.Columns)
	}
	if len(out.Mapping) == 0 {
		return out, fmt.Errorf("%w: no column could be mapped", apperr.ErrMapping)
	}

	mapped, err := s.mapper.Apply(table, out.Mapping)
	if err != nil {
		return Preview{}, err
	}
	out.UnmappedRequired = s.mapper.UnmappedRequired(out.Mapping)

	vr := s.validator.Validate(mapped.Columns, mapped.Rows)
	out.Columns = vr.Columns
	out.Total = len(mapped.Rows)
	out.Valid = len(vr.Valid)
	out.Invalid = len(vr.Invalid)

	limit := req.Limit
	if limit <= 0 || limit > len(mapped.Rows) {
		limit = len(mapped.Rows)
	}
	byRow := vr.ErrorsByRow()
	out.Rows = make([]PreviewRow, 0, limit)
	for _, row := range mapped.Rows[:limit] {
		errs := byRow[row.Index]
		out.Rows = append(out.Rows, PreviewRow{Index: row.Index, Valid: len(errs) == 0, Values: row, Errors: errs})
	}
	return out, nil
}
