package ingestion

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rpattn/loadflow/internal/apperr"
	"github.com/rpattn/loadflow/internal/domain"
	"github.com/rpattn/loadflow/pkg/schema"
)

// ManualValuePrefix marks a mapping value as a literal default instead of
// a source column, e.g. "MANUAL_VALUE:FTL".
const ManualValuePrefix = "MANUAL_VALUE:"

// Mapping maps a schema field path to a source column label or to a
// MANUAL_VALUE literal.
type Mapping map[string]string

// ManualValue returns the literal of a MANUAL_VALUE entry.
func ManualValue(source string) (string, bool) {
	if !strings.HasPrefix(source, ManualValuePrefix) {
		return "", false
	}
	return strings.TrimPrefix(source, ManualValuePrefix), true
}

// Paths returns the mapped field paths in column order.
func (m Mapping) Paths(reg *schema.Registry) []string {
	paths := make([]string, 0, len(m))
	for path := range m {
		paths = append(paths, path)
	}
	return orderColumns(reg, paths)
}

// Check verifies every path is well formed and every referenced source
// column exists in the table.
func (m Mapping) Check(table Table) error {
	var missing []string
	for path, source := range m {
		if err := schema.ValidatePath(path); err != nil {
			return fmt.Errorf("%w: %v", apperr.ErrMapping, err)
		}
		if _, ok := ManualValue(source); ok {
			continue
		}
		if strings.TrimSpace(source) == "" {
			return fmt.Errorf("%w: field %q has no source column", apperr.ErrMapping, path)
		}
		if !table.HasColumn(source) {
			missing = append(missing, source)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return &apperr.MappingError{MissingColumns: dedupe(missing)}
	}
	return nil
}

// Mapped is the output of the field mapper.
type Mapped struct {
	Columns []string
	Rows    []*domain.Row
}

// Mapper turns source tables into schema-shaped rows.
type Mapper struct {
	registry *schema.Registry
}

func NewMapper(registry *schema.Registry) *Mapper {
	if registry == nil {
		registry = schema.Default()
	}
	return &Mapper{registry: registry}
}

// Apply maps every record of the table. The output columns are exactly
// the mapped paths; unmapped schema fields are absent. Row order and
// source indices are preserved.
func (m *Mapper) Apply(table Table, mapping Mapping) (Mapped, error) {
	if err := mapping.Check(table); err != nil {
		return Mapped{}, err
	}

	columns := mapping.Paths(m.registry)
	out := Mapped{Columns: columns, Rows: make([]*domain.Row, 0, len(table.Records))}
	for i, record := range table.Records {
		row := domain.NewRow(i)
		for _, path := range columns {
			source := mapping[path]
			if literal, ok := ManualValue(source); ok {
				row.Set(path, literal)
				continue
			}
			row.Set(path, record[source])
		}
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}

// CheckStructure rejects mappings no row could pass: the load number is
// unmapped, or no required field is mapped at all.
func (m *Mapper) CheckStructure(mapping Mapping) error {
	if _, ok := mapping["load.loadNumber"]; !ok {
		return fmt.Errorf("%w: no column is mapped to load.loadNumber", apperr.ErrStructural)
	}
	for _, req := range m.registry.Requirements() {
		if req.Tag == schema.TagItems {
			continue
		}
		if _, ok := mapping[req.Path]; !ok {
			continue
		}
		return nil
	}
	return fmt.Errorf("%w: required schema fields are entirely unmapped", apperr.ErrStructural)
}

// UnmappedRequired lists required paths the mapping leaves out.
func (m *Mapper) UnmappedRequired(mapping Mapping) []string {
	var out []string
	for _, req := range m.registry.Requirements() {
		if _, ok := mapping[req.Path]; !ok {
			out = append(out, req.Path)
		}
	}
	return out
}

// orderColumns puts registry paths first in declaration order, then any
// other paths in path order.
func orderColumns(reg *schema.Registry, paths []string) []string {
	rank := make(map[string]int)
	if reg != nil {
		for i, f := range reg.Fields() {
			rank[f.Path] = i
		}
	}
	out := make([]string, len(paths))
	copy(out, paths)
	sort.SliceStable(out, func(i, j int) bool {
		ri, iKnown := rank[out[i]]
		rj, jKnown := rank[out[j]]
		switch {
		case iKnown && jKnown:
			return ri < rj
		case iKnown != jKnown:
			return iKnown
		}
		return schema.ComparePaths(out[i], out[j]) < 0
	})
	return out
}

func dedupe(values []string) []string {
	out := values[:0]
	for i, v := range values {
		if i > 0 && values[i-1] == v {
			continue
		}
		out = append(out, v)
	}
	return out
}
