package ingestion

import (
	"strings"

	"github.com/rpattn/loadflow/pkg/schema"
)

// Suggestion is one proposed column mapping and how it was found.
type Suggestion struct {
	Path   string `json:"path"`
	Column string `json:"column"`
	Match  string `json:"match"`
}

const (
	matchExact   = "exact"
	matchPath    = "normalized_path"
	matchAlias   = "alias"
	matchSegment = "field_name"
	matchRefName = "reference_name"
)

// referenceNames types a reference number by the column it was mapped
// from, so a PRO column also fills the sibling name the enrichment
// gateway keys on.
var referenceNames = map[string]string{
	"pro":         "PRO_NUMBER",
	"pro_number":  "PRO_NUMBER",
	"carrier_pro": "PRO_NUMBER",
}

// SuggestMapping proposes a mapping for the given column labels. Each
// schema path and each column is used at most once; stronger matches win.
func SuggestMapping(reg *schema.Registry, columns []string) (Mapping, []Suggestion) {
	if reg == nil {
		reg = schema.Default()
	}
	fields := reg.Fields()

	byPath := make(map[string]string)
	byAlias := make(map[string]string)
	segmentCount := make(map[string]int)
	bySegment := make(map[string]string)
	for _, f := range fields {
		byPath[schema.NormalizeName(f.Path)] = f.Path
		for _, alias := range f.Aliases {
			if _, taken := byAlias[alias]; !taken {
				byAlias[alias] = f.Path
			}
		}
		parts := schema.Components(f.Path)
		seg := schema.NormalizeName(parts[len(parts)-1])
		segmentCount[seg]++
		bySegment[seg] = f.Path
	}

	mapping := Mapping{}
	usedColumns := make(map[string]bool)
	var suggestions []Suggestion

	assign := func(path, column, match string) {
		if path == "" || usedColumns[column] {
			return
		}
		if _, taken := mapping[path]; taken {
			return
		}
		mapping[path] = column
		usedColumns[column] = true
		suggestions = append(suggestions, Suggestion{Path: path, Column: column, Match: match})
	}

	tiers := []struct {
		match string
		find  func(column string) string
	}{
		{matchExact, func(column string) string {
			if _, ok := reg.Lookup(column); ok {
				return column
			}
			return ""
		}},
		{matchPath, func(column string) string {
			return byPath[schema.NormalizeName(column)]
		}},
		{matchAlias, func(column string) string {
			return byAlias[schema.NormalizeName(column)]
		}},
		{matchSegment, func(column string) string {
			seg := schema.NormalizeName(column)
			if segmentCount[seg] != 1 {
				return ""
			}
			return bySegment[seg]
		}},
	}

	for _, tier := range tiers {
		for _, column := range columns {
			assign(tier.find(column), column, tier.match)
		}
	}

	for _, s := range suggestions {
		name, ok := referenceNames[schema.NormalizeName(s.Column)]
		if !ok || !strings.HasPrefix(s.Path, "load.referenceNumbers.") || !strings.HasSuffix(s.Path, ".value") {
			continue
		}
		namePath := strings.TrimSuffix(s.Path, ".value") + ".name"
		if _, known := reg.Lookup(namePath); !known {
			continue
		}
		if _, taken := mapping[namePath]; taken {
			continue
		}
		mapping[namePath] = ManualValuePrefix + name
		suggestions = append(suggestions, Suggestion{Path: namePath, Column: mapping[namePath], Match: matchRefName})
	}
	return mapping, suggestions
}
