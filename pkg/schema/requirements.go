package schema

import (
	"strings"
)

// ItemsPrefix is the path prefix of load line items.
const ItemsPrefix = "load.items"

// Values is read access to a flat row of field paths.
type Values interface {
	Get(path string) (any, bool)
	Keys() []string
}

// Map adapts a plain map to Values.
type Map map[string]any

func (m Map) Get(path string) (any, bool) {
	v, ok := m[path]
	return v, ok
}

func (m Map) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

// IsBlank reports whether a value is null or a string that is empty after
// trimming whitespace.
func IsBlank(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	case *string:
		return val == nil || strings.TrimSpace(*val) == ""
	}
	return false
}

// HasItemData reports whether a row carries item data: any key under
// load.items holding a non-blank value.
func HasItemData(values Values) bool {
	for _, key := range values.Keys() {
		if !IsAncestorOf(ItemsPrefix, key) {
			continue
		}
		if v, ok := values.Get(key); ok && !IsBlank(v) {
			return true
		}
	}
	return false
}

// Requirement is one required field path and its tag.
type Requirement struct {
	Path string `json:"path"`
	Tag  Tag    `json:"tag"`
}

// RequiredFieldSpec is the static required-field contract.
type RequiredFieldSpec []Requirement

// Applicable returns the requirements that apply to a row, in declaration order.
func (s RequiredFieldSpec) Applicable(values Values) []Requirement {
	items := -1
	out := make([]Requirement, 0, len(s))
	for _, req := range s {
		switch req.Tag {
		case TagAlways, TagFirstStop:
			out = append(out, req)
		case TagItems:
			if items == -1 {
				items = 0
				if HasItemData(values) {
					items = 1
				}
			}
			if items == 1 {
				out = append(out, req)
			}
		}
	}
	return out
}

// Paths lists the paths of the contract regardless of applicability.
func (s RequiredFieldSpec) Paths() []string {
	out := make([]string, len(s))
	for i, req := range s {
		out[i] = req.Path
	}
	return out
}

// WithTag filters the contract to one tag.
func (s RequiredFieldSpec) WithTag(tag Tag) RequiredFieldSpec {
	var out RequiredFieldSpec
	for _, req := range s {
		if req.Tag == tag {
			out = append(out, req)
		}
	}
	return out
}
