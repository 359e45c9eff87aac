package schema

import (
	"fmt"
	"sort"
	"strconv"
)

// Nest turns a flat dot-path map into a nested payload. Numeric segments
// become array indices; missing slots below the highest index are nil.
// A path that is both a leaf and a container is an error.
func Nest(flat map[string]any) (map[string]any, error) {
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return ComparePaths(keys[i], keys[j]) < 0 })

	root := map[string]any{}
	for _, key := range keys {
		if err := ValidatePath(key); err != nil {
			return nil, err
		}
		parts := Components(key)
		// The root stays an object even when the first segment is numeric.
		child, err := insert(root[parts[0]], parts[1:], flat[key], key)
		if err != nil {
			return nil, err
		}
		root[parts[0]] = child
	}
	return root, nil
}

func insert(node any, parts []string, value any, full string) (any, error) {
	if len(parts) == 0 {
		switch node.(type) {
		case map[string]any, []any:
			return nil, fmt.Errorf("path %q is both a value and a container", full)
		}
		return value, nil
	}

	seg := parts[0]
	if idx, ok := arrayIndex(seg); ok {
		var arr []any
		switch n := node.(type) {
		case nil:
		case []any:
			arr = n
		default:
			return nil, fmt.Errorf("path %q: segment %q indexes a non-array value", full, seg)
		}
		for len(arr) <= idx {
			arr = append(arr, nil)
		}
		child, err := insert(arr[idx], parts[1:], value, full)
		if err != nil {
			return nil, err
		}
		arr[idx] = child
		return arr, nil
	}

	var obj map[string]any
	switch n := node.(type) {
	case nil:
		obj = map[string]any{}
	case map[string]any:
		obj = n
	default:
		return nil, fmt.Errorf("path %q: segment %q descends into a scalar value", full, seg)
	}
	child, err := insert(obj[seg], parts[1:], value, full)
	if err != nil {
		return nil, err
	}
	obj[seg] = child
	return obj, nil
}

// Flatten reverses Nest. Empty objects and arrays are kept as leaf values.
// Flatten(Nest(m)) == m for any m whose array indices are contiguous from 0.
func Flatten(nested map[string]any) map[string]any {
	out := make(map[string]any)
	for k, v := range nested {
		flattenInto(out, k, v)
	}
	return out
}

func flattenInto(out map[string]any, prefix string, value any) {
	switch v := value.(type) {
	case map[string]any:
		if len(v) == 0 {
			out[prefix] = v
			return
		}
		for k, child := range v {
			flattenInto(out, Join(prefix, k), child)
		}
	case []any:
		if len(v) == 0 {
			out[prefix] = v
			return
		}
		for i, child := range v {
			flattenInto(out, Join(prefix, strconv.Itoa(i)), child)
		}
	default:
		out[prefix] = v
	}
}
