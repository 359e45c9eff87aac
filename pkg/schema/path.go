package schema

import (
	"fmt"
	"strconv"
	"strings"
)

// Separator joins the segments of a field path.
const Separator = "."

// Components splits a dot-notation path into its segments.
func Components(path string) []string {
	if path == "" {
		return []string{}
	}
	return strings.Split(path, Separator)
}

// Join builds a path from segments, skipping empty ones.
func Join(parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, Separator)
}

// Parent returns the path without its last segment.
func Parent(path string) string {
	lastDot := strings.LastIndex(path, Separator)
	if lastDot == -1 {
		return ""
	}
	return path[:lastDot]
}

// Depth returns the number of segments in a path.
func Depth(path string) int {
	if path == "" {
		return 0
	}
	return strings.Count(path, Separator) + 1
}

// IsAncestorOf checks if the first path is a strict prefix of the second.
func IsAncestorOf(ancestorPath, descendantPath string) bool {
	if ancestorPath == "" {
		return descendantPath != ""
	}
	return strings.HasPrefix(descendantPath, ancestorPath+Separator)
}

// ValidatePath checks that a path is non-empty dot notation with no empty segments.
func ValidatePath(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("path cannot be empty")
	}
	for i, component := range Components(path) {
		if component == "" {
			return fmt.Errorf("path %q: component %d is empty", path, i)
		}
	}
	return nil
}

// ComparePaths orders paths segment by segment, comparing numeric segments
// by value so "load.route.2" sorts before "load.route.10".
// Returns -1 if path1 < path2, 0 if equal, 1 if path1 > path2.
func ComparePaths(path1, path2 string) int {
	c1 := Components(path1)
	c2 := Components(path2)

	minLen := min(len(c1), len(c2))
	for i := 0; i < minLen; i++ {
		if cmp := compareSegment(c1[i], c2[i]); cmp != 0 {
			return cmp
		}
	}

	switch {
	case len(c1) < len(c2):
		return -1
	case len(c1) > len(c2):
		return 1
	}
	return 0
}

func compareSegment(a, b string) int {
	ai, aNum := arrayIndex(a)
	bi, bNum := arrayIndex(b)
	switch {
	case aNum && bNum:
		return compareInt(ai, bi)
	case aNum:
		return -1
	case bNum:
		return 1
	}
	return strings.Compare(a, b)
}

func compareInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// arrayIndex reports whether a segment is a non-negative array index.
func arrayIndex(segment string) (int, bool) {
	if segment == "" {
		return 0, false
	}
	for _, char := range segment {
		if char < '0' || char > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(segment)
	if err != nil {
		return 0, false
	}
	return n, true
}
