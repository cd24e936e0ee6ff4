package sync

import "strings"

// compilePath splits a dotted path pattern ("user.name", "todos.*") into
// its segments for matching against a Diff traversal path (spec.md §6,
// allowPaths / sensitiveKeys).
func compilePath(pattern string) []string {
	return strings.Split(pattern, ".")
}

func compilePaths(patterns []string) [][]string {
	out := make([][]string, len(patterns))
	for i, p := range patterns {
		out[i] = compilePath(p)
	}
	return out
}

// matchesExact reports whether path matches pattern segment-for-segment,
// where a "*" pattern segment matches any single path segment. Pattern
// and path must be the same length: a shorter or longer pattern never
// matches exactly, only as a prefix (see matchesPrefix).
func matchesExact(pattern, path []string) bool {
	if len(pattern) != len(path) {
		return false
	}
	for i, seg := range pattern {
		if seg != "*" && seg != path[i] {
			return false
		}
	}
	return true
}

// matchesPrefix reports whether pattern could still match some path that
// extends beyond the current depth — i.e. pattern is at least as long as
// path and every segment up to len(path) matches. Used while recursing
// into a nested Diff to decide whether to keep descending even though
// the current path isn't itself a full match yet.
func matchesPrefix(pattern, path []string) bool {
	if len(pattern) < len(path) {
		return false
	}
	for i := range path {
		if pattern[i] != "*" && pattern[i] != path[i] {
			return false
		}
	}
	return true
}

func anyExact(patterns [][]string, path []string) bool {
	for _, p := range patterns {
		if matchesExact(p, path) {
			return true
		}
	}
	return false
}

func anyPrefix(patterns [][]string, path []string) bool {
	for _, p := range patterns {
		if matchesPrefix(p, path) {
			return true
		}
	}
	return false
}
