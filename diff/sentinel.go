package diff

import "strings"

// reservedPrefix marks a single-key wrapper map as belonging to the wire
// format's sentinel namespace. spec.md §4.B reserves every "__"-prefixed
// wrapper key, not just the three this version recognizes, so a future
// sentinel can be added without an old client misreading it as a nested
// Diff or a literal store value.
const reservedPrefix = "__"

// unknownReserved reports whether v is a single-key map using a
// "__"-prefixed key that isn't one of the three recognized sentinels.
// spec.md §4.B requires these be ignored with a warning rather than
// applied as a sentinel or recursed into as a nested Diff.
func unknownReserved(v any) (key string, ok bool) {
	m, isMap := v.(map[string]any)
	if !isMap || len(m) != 1 {
		return "", false
	}
	for k := range m {
		if !strings.HasPrefix(k, reservedPrefix) {
			return "", false
		}
		if k == keyAdded || k == keyRemoved || k == keyNew {
			return "", false
		}
		return k, true
	}
	return "", false
}

// sentinel inspects v for one of the three reserved wrapper shapes
// (__added, __removed, __new) and reports which one matched and its
// payload. Shared by Apply's traversal and by consumers outside this
// package (the sync engine's path-based filtering) that need to tell a
// sentinel-wrapped leaf apart from a nested Diff without duplicating the
// wrapper-key list.
func sentinel(v any) (kind string, payload any, ok bool) {
	m, isMap := v.(map[string]any)
	if !isMap || len(m) != 1 {
		return "", nil, false
	}
	for _, k := range []string{keyAdded, keyRemoved, keyNew} {
		if val, present := m[k]; present {
			return k, val, true
		}
	}
	return "", nil, false
}

// IsNested reports whether v is a nested Diff — a bare mapping that is
// not one of the reserved sentinel wrappers — and returns it cast to
// Diff if so. A sentinel-wrapped value (e.g. {"__added": {...}}) is not
// "nested" in this sense even though its payload may itself be a map:
// the wrapper marks a leaf-level change, not a deeper diff to recurse
// into.
func IsNested(v any) (Diff, bool) {
	m, isMap := v.(map[string]any)
	if !isMap {
		return nil, false
	}
	if _, _, ok := sentinel(v); ok {
		return nil, false
	}
	if _, ok := unknownReserved(v); ok {
		return nil, false
	}
	return Diff(m), true
}

// Sentinel key constants, exported so a caller outside this package that
// gets one back from Sentinel can branch on which wrapper shape matched
// without hardcoding the wire strings.
const (
	KeyAdded   = keyAdded
	KeyRemoved = keyRemoved
	KeyNew     = keyNew
)

// Sentinel is the exported form of sentinel, for consumers outside this
// package — sync's path-based filtering needs to recurse into an
// __added payload's own subtree the same way it recurses into a nested
// Diff, which means telling the three wrapper shapes apart by name.
func Sentinel(v any) (kind string, payload any, ok bool) {
	return sentinel(v)
}
