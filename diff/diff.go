// Package diff computes and applies structural change-sets between store
// snapshots. It is the wire format the sync engine exchanges between
// peers: a Diff is itself plain JSON, with three reserved sentinel shapes
// marking additions, removals, and whole-sequence replacement, grounded
// on github.com/loog-project/loog's pkg/diffmap (a flat change-set map
// with recursive sub-diffs for nested mappings).
package diff

import (
	"reflect"

	"reactor/store"
)

// Diff is the minimal change-set that turns snapshot a into snapshot b.
// Every key present is one of:
//
//   - map[string]any{"__added": v}    — key is new in b, or its value
//     changed from a non-mapping into a mapping
//   - map[string]any{"__removed": true} — key existed in a, absent from b
//   - map[string]any{"__new": v}      — a slice value, replaced wholesale
//   - a nested Diff                   — both sides are mappings, recurse
//   - any other value                 — scalar (or other type-changed) replace
//
// The sentinel keys are reserved: store values may not themselves use a
// top-level "__added", "__removed", or "__new" key without being
// misread as one of these shapes on the wire. Every other "__"-prefixed
// single-key wrapper is reserved too, for shapes a future version might
// add; Apply drops one with a warning rather than guessing at its
// meaning.
//
// Diff is a type alias, not a distinct type: a nested sub-diff is stored
// in its parent exactly as map[string]any, so it marshals with
// encoding/json with no custom (Un)MarshalJSON, and a type assertion
// against map[string]any on the receiving side sees through it.
type Diff = map[string]any

const (
	keyAdded   = "__added"
	keyRemoved = "__removed"
	keyNew     = "__new"
)

// Compute returns the change-set required to turn a into b. A key
// missing from both the returned Diff and its nested sub-diffs means
// "unchanged" — callers can test len(Compute(a, b)) == 0 for equality.
func Compute(a, b store.Snapshot) Diff {
	out := make(Diff)
	computeInto(a, b, out)
	return out
}

func computeInto(a, b map[string]any, out Diff) {
	for key, va := range a {
		vb, stillPresent := b[key]
		if !stillPresent {
			out[key] = map[string]any{keyRemoved: true}
			continue
		}
		if equal(va, vb) {
			continue
		}

		mapA, aIsMap := va.(map[string]any)
		mapB, bIsMap := vb.(map[string]any)
		if aIsMap && bIsMap {
			sub := make(Diff)
			computeInto(mapA, mapB, sub)
			if len(sub) != 0 {
				out[key] = sub
			}
			continue
		}

		if bIsMap {
			// Only a bare map[string]any value means "recurse as a
			// nested diff" on the wire; a type change into a map must
			// not be mistaken for one, so it goes out sentineled.
			out[key] = map[string]any{keyAdded: vb}
			continue
		}

		_, aIsSlice := asSlice(va)
		_, bIsSlice := asSlice(vb)
		if aIsSlice && bIsSlice {
			out[key] = map[string]any{keyNew: vb}
			continue
		}

		out[key] = vb
	}

	for key, vb := range b {
		if _, present := a[key]; !present {
			out[key] = map[string]any{keyAdded: vb}
		}
	}
}

func asSlice(v any) (reflect.Value, bool) {
	if v == nil {
		return reflect.Value{}, false
	}
	rv := reflect.ValueOf(v)
	return rv, rv.Kind() == reflect.Slice
}

// equal reports whether a and b are the same value for diffing purposes:
// identical scalars, or (conservatively) reflect.DeepEqual for anything
// else, including slices and nested maps. Two slices that are
// element-for-element equal are therefore treated as unchanged even
// though assigning one over the other is, elsewhere, a whole-sequence
// replace — this function only decides whether a change happened at
// all.
func equal(a, b any) bool {
	if a == nil || b == nil {
		return a == b
	}
	switch va := a.(type) {
	case string:
		vb, ok := b.(string)
		return ok && va == vb
	case bool:
		vb, ok := b.(bool)
		return ok && va == vb
	case int:
		vb, ok := b.(int)
		return ok && va == vb
	case int64:
		vb, ok := b.(int64)
		return ok && va == vb
	case float64:
		vb, ok := b.(float64)
		return ok && va == vb
	}
	return reflect.DeepEqual(a, b)
}
