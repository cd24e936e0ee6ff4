package diff

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"reactor/store"
)

func TestComputeDetectsAddedRemovedChanged(t *testing.T) {
	a := store.Snapshot{"a": 1, "b": 2, "c": "keep"}
	b := store.Snapshot{"a": 10, "c": "keep", "d": "new"}

	d := Compute(a, b)
	require.Equal(t, 10, d["a"])
	require.Equal(t, map[string]any{"__removed": true}, d["b"])
	require.Equal(t, map[string]any{"__added": "new"}, d["d"])
	_, touched := d["c"]
	require.False(t, touched)
}

func TestComputeNestedMapRecurses(t *testing.T) {
	a := store.Snapshot{"user": map[string]any{"name": "ada", "age": 30}}
	b := store.Snapshot{"user": map[string]any{"name": "ada", "age": 31}}

	d := Compute(a, b)
	sub, ok := d["user"].(Diff)
	require.True(t, ok)
	require.Equal(t, 31, sub["age"])
	_, touched := sub["name"]
	require.False(t, touched)
}

func TestComputeSliceChangeUsesNewSentinel(t *testing.T) {
	a := store.Snapshot{"tags": []any{"x"}}
	b := store.Snapshot{"tags": []any{"x", "y"}}

	d := Compute(a, b)
	require.Equal(t, map[string]any{"__new": []any{"x", "y"}}, d["tags"])
}

func TestComputeTypeChangeToSliceEmitsRawValueNotNewSentinel(t *testing.T) {
	a := store.Snapshot{"tags": 1}
	b := store.Snapshot{"tags": []any{"x"}}

	d := Compute(a, b)
	require.Equal(t, []any{"x"}, d["tags"], "a scalar-to-slice type change is a raw replace, not a same-type __new")
}

func TestComputeEmptyForIdenticalSnapshots(t *testing.T) {
	a := store.Snapshot{"a": 1, "nested": map[string]any{"b": 2}}
	b := store.Snapshot{"a": 1, "nested": map[string]any{"b": 2}}
	require.Empty(t, Compute(a, b))
}

func TestApplyRoundTrip(t *testing.T) {
	s := store.New(map[string]any{"a": 1, "b": 2, "user": map[string]any{"name": "ada"}}, store.Options{})
	before := s.GetState()

	target := store.Snapshot{
		"a":    10,
		"user": map[string]any{"name": "grace"},
		"tags": []any{"x"},
	}

	d := Compute(before, target)
	require.NoError(t, Apply(s, d))

	require.Equal(t, 10, s.Get("a"))
	require.Nil(t, s.Get("b"))
	require.Equal(t, "grace", s.Get("user", "name"))
	require.Equal(t, []any{"x"}, s.Get("tags"))
}

func TestApplyRoundTripProducesStructurallyIdenticalSnapshot(t *testing.T) {
	a := store.New(map[string]any{
		"user":  map[string]any{"name": "A", "email": "a@x"},
		"flags": []any{true},
	}, store.Options{})
	before := a.GetState()

	target := store.Snapshot{
		"user":  map[string]any{"name": "B", "email": "a@x"},
		"flags": []any{true, false},
	}

	require.NoError(t, Apply(a, Compute(before, target)))

	// go-cmp's structural diff gives a readable failure message for a
	// deep nested-map/slice mismatch in a way reflect.DeepEqual's bool
	// result alone does not.
	if diff := cmp.Diff(target, a.GetState()); diff != "" {
		t.Fatalf("round-tripped snapshot does not match target (-want +got):\n%s", diff)
	}
}

func TestApplyTypeMismatchDoesNotRecurse(t *testing.T) {
	s := store.New(map[string]any{"a": 1}, store.Options{})
	d := Diff{"a": map[string]any{"__added": map[string]any{"nested": true}}}
	require.NoError(t, Apply(s, d))
	require.Equal(t, map[string]any{"nested": true}, s.Get("a"))
}

func TestApplyIgnoresUnknownReservedWrapperKey(t *testing.T) {
	s := store.New(map[string]any{"x": map[string]any{"keep": 1}}, store.Options{})
	d := Diff{"x": Diff{"__future": 5}}

	require.NoError(t, Apply(s, d))
	require.Equal(t, 1, s.Get("x", "keep"))
	require.Nil(t, s.Get("x", "__future"), "an unrecognized __-prefixed wrapper key must be dropped, not written as a literal property")
}

func TestApplyShapeMismatchLeavesStoreCompletelyUnchanged(t *testing.T) {
	s := store.New(map[string]any{"a": 1, "b": 2}, store.Options{})
	before := s.GetState()

	// "a" is a valid scalar change on its own; "b" is a scalar in the
	// store, so a nested Diff aimed at it is a shape mismatch. Since a
	// Diff is an unordered map, a traversal that mutates as it visits
	// each key could apply "a" before ever reaching "b" — this must not
	// happen for any iteration order.
	d := Diff{
		"a": 10,
		"b": Diff{"x": 1},
	}

	err := Apply(s, d)
	require.Error(t, err)
	var mismatch *PatchShapeMismatchError
	require.ErrorAs(t, err, &mismatch)
	require.Equal(t, before, s.GetState(), "a rejected patch must leave every key unchanged, including ones that would have applied cleanly")
}
