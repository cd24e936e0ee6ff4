package diff

import (
	"fmt"

	"reactor/jlog"
	"reactor/store"
)

// PatchShapeMismatchError reports a Diff entry whose shape the store
// cannot apply: a nested Diff aimed at a path that is not (or no longer)
// a mapping in the target store.
type PatchShapeMismatchError struct {
	Path []string
}

func (e *PatchShapeMismatchError) Error() string {
	return fmt.Sprintf("diff: shape mismatch applying patch at path %v", e.Path)
}

// Apply applies d to s inside a single batch, so subscribers see at most
// one flush no matter how many keys the patch touches, and marks the
// store's applying-remote scope so the sync engine can tell the
// resulting notifications came from a received patch rather than a
// local write (spec.md §4.F).
//
// d's shape is validated against s's current state in a read-only pass
// before anything is written: spec.md §7 requires a PatchShapeMismatch
// to leave the store unchanged, and a Diff is an unordered Go map, so a
// traversal that mutates as it goes could already have written several
// of the mismatching key's siblings by the time it reaches the bad one.
func Apply(s *store.Store, d Diff) error {
	if err := validateShape(s, nil, d); err != nil {
		return err
	}

	s.WithApplyingRemote(func() {
		s.Batch(func() {
			applyInto(s, nil, d)
		})
	})
	return nil
}

// validateShape walks d read-only, checking every nested-Diff entry
// against the store's current shape at that path. It performs no writes,
// so a PatchShapeMismatch found partway through still leaves every
// sibling key — visited or not — untouched.
func validateShape(s *store.Store, prefix []string, d Diff) error {
	for key, v := range d {
		path := append(append([]string{}, prefix...), key)

		if _, _, ok := sentinel(v); ok {
			continue
		}

		if _, ok := unknownReserved(v); ok {
			continue
		}

		if nested, isNested := IsNested(v); isNested {
			// The target must already be a mapping (or not exist yet —
			// applying this diff later will create it lazily).
			if current := s.Get(path...); current != nil {
				if _, isMapping := current.(map[string]any); !isMapping {
					return &PatchShapeMismatchError{Path: path}
				}
			}
			if err := validateShape(s, path, nested); err != nil {
				return err
			}
		}
	}
	return nil
}

// applyInto writes d's changes into s. validateShape has already
// confirmed every nested-Diff entry in d matches the store's shape, so
// there is nothing left here that can reject a write.
func applyInto(s *store.Store, prefix []string, d Diff) {
	for key, v := range d {
		path := append(append([]string{}, prefix...), key)

		if kind, payload, ok := sentinel(v); ok {
			switch kind {
			case keyRemoved:
				s.Delete(path...)
			case keyAdded, keyNew:
				s.Set(payload, path...)
			}
			continue
		}

		if unknownKey, ok := unknownReserved(v); ok {
			jlog.L.Warn().Strs("path", path).Str("key", unknownKey).
				Msg("diff: ignoring unrecognized reserved wrapper key")
			continue
		}

		if nested, isNested := IsNested(v); isNested {
			applyInto(s, path, nested)
			continue
		}

		s.Set(v, path...)
	}
}
