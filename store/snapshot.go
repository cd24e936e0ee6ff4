package store

import "reactor/signal"

// Snapshot is a plain, detached copy of part of a store's state: no
// cells, no subscriptions, safe to marshal, diff, or stash in history.
// It is a type alias rather than a distinct type so callers can pass one
// straight into encoding/json or the diff package without conversion.
//
// Being a Go map, a Snapshot carries no key order of its own: ranging
// over it yields keys in random order. encoding/json marshals map keys
// sorted alphabetically, so its encoded form is deterministic.
type Snapshot = map[string]any

// cyclePlaceholder replaces a value that would otherwise require
// recursing into a Go-level reference cycle (see buildNode). It is a
// string so it marshals and diffs like any other leaf value.
const cyclePlaceholder = "<cycle>"

// GetState returns a full detached snapshot of the store. It is a pure
// read: it never registers the active evaluator as a dependent of
// anything it walks (spec.md §4.A, "snapshot is a pure read ... runs in
// a read-isolated scope"). Subscribers that want to depend on the whole
// store — history, sync, lifecycle.OnUpdate — must call Get with no
// path instead, which walks the same tree but through Cell.Get.
func (s *Store) GetState() Snapshot {
	return peekSubtree(s, s.root).(Snapshot)
}

// SetState shallow-merges partial into the store's top level inside a
// single batch: each key of partial is assigned with Set, so nested
// maps replace their whole subtree rather than deep-merging.
func (s *Store) SetState(partial map[string]any) {
	s.Batch(func() {
		for _, key := range orderedKeys(partial) {
			s.setLocked(partial[key], []string{key})
		}
	})
}

// peekSubtree reads n's current value without registering any
// dependency, recursing through mapping nodes. Computed nodes are
// refreshed first so a snapshot always reflects the latest value, same
// as a direct Get would.
func peekSubtree(s *Store, n *node) any {
	return subtreeWalk(s, n, (*signal.Cell).Peek)
}

// trackedSubtree reads n's current value the same way peekSubtree does,
// but through Cell.Get instead of Cell.Peek, so every leaf and computed
// cell in the subtree registers the active evaluator (if any) as a
// dependent. Store.Get's empty-path form uses this, which is what lets
// a whole-store subscriber depend on literally everything rather than
// one property (spec.md Design Notes, "Subscriber as capability set").
func trackedSubtree(s *Store, n *node) any {
	return subtreeWalk(s, n, (*signal.Cell).Get)
}

// subtreeWalk is peekSubtree and trackedSubtree's shared traversal: read
// is the only thing that differs between a dependency-free snapshot and
// a dependency-capturing one.
func subtreeWalk(s *Store, n *node, read func(*signal.Cell) any) any {
	switch n.kind {
	case kindComputed:
		s.ensureFresh(n)
		return read(n.cell)
	case kindLeaf:
		return read(n.cell)
	default: // kindMapping
		s.mu.Lock()
		order := append([]string(nil), n.order...)
		children := make(map[string]*node, len(order))
		for _, k := range order {
			children[k] = n.children[k]
		}
		s.mu.Unlock()

		out := make(Snapshot, len(order))
		for _, k := range order {
			out[k] = subtreeWalk(s, children[k], read)
		}
		return out
	}
}
