// Package store implements the reactive store facade (spec.md components
// A and D): a proxy-like, path-addressed surface over the signal kernel,
// with computed cells, batched writes, and a subscribe API that only
// notifies subscribers whose observed properties actually changed.
package store

import (
	"reflect"
	"sort"
	"sync"

	"reactor/jlog"
	"reactor/signal"
)

// Reader is the explicit store-reader handle threaded through computed
// formulas and subscriber callbacks, replacing the source's closures
// over `this` (spec.md Design Notes, "Computed cells without
// closures-over-this").
type Reader interface {
	Get(path ...string) any
}

// Formula derives a computed cell's value from other store properties,
// read through r so the dependency capture contract stays explicit.
type Formula func(r Reader) any

// SubscribeFunc is a live store subscription. It is invoked once
// synchronously on registration to capture its initial dependency set,
// then again on every flush whose dirty set intersects that dependency
// set (spec.md §4.D).
type SubscribeFunc func(r Reader)

// Store is a mapping from string key to signal cell, some of which are
// computed. It owns its subscriber registry and batch state exclusively
// (spec.md §3 Ownership).
type Store struct {
	mu   sync.Mutex
	root *node

	subs map[*Subscription]struct{}

	dirty      map[*signal.Cell]struct{}
	batchDepth int
	flushing   bool

	applyingRemote bool // set by a sync session while patching; see ApplyingRemote

	opts Options
}

// New creates a store whose top-level properties are the keys of
// initial. Nested maps become nested mappings; slices are stored as
// whole atomic values (spec.md §3: ordered sequences replace wholesale).
func New(initial map[string]any, opts Options) *Store {
	s := &Store{
		root: newMappingNode(),
		subs: make(map[*Subscription]struct{}),
		dirty: make(map[*signal.Cell]struct{}),
		opts:  opts.withDefaults(),
	}
	for _, key := range orderedKeys(initial) {
		s.root.set(key, buildNode(s, initial[key], nil))
	}
	return s
}

// buildNode converts a plain Go value into a fresh node subtree: nested
// maps become mapping nodes (recursively), everything else — including
// slices — becomes a single leaf cell.
//
// visiting tracks the map pointers currently on the construction stack so
// a caller-supplied value containing a genuine Go-level reference cycle
// (m["self"] = m) cannot recurse forever; it is cut with the reserved
// placeholder instead (spec.md §3 invariant 1, CycleDetected in §7).
// Node trees built this way are themselves acyclic by construction, so
// Snapshot never needs to re-check for cycles once a value has entered
// the store.
func buildNode(s *Store, value any, visiting map[uintptr]bool) *node {
	if m, ok := value.(map[string]any); ok {
		ptr := reflect.ValueOf(m).Pointer()
		if visiting == nil {
			visiting = make(map[uintptr]bool)
		}
		if visiting[ptr] {
			jlog.L.Debug().Msg("store: reference cycle detected while building subtree, inserting placeholder")
			return newLeafNode(cyclePlaceholder)
		}
		visiting[ptr] = true
		defer delete(visiting, ptr)

		n := newMappingNode()
		for _, key := range orderedKeys(m) {
			n.set(key, buildNode(s, m[key], visiting))
		}
		return n
	}
	return newLeafNode(value)
}

// orderedKeys returns m's keys sorted alphabetically. Go maps randomize
// iteration order; spec.md §4.A requires a deterministic (not necessarily
// insertion-preserving) key order, so a node.order built from a map starts
// out in this order. Keys added later by Set or Computed are appended
// after it.
func orderedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Get reads the value at path, registering the active evaluator (if any)
// as a dependent of every leaf cell resolved along the way. Reading an
// intermediate mapping node (path has segments but does not reach a
// leaf) returns a detached plain copy and captures no dependency for
// anything beneath it — read the leaf paths you actually care about for
// selective reactivity.
//
// An empty path reads the whole store and, unlike GetState, captures a
// dependency on every leaf and computed cell in it: this is how a
// whole-store subscriber (history, sync, lifecycle.OnUpdate) depends on
// "anything changed" rather than one property, by calling Get() with no
// arguments from inside its Subscribe callback instead of GetState().
func (s *Store) Get(path ...string) any {
	if len(path) == 0 {
		s.mu.Lock()
		root := s.root
		s.mu.Unlock()
		return trackedSubtree(s, root)
	}
	s.mu.Lock()
	n, ok := s.walk(s.root, path)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	switch n.kind {
	case kindComputed:
		s.ensureFresh(n)
		return n.cell.Get()
	case kindLeaf:
		return n.cell.Get()
	default: // kindMapping
		return peekSubtree(s, n)
	}
}

// walk descends from n following path, returning the final node. It does
// not create anything; callers holding s.mu.
func (s *Store) walk(n *node, path []string) (*node, bool) {
	cur := n
	for _, seg := range path {
		if cur.kind != kindMapping {
			return nil, false
		}
		child, ok := cur.children[seg]
		if !ok {
			return nil, false
		}
		cur = child
	}
	return cur, true
}

// Set assigns value at path inside an implicit single-write batch.
// Intermediate mapping nodes are created lazily. Assigning directly over
// a computed cell replaces its formula with a constant (spec.md §4.D).
func (s *Store) Set(value any, path ...string) {
	if len(path) == 0 {
		return
	}
	s.autoFlush(func() {
		s.setLocked(value, path)
	})
}

func (s *Store) setLocked(value any, path []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	parent := s.root
	for _, seg := range path[:len(path)-1] {
		child, ok := parent.children[seg]
		if !ok || child.kind != kindMapping {
			child = newMappingNode()
			parent.set(seg, child)
		}
		parent = child
	}

	key := path[len(path)-1]
	existing, hasExisting := parent.children[key]

	if hasExisting && existing.kind == kindComputed {
		if s.opts.Debug {
			jlog.L.Debug().Strs("path", path).Msg("store: assignment replaced a computed cell's formula with a constant")
		}
		if existing.cell.TrySet(value) {
			s.markDirtyCascade(existing.cell)
		}
		existing.kind = kindLeaf
		existing.formula = nil
		return
	}

	if m, ok := value.(map[string]any); ok {
		fresh := buildNode(s, m, nil)
		parent.set(key, fresh)
		if hasExisting {
			// Anything still subscribed to a cell inside the replaced
			// subtree (its own cells are now orphaned) must still see
			// this as a change.
			s.markSubtreeDirty(existing)
		}
		s.markSubtreeDirty(fresh)
		return
	}

	if hasExisting && existing.kind == kindLeaf {
		if existing.cell.TrySet(value) {
			s.markDirtyCascade(existing.cell)
		}
		return
	}

	fresh := newLeafNode(value)
	parent.set(key, fresh)
	if hasExisting {
		s.markSubtreeDirty(existing)
	}
	s.markDirtyCascade(fresh.cell)
}

// markSubtreeDirty marks every leaf cell in a freshly built subtree
// dirty, so subscribers reading any path under it refresh.
func (s *Store) markSubtreeDirty(n *node) {
	switch n.kind {
	case kindLeaf, kindComputed:
		s.markDirtyCascade(n.cell)
	case kindMapping:
		for _, k := range n.order {
			s.markSubtreeDirty(n.children[k])
		}
	}
}

// markDirtyCascade adds c to the store's pending dirty set and wakes
// every live subscriber of c — a computed node that reads c (so it can
// flag itself stale and cascade further) or a store Subscription (whose
// NotifyDirty is a no-op; flush itself tests dirty-set intersection).
//
// Callers must already hold s.mu: this runs inside setLocked and inside
// a computed node's own NotifyDirty, both of which are already inside
// the lock, and taking it again here would deadlock.
func (s *Store) markDirtyCascade(c *signal.Cell) {
	s.dirty[c] = struct{}{}
	for _, sub := range c.Subscribers() {
		sub.NotifyDirty()
	}
}

// Delete removes the property at path. A no-op if the path does not
// exist.
func (s *Store) Delete(path ...string) {
	if len(path) == 0 {
		return
	}
	s.autoFlush(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		parent, ok := s.walk(s.root, path[:len(path)-1])
		if !ok || parent.kind != kindMapping {
			return
		}
		key := path[len(path)-1]
		child, exists := parent.children[key]
		if !exists {
			return
		}
		parent.remove(key)
		s.markSubtreeDirty(child)
	})
}

// Computed registers a computed cell at path: a formula plus a cached
// value, re-evaluated lazily on read after any of its dependencies write.
func (s *Store) Computed(formula Formula, path ...string) {
	if len(path) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	parent := s.root
	for _, seg := range path[:len(path)-1] {
		child, ok := parent.children[seg]
		if !ok || child.kind != kindMapping {
			child = newMappingNode()
			parent.set(seg, child)
		}
		parent = child
	}
	parent.set(path[len(path)-1], newComputedNode(s, formula))
}

// ensureFresh recomputes a computed node's cached value if it is stale.
// Called with s.mu unlocked (formula evaluation may itself call Get).
func (s *Store) ensureFresh(n *node) {
	n.mu.Lock()
	if !n.dirty {
		n.mu.Unlock()
		return
	}
	n.mu.Unlock()

	if s.opts.Debug {
		jlog.L.Debug().Msg("store: computed cell read while stale, recomputing before returning")
	}

	for dep := range n.capturedDeps {
		dep.Unsubscribe(n)
	}
	n.mu.Lock()
	n.capturedDeps = make(map[*signal.Cell]struct{})
	n.mu.Unlock()

	var value any
	signal.Track(n, func() {
		value = n.formula(s)
	})

	n.mu.Lock()
	n.dirty = false
	n.mu.Unlock()
	n.cell.TrySet(value)
}

// ApplyingRemote reports whether a sync session currently has this store
// inside an applying-remote scope (spec.md §4.F echo suppression).
func (s *Store) ApplyingRemote() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyingRemote
}

// WithApplyingRemote runs fn with the applying-remote flag set, so any
// subscriber invoked during fn (e.g. the sync engine's own outbound hook)
// can tell the resulting notification originated from a received patch.
func (s *Store) WithApplyingRemote(fn func()) {
	s.mu.Lock()
	s.applyingRemote = true
	s.mu.Unlock()

	fn()

	s.mu.Lock()
	s.applyingRemote = false
	s.mu.Unlock()
}
