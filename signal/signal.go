// Package signal implements the dependency-tracking primitives that back
// every reactive cell in the store: a process-wide "current evaluator"
// stack used to capture reads, and a Cell type that records who read it.
//
// signal knows nothing about stores, batches, or diffs. It is the leaf
// layer: a Cell holds a value and a set of subscribers, and exposes a
// generation counter callers can use to test freshness without re-reading
// the value itself.
package signal

import (
	"reflect"
	"sync"
	"sync/atomic"
)

// Subscriber is anything that reads Cells and wants to hear about writes
// to them. Store subscriptions and computed cells both implement it;
// neither needs to know about the other's concrete type.
type Subscriber interface {
	// AddDependency records that the subscriber read c during its current
	// evaluation. Called by Cell.Get while this Subscriber is active.
	AddDependency(c *Cell)
	// NotifyDirty is called once per write to a cell this subscriber is
	// tracking. It must not block.
	NotifyDirty()
}

// nextGeneration is the process-wide monotonic counter spec.md §3
// requires: every write anywhere bumps it, and cells stamp the value they
// were written at so readers can test freshness with a plain integer
// compare instead of a value comparison.
var nextGeneration uint64

// bumpGeneration returns the next process-wide generation number.
func bumpGeneration() uint64 {
	return atomic.AddUint64(&nextGeneration, 1)
}

// active is the evaluator currently capturing dependencies, threaded
// through a small stack so a computed cell that reads another computed
// cell nests correctly. It is process-wide by design (spec.md §4.C): the
// store-scoped piece is the batch, not the subscriber stack.
var (
	activeMu sync.Mutex
	active   []Subscriber
)

// Track runs fn with sub installed as the active evaluator, so that any
// Cell.Get performed by fn registers sub as a dependent. Nested Track
// calls (a computed reading another computed) push and pop correctly.
func Track(sub Subscriber, fn func()) {
	activeMu.Lock()
	active = append(active, sub)
	activeMu.Unlock()

	defer func() {
		activeMu.Lock()
		active = active[:len(active)-1]
		activeMu.Unlock()
	}()

	fn()
}

// current returns the innermost active evaluator, or nil outside any
// Track scope (e.g. during a read-isolated snapshot).
func current() Subscriber {
	activeMu.Lock()
	defer activeMu.Unlock()
	if len(active) == 0 {
		return nil
	}
	return active[len(active)-1]
}

// Cell is the unit of signal state backing one store property. It holds
// a value, the live subscriptions that read it, and the generation at
// which it was last written.
type Cell struct {
	mu          sync.RWMutex
	value       any
	generation  uint64
	subscribers map[Subscriber]struct{}
}

// NewCell creates a Cell holding initial, already fresh.
func NewCell(initial any) *Cell {
	return &Cell{
		value:       initial,
		generation:  bumpGeneration(),
		subscribers: make(map[Subscriber]struct{}),
	}
}

// Subscribe registers s as a dependent of c. Idempotent.
func (c *Cell) Subscribe(s Subscriber) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribers[s] = struct{}{}
}

// Unsubscribe removes s from c's dependents. Idempotent.
func (c *Cell) Unsubscribe(s Subscriber) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subscribers, s)
}

// Get returns the current value, registering the active evaluator (if
// any) as a dependent. Use Peek to read without capturing.
func (c *Cell) Get() any {
	if sub := current(); sub != nil {
		sub.AddDependency(c)
		c.Subscribe(sub)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value
}

// Peek reads the value without registering a dependency. Used by the
// snapshot projector, which must run read-isolated (spec.md §4.A).
func (c *Cell) Peek() any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value
}

// Generation returns the generation number of the cell's current value.
func (c *Cell) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

// TrySet replaces the value if it differs from the current one by
// reference equality for objects or value equality for primitives
// (spec.md §4.C). It reports whether the value actually changed and, if
// so, bumps the generation counter. It does not notify anyone — the
// owning store decides whether to notify immediately or defer to a
// batch flush.
func (c *Cell) TrySet(val any) bool {
	c.mu.Lock()
	if valuesEqual(c.value, val) {
		c.mu.Unlock()
		return false
	}
	c.value = val
	c.generation = bumpGeneration()
	c.mu.Unlock()
	return true
}

// Subscribers returns a point-in-time snapshot of the cell's live
// subscribers, safe to range over after releasing the cell's lock.
func (c *Cell) Subscribers() []Subscriber {
	c.mu.RLock()
	defer c.mu.RUnlock()
	subs := make([]Subscriber, 0, len(c.subscribers))
	for s := range c.subscribers {
		subs = append(subs, s)
	}
	return subs
}

// valuesEqual implements the reference-for-objects / value-for-primitives
// rule from spec.md §4.C. Pointers, maps, slices and funcs compare by
// reference; everything else falls back to a deep comparison so that two
// structurally identical scalars (including structs passed by value)
// never produce a spurious write.
func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == b
	}
	av := reflect.ValueOf(a)
	bv := reflect.ValueOf(b)
	if av.Kind() != bv.Kind() {
		return false
	}
	switch av.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func:
		return av.Pointer() == bv.Pointer()
	default:
		return reflect.DeepEqual(a, b)
	}
}
