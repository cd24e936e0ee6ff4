package store

import (
	"reactor/jlog"
	"reactor/signal"
)

// Batch groups writes made inside fn into a single flush: subscribers
// whose dependencies changed run exactly once after fn returns, no
// matter how many properties fn touches or how many of those changes
// land on the same dependency (spec.md §4.C). Batch calls nest; only the
// outermost one triggers a flush.
func (s *Store) Batch(fn func()) {
	s.mu.Lock()
	s.batchDepth++
	s.mu.Unlock()

	fn()

	s.mu.Lock()
	s.batchDepth--
	outermost := s.batchDepth == 0
	s.mu.Unlock()

	if outermost {
		s.runFlushLoop()
	}
}

// autoFlush wraps a single store mutation (Set, Delete) in an implicit
// one-operation batch, so a bare call outside any explicit Batch still
// flushes exactly once.
func (s *Store) autoFlush(mutate func()) {
	s.mu.Lock()
	s.batchDepth++
	s.mu.Unlock()

	mutate()

	s.mu.Lock()
	s.batchDepth--
	outermost := s.batchDepth == 0
	s.mu.Unlock()

	if outermost {
		s.runFlushLoop()
	}
}

// runFlushLoop drains the dirty set: it snapshots which subscriptions
// intersect it, invokes them, and — since a subscriber callback is free
// to write back into the store — repeats if doing so produced a new
// dirty set, up to Options.MaxReentrantFlushes (spec.md §4.C: "bounded
// recursion depth"). The dirty set is cleared before each pass's
// subscribers run, so any write during a pass that changes a cell's
// value — including a cell already dirtied earlier in the same batch —
// lands in a fresh dirty set and causes another pass; a write of an
// equal value does not.
func (s *Store) runFlushLoop() {
	s.mu.Lock()
	if s.flushing {
		s.mu.Unlock()
		return
	}
	s.flushing = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.flushing = false
		s.mu.Unlock()
	}()

	for pass := 0; pass < s.opts.MaxReentrantFlushes; pass++ {
		s.mu.Lock()
		if len(s.dirty) == 0 {
			s.mu.Unlock()
			return
		}
		dirty := s.dirty
		s.dirty = make(map[*signal.Cell]struct{})

		var toRun []*Subscription
		for sub := range s.subs {
			if sub.intersects(dirty) {
				toRun = append(toRun, sub)
			}
		}
		s.mu.Unlock()

		for _, sub := range toRun {
			s.invoke(sub)
		}
	}

	jlog.L.Warn().Int("max", s.opts.MaxReentrantFlushes).
		Msg("store: flush loop hit MaxReentrantFlushes, dirty writes may remain unflushed")
}
