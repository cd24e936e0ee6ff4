package store

import (
	"reactor/jlog"
	"reactor/signal"
)

// Subscription is a live store subscription registered via Store.Subscribe.
// It implements signal.Subscriber so the cells its callback reads during
// capture can find it again on write, but it does no work in NotifyDirty:
// a flush tests dirty-set intersection directly against capturedDeps,
// rather than reacting to individual cell writes as they happen. This
// keeps a write inside a batch from re-running a subscriber more than
// once per flush no matter how many of its dependencies changed.
type Subscription struct {
	fn           SubscribeFunc
	store        *Store
	capturedDeps map[*signal.Cell]struct{}
}

// AddDependency implements signal.Subscriber.
func (sub *Subscription) AddDependency(c *signal.Cell) {
	sub.capturedDeps[c] = struct{}{}
}

// NotifyDirty implements signal.Subscriber. Intentionally a no-op: see
// the type doc comment.
func (sub *Subscription) NotifyDirty() {}

// intersects reports whether any of sub's captured dependencies are in
// the dirty set.
func (sub *Subscription) intersects(dirty map[*signal.Cell]struct{}) bool {
	for c := range sub.capturedDeps {
		if _, ok := dirty[c]; ok {
			return true
		}
	}
	return false
}

// Subscribe registers fn and runs it once immediately, synchronously, to
// capture its initial dependency set (spec.md §4.D). The returned
// function removes the subscription; it is safe to call more than once.
func (s *Store) Subscribe(fn SubscribeFunc) func() {
	sub := &Subscription{
		fn:           fn,
		store:        s,
		capturedDeps: make(map[*signal.Cell]struct{}),
	}

	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	s.invoke(sub)

	var unsubscribed bool
	return func() {
		if unsubscribed {
			return
		}
		unsubscribed = true
		s.mu.Lock()
		delete(s.subs, sub)
		s.mu.Unlock()
		for c := range sub.capturedDeps {
			c.Unsubscribe(sub)
		}
	}
}

// invoke re-captures sub's dependency set and runs its callback, guarding
// against a panicking subscriber: the panic is recovered, surfaced as a
// SubscriberFaultError through Options.OnError (or logged if unset), and
// does not interrupt the flush that triggered it (spec.md §7).
func (s *Store) invoke(sub *Subscription) {
	for c := range sub.capturedDeps {
		c.Unsubscribe(sub)
	}
	sub.capturedDeps = make(map[*signal.Cell]struct{})

	defer func() {
		if r := recover(); r != nil {
			err := &SubscriberFaultError{Cause: r}
			if s.opts.OnError != nil {
				s.opts.OnError(err)
			} else {
				jlog.L.Error().Interface("cause", r).Msg("store: subscriber panicked")
			}
		}
	}()

	signal.Track(sub, func() {
		sub.fn(s)
	})
}
