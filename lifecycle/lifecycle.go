// Package lifecycle provides the thin glue spec.md component G names: an
// onUpdate-shaped wrapper over store.Subscribe, and a Wire helper that
// attaches a history tracker and a sync session to the same store so a
// caller can stand up (and tear down) both collaborators together.
//
// Neither piece does anything store.Subscribe, history.New, and
// sync.Start don't already do on their own — store.Subscribe's batching
// already guarantees history, sync, and any user subscriber share a
// single flush per batch (spec.md §4.C); lifecycle just presents the
// combination under one name, the way basementui's signals package
// exposes Batch as the single shared entry point its Effects and
// Computeds are both built from.
package lifecycle

import (
	"reactor/history"
	"reactor/store"
	"reactor/sync"
)

// UpdateFunc receives a store's full snapshot after a flush, rather than
// the Reader handle store.SubscribeFunc gets — the shape most lifecycle
// consumers (a framework adapter re-rendering from plain state) actually
// want.
type UpdateFunc func(store.Snapshot)

// OnUpdate subscribes fn to s. fn runs once synchronously on
// registration to establish the same "initial call" contract
// store.Subscribe gives a Reader-based callback (spec.md §4.D), then
// again on every flush whose dirty set intersects whatever fn's first
// run read through r.Get() — which, called with no path, is every cell,
// so OnUpdate re-fires on any change to the store rather than none.
// r.Get() is used here rather than s.GetState() specifically because
// GetState is a pure read that captures no dependency at all (spec.md
// §4.A); Get() with no path walks the same tree but through the
// signal layer, so this subscription's dependency set is never empty.
// Unsubscribe is the returned function.
func OnUpdate(s *store.Store, fn UpdateFunc) func() {
	return s.Subscribe(func(r store.Reader) {
		fn(r.Get().(store.Snapshot))
	})
}

// Wiring bundles the collaborators Wire attaches to one store so a
// caller can release them together with Close.
type Wiring struct {
	History *history.Tracker
	Sync    *sync.Session
}

// Close stops the sync session before destroying the history tracker,
// so a message in flight during teardown can't touch an
// already-destroyed tracker. Safe to call once; both underlying Stop/
// Destroy calls are themselves idempotent.
func (w *Wiring) Close() {
	if w.Sync != nil {
		w.Sync.Stop()
	}
	if w.History != nil {
		w.History.Destroy()
	}
}

// Wire attaches a history tracker, and — if socket is non-nil — a sync
// session, to s. Each subscribes independently; store.Subscribe's own
// batching is what keeps them (and any other subscriber) to one
// notification per flush, not any coordination lifecycle performs
// itself.
func Wire(s *store.Store, socket sync.Socket, histOpts history.Options, syncOpts sync.Options) *Wiring {
	w := &Wiring{History: history.New(s, histOpts)}
	if socket != nil {
		w.Sync = sync.Start(socket, s, syncOpts)
	}
	return w
}
