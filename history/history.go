// Package history implements the linear, time-travelable history tracker
// (spec.md component E): a bounded ring buffer of store snapshots that
// grows by exactly one entry per non-empty batch flush, with forward
// branches discarded on any write after a rewind.
//
// Grounded on the teacher's signals subscription model (basementui's
// signals.Signal.Subscribe) generalized to the store package's Subscribe
// contract, and on the throttle/deferred-append pattern used throughout
// the retrieval pack via time.AfterFunc (e.g. ethereum-go-ethereum's
// cmdtest.test_cmd.go).
package history

import (
	"sync"
	"time"

	"reactor/diff"
	"reactor/jlog"
	"reactor/store"
)

// Entry is one point in the tracked history: a detached snapshot, the
// time it was captured, and the diff that produced it from the entry
// immediately before it (spec.md §3). The entry captured at New, and the
// entry Clear keeps, have an empty DiffFromPrior: there is no prior entry
// to diff against. When MaxEntries trims from the front, the entry that
// becomes entry 0 keeps the diff it was appended with.
type Entry struct {
	Snapshot      store.Snapshot
	Timestamp     time.Time
	DiffFromPrior diff.Diff
}

// Options configures a Tracker. The zero value is usable except for Now,
// which New fills with time.Now.
type Options struct {
	// MaxEntries bounds the ring buffer. Zero means use the default (50).
	MaxEntries int
	// ThrottleMs is the minimum interval between consecutive appends;
	// mutations arriving sooner are coalesced into one deferred append.
	// nil means use the default (100); pass Throttle(0) to disable
	// throttling entirely (every flush appends immediately) — a plain
	// int field can't tell "unset" apart from an explicit zero, so this
	// follows Active's *bool "explicit vs default" convention.
	ThrottleMs *int
	// Active gates whether the tracker subscribes at all. Defaults to
	// true; set false to construct a Tracker that only answers queries
	// about the entry captured at New (handy for production builds that
	// want the type present but inert).
	Active *bool
	// Strict controls TravelTo's handling of keys added to the store
	// after the target entry was captured (spec.md §9, "Open question —
	// history travelTo partiality"). false (default) preserves the
	// source behavior: travel overwrites known keys but leaves later
	// additions in place. true deletes them, making the store
	// byte-identical to the target entry's snapshot.
	Strict bool
	// Now is the clock used for Entry.Timestamp and throttle decisions.
	// Exposed for tests; defaults to time.Now.
	Now func() time.Time
}

const (
	defaultMaxEntries = 50
	defaultThrottleMs = 100
)

func (o Options) withDefaults() Options {
	if o.MaxEntries <= 0 {
		o.MaxEntries = defaultMaxEntries
	}
	if o.ThrottleMs == nil {
		o.ThrottleMs = Throttle(defaultThrottleMs)
	}
	if o.Active == nil {
		active := true
		o.Active = &active
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Throttle returns a pointer to ms, for setting Options.ThrottleMs to a
// literal value — including 0, to disable throttling.
func Throttle(ms int) *int { return &ms }

// Tracker is a live history subscription against one store. Create with
// New; release with Destroy.
//
// mu guards every field below: the deferred-append timer fires on its
// own goroutine (time.AfterFunc), so it and a caller-driven method like
// TravelTo or Destroy can run concurrently even though the store itself
// is only ever mutated from one logical task at a time (spec.md §5).
type Tracker struct {
	store *store.Store
	opts  Options

	mu      sync.Mutex
	entries []Entry
	cursor  int

	lastAppend   time.Time
	pendingTimer *time.Timer
	timerPending bool

	traveling bool
	destroyed bool

	unsubscribe func()
}

// New captures the store's current snapshot as entry 0 and, if Active,
// subscribes so every subsequent flush appends a new entry (spec.md
// §4.E: "On creation: capture initial snapshot as entry 0, cursor = 0").
func New(s *store.Store, opts Options) *Tracker {
	opts = opts.withDefaults()

	t := &Tracker{
		store: s,
		opts:  opts,
	}
	t.entries = []Entry{{Snapshot: s.GetState(), Timestamp: opts.Now()}}
	t.lastAppend = opts.Now()

	if *opts.Active {
		t.unsubscribe = s.Subscribe(func(store.Reader) {
			t.onNotify()
		})
	}
	return t
}

// onNotify runs on every store flush the tracker is subscribed to,
// including the synchronous initial capture call Subscribe makes — that
// first call is a no-op here since it observes the same state entry 0
// already captured (its diff against entry 0 would be empty).
//
// It reads the store through Get (not GetState) first, unconditionally,
// before checking traveling/destroyed: Get with no path registers this
// subscription as dependent on every cell in the store (GetState is a
// pure read and captures no dependency at all, spec.md §4.A), and that
// dependency set is rebuilt from scratch on every invocation. Skipping
// the Get call on a traveling/destroyed early return would leave the
// tracker's dependency set as whatever it was on its previous
// invocation — empty, the very first time — so it would never be woken
// by a flush again. Reading unconditionally keeps the subscription
// alive through a TravelTo even though the entry it produces is
// discarded.
func (t *Tracker) onNotify() {
	snap := t.store.Get().(store.Snapshot)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.traveling || t.destroyed {
		return
	}
	last := t.entries[t.cursor]
	d := diff.Compute(last.Snapshot, snap)
	if len(d) == 0 {
		return
	}

	since := t.opts.Now().Sub(t.lastAppend)
	if since >= time.Duration(*t.opts.ThrottleMs)*time.Millisecond {
		t.appendLocked(snap, d)
		return
	}
	t.scheduleDeferredAppendLocked()
}

// scheduleDeferredAppendLocked arms a single one-shot timer that, on
// firing, re-diffs against the live store (rather than replaying the
// stale diff captured at schedule time) so a burst of writes inside the
// throttle window is coalesced into exactly one entry (spec.md §4.E).
// Called with t.mu held; the timer callback takes it itself.
func (t *Tracker) scheduleDeferredAppendLocked() {
	if t.timerPending {
		return
	}
	t.timerPending = true

	remaining := time.Duration(*t.opts.ThrottleMs)*time.Millisecond - t.opts.Now().Sub(t.lastAppend)
	if remaining < 0 {
		remaining = 0
	}
	t.pendingTimer = time.AfterFunc(remaining, func() {
		t.mu.Lock()
		t.timerPending = false
		if t.traveling || t.destroyed {
			t.mu.Unlock()
			return
		}
		t.mu.Unlock()

		snap := t.store.GetState()

		t.mu.Lock()
		defer t.mu.Unlock()
		if t.traveling || t.destroyed {
			return
		}
		last := t.entries[t.cursor]
		d := diff.Compute(last.Snapshot, snap)
		if len(d) == 0 {
			return
		}
		t.appendLocked(snap, d)
	})
}

// appendLocked inserts a new entry at cursor+1, discarding any entries
// beyond the cursor first (spec.md §4.E branching rule), advances the
// cursor, then trims from the front if MaxEntries is exceeded, adjusting
// the cursor to match. Called with t.mu held.
func (t *Tracker) appendLocked(snap store.Snapshot, d diff.Diff) {
	t.entries = t.entries[:t.cursor+1]
	t.entries = append(t.entries, Entry{Snapshot: snap, Timestamp: t.opts.Now(), DiffFromPrior: d})
	t.cursor++
	t.lastAppend = t.opts.Now()

	if overflow := len(t.entries) - t.opts.MaxEntries; overflow > 0 {
		t.entries = t.entries[overflow:]
		t.cursor -= overflow
		if t.cursor < 0 {
			t.cursor = 0
		}
	}
}

// IndexOutOfRangeError reports a TravelTo call with an index outside
// the current entry range. The source returns silently for an
// out-of-range travel (spec.md §9, "Open question"); this module takes
// the stricter, more testable contract the spec calls preferable.
type IndexOutOfRangeError struct {
	Index, Len int
}

func (e *IndexOutOfRangeError) Error() string {
	return "history: index out of range"
}

// Entries returns a copy of the current entry list, oldest first.
func (t *Tracker) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Cursor returns the index of the "present" entry.
func (t *Tracker) Cursor() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cursor
}

// TravelTo rewinds or replays the store to entry i's snapshot. While
// traveling, the tracker's own subscription is guarded so the
// assignments it performs do not themselves append a new entry; the
// guard (and the store mutation itself) run outside t.mu since
// store.Batch synchronously re-enters onNotify on this goroutine.
//
// With Options.Strict, keys present in the store but absent from entry
// i's snapshot are deleted, making the store byte-identical to i.
// Without it (the default), such keys are left alone, matching the
// source's partial-overwrite behavior.
func (t *Tracker) TravelTo(i int) error {
	t.mu.Lock()
	if i < 0 || i >= len(t.entries) {
		n := len(t.entries)
		t.mu.Unlock()
		return &IndexOutOfRangeError{Index: i, Len: n}
	}
	target := t.entries[i].Snapshot
	t.traveling = true
	t.mu.Unlock()

	t.store.Batch(func() {
		if t.opts.Strict {
			current := t.store.GetState()
			for key := range current {
				if _, ok := target[key]; !ok {
					t.store.Delete(key)
				}
			}
		}
		for key, val := range target {
			t.store.Set(val, key)
		}
	})

	t.mu.Lock()
	t.traveling = false
	t.cursor = i
	t.mu.Unlock()
	return nil
}

// Back travels to the previous entry, if any. Reports whether it moved.
func (t *Tracker) Back() bool {
	t.mu.Lock()
	cursor := t.cursor
	t.mu.Unlock()
	if cursor == 0 {
		return false
	}
	_ = t.TravelTo(cursor - 1)
	return true
}

// Forward travels to the next entry, if any. Reports whether it moved.
func (t *Tracker) Forward() bool {
	t.mu.Lock()
	cursor, n := t.cursor, len(t.entries)
	t.mu.Unlock()
	if cursor >= n-1 {
		return false
	}
	_ = t.TravelTo(cursor + 1)
	return true
}

// Clear discards every entry except the current one, which becomes the
// new entry 0 (spec.md §4.E "never-empty rule").
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	current := t.entries[t.cursor]
	current.DiffFromPrior = nil
	t.entries = []Entry{current}
	t.cursor = 0
}

// Destroy cancels any pending deferred append and tears down the store
// subscription. Idempotent; safe to call more than once.
func (t *Tracker) Destroy() {
	t.mu.Lock()
	if t.destroyed {
		t.mu.Unlock()
		return
	}
	t.destroyed = true
	if t.pendingTimer != nil {
		t.pendingTimer.Stop()
	}
	t.mu.Unlock()

	if t.unsubscribe != nil {
		t.unsubscribe()
	}
	jlog.L.Debug().Msg("history: tracker destroyed")
}
