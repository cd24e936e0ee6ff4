package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"reactor/store"
)

func fixedClock(start time.Time) (now func() time.Time, advance func(time.Duration)) {
	t := start
	return func() time.Time { return t }, func(d time.Duration) { t = t.Add(d) }
}

func TestInitialEntryCapturesCurrentState(t *testing.T) {
	s := store.New(map[string]any{"count": 0}, store.Options{})
	h := New(s, Options{})
	defer h.Destroy()

	require.Len(t, h.Entries(), 1)
	require.Equal(t, 0, h.Cursor())
	require.Equal(t, 0, h.Entries()[0].Snapshot["count"])
}

func TestAppendOnWriteBeyondThrottle(t *testing.T) {
	now, advance := fixedClock(time.Unix(0, 0))
	s := store.New(map[string]any{"count": 0}, store.Options{})
	h := New(s, Options{ThrottleMs: Throttle(100), Now: now})
	defer h.Destroy()

	advance(200 * time.Millisecond)
	s.Set(10, "count")

	require.Len(t, h.Entries(), 2)
	require.Equal(t, 1, h.Cursor())
	require.Equal(t, 10, h.Entries()[1].Snapshot["count"])
}

func TestHistoryBranchingDiscardsForwardEntries(t *testing.T) {
	now, advance := fixedClock(time.Unix(0, 0))
	s := store.New(map[string]any{"count": 0}, store.Options{})
	h := New(s, Options{ThrottleMs: Throttle(0), Now: now})
	defer h.Destroy()

	advance(time.Millisecond)
	s.Set(10, "count")
	advance(time.Millisecond)
	s.Set(20, "count")
	advance(time.Millisecond)
	s.Set(30, "count")
	require.Len(t, h.Entries(), 4)

	require.NoError(t, h.TravelTo(1))
	require.Equal(t, 10, s.Get("count"))

	advance(time.Millisecond)
	s.Set(15, "count")

	var counts []any
	for _, e := range h.Entries() {
		counts = append(counts, e.Snapshot["count"])
	}
	require.Equal(t, []any{0, 10, 15}, counts)

	require.False(t, h.Forward(), "forward must have no effect after the branch was discarded")
}

func TestTravelToOutOfRangeReturnsError(t *testing.T) {
	s := store.New(map[string]any{"count": 0}, store.Options{})
	h := New(s, Options{})
	defer h.Destroy()

	err := h.TravelTo(5)
	require.Error(t, err)
	var oor *IndexOutOfRangeError
	require.ErrorAs(t, err, &oor)
}

func TestTravelToDefaultPreservesLaterAdditions(t *testing.T) {
	now, advance := fixedClock(time.Unix(0, 0))
	s := store.New(map[string]any{"count": 0}, store.Options{})
	h := New(s, Options{ThrottleMs: Throttle(0), Now: now})
	defer h.Destroy()

	advance(time.Millisecond)
	s.Set("new value", "extra")

	require.NoError(t, h.TravelTo(0))
	require.Equal(t, "new value", s.Get("extra"), "non-strict travel must not delete keys added after the target entry")
}

func TestTravelToStrictDeletesLaterAdditions(t *testing.T) {
	now, advance := fixedClock(time.Unix(0, 0))
	s := store.New(map[string]any{"count": 0}, store.Options{})
	h := New(s, Options{ThrottleMs: Throttle(0), Now: now, Strict: true})
	defer h.Destroy()

	advance(time.Millisecond)
	s.Set("new value", "extra")

	require.NoError(t, h.TravelTo(0))
	require.Nil(t, s.Get("extra"), "strict travel must delete keys added after the target entry")
}

func TestClearKeepsCurrentEntry(t *testing.T) {
	now, advance := fixedClock(time.Unix(0, 0))
	s := store.New(map[string]any{"count": 0}, store.Options{})
	h := New(s, Options{ThrottleMs: Throttle(0), Now: now})
	defer h.Destroy()

	advance(time.Millisecond)
	s.Set(10, "count")
	h.Clear()

	require.Len(t, h.Entries(), 1)
	require.Equal(t, 0, h.Cursor())
	require.Equal(t, 10, h.Entries()[0].Snapshot["count"])
}

func TestMaxEntriesTrimsFromFront(t *testing.T) {
	now, advance := fixedClock(time.Unix(0, 0))
	s := store.New(map[string]any{"count": 0}, store.Options{})
	h := New(s, Options{ThrottleMs: Throttle(0), MaxEntries: 3, Now: now})
	defer h.Destroy()

	for i := 1; i <= 5; i++ {
		advance(time.Millisecond)
		s.Set(i, "count")
	}

	entries := h.Entries()
	require.Len(t, entries, 3)
	require.Equal(t, 3, entries[0].Snapshot["count"])
	require.Equal(t, 5, entries[2].Snapshot["count"])
	require.Equal(t, 2, h.Cursor())
}

func TestInactiveTrackerDoesNotSubscribe(t *testing.T) {
	s := store.New(map[string]any{"count": 0}, store.Options{})
	inactive := false
	h := New(s, Options{Active: &inactive})
	defer h.Destroy()

	s.Set(10, "count")
	require.Len(t, h.Entries(), 1, "an inactive tracker must not append on store writes")
}

func TestDestroyIsIdempotent(t *testing.T) {
	s := store.New(map[string]any{"count": 0}, store.Options{})
	h := New(s, Options{})
	h.Destroy()
	require.NotPanics(t, func() { h.Destroy() })
}
