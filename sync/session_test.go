package sync

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"reactor/store"
)

func fixedClock(start time.Time) (now func() time.Time, advance func(time.Duration)) {
	t := start
	return func() time.Time { return t }, func(d time.Duration) { t = t.Add(d) }
}

// noThrottleOpts returns Options with a 1ms throttle window on the given
// fixed clock. Each test advances that clock well past the window before
// writing, so the throttle limiter allows an immediate send and tests
// don't need to wait on a real timer.
func noThrottleOpts(now func() time.Time) Options {
	return Options{ThrottleMs: Throttle(1), Now: now}
}

func TestEchoSuppressionAcrossPeers(t *testing.T) {
	now, advance := fixedClock(time.Unix(0, 0))
	a := store.New(map[string]any{"count": 0}, store.Options{})
	b := store.New(map[string]any{"count": 0}, store.Options{})

	sockA, sockB := NewMemPair()

	var bSent int
	optsB := noThrottleOpts(now)
	optsB.OnDiffSend = func(Message) { bSent++ }
	sessA := Start(sockA, a, noThrottleOpts(now))
	sessB := Start(sockB, b, optsB)
	defer sessA.Stop()
	defer sessB.Stop()

	advance(10 * time.Millisecond)
	a.Set(10, "count")

	require.Equal(t, 10, b.Get("count"), "b must have received a's change")
	require.Equal(t, 0, bSent, "b must not echo a received patch back")
}

func TestAllowKeysBlocksSensitivePaths(t *testing.T) {
	now, advance := fixedClock(time.Unix(0, 0))
	s := store.New(map[string]any{
		"todos": []any{},
		"user":  map[string]any{"name": "u", "role": "admin"},
	}, store.Options{})

	sockA, _ := NewMemPair()
	opts := noThrottleOpts(now)
	opts.AllowKeys = []string{"todos"}
	var sent []Message
	opts.OnDiffSend = func(m Message) { sent = append(sent, m) }
	sess := Start(sockA, s, opts)
	defer sess.Stop()

	advance(10 * time.Millisecond)
	s.Set("v", "user", "name")
	require.Empty(t, sent, "mutating a disallowed top-level key must not emit a message")

	advance(10 * time.Millisecond)
	s.Set([]any{"buy milk"}, "todos")
	require.Len(t, sent, 1, "mutating an allowed top-level key must emit a message")
}

func TestMaxMessageSizeDropsOversizedSend(t *testing.T) {
	now, advance := fixedClock(time.Unix(0, 0))
	s := store.New(map[string]any{"blob": ""}, store.Options{})

	sockA, _ := NewMemPair()
	opts := noThrottleOpts(now)
	opts.MaxMessageSize = 1024
	var sendErr error
	var sent int
	opts.OnError = func(err error) { sendErr = err }
	opts.OnDiffSend = func(Message) { sent++ }
	sess := Start(sockA, s, opts)
	defer sess.Stop()

	advance(10 * time.Millisecond)
	s.Set(strings.Repeat("x", 2048), "blob")

	require.Zero(t, sent, "an oversized message must never reach OnDiffSend")
	require.Error(t, sendErr)
	var serr *SerializationError
	require.ErrorAs(t, sendErr, &serr)
}

func TestFilterCallbackCancelsSend(t *testing.T) {
	now, advance := fixedClock(time.Unix(0, 0))
	s := store.New(map[string]any{"count": 0}, store.Options{})

	sockA, _ := NewMemPair()
	opts := noThrottleOpts(now)
	opts.Filter = func(diffVal map[string]any) bool { return false }
	sent := 0
	opts.OnDiffSend = func(Message) { sent++ }
	sess := Start(sockA, s, opts)
	defer sess.Stop()

	advance(10 * time.Millisecond)
	s.Set(1, "count")
	require.Zero(t, sent)
}

type rejectAllValidator struct{}

func (rejectAllValidator) Parse(any) error { return errFakeValidation }

var errFakeValidation = errors.New("schema rejected payload")

func TestValidateSchemaRejectsInboundMessage(t *testing.T) {
	now, advance := fixedClock(time.Unix(0, 0))
	a := store.New(map[string]any{"count": 0}, store.Options{})
	b := store.New(map[string]any{"count": 0}, store.Options{})

	sockA, sockB := NewMemPair()
	sessA := Start(sockA, a, noThrottleOpts(now))

	var validationErr error
	optsB := noThrottleOpts(now)
	optsB.ValidateSchema = rejectAllValidator{}
	optsB.OnError = func(err error) { validationErr = err }
	sessB := Start(sockB, b, optsB)
	defer sessA.Stop()
	defer sessB.Stop()

	advance(10 * time.Millisecond)
	a.Set(10, "count")

	require.Equal(t, 0, b.Get("count"), "a rejected message must not be applied")
	require.Error(t, validationErr)
}

func TestStatusTransitionsToConnectedOnFirstMessage(t *testing.T) {
	now, advance := fixedClock(time.Unix(0, 0))
	a := store.New(map[string]any{"count": 0}, store.Options{})
	b := store.New(map[string]any{"count": 0}, store.Options{})

	sockA, sockB := NewMemPair()
	sessA := Start(sockA, a, noThrottleOpts(now))
	sessB := Start(sockB, b, noThrottleOpts(now))
	defer sessA.Stop()
	defer sessB.Stop()

	require.Equal(t, Disconnected, sessB.Status().Status())

	advance(10 * time.Millisecond)
	a.Set(10, "count")

	require.Equal(t, Connected, sessB.Status().Status())
}

func TestStopDetachesAndIsIdempotent(t *testing.T) {
	now, advance := fixedClock(time.Unix(0, 0))
	a := store.New(map[string]any{"count": 0}, store.Options{})
	b := store.New(map[string]any{"count": 0}, store.Options{})

	sockA, sockB := NewMemPair()
	sessA := Start(sockA, a, noThrottleOpts(now))
	sessB := Start(sockB, b, noThrottleOpts(now))
	defer sessA.Stop()

	sessB.Stop()
	require.NotPanics(t, func() { sessB.Stop() })

	advance(10 * time.Millisecond)
	a.Set(99, "count")
	require.Equal(t, 0, b.Get("count"), "a stopped session must not keep receiving patches")
	require.Equal(t, Terminated, sessB.Status().Status())
}

func TestRoundTripSyncReachesQuiescence(t *testing.T) {
	now, advance := fixedClock(time.Unix(0, 0))
	a := store.New(map[string]any{"user": map[string]any{"name": "ada", "email": "a@x"}, "flags": []any{true}}, store.Options{})
	b := store.New(map[string]any{"user": map[string]any{"name": "ada", "email": "a@x"}, "flags": []any{true}}, store.Options{})

	sockA, sockB := NewMemPair()
	sessA := Start(sockA, a, noThrottleOpts(now))
	sessB := Start(sockB, b, noThrottleOpts(now))
	defer sessA.Stop()
	defer sessB.Stop()

	advance(10 * time.Millisecond)
	a.Batch(func() {
		a.Set("grace", "user", "name")
		a.Set([]any{true, false}, "flags")
	})

	require.Equal(t, a.GetState(), b.GetState())
}
