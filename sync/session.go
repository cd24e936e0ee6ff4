package sync

import (
	"encoding/json"
	stdsync "sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"reactor/diff"
	"reactor/jlog"
	"reactor/store"
)

// DefaultPrefix namespaces sync messages on a transport shared with
// other protocols (spec.md §6).
const DefaultPrefix = "jods-sync"

const (
	defaultThrottleMs     = 100
	defaultMaxMessageSize = 1 << 20 // 1_048_576, spec.md §6
)

// Options configures a Session (spec.md §6, "Consumer-facing
// configuration").
type Options struct {
	// ThrottleMs is the minimum interval between outbound sends. nil
	// means use the default (100); pass Throttle(0) to disable
	// throttling — a plain int field can't tell "unset" apart from an
	// explicit zero, so this follows history.Options.ThrottleMs's same
	// *int convention.
	ThrottleMs *int
	// Prefix namespaces messages sharing a transport. Empty means use
	// DefaultPrefix. An inbound message whose Prefix is set and differs
	// from this is ignored.
	Prefix string

	// Filter cancels an outbound send when it returns false, after
	// allow/sensitive scrubbing has already been applied.
	Filter func(diff.Diff) bool
	// OnDiffSend is an inspection hook called with the message just
	// before Socket.Send.
	OnDiffSend func(Message)
	// OnPatchReceive transforms or cancels (by returning nil) an inbound
	// message before it is patched into the store.
	OnPatchReceive func(Message) *Message
	// OnError receives parse/validation/transport errors. If nil, errors
	// are logged via jlog.
	OnError func(error)

	// ReceiveOnly disables all outbound sends.
	ReceiveOnly bool

	// AllowKeys is a top-level whitelist: only these keys are ever sent
	// or applied. Empty means no restriction.
	AllowKeys []string
	// AllowPaths is a dotted-path whitelist with "*" segment wildcards,
	// applied in addition to AllowKeys.
	AllowPaths []string
	// SensitiveKeys is a dotted-path blacklist; it takes precedence over
	// AllowKeys/AllowPaths and can blank out a subtree nested inside an
	// otherwise-allowed key.
	SensitiveKeys []string

	// MaxMessageSize caps the encoded outbound message size in bytes.
	// Zero means use the default (1_048_576).
	MaxMessageSize int

	// ValidateSchema, if set, is run against every inbound message's
	// Changes before it is applied.
	ValidateSchema Validator

	// AutoReconnect records whether the caller wants reconnection
	// behavior; the engine itself never reconnects (spec.md §6:
	// "reconnection is a separate collaborator"). It is carried here
	// purely so a wrapping collaborator can read the caller's intent
	// off the same Options value.
	AutoReconnect bool

	// Now is the clock used for message timestamps and throttle
	// decisions. Exposed for tests; defaults to time.Now.
	Now func() time.Time

	// Debug logs every diff this session sends or applies via jlog, in
	// the teacher's go-spew-backed dump format (diff.Describe). Off by
	// default, matching store.Options.Debug's own default.
	Debug bool
}

func (o Options) withDefaults() Options {
	if o.ThrottleMs == nil {
		o.ThrottleMs = Throttle(defaultThrottleMs)
	}
	if o.Prefix == "" {
		o.Prefix = DefaultPrefix
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = defaultMaxMessageSize
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Throttle returns a pointer to ms, for setting Options.ThrottleMs to a
// literal value — including 0, to disable throttling.
func Throttle(ms int) *int { return &ms }

// Session is one store's live sync connection over one Socket. Create
// with Start; release with Stop.
type Session struct {
	socket Socket
	store  *store.Store
	opts   Options

	clientID string
	status   *StatusTracker
	limiter  *rate.Limiter

	mu                stdsync.Mutex
	lastSent          store.Snapshot
	timerArmed        bool
	throttleTimer     *time.Timer
	receivedClientIDs map[string]struct{}
	stopped           bool

	removeMessage func()
	removeOpen    func()
	removeClose   func()
	removeError   func()
	unsubscribe   func()
}

// Start wires s to socket: it subscribes to s so local writes are
// diffed, throttled, filtered, and sent, and attaches a message listener
// to socket so inbound diffs are validated, filtered, and patched into
// s (spec.md §4.F). Call Stop to tear it down.
func Start(socket Socket, s *store.Store, opts Options) *Session {
	opts = opts.withDefaults()

	sess := &Session{
		socket:            socket,
		store:             s,
		opts:              opts,
		clientID:          uuid.NewString(),
		status:            NewStatusTracker(),
		limiter:           rate.NewLimiter(rate.Every(time.Duration(*opts.ThrottleMs)*time.Millisecond), 1),
		lastSent:          s.GetState(),
		receivedClientIDs: make(map[string]struct{}),
	}

	if rs, ok := socket.(ReadyStater); ok {
		switch rs.ReadyState() {
		case ReadyStateConnecting:
			sess.status.set(Connecting)
		case ReadyStateOpen:
			sess.status.set(Connected)
		default:
			sess.status.set(Disconnected)
		}
	}

	sess.removeMessage = socket.AddEventListener("message", sess.handleMessage)
	sess.removeOpen = socket.AddEventListener("open", sess.handleOpen)
	sess.removeClose = socket.AddEventListener("close", sess.handleClose)
	sess.removeError = socket.AddEventListener("error", sess.handleError)

	sess.unsubscribe = s.Subscribe(func(store.Reader) {
		sess.onStoreNotify()
	})

	return sess
}

// Status returns the session's connection status tracker.
func (sess *Session) Status() *StatusTracker { return sess.status }

// ClientID returns the session's random, session-unique client id.
func (sess *Session) ClientID() string { return sess.clientID }

func (sess *Session) now() time.Time { return sess.opts.Now() }

func (sess *Session) handleOpen(Event)  { sess.status.set(Connecting) }
func (sess *Session) handleClose(Event) { sess.status.set(Disconnected) }

func (sess *Session) handleError(ev Event) {
	if ev.Err != nil {
		sess.reportError(&TransportError{Cause: ev.Err})
	}
	sess.status.set(Error)
}

// onStoreNotify runs on every local flush. It is a no-op in ReceiveOnly
// mode and, critically, while a received patch is being applied — that
// is echo suppression (spec.md §4.F step 1, invariant 5).
//
// The unconditional store.Get() call at the top exists purely for its
// side effect: called with no path, it registers this session's
// subscription as dependent on every cell in the store (store.GetState,
// used everywhere else in this file, is a pure read that captures no
// dependency at all — spec.md §4.A). It has to run before the
// ReceiveOnly/ApplyingRemote/stopped early returns below, not after:
// Store.invoke rebuilds a subscription's dependency set from scratch on
// every call, so skipping this read during a received-patch flush would
// leave the session with an empty dependency set and it would never be
// woken by a later local write again.
func (sess *Session) onStoreNotify() {
	sess.store.Get()

	if sess.opts.ReceiveOnly {
		return
	}
	if sess.store.ApplyingRemote() {
		return
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.stopped {
		return
	}
	sess.prepareSendLocked()
}

// prepareSendLocked decides whether to send now or arm a throttle timer.
// If a timer is already armed, this notification's change will be picked
// up when it fires — re-diffed fresh against lastSent rather than
// replayed — so bursts inside one throttle window coalesce into exactly
// one message (spec.md §4.F step 5).
func (sess *Session) prepareSendLocked() {
	if sess.timerArmed {
		return
	}
	if len(diff.Compute(sess.lastSent, sess.store.GetState())) == 0 {
		return
	}

	now := sess.now()
	r := sess.limiter.ReserveN(now, 1)
	if !r.OK() {
		r.Cancel()
		sess.doSendLocked()
		return
	}
	if delay := r.DelayFrom(now); delay > 0 {
		sess.timerArmed = true
		sess.throttleTimer = time.AfterFunc(delay, sess.onThrottleFire)
		return
	}
	sess.doSendLocked()
}

func (sess *Session) onThrottleFire() {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.timerArmed = false
	if sess.stopped {
		return
	}
	sess.doSendLocked()
}

// doSendLocked computes the outbound diff, applies the filter pipeline,
// and sends it if anything survives (spec.md §4.F send path, steps 2-7).
// Called with sess.mu held.
func (sess *Session) doSendLocked() {
	snap := sess.store.GetState()
	d := diff.Compute(sess.lastSent, snap)
	if len(d) == 0 {
		return
	}

	d = FilterDiff(d, sess.opts.AllowKeys, sess.opts.AllowPaths, sess.opts.SensitiveKeys)
	if len(d) == 0 {
		return
	}
	if sess.opts.Filter != nil && !sess.opts.Filter(d) {
		return
	}

	msg := Message{
		ClientID:  sess.clientID,
		Prefix:    sess.opts.Prefix,
		Timestamp: sess.now().UnixMilli(),
		Changes:   d,
	}

	encoded, err := json.Marshal(msg)
	if err != nil {
		sess.reportError(&SerializationError{Cause: err})
		return
	}
	if len(encoded) > sess.opts.MaxMessageSize {
		sess.reportError(&SerializationError{Size: len(encoded), Limit: sess.opts.MaxMessageSize})
		return
	}

	if sess.opts.OnDiffSend != nil {
		sess.opts.OnDiffSend(msg)
	}

	if err := sess.socket.Send(string(encoded)); err != nil {
		sess.reportError(&TransportError{Cause: err})
		sess.status.set(Error)
		return
	}

	if sess.opts.Debug {
		jlog.L.Debug().Str("diff", diff.Describe(d)).Msg("sync: sent diff")
	}
	sess.lastSent = snap
}

// handleMessage runs on every inbound "message" event (spec.md §4.F
// receive path).
func (sess *Session) handleMessage(ev Event) {
	if s := sess.status.Status(); s == Disconnected || s == Connecting {
		sess.status.set(Connected)
	}

	var msg Message
	if err := json.Unmarshal([]byte(ev.Data), &msg); err != nil {
		sess.reportError(&SerializationError{Cause: err})
		return
	}

	if msg.ClientID == sess.clientID {
		return // loop prevention: this is our own echoed message
	}
	if msg.Prefix != "" && msg.Prefix != sess.opts.Prefix {
		return
	}

	sess.mu.Lock()
	sess.receivedClientIDs[msg.ClientID] = struct{}{}
	sess.mu.Unlock()

	if sess.opts.ValidateSchema != nil {
		if err := sess.opts.ValidateSchema.Parse(msg.Changes); err != nil {
			sess.reportError(&ValidationFailureError{Cause: err})
			return
		}
	}

	changes := FilterDiff(msg.Changes, sess.opts.AllowKeys, sess.opts.AllowPaths, sess.opts.SensitiveKeys)

	if sess.opts.OnPatchReceive != nil {
		msg.Changes = changes
		transformed := sess.opts.OnPatchReceive(msg)
		if transformed == nil {
			return
		}
		changes = transformed.Changes
	}

	if err := diff.Apply(sess.store, changes); err != nil {
		sess.reportError(err)
		return
	}
	if sess.opts.Debug {
		jlog.L.Debug().Str("diff", diff.Describe(changes)).Msg("sync: applied received diff")
	}

	sess.mu.Lock()
	sess.lastSent = sess.store.GetState()
	sess.mu.Unlock()
}

func (sess *Session) reportError(err error) {
	if sess.opts.OnError != nil {
		sess.opts.OnError(err)
		return
	}
	jlog.L.Error().Err(err).Msg("sync: session error")
}

// Stop detaches the message and lifecycle listeners, cancels any pending
// throttle timer, and unsubscribes from the store. Idempotent.
func (sess *Session) Stop() {
	sess.mu.Lock()
	if sess.stopped {
		sess.mu.Unlock()
		return
	}
	sess.stopped = true
	if sess.throttleTimer != nil {
		sess.throttleTimer.Stop()
	}
	sess.mu.Unlock()

	sess.removeMessage()
	sess.removeOpen()
	sess.removeClose()
	sess.removeError()
	sess.unsubscribe()

	sess.status.set(Terminated)
}
