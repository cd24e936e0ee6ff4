package sync

import (
	"errors"
	stdsync "sync"
)

// MemSocket is an in-process Socket backed by a direct call into its
// peer's listeners: the loopback transport this module's own test suite
// and cmd/demo use to connect two stores without a real network (spec.md
// §1 non-goal: "no network transport implementation, transports are
// injected"). NewMemPair wires two MemSockets so each Send delivers
// synchronously, on the sender's goroutine, to the other's "message"
// listeners.
type MemSocket struct {
	mu       stdsync.Mutex
	peer     *MemSocket
	handlers map[string][]*wsHandler
	closed   bool
}

var errMemSocketClosed = errors.New("sync: memsocket closed")

// NewMemPair returns two MemSockets, each the other's peer.
func NewMemPair() (a, b *MemSocket) {
	a = &MemSocket{handlers: make(map[string][]*wsHandler)}
	b = &MemSocket{handlers: make(map[string][]*wsHandler)}
	a.peer, b.peer = b, a
	return a, b
}

// Send implements Socket.
func (m *MemSocket) Send(data string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errMemSocketClosed
	}
	peer := m.peer
	m.mu.Unlock()
	peer.deliver(Event{Data: data})
	return nil
}

func (m *MemSocket) deliver(ev Event) {
	m.mu.Lock()
	handlers := append([]*wsHandler(nil), m.handlers["message"]...)
	m.mu.Unlock()
	for _, h := range handlers {
		h.fn(ev)
	}
}

// AddEventListener implements Socket. MemSocket only ever emits
// "message" events: there is no real connection to open, close, or
// error on.
func (m *MemSocket) AddEventListener(event string, handler func(Event)) func() {
	h := &wsHandler{fn: handler}
	m.mu.Lock()
	m.handlers[event] = append(m.handlers[event], h)
	m.mu.Unlock()
	return func() { m.detach(event, h) }
}

func (m *MemSocket) detach(event string, h *wsHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.handlers[event]
	for i, existing := range list {
		if existing == h {
			m.handlers[event] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// MemSocket deliberately does not implement ReadyStater: it exercises
// the spec.md §4.F fallback path, "when only onmessage is available, the
// engine assumes Connected on first successful receive."

// Close implements Closer.
func (m *MemSocket) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
