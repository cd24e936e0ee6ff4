package sync

import (
	stdsync "sync"

	"github.com/gorilla/websocket"
)

// wsHandler is one registered (event, callback) pair, shared by WSAdapter
// and MemSocket so both transports detach listeners the same way.
type wsHandler struct {
	fn func(Event)
}

// WSAdapter wraps a *websocket.Conn as a Socket — the one concrete,
// swappable transport implementation this module ships (spec.md §1
// non-goal: transports are injected, not implemented by core). Both
// go-ethereum module variants in the retrieval pack depend on
// gorilla/websocket for exactly this kind of connection plumbing.
//
// It runs a single read-pump goroutine that forwards every data frame,
// text or binary, as a "message" Event; Send takes its own lock since gorilla's Conn
// requires callers to serialize writes themselves.
type WSAdapter struct {
	conn *websocket.Conn

	writeMu stdsync.Mutex

	mu       stdsync.Mutex
	handlers map[string][]*wsHandler
	closed   bool
}

// NewWSAdapter wraps conn and immediately starts its read pump.
func NewWSAdapter(conn *websocket.Conn) *WSAdapter {
	a := &WSAdapter{conn: conn, handlers: make(map[string][]*wsHandler)}
	go a.readPump()
	return a
}

func (a *WSAdapter) readPump() {
	a.emit("open", Event{})
	for {
		_, data, err := a.conn.ReadMessage()
		if err != nil {
			a.mu.Lock()
			a.closed = true
			a.mu.Unlock()
			a.emit("error", Event{Err: err})
			a.emit("close", Event{})
			return
		}
		a.emit("message", Event{Data: string(data)})
	}
}

func (a *WSAdapter) emit(event string, ev Event) {
	a.mu.Lock()
	handlers := append([]*wsHandler(nil), a.handlers[event]...)
	a.mu.Unlock()
	for _, h := range handlers {
		h.fn(ev)
	}
}

// Send implements Socket.
func (a *WSAdapter) Send(data string) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	return a.conn.WriteMessage(websocket.TextMessage, []byte(data))
}

// AddEventListener implements Socket.
func (a *WSAdapter) AddEventListener(event string, handler func(Event)) func() {
	h := &wsHandler{fn: handler}
	a.mu.Lock()
	a.handlers[event] = append(a.handlers[event], h)
	a.mu.Unlock()
	return func() { a.detach(event, h) }
}

func (a *WSAdapter) detach(event string, h *wsHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	list := a.handlers[event]
	for i, existing := range list {
		if existing == h {
			a.handlers[event] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// ReadyState implements ReadyStater. gorilla/websocket does not expose
// readyState directly: the adapter reports Open until the read pump
// observes an error or Close is called, demonstrating the "readyState-based transition
// path" the engine's Status machinery optionally consumes.
func (a *WSAdapter) ReadyState() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ReadyStateClosed
	}
	return ReadyStateOpen
}

// Close implements Closer.
func (a *WSAdapter) Close() error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	return a.conn.Close()
}
