// Command demo wires together everything cmd/demo exists to show off:
// one store replicated to a peer over an in-memory socket, with a
// history tracker riding along on the first store so a rewind can be
// demonstrated after the peers have converged.
package main

import (
	"fmt"

	"reactor/history"
	"reactor/jlog"
	"reactor/lifecycle"
	"reactor/store"
	"reactor/sync"
)

func main() {
	jlog.L.Info().Msg("demo: starting two peers over an in-memory socket pair")

	left := store.New(map[string]any{
		"todos": []any{"write the demo"},
		"user":  map[string]any{"name": "ada", "role": "admin"},
	}, store.Options{})

	right := store.New(map[string]any{
		"todos": []any{},
		"user":  map[string]any{"name": "ada", "role": "admin"},
	}, store.Options{})

	leftSocket, rightSocket := sync.NewMemPair()

	// Throttle(0) disables the throttle window outright, so every write
	// below shows up on the other peer before main returns.
	leftWiring := lifecycle.Wire(left, leftSocket, history.Options{ThrottleMs: history.Throttle(0)}, sync.Options{
		ThrottleMs: sync.Throttle(0),
		OnDiffSend: func(msg sync.Message) {
			fmt.Printf("left  -> right: %v\n", msg.Changes)
		},
	})
	defer leftWiring.Close()

	rightWiring := lifecycle.Wire(right, rightSocket, history.Options{ThrottleMs: history.Throttle(0)}, sync.Options{
		ThrottleMs:    sync.Throttle(0),
		SensitiveKeys: []string{"user.role"},
		OnDiffSend: func(msg sync.Message) {
			fmt.Printf("right -> left:  %v\n", msg.Changes)
		},
	})
	defer rightWiring.Close()

	left.Set("grace", "user", "name")
	right.Set([]any{"write the demo", "ship it"}, "todos")
	right.Set("editor", "user", "role")

	fmt.Println("right.user.name replicated from left:", right.Get("user", "name"))
	fmt.Println("right.todos replicated to left:", left.Get("todos"))
	fmt.Println("left.user.role still \"admin\": right's SensitiveKeys scrubbed its own role change before sending:",
		left.Get("user", "role"))

	fmt.Println("history entries on left:", len(leftWiring.History.Entries()))
	if leftWiring.History.Back() {
		fmt.Println("after Back(), left.user.name =", left.Get("user", "name"))
	}
}
