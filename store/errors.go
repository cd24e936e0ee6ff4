package store

import "fmt"

// SubscriberFaultError wraps a panic recovered from a subscriber callback
// (spec.md §7). The flush that triggered it still completes; other
// subscribers still run.
type SubscriberFaultError struct {
	Cause any
}

func (e *SubscriberFaultError) Error() string {
	return fmt.Sprintf("store: subscriber panicked: %v", e.Cause)
}
