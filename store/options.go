package store

// Options configures a Store. The zero value is usable: all fields have
// sane defaults applied by New.
type Options struct {
	// MaxReentrantFlushes bounds how many flush passes, the first one
	// included, a single outermost batch may run when subscribers write
	// back into the store (spec.md §4.C: "bounded recursion depth
	// configurable; default 100"). Zero means use the default.
	MaxReentrantFlushes int

	// Debug enables debug-level logging: a computed cell recomputed on
	// read because it was stale, and an assignment over a computed cell.
	// Off by default, matching spec.md §5 ("in debug mode").
	Debug bool

	// OnError receives panics recovered from subscriber callbacks
	// (spec.md §7 SubscriberFault). If nil, faults are only logged.
	OnError func(error)
}

const defaultMaxReentrantFlushes = 100

func (o Options) withDefaults() Options {
	if o.MaxReentrantFlushes <= 0 {
		o.MaxReentrantFlushes = defaultMaxReentrantFlushes
	}
	return o
}
