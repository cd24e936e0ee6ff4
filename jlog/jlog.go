// Package jlog is the module-wide logging sink. It follows the ambient
// logging convention of github.com/loog-project/loog: packages call the
// package-level logger directly (log.Debug(), log.Error()) rather than
// accepting an injected interface.
package jlog

import (
	"os"

	"github.com/rs/zerolog"
)

// L is the module-wide logger. Replace it (e.g. in a test or in an
// application's main) to redirect or silence output; it is not
// per-store or per-session state.
var L = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
	With().Timestamp().Logger()

// Silence redirects L to discard all output. Handy in tests that
// deliberately trigger warning paths (stale reads, dropped messages).
func Silence() {
	L = zerolog.Nop()
}
