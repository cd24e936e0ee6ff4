package diff

import "github.com/davecgh/go-spew/spew"

// Describe renders d as a human-readable dump for debug logging (sync
// sessions log the diff they send/receive when Options.Debug is set).
func Describe(d Diff) string {
	return spew.Sdump(map[string]any(d))
}
