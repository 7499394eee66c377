// Package safego provides a panic-recovering goroutine launcher for background work.
package safego

import (
	"log/slog"
	"runtime/debug"
)

// Go launches fn in a new goroutine under the given name. A panic in fn is recovered
// and logged with its stack so one failing job tick cannot take the process down.
func Go(name string, fn func()) {
	go func() {
		defer Recover(name)
		fn()
	}()
}

// Recover logs a recovered panic. It must be called directly by a deferred statement.
func Recover(name string) {
	if r := recover(); r != nil {
		slog.Error("recovered panic in background goroutine",
			"goroutine", name, "panic", r, "stack", string(debug.Stack()))
	}
}
