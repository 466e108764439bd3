// Package safego runs goroutines that log panics instead of crashing the process.
package safego

import (
	"runtime/debug"

	"github.com/wesm/work-inbox/internal/logging"
)

// Run executes fn and converts a panic into a logged error.
// Runtime-fatal errors such as concurrent map writes are not recovered.
func Run(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			label := name
			if label == "" {
				label = "goroutine"
			}
			logging.Error("panic in %s: %v\n%s", label, r, debug.Stack())
		}
	}()
	fn()
}

// Go runs fn in a new goroutine with panic recovery.
func Go(name string, fn func()) {
	go Run(name, fn)
}
