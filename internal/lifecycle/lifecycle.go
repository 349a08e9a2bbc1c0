// Package lifecycle holds process-wide state shared by the collector loop and
// the HTTP surface.
package lifecycle

import (
	"sync/atomic"
	"time"
)

var (
	shuttingDown atomic.Bool
	collecting   atomic.Bool
	lastCycle    atomic.Int64
)

// SetShuttingDown sets the shutdown flag. Call when SIGTERM/SIGINT is received.
// The health handler returns 503 with status shutting-down while true.
func SetShuttingDown(v bool) {
	shuttingDown.Store(v)
}

// IsShuttingDown reports whether the process is draining.
func IsShuttingDown() bool {
	return shuttingDown.Load()
}

// BeginCycle marks a collection cycle as running. It returns false if one
// already is, in which case the caller must not start another.
func BeginCycle() bool {
	return collecting.CompareAndSwap(false, true)
}

// EndCycle clears the running flag and records the completion time.
func EndCycle(at time.Time) {
	lastCycle.Store(at.UnixNano())
	collecting.Store(false)
}

// IsCollecting reports whether a cycle is in progress.
func IsCollecting() bool {
	return collecting.Load()
}

// LastCycle returns when the most recent cycle finished, or the zero time.
func LastCycle() time.Time {
	n := lastCycle.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// Reset clears all state. For tests only.
func Reset() {
	shuttingDown.Store(false)
	collecting.Store(false)
	lastCycle.Store(0)
}
