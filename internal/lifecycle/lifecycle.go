// Package lifecycle holds process-wide shutdown state.
package lifecycle

import "sync/atomic"

var shuttingDown atomic.Bool

// SetShuttingDown marks the process as draining once SIGINT/SIGTERM is received.
// While set, GET /health answers 503 without probing the stores.
func SetShuttingDown(v bool) {
	shuttingDown.Store(v)
}

func IsShuttingDown() bool {
	return shuttingDown.Load()
}
