// Package api
// Author: momentics
//
// Scheduler contract for keyed, deadline-ordered event delivery.

package api

import "time"

// Scheduler abstracts delayed event submission into the serializing worker.
type Scheduler interface {
	// Post enqueues data to fire after delay and returns its key. Keys are
	// strictly increasing for the lifetime of the scheduler.
	Post(delay time.Duration, data any) (uint64, error)

	// Cancel removes a pending event. A later fire for key is a no-op.
	Cancel(key uint64) (any, bool)

	// Pending reports how many events are still armed.
	Pending() int
}
