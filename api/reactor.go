// File: api/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Defines the abstract interface for the readiness reactor that backs the
// serializing worker: descriptor callbacks plus a bounded blocking wait.

package api

import "time"

// FDEventType is a bitmask of readiness conditions.
type FDEventType uint32

const (
	EventRead FDEventType = 1 << iota
	EventWrite
	EventError
	EventHangup
)

// FDCallback is invoked on the polling goroutine with the conditions that fired.
type FDCallback func(fd int, events FDEventType)

// Reactor multiplexes descriptor readiness for a single polling goroutine.
type Reactor interface {
	// Register adds fd to the interest set. Error and hangup are always reported.
	Register(fd int, events FDEventType, cb FDCallback) error

	// Unregister removes fd. It must be called before fd is closed.
	Unregister(fd int) error

	// Poll blocks for at most timeout (negative means forever), dispatches
	// callbacks for every ready descriptor and returns how many were dispatched.
	Poll(timeout time.Duration) (int, error)

	// Wake interrupts a blocked Poll. Safe from any goroutine.
	Wake() error

	// Close releases the poller backend.
	Close() error
}
