// File: api/poker.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Contracts of the QoS request engine: node opener, release notification
// and the caller-facing request surface.

package api

import (
	"context"
	"os"
	"time"
)

// NodeOpener opens a control node read/write and writes value to it.
// On failure no descriptor is left open.
type NodeOpener interface {
	Open(path string, value int32) (fd int, err error)
}

// ReleaseReason tells which path reclaimed a resource.
type ReleaseReason string

const (
	ReasonExpired      ReleaseReason = "expired"
	ReasonLeaseClosed  ReleaseReason = "lease_closed"
	ReasonAttachFailed ReleaseReason = "attach_failed"
	ReasonAbandoned    ReleaseReason = "abandoned"
	ReasonShutdown     ReleaseReason = "shutdown"
)

// Release describes one closed resource. ID is unique per engine instance.
type Release struct {
	ID     uint64
	Path   string
	Value  int32
	FD     int
	Reason ReleaseReason
	Held   time.Duration
}

// Poker is the request surface of the engine.
type Poker interface {
	GracefulShutdown

	// RequestTimed opens path, writes value and closes it after d.
	// Failures are logged, never returned.
	RequestTimed(path string, value int32, d time.Duration)

	// RequestHandle blocks until the node is open and returns the lease
	// token. Closing every copy of the token releases the node.
	RequestHandle(path string, value int32) (*os.File, error)

	// RequestHandleContext is RequestHandle bounded by ctx.
	RequestHandleContext(ctx context.Context, path string, value int32) (*os.File, error)

	// RequestHandleTimeout returns a lease token that is also released
	// after d, whichever happens first.
	RequestHandleTimeout(path string, value int32, d time.Duration) (*os.File, error)

	// RequestRaw opens the node on the calling goroutine. The caller owns
	// the returned file; the engine never touches it.
	RequestRaw(path string, value int32) (*os.File, error)
}
