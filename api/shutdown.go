// File: api/shutdown.go
// Package api defines unified graceful shutdown contract.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// GracefulShutdown unifies orderly termination of components.
type GracefulShutdown interface {
	// Shutdown stops internal services and releases every resource they
	// still own. Returns an error on failure.
	Shutdown() error
}
