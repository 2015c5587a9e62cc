// File: internal/testutil/releases.go
// Author: momentics <momentics@gmail.com>

package testutil

import (
	"testing"
	"time"

	"github.com/momentics/hioload-qos/api"
)

// ReleaseLog collects release notifications from the engine.
type ReleaseLog struct {
	ch chan api.Release
}

// NewReleaseLog buffers up to capacity notifications.
func NewReleaseLog(capacity int) *ReleaseLog {
	return &ReleaseLog{ch: make(chan api.Release, capacity)}
}

// Hook is the OnRelease callback. It never blocks the worker.
func (l *ReleaseLog) Hook(rel api.Release) {
	select {
	case l.ch <- rel:
	default:
		panic("release log overflow")
	}
}

// Next waits for the next release.
func (l *ReleaseLog) Next(t testing.TB, within time.Duration) api.Release {
	t.Helper()
	select {
	case rel := <-l.ch:
		return rel
	case <-time.After(within):
		t.Fatalf("no release within %v", within)
		return api.Release{}
	}
}

// None asserts nothing is released during d.
func (l *ReleaseLog) None(t testing.TB, d time.Duration) {
	t.Helper()
	select {
	case rel := <-l.ch:
		t.Fatalf("unexpected release %+v", rel)
	case <-time.After(d):
	}
}
