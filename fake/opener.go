// File: fake/opener.go
// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

// Package fake provides test doubles for the engine contracts.
package fake

import (
	"sync"

	"github.com/momentics/hioload-qos/api"
)

// OpenCall records one Open invocation.
type OpenCall struct {
	Path  string
	Value int32
	FD    int
	Err   error
}

// Opener wraps a real api.NodeOpener, records every call and can force
// failures per path.
type Opener struct {
	Inner api.NodeOpener

	mu    sync.Mutex
	fail  map[string]error
	calls []OpenCall
}

var _ api.NodeOpener = (*Opener)(nil)

// NewOpener returns a recording opener around inner.
func NewOpener(inner api.NodeOpener) *Opener {
	return &Opener{Inner: inner, fail: make(map[string]error)}
}

// FailPath makes Open(path, ...) return err without touching the node.
func (o *Opener) FailPath(path string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fail[path] = err
}

// Open implements api.NodeOpener.
func (o *Opener) Open(path string, value int32) (int, error) {
	o.mu.Lock()
	forced := o.fail[path]
	o.mu.Unlock()

	fd, err := -1, forced
	if forced == nil {
		fd, err = o.Inner.Open(path, value)
	}

	o.mu.Lock()
	o.calls = append(o.calls, OpenCall{Path: path, Value: value, FD: fd, Err: err})
	o.mu.Unlock()
	return fd, err
}

// Calls returns a copy of the recorded calls.
func (o *Opener) Calls() []OpenCall {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]OpenCall(nil), o.calls...)
}
