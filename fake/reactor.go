// File: fake/reactor.go
// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package fake

import (
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-qos/api"
)

const idlePoll = 10 * time.Millisecond

// Reactor delegates to Inner and can refuse registrations. A nil Inner
// behaves as a reactor with nothing to poll.
type Reactor struct {
	Inner       api.Reactor
	RegisterErr error

	registered      atomic.Int32
	closed          atomic.Bool
	wakesAfterClose atomic.Int32
}

var _ api.Reactor = (*Reactor)(nil)

// Register implements api.Reactor.
func (r *Reactor) Register(fd int, events api.FDEventType, cb api.FDCallback) error {
	if r.RegisterErr != nil {
		return r.RegisterErr
	}
	if r.Inner != nil {
		if err := r.Inner.Register(fd, events, cb); err != nil {
			return err
		}
	}
	r.registered.Add(1)
	return nil
}

// Unregister implements api.Reactor.
func (r *Reactor) Unregister(fd int) error {
	if r.Inner == nil {
		return nil
	}
	return r.Inner.Unregister(fd)
}

// Poll implements api.Reactor.
func (r *Reactor) Poll(timeout time.Duration) (int, error) {
	if r.Inner == nil {
		if timeout < 0 || timeout > idlePoll {
			timeout = idlePoll
		}
		time.Sleep(timeout)
		return 0, nil
	}
	return r.Inner.Poll(timeout)
}

// Wake implements api.Reactor.
func (r *Reactor) Wake() error {
	if r.closed.Load() {
		r.wakesAfterClose.Add(1)
	}
	if r.Inner == nil {
		return nil
	}
	return r.Inner.Wake()
}

// Close implements api.Reactor.
func (r *Reactor) Close() error {
	r.closed.Store(true)
	if r.Inner == nil {
		return nil
	}
	return r.Inner.Close()
}

// Registered reports successful registrations.
func (r *Reactor) Registered() int {
	return int(r.registered.Load())
}

// WakesAfterClose counts Wake calls that arrived after Close.
func (r *Reactor) WakesAfterClose() int {
	return int(r.wakesAfterClose.Load())
}
