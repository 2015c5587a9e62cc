// File: internal/liveness/monitor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package liveness detects when the holder of a lease token goes away.
//
// Attach creates a pipe. The read end is the caller's token; the write end
// stays with the monitor, registered with the worker's reactor for error and
// hangup. When every copy of the read end is closed, explicitly or because
// the owning process died, the write end reports an error and the monitor
// runs the lost callback exactly once.
package liveness

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-qos/api"
)

// Monitor tracks pairings registered with one reactor. All methods must be
// called on the goroutine that polls that reactor.
type Monitor struct {
	reactor  api.Reactor
	logger   *zap.Logger
	pairings map[int]*Pairing
}

// Pairing is the monitor-side end of one lease.
type Pairing struct {
	m      *Monitor
	fd     int
	lost   func()
	closed bool
}

// NewMonitor binds a monitor to r.
func NewMonitor(r api.Reactor, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		reactor:  r,
		logger:   logger,
		pairings: make(map[int]*Pairing),
	}
}

// Attach creates a pairing and returns it with the caller's token. lost runs
// after the monitored end has been unregistered and closed.
func (m *Monitor) Attach(lost func()) (*Pairing, *os.File, error) {
	client, server, err := newPipe()
	if err != nil {
		return nil, nil, attachFailure("pipe", err)
	}

	p := &Pairing{m: m, fd: server, lost: lost}
	if err := m.reactor.Register(server, api.EventError|api.EventHangup, p.onEvent); err != nil {
		unix.Close(server)
		unix.Close(client)
		return nil, nil, attachFailure("register", err)
	}
	m.pairings[server] = p
	return p, os.NewFile(uintptr(client), fmt.Sprintf("qos-lease:%d", server)), nil
}

func (p *Pairing) onEvent(fd int, events api.FDEventType) {
	if events&(api.EventError|api.EventHangup) == 0 {
		return
	}
	if !p.Close() {
		return
	}
	if p.lost != nil {
		p.lost()
	}
}

// Close unregisters and closes the monitored end without running the lost
// callback. It reports whether this call did the work.
func (p *Pairing) Close() bool {
	if p.closed {
		return false
	}
	p.closed = true
	if err := p.m.reactor.Unregister(p.fd); err != nil {
		p.m.logger.Warn("liveness unregister", zap.Int("fd", p.fd), zap.Error(err))
	}
	if err := unix.Close(p.fd); err != nil {
		p.m.logger.Warn("liveness close", zap.Int("fd", p.fd), zap.Error(err))
	}
	delete(p.m.pairings, p.fd)
	return true
}

// Len reports live pairings.
func (m *Monitor) Len() int {
	return len(m.pairings)
}

func attachFailure(op string, err error) error {
	return api.NewError(api.ErrCodeAttachFailure, "lease "+op+" failed").Wrap(err)
}
