//go:build linux
// +build linux

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor - Linux epoll implementation.

package reactor

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-qos/api"
)

// epollReactor implements api.Reactor using Linux epoll and an eventfd for wake-ups.
type epollReactor struct {
	epfd      int
	wakefd    int
	events    []unix.EpollEvent
	callbacks sync.Map // map[int]api.FDCallback

	closeOnce sync.Once
	closeErr  error
}

// New creates an epoll reactor dispatching at most maxEvents per Poll.
func New(maxEvents int) (api.Reactor, error) {
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("eventfd create: %w", err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		unix.Close(wakefd)
		unix.Close(epfd)
		return nil, fmt.Errorf("epoll ctl add wakefd: %w", err)
	}
	return &epollReactor{
		epfd:   epfd,
		wakefd: wakefd,
		events: make([]unix.EpollEvent, maxEvents),
	}, nil
}

// Register adds a file descriptor to the epoll watch list.
func (r *epollReactor) Register(fd int, events api.FDEventType, cb api.FDCallback) error {
	if cb == nil {
		return api.NewError(api.ErrCodeInternal, "nil callback").WithContext("fd", fd)
	}
	var ev unix.EpollEvent
	if events&api.EventRead != 0 {
		ev.Events |= unix.EPOLLIN
	}
	if events&api.EventWrite != 0 {
		ev.Events |= unix.EPOLLOUT
	}
	if events&api.EventError != 0 {
		ev.Events |= unix.EPOLLERR
	}
	if events&api.EventHangup != 0 {
		ev.Events |= unix.EPOLLHUP
	}
	ev.Fd = int32(fd)

	r.callbacks.Store(fd, cb)
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		r.callbacks.Delete(fd)
		return fmt.Errorf("epoll ctl add: %w", err)
	}
	return nil
}

// Unregister removes a file descriptor from the epoll watch list.
func (r *epollReactor) Unregister(fd int) error {
	r.callbacks.Delete(fd)
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("epoll ctl del: %w", err)
	}
	return nil
}

// Poll blocks until a registered descriptor is ready, Wake is called or
// timeout elapses. Sub-millisecond timeouts round up so a deadline is never
// observed early.
func (r *epollReactor) Poll(timeout time.Duration) (int, error) {
	n, err := unix.EpollWait(r.epfd, r.events, timeoutMillis(timeout))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, nil // interrupted by signal, normal
		}
		return 0, fmt.Errorf("epoll wait: %w", err)
	}

	handled := 0
	for i := 0; i < n; i++ {
		ev := r.events[i]
		fd := int(ev.Fd)
		if fd == r.wakefd {
			r.drainWake()
			continue
		}

		// A callback earlier in this batch may have unregistered fd.
		val, ok := r.callbacks.Load(fd)
		if !ok {
			continue
		}

		var eventType api.FDEventType
		if ev.Events&unix.EPOLLIN != 0 {
			eventType |= api.EventRead
		}
		if ev.Events&unix.EPOLLOUT != 0 {
			eventType |= api.EventWrite
		}
		if ev.Events&unix.EPOLLERR != 0 {
			eventType |= api.EventError
		}
		if ev.Events&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
			eventType |= api.EventHangup
		}

		cb, _ := val.(api.FDCallback)
		// Use deferred recover to ensure reactor continuity on panics.
		func() {
			defer func() { _ = recover() }()
			cb(fd, eventType)
		}()
		handled++
	}
	return handled, nil
}

// Wake makes a concurrent or subsequent Poll return promptly.
func (r *epollReactor) Wake() error {
	var buf [8]byte
	buf[0] = 1
	_, err := unix.Write(r.wakefd, buf[:])
	if errors.Is(err, unix.EAGAIN) {
		// counter saturated, a wake-up is already pending
		return nil
	}
	return err
}

func (r *epollReactor) drainWake() {
	var buf [8]byte
	for {
		if _, err := unix.Read(r.wakefd, buf[:]); err != nil {
			return
		}
	}
}

// Close releases the epoll and eventfd descriptors.
func (r *epollReactor) Close() error {
	r.closeOnce.Do(func() {
		errWake := unix.Close(r.wakefd)
		errEp := unix.Close(r.epfd)
		r.closeErr = errors.Join(errWake, errEp)
	})
	return r.closeErr
}

func timeoutMillis(d time.Duration) int {
	if d < 0 {
		return -1
	}
	ms := d / time.Millisecond
	if d%time.Millisecond != 0 {
		ms++
	}
	if ms > maxPollMillis {
		ms = maxPollMillis
	}
	return int(ms)
}
