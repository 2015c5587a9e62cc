// File: internal/concurrency/slot.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// One-shot rendezvous primitives: a result slot written once by the worker
// and read once by a blocked caller, and a ready barrier.

package concurrency

import (
	"context"
	"sync"
)

const (
	slotEmpty = iota
	slotFilled
	slotAbandoned
)

// Slot carries exactly one value from a producer to a waiting consumer.
type Slot[T any] struct {
	mu    sync.Mutex
	state int
	ch    chan T
}

// NewSlot returns an empty slot.
func NewSlot[T any]() *Slot[T] {
	return &Slot[T]{ch: make(chan T, 1)}
}

// Put stores v. It returns false if the slot was already filled or the
// consumer gave up waiting; the producer then still owns v.
func (s *Slot[T]) Put(v T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != slotEmpty {
		return false
	}
	s.state = slotFilled
	s.ch <- v
	return true
}

// Wait blocks until Put or until ctx is done. A value that raced ctx
// cancellation is still returned, so it is never lost.
func (s *Slot[T]) Wait(ctx context.Context) (T, error) {
	select {
	case v := <-s.ch:
		return v, nil
	case <-ctx.Done():
	}
	s.mu.Lock()
	if s.state == slotFilled {
		s.mu.Unlock()
		return <-s.ch, nil
	}
	s.state = slotAbandoned
	s.mu.Unlock()
	var zero T
	return zero, ctx.Err()
}

// Barrier is a one-shot gate carrying an optional error.
type Barrier struct {
	once sync.Once
	done chan struct{}
	err  error
}

// NewBarrier returns a closed gate.
func NewBarrier() *Barrier {
	return &Barrier{done: make(chan struct{})}
}

// Open releases every waiter. Only the first call has effect.
func (b *Barrier) Open(err error) {
	b.once.Do(func() {
		b.err = err
		close(b.done)
	})
}

// Wait blocks until Open and returns the error passed to it.
func (b *Barrier) Wait() error {
	<-b.done
	return b.err
}

// Done exposes the gate for select.
func (b *Barrier) Done() <-chan struct{} {
	return b.done
}
