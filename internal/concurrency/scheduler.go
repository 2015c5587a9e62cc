// File: internal/concurrency/scheduler.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Keyed delayed-event scheduler. Producers append to a FIFO under one short
// lock; the owning worker moves entries into a deadline heap and fires them.

package concurrency

import (
	"cmp"
	"container/heap"
	"slices"
	"sync"
	"time"

	"github.com/eapache/queue"
)

// Fired is an event whose deadline elapsed, together with its key.
type Fired[T any] struct {
	Key  uint64
	Data T
}

type timerEntry struct {
	key      uint64
	deadline time.Time
}

// timerHeap orders by deadline, ties broken by key (enqueue order).
type timerHeap []timerEntry

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].key < h[j].key
	}
	return h[i].deadline.Before(h[j].deadline)
}
func (h timerHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *timerHeap) Push(x any) {
	*h = append(*h, x.(timerEntry))
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// Scheduler keeps the pending-event table and the armed deadlines.
//
// ScheduleAfter and Cancel may be called from any goroutine. NextTimeout,
// PopDue and Close belong to the single worker that owns the scheduler.
type Scheduler[T any] struct {
	mu      sync.Mutex
	nextKey uint64
	pending map[uint64]T
	ingress *queue.Queue // timerEntry, not yet in timers
	closed  bool

	timers timerHeap // worker-owned

	now  func() time.Time
	wake func()
}

// NewScheduler creates a scheduler. wake, if non-nil, is invoked after every
// insertion so a blocked worker recomputes its wait.
func NewScheduler[T any](wake func()) *Scheduler[T] {
	return &Scheduler[T]{
		nextKey: 1,
		pending: make(map[uint64]T),
		ingress: queue.New(),
		now:     time.Now,
		wake:    wake,
	}
}

// ScheduleAfter arms data to fire once delay has elapsed and returns its key.
// ok is false if the scheduler was closed.
func (s *Scheduler[T]) ScheduleAfter(delay time.Duration, data T) (key uint64, ok bool) {
	if delay < 0 {
		delay = 0
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, false
	}
	key = s.nextKey
	s.nextKey++
	s.pending[key] = data
	s.ingress.Add(timerEntry{key: key, deadline: s.now().Add(delay)})
	s.mu.Unlock()

	if s.wake != nil {
		s.wake()
	}
	return key, true
}

// Cancel removes key from the pending table. The armed deadline stays in the
// heap and is discarded when it fires.
func (s *Scheduler[T]) Cancel(key uint64) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.pending[key]
	if ok {
		delete(s.pending, key)
	}
	return data, ok
}

// Pending reports how many keys are still in the table.
func (s *Scheduler[T]) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// drainIngress moves submitted entries into the heap.
func (s *Scheduler[T]) drainIngress() {
	s.mu.Lock()
	for s.ingress.Length() > 0 {
		heap.Push(&s.timers, s.ingress.Remove().(timerEntry))
	}
	s.mu.Unlock()
}

// NextTimeout returns how long the worker may block: negative when nothing
// is armed, zero when a deadline already elapsed.
func (s *Scheduler[T]) NextTimeout(now time.Time) time.Duration {
	s.drainIngress()
	if len(s.timers) == 0 {
		return -1
	}
	d := s.timers[0].deadline.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// PopDue removes and returns every event whose deadline is not after now,
// in deadline order. Deadlines whose key was cancelled are dropped silently.
func (s *Scheduler[T]) PopDue(now time.Time) []Fired[T] {
	s.drainIngress()
	var out []Fired[T]
	for len(s.timers) > 0 && !s.timers[0].deadline.After(now) {
		entry := heap.Pop(&s.timers).(timerEntry)
		s.mu.Lock()
		data, ok := s.pending[entry.key]
		if ok {
			delete(s.pending, entry.key)
		}
		s.mu.Unlock()
		if !ok {
			continue
		}
		out = append(out, Fired[T]{Key: entry.key, Data: data})
	}
	return out
}

// Close rejects further insertions and returns every event that never
// fired, in key order.
func (s *Scheduler[T]) Close() []Fired[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	out := make([]Fired[T], 0, len(s.pending))
	for key, data := range s.pending {
		out = append(out, Fired[T]{Key: key, Data: data})
	}
	slices.SortFunc(out, func(a, b Fired[T]) int { return cmp.Compare(a.Key, b.Key) })
	s.pending = make(map[uint64]T)
	for s.ingress.Length() > 0 {
		s.ingress.Remove()
	}
	s.timers = nil
	return out
}
