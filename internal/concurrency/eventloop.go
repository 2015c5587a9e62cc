// File: internal/concurrency/eventloop.go
// Author: momentics <momentics@gmail.com>
//
// Serializing worker: one goroutine, locked to one OS thread, that waits on
// the reactor with a timeout equal to the next scheduler deadline and
// dispatches fired events and fd callbacks.

package concurrency

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-qos/affinity"
	"github.com/momentics/hioload-qos/api"
	"github.com/momentics/hioload-qos/reactor"
)

// Event is a fired scheduler entry.
type Event struct {
	Key  uint64
	Data any
}

// EventHandler receives events on the loop goroutine.
type EventHandler interface {
	HandleEvent(ev Event)

	// Drain runs on the loop goroutine during shutdown, after the scheduler
	// stopped accepting events and before the reactor is closed. unfired
	// holds every event that was still pending.
	Drain(unfired []Event)
}

// LoopConfig tunes the worker.
type LoopConfig struct {
	MaxEvents  int                                      // epoll batch size
	CPU        int                                      // pin worker thread to this CPU, -1 to skip
	NewReactor func(maxEvents int) (api.Reactor, error) // defaults to reactor.New
	Logger     *zap.Logger
}

// EventLoop is the single writer of all engine state.
type EventLoop struct {
	handler EventHandler
	cfg     LoopConfig
	logger  *zap.Logger
	sched   *Scheduler[any]
	reactor api.Reactor

	ready   *Barrier
	done    chan struct{}
	started atomic.Bool
	stopReq atomic.Bool

	// wakeMu orders Wake against reactor Close; the eventfd number may be
	// reused once closed.
	wakeMu sync.Mutex
	closed bool
}

var _ api.Scheduler = (*EventLoop)(nil)

// NewEventLoop creates a stopped loop delivering events to h.
func NewEventLoop(h EventHandler, cfg LoopConfig) *EventLoop {
	if cfg.NewReactor == nil {
		cfg.NewReactor = reactor.New
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	el := &EventLoop{
		handler: h,
		cfg:     cfg,
		logger:  cfg.Logger,
		ready:   NewBarrier(),
		done:    make(chan struct{}),
	}
	el.sched = NewScheduler[any](el.wake)
	return el
}

// Start launches the worker and blocks until its reactor is initialized.
func (el *EventLoop) Start() error {
	if el.started.CompareAndSwap(false, true) {
		go el.run()
	}
	return el.ready.Wait()
}

// Post schedules data to be handled after delay.
func (el *EventLoop) Post(delay time.Duration, data any) (uint64, error) {
	key, ok := el.sched.ScheduleAfter(delay, data)
	if !ok {
		return 0, api.ErrEngineClosed
	}
	return key, nil
}

// Cancel disarms a pending event. Only the loop goroutine relies on the
// result being final; from other goroutines it may race a fire.
func (el *EventLoop) Cancel(key uint64) (any, bool) {
	return el.sched.Cancel(key)
}

// Pending reports armed events.
func (el *EventLoop) Pending() int {
	return el.sched.Pending()
}

// Reactor returns the worker's reactor. Valid after Start succeeded.
func (el *EventLoop) Reactor() api.Reactor {
	return el.reactor
}

// Stop asks the worker to drain and exit, then waits for it.
func (el *EventLoop) Stop() {
	if !el.started.Load() {
		if el.started.CompareAndSwap(false, true) {
			el.drain()
			el.ready.Open(api.ErrEngineClosed)
			close(el.done)
			return
		}
	}
	el.stopReq.Store(true)
	el.wake()
	<-el.done
}

func (el *EventLoop) wake() {
	select {
	case <-el.ready.Done():
	default:
		return
	}
	el.wakeMu.Lock()
	defer el.wakeMu.Unlock()
	if el.closed || el.reactor == nil {
		return
	}
	if err := el.reactor.Wake(); err != nil {
		el.logger.Error("worker wake failed", zap.Error(err))
	}
}

func (el *EventLoop) run() {
	defer close(el.done)
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if el.cfg.CPU >= 0 {
		if err := affinity.SetAffinity(el.cfg.CPU); err != nil {
			el.logger.Warn("worker cpu affinity", zap.Int("cpu", el.cfg.CPU), zap.Error(err))
		}
	}

	r, err := el.cfg.NewReactor(el.cfg.MaxEvents)
	if err != nil {
		el.drain()
		el.ready.Open(fmt.Errorf("event loop: %w", err))
		return
	}
	el.reactor = r
	el.ready.Open(nil)

	for !el.stopReq.Load() {
		if _, err := r.Poll(el.sched.NextTimeout(time.Now())); err != nil {
			el.logger.Error("reactor poll failed, stopping worker", zap.Error(err))
			break
		}
		for _, f := range el.sched.PopDue(time.Now()) {
			el.dispatch(Event{Key: f.Key, Data: f.Data})
		}
	}

	el.drain()
	el.wakeMu.Lock()
	el.closed = true
	err = r.Close()
	el.wakeMu.Unlock()
	if err != nil {
		el.logger.Warn("reactor close", zap.Error(err))
	}
}

func (el *EventLoop) dispatch(ev Event) {
	defer func() {
		if p := recover(); p != nil {
			el.logger.Error("event handler panicked", zap.Uint64("key", ev.Key), zap.Any("panic", p))
		}
	}()
	el.handler.HandleEvent(ev)
}

func (el *EventLoop) drain() {
	fired := el.sched.Close()
	unfired := make([]Event, len(fired))
	for i, f := range fired {
		unfired[i] = Event{Key: f.Key, Data: f.Data}
	}
	defer func() {
		if p := recover(); p != nil {
			el.logger.Error("event handler drain panicked", zap.Any("panic", p))
		}
	}()
	el.handler.Drain(unfired)
}
