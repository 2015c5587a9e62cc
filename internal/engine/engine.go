// File: internal/engine/engine.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package engine owns every opened QoS node. All opens, closes, liveness
// pairings and expiry timers are handled on the event loop goroutine; other
// goroutines only submit events and wait on result slots.
package engine

import (
	"context"
	"fmt"
	"os"
	"slices"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-qos/api"
	"github.com/momentics/hioload-qos/control"
	"github.com/momentics/hioload-qos/internal/concurrency"
	"github.com/momentics/hioload-qos/internal/liveness"
	"github.com/momentics/hioload-qos/internal/qosnode"
)

// Config wires an Engine.
type Config struct {
	Opener     api.NodeOpener
	Logger     *zap.Logger
	Metrics    *control.Metrics
	OnRelease  func(api.Release) // runs on the loop goroutine, must not block
	CPU        int               // worker CPU, -1 to skip pinning
	MaxEvents  int
	NewReactor func(maxEvents int) (api.Reactor, error)
}

// resource is one open node. released guards the single close.
type resource struct {
	id       uint64
	fd       int
	path     string
	value    int32
	opened   time.Time
	released bool
	timerKey uint64
	pairing  *liveness.Pairing
}

type handleResult struct {
	token *os.File
	err   error
}

type openTimedEvent struct {
	path  string
	value int32
	delay time.Duration
}

type openHandleEvent struct {
	path    string
	value   int32
	timeout time.Duration
	slot    *concurrency.Slot[handleResult]
}

type expireEvent struct {
	res *resource
}

// Engine is the event handler behind the request facade.
type Engine struct {
	opener    api.NodeOpener
	logger    *zap.Logger
	metrics   *control.Metrics
	onRelease func(api.Release)
	loop      *concurrency.EventLoop

	// loop goroutine only
	monitor *liveness.Monitor
	live    map[uint64]*resource
	nextID  uint64

	active atomic.Int64
}

// New builds a stopped engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Opener == nil {
		return nil, fmt.Errorf("engine: opener is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	e := &Engine{
		opener:    cfg.Opener,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		onRelease: cfg.OnRelease,
		live:      make(map[uint64]*resource),
	}
	e.loop = concurrency.NewEventLoop(e, concurrency.LoopConfig{
		MaxEvents:  cfg.MaxEvents,
		CPU:        cfg.CPU,
		NewReactor: cfg.NewReactor,
		Logger:     cfg.Logger,
	})
	return e, nil
}

// Start runs the worker and returns once it can serve requests.
func (e *Engine) Start() error {
	return e.loop.Start()
}

// Stop releases every outstanding resource and stops the worker.
func (e *Engine) Stop() {
	e.loop.Stop()
}

// SubmitTimed queues a timed request and returns its event key.
func (e *Engine) SubmitTimed(path string, value int32, d time.Duration) (uint64, error) {
	e.metrics.Requested(control.KindTimed)
	return e.loop.Post(0, openTimedEvent{path: path, value: value, delay: d})
}

// SubmitHandle queues a handle request and waits for the token. A non-zero
// timeout also arms an expiry, whichever comes first releases the node.
func (e *Engine) SubmitHandle(ctx context.Context, path string, value int32, timeout time.Duration) (*os.File, error) {
	e.metrics.Requested(control.KindHandle)
	slot := concurrency.NewSlot[handleResult]()
	if _, err := e.loop.Post(0, openHandleEvent{path: path, value: value, timeout: timeout, slot: slot}); err != nil {
		return nil, err
	}
	res, err := slot.Wait(ctx)
	if err != nil {
		return nil, err
	}
	return res.token, res.err
}

// Pending reports armed events.
func (e *Engine) Pending() int {
	return e.loop.Pending()
}

// Active reports open nodes owned by the engine. A node leaves the count
// after its OnRelease hook returned.
func (e *Engine) Active() int {
	return int(e.active.Load())
}

// HandleEvent implements concurrency.EventHandler.
func (e *Engine) HandleEvent(ev concurrency.Event) {
	switch d := ev.Data.(type) {
	case openTimedEvent:
		e.openTimed(ev.Key, d)
	case openHandleEvent:
		e.openHandle(ev.Key, d)
	case expireEvent:
		if !e.release(d.res, api.ReasonExpired) {
			e.metrics.StaleFire()
			e.logger.Debug("expiry for released node ignored", zap.Uint64("key", ev.Key), zap.Uint64("id", d.res.id))
		}
	default:
		e.logger.Error("unknown event", zap.Uint64("key", ev.Key), zap.String("type", fmt.Sprintf("%T", ev.Data)))
	}
}

// Drain implements concurrency.EventHandler.
func (e *Engine) Drain(unfired []concurrency.Event) {
	for _, ev := range unfired {
		switch d := ev.Data.(type) {
		case openHandleEvent:
			d.slot.Put(handleResult{err: api.ErrEngineClosed})
		case openTimedEvent:
			e.logger.Debug("timed request dropped at shutdown", zap.String("path", d.path), zap.Uint64("key", ev.Key))
		case expireEvent:
			e.release(d.res, api.ReasonShutdown)
		}
	}
	ids := make([]uint64, 0, len(e.live))
	for id := range e.live {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		e.release(e.live[id], api.ReasonShutdown)
	}
}

func (e *Engine) openTimed(key uint64, ev openTimedEvent) {
	fd, err := e.opener.Open(ev.path, ev.value)
	if err != nil {
		e.metrics.OpenFailed(control.KindTimed)
		e.logger.Warn("timed request failed",
			zap.Uint64("key", key), zap.String("path", ev.path), zap.Int32("value", ev.value),
			zap.String("code", api.CodeOf(err).String()), zap.Error(err))
		return
	}
	res := e.track(fd, ev.path, ev.value)
	e.arm(res, ev.delay)
	e.logger.Debug("timed request granted",
		zap.Uint64("id", res.id), zap.String("path", ev.path), zap.Int("fd", fd), zap.Duration("delay", ev.delay))
}

func (e *Engine) openHandle(key uint64, ev openHandleEvent) {
	fd, err := e.opener.Open(ev.path, ev.value)
	if err != nil {
		e.metrics.OpenFailed(control.KindHandle)
		e.logger.Debug("handle request failed", zap.Uint64("key", key), zap.String("path", ev.path),
			zap.String("code", api.CodeOf(err).String()), zap.Error(err))
		ev.slot.Put(handleResult{err: err})
		return
	}
	res := e.track(fd, ev.path, ev.value)

	pairing, token, err := e.liveness().Attach(func() { e.release(res, api.ReasonLeaseClosed) })
	if err != nil {
		e.release(res, api.ReasonAttachFailed)
		ev.slot.Put(handleResult{err: fmt.Errorf("%s: %w", ev.path, err)})
		return
	}
	res.pairing = pairing
	if ev.timeout > 0 {
		e.arm(res, ev.timeout)
	}
	if !ev.slot.Put(handleResult{token: token}) {
		token.Close()
		e.release(res, api.ReasonAbandoned)
		return
	}
	e.logger.Debug("lease granted",
		zap.Uint64("id", res.id), zap.String("path", ev.path), zap.Int("fd", fd), zap.Duration("timeout", ev.timeout))
}

func (e *Engine) liveness() *liveness.Monitor {
	if e.monitor == nil {
		e.monitor = liveness.NewMonitor(e.loop.Reactor(), e.logger)
	}
	return e.monitor
}

func (e *Engine) track(fd int, path string, value int32) *resource {
	e.nextID++
	res := &resource{id: e.nextID, fd: fd, path: path, value: value, opened: time.Now()}
	e.live[res.id] = res
	e.active.Add(1)
	e.metrics.Acquired()
	return res
}

func (e *Engine) arm(res *resource, d time.Duration) {
	key, err := e.loop.Post(d, expireEvent{res: res})
	if err != nil {
		e.release(res, api.ReasonShutdown)
		return
	}
	res.timerKey = key
}

// release closes res once. Later calls report false.
func (e *Engine) release(res *resource, reason api.ReleaseReason) bool {
	if res.released {
		return false
	}
	res.released = true
	if res.timerKey != 0 {
		e.loop.Cancel(res.timerKey)
	}
	if res.pairing != nil {
		res.pairing.Close()
	}
	if err := qosnode.Close(res.fd); err != nil {
		e.logger.Warn("close qos node", zap.String("path", res.path), zap.Int("fd", res.fd), zap.Error(err))
	}
	delete(e.live, res.id)

	rel := api.Release{
		ID:     res.id,
		Path:   res.path,
		Value:  res.value,
		FD:     res.fd,
		Reason: reason,
		Held:   time.Since(res.opened),
	}
	e.metrics.Released(rel)
	e.logger.Debug("qos node released",
		zap.Uint64("id", res.id), zap.String("path", res.path), zap.String("reason", string(reason)))
	defer e.active.Add(-1)
	if e.onRelease != nil {
		e.onRelease(rel)
	}
	return true
}
