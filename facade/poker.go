// File: facade/poker.go
// Unified facade of the QoS request engine.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Poker owns one engine instance: a worker thread, its reactor, scheduler and
// liveness monitor. Callers grant QoS requests as timed boosts, as leases
// tied to a token file, or as raw descriptors they manage themselves.

package facade

import (
	"context"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-qos/api"
	"github.com/momentics/hioload-qos/control"
	"github.com/momentics/hioload-qos/internal/engine"
	"github.com/momentics/hioload-qos/internal/qosnode"
	"github.com/momentics/hioload-qos/reactor"
)

// Config holds parameters immutable per engine instance.
type Config struct {
	Logger      *zap.Logger       // Structured logger, nil means no logging
	Opener      api.NodeOpener    // Node opener, nil means qosnode.Opener
	CPUAffinity int               // Pin the worker thread to this CPU, -1 to skip
	MaxEvents   int               // Reactor events handled per poll
	Metrics     *control.Metrics  // Prometheus collectors, may be nil
	OnRelease   func(api.Release) // Called on the worker after each release, must not block
}

// DefaultConfig returns defaults suitable for a single daemon.
func DefaultConfig() *Config {
	return &Config{
		Logger:      zap.NewNop(),
		Opener:      qosnode.Opener{},
		CPUAffinity: -1,
		MaxEvents:   reactor.DefaultMaxEvents,
	}
}

// Poker is the main facade type.
type Poker struct {
	eng     *engine.Engine
	opener  api.NodeOpener
	logger  *zap.Logger
	metrics *control.Metrics

	shutdown sync.Once
}

var _ api.Poker = (*Poker)(nil)

// New starts the worker and returns once it accepts requests.
func New(cfg *Config) (*Poker, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := *cfg
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Opener == nil {
		c.Opener = qosnode.Opener{}
	}
	if c.MaxEvents <= 0 {
		c.MaxEvents = reactor.DefaultMaxEvents
	}

	eng, err := engine.New(engine.Config{
		Opener:    c.Opener,
		Logger:    c.Logger,
		Metrics:   c.Metrics,
		OnRelease: c.OnRelease,
		CPU:       c.CPUAffinity,
		MaxEvents: c.MaxEvents,
	})
	if err != nil {
		return nil, err
	}
	if err := eng.Start(); err != nil {
		eng.Stop()
		return nil, err
	}
	return &Poker{
		eng:     eng,
		opener:  c.Opener,
		logger:  c.Logger,
		metrics: c.Metrics,
	}, nil
}

// RequestTimed opens path with value on the worker and closes it after d.
func (p *Poker) RequestTimed(path string, value int32, d time.Duration) {
	if _, err := p.eng.SubmitTimed(path, value, d); err != nil {
		p.logger.Warn("timed request rejected",
			zap.String("path", path), zap.Int32("value", value), zap.Duration("delay", d),
			zap.String("code", api.CodeOf(err).String()), zap.Error(err))
	}
}

// RequestHandle returns a lease token for path. The request holds until every
// copy of the token is closed.
func (p *Poker) RequestHandle(path string, value int32) (*os.File, error) {
	return p.eng.SubmitHandle(context.Background(), path, value, 0)
}

// RequestHandleContext is RequestHandle bounded by ctx. A lease granted after
// ctx is done is released by the worker.
func (p *Poker) RequestHandleContext(ctx context.Context, path string, value int32) (*os.File, error) {
	return p.eng.SubmitHandle(ctx, path, value, 0)
}

// RequestHandleTimeout returns a lease token that is also released after d.
func (p *Poker) RequestHandleTimeout(path string, value int32, d time.Duration) (*os.File, error) {
	return p.eng.SubmitHandle(context.Background(), path, value, d)
}

// RequestRaw opens path on the calling goroutine. It is not ordered with
// requests running on the worker.
func (p *Poker) RequestRaw(path string, value int32) (*os.File, error) {
	p.metrics.Requested(control.KindRaw)
	fd, err := p.opener.Open(path, value)
	if err != nil {
		p.metrics.OpenFailed(control.KindRaw)
		return nil, err
	}
	return os.NewFile(uintptr(fd), path), nil
}

// Pending reports armed scheduler events.
func (p *Poker) Pending() int {
	return p.eng.Pending()
}

// Active reports nodes currently held by the engine.
func (p *Poker) Active() int {
	return p.eng.Active()
}

// RegisterProbes exposes engine state through dp.
func (p *Poker) RegisterProbes(dp *control.DebugProbes) {
	dp.RegisterProbe("engine.pending_events", func() any { return p.Pending() })
	dp.RegisterProbe("engine.active_resources", func() any { return p.Active() })
}

// Shutdown releases every outstanding request and stops the worker.
// Tokens already handed out stay valid files but no longer hold anything.
func (p *Poker) Shutdown() error {
	p.shutdown.Do(p.eng.Stop)
	return nil
}
