// File: internal/daemon/daemon.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package daemon keeps the QoS requests named in the configuration in force.
// Holds are leases kept open until the configuration drops or changes them;
// boosts are timed requests issued every time a configuration is applied.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/momentics/hioload-qos/api"
	"github.com/momentics/hioload-qos/control"
)

type heldLease struct {
	hold  control.Hold
	token *os.File
}

// Daemon reconciles configured holds against a Poker.
type Daemon struct {
	poker  api.Poker
	logger *zap.Logger

	mu    sync.Mutex
	holds map[string]heldLease
}

// New binds a daemon to p.
func New(p api.Poker, logger *zap.Logger) *Daemon {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Daemon{poker: p, logger: logger, holds: make(map[string]heldLease)}
}

// Apply makes cfg the active configuration. Holds that disappeared or changed
// are released, new ones are requested, and every boost is fired once. A hold
// that cannot be opened is reported but does not stop the others.
func (d *Daemon) Apply(cfg control.Config) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	wanted := make(map[string]control.Hold, len(cfg.Holds))
	for _, h := range cfg.Holds {
		wanted[h.Name] = h
	}
	for name, held := range d.holds {
		if h, ok := wanted[name]; ok && h == held.hold {
			continue
		}
		d.drop(name, held)
	}

	var errs []error
	for _, h := range cfg.Holds {
		if _, ok := d.holds[h.Name]; ok {
			continue
		}
		token, err := d.poker.RequestHandle(h.Path, h.Value)
		if err != nil {
			errs = append(errs, fmt.Errorf("hold %q: %w", h.Name, err))
			continue
		}
		d.holds[h.Name] = heldLease{hold: h, token: token}
		d.logger.Info("hold acquired", zap.String("name", h.Name), zap.String("path", h.Path), zap.Int32("value", h.Value))
	}

	for _, b := range cfg.Boosts {
		d.poker.RequestTimed(b.Path, b.Value, b.Duration)
		d.logger.Info("boost requested", zap.String("name", b.Name), zap.String("path", b.Path),
			zap.Int32("value", b.Value), zap.Duration("duration", b.Duration))
	}
	return errors.Join(errs...)
}

// Holds lists the names of the holds currently in force.
func (d *Daemon) Holds() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, 0, len(d.holds))
	for name := range d.holds {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Close releases every hold.
func (d *Daemon) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for name, held := range d.holds {
		d.drop(name, held)
	}
}

func (d *Daemon) drop(name string, held heldLease) {
	if err := held.token.Close(); err != nil {
		d.logger.Warn("hold release", zap.String("name", name), zap.Error(err))
	}
	delete(d.holds, name)
	d.logger.Info("hold released", zap.String("name", name), zap.String("path", held.hold.Path))
}
