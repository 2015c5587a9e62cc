// control/hotreload.go
// Author: momentics <momentics@gmail.com>
//
// Watches the config file and dispatches reload hooks on change.
// TriggerSync invokes the hooks directly for deterministic tests.

package control

import (
	"fmt"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// reloadDebounce coalesces the burst of events an editor save produces.
const reloadDebounce = 100 * time.Millisecond

// Watcher runs reload hooks when a file changes.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	logger  *zap.Logger

	mu    sync.Mutex
	hooks []func()

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// NewWatcher watches path. The parent directory is watched so that
// atomic-rename saves are seen.
func NewWatcher(path string, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("watch %q: %w", path, err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch config directory %q: %w", filepath.Dir(abs), err)
	}
	w := &Watcher{
		path:    abs,
		watcher: fw,
		logger:  logger,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// RegisterReloadHook adds a new component reload listener.
func (w *Watcher) RegisterReloadHook(fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.hooks = append(w.hooks, fn)
}

// TriggerSync invokes all reload hooks synchronously (for test determinism).
func (w *Watcher) TriggerSync() {
	w.mu.Lock()
	hooks := slices.Clone(w.hooks)
	w.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

// Close stops watching and waits for the dispatch goroutine.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.stop)
		err = w.watcher.Close()
		<-w.done
	})
	return err
}

func (w *Watcher) run() {
	defer close(w.done)
	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-w.stop:
			if timer != nil {
				timer.Stop()
			}
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			fire = timer.C
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher", zap.Error(err))
		case <-fire:
			fire = nil
			w.logger.Info("config changed", zap.String("path", w.path))
			w.TriggerSync()
		}
	}
}
