package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"manas/internal/logging"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches .manas/config.json for changes and delivers reloaded
// configs to a callback. Rapid saves are debounced.
type Watcher struct {
	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	workspace   string
	onReload    func(*Config)
	lastEvent   time.Time
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
}

// NewWatcher creates a config watcher for a workspace. onReload is called
// with each successfully reloaded config; load failures are logged and
// skipped.
func NewWatcher(workspace string, onReload func(*Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher:     fw,
		workspace:   workspace,
		onReload:    onReload,
		debounceDur: 500 * time.Millisecond,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start begins watching. Non-blocking; the watcher runs in a goroutine
// until Stop or context cancellation.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	dir := filepath.Join(w.workspace, ".manas")
	if err := w.watcher.Add(dir); err != nil {
		logging.Get(logging.CategoryConfig).Warn("config watcher: cannot watch %s: %v", dir, err)
		return err
	}

	go w.loop(ctx)
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.doneCh)
	log := logging.Get(logging.CategoryConfig)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != "config.json" {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			w.mu.Lock()
			if time.Since(w.lastEvent) < w.debounceDur {
				w.mu.Unlock()
				continue
			}
			w.lastEvent = time.Now()
			w.mu.Unlock()

			cfg, err := Load(w.workspace)
			if err != nil {
				log.Warn("config reload skipped: %v", err)
				continue
			}
			log.Info("config reloaded from %s", ev.Name)
			if w.onReload != nil {
				w.onReload(cfg)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn("config watcher error: %v", err)
		}
	}
}

// Stop halts watching and releases the underlying watcher.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	w.watcher.Close()
	<-w.doneCh
}
