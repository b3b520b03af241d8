package services

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultReloadDelay collapses the burst of events an editor save produces.
const DefaultReloadDelay = 500 * time.Millisecond

// ConfigWatcher calls reload when the configuration file changes.
type ConfigWatcher struct {
	watcher  *fsnotify.Watcher
	path     string
	delay    time.Duration
	reload   func() error
	stopChan chan struct{}
	stopOnce sync.Once

	mu    sync.Mutex
	timer *time.Timer
}

func NewConfigWatcher(path string, delay time.Duration, reload func() error) (*ConfigWatcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if delay <= 0 {
		delay = DefaultReloadDelay
	}

	return &ConfigWatcher{
		watcher:  watcher,
		path:     absPath,
		delay:    delay,
		reload:   reload,
		stopChan: make(chan struct{}),
	}, nil
}

// Start watches until Stop is called. The directory is watched rather than
// the file so that editors replacing the file by rename are noticed.
func (cw *ConfigWatcher) Start() error {
	if err := cw.watcher.Add(filepath.Dir(cw.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", cw.path, err)
	}

	slog.Info("Config-Watcher started", "file", cw.path)

	for {
		select {
		case <-cw.stopChan:
			slog.Info("Config-Watcher stopped")
			return nil

		case event, ok := <-cw.watcher.Events:
			if !ok {
				return nil
			}
			cw.handleEvent(event)

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("Config-Watcher error", "error", err)
		}
	}
}

func (cw *ConfigWatcher) Stop() {
	cw.stopOnce.Do(func() {
		close(cw.stopChan)

		cw.mu.Lock()
		if cw.timer != nil {
			cw.timer.Stop()
		}
		cw.mu.Unlock()

		if err := cw.watcher.Close(); err != nil {
			slog.Error("Error closing config watcher", "error", err)
		}
	})
}

func (cw *ConfigWatcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != cw.path {
		return
	}
	slog.Debug("Config file event received", "file", event.Name, "op", event.Op)

	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
		return
	}
	cw.scheduleReload()
}

func (cw *ConfigWatcher) scheduleReload() {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if cw.timer != nil {
		cw.timer.Stop()
	}
	cw.timer = time.AfterFunc(cw.delay, func() {
		select {
		case <-cw.stopChan:
			return
		default:
		}

		slog.Info("Configuration file changed - reloading", "file", cw.path)
		if err := cw.reload(); err != nil {
			slog.Error("Reload failed", "file", cw.path, "error", err)
		}
	})
}
