package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/noxd/nox/internal/logging"
)

// Watcher watches a configuration file for changes and reloads it.
type Watcher struct {
	watcher    *fsnotify.Watcher
	loader     *Loader
	configPath string
	callbacks  []func(*Config)
	mu         sync.RWMutex
	debounce   time.Duration
	lastConfig *Config
}

// NewWatcher creates a new configuration watcher. The config file must be
// loadable at creation time.
func NewWatcher(configPath string) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		watcher:    fsWatcher,
		loader:     NewLoader(),
		configPath: configPath,
		debounce:   500 * time.Millisecond,
	}

	cfg, err := w.loader.Load(configPath)
	if err != nil {
		fsWatcher.Close()
		return nil, err
	}
	w.lastConfig = cfg

	return w, nil
}

// Config returns the most recently loaded configuration.
func (w *Watcher) Config() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastConfig
}

// OnChange registers a callback for config changes.
func (w *Watcher) OnChange(callback func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Start begins watching for configuration changes.
func (w *Watcher) Start() error {
	// Watch the directory: editors replace files rather than write in place
	dir := filepath.Dir(w.configPath)
	if err := w.watcher.Add(dir); err != nil {
		return err
	}

	go w.watch()
	return nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

// Reload re-reads the config file immediately and notifies callbacks.
func (w *Watcher) Reload() error {
	cfg, err := w.loader.Load(w.configPath)
	if err != nil {
		return err
	}
	w.apply(cfg)
	return nil
}

func (w *Watcher) watch() {
	var debounceTimer *time.Timer

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(w.configPath) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(w.debounce, func() {
				cfg, err := w.loader.Load(w.configPath)
				if err != nil {
					logging.Error("failed to reload configuration",
						zap.String("path", w.configPath), zap.Error(err))
					return
				}
				logging.Info("configuration reloaded", zap.String("path", w.configPath))
				w.apply(cfg)
			})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Warn("config watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) apply(cfg *Config) {
	w.mu.Lock()
	w.lastConfig = cfg
	callbacks := make([]func(*Config), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	for _, cb := range callbacks {
		cb(cfg)
	}
}
