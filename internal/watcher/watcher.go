// Package watcher reloads the configuration file when it changes on disk.
package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/memoryllm/memproxy/internal/config"
	log "github.com/sirupsen/logrus"
)

// DefaultDebounce coalesces the burst of events editors emit for a single save.
const DefaultDebounce = 250 * time.Millisecond

// LoadFunc produces a fresh configuration snapshot.
type LoadFunc func(path string) (*config.Config, error)

// Watcher reloads a config file and hands each new snapshot to a callback.
type Watcher struct {
	path     string
	load     LoadFunc
	apply    func(*config.Config)
	debounce time.Duration
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLoader overrides how the file is turned into a Config.
func WithLoader(load LoadFunc) Option {
	return func(w *Watcher) {
		if load != nil {
			w.load = load
		}
	}
}

// New creates a watcher for path. apply is called with every successfully
// reloaded configuration.
func New(path string, apply func(*config.Config), opts ...Option) *Watcher {
	w := &Watcher{
		path:     path,
		apply:    apply,
		debounce: DefaultDebounce,
		load:     config.LoadConfig,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run watches until ctx is cancelled. The parent directory is watched so that
// atomic rename-on-save keeps working.
func (w *Watcher) Run(ctx context.Context) error {
	if w.path == "" || w.apply == nil {
		<-ctx.Done()
		return nil
	}
	abs, err := filepath.Abs(w.path)
	if err != nil {
		return fmt.Errorf("watcher: resolve %s: %w", w.path, err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watcher: %w", err)
	}
	defer func() { _ = fw.Close() }()

	if err = fw.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watcher: watch %s: %w", filepath.Dir(abs), err)
	}
	log.Debugf("watching %s for changes", abs)

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			timer.Reset(w.debounce)
		case errWatch, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			log.WithError(errWatch).Warn("config watcher error")
		case <-timer.C:
			w.reload(abs)
		}
	}
}

func (w *Watcher) reload(path string) {
	cfg, err := w.load(path)
	if err != nil {
		log.WithError(err).Warn("config reload failed, keeping current configuration")
		return
	}
	log.Infof("config file %s changed, reloading", path)
	w.apply(cfg)
}
