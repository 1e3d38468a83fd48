package catalog

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Logger defines the logging interface used by the Store.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// reloadDebounce coalesces bursts of file events (editors write several
// times per save) into one reload.
const reloadDebounce = 250 * time.Millisecond

// Store holds the current catalog and swaps it atomically on reload.
//
// Readers call Current and never block; a reload that fails validation
// leaves the previous catalog in place, so the system is never left without
// a catalog once the initial load succeeded.
type Store struct {
	path    string
	current atomic.Pointer[Catalog]
	logger  Logger
}

// NewStore creates a store for the catalog file at path. The initial load
// must succeed; a broken file at startup is a configuration error. A nil
// logger keeps the store silent.
func NewStore(path string, logger Logger) (*Store, error) {
	if logger == nil {
		logger = noopLogger{}
	}
	s := &Store{
		path:   path,
		logger: logger,
	}

	c, err := Load(path)
	if err != nil {
		return nil, fmt.Errorf("initial catalog load: %w", err)
	}
	s.current.Store(c)

	return s, nil
}

// Current returns the catalog in effect. Never nil after NewStore succeeds.
func (s *Store) Current() *Catalog {
	return s.current.Load()
}

// Reload re-reads the catalog file and swaps it in wholesale.
// On failure the previous catalog stays in effect and the error is returned
// for the operator surface.
func (s *Store) Reload() error {
	c, err := Load(s.path)
	if err != nil {
		s.logger.Error("catalog reload failed, keeping previous catalog",
			"path", s.path, "error", err)
		return err
	}

	s.current.Store(c)
	s.logger.Info("catalog reloaded", "path", s.path, "entries", c.Len())
	return nil
}

// Watch monitors the catalog file for changes and reloads on write.
// It blocks until the context is cancelled. Watching the parent directory
// (not the file itself) survives editors that replace the file on save.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	s.logger.Info("watching catalog file", "path", s.path)

	var debounce *time.Timer
	var debounceC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(s.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(reloadDebounce)
				debounceC = debounce.C
			} else {
				debounce.Reset(reloadDebounce)
			}

		case <-debounceC:
			debounce = nil
			debounceC = nil
			// Reload errors keep the old catalog; nothing further to do here.
			_ = s.Reload()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("catalog watcher error", "error", err)
		}
	}
}
