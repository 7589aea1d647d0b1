package scenario

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 250 * time.Millisecond

// Registry holds the active catalog and swaps it atomically on reload.
type Registry struct {
	path    string
	current atomic.Pointer[Catalog]
	logger  *slog.Logger
}

// NewRegistry loads the catalog at path (built-in when empty).
func NewRegistry(path string, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	r := &Registry{path: path, logger: logger}
	r.current.Store(c)
	return r, nil
}

// NewStaticRegistry wraps a fixed catalog.
func NewStaticRegistry(c *Catalog) *Registry {
	r := &Registry{logger: slog.Default()}
	r.current.Store(c)
	return r
}

// Catalog returns the active catalog.
func (r *Registry) Catalog() *Catalog {
	return r.current.Load()
}

// Lookup resolves id against the active catalog.
func (r *Registry) Lookup(id string) *Scenario {
	return r.current.Load().Lookup(id)
}

// Reload re-reads the catalog file. On error the previous catalog stays active.
func (r *Registry) Reload() error {
	c, err := Load(r.path)
	if err != nil {
		return err
	}
	r.current.Store(c)
	r.logger.Info("Scenario catalog reloaded", "path", r.path, "scenarios", len(c.IDs()))
	return nil
}

// Watch reloads the catalog whenever its file changes until ctx is done.
// The parent directory is watched so editors that replace the file by
// rename are picked up too.
func (r *Registry) Watch(ctx context.Context) error {
	if r.path == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(r.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	r.logger.Info("Watching scenario catalog", "path", r.path)

	target := filepath.Clean(r.path)
	var pending bool
	ticker := time.NewTicker(reloadDebounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				pending = true
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("Scenario watcher error", "error", err)

		case <-ticker.C:
			if !pending {
				continue
			}
			pending = false
			if err := r.Reload(); err != nil {
				r.logger.Error("Scenario catalog reload failed, keeping previous catalog", "path", r.path, "error", err)
			}
		}
	}
}
