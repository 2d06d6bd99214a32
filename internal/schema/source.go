package schema

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce collapses the burst of events editors emit on save.
const reloadDebounce = 500 * time.Millisecond

// Source owns the current schema and rebuilds it from the catalog file.
// Readers always see a complete schema; a failed rebuild keeps the
// previous one in place.
type Source struct {
	path    string
	logger  *slog.Logger
	current atomic.Pointer[Schema]

	// OnReload, when set before Watch starts, is called after every
	// successful rebuild triggered by a file change.
	OnReload func(*Schema)
}

// NewSource loads the catalog at path. The initial load must succeed.
func NewSource(path string, logger *slog.Logger) (*Source, error) {
	if logger == nil {
		logger = slog.Default()
	}
	src := &Source{
		path:   path,
		logger: logger.With("component", "schema"),
	}
	if err := src.Reload(); err != nil {
		return nil, err
	}
	return src, nil
}

// Static wraps an already-built schema. Reload and Watch are no-ops.
func Static(s *Schema) *Source {
	src := &Source{logger: slog.Default()}
	src.current.Store(s)
	return src
}

// Schema returns the current schema.
func (src *Source) Schema() *Schema {
	return src.current.Load()
}

// Reload rebuilds the schema from disk.
func (src *Source) Reload() error {
	if src.path == "" {
		return nil
	}
	s, err := LoadFile(src.path)
	if err != nil {
		return fmt.Errorf("load schema: %w", err)
	}
	src.current.Store(s)
	src.logger.Info("schema loaded", "path", src.path, "fields", len(s.fields), "groups", len(s.groups))
	return nil
}

// Watch reloads the schema whenever the catalog file changes, until ctx
// is cancelled. The parent directory is watched so that editors which
// replace the file by rename are still seen.
func (src *Source) Watch(ctx context.Context) error {
	if src.path == "" {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(src.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(src.path), err)
	}
	src.logger.Info("watching catalog", "path", src.path)

	target := filepath.Clean(src.path)
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			fire = timer.C

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			src.logger.Warn("catalog watcher error", "error", err)

		case <-fire:
			fire = nil
			if err := src.Reload(); err != nil {
				src.logger.Error("catalog reload failed, keeping previous schema", "error", err)
				continue
			}
			if src.OnReload != nil {
				src.OnReload(src.Schema())
			}
		}
	}
}
