package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ReloadFunc is invoked with the path that changed.
type ReloadFunc func(path string) error

// Watcher hot-reloads the policy and catalog documents when their files
// change on disk. Events are debounced because editors and config
// mounters fire several per save.
type Watcher struct {
	watcher  *fsnotify.Watcher
	targets  map[string]ReloadFunc // absolute path -> reload
	debounce time.Duration
	logger   *zap.Logger
}

func NewWatcher(logger *zap.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	return &Watcher{
		watcher:  fw,
		targets:  make(map[string]ReloadFunc),
		debounce: 250 * time.Millisecond,
		logger:   logger,
	}, nil
}

// Watch registers a file and its reload callback. The containing
// directory is watched so rename-style atomic writes are seen.
func (w *Watcher) Watch(path string, fn ReloadFunc) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.targets[abs] = fn
	return nil
}

// Run processes events until the context ends.
func (w *Watcher) Run(ctx context.Context) {
	pending := make(map[string]time.Time)
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()
	defer w.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			abs, err := filepath.Abs(event.Name)
			if err != nil {
				continue
			}
			if _, watched := w.targets[abs]; watched {
				pending[abs] = time.Now()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", zap.Error(err))
		case <-ticker.C:
			now := time.Now()
			for path, at := range pending {
				if now.Sub(at) < w.debounce {
					continue
				}
				delete(pending, path)
				if err := w.targets[path](path); err != nil {
					w.logger.Error("hot reload failed", zap.String("path", path), zap.Error(err))
				} else {
					w.logger.Info("hot reloaded", zap.String("path", path))
				}
			}
		}
	}
}
