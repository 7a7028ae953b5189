package cache

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/exrcache/exrcache/pkg/utils"
)

// Watcher invalidates pool entries when their file changes on disk.
type Watcher struct {
	pool      *Pool
	fsWatcher *fsnotify.Watcher
	logger    *utils.StructuredLogger

	mu    sync.Mutex
	paths map[string]bool
	dirs  map[string]bool
}

// NewWatcher creates a watcher feeding pool.
func NewWatcher(pool *Pool, logger *utils.StructuredLogger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = utils.NewDiscardLogger()
	}
	return &Watcher{
		pool:      pool,
		fsWatcher: fsw,
		logger:    logger.WithComponent("watcher"),
		paths:     make(map[string]bool),
		dirs:      make(map[string]bool),
	}, nil
}

// Track starts watching path. The parent directory is watched so that
// files replaced by rename are still seen.
func (w *Watcher) Track(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	dir := filepath.Dir(abs)
	if !w.dirs[dir] {
		if err := w.fsWatcher.Add(dir); err != nil {
			return err
		}
		w.dirs[dir] = true
	}
	w.paths[abs] = true
	return nil
}

func (w *Watcher) tracked(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.paths[path]
}

// Run handles events until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) error {
	const changed = fsnotify.Write | fsnotify.Create | fsnotify.Remove | fsnotify.Rename

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}
			if event.Op&changed == 0 {
				continue
			}
			path := filepath.Clean(event.Name)
			if !w.tracked(path) {
				continue
			}
			if n := w.pool.Invalidate(path); n > 0 {
				w.logger.Info("file changed, cache invalidated", map[string]interface{}{
					"path": path, "op": event.Op.String(), "entries": n,
				})
			}
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", map[string]interface{}{"error": err.Error()})
		}
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.fsWatcher.Close()
}
