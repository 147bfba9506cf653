package profile

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDelay = 250 * time.Millisecond

// Watch reloads the table whenever the user profile file changes, until
// ctx is done. Editors write in several steps, so reloads are debounced.
// A file that fails to parse leaves the current table in place.
func (t *Table) Watch(ctx context.Context, path string, logger *slog.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("profile watcher: %w", err)
	}
	defer w.Close()

	dir, name := filepath.Dir(path), filepath.Base(path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	reload := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(reloadDelay, func() {
			profiles, err := Load(path)
			if err != nil {
				logger.Warn("profile reload failed", "path", path, "err", err)
				return
			}
			t.Replace(profiles)
			logger.Info("profiles reloaded", "path", path, "count", len(profiles))
		})
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	logger.Debug("watching profiles", "path", path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !strings.EqualFold(filepath.Base(ev.Name), name) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				reload()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("profile watch error", "err", err)
		}
	}
}
