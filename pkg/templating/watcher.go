package templating

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ErrWatchStore is returned by Watch when templates come from a store.
var ErrWatchStore = errors.New("cannot watch a store-backed template manager")

// Watch starts watching the template directory and refreshes the manager
// once changes settle. It returns after the watcher is running; watching stops
// when ctx is cancelled.
func (tm *TemplateManager) Watch(ctx context.Context) error {
	if tm.store != nil {
		return ErrWatchStore
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	root := tm.GetTemplateDir()
	if err := os.MkdirAll(root, 0755); err != nil {
		_ = fsWatcher.Close()
		return err
	}
	if err := watchDirRecursive(fsWatcher, root); err != nil {
		_ = fsWatcher.Close()
		return err
	}

	debounce := time.Duration(tm.GetConfig().DebounceMs) * time.Millisecond
	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}

	tm.logger.Info("Watching templates", "dir", root)
	go tm.watchLoop(ctx, fsWatcher, debounce)
	return nil
}

// watchDirRecursive adds a directory and its subdirectories to the watch list
func watchDirRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != root {
				return filepath.SkipDir
			}
			return w.Add(path)
		}
		return nil
	})
}

// watchLoop processes file system events. A refresh runs once no event has
// arrived for the debounce duration.
func (tm *TemplateManager) watchLoop(ctx context.Context, w *fsnotify.Watcher, debounce time.Duration) {
	defer func(w *fsnotify.Watcher) {
		_ = w.Close()
	}(w)

	timer := time.NewTimer(debounce)
	timer.Stop()
	pending := false

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return

		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}

			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := watchDirRecursive(w, event.Name); err != nil {
						tm.logger.Warn("failed to watch new directory", "dir", event.Name, "error", err)
					}
				}
			}

			tm.logger.Debug("Template change", "path", event.Name, "op", event.Op.String())
			if pending && !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(debounce)
			pending = true

		case <-timer.C:
			pending = false
			if err := tm.Refresh(); err != nil {
				tm.logger.Error("failed to refresh templates", "error", err)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			tm.logger.Error("watcher error", "error", err)
		}
	}
}
