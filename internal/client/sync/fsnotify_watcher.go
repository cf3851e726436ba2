package sync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// FSNotifyWatcher is the fsnotify based EventSource. fsnotify watches single
// directories, so every directory under the root gets its own watch and new
// directories are added as they appear.
type FSNotifyWatcher struct {
	watcherBase
	watcher *fsnotify.Watcher
}

var _ EventSource = (*FSNotifyWatcher)(nil)

func NewFSNotifyWatcher(watchDir string, log *slog.Logger) *FSNotifyWatcher {
	w := &FSNotifyWatcher{}
	w.setup(watchDir, log)
	return w
}

func (w *FSNotifyWatcher) Start(ctx context.Context) error {
	w.log.Info("fsnotify watcher start", "dir", w.root, "debounce", w.timeout)
	w.init()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify: %w", err)
	}
	w.watcher = watcher

	if err := w.addRecursive(w.root); err != nil {
		watcher.Close()
		return err
	}

	w.wg.Add(1)
	go w.run(ctx)
	return nil
}

func (w *FSNotifyWatcher) Stop() {
	w.log.Info("fsnotify watcher stopping")
	w.shutdown(func() {
		if w.watcher != nil {
			w.watcher.Close()
		}
	})
	w.log.Info("fsnotify watcher stopped")
}

func (w *FSNotifyWatcher) run(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error("fsnotify", "error", err)
		}
	}
}

func (w *FSNotifyWatcher) handleEvent(event fsnotify.Event) {
	path := filepath.Clean(event.Name)
	if w.filtered(path) {
		return
	}

	var typ EventType
	switch {
	case event.Has(fsnotify.Create):
		typ = EventCreated
	case event.Has(fsnotify.Write):
		typ = EventModified
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		// the new name of a rename arrives as its own Create
		typ = EventDeleted
		if err := w.watcher.Remove(path); err != nil && !errors.Is(err, fsnotify.ErrNonExistentWatch) {
			w.log.Debug("remove watch", "path", path, "error", err)
		}
	default:
		return
	}

	ev, ok := w.classify(typ, path)
	if !ok {
		return
	}
	if ev.Type == EventCreated && ev.IsDir {
		if err := w.addRecursive(path); err != nil {
			w.log.Error("watch new directory", "path", path, "error", err)
		}
	}
	w.debounce.push(ev)
}

func (w *FSNotifyWatcher) addRecursive(dir string) error {
	w.log.Debug("watcher add", "dir", dir)
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return fmt.Errorf("walk dir: %w", err)
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && w.filter != nil && w.filter(path) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("fsnotify add watch: %w", err)
		}
		return nil
	})
}
