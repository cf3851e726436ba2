package sync

import (
	"cmp"
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rjeczalik/notify"
)

const (
	eventBufferSize        = 64
	defaultDebounceTimeout = 50 * time.Millisecond
)

// debouncer holds each path's latest event until the path has been quiet for
// timeout, merging bursts with coalesce. A flush emits pending events of the
// path's ancestors first, so a directory is always seen before its contents.
type debouncer struct {
	mu       sync.Mutex
	emitMu   sync.Mutex
	pending  map[string]Event
	timers   map[string]*time.Timer
	timeout  time.Duration
	emit     func(Event)
	inflight sync.WaitGroup
}

func newDebouncer(timeout time.Duration, emit func(Event)) *debouncer {
	return &debouncer{
		pending: make(map[string]Event),
		timers:  make(map[string]*time.Timer),
		timeout: timeout,
		emit:    emit,
	}
}

func (d *debouncer) push(ev Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopTimer(ev.Path)
	if prev, ok := d.pending[ev.Path]; ok {
		ev = coalesce(prev, ev)
	}
	d.pending[ev.Path] = ev

	path := ev.Path
	d.inflight.Add(1)
	d.timers[path] = time.AfterFunc(d.timeout, func() {
		defer d.inflight.Done()
		d.flush(path)
	})
}

// stopTimer must be called with mu held.
func (d *debouncer) stopTimer(path string) {
	if timer, ok := d.timers[path]; ok {
		if timer.Stop() {
			d.inflight.Done()
		}
		delete(d.timers, path)
	}
}

func (d *debouncer) flush(path string) {
	d.emitMu.Lock()
	defer d.emitMu.Unlock()

	d.mu.Lock()
	ev, ok := d.pending[path]
	if !ok {
		d.mu.Unlock()
		return
	}
	var batch []Event
	for p, pev := range d.pending {
		if isAncestor(p, path) {
			batch = append(batch, pev)
		}
	}
	batch = append(batch, ev)
	for _, e := range batch {
		delete(d.pending, e.Path)
		d.stopTimer(e.Path)
	}
	d.mu.Unlock()

	sortParentsFirst(batch)
	for _, e := range batch {
		d.emit(e)
	}
}

// drain stops every timer, emits what is still pending and waits for flushes
// already running.
func (d *debouncer) drain() {
	d.emitMu.Lock()
	d.mu.Lock()
	var pending []Event
	for path, timer := range d.timers {
		if timer.Stop() {
			d.inflight.Done()
		}
		if ev, ok := d.pending[path]; ok {
			pending = append(pending, ev)
		}
	}
	d.pending = make(map[string]Event)
	d.timers = make(map[string]*time.Timer)
	d.mu.Unlock()

	sortParentsFirst(pending)
	for _, ev := range pending {
		d.emit(ev)
	}
	d.emitMu.Unlock()
	d.inflight.Wait()
}

func isAncestor(dir, path string) bool {
	return strings.HasPrefix(path, dir+string(filepath.Separator))
}

func sortParentsFirst(events []Event) {
	sep := string(filepath.Separator)
	slices.SortFunc(events, func(a, b Event) int {
		if c := cmp.Compare(strings.Count(a.Path, sep), strings.Count(b.Path, sep)); c != 0 {
			return c
		}
		return cmp.Compare(a.Path, b.Path)
	})
}

// watcherBase is the output side shared by the watcher implementations.
type watcherBase struct {
	root     string
	events   chan Event
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	debounce *debouncer
	timeout  time.Duration
	filter   FilterCallback
	knownDir DirCallback
	log      *slog.Logger
}

func (w *watcherBase) setup(root string, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	w.root = filepath.Clean(root)
	w.done = make(chan struct{})
	w.timeout = defaultDebounceTimeout
	w.log = log.With("component", "watcher")
}

// SetDebounceTimeout sets how long a path must be quiet before its event is
// delivered. Call before Start.
func (w *watcherBase) SetDebounceTimeout(timeout time.Duration) {
	if timeout > 0 {
		w.timeout = timeout
	}
}

// FilterPaths drops raw events for which callback returns true.
func (w *watcherBase) FilterPaths(callback FilterCallback) {
	w.filter = callback
}

// KnownDirs tells the watcher whether a deleted path was a directory.
func (w *watcherBase) KnownDirs(callback DirCallback) {
	w.knownDir = callback
}

func (w *watcherBase) Events() <-chan Event {
	return w.events
}

func (w *watcherBase) init() {
	w.events = make(chan Event, eventBufferSize)
	w.debounce = newDebouncer(w.timeout, w.send)
}

func (w *watcherBase) filtered(path string) bool {
	if path == w.root {
		return true
	}
	return w.filter != nil && w.filter(path)
}

// send delivers ev, giving up only once the watcher is stopping.
func (w *watcherBase) send(ev Event) {
	select {
	case w.events <- ev:
		w.log.Debug("event", "type", ev.Type, "path", ev.Path, "dir", ev.IsDir)
		return
	default:
	}
	select {
	case w.events <- ev:
		w.log.Debug("event", "type", ev.Type, "path", ev.Path, "dir", ev.IsDir)
	case <-w.done:
		w.log.Warn("event dropped at shutdown", "type", ev.Type, "path", ev.Path)
	}
}

// classify stats a live path. Paths that vanished become deletions and
// anything but regular files and directories is skipped.
func (w *watcherBase) classify(typ EventType, path string) (Event, bool) {
	ev := Event{Type: typ, Path: path}
	if typ == EventDeleted {
		ev.IsDir = w.knownDir != nil && w.knownDir(path)
		return ev, true
	}

	info, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		ev.Type = EventDeleted
		ev.IsDir = w.knownDir != nil && w.knownDir(path)
		return ev, true
	} else if err != nil {
		w.log.Warn("stat failed, event skipped", "path", path, "error", err)
		return ev, false
	}

	switch {
	case info.IsDir():
		ev.IsDir = true
		if typ == EventModified {
			// directory mtime changes carry no information of their own
			return ev, false
		}
	case !info.Mode().IsRegular():
		return ev, false
	}
	return ev, true
}

// shutdown closes done, flushes the debouncer and closes the event channel.
// stopSource must make the raw producer exit.
func (w *watcherBase) shutdown(stopSource func()) {
	w.stopOnce.Do(func() {
		close(w.done)
		stopSource()
		w.wg.Wait()
		if w.debounce != nil {
			w.debounce.drain()
		}
		if w.events != nil {
			close(w.events)
		}
	})
}

// FileWatcher watches the root recursively through rjeczalik/notify, which
// uses inotify, FSEvents or ReadDirectoryChangesW as available.
type FileWatcher struct {
	watcherBase
	rawEvents chan notify.EventInfo
}

var _ EventSource = (*FileWatcher)(nil)

func NewFileWatcher(watchDir string, log *slog.Logger) *FileWatcher {
	fw := &FileWatcher{}
	fw.setup(watchDir, log)
	return fw
}

func (fw *FileWatcher) Start(ctx context.Context) error {
	fw.log.Info("file watcher start", "dir", fw.root, "debounce", fw.timeout)
	fw.init()

	fw.rawEvents = make(chan notify.EventInfo, eventBufferSize)
	recursivePath := filepath.Join(fw.root, "...")
	if err := notify.Watch(recursivePath, fw.rawEvents, notify.Create, notify.Remove, notify.Write, notify.Rename); err != nil {
		return err
	}

	fw.wg.Add(1)
	go fw.filterEvents(ctx)
	return nil
}

func (fw *FileWatcher) Stop() {
	fw.log.Info("file watcher stopping")
	fw.shutdown(func() {
		if fw.rawEvents != nil {
			notify.Stop(fw.rawEvents)
		}
	})
	fw.log.Info("file watcher stopped")
}

func (fw *FileWatcher) filterEvents(ctx context.Context) {
	defer fw.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-fw.done:
			return
		case ei, ok := <-fw.rawEvents:
			if !ok {
				return
			}
			if ev, ok := fw.translate(ei); ok {
				// inotify reports a burst of writes while a file is being written
				fw.debounce.push(ev)
			}
		}
	}
}

func (fw *FileWatcher) translate(ei notify.EventInfo) (Event, bool) {
	path := filepath.Clean(ei.Path())
	if fw.filtered(path) {
		return Event{}, false
	}

	var typ EventType
	switch ei.Event() {
	case notify.Create:
		typ = EventCreated
	case notify.Write:
		typ = EventModified
	case notify.Remove:
		typ = EventDeleted
	case notify.Rename:
		// both ends of a rename arrive as Rename; stat tells them apart
		typ = EventCreated
	default:
		return Event{}, false
	}
	return fw.classify(typ, path)
}
