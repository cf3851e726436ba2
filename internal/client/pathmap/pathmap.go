package pathmap

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/denisbrodbeck/machineid"
	"github.com/openmined/drivesync/internal/utils"
)

const hostIDAppKey = "drivesync"

// PathMap is the authoritative local directory to remote identity table.
// Every mutation is persisted before it returns. When the write fails the
// mutation is undone, so the in-memory map never runs ahead of the store.
type PathMap struct {
	mu      sync.RWMutex
	root    string
	entries map[string]*Entry
	store   Store
	hostID  string
	loaded  bool
	seeded  bool
	log     *slog.Logger
}

type Option func(*PathMap)

func WithLogger(l *slog.Logger) Option {
	return func(m *PathMap) {
		m.log = l
	}
}

// WithHostID overrides the machine identifier recorded in the document.
func WithHostID(id string) Option {
	return func(m *PathMap) {
		m.hostID = id
	}
}

// New returns an empty map for root. Nothing is written until the first
// mutation.
func New(root string, store Store, opts ...Option) *PathMap {
	m := &PathMap{
		root:    filepath.Clean(root),
		entries: make(map[string]*Entry),
		store:   store,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.hostID == "" {
		m.hostID, _ = machineid.ProtectedID(hostIDAppKey)
	}
	m.log = m.log.With("component", "pathmap")
	return m
}

// Open loads the persisted map for root, or returns an empty map when the
// store holds nothing yet. Loaded reports which case happened.
func Open(root string, store Store, opts ...Option) (*PathMap, error) {
	m := New(root, store, opts...)

	doc, err := store.Load()
	if errors.Is(err, ErrNoState) {
		m.log.Info("no persisted state", "root", m.root)
		return m, nil
	} else if err != nil {
		return nil, err
	}

	if filepath.Clean(doc.Root) != m.root {
		return nil, fmt.Errorf("%w: state root %q, watching %q", ErrRootMismatch, doc.Root, m.root)
	}
	if doc.HostID != "" && m.hostID != "" && doc.HostID != m.hostID {
		m.log.Warn("state was written on another machine", "root", m.root)
	}

	entries := make(map[string]*Entry, len(doc.Entries))
	for k, e := range doc.Entries {
		if e == nil {
			continue
		}
		c := e.clone()
		entries[filepath.Clean(k)] = &c
	}
	if err := validate(m.root, entries); err != nil {
		return nil, err
	}

	m.entries = entries
	m.loaded = true
	m.seeded = doc.Seeded
	m.log.Info("state loaded", "root", m.root, "dirs", len(entries), "seeded", doc.Seeded, "updated", doc.UpdatedAt)
	return m, nil
}

func (m *PathMap) Root() string {
	return m.root
}

// Loaded is true when the map was restored from the store.
func (m *PathMap) Loaded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loaded
}

// Seeded reports whether a full upload of the tree has completed.
func (m *PathMap) Seeded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.seeded
}

// MarkSeeded records that the whole tree has been mirrored. The root must be
// tracked.
func (m *PathMap) MarkSeeded() error {
	return m.mutate(func() (func(), error) {
		if m.seeded {
			return nil, nil
		}
		if _, ok := m.entries[m.root]; !ok {
			return nil, fmt.Errorf("mark seeded: %w: %s", ErrNotFound, m.root)
		}
		m.seeded = true
		return func() { m.seeded = false }, nil
	})
}

func (m *PathMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// FileCount is the number of tracked files across all directories.
func (m *PathMap) FileCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, e := range m.entries {
		n += len(e.Files)
	}
	return n
}

// Lookup returns a copy of the entry for the directory at path.
func (m *PathMap) Lookup(path string) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[filepath.Clean(path)]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e.clone(), nil
}

func (m *PathMap) HasDir(path string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.entries[filepath.Clean(path)]
	return ok
}

// LookupFile returns the remote id of name in dir. ErrParentNotTracked is
// returned when dir itself is unknown.
func (m *PathMap) LookupFile(dir, name string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[filepath.Clean(dir)]
	if !ok {
		return "", ErrParentNotTracked
	}
	id, ok := e.FileID(name)
	if !ok {
		return "", ErrNotFound
	}
	return id, nil
}

// Dirs returns all tracked directory keys in lexical order.
func (m *PathMap) Dirs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Sorted(maps.Keys(m.entries))
}

// Snapshot returns a deep copy of every entry.
func (m *PathMap) Snapshot() map[string]Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := make(map[string]Entry, len(m.entries))
	for k, e := range m.entries {
		snap[k] = e.clone()
	}
	return snap
}

// Validate checks the tree and uniqueness invariants.
func (m *PathMap) Validate() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return validate(m.root, m.entries)
}

// InsertDir tracks a new directory. The parent must already be tracked unless
// path is the root.
func (m *PathMap) InsertDir(path, id string) error {
	path, err := m.key(path)
	if err != nil {
		return err
	}

	return m.mutate(func() (func(), error) {
		if _, ok := m.entries[path]; ok {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyTracked, path)
		}
		if path != m.root {
			if _, ok := m.entries[filepath.Dir(path)]; !ok {
				return nil, fmt.Errorf("%w: %s", ErrParentNotTracked, filepath.Dir(path))
			}
		}
		m.entries[path] = &Entry{ID: id, Files: []FileRef{}}
		return func() { delete(m.entries, path) }, nil
	})
}

// InsertFile records name under dir. An existing name keeps its position and
// gets the new id.
func (m *PathMap) InsertFile(dir, name, id string) error {
	dir, err := m.key(dir)
	if err != nil {
		return err
	}
	if name == "" || name == "." || name == ".." || strings.ContainsRune(name, filepath.Separator) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	return m.mutate(func() (func(), error) {
		e, ok := m.entries[dir]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrParentNotTracked, dir)
		}

		if i := e.indexOf(name); i >= 0 {
			prev := e.Files[i].ID
			if prev == id {
				return nil, nil
			}
			e.Files[i].ID = id
			return func() { e.Files[i].ID = prev }, nil
		}

		e.Files = append(e.Files, FileRef{Name: name, ID: id})
		return func() { e.Files = e.Files[:len(e.Files)-1] }, nil
	})
}

// RemoveFile drops name from dir. Missing dir or name is a no-op.
func (m *PathMap) RemoveFile(dir, name string) error {
	dir, err := m.key(dir)
	if err != nil {
		return err
	}

	return m.mutate(func() (func(), error) {
		e, ok := m.entries[dir]
		if !ok {
			return nil, nil
		}
		i := e.indexOf(name)
		if i < 0 {
			return nil, nil
		}
		removed := e.Files[i]
		e.Files = slices.Delete(e.Files, i, i+1)
		return func() { e.Files = slices.Insert(e.Files, i, removed) }, nil
	})
}

// RemoveDir drops path and every tracked directory below it. Missing path is
// a no-op.
func (m *PathMap) RemoveDir(path string) error {
	path, err := m.key(path)
	if err != nil {
		return err
	}

	return m.mutate(func() (func(), error) {
		removed := make(map[string]*Entry)
		prefix := path + string(filepath.Separator)
		if path == string(filepath.Separator) {
			prefix = path
		}
		for k, e := range m.entries {
			if k == path || strings.HasPrefix(k, prefix) {
				removed[k] = e
			}
		}
		if len(removed) == 0 {
			return nil, nil
		}
		for k := range removed {
			delete(m.entries, k)
		}
		return func() { maps.Copy(m.entries, removed) }, nil
	})
}

// key cleans path and rejects anything outside the root.
func (m *PathMap) key(path string) (string, error) {
	path = filepath.Clean(path)
	if !utils.IsSubpath(m.root, path) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, path)
	}
	return path, nil
}

// mutate runs fn under the write lock and persists the result. fn returns an
// undo func, or nil when it changed nothing.
func (m *PathMap) mutate(fn func() (undo func(), err error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	undo, err := fn()
	if err != nil || undo == nil {
		return err
	}

	if err := m.persist(); err != nil {
		undo()
		m.log.Error("persist failed, change rolled back", "error", err)
		return fmt.Errorf("persist path map: %w", err)
	}
	return nil
}

// persist must be called with mu held.
func (m *PathMap) persist() error {
	doc := &Document{
		Version:   DocumentVersion,
		Root:      m.root,
		HostID:    m.hostID,
		Seeded:    m.seeded,
		UpdatedAt: time.Now().UTC(),
		Entries:   m.entries,
	}
	return m.store.Save(doc)
}

func validate(root string, entries map[string]*Entry) error {
	if len(entries) == 0 {
		return nil
	}
	if _, ok := entries[root]; !ok {
		return fmt.Errorf("%w: root %s missing", ErrCorruptState, root)
	}

	for k, e := range entries {
		if !utils.IsSubpath(root, k) {
			return fmt.Errorf("%w: %s outside root", ErrCorruptState, k)
		}
		if k != root {
			if _, ok := entries[filepath.Dir(k)]; !ok {
				return fmt.Errorf("%w: parent of %s not tracked", ErrCorruptState, k)
			}
		}
		if e.ID == "" {
			return fmt.Errorf("%w: %s has no remote id", ErrCorruptState, k)
		}
		seen := make(map[string]struct{}, len(e.Files))
		for _, f := range e.Files {
			if _, dup := seen[f.Name]; dup {
				return fmt.Errorf("%w: duplicate file %q in %s", ErrCorruptState, f.Name, k)
			}
			seen[f.Name] = struct{}{}
		}
	}
	return nil
}
