package pathmap

import (
	"errors"
	"time"
)

const DocumentVersion = 1

var (
	ErrNotFound         = errors.New("path not tracked")
	ErrParentNotTracked = errors.New("parent directory not tracked")
	ErrAlreadyTracked   = errors.New("directory already tracked")
	ErrOutsideRoot      = errors.New("path outside watched root")
	ErrInvalidName      = errors.New("invalid file name")
	ErrNoState          = errors.New("no persisted state")
	ErrRootMismatch     = errors.New("persisted state belongs to a different root")
	ErrCorruptState     = errors.New("persisted state violates map invariants")
)

// FileRef is one tracked file inside a directory entry.
type FileRef struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// Entry maps a local directory to its remote folder and the files it holds.
// Files keep insertion order and names are unique within an entry.
type Entry struct {
	ID    string    `json:"id"`
	Files []FileRef `json:"files"`
}

func (e *Entry) indexOf(name string) int {
	for i, f := range e.Files {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// FileID returns the remote id of name within this directory.
func (e *Entry) FileID(name string) (string, bool) {
	if i := e.indexOf(name); i >= 0 {
		return e.Files[i].ID, true
	}
	return "", false
}

func (e *Entry) clone() Entry {
	files := make([]FileRef, len(e.Files))
	copy(files, e.Files)
	return Entry{ID: e.ID, Files: files}
}

// Document is the persisted form of the map. Seeded is set once the first
// full upload of the tree completed; a document without it resumes seeding.
type Document struct {
	Version   int               `json:"version"`
	Root      string            `json:"root"`
	HostID    string            `json:"host_id,omitempty"`
	Seeded    bool              `json:"seeded"`
	UpdatedAt time.Time         `json:"updated_at"`
	Entries   map[string]*Entry `json:"entries"`
}

// Store persists documents. Save must be atomic: a reader never observes a
// partially written document.
type Store interface {
	Load() (*Document, error)
	Save(doc *Document) error
}
