package pathmap

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/openmined/drivesync/internal/utils"
)

// FileStore keeps the document in a single JSON file.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Load() (*Document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoState
		}
		return nil, fmt.Errorf("read state %s: %w", s.path, err)
	}

	var doc Document
	if err := jsonUnmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode state %s: %w", s.path, err)
	}
	if doc.Version > DocumentVersion {
		return nil, fmt.Errorf("state %s has unsupported version %d", s.path, doc.Version)
	}
	if doc.Entries == nil {
		doc.Entries = make(map[string]*Entry)
	}
	return &doc, nil
}

// Save writes to a temp file in the same directory, syncs it and renames it
// over the previous document.
func (s *FileStore) Save(doc *Document) error {
	data, err := jsonMarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := utils.EnsureDir(dir); err != nil {
		return fmt.Errorf("create state dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("replace state: %w", err)
	}

	syncDir(dir)
	return nil
}

// syncDir flushes the rename to disk. Not all platforms allow fsync on a
// directory so failures are ignored.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
