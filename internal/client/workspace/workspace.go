package workspace

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	"github.com/openmined/drivesync/internal/utils"
)

const (
	logsDir  = "logs"
	lockFile = "drivesync.lock"
	pathSep  = string(filepath.Separator)
)

var (
	ErrWorkspaceLocked = errors.New("workspace locked by another process")
	ErrStateDirIsRoot  = errors.New("state directory cannot be the watched directory")
)

// Workspace is a watched directory together with the state directory that
// holds its path map. Only one agent may own a state directory at a time.
type Workspace struct {
	Root     string
	StateDir string
	LogsDir  string

	flock *flock.Flock
}

func NewWorkspace(rootDir string, stateDir string) (*Workspace, error) {
	root, err := utils.ResolvePath(rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path %s: %w", rootDir, err)
	}

	state, err := utils.ResolvePath(stateDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path %s: %w", stateDir, err)
	}

	if state == root {
		return nil, ErrStateDirIsRoot
	}

	return &Workspace{
		Root:     root,
		StateDir: state,
		LogsDir:  filepath.Join(state, logsDir),
		flock:    flock.New(filepath.Join(state, lockFile)),
	}, nil
}

func (w *Workspace) Lock() error {
	// the lock file lives in the state dir so that two agents never share a map
	if err := utils.EnsureDir(w.StateDir); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", w.StateDir, err)
	}

	locked, err := w.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock workspace: %w", err)
	}
	if !locked {
		return ErrWorkspaceLocked
	}

	return nil
}

func (w *Workspace) Unlock() error {
	// if this process hasn't locked the workspace, then don't delete the lock file
	if !w.flock.Locked() {
		return nil
	}

	if err := w.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to unlock workspace: %w", err)
	}

	return os.Remove(w.flock.Path())
}

// Setup checks the watched directory, takes the lock and creates the state
// layout.
func (w *Workspace) Setup() error {
	if !utils.DirExists(w.Root) {
		return fmt.Errorf("watch directory does not exist: %s", w.Root)
	}

	if err := w.Lock(); err != nil {
		return err
	}

	slog.Info("workspace", "root", w.Root, "state", w.StateDir)

	if err := utils.EnsureDir(w.LogsDir); err != nil {
		_ = w.Unlock()
		return fmt.Errorf("failed to create directory %s: %w", w.LogsDir, err)
	}

	return nil
}

// StateInsideRoot reports whether the state directory is part of the
// watched tree and must be excluded from sync.
func (w *Workspace) StateInsideRoot() bool {
	return utils.IsSubpath(w.Root, w.StateDir)
}

// RelPath returns path relative to the watched root with forward slashes.
func (w *Workspace) RelPath(absPath string) (string, error) {
	relPath, err := filepath.Rel(w.Root, absPath)
	if err != nil {
		return "", err
	}
	if relPath == ".." || strings.HasPrefix(relPath, ".."+pathSep) {
		return "", fmt.Errorf("path %s is outside %s", absPath, w.Root)
	}
	return NormPath(relPath), nil
}

// AbsPath joins a slash separated relative path onto the watched root.
func (w *Workspace) AbsPath(relPath string) string {
	return filepath.Join(w.Root, filepath.FromSlash(relPath))
}
