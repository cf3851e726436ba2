package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/openmined/drivesync/internal/client/pathmap"
	"github.com/openmined/drivesync/internal/remote"
	"github.com/openmined/drivesync/internal/utils"
)

// DeletionRequest describes a tracked path that disappeared locally. Dirs and
// Files count what the map holds below a directory, the directory included.
type DeletionRequest struct {
	Path     string
	IsDir    bool
	RemoteID string
	Dirs     int
	Files    int
}

func (r *DeletionRequest) String() string {
	if r.IsDir {
		return fmt.Sprintf("directory %s (%d folders, %d files)", r.Path, r.Dirs, r.Files)
	}
	return "file " + r.Path
}

// Decider answers whether a local deletion should also delete the remote
// copy. An error means no answer could be obtained.
type Decider interface {
	Decide(ctx context.Context, req *DeletionRequest) (bool, error)
}

// DeciderFunc adapts a function to Decider.
type DeciderFunc func(ctx context.Context, req *DeletionRequest) (bool, error)

func (f DeciderFunc) Decide(ctx context.Context, req *DeletionRequest) (bool, error) {
	return f(ctx, req)
}

// ConsistencyFault reports that an event does not fit the path map, typically
// because the tree changed while the agent was not running. Retrying cannot
// fix it.
type ConsistencyFault struct {
	Event  Event
	Parent string
}

func (f *ConsistencyFault) Error() string {
	return fmt.Sprintf("consistency fault: %s %s: parent %s is not tracked", f.Event.Type, f.Event.Path, f.Parent)
}

func (f *ConsistencyFault) Unwrap() error {
	return pathmap.ErrParentNotTracked
}

func IsConsistencyFault(err error) bool {
	var fault *ConsistencyFault
	return errors.As(err, &fault)
}

// Reconciler applies local deletions to the path map and, when the decider
// agrees, to the remote.
type Reconciler struct {
	pm      *pathmap.PathMap
	svc     remote.Service
	decider Decider
	log     *slog.Logger
}

func NewReconciler(pm *pathmap.PathMap, svc remote.Service, decider Decider, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{
		pm:      pm,
		svc:     svc,
		decider: decider,
		log:     log.With("component", "reconciler"),
	}
}

// Reconcile handles the deletion of path. Repeating it for a path that is no
// longer tracked returns OutcomeNotTracked. When the remote delete fails the
// map is left as it was. ctx bounds the decision only; a cancelled decision
// keeps the remote copy.
func (r *Reconciler) Reconcile(ctx context.Context, path string, isDir bool) (Outcome, error) {
	path = filepath.Clean(path)
	if path == r.pm.Root() {
		return "", fmt.Errorf("watched root %s was deleted", path)
	}

	req, err := r.resolve(path, isDir)
	if err != nil {
		return "", err
	} else if req == nil {
		return OutcomeNotTracked, nil
	}

	deleteRemote, err := r.decide(ctx, req)
	if err != nil {
		r.log.Warn("no deletion decision, keeping remote copy", "path", path, "error", err)
		deleteRemote = false
	}

	outcome := OutcomeLocalOnlyRemoved
	if deleteRemote {
		if err := r.svc.DeleteObject(context.WithoutCancel(ctx), req.RemoteID); errors.Is(err, remote.ErrNotFound) {
			r.log.Info("remote object already gone", "path", path, "id", req.RemoteID)
		} else if err != nil {
			return "", fmt.Errorf("delete remote %s: %w", path, err)
		}
		outcome = OutcomeRemoteDeleted
	}

	if req.IsDir {
		err = r.pm.RemoveDir(path)
	} else {
		err = r.pm.RemoveFile(filepath.Dir(path), filepath.Base(path))
	}
	if err != nil {
		return "", err
	}

	r.log.Info("sync", "op", outcome, "path", path, "id", req.RemoteID, "dir", req.IsDir)
	return outcome, nil
}

// resolve finds what the map tracks at path. A nil request means nothing is
// tracked and there is nothing to do.
func (r *Reconciler) resolve(path string, isDir bool) (*DeletionRequest, error) {
	if entry, err := r.pm.Lookup(path); err == nil {
		req := &DeletionRequest{Path: path, IsDir: true, RemoteID: entry.ID}
		req.Dirs, req.Files = r.subtreeSize(path)
		return req, nil
	}

	parent := filepath.Dir(path)
	id, err := r.pm.LookupFile(parent, filepath.Base(path))
	switch {
	case errors.Is(err, pathmap.ErrParentNotTracked):
		if utils.DirExists(parent) {
			return nil, &ConsistencyFault{Event: Event{Type: EventDeleted, Path: path, IsDir: isDir}, Parent: parent}
		}
		// removed together with an ancestor that was already reconciled
		return nil, nil
	case errors.Is(err, pathmap.ErrNotFound):
		return nil, nil
	case err != nil:
		return nil, err
	}
	return &DeletionRequest{Path: path, RemoteID: id, Files: 1}, nil
}

func (r *Reconciler) subtreeSize(dir string) (dirs, files int) {
	prefix := dir + string(filepath.Separator)
	for key, entry := range r.pm.Snapshot() {
		if key == dir || strings.HasPrefix(key, prefix) {
			dirs++
			files += len(entry.Files)
		}
	}
	return dirs, files
}

func (r *Reconciler) decide(ctx context.Context, req *DeletionRequest) (bool, error) {
	if r.decider == nil {
		return false, errors.New("no decider configured")
	}
	return r.decider.Decide(ctx, req)
}
