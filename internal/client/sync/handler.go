package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/openmined/drivesync/internal/client/pathmap"
	"github.com/openmined/drivesync/internal/remote"
	"github.com/openmined/drivesync/internal/utils"
)

// DefaultPlaceholder is uploaded in place of empty files, which the remote
// rejects. The local file is left untouched.
const DefaultPlaceholder = "\t"

type HandlerOption func(*Handler)

// WithPlaceholder sets the body sent for zero-byte files.
func WithPlaceholder(placeholder string) HandlerOption {
	return func(h *Handler) {
		h.placeholder = []byte(placeholder)
	}
}

func WithHandlerLogger(l *slog.Logger) HandlerOption {
	return func(h *Handler) {
		h.log = l
	}
}

func WithHandlerStatus(status *SyncStatus) HandlerOption {
	return func(h *Handler) {
		h.status = status
	}
}

// Handler turns filesystem events into remote operations and path map
// mutations. Calls to Handle are serialized, one transition at a time, and
// every mutation is persisted before Handle returns.
type Handler struct {
	mu          sync.Mutex
	pm          *pathmap.PathMap
	svc         remote.Service
	ignore      *IgnoreList
	uploader    *TreeUploader
	reconciler  *Reconciler
	status      *SyncStatus
	placeholder []byte
	log         *slog.Logger
}

func NewHandler(pm *pathmap.PathMap, svc remote.Service, ignore *IgnoreList, uploader *TreeUploader, reconciler *Reconciler, opts ...HandlerOption) *Handler {
	h := &Handler{
		pm:          pm,
		svc:         svc,
		ignore:      ignore,
		uploader:    uploader,
		reconciler:  reconciler,
		placeholder: []byte(DefaultPlaceholder),
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.status == nil {
		h.status = NewSyncStatus()
	}
	h.log = h.log.With("component", "handler")
	return h
}

func (h *Handler) Status() *SyncStatus {
	return h.status
}

// Handle applies one event. Consistency faults are returned as
// *ConsistencyFault and leave the map untouched, like every other failure.
// Cancelling ctx only ends a wait for a deletion decision; remote and map
// effects run detached from it so a transition is never cut in half.
func (h *Handler) Handle(ctx context.Context, ev Event) (Outcome, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	effects := context.WithoutCancel(ctx)

	ev.Path = filepath.Clean(ev.Path)
	root := h.pm.Root()
	if ev.Path == root {
		return OutcomeIgnored, nil
	}
	if !utils.IsSubpath(root, ev.Path) {
		return "", fmt.Errorf("%s: %w", ev.Path, pathmap.ErrOutsideRoot)
	}
	if h.ignore != nil && h.ignore.Ignored(ev.Path, ev.IsDir) {
		h.log.Debug("sync", "op", OutcomeIgnored, "event", ev.Type, "path", ev.Path)
		return OutcomeIgnored, nil
	}

	h.status.SetSyncing(ev.Path, ev.Type)

	var outcome Outcome
	var err error
	switch {
	case ev.Type == EventDeleted:
		outcome, err = h.reconciler.Reconcile(ctx, ev.Path, ev.IsDir)
	case ev.IsDir && ev.Type == EventCreated:
		outcome, err = h.createDir(effects, ev)
	case ev.IsDir:
		// directory changes arrive as events on their children
		outcome = OutcomeNoop
	case ev.Type == EventCreated, ev.Type == EventModified:
		outcome, err = h.syncFile(effects, ev)
	default:
		err = fmt.Errorf("unknown event type %q", ev.Type)
	}

	if err != nil {
		h.status.SetError(ev.Path, err)
		return outcome, err
	}
	h.status.SetCompleted(ev.Path, outcome)
	return outcome, nil
}

// createDir mirrors a new directory and then seeds whatever it already
// contains, which covers directories moved into the tree in one step.
func (h *Handler) createDir(ctx context.Context, ev Event) (Outcome, error) {
	if h.pm.HasDir(ev.Path) {
		return OutcomeNoop, nil
	}

	parentDir := filepath.Dir(ev.Path)
	parent, err := h.pm.Lookup(parentDir)
	if errors.Is(err, pathmap.ErrNotFound) {
		return "", &ConsistencyFault{Event: ev, Parent: parentDir}
	} else if err != nil {
		return "", err
	}

	id, adopted, err := ensureFolder(ctx, h.svc, filepath.Base(ev.Path), parent.ID, true)
	if err != nil {
		return "", err
	}
	if err := h.pm.InsertDir(ev.Path, id); err != nil {
		return "", err
	}

	outcome := OutcomeCreated
	if adopted {
		outcome = OutcomeAdopted
	}
	h.log.Info("sync", "op", outcome, "path", ev.Path, "id", id, "dir", true)

	if h.uploader != nil {
		summary, err := h.uploader.UploadSubtree(ctx, ev.Path)
		if err != nil {
			return outcome, fmt.Errorf("seed %s: %w", ev.Path, err)
		}
		if summary.Folders+summary.Files+summary.Adopted+summary.Failed > 0 {
			h.log.Info("seeded new directory", "path", ev.Path, "summary", summary)
		}
	}
	return outcome, nil
}

// syncFile handles Created and Modified for files. A tracked file gets its
// content replaced; an untracked one is created, or adopted when an object
// with the same name already exists under the parent.
func (h *Handler) syncFile(ctx context.Context, ev Event) (Outcome, error) {
	dir, name := filepath.Dir(ev.Path), filepath.Base(ev.Path)

	parent, err := h.pm.Lookup(dir)
	if errors.Is(err, pathmap.ErrNotFound) {
		return "", &ConsistencyFault{Event: ev, Parent: dir}
	} else if err != nil {
		return "", err
	}

	content, mimeType, err := localContent(ev.Path, h.placeholder)
	if err != nil {
		return "", err
	}

	if id, ok := parent.FileID(name); ok {
		err := h.svc.UpdateObjectContent(ctx, id, content)
		if err == nil {
			h.log.Info("sync", "op", OutcomeUpdated, "path", ev.Path, "id", id, "size", content.Size())
			return OutcomeUpdated, nil
		}
		if !errors.Is(err, remote.ErrNotFound) {
			return "", fmt.Errorf("update %s: %w", ev.Path, err)
		}
		// removed remotely behind our back, upload it again below
		h.log.Warn("remote object missing, recreating", "path", ev.Path, "id", id)
	}

	id, adopted, err := ensureFile(ctx, h.svc, name, parent.ID, content, mimeType, true)
	if err != nil {
		return "", err
	}
	if err := h.pm.InsertFile(dir, name, id); err != nil {
		return "", err
	}

	outcome := OutcomeCreated
	if adopted {
		outcome = OutcomeAdopted
	}
	h.log.Info("sync", "op", outcome, "path", ev.Path, "id", id, "size", content.Size())
	return outcome, nil
}
