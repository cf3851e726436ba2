package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/openmined/drivesync/internal/client/pathmap"
)

const (
	statusCleanupInterval = time.Minute
	statusMaxAge          = 10 * time.Minute
)

type ManagerOption func(*SyncManager)

// WithResync makes a warm start seed whatever the drift scan finds untracked,
// and reconcile what it finds missing, before the watcher starts.
func WithResync(resync bool) ManagerOption {
	return func(m *SyncManager) {
		m.resync = resync
	}
}

func WithManagerLogger(l *slog.Logger) ManagerOption {
	return func(m *SyncManager) {
		m.log = l
	}
}

// SyncManager owns the agent lifecycle: seed or check the map, then feed
// watcher events to the handler one at a time until stopped.
type SyncManager struct {
	pm       *pathmap.PathMap
	handler  *Handler
	uploader *TreeUploader
	watcher  EventSource
	ignore   *IgnoreList
	resync   bool
	log      *slog.Logger

	wg       sync.WaitGroup
	stopOnce sync.Once
	started  bool
}

func NewManager(pm *pathmap.PathMap, handler *Handler, uploader *TreeUploader, watcher EventSource, ignore *IgnoreList, opts ...ManagerOption) *SyncManager {
	m := &SyncManager{
		pm:       pm,
		handler:  handler,
		uploader: uploader,
		watcher:  watcher,
		ignore:   ignore,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.With("component", "sync")
	return m
}

func (m *SyncManager) Status() *SyncStatus {
	return m.handler.Status()
}

// Start seeds the remote on a cold start, or reports drift on a warm start,
// and only then attaches the watcher. A map whose first upload never finished
// is seeded again before anything else. It returns once the live loop runs.
func (m *SyncManager) Start(ctx context.Context) error {
	root := m.pm.Root()
	m.log.Info("sync manager start", "root", root)

	switch {
	case !m.pm.HasDir(root):
		summary, err := m.uploader.Upload(ctx)
		if err != nil {
			return fmt.Errorf("initial upload: %w", err)
		}
		if summary.Failed > 0 {
			m.log.Warn("initial upload finished with failures", "summary", summary)
		}
	case !m.pm.Seeded():
		if err := m.resumeSeed(ctx); err != nil {
			return err
		}
	default:
		if err := m.checkDrift(ctx); err != nil {
			return err
		}
	}

	if err := m.watcher.Start(ctx); err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}

	m.started = true
	m.wg.Add(1)
	go m.run(ctx)
	return nil
}

// resumeSeed finishes an initial upload that was interrupted or had
// failures. Objects already present remotely are adopted.
func (m *SyncManager) resumeSeed(ctx context.Context) error {
	m.log.Warn("initial upload incomplete, resuming", "root", m.pm.Root(), "dirs", m.pm.Len(), "files", m.pm.FileCount())

	summary, err := m.uploader.UploadSubtree(ctx, m.pm.Root())
	if err != nil {
		return fmt.Errorf("resume initial upload: %w", err)
	}
	if summary.Failed > 0 {
		m.log.Warn("initial upload finished with failures", "summary", summary)
		return nil
	}
	if err := m.pm.MarkSeeded(); err != nil {
		return err
	}
	m.log.Info("initial upload resumed", "summary", summary)
	return nil
}

func (m *SyncManager) checkDrift(ctx context.Context) error {
	report, err := ScanDrift(m.pm, m.ignore)
	if err != nil {
		return fmt.Errorf("drift scan: %w", err)
	}
	if report.Empty() {
		m.log.Info("state matches local tree", "dirs", m.pm.Len(), "files", m.pm.FileCount())
		return nil
	}

	for _, p := range report.UntrackedDirs {
		m.log.Warn("drift", "kind", "untracked dir", "path", p)
	}
	for _, p := range report.UntrackedFiles {
		m.log.Warn("drift", "kind", "untracked file", "path", p)
	}
	for _, p := range report.MissingDirs {
		m.log.Warn("drift", "kind", "missing dir", "path", p)
	}
	for _, p := range report.MissingFiles {
		m.log.Warn("drift", "kind", "missing file", "path", p)
	}

	if !m.resync {
		return nil
	}

	// missing paths go through the reconciler like any other deletion
	for _, p := range report.MissingDirs {
		m.handle(ctx, Event{Type: EventDeleted, Path: p, IsDir: true})
	}
	for _, p := range report.MissingFiles {
		m.handle(ctx, Event{Type: EventDeleted, Path: p})
	}

	summary, err := m.uploader.UploadSubtree(ctx, m.pm.Root())
	if err != nil {
		return fmt.Errorf("resync: %w", err)
	}
	m.log.Info("resync done", "summary", summary)
	return nil
}

// run is the single consumer of watcher events. A stop lets the transition in
// flight finish; a pending deletion question is abandoned with the safe answer.
func (m *SyncManager) run(ctx context.Context) {
	defer m.wg.Done()

	cleanup := time.NewTicker(statusCleanupInterval)
	defer cleanup.Stop()

	events := m.watcher.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case <-cleanup.C:
			m.Status().Cleanup(statusMaxAge)
		case ev, ok := <-events:
			if !ok {
				return
			}
			m.handle(ctx, ev)
		}
	}
}

func (m *SyncManager) handle(ctx context.Context, ev Event) {
	outcome, err := m.handler.Handle(ctx, ev)
	switch {
	case IsConsistencyFault(err):
		m.log.Error("sync", "op", "fault", "event", ev.Type, "path", ev.Path, "error", err)
	case err != nil:
		m.log.Error("sync", "op", "error", "event", ev.Type, "path", ev.Path, "error", err)
	default:
		m.log.Debug("sync", "op", outcome, "event", ev.Type, "path", ev.Path)
	}
}

// Stop stops the watcher and waits for the event in flight to finish.
func (m *SyncManager) Stop() error {
	m.stopOnce.Do(func() {
		m.log.Info("sync manager stop")
		if m.started {
			m.watcher.Stop()
		}
		m.wg.Wait()

		c := m.Status().Counters()
		m.log.Info("sync totals",
			"created", c.Created,
			"updated", c.Updated,
			"deleted", c.Deleted,
			"skipped", c.Skipped,
			"faults", c.Faults,
			"errors", c.Errors,
		)
	})
	return nil
}
