package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/openmined/drivesync/internal/client/pathmap"
	"github.com/openmined/drivesync/internal/client/sync"
	"github.com/openmined/drivesync/internal/localhttp/models"
	"github.com/openmined/drivesync/internal/version"
	"github.com/shirou/gopsutil/v4/process"
)

var ErrUnknownPath = errors.New("path has no sync status")

// StatusService reads the live sync status and the path map.
type StatusService struct {
	status    *sync.SyncStatus
	paths     *pathmap.PathMap
	startedAt time.Time
	proc      *process.Process
}

func NewStatusService(status *sync.SyncStatus, paths *pathmap.PathMap) *StatusService {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		slog.Warn("process stats unavailable", "error", err)
	}
	return &StatusService{
		status:    status,
		paths:     paths,
		startedAt: time.Now(),
		proc:      proc,
	}
}

func (s *StatusService) GetStatus(ctx context.Context) (*models.Status, error) {
	return &models.Status{
		Root:      s.paths.Root(),
		Version:   version.Version,
		StartedAt: s.startedAt,
		Counters:  s.status.Counters(),
		Tracked: models.Tracked{
			Dirs:  s.paths.Len(),
			Files: s.paths.FileCount(),
		},
		Syncing: s.status.GetSyncingFileCount(),
		Errors:  s.status.GetErrorFiles(),
		Process: s.processStats(ctx),
	}, nil
}

// GetPathStatus resolves path against the watched root when relative.
func (s *StatusService) GetPathStatus(path string) (*models.PathStatus, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.paths.Root(), filepath.FromSlash(path))
	}
	path = filepath.Clean(path)

	st, ok := s.status.GetStatus(path)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPath, path)
	}
	return &models.PathStatus{Path: path, Status: st}, nil
}

func (s *StatusService) GetPaths() *models.Paths {
	return &models.Paths{
		Root:    s.paths.Root(),
		Entries: s.paths.Snapshot(),
	}
}

// Subscribe streams status changes until Unsubscribe.
func (s *StatusService) Subscribe() <-chan *sync.SyncStatusEvent {
	return s.status.Subscribe()
}

func (s *StatusService) Unsubscribe(ch <-chan *sync.SyncStatusEvent) {
	s.status.Unsubscribe(ch)
}

// processStats is best effort. Missing values are left at zero.
func (s *StatusService) processStats(ctx context.Context) *models.ProcessStats {
	if s.proc == nil {
		return nil
	}

	stats := &models.ProcessStats{PID: s.proc.Pid}
	if cpu, err := s.proc.CPUPercentWithContext(ctx); err == nil {
		stats.CPUPercent = cpu
	}
	if mem, err := s.proc.MemoryInfoWithContext(ctx); err == nil {
		stats.MemoryRSS = mem.RSS
	}
	if memPct, err := s.proc.MemoryPercentWithContext(ctx); err == nil {
		stats.MemoryPercent = memPct
	}
	if threads, err := s.proc.NumThreadsWithContext(ctx); err == nil {
		stats.NumThreads = threads
	}
	if created, err := s.proc.CreateTimeWithContext(ctx); err == nil {
		stats.Uptime = time.Now().UnixMilli() - created
	}
	return stats
}
