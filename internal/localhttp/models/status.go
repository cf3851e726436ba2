package models

import (
	"time"

	"github.com/openmined/drivesync/internal/client/pathmap"
	"github.com/openmined/drivesync/internal/client/sync"
)

// Status is the agent overview served at /v1/status.
type Status struct {
	Root      string                     `json:"root"`
	Version   string                     `json:"version"`
	StartedAt time.Time                  `json:"started_at"`
	Counters  sync.Counters              `json:"counters"`
	Tracked   Tracked                    `json:"tracked"`
	Syncing   int                        `json:"syncing"`
	Errors    map[string]sync.PathStatus `json:"errors"`
	Process   *ProcessStats              `json:"process,omitempty"`
}

type Tracked struct {
	Dirs  int `json:"dirs"`
	Files int `json:"files"`
}

// ProcessStats describes the agent process itself.
type ProcessStats struct {
	PID           int32   `json:"pid"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryRSS     uint64  `json:"memory_rss"`
	MemoryPercent float32 `json:"memory_percent"`
	NumThreads    int32   `json:"num_threads"`
	Uptime        int64   `json:"uptime_ms"`
}

// PathStatus is the sync state of one local path.
type PathStatus struct {
	Path   string          `json:"path"`
	Status sync.PathStatus `json:"status"`
}

// Paths is a snapshot of the path map.
type Paths struct {
	Root    string                   `json:"root"`
	Entries map[string]pathmap.Entry `json:"entries"`
}
