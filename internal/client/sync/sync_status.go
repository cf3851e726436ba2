package sync

import (
	"fmt"
	"maps"
	"sync"
	"time"
)

const syncEventBufferSize = 16

// SyncState represents the state of a sync operation
type SyncState string

const (
	SyncStatePending   SyncState = "pending"
	SyncStateSyncing   SyncState = "syncing"
	SyncStateCompleted SyncState = "completed"
	SyncStateError     SyncState = "error"
)

// PathStatus is the last known sync state of one local path
type PathStatus struct {
	State       SyncState `json:"state"`
	Event       EventType `json:"event,omitempty"`
	Outcome     Outcome   `json:"outcome,omitempty"`
	Error       string    `json:"error,omitempty"`
	ErrorCount  int       `json:"error_count"`
	LastUpdated time.Time `json:"last_updated"`
}

func (s *PathStatus) String() string {
	return fmt.Sprintf("State: %s, Event: %s, Outcome: %s, Error: %s, ErrorCount: %d", s.State, s.Event, s.Outcome, s.Error, s.ErrorCount)
}

// Counters totals what the agent did since it started
type Counters struct {
	Created int64 `json:"created"`
	Updated int64 `json:"updated"`
	Deleted int64 `json:"deleted"`
	Skipped int64 `json:"skipped"`
	Faults  int64 `json:"faults"`
	Errors  int64 `json:"errors"`
}

// SyncStatusEvent is broadcast to subscribers on every status change
type SyncStatusEvent struct {
	Path   string     `json:"path"`
	Status PathStatus `json:"status"`
}

// SyncStatus tracks per-path sync state for the status server and the logs
type SyncStatus struct {
	files    map[string]*PathStatus
	counters Counters
	mu       sync.RWMutex

	eventSubs []chan *SyncStatusEvent
	eventMu   sync.RWMutex
	now       func() time.Time
}

func NewSyncStatus() *SyncStatus {
	return &SyncStatus{
		files:     make(map[string]*PathStatus),
		eventSubs: make([]chan *SyncStatusEvent, 0),
		now:       time.Now,
	}
}

// Subscribe returns a channel for receiving sync status events
func (s *SyncStatus) Subscribe() <-chan *SyncStatusEvent {
	s.eventMu.Lock()
	defer s.eventMu.Unlock()

	ch := make(chan *SyncStatusEvent, syncEventBufferSize)
	s.eventSubs = append(s.eventSubs, ch)
	return ch
}

// Unsubscribe removes a subscription channel
func (s *SyncStatus) Unsubscribe(ch <-chan *SyncStatusEvent) {
	s.eventMu.Lock()
	defer s.eventMu.Unlock()

	for i, sub := range s.eventSubs {
		if sub == ch {
			close(sub)
			s.eventSubs = append(s.eventSubs[:i], s.eventSubs[i+1:]...)
			break
		}
	}
}

// broadcastEvent sends a copy of status to all subscribers without blocking
func (s *SyncStatus) broadcastEvent(path string, status *PathStatus) {
	s.eventMu.RLock()
	defer s.eventMu.RUnlock()

	event := &SyncStatusEvent{Path: path, Status: *status}
	for _, sub := range s.eventSubs {
		select {
		case sub <- event:
		default:
			// slow subscriber, drop
		}
	}
}

func (s *SyncStatus) getOrCreateStatus(path string) *PathStatus {
	if status, exists := s.files[path]; exists {
		return status
	}

	status := &PathStatus{
		State:       SyncStatePending,
		LastUpdated: s.now(),
	}
	s.files[path] = status
	return status
}

// SetSyncing marks path as being handled for event
func (s *SyncStatus) SetSyncing(path string, event EventType) {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := s.getOrCreateStatus(path)
	status.State = SyncStateSyncing
	status.Event = event
	status.Outcome = ""
	status.LastUpdated = s.now()

	s.broadcastEvent(path, status)
}

// SetCompleted records a finished transition and bumps the matching counter
func (s *SyncStatus) SetCompleted(path string, outcome Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := s.getOrCreateStatus(path)
	status.State = SyncStateCompleted
	status.Outcome = outcome
	status.Error = ""
	status.ErrorCount = 0
	status.LastUpdated = s.now()

	switch outcome {
	case OutcomeCreated, OutcomeAdopted:
		s.counters.Created++
	case OutcomeUpdated:
		s.counters.Updated++
	case OutcomeRemoteDeleted, OutcomeLocalOnlyRemoved:
		s.counters.Deleted++
	case OutcomeIgnored, OutcomeSkipped:
		s.counters.Skipped++
	}

	s.broadcastEvent(path, status)
}

// SetError records a failed transition. Consistency faults are counted
// separately from other errors.
func (s *SyncStatus) SetError(path string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := s.getOrCreateStatus(path)
	status.State = SyncStateError
	status.Error = err.Error()
	status.ErrorCount++
	status.LastUpdated = s.now()

	if IsConsistencyFault(err) {
		s.counters.Faults++
	} else {
		s.counters.Errors++
	}

	s.broadcastEvent(path, status)
}

// GetStatus returns a copy of the status of path
func (s *SyncStatus) GetStatus(path string) (PathStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status, exists := s.files[path]
	if !exists {
		return PathStatus{}, false
	}
	return *status, true
}

func (s *SyncStatus) GetErrorCount(path string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if status, ok := s.files[path]; ok {
		return status.ErrorCount
	}
	return 0
}

func (s *SyncStatus) Counters() Counters {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counters
}

// GetSyncingFileCount returns the number of paths currently being handled
func (s *SyncStatus) GetSyncingFileCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, status := range s.files {
		if status.State == SyncStateSyncing {
			count++
		}
	}
	return count
}

// GetErrorFiles returns the paths whose last transition failed
func (s *SyncStatus) GetErrorFiles() map[string]PathStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	failed := make(map[string]PathStatus)
	for path, status := range s.files {
		if status.State == SyncStateError {
			failed[path] = *status
		}
	}
	return failed
}

// GetAllStatus returns a copy of all path statuses
func (s *SyncStatus) GetAllStatus() map[string]PathStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]PathStatus, len(s.files))
	for path, status := range s.files {
		result[path] = *status
	}
	return result
}

// Cleanup removes completed paths older than maxAge. Errors are kept until a
// later transition on the same path succeeds.
func (s *SyncStatus) Cleanup(maxAge time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-maxAge)
	maps.DeleteFunc(s.files, func(_ string, status *PathStatus) bool {
		return status.State == SyncStateCompleted && status.LastUpdated.Before(cutoff)
	})
}

// Close drops every subscriber and forgets all paths. mu is always taken
// before eventMu, so both are held here to close subscribers safely.
func (s *SyncStatus) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventMu.Lock()
	defer s.eventMu.Unlock()

	for _, sub := range s.eventSubs {
		close(sub)
	}
	s.eventSubs = make([]chan *SyncStatusEvent, 0)
	s.files = make(map[string]*PathStatus)
}
