package sync

import (
	"context"
	"fmt"
)

type EventType string

const (
	EventCreated  EventType = "created"
	EventModified EventType = "modified"
	EventDeleted  EventType = "deleted"
)

// Event is one debounced filesystem change under the watched root.
type Event struct {
	Type  EventType
	Path  string
	IsDir bool
}

func (e Event) String() string {
	kind := "file"
	if e.IsDir {
		kind = "dir"
	}
	return fmt.Sprintf("%s %s %s", e.Type, kind, e.Path)
}

// EventSource produces Events until Stop is called. The Events channel is
// closed once the source has shut down.
type EventSource interface {
	Start(ctx context.Context) error
	Events() <-chan Event
	Stop()
}

// FilterCallback returns true for paths whose events should be dropped.
type FilterCallback func(path string) bool

// DirCallback reports whether a path that no longer exists was a directory.
type DirCallback func(path string) bool

// coalesce merges a new event into one still waiting in the debounce window.
func coalesce(pending, next Event) Event {
	switch {
	case pending.Type == EventCreated && next.Type == EventModified:
		// content written right after creation
		return pending
	case pending.Type == EventDeleted && next.Type == EventCreated && !next.IsDir:
		// replaced by an editor's save-by-rename
		next.Type = EventModified
		return next
	default:
		return next
	}
}
