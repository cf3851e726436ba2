package sync

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncStatus_Transitions(t *testing.T) {
	s := NewSyncStatus()

	s.SetSyncing("/r/a.txt", EventCreated)
	st, ok := s.GetStatus("/r/a.txt")
	require.True(t, ok)
	assert.Equal(t, SyncStateSyncing, st.State)
	assert.Equal(t, 1, s.GetSyncingFileCount())

	s.SetError("/r/a.txt", errors.New("boom"))
	s.SetError("/r/a.txt", &ConsistencyFault{Event: Event{Type: EventModified, Path: "/r/a.txt"}, Parent: "/r"})
	assert.Equal(t, 2, s.GetErrorCount("/r/a.txt"))
	assert.Len(t, s.GetErrorFiles(), 1)

	s.SetCompleted("/r/a.txt", OutcomeCreated)
	st, _ = s.GetStatus("/r/a.txt")
	assert.Equal(t, SyncStateCompleted, st.State)
	assert.Equal(t, OutcomeCreated, st.Outcome)
	assert.Zero(t, st.ErrorCount)
	assert.Empty(t, s.GetErrorFiles())

	s.SetCompleted("/r/b.txt", OutcomeUpdated)
	s.SetCompleted("/r/c.txt", OutcomeLocalOnlyRemoved)
	s.SetCompleted("/r/.git", OutcomeIgnored)
	s.SetCompleted("/r/sub", OutcomeNoop)

	assert.Equal(t, Counters{Created: 1, Updated: 1, Deleted: 1, Skipped: 1, Faults: 1, Errors: 1}, s.Counters())
	assert.Len(t, s.GetAllStatus(), 5)
}

func TestSyncStatus_SubscribeAndCleanup(t *testing.T) {
	s := NewSyncStatus()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.now = func() time.Time { return now }

	ch := s.Subscribe()
	s.SetCompleted("/r/a.txt", OutcomeCreated)
	select {
	case ev := <-ch:
		assert.Equal(t, "/r/a.txt", ev.Path)
		assert.Equal(t, SyncStateCompleted, ev.Status.State)
	default:
		assert.FailNow(t, "expected a status event")
	}

	s.SetError("/r/b.txt", errors.New("boom"))
	now = now.Add(time.Hour)
	s.Cleanup(time.Minute)
	_, ok := s.GetStatus("/r/a.txt")
	assert.False(t, ok, "old completed entries are dropped")
	_, ok = s.GetStatus("/r/b.txt")
	assert.True(t, ok, "errors are kept")

	s.Unsubscribe(ch)
	for range ch {
		// drain until closed
	}
}

func TestSyncStatus_SlowSubscriberDoesNotBlock(t *testing.T) {
	s := NewSyncStatus()
	ch := s.Subscribe()
	for range syncEventBufferSize * 2 {
		s.SetSyncing("/r/a.txt", EventModified)
	}
	assert.Len(t, ch, syncEventBufferSize)

	s.Close()
	_, open := <-ch
	assert.True(t, open, "buffered events are still readable after close")
	assert.Empty(t, s.GetAllStatus())
}
