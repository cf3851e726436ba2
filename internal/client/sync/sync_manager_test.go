package sync

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/openmined/drivesync/internal/client/pathmap"
	"github.com/openmined/drivesync/internal/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncManager_ColdStartSeedsBeforeWatching(t *testing.T) {
	f := newFixture(t)
	writeFile(t, f.path("a.txt"), "a")
	src := newChanSource()

	m := NewManager(f.pm, f.handler, f.uploader, src, f.ignore)
	require.NoError(t, m.Start(t.Context()))
	assert.True(t, src.started)
	assert.True(t, f.reload(t).HasDir(f.root), "seed persisted before the watcher started")
	assert.Equal(t, []string{"a.txt"}, fileNames(f.entry(t, f.root)))

	writeFile(t, f.path("b.txt"), "b")
	src.ch <- Event{Type: EventCreated, Path: f.path("b.txt")}
	require.Eventually(t, func() bool {
		_, err := f.pm.LookupFile(f.root, "b.txt")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, m.Stop())
	require.NoError(t, m.Stop(), "stop is idempotent")
	assert.Equal(t, int64(1), m.Status().Counters().Created)
}

func TestSyncManager_WarmStartDoesNotReseed(t *testing.T) {
	f := newFixture(t)
	writeFile(t, f.path("a.txt"), "a")
	f.seed(t)
	writeFile(t, f.path("offline.txt"), "written while stopped")

	pm := f.reload(t)
	f.pm = pm
	f.build(f.svc)
	f.svc.ResetCalls()

	src := newChanSource()
	m := NewManager(f.pm, f.handler, f.uploader, src, f.ignore)
	require.NoError(t, m.Start(t.Context()))
	require.NoError(t, m.Stop())

	assert.Empty(t, f.svc.Calls(remote.OpCreate), "drift is only reported")
	assert.Equal(t, []string{"a.txt"}, fileNames(f.entry(t, f.root)))
}

func TestSyncManager_ResumesInterruptedColdStart(t *testing.T) {
	f := newFixture(t)
	writeFile(t, f.path("a.txt"), "a")
	writeFile(t, f.path("sub", "b.txt"), "b")

	// only the root made it before the previous run died
	rootID, err := f.svc.CreateObject(t.Context(), &remote.CreateParams{Name: "root", IsFolder: true})
	require.NoError(t, err)
	require.NoError(t, f.pm.InsertDir(f.root, rootID))

	f.pm = f.reload(t)
	require.False(t, f.pm.Seeded())
	f.build(f.svc)
	f.svc.ResetCalls()

	src := newChanSource()
	m := NewManager(f.pm, f.handler, f.uploader, src, f.ignore)
	require.NoError(t, m.Start(t.Context()))
	require.NoError(t, m.Stop())

	assert.Equal(t, []string{"a.txt"}, fileNames(f.entry(t, f.root)))
	assert.Equal(t, []string{"b.txt"}, fileNames(f.entry(t, f.path("sub"))))
	assert.Len(t, f.svc.Calls(remote.OpCreate), 3, "sub, a.txt and b.txt; the root is reused")
	assert.True(t, f.reload(t).Seeded())
}

func TestSyncManager_ColdStartFailuresResumeNextRun(t *testing.T) {
	f := newFixture(t)
	writeFile(t, f.path("a.txt"), "a")
	writeFile(t, f.path("b.txt"), "b")
	f.build(&failingService{Service: f.svc, failNames: map[string]error{"a.txt": errPermanent}})

	src := newChanSource()
	m := NewManager(f.pm, f.handler, f.uploader, src, f.ignore)
	require.NoError(t, m.Start(t.Context()))
	require.NoError(t, m.Stop())
	assert.Equal(t, []string{"b.txt"}, fileNames(f.entry(t, f.root)))
	assert.False(t, f.reload(t).Seeded())

	f.pm = f.reload(t)
	f.build(f.svc)
	f.svc.ResetCalls()

	src = newChanSource()
	m = NewManager(f.pm, f.handler, f.uploader, src, f.ignore)
	require.NoError(t, m.Start(t.Context()))
	require.NoError(t, m.Stop())

	assert.ElementsMatch(t, []string{"a.txt", "b.txt"}, fileNames(f.entry(t, f.root)))
	assert.Len(t, f.svc.Calls(remote.OpCreate), 1, "only a.txt is created; b.txt was already tracked")
	assert.True(t, f.reload(t).Seeded())
}

func TestSyncManager_WarmStartResync(t *testing.T) {
	f := newFixture(t)
	writeFile(t, f.path("a.txt"), "a")
	f.seed(t)
	writeFile(t, f.path("offline.txt"), "written while stopped")
	writeFile(t, f.path("newdir", "x.txt"), "x")

	src := newChanSource()
	m := NewManager(f.pm, f.handler, f.uploader, src, f.ignore, WithResync(true))
	require.NoError(t, m.Start(t.Context()))
	require.NoError(t, m.Stop())

	assert.Equal(t, []string{"a.txt", "offline.txt"}, fileNames(f.entry(t, f.root)))
	assert.Equal(t, []string{"x.txt"}, fileNames(f.entry(t, f.path("newdir"))))
}

func TestSyncManager_ResyncReconcilesMissingDirs(t *testing.T) {
	f := newFixture(t)
	writeFile(t, f.path("keep.txt"), "k")
	writeFile(t, f.path("gone", "x.txt"), "x")
	f.seed(t)
	goneID := f.entry(t, f.path("gone")).ID
	require.NoError(t, os.RemoveAll(f.path("gone")))

	f.decider.answer(false)
	src := newChanSource()
	m := NewManager(f.pm, f.handler, f.uploader, src, f.ignore, WithResync(true))
	require.NoError(t, m.Start(t.Context()))
	require.NoError(t, m.Stop())

	assert.False(t, f.pm.HasDir(f.path("gone")), "map keys only name existing directories")
	require.Len(t, f.decider.asked(), 1)
	assert.Equal(t, f.path("gone"), f.decider.asked()[0].Path)
	_, _, ok := f.svc.Get(goneID)
	assert.True(t, ok, "remote copy kept as decided")
	assert.Equal(t, []string{"keep.txt"}, fileNames(f.entry(t, f.root)))
}

func TestSyncManager_StopDuringPendingDecision(t *testing.T) {
	f := newFixture(t)
	writeFile(t, f.path("a.txt"), "a")
	f.seed(t)
	aID := f.fileID(t, f.path("a.txt"))

	asked := make(chan struct{})
	decider := DeciderFunc(func(ctx context.Context, _ *DeletionRequest) (bool, error) {
		close(asked)
		<-ctx.Done()
		return false, nil
	})
	f.handler = NewHandler(f.pm, f.svc, f.ignore, f.uploader, NewReconciler(f.pm, f.svc, decider, nil))

	ctx, cancel := context.WithCancel(t.Context())
	src := newChanSource()
	m := NewManager(f.pm, f.handler, f.uploader, src, f.ignore)
	require.NoError(t, m.Start(ctx))

	require.NoError(t, os.Remove(f.path("a.txt")))
	src.ch <- Event{Type: EventDeleted, Path: f.path("a.txt")}
	<-asked

	cancel()
	stopped := make(chan struct{})
	go func() {
		_ = m.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked on a pending deletion question")
	}

	_, _, ok := f.svc.Get(aID)
	assert.True(t, ok, "remote copy kept")
	_, err := f.pm.LookupFile(f.root, "a.txt")
	assert.ErrorIs(t, err, pathmap.ErrNotFound)
}

func TestSyncManager_FaultsAreNotFatal(t *testing.T) {
	f := newFixture(t)
	src := newChanSource()
	m := NewManager(f.pm, f.handler, f.uploader, src, f.ignore)
	require.NoError(t, m.Start(t.Context()))

	writeFile(t, f.path("ghost", "a.txt"), "a")
	writeFile(t, f.path("ok.txt"), "ok")
	src.ch <- Event{Type: EventModified, Path: f.path("ghost", "a.txt")}
	src.ch <- Event{Type: EventCreated, Path: f.path("ok.txt")}

	require.Eventually(t, func() bool {
		_, err := f.pm.LookupFile(f.root, "ok.txt")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, m.Stop())
	assert.Equal(t, int64(1), m.Status().Counters().Faults)
}

func TestSyncManager_InFlightEventFinishesAfterCancel(t *testing.T) {
	f := newFixture(t)
	svc := &blockingService{Service: f.svc, release: make(chan struct{}), entered: make(chan struct{}, 1)}
	f.build(svc)
	f.seed(t)

	ctx, cancel := context.WithCancel(t.Context())
	src := newChanSource()
	m := NewManager(f.pm, f.handler, f.uploader, src, f.ignore)
	require.NoError(t, m.Start(ctx))

	writeFile(t, f.path("slow.txt"), "slow")
	svc.block.Store(true)
	src.ch <- Event{Type: EventCreated, Path: f.path("slow.txt")}
	<-svc.entered

	cancel()
	close(svc.release)
	require.NoError(t, m.Stop())

	_, err := f.pm.LookupFile(f.root, "slow.txt")
	assert.NoError(t, err, "the transition in flight completed")
}

func TestSyncManager_ColdStartFailure(t *testing.T) {
	f := newFixture(t)
	f.build(&failingService{Service: f.svc, failNames: map[string]error{"root": errPermanent}})

	src := newChanSource()
	m := NewManager(f.pm, f.handler, f.uploader, src, f.ignore)
	require.ErrorIs(t, m.Start(t.Context()), errPermanent)
	assert.False(t, src.started)
	require.NoError(t, m.Stop())
}
