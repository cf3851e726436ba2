package sync

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/openmined/drivesync/internal/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTreeUploader_SeedsTree(t *testing.T) {
	f := newFixture(t)
	writeFile(t, f.path("a.txt"), "0123456789")
	require.NoError(t, os.Mkdir(f.path("sub"), 0o755))

	summary := f.seed(t)
	assert.Equal(t, 2, summary.Folders)
	assert.Equal(t, 1, summary.Files)

	creates := f.svc.Calls(remote.OpCreate)
	require.Len(t, creates, 3)
	assert.True(t, creates[0].IsFolder)
	assert.Equal(t, filepath.Base(f.root), creates[0].Name)
	assert.Empty(t, creates[0].ParentID, "root folder lands in the default root")

	rootEntry := f.entry(t, f.root)
	require.Len(t, rootEntry.Files, 1)
	assert.Equal(t, "a.txt", rootEntry.Files[0].Name)
	obj, content, ok := f.svc.Get(rootEntry.Files[0].ID)
	require.True(t, ok)
	assert.Equal(t, []string{rootEntry.ID}, obj.ParentIDs)
	assert.Equal(t, "0123456789", string(content))

	subEntry := f.entry(t, f.path("sub"))
	assert.Empty(t, subEntry.Files)
	obj, _, ok = f.svc.Get(subEntry.ID)
	require.True(t, ok)
	assert.True(t, obj.IsFolder)
	assert.Equal(t, []string{rootEntry.ID}, obj.ParentIDs)

	require.NoError(t, f.pm.Validate())
}

func TestTreeUploader_ParentsFirstAndLexicalOrder(t *testing.T) {
	f := newFixture(t)
	for _, name := range []string{"c.txt", "a.txt", "b.txt"} {
		writeFile(t, f.path(name), "data "+name)
	}
	writeFile(t, f.path("x", "y", "deep.txt"), "deep")

	summary := f.seed(t)
	assert.Equal(t, 3, summary.Folders)
	assert.Equal(t, 4, summary.Files)

	assert.Equal(t, []string{"a.txt", "b.txt", "c.txt"}, fileNames(f.entry(t, f.root)))
	assert.Equal(t, []string{f.root, f.path("x"), f.path("x", "y")}, f.pm.Dirs())

	// every create names a parent that already exists
	x := f.entry(t, f.path("x"))
	y := f.entry(t, f.path("x", "y"))
	obj, _, ok := f.svc.Get(y.ID)
	require.True(t, ok)
	assert.Equal(t, []string{x.ID}, obj.ParentIDs)
}

func TestTreeUploader_Skips(t *testing.T) {
	f := newFixture(t)
	writeFile(t, f.path("keep.txt"), "keep")
	writeFile(t, f.path("empty.txt"), "")
	writeFile(t, f.path(".DS_Store"), "junk")
	writeFile(t, f.path("build.tmp"), "junk")
	writeFile(t, f.path(".git", "config"), "junk")
	require.NoError(t, os.Symlink(f.path("keep.txt"), f.path("link.txt")))

	summary := f.seed(t)
	assert.Equal(t, 1, summary.Files)
	assert.Equal(t, 1, summary.SkippedEmpty)
	assert.Equal(t, 3, summary.SkippedIgnored)
	assert.Equal(t, 1, summary.Folders)

	assert.Equal(t, []string{"keep.txt"}, fileNames(f.entry(t, f.root)))
	assert.False(t, f.pm.HasDir(f.path(".git")))
}

func TestTreeUploader_ItemFailuresAreSkipped(t *testing.T) {
	f := newFixture(t)
	writeFile(t, f.path("ok.txt"), "ok")
	writeFile(t, f.path("bad.txt"), "bad")
	writeFile(t, f.path("badsub", "inner.txt"), "inner")
	writeFile(t, f.path("goodsub", "inner.txt"), "inner")

	f.build(&failingService{
		Service:   f.svc,
		failNames: map[string]error{"bad.txt": errPermanent, "badsub": errPermanent},
	})

	summary := f.seed(t)
	assert.Equal(t, 2, summary.Failed)
	assert.Equal(t, 2, summary.Files)

	assert.Equal(t, []string{"ok.txt"}, fileNames(f.entry(t, f.root)))
	assert.False(t, f.pm.HasDir(f.path("badsub")), "failed folder skips its subtree")
	assert.True(t, f.pm.HasDir(f.path("goodsub")))
}

func TestTreeUploader_RootFailureAborts(t *testing.T) {
	f := newFixture(t)
	f.build(&failingService{
		Service:   f.svc,
		failNames: map[string]error{filepath.Base(f.root): errPermanent},
	})

	_, err := f.uploader.Upload(t.Context())
	require.ErrorIs(t, err, errPermanent)
	assert.Equal(t, 0, f.pm.Len())
	assert.NoFileExists(t, f.statePath)
}

func TestTreeUploader_CancelledContext(t *testing.T) {
	f := newFixture(t)
	writeFile(t, f.path("a.txt"), "a")

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err := f.uploader.Upload(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestTreeUploader_PersistsEveryInsert(t *testing.T) {
	f := newFixture(t)
	writeFile(t, f.path("a.txt"), "a")
	writeFile(t, f.path("sub", "b.txt"), "b")
	f.seed(t)

	loaded := f.reload(t)
	assert.Equal(t, f.pm.Snapshot(), loaded.Snapshot())
	assert.True(t, loaded.Loaded())
}

func TestTreeUploader_UploadSubtreeAdoptsExisting(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	rootID := f.entry(t, f.root).ID

	// the remote already has part of the directory
	existingDir, err := f.svc.CreateObject(t.Context(), &remote.CreateParams{Name: "moved", ParentID: rootID, IsFolder: true})
	require.NoError(t, err)
	existingFile, err := f.svc.CreateObject(t.Context(), &remote.CreateParams{Name: "a.txt", ParentID: existingDir, Content: remote.BytesContent([]byte("old"))})
	require.NoError(t, err)

	writeFile(t, f.path("moved", "a.txt"), "new content")
	writeFile(t, f.path("moved", "b.txt"), "b")
	require.NoError(t, f.pm.InsertDir(f.path("moved"), existingDir))

	summary, err := f.uploader.UploadSubtree(t.Context(), f.path("moved"))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Adopted)
	assert.Equal(t, 1, summary.Files)

	assert.Equal(t, existingFile, f.fileID(t, f.path("moved", "a.txt")))
	_, content, _ := f.svc.Get(existingFile)
	assert.Equal(t, "new content", string(content))

	// running it again changes nothing
	f.svc.ResetCalls()
	summary, err = f.uploader.UploadSubtree(t.Context(), f.path("moved"))
	require.NoError(t, err)
	assert.Equal(t, UploadSummary{}, *summary)
	assert.Empty(t, f.svc.Calls(remote.OpCreate, remote.OpUpdate))
}

func TestTreeUploader_UploadSubtreeRequiresTrackedDir(t *testing.T) {
	f := newFixture(t)
	_, err := f.uploader.UploadSubtree(t.Context(), f.path("nope"))
	require.Error(t, err)
}
