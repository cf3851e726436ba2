package client

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openmined/drivesync/internal/client/config"
	"github.com/openmined/drivesync/internal/client/confirm"
	"github.com/openmined/drivesync/internal/client/workspace"
	"github.com/openmined/drivesync/internal/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	// macos is funny =)
	// tmpdir lives in /var/folders but it's actually symlink to /private/var/folders
	base, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	root := filepath.Join(base, "root")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0o644))

	cfg := config.Default()
	cfg.WatchDir = root
	cfg.StateDir = filepath.Join(base, "state")
	cfg.Path = filepath.Join(base, "config.json")
	cfg.Remote.Backend = config.BackendMemory
	cfg.DeleteRemote = config.DeleteNever
	cfg.Interval = 20 * time.Millisecond
	cfg.Log.File = ""
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestClient_ColdStartAndLiveEvents(t *testing.T) {
	cfg := testConfig(t)
	svc := remote.NewMemoryService()

	c, err := New(t.Context(), cfg, WithService(svc), WithDecider(confirm.Policy(true)))
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()

	require.Eventually(t, func() bool {
		_, err := c.PathMap().LookupFile(cfg.WatchDir, "a.txt")
		return err == nil
	}, 3*time.Second, 20*time.Millisecond)
	assert.True(t, c.PathMap().HasDir(filepath.Join(cfg.WatchDir, "sub")))

	require.NoError(t, os.WriteFile(filepath.Join(cfg.WatchDir, "b.txt"), []byte("b"), 0o644))
	require.Eventually(t, func() bool {
		_, err := c.PathMap().LookupFile(cfg.WatchDir, "b.txt")
		return err == nil
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		require.FailNow(t, "client did not stop")
	}

	assert.FileExists(t, cfg.StateFile())
	assert.Len(t, svc.Calls(remote.OpCreate), 4, "root, sub, a.txt and b.txt")
}

func TestClient_WorkspaceLocked(t *testing.T) {
	cfg := testConfig(t)

	c1, err := New(t.Context(), cfg, WithService(remote.NewMemoryService()))
	require.NoError(t, err)

	_, err = New(t.Context(), cfg, WithService(remote.NewMemoryService()))
	require.ErrorIs(t, err, workspace.ErrWorkspaceLocked)

	require.NoError(t, c1.Close())

	c3, err := New(t.Context(), cfg, WithService(remote.NewMemoryService()))
	require.NoError(t, err)
	require.NoError(t, c3.Close())
}

func TestClient_InvalidState(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.MkdirAll(cfg.StateDir, 0o755))
	require.NoError(t, os.WriteFile(cfg.StateFile(), []byte("{not json"), 0o644))

	_, err := New(t.Context(), cfg, WithService(remote.NewMemoryService()))
	require.Error(t, err)

	// the failed start released the lock
	ws, err := workspace.NewWorkspace(cfg.WatchDir, cfg.StateDir)
	require.NoError(t, err)
	require.NoError(t, ws.Lock())
	require.NoError(t, ws.Unlock())
}

func TestNewService(t *testing.T) {
	cfg := testConfig(t)

	svc, closer, err := NewService(t.Context(), cfg, nil)
	require.NoError(t, err)
	assert.Nil(t, closer)
	assert.NotNil(t, svc)

	cfg.Remote.Backend = config.BackendDrive
	cfg.Remote.Drive.CredentialsFile = filepath.Join(t.TempDir(), "missing.json")
	_, _, err = NewService(t.Context(), cfg, nil)
	require.Error(t, err)

	cfg.Remote.Backend = "ftp"
	_, _, err = NewService(t.Context(), cfg, nil)
	require.ErrorIs(t, err, config.ErrInvalidBackend)
}
