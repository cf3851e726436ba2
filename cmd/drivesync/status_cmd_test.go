package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/openmined/drivesync/internal/client/pathmap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// trackedTree lays out root with a.txt tracked, b.txt untracked and gone.txt
// tracked but missing on disk.
func trackedTree(t *testing.T) (root, stateDir string) {
	t.Helper()
	root = t.TempDir()
	stateDir = t.TempDir()
	writeFiles(t, root, map[string]string{"a.txt": "a", "b.txt": "b"})

	pm := pathmap.New(root, pathmap.NewFileStore(filepath.Join(stateDir, "filesystem.json")))
	require.NoError(t, pm.InsertDir(root, "root-id"))
	require.NoError(t, pm.InsertFile(root, "a.txt", "file-a"))
	require.NoError(t, pm.InsertFile(root, "gone.txt", "file-gone"))
	return root, stateDir
}

func TestStatus_ReportsDrift(t *testing.T) {
	root, stateDir := trackedTree(t)

	stdout, _, err := runCLI(t, t.Context(),
		"--config", writeTestConfig(t, ""),
		"status", root, "--state-dir", stateDir, "-o", "json",
	)
	require.NoError(t, err)

	var report statusReport
	require.NoError(t, json.Unmarshal([]byte(stdout), &report))
	assert.True(t, report.Tracked)
	assert.Equal(t, "root-id", report.RootID)
	assert.Equal(t, 1, report.Dirs)
	assert.Equal(t, 2, report.Files)
	require.NotNil(t, report.Drift)
	assert.Equal(t, []string{filepath.Join(root, "b.txt")}, report.Drift.UntrackedFiles)
	assert.Equal(t, []string{filepath.Join(root, "gone.txt")}, report.Drift.MissingFiles)

	stdout, _, err = runCLI(t, t.Context(),
		"--config", writeTestConfig(t, ""),
		"status", root, "--state-dir", stateDir,
	)
	require.NoError(t, err)
	assert.Contains(t, stdout, "root-id")
	assert.Contains(t, stdout, "untracked file")
	assert.Contains(t, stdout, "missing file")
}

func TestStatus_InSync(t *testing.T) {
	root, stateDir := trackedTree(t)
	require.NoError(t, os.Remove(filepath.Join(root, "b.txt")))
	writeFiles(t, root, map[string]string{"gone.txt": "back"})

	stdout, _, err := runCLI(t, t.Context(),
		"--config", writeTestConfig(t, ""),
		"status", root, "--state-dir", stateDir,
	)
	require.NoError(t, err)
	assert.Contains(t, stdout, "in sync")
}

func TestStatus_NotSyncedYet(t *testing.T) {
	root := t.TempDir()

	stdout, _, err := runCLI(t, t.Context(), "--config", writeTestConfig(t, ""), "status", root)
	require.NoError(t, err)
	assert.Contains(t, stdout, "not synced yet")
	assert.NoFileExists(t, filepath.Join(root, ".drivesync", "filesystem.json"), "status never writes state")
}
