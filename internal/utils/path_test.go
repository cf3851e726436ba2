package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePath(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantError bool
	}{
		{name: "empty path", input: "", wantError: true},
		{name: "relative path", input: "./test", wantError: false},
		{name: "absolute path", input: "/tmp/test/../test2", wantError: false},
		{name: "home path", input: "~/docs", wantError: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ResolvePath(tt.input)
			if tt.wantError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, filepath.IsAbs(result))
			assert.Equal(t, filepath.Clean(result), result)
		})
	}
}

func TestEnsureDirAndExists(t *testing.T) {
	base := t.TempDir()
	nested := filepath.Join(base, "a", "b")
	file := filepath.Join(nested, "c.txt")

	require.NoError(t, EnsureParent(file))
	assert.True(t, DirExists(nested))
	assert.False(t, FileExists(nested))

	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	assert.True(t, FileExists(file))
	assert.False(t, DirExists(file))

	// idempotent
	require.NoError(t, EnsureDir(nested))
}

func TestIsSubpath(t *testing.T) {
	root := filepath.FromSlash("/data/root")
	tests := []struct {
		path string
		want bool
	}{
		{"/data/root", true},
		{"/data/root/a", true},
		{"/data/root/a/b.txt", true},
		{"/data/rootx", false},
		{"/data", false},
		{"/other/root/a", false},
		{"/data/root/..foo", true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, IsSubpath(root, filepath.FromSlash(tt.path)))
		})
	}
}

func TestRelativeParts(t *testing.T) {
	root := filepath.FromSlash("/data/root")
	assert.Nil(t, RelativeParts(root, root))
	assert.Nil(t, RelativeParts(root, filepath.FromSlash("/elsewhere")))
	assert.Equal(t, []string{"a", "b", "c.txt"}, RelativeParts(root, filepath.FromSlash("/data/root/a/b/c.txt")))
}
