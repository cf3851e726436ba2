package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate_NormalizesAndDefaults(t *testing.T) {
	tmp := t.TempDir()
	cfg := Default()
	cfg.WatchDir = tmp + "/./"
	cfg.StateDir = filepath.Join(tmp, "state", "..", "state")
	cfg.Remote.Backend = "MEMORY"
	cfg.DeleteRemote = "Never"
	cfg.EmptyPlaceholder = ""
	cfg.UploadConcurrency = 0

	require.NoError(t, cfg.Validate())
	assert.Equal(t, filepath.Clean(tmp), cfg.WatchDir)
	assert.Equal(t, filepath.Join(tmp, "state"), cfg.StateDir)
	assert.Equal(t, BackendMemory, cfg.Remote.Backend)
	assert.Equal(t, DeleteNever, cfg.DeleteRemote)
	assert.Equal(t, DefaultPlaceholder, cfg.EmptyPlaceholder)
	assert.Equal(t, 1, cfg.UploadConcurrency)
	assert.Equal(t, filepath.Join(tmp, "state", "filesystem.json"), cfg.StateFile())
	assert.Equal(t, filepath.Join(tmp, "state", "s3index.db"), cfg.S3IndexPath())
}

func TestConfig_Validate_ErrorsOnInvalidInputs(t *testing.T) {
	tmp := t.TempDir()

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr error
	}{
		{
			name:    "missing watch dir",
			mutate:  func(c *Config) { c.WatchDir = filepath.Join(tmp, "nope") },
			wantErr: ErrWatchDirMissing,
		},
		{
			name:    "zero interval",
			mutate:  func(c *Config) { c.Interval = 0 },
			wantErr: ErrInvalidInterval,
		},
		{
			name:    "bad backend",
			mutate:  func(c *Config) { c.Remote.Backend = "ftp" },
			wantErr: ErrInvalidBackend,
		},
		{
			name:    "bad delete mode",
			mutate:  func(c *Config) { c.DeleteRemote = "sometimes" },
			wantErr: ErrInvalidDelete,
		},
		{
			name:    "bad watcher",
			mutate:  func(c *Config) { c.Watcher = "poll" },
			wantErr: ErrInvalidWatcher,
		},
		{
			name: "s3 without bucket",
			mutate: func(c *Config) {
				c.Remote.Backend = BackendS3
				c.Remote.S3.Bucket = ""
			},
			wantErr: ErrMissingBucket,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.StateDir = filepath.Join(tmp, "state")
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	t.Run("bad log level", func(t *testing.T) {
		cfg := Default()
		cfg.Log.Level = "loud"
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "log level")
	})
}

func TestConfig_SaveAndLoad_Roundtrip(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "config.json")

	cfg := Default()
	cfg.Path = path
	cfg.StateDir = filepath.Join(tmp, "state")
	cfg.Interval = 3 * time.Second
	cfg.DeleteRemote = DeleteAlways
	cfg.Remote.Backend = BackendS3
	cfg.Remote.S3.Bucket = "bucket"
	cfg.Remote.S3.AccessKey = "AKIAEXAMPLE"
	cfg.Ignore.Patterns = []string{"*.tmp"}

	require.NoError(t, cfg.Validate())
	require.NoError(t, cfg.Save())

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	require.NoError(t, loaded.Validate())

	assert.Equal(t, cfg.StateDir, loaded.StateDir)
	assert.Equal(t, cfg.Interval, loaded.Interval)
	assert.Equal(t, DeleteAlways, loaded.DeleteRemote)
	assert.Equal(t, BackendS3, loaded.Remote.Backend)
	assert.Equal(t, "bucket", loaded.Remote.S3.Bucket)
	assert.Equal(t, []string{"*.tmp"}, loaded.Ignore.Patterns)
	assert.Equal(t, cfg.Remote.Retry, loaded.Remote.Retry)
	assert.Equal(t, path, loaded.Path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestFromViper_LayersOverDefaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("interval", "250ms")
	v.Set("remote.backend", "memory")

	cfg, err := FromViper(v)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cfg.Interval)
	assert.Equal(t, BackendMemory, cfg.Remote.Backend)
	assert.Equal(t, WatcherNotify, cfg.Watcher)
	assert.Equal(t, DefaultPlaceholder, cfg.EmptyPlaceholder)
	assert.Contains(t, cfg.Ignore.Dirs, ".git")
}

func TestConfig_LogValueMasksSecrets(t *testing.T) {
	cfg := Default()
	cfg.Remote.S3.AccessKey = "AKIAVERYSECRET"
	v := cfg.LogValue()
	assert.Equal(t, slog.KindGroup, v.Kind())
	for _, a := range v.Group() {
		if a.Key == "s3_access_key" {
			assert.Equal(t, "AKIA*****", a.Value.String())
		}
	}
}

func TestParseLogLevel(t *testing.T) {
	l, err := ParseLogLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, l)

	l, err = ParseLogLevel("")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, l)

	_, err = ParseLogLevel("chatty")
	assert.Error(t, err)
}
