package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/openmined/drivesync/internal/utils"
	"github.com/spf13/viper"
)

const (
	BackendDrive  = "drive"
	BackendS3     = "s3"
	BackendMemory = "memory"

	DeletePrompt = "prompt"
	DeleteAlways = "always"
	DeleteNever  = "never"

	WatcherNotify   = "notify"
	WatcherFSNotify = "fsnotify"

	DefaultStateDirName = ".drivesync"
	DefaultPlaceholder  = "\t"
)

var (
	home, _                = os.UserHomeDir()
	DefaultConfigDir       = filepath.Join(home, ".drivesync")
	DefaultConfigPath      = filepath.Join(DefaultConfigDir, "config.json")
	DefaultCredentialsPath = filepath.Join(DefaultConfigDir, "credentials.json")
	DefaultTokenPath       = filepath.Join(DefaultConfigDir, "token.json")
	DefaultLogFilePath     = filepath.Join(DefaultConfigDir, "logs", "drivesync.log")
)

var (
	ErrInvalidBackend  = errors.New("invalid remote backend")
	ErrInvalidDelete   = errors.New("invalid delete_remote mode")
	ErrInvalidWatcher  = errors.New("invalid watcher")
	ErrInvalidInterval = errors.New("interval must be positive")
	ErrWatchDirMissing = errors.New("watch directory does not exist")
	ErrMissingBucket   = errors.New("s3 bucket is required")
)

type Config struct {
	WatchDir          string        `json:"watch_dir,omitempty" mapstructure:"watch_dir"`
	StateDir          string        `json:"state_dir,omitempty" mapstructure:"state_dir"`
	Interval          time.Duration `json:"interval" mapstructure:"interval"`
	Watcher           string        `json:"watcher" mapstructure:"watcher"`
	DeleteRemote      string        `json:"delete_remote" mapstructure:"delete_remote"`
	EmptyPlaceholder  string        `json:"empty_placeholder" mapstructure:"empty_placeholder"`
	UploadConcurrency int           `json:"upload_concurrency" mapstructure:"upload_concurrency"`
	Resync            bool          `json:"resync" mapstructure:"resync"`
	Ignore            IgnoreConfig  `json:"ignore" mapstructure:"ignore"`
	Remote            RemoteConfig  `json:"remote" mapstructure:"remote"`
	HTTP              HTTPConfig    `json:"http" mapstructure:"http"`
	Log               LogConfig     `json:"log" mapstructure:"log"`
	Path              string        `json:"-" mapstructure:"-"`
}

type IgnoreConfig struct {
	Dirs     []string `json:"dirs" mapstructure:"dirs"`
	Files    []string `json:"files" mapstructure:"files"`
	Patterns []string `json:"patterns,omitempty" mapstructure:"patterns"`
}

type RemoteConfig struct {
	Backend string      `json:"backend" mapstructure:"backend"`
	Drive   DriveConfig `json:"drive" mapstructure:"drive"`
	S3      S3Config    `json:"s3" mapstructure:"s3"`
	Retry   RetryConfig `json:"retry" mapstructure:"retry"`
}

type DriveConfig struct {
	CredentialsFile string `json:"credentials_file" mapstructure:"credentials_file"`
	TokenFile       string `json:"token_file" mapstructure:"token_file"`
	APIURL          string `json:"api_url,omitempty" mapstructure:"api_url"`
	UploadURL       string `json:"upload_url,omitempty" mapstructure:"upload_url"`
}

type S3Config struct {
	Bucket    string `json:"bucket,omitempty" mapstructure:"bucket"`
	Region    string `json:"region,omitempty" mapstructure:"region"`
	AccessKey string `json:"access_key,omitempty" mapstructure:"access_key"`
	SecretKey string `json:"secret_key,omitempty" mapstructure:"secret_key"`
	Endpoint  string `json:"endpoint,omitempty" mapstructure:"endpoint"`
	Prefix    string `json:"prefix,omitempty" mapstructure:"prefix"`
	IndexPath string `json:"index_path,omitempty" mapstructure:"index_path"`
}

type RetryConfig struct {
	MaxAttempts int           `json:"max_attempts" mapstructure:"max_attempts"`
	BaseDelay   time.Duration `json:"base_delay" mapstructure:"base_delay"`
	MaxDelay    time.Duration `json:"max_delay" mapstructure:"max_delay"`
}

type HTTPConfig struct {
	Addr      string `json:"addr,omitempty" mapstructure:"addr"`
	Token     string `json:"token,omitempty" mapstructure:"token"`
	RateLimit string `json:"rate_limit,omitempty" mapstructure:"rate_limit"`
}

type LogConfig struct {
	Level      string `json:"level" mapstructure:"level"`
	File       string `json:"file,omitempty" mapstructure:"file"`
	MaxSizeMB  int    `json:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" mapstructure:"max_age_days"`
}

// Default returns a config with every optional field populated.
func Default() *Config {
	return &Config{
		StateDir:          DefaultStateDirName,
		Interval:          time.Second,
		Watcher:           WatcherNotify,
		DeleteRemote:      DeletePrompt,
		EmptyPlaceholder:  DefaultPlaceholder,
		UploadConcurrency: 4,
		Ignore: IgnoreConfig{
			Dirs:  []string{".git", "__pycache__", ".idea", ".vscode", "node_modules", DefaultStateDirName},
			Files: []string{".DS_Store", "Thumbs.db", "desktop.ini"},
		},
		Remote: RemoteConfig{
			Backend: BackendDrive,
			Drive: DriveConfig{
				CredentialsFile: DefaultCredentialsPath,
				TokenFile:       DefaultTokenPath,
			},
			S3: S3Config{
				Region: "us-east-1",
				Prefix: "drivesync",
			},
			Retry: RetryConfig{
				MaxAttempts: 4,
				BaseDelay:   500 * time.Millisecond,
				MaxDelay:    10 * time.Second,
			},
		},
		HTTP: HTTPConfig{
			RateLimit: "20-S",
		},
		Log: LogConfig{
			Level:      "info",
			File:       DefaultLogFilePath,
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Path: DefaultConfigPath,
	}
}

// SetDefaults registers Default() with v so that partial config files and
// env vars are layered on top of it.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("state_dir", d.StateDir)
	v.SetDefault("interval", d.Interval)
	v.SetDefault("watcher", d.Watcher)
	v.SetDefault("delete_remote", d.DeleteRemote)
	v.SetDefault("empty_placeholder", d.EmptyPlaceholder)
	v.SetDefault("upload_concurrency", d.UploadConcurrency)
	v.SetDefault("resync", d.Resync)
	v.SetDefault("ignore.dirs", d.Ignore.Dirs)
	v.SetDefault("ignore.files", d.Ignore.Files)
	v.SetDefault("remote.backend", d.Remote.Backend)
	v.SetDefault("remote.drive.credentials_file", d.Remote.Drive.CredentialsFile)
	v.SetDefault("remote.drive.token_file", d.Remote.Drive.TokenFile)
	v.SetDefault("remote.s3.region", d.Remote.S3.Region)
	v.SetDefault("remote.s3.prefix", d.Remote.S3.Prefix)
	v.SetDefault("remote.retry.max_attempts", d.Remote.Retry.MaxAttempts)
	v.SetDefault("remote.retry.base_delay", d.Remote.Retry.BaseDelay)
	v.SetDefault("remote.retry.max_delay", d.Remote.Retry.MaxDelay)
	v.SetDefault("http.rate_limit", d.HTTP.RateLimit)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
}

// FromViper decodes v into a Config. The result is not validated.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if used := v.ConfigFileUsed(); used != "" {
		cfg.Path = used
	}
	return cfg, nil
}

// LoadFromFile reads a single config file on top of the defaults.
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config read '%s': %w", path, err)
	}
	return FromViper(v)
}

// Validate normalizes paths and rejects unusable values.
func (c *Config) Validate() error {
	var err error

	if c.WatchDir != "" {
		if c.WatchDir, err = utils.ResolvePath(c.WatchDir); err != nil {
			return fmt.Errorf("watch dir: %w", err)
		}
		if !utils.DirExists(c.WatchDir) {
			return fmt.Errorf("%w: %s", ErrWatchDirMissing, c.WatchDir)
		}
	}

	if c.StateDir == "" {
		c.StateDir = DefaultStateDirName
	}
	// a relative state dir lives inside the watched tree
	if c.WatchDir != "" && !filepath.IsAbs(c.StateDir) && !strings.HasPrefix(c.StateDir, "~") {
		c.StateDir = filepath.Join(c.WatchDir, c.StateDir)
	}
	if c.StateDir, err = utils.ResolvePath(c.StateDir); err != nil {
		return fmt.Errorf("state dir: %w", err)
	}

	if c.Path != "" {
		if c.Path, err = utils.ResolvePath(c.Path); err != nil {
			return fmt.Errorf("config path: %w", err)
		}
	}

	if c.Interval <= 0 {
		return ErrInvalidInterval
	}
	if c.UploadConcurrency <= 0 {
		c.UploadConcurrency = 1
	}

	c.Watcher = strings.ToLower(c.Watcher)
	if !slices.Contains([]string{WatcherNotify, WatcherFSNotify}, c.Watcher) {
		return fmt.Errorf("%w: %q", ErrInvalidWatcher, c.Watcher)
	}

	c.DeleteRemote = strings.ToLower(c.DeleteRemote)
	if !slices.Contains([]string{DeletePrompt, DeleteAlways, DeleteNever}, c.DeleteRemote) {
		return fmt.Errorf("%w: %q", ErrInvalidDelete, c.DeleteRemote)
	}

	if c.EmptyPlaceholder == "" {
		c.EmptyPlaceholder = DefaultPlaceholder
	}

	if err := c.Remote.validate(); err != nil {
		return err
	}

	if _, err := ParseLogLevel(c.Log.Level); err != nil {
		return err
	}

	return nil
}

func (r *RemoteConfig) validate() error {
	var err error

	r.Backend = strings.ToLower(r.Backend)
	switch r.Backend {
	case BackendDrive:
		if r.Drive.CredentialsFile, err = utils.ResolvePath(r.Drive.CredentialsFile); err != nil {
			return fmt.Errorf("drive credentials file: %w", err)
		}
		if r.Drive.TokenFile, err = utils.ResolvePath(r.Drive.TokenFile); err != nil {
			return fmt.Errorf("drive token file: %w", err)
		}
	case BackendS3:
		if r.S3.Bucket == "" {
			return ErrMissingBucket
		}
		if r.S3.IndexPath != "" {
			if r.S3.IndexPath, err = utils.ResolvePath(r.S3.IndexPath); err != nil {
				return fmt.Errorf("s3 index path: %w", err)
			}
		}
	case BackendMemory:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidBackend, r.Backend)
	}

	if r.Retry.MaxAttempts <= 0 {
		r.Retry.MaxAttempts = 1
	}
	if r.Retry.BaseDelay <= 0 {
		r.Retry.BaseDelay = 500 * time.Millisecond
	}
	if r.Retry.MaxDelay < r.Retry.BaseDelay {
		r.Retry.MaxDelay = r.Retry.BaseDelay
	}
	return nil
}

// StateFile is where the path map is persisted.
func (c *Config) StateFile() string {
	return filepath.Join(c.StateDir, "filesystem.json")
}

// S3IndexPath defaults to a database inside the state directory.
func (c *Config) S3IndexPath() string {
	if c.Remote.S3.IndexPath != "" {
		return c.Remote.S3.IndexPath
	}
	return filepath.Join(c.StateDir, "s3index.db")
}

// Save writes the config as JSON to c.Path.
func (c *Config) Save() error {
	if c.Path == "" {
		return errors.New("config path is not set")
	}
	if err := utils.EnsureParent(c.Path); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(c.Path, data, 0o600)
}

// LogValue masks credentials when the config is logged.
func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("watch_dir", c.WatchDir),
		slog.String("state_dir", c.StateDir),
		slog.Duration("interval", c.Interval),
		slog.String("watcher", c.Watcher),
		slog.String("delete_remote", c.DeleteRemote),
		slog.Bool("resync", c.Resync),
		slog.String("backend", c.Remote.Backend),
		slog.String("s3_bucket", c.Remote.S3.Bucket),
		slog.String("s3_access_key", utils.MaskSecret(c.Remote.S3.AccessKey)),
		slog.String("http_addr", c.HTTP.Addr),
		slog.String("config", c.Path),
	)
}

// ParseLogLevel accepts debug, info, warn and error.
func ParseLogLevel(level string) (slog.Level, error) {
	var l slog.Level
	if level == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", level)
	}
	return l, nil
}
