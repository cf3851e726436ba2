package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/openmined/drivesync/internal/client/config"
	"github.com/openmined/drivesync/internal/client/confirm"
	"github.com/openmined/drivesync/internal/client/pathmap"
	"github.com/openmined/drivesync/internal/client/sync"
	"github.com/openmined/drivesync/internal/client/workspace"
	"github.com/openmined/drivesync/internal/localhttp"
	"github.com/openmined/drivesync/internal/remote"
)

// watcher is what both event sources offer beyond sync.EventSource.
type watcher interface {
	sync.EventSource
	SetDebounceTimeout(timeout time.Duration)
	FilterPaths(callback sync.FilterCallback)
	KnownDirs(callback sync.DirCallback)
}

type Option func(*Client)

// WithService replaces the configured backend.
func WithService(svc remote.Service) Option {
	return func(c *Client) {
		c.service = svc
	}
}

// WithDecider replaces the decider built from delete_remote.
func WithDecider(d sync.Decider) Option {
	return func(c *Client) {
		c.decider = d
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.log = l
	}
}

// Client owns one agent: the workspace lock, the path map, the remote and
// the sync manager, plus the optional status server.
type Client struct {
	config    *config.Config
	workspace *workspace.Workspace
	pathmap   *pathmap.PathMap
	service   remote.Service
	decider   sync.Decider
	ignore    *sync.IgnoreList
	manager   *sync.SyncManager
	http      *localhttp.Server
	closers   []io.Closer
	log       *slog.Logger
}

func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Client, error) {
	c := &Client{config: cfg, log: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}

	ws, err := workspace.NewWorkspace(cfg.WatchDir, cfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := ws.Setup(); err != nil {
		return nil, err
	}
	c.workspace = ws

	if err := c.build(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) build(ctx context.Context) error {
	cfg := c.config
	root := c.workspace.Root

	ignore, err := NewIgnoreList(cfg)
	if err != nil {
		return err
	}
	c.ignore = ignore

	pm, err := pathmap.Open(root, pathmap.NewFileStore(cfg.StateFile()), pathmap.WithLogger(c.log))
	if err != nil {
		return fmt.Errorf("failed to load state: %w", err)
	}
	c.pathmap = pm

	if c.service == nil {
		svc, closer, err := NewService(ctx, cfg, c.log)
		if err != nil {
			return err
		}
		c.service = svc
		if closer != nil {
			c.closers = append(c.closers, closer)
		}
	}

	if c.decider == nil {
		d, err := confirm.New(cfg.DeleteRemote, os.Stdin, os.Stdout, c.log)
		if err != nil {
			return err
		}
		c.decider = d
	}

	status := sync.NewSyncStatus()
	uploader := sync.NewTreeUploader(pm, c.service, c.ignore,
		sync.WithConcurrency(cfg.UploadConcurrency),
		sync.WithUploaderLogger(c.log),
		sync.WithUploaderStatus(status),
	)
	reconciler := sync.NewReconciler(pm, c.service, c.decider, c.log)
	handler := sync.NewHandler(pm, c.service, c.ignore, uploader, reconciler,
		sync.WithPlaceholder(cfg.EmptyPlaceholder),
		sync.WithHandlerLogger(c.log),
		sync.WithHandlerStatus(status),
	)

	w := c.newWatcher(root)
	w.SetDebounceTimeout(cfg.Interval)
	w.FilterPaths(c.ignore.ShouldIgnore)
	w.KnownDirs(pm.HasDir)

	c.manager = sync.NewManager(pm, handler, uploader, w, c.ignore,
		sync.WithResync(cfg.Resync),
		sync.WithManagerLogger(c.log),
	)

	if cfg.HTTP.Addr != "" {
		c.http, err = localhttp.New(localhttp.Config{
			Addr:      cfg.HTTP.Addr,
			Token:     cfg.HTTP.Token,
			RateLimit: cfg.HTTP.RateLimit,
		}, status, pm, c.log)
		if err != nil {
			return fmt.Errorf("status server: %w", err)
		}
	}
	return nil
}

// NewIgnoreList builds the ignore list for cfg.WatchDir. The agent's own
// state and log files are never synced.
func NewIgnoreList(cfg *config.Config) (*sync.IgnoreList, error) {
	ignore := sync.NewIgnoreList(cfg.WatchDir, cfg.Ignore.Dirs, cfg.Ignore.Files, cfg.Ignore.Patterns)
	ignore.Exclude(cfg.StateDir)
	if cfg.Log.File != "" {
		ignore.Exclude(cfg.Log.File)
	}
	if err := ignore.Load(); err != nil {
		return nil, fmt.Errorf("ignore file: %w", err)
	}
	return ignore, nil
}

func (c *Client) newWatcher(root string) watcher {
	if c.config.Watcher == config.WatcherFSNotify {
		return sync.NewFSNotifyWatcher(root, c.log)
	}
	return sync.NewFileWatcher(root, c.log)
}

// PathMap is the live map, for status reporting.
func (c *Client) PathMap() *pathmap.PathMap {
	return c.pathmap
}

func (c *Client) Status() *sync.SyncStatus {
	return c.manager.Status()
}

// Start runs the agent until ctx is cancelled. Startup failures (the cold
// start upload included) are returned before any event is processed.
func (c *Client) Start(ctx context.Context) error {
	c.log.Info("drivesync start", "config", c.config)

	if err := c.manager.Start(ctx); err != nil {
		return fmt.Errorf("failed to start sync manager: %w", err)
	}

	if c.http != nil {
		if err := c.http.Start(ctx); err != nil {
			_ = c.manager.Stop()
			return err
		}
	}

	<-ctx.Done()
	c.log.Info("received interrupt signal, stopping client")
	return c.Stop()
}

// Stop drains the manager and shuts the status server down. The workspace
// stays locked until Close.
func (c *Client) Stop() error {
	var errs []error
	if c.manager != nil {
		errs = append(errs, c.manager.Stop())
		c.manager.Status().Close()
	}
	if c.http != nil {
		errs = append(errs, c.http.Stop())
	}
	c.log.Info("drivesync stop")
	return errors.Join(errs...)
}

// Close releases the backend resources and the workspace lock.
func (c *Client) Close() error {
	var errs []error
	for _, closer := range c.closers {
		errs = append(errs, closer.Close())
	}
	c.closers = nil
	if c.workspace != nil {
		errs = append(errs, c.workspace.Unlock())
	}
	return errors.Join(errs...)
}
