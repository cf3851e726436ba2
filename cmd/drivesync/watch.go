package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/openmined/drivesync/internal/client"
	"github.com/openmined/drivesync/internal/client/config"
	"github.com/spf13/cobra"
)

var errNoWatchDir = errors.New("no directory to watch: pass a path or set watch_dir")

var watchBindings = flagBindings{
	"interval":      "interval",
	"state-dir":     "state_dir",
	"remote":        "remote.backend",
	"delete-remote": "delete_remote",
	"watcher":       "watcher",
	"http-addr":     "http.addr",
	"concurrency":   "upload_concurrency",
	"resync":        "resync",
}

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [path]",
		Short: "Mirror a directory to the remote and keep it in sync",
		Long: `Mirror a directory to the remote and keep it in sync.

The first run uploads the whole tree. Later runs reuse the saved state,
report drift between the state and the disk, and then follow local changes
until interrupted.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, watchBindings)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				cfg.WatchDir = args[0]
			}
			if cfg.WatchDir == "" {
				return errNoWatchDir
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			cmd.SilenceUsage = true

			closeLog, err := setupLogging(cfg, cmd.ErrOrStderr(), true)
			if err != nil {
				return err
			}
			defer closeLog()

			printWatchHeader(cmd.OutOrStdout(), cfg)

			c, err := client.New(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			defer slog.Info("Bye!")
			return c.Start(cmd.Context())
		},
	}

	d := config.Default()
	cmd.Flags().SortFlags = false
	cmd.Flags().DurationP("interval", "i", d.Interval, "quiet period before a burst of changes is handled")
	cmd.Flags().String("state-dir", d.StateDir, "state directory, relative paths are inside the watched tree")
	cmd.Flags().StringP("remote", "r", d.Remote.Backend, "remote backend: drive, s3 or memory")
	cmd.Flags().String("delete-remote", d.DeleteRemote, "remote copies of local deletions: prompt, always or never")
	cmd.Flags().String("watcher", d.Watcher, "event source: notify or fsnotify")
	cmd.Flags().String("http-addr", "", "serve sync status on this address, e.g. 127.0.0.1:7938")
	cmd.Flags().Int("concurrency", d.UploadConcurrency, "parallel uploads during a tree upload")
	cmd.Flags().Bool("resync", false, "upload untracked paths found at startup")
	return cmd
}

func printWatchHeader(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, cyan.Bold(true).Render("drivesync"))
	printField(w, "Watching", green.Render(cfg.WatchDir))
	printField(w, "Remote", green.Render(cfg.Remote.Backend))
	printField(w, "State", lightGray.Render(cfg.StateDir))
	printField(w, "Deletes", lightGray.Render(cfg.DeleteRemote))
	if cfg.HTTP.Addr != "" {
		printField(w, "Status", lightGray.Render("http://"+cfg.HTTP.Addr))
	}
	fmt.Fprintln(w)
}
