package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/openmined/drivesync/internal/client"
	"github.com/openmined/drivesync/internal/client/pathmap"
	"github.com/openmined/drivesync/internal/client/sync"
	"github.com/spf13/cobra"
)

var statusBindings = flagBindings{
	"state-dir": "state_dir",
}

// statusReport is what the saved state says about a watched tree.
type statusReport struct {
	Root      string            `json:"root" yaml:"root"`
	StateFile string            `json:"state_file" yaml:"state_file"`
	Tracked   bool              `json:"tracked" yaml:"tracked"`
	RootID    string            `json:"root_id,omitempty" yaml:"root_id,omitempty"`
	Dirs      int               `json:"dirs" yaml:"dirs"`
	Files     int               `json:"files" yaml:"files"`
	Drift     *sync.DriftReport `json:"drift,omitempty" yaml:"drift,omitempty"`
}

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [path]",
		Short: "Compare the saved state of a watched directory with the disk",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := outputFormat(cmd)
			if err != nil {
				return err
			}

			cfg, err := loadConfig(cmd, statusBindings)
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

			closeLog, err := setupLogging(cfg, cmd.ErrOrStderr(), false)
			if err != nil {
				return err
			}
			defer closeLog()

			ignore, err := client.NewIgnoreList(cfg)
			if err != nil {
				return err
			}

			report, err := buildStatusReport(cfg.WatchDir, cfg.StateFile(), ignore)
			if err != nil {
				return err
			}

			if format != outputTable {
				return writeStructured(cmd.OutOrStdout(), format, report)
			}
			printStatusReport(cmd.OutOrStdout(), report)
			return nil
		},
	}

	cmd.Flags().String("state-dir", "", "state directory, relative paths are inside the watched tree")
	addOutputFlag(cmd)
	return cmd
}

// buildStatusReport only reads the state file, so it is safe to run next to
// a live agent.
func buildStatusReport(root, stateFile string, ignore *sync.IgnoreList) (*statusReport, error) {
	pm, err := pathmap.Open(root, pathmap.NewFileStore(stateFile))
	if err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}

	report := &statusReport{
		Root:      root,
		StateFile: stateFile,
		Dirs:      pm.Len(),
		Files:     pm.FileCount(),
	}

	entry, err := pm.Lookup(root)
	if err != nil {
		return report, nil
	}
	report.Tracked = true
	report.RootID = entry.ID

	report.Drift, err = sync.ScanDrift(pm, ignore)
	if err != nil {
		return nil, fmt.Errorf("drift scan: %w", err)
	}
	return report, nil
}

func printStatusReport(w io.Writer, r *statusReport) {
	printField(w, "Root", r.Root)
	printField(w, "State", lightGray.Render(r.StateFile))

	if !r.Tracked {
		fmt.Fprintln(w, yellow.Render("\nnot synced yet, run watch to upload this tree"))
		return
	}

	printField(w, "Remote", cyan.Render(r.RootID))
	printField(w, "Dirs", strconv.Itoa(r.Dirs))
	printField(w, "Files", strconv.Itoa(r.Files))
	fmt.Fprintln(w)

	d := r.Drift
	if d == nil || d.Empty() {
		fmt.Fprintln(w, green.Render("in sync with the local tree"))
		return
	}

	printPaths(w, "untracked dir ", d.UntrackedDirs)
	printPaths(w, "untracked file", d.UntrackedFiles)
	printPaths(w, "missing dir   ", d.MissingDirs)
	printPaths(w, "missing file  ", d.MissingFiles)
}

func printPaths(w io.Writer, kind string, paths []string) {
	for _, p := range paths {
		fmt.Fprintf(w, "%s %s\n", yellow.Render(kind), p)
	}
}
