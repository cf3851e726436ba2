package sync

import (
	"errors"
	"io/fs"
	"path/filepath"
	"slices"

	"github.com/openmined/drivesync/internal/client/pathmap"
)

// DriftReport lists where the local tree and the path map disagree. Empty
// files are never seeded and so are not reported as untracked.
type DriftReport struct {
	UntrackedDirs  []string `json:"untracked_dirs" yaml:"untracked_dirs"`
	UntrackedFiles []string `json:"untracked_files" yaml:"untracked_files"`
	MissingDirs    []string `json:"missing_dirs" yaml:"missing_dirs"`
	MissingFiles   []string `json:"missing_files" yaml:"missing_files"`
}

func (r *DriftReport) Empty() bool {
	return len(r.UntrackedDirs)+len(r.UntrackedFiles)+len(r.MissingDirs)+len(r.MissingFiles) == 0
}

// ScanDrift walks the tree under the map's root and compares it with the map.
// Untracked directories are reported once, without their contents.
func ScanDrift(pm *pathmap.PathMap, ignore *IgnoreList) (*DriftReport, error) {
	root := pm.Root()
	snap := pm.Snapshot()
	report := &DriftReport{}
	seen := make(map[string]map[string]bool, len(snap))

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path != root {
				return nil
			}
			return err
		}
		if path == root {
			seen[root] = make(map[string]bool)
			return nil
		}

		if ignore != nil && ignore.Ignored(path, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		dir := filepath.Dir(path)
		if d.IsDir() {
			if _, ok := snap[path]; !ok {
				report.UntrackedDirs = append(report.UntrackedDirs, path)
				return filepath.SkipDir
			}
			seen[path] = make(map[string]bool)
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		entry := snap[dir]
		if _, ok := entry.FileID(d.Name()); ok {
			seen[dir][d.Name()] = true
			return nil
		}
		if info, err := d.Info(); err == nil && info.Size() == 0 {
			return nil
		}
		report.UntrackedFiles = append(report.UntrackedFiles, path)
		return nil
	})
	if err != nil {
		return nil, err
	}

	for dir, entry := range snap {
		present, ok := seen[dir]
		if !ok {
			report.MissingDirs = append(report.MissingDirs, dir)
			continue
		}
		for _, f := range entry.Files {
			if !present[f.Name] {
				report.MissingFiles = append(report.MissingFiles, filepath.Join(dir, f.Name))
			}
		}
	}

	slices.Sort(report.UntrackedDirs)
	slices.Sort(report.UntrackedFiles)
	slices.Sort(report.MissingDirs)
	slices.Sort(report.MissingFiles)
	return report, nil
}
