package sync

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/openmined/drivesync/internal/utils"
	gitignore "github.com/sabhiram/go-gitignore"
)

// IgnoreFileName holds extra gitignore style rules at the root of the tree.
const IgnoreFileName = ".drivesyncignore"

// IgnoreList decides which paths under the root are never synced: any path
// below an ignored directory name, files with an ignored name, paths matching
// a pattern, and explicitly excluded subtrees such as the state directory.
type IgnoreList struct {
	root     string
	dirs     mapset.Set[string]
	files    mapset.Set[string]
	lines    []string
	patterns *gitignore.GitIgnore
	excluded []string
	log      *slog.Logger
}

func NewIgnoreList(root string, dirs, files, patterns []string) *IgnoreList {
	l := &IgnoreList{
		root:  filepath.Clean(root),
		dirs:  mapset.NewSet(dirs...),
		files: mapset.NewSet(files...),
		lines: patterns,
		log:   slog.Default().With("component", "ignore"),
	}
	l.files.Add(IgnoreFileName)
	l.patterns = gitignore.CompileIgnoreLines(l.lines...)
	return l
}

// Exclude ignores path and everything below it when it lies inside the root.
func (l *IgnoreList) Exclude(path string) {
	path = filepath.Clean(path)
	if utils.IsSubpath(l.root, path) && path != l.root {
		l.excluded = append(l.excluded, path)
	}
}

// Load reads IgnoreFileName, if present, on top of the configured patterns.
func (l *IgnoreList) Load() error {
	lines := append([]string(nil), l.lines...)
	ignorePath := filepath.Join(l.root, IgnoreFileName)

	file, err := os.Open(ignorePath)
	if errors.Is(err, fs.ErrNotExist) {
		l.patterns = gitignore.CompileIgnoreLines(lines...)
		return nil
	} else if err != nil {
		return fmt.Errorf("open %s: %w", ignorePath, err)
	}
	defer file.Close()

	rules := 0
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
		rules++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read %s: %w", ignorePath, err)
	}

	l.patterns = gitignore.CompileIgnoreLines(lines...)
	l.log.Info("loaded ignore file", "path", ignorePath, "rules", rules)
	return nil
}

// Ignored reports whether path, known to be a directory or not, is excluded.
// Paths outside the root are always ignored.
func (l *IgnoreList) Ignored(path string, isDir bool) bool {
	path = filepath.Clean(path)
	if path == l.root {
		return false
	}
	parts := utils.RelativeParts(l.root, path)
	if parts == nil {
		return true
	}

	for _, ex := range l.excluded {
		if utils.IsSubpath(ex, path) {
			return true
		}
	}

	last := len(parts) - 1
	for _, dir := range parts[:last] {
		if l.dirs.Contains(dir) {
			return true
		}
	}
	if isDir && l.dirs.Contains(parts[last]) {
		return true
	}
	if !isDir && l.files.Contains(parts[last]) {
		return true
	}

	rel := strings.Join(parts, "/")
	if isDir {
		rel += "/"
	}
	return l.patterns.MatchesPath(rel)
}

// ShouldIgnore is Ignored for callers that only have a path, such as raw
// watcher events. A path that no longer exists is ignored if either reading
// would ignore it.
func (l *IgnoreList) ShouldIgnore(path string) bool {
	info, err := os.Lstat(path)
	if err != nil {
		return l.Ignored(path, true) || l.Ignored(path, false)
	}
	return l.Ignored(path, info.IsDir())
}
