package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/openmined/drivesync/internal/client/pathmap"
	"github.com/openmined/drivesync/internal/remote"
	"golang.org/x/sync/errgroup"
)

const defaultUploadConcurrency = 4

// UploadSummary counts what one uploader pass did.
type UploadSummary struct {
	Folders        int `json:"folders"`
	Files          int `json:"files"`
	Adopted        int `json:"adopted"`
	SkippedEmpty   int `json:"skipped_empty"`
	SkippedIgnored int `json:"skipped_ignored"`
	Failed         int `json:"failed"`
}

func (s *UploadSummary) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("folders", s.Folders),
		slog.Int("files", s.Files),
		slog.Int("adopted", s.Adopted),
		slog.Int("skipped_empty", s.SkippedEmpty),
		slog.Int("skipped_ignored", s.SkippedIgnored),
		slog.Int("failed", s.Failed),
	)
}

type UploaderOption func(*TreeUploader)

// WithConcurrency bounds the number of file uploads in flight per directory.
func WithConcurrency(n int) UploaderOption {
	return func(u *TreeUploader) {
		if n > 0 {
			u.concurrency = n
		}
	}
}

func WithUploaderLogger(l *slog.Logger) UploaderOption {
	return func(u *TreeUploader) {
		u.log = l
	}
}

// WithUploaderStatus reports each uploaded path to status.
func WithUploaderStatus(status *SyncStatus) UploaderOption {
	return func(u *TreeUploader) {
		u.status = status
	}
}

// TreeUploader seeds the remote and the path map from a local tree, parents
// before children. Running Upload twice without clearing the map creates
// duplicates, so it is only run when no persisted map exists.
type TreeUploader struct {
	pm          *pathmap.PathMap
	svc         remote.Service
	ignore      *IgnoreList
	status      *SyncStatus
	concurrency int
	log         *slog.Logger
}

func NewTreeUploader(pm *pathmap.PathMap, svc remote.Service, ignore *IgnoreList, opts ...UploaderOption) *TreeUploader {
	u := &TreeUploader{
		pm:          pm,
		svc:         svc,
		ignore:      ignore,
		concurrency: defaultUploadConcurrency,
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt(u)
	}
	u.log = u.log.With("component", "uploader")
	return u
}

// Upload creates the root folder with no parent and mirrors the whole tree
// below it. Failures of single items are counted and skipped; failing to
// create the root, to persist the map or a cancelled ctx abort the pass. The
// map is marked seeded only when nothing failed.
func (u *TreeUploader) Upload(ctx context.Context) (*UploadSummary, error) {
	root := u.pm.Root()
	summary := &UploadSummary{}
	u.log.Info("tree upload start", "root", root)

	id, _, err := ensureFolder(ctx, u.svc, filepath.Base(root), "", false)
	if err != nil {
		return summary, fmt.Errorf("create root folder: %w", err)
	}
	if err := u.pm.InsertDir(root, id); err != nil {
		return summary, err
	}
	summary.Folders++
	u.log.Info("sync", "op", OutcomeCreated, "path", root, "id", id, "dir", true)

	if err := u.walk(ctx, root, id, false, summary); err != nil {
		return summary, err
	}
	if summary.Failed == 0 {
		if err := u.pm.MarkSeeded(); err != nil {
			return summary, err
		}
	}
	u.log.Info("tree upload done", "root", root, "summary", summary)
	return summary, nil
}

// UploadSubtree mirrors the contents of dir, which must already be tracked.
// Every object is looked up before it is created, so it is safe to run on a
// directory that is partly present remotely.
func (u *TreeUploader) UploadSubtree(ctx context.Context, dir string) (*UploadSummary, error) {
	dir = filepath.Clean(dir)
	summary := &UploadSummary{}

	entry, err := u.pm.Lookup(dir)
	if err != nil {
		return summary, fmt.Errorf("upload subtree %s: %w", dir, err)
	}
	if err := u.walk(ctx, dir, entry.ID, true, summary); err != nil {
		return summary, err
	}
	u.log.Debug("subtree upload done", "dir", dir, "summary", summary)
	return summary, nil
}

type fileJob struct {
	path    string
	name    string
	id      string
	err     error
	adopted bool
}

func (u *TreeUploader) walk(ctx context.Context, dir, dirID string, dedupe bool, summary *UploadSummary) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		summary.Failed++
		u.log.Error("read dir", "path", dir, "error", err)
		return nil
	}

	var known pathmap.Entry
	if dedupe {
		known, _ = u.pm.Lookup(dir)
	}

	// os.ReadDir sorts by name, which keeps files order deterministic
	var jobs []*fileJob
	var subdirs []string
	for _, de := range entries {
		path := filepath.Join(dir, de.Name())
		switch {
		case de.IsDir():
			if u.ignored(path, true) {
				summary.SkippedIgnored++
				continue
			}
			subdirs = append(subdirs, path)

		case de.Type().IsRegular():
			if u.ignored(path, false) {
				summary.SkippedIgnored++
				continue
			}
			if _, ok := known.FileID(de.Name()); ok {
				continue
			}
			info, err := de.Info()
			if err != nil {
				summary.Failed++
				u.log.Error("stat", "path", path, "error", err)
				continue
			}
			if info.Size() == 0 {
				summary.SkippedEmpty++
				u.log.Warn("skip", "path", path, "reason", "empty file")
				continue
			}
			jobs = append(jobs, &fileJob{path: path, name: de.Name()})

		default:
			u.log.Debug("skip", "path", path, "reason", "not a regular file", "mode", de.Type())
		}
	}

	u.uploadFiles(ctx, dirID, dedupe, jobs)
	if err := ctx.Err(); err != nil {
		return err
	}

	for _, job := range jobs {
		if job.err != nil {
			summary.Failed++
			u.fail(job.path, job.err)
			continue
		}
		if err := u.pm.InsertFile(dir, job.name, job.id); err != nil {
			return err
		}
		u.done(job.path, job.id, job.adopted, false, summary)
	}

	for _, sub := range subdirs {
		if err := ctx.Err(); err != nil {
			return err
		}

		var subID string
		if entry, err := u.pm.Lookup(sub); err == nil {
			subID = entry.ID
		} else {
			id, adopted, err := ensureFolder(ctx, u.svc, filepath.Base(sub), dirID, dedupe)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				summary.Failed++
				u.fail(sub, err)
				continue
			}
			if err := u.pm.InsertDir(sub, id); err != nil {
				return err
			}
			u.done(sub, id, adopted, true, summary)
			subID = id
		}

		if err := u.walk(ctx, sub, subID, dedupe, summary); err != nil {
			return err
		}
	}
	return nil
}

// uploadFiles runs the remote side of jobs concurrently and stores each
// result on its job.
func (u *TreeUploader) uploadFiles(ctx context.Context, parentID string, dedupe bool, jobs []*fileJob) {
	var g errgroup.Group
	g.SetLimit(u.concurrency)
	for _, job := range jobs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				job.err = err
				return nil
			}
			content, mimeType, err := localContent(job.path, nil)
			if err != nil {
				job.err = err
				return nil
			}
			job.id, job.adopted, job.err = ensureFile(ctx, u.svc, job.name, parentID, content, mimeType, dedupe)
			return nil
		})
	}
	_ = g.Wait()
}

func (u *TreeUploader) ignored(path string, isDir bool) bool {
	return u.ignore != nil && u.ignore.Ignored(path, isDir)
}

func (u *TreeUploader) done(path, id string, adopted, isDir bool, summary *UploadSummary) {
	outcome := OutcomeCreated
	if adopted {
		outcome = OutcomeAdopted
		summary.Adopted++
	} else if isDir {
		summary.Folders++
	} else {
		summary.Files++
	}
	u.log.Info("sync", "op", outcome, "path", path, "id", id, "dir", isDir)
	if u.status != nil {
		u.status.SetCompleted(path, outcome)
	}
}

func (u *TreeUploader) fail(path string, err error) {
	level := slog.LevelError
	if errors.Is(err, remote.ErrEmptyContent) {
		level = slog.LevelWarn
	}
	u.log.Log(context.Background(), level, "upload failed", "path", path, "error", err)
	if u.status != nil {
		u.status.SetError(path, err)
	}
}
