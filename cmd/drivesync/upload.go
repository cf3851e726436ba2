package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/dustin/go-humanize"
	"github.com/openmined/drivesync/internal/remote"
	"github.com/openmined/drivesync/internal/utils"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	errNoMatch     = errors.New("pattern matched no files")
	errIsDirectory = errors.New("is a directory")
)

var uploadBindings = flagBindings{
	"remote":      "remote.backend",
	"concurrency": "upload_concurrency",
}

type uploadResult struct {
	Path    string
	Size    int64
	ID      string
	Skipped bool
	Err     error
}

func newUploadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload <files...>",
		Short: "Upload individual files to the remote",
		Long: `Upload individual files to the remote.

Arguments may be glob patterns such as "docs/**/*.pdf". Directories are
rejected; use watch to mirror a tree. Empty files are skipped because the
remote does not store zero-byte bodies.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := expandUploadArgs(args)
			if err != nil {
				return err
			}

			cfg, err := loadConfig(cmd, uploadBindings)
			if err != nil {
				return err
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

			svc, closer, err := newService(cmd.Context(), cfg, nil)
			if err != nil {
				return err
			}
			if closer != nil {
				defer closer.Close()
			}

			parent, _ := cmd.Flags().GetString("parent")
			results := uploadFiles(cmd.Context(), svc, parent, files, cfg.UploadConcurrency)
			return reportUploads(cmd.OutOrStdout(), results)
		},
	}

	cmd.Flags().SortFlags = false
	cmd.Flags().StringP("parent", "p", "", "remote folder id to upload into (default: the remote root)")
	cmd.Flags().Int("concurrency", 4, "parallel uploads")
	cmd.Flags().StringP("remote", "r", "", "remote backend: drive, s3 or memory")
	return cmd
}

// expandUploadArgs resolves globs and checks that every path is a regular
// file. The result keeps argument order without duplicates.
func expandUploadArgs(args []string) ([]string, error) {
	seen := make(map[string]struct{})
	var files []string

	add := func(path string) error {
		abs, err := filepath.Abs(path)
		if err != nil {
			return err
		}
		info, err := os.Stat(abs)
		if err != nil {
			return err
		}
		if info.IsDir() {
			return fmt.Errorf("%s: %w", path, errIsDirectory)
		}
		if _, ok := seen[abs]; ok {
			return nil
		}
		seen[abs] = struct{}{}
		files = append(files, abs)
		return nil
	}

	for _, arg := range args {
		if !strings.ContainsAny(arg, "*?[{") {
			if err := add(arg); err != nil {
				return nil, err
			}
			continue
		}

		matches, err := doublestar.FilepathGlob(arg, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", arg, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("%q: %w", arg, errNoMatch)
		}
		for _, m := range matches {
			if err := add(m); err != nil {
				return nil, err
			}
		}
	}
	return files, nil
}

// uploadFiles creates one remote object per file under parentID. Failures
// are collected per file and never stop the other uploads.
func uploadFiles(ctx context.Context, svc remote.Service, parentID string, files []string, concurrency int) []uploadResult {
	results := make([]uploadResult, len(files))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(concurrency, 1))
	for i, path := range files {
		g.Go(func() error {
			results[i] = uploadFile(ctx, svc, parentID, path)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func uploadFile(ctx context.Context, svc remote.Service, parentID, path string) uploadResult {
	res := uploadResult{Path: path}

	content, err := remote.FileContent(path)
	if err != nil {
		res.Err = err
		return res
	}
	res.Size = content.Size()
	if res.Size == 0 {
		res.Skipped = true
		return res
	}

	res.ID, res.Err = svc.CreateObject(ctx, &remote.CreateParams{
		Name:     filepath.Base(path),
		ParentID: parentID,
		MimeType: utils.DetectFileContentType(path),
		Content:  content,
	})
	return res
}

func reportUploads(w io.Writer, results []uploadResult) error {
	var failed int
	for _, r := range results {
		switch {
		case r.Err != nil:
			failed++
			fmt.Fprintf(w, "%s %s %s\n", red.Render("FAILED  "), r.Path, gray.Render(r.Err.Error()))
		case r.Skipped:
			fmt.Fprintf(w, "%s %s %s\n", yellow.Render("SKIPPED "), r.Path, gray.Render("empty file"))
		default:
			fmt.Fprintf(w, "%s %s %s\n", green.Render("UPLOADED"), r.Path,
				gray.Render(fmt.Sprintf("%s id=%s", humanize.Bytes(uint64(r.Size)), r.ID)))
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d uploads failed", failed, len(results))
	}
	return nil
}
