package sync

import (
	"context"
	"fmt"

	"github.com/openmined/drivesync/internal/remote"
	"github.com/openmined/drivesync/internal/utils"
)

// Outcome names what a transition did. It is recorded in the sync status and
// returned to callers for reporting.
type Outcome string

const (
	OutcomeCreated          Outcome = "created"
	OutcomeAdopted          Outcome = "adopted"
	OutcomeUpdated          Outcome = "updated"
	OutcomeIgnored          Outcome = "ignored"
	OutcomeSkipped          Outcome = "skipped"
	OutcomeNoop             Outcome = "noop"
	OutcomeRemoteDeleted    Outcome = "remote_deleted"
	OutcomeLocalOnlyRemoved Outcome = "local_only_removed"
	OutcomeNotTracked       Outcome = "not_tracked"
)

// findExisting returns the id of the first object named name under parentID
// whose kind matches folder.
func findExisting(ctx context.Context, svc remote.Service, name, parentID string, folder bool) (string, bool, error) {
	matches, err := svc.FindObject(ctx, name, parentID)
	if err != nil {
		return "", false, fmt.Errorf("find %q: %w", name, err)
	}
	for _, obj := range matches {
		if obj.IsFolder == folder {
			return obj.ID, true, nil
		}
	}
	return "", false, nil
}

// ensureFolder creates a folder under parentID. With dedupe set an existing
// folder of the same name is adopted instead.
func ensureFolder(ctx context.Context, svc remote.Service, name, parentID string, dedupe bool) (string, bool, error) {
	if dedupe {
		id, ok, err := findExisting(ctx, svc, name, parentID, true)
		if err != nil {
			return "", false, err
		} else if ok {
			return id, true, nil
		}
	}

	id, err := svc.CreateObject(ctx, &remote.CreateParams{
		Name:     name,
		ParentID: parentID,
		IsFolder: true,
		MimeType: remote.FolderMimeType,
	})
	if err != nil {
		return "", false, fmt.Errorf("create folder %q: %w", name, err)
	}
	return id, false, nil
}

// ensureFile uploads content as name under parentID. With dedupe set an
// existing file of the same name is adopted and its content replaced.
func ensureFile(ctx context.Context, svc remote.Service, name, parentID string, content remote.Content, mimeType string, dedupe bool) (string, bool, error) {
	if dedupe {
		id, ok, err := findExisting(ctx, svc, name, parentID, false)
		if err != nil {
			return "", false, err
		} else if ok {
			if err := svc.UpdateObjectContent(ctx, id, content); err != nil {
				return "", false, fmt.Errorf("update adopted file %q: %w", name, err)
			}
			return id, true, nil
		}
	}

	id, err := svc.CreateObject(ctx, &remote.CreateParams{
		Name:     name,
		ParentID: parentID,
		MimeType: mimeType,
		Content:  content,
	})
	if err != nil {
		return "", false, fmt.Errorf("create file %q: %w", name, err)
	}
	return id, false, nil
}

// localContent opens path for upload. Empty files are replaced by
// placeholder when one is given.
func localContent(path string, placeholder []byte) (remote.Content, string, error) {
	content, err := remote.FileContent(path)
	if err != nil {
		return nil, "", fmt.Errorf("read local file: %w", err)
	}
	if content.Size() == 0 && len(placeholder) > 0 {
		return remote.BytesContent(placeholder), "text/plain", nil
	}
	return content, utils.DetectFileContentType(path), nil
}
