// Package remote defines the storage capability the sync engine mirrors to,
// plus backend-independent helpers around it.
package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"
)

const (
	// FolderMimeType marks folders in listings, following the Drive convention.
	FolderMimeType = "application/vnd.google-apps.folder"

	// RootID is the parent reported for objects created without a parent.
	RootID = "root"

	SpaceDrive = "drive"
)

var (
	ValidOrderBy = []string{
		"createdTime",
		"folder",
		"modifiedByMeTime",
		"modifiedTime",
		"name",
		"name_natural",
		"quotaBytesUsed",
		"recency",
		"sharedWithMeTime",
		"starred",
		"viewedByMeTime",
	}

	ValidSpaces = []string{"drive", "appDataFolder", "photos"}
)

// Object is a remote file or folder as reported by listings.
type Object struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	IsFolder    bool      `json:"is_folder" yaml:"is_folder"`
	MimeType    string    `json:"mime_type,omitempty" yaml:"mime_type,omitempty"`
	Size        int64     `json:"size" yaml:"size"`
	CreatedTime time.Time `json:"created_time" yaml:"created_time"`
	ParentIDs   []string  `json:"parent_ids,omitempty" yaml:"parent_ids,omitempty"`
	Spaces      []string  `json:"spaces,omitempty" yaml:"spaces,omitempty"`
}

// Content is a re-openable body so that retries can resend it in full.
type Content interface {
	Open() (io.ReadCloser, error)
	Size() int64
}

type CreateParams struct {
	Name     string
	ParentID string
	IsFolder bool
	MimeType string
	Content  Content
}

type ListParams struct {
	OrderBy  string
	Space    string
	PageSize int
}

// Service is a hierarchical object store: folders and files addressed by
// opaque ids. Implementations must be safe for concurrent use.
type Service interface {
	CreateObject(ctx context.Context, params *CreateParams) (string, error)
	GetObjectName(ctx context.Context, id string) (string, error)
	DeleteObject(ctx context.Context, id string) error
	UpdateObjectContent(ctx context.Context, id string, content Content) error
	FindObject(ctx context.Context, name, parentID string) ([]*Object, error)
	ListObjects(ctx context.Context, params *ListParams) ([]*Object, error)
}

// ValidateListParams checks OrderBy and Space against the accepted values.
// OrderBy may be a comma separated list with optional " desc" suffixes.
func ValidateListParams(p *ListParams) error {
	if p == nil {
		return nil
	}
	if p.OrderBy != "" {
		for _, key := range strings.Split(p.OrderBy, ",") {
			field := strings.TrimSuffix(strings.TrimSpace(key), " desc")
			if !slices.Contains(ValidOrderBy, field) {
				return fmt.Errorf("%w: order by %q (valid: %s)", ErrInvalidArgument, field, strings.Join(ValidOrderBy, ", "))
			}
		}
	}
	if p.Space != "" && !slices.Contains(ValidSpaces, p.Space) {
		return fmt.Errorf("%w: space %q (valid: %s)", ErrInvalidArgument, p.Space, strings.Join(ValidSpaces, ", "))
	}
	if p.PageSize < 0 {
		return fmt.Errorf("%w: page size %d", ErrInvalidArgument, p.PageSize)
	}
	return nil
}

type fileContent struct {
	path string
	size int64
}

// FileContent snapshots the size of path. The file is opened on each Open.
func FileContent(path string) (Content, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file", path)
	}
	return &fileContent{path: path, size: info.Size()}, nil
}

func (f *fileContent) Open() (io.ReadCloser, error) {
	return os.Open(f.path)
}

func (f *fileContent) Size() int64 {
	return f.size
}

type bytesContent []byte

func BytesContent(b []byte) Content {
	return bytesContent(b)
}

func (b bytesContent) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (b bytesContent) Size() int64 {
	return int64(len(b))
}

// ReadAll drains c into memory.
func ReadAll(c Content) ([]byte, error) {
	rc, err := c.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
