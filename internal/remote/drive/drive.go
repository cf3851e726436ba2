// Package drive implements remote.Service on the Google Drive v3 REST API.
package drive

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/imroc/req/v3"
	"github.com/openmined/drivesync/internal/remote"
	"github.com/openmined/drivesync/internal/utils"
	"github.com/openmined/drivesync/internal/version"
	"golang.org/x/oauth2"
)

const (
	DefaultAPIURL    = "https://www.googleapis.com/drive/v3"
	DefaultUploadURL = "https://www.googleapis.com/upload/drive/v3"

	// chunks must be a multiple of 256 KiB
	uploadChunkSize = 32 * 256 * 1024
	maxPageSize     = 1000
	listFields      = "nextPageToken, files(id, name, mimeType, size, createdTime, parents, spaces)"
	requestTimeout  = 5 * time.Minute
)

var queryEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

type file struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	MimeType    string   `json:"mimeType"`
	Size        string   `json:"size"`
	CreatedTime string   `json:"createdTime"`
	Parents     []string `json:"parents"`
	Spaces      []string `json:"spaces"`
}

func (f *file) object() *remote.Object {
	obj := &remote.Object{
		ID:          f.ID,
		Name:        f.Name,
		IsFolder:    f.MimeType == remote.FolderMimeType,
		MimeType:    f.MimeType,
		Size:        -1,
		CreatedTime: utils.ParseRemoteTime(f.CreatedTime),
		ParentIDs:   f.Parents,
		Spaces:      f.Spaces,
	}
	if n, err := strconv.ParseInt(f.Size, 10, 64); err == nil {
		obj.Size = n
	}
	return obj
}

type fileList struct {
	NextPageToken string  `json:"nextPageToken"`
	Files         []*file `json:"files"`
}

type metadata struct {
	Name     string   `json:"name,omitempty"`
	MimeType string   `json:"mimeType,omitempty"`
	Parents  []string `json:"parents,omitempty"`
}

type Option func(*Client)

func WithAPIURL(url string) Option {
	return func(c *Client) {
		if url != "" {
			c.apiURL = strings.TrimSuffix(url, "/")
		}
	}
}

func WithUploadURL(url string) Option {
	return func(c *Client) {
		if url != "" {
			c.uploadURL = strings.TrimSuffix(url, "/")
		}
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

// Client talks to Drive with a bearer token taken from an oauth2.TokenSource
// on every request, so refreshed tokens are picked up transparently.
type Client struct {
	http      *req.Client
	tokens    oauth2.TokenSource
	apiURL    string
	uploadURL string
	chunkSize int64
	log       *slog.Logger
}

var _ remote.Service = (*Client)(nil)

func New(tokens oauth2.TokenSource, opts ...Option) *Client {
	c := &Client{
		tokens:    tokens,
		apiURL:    DefaultAPIURL,
		uploadURL: DefaultUploadURL,
		chunkSize: uploadChunkSize,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("component", "drive")

	c.http = req.C().
		SetUserAgent(version.UserAgent()).
		SetTimeout(requestTimeout).
		SetJsonMarshal(jsonMarshal).
		SetJsonUnmarshal(jsonUnmarshal).
		SetCommonErrorResult(&apiError{}).
		OnBeforeRequest(func(_ *req.Client, r *req.Request) error {
			tok, err := c.tokens.Token()
			if err != nil {
				return fmt.Errorf("drive token: %w", err)
			}
			r.SetBearerAuthToken(tok.AccessToken)
			return nil
		})
	return c
}

func (c *Client) CreateObject(ctx context.Context, params *remote.CreateParams) (string, error) {
	if params.Name == "" {
		return "", fmt.Errorf("%w: empty name", remote.ErrInvalidArgument)
	}

	meta := &metadata{Name: params.Name, MimeType: params.MimeType}
	if params.ParentID != "" {
		meta.Parents = []string{params.ParentID}
	}

	if params.IsFolder {
		meta.MimeType = remote.FolderMimeType
		var created file
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParam("fields", "id").
			SetBody(meta).
			SetSuccessResult(&created).
			Post(c.apiURL + "/files")
		if err := handleAPIError(resp, err, "create folder"); err != nil {
			return "", err
		}
		c.log.Debug("created folder", "name", params.Name, "id", created.ID)
		return created.ID, nil
	}

	created, err := c.upload(ctx, http.MethodPost, c.uploadURL+"/files", meta, params.Content)
	if err != nil {
		return "", err
	}
	c.log.Debug("created file", "name", params.Name, "id", created.ID)
	return created.ID, nil
}

func (c *Client) GetObjectName(ctx context.Context, id string) (string, error) {
	var f file
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetQueryParam("fields", "name").
		SetSuccessResult(&f).
		Get(c.apiURL + "/files/{id}")
	if err := handleAPIError(resp, err, "get"); err != nil {
		return "", err
	}
	return f.Name, nil
}

func (c *Client) DeleteObject(ctx context.Context, id string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", id).
		Delete(c.apiURL + "/files/{id}")
	return handleAPIError(resp, err, "delete")
}

func (c *Client) UpdateObjectContent(ctx context.Context, id string, content remote.Content) error {
	_, err := c.upload(ctx, http.MethodPatch, c.uploadURL+"/files/"+id, &metadata{}, content)
	return err
}

// FindObject lists non-trashed objects called name directly under parentID.
// An empty parentID means the Drive root.
func (c *Client) FindObject(ctx context.Context, name, parentID string) ([]*remote.Object, error) {
	if parentID == "" {
		parentID = remote.RootID
	}
	q := fmt.Sprintf("name = '%s' and '%s' in parents and trashed = false",
		queryEscaper.Replace(name), queryEscaper.Replace(parentID))
	return c.list(ctx, map[string]string{"q": q}, 0)
}

func (c *Client) ListObjects(ctx context.Context, params *remote.ListParams) ([]*remote.Object, error) {
	if params == nil {
		params = &remote.ListParams{}
	}
	if err := remote.ValidateListParams(params); err != nil {
		return nil, err
	}

	query := map[string]string{}
	if params.OrderBy != "" {
		query["orderBy"] = params.OrderBy
	}
	if params.Space != "" {
		query["spaces"] = params.Space
	}
	return c.list(ctx, query, params.PageSize)
}

// list follows nextPageToken until limit objects were collected, or all of
// them when limit is zero.
func (c *Client) list(ctx context.Context, query map[string]string, limit int) ([]*remote.Object, error) {
	var objs []*remote.Object
	pageToken := ""
	for {
		size := maxPageSize
		if limit > 0 {
			size = min(limit-len(objs), maxPageSize)
		}

		var page fileList
		r := c.http.R().
			SetContext(ctx).
			SetQueryParams(query).
			SetQueryParam("fields", listFields).
			SetQueryParam("pageSize", strconv.Itoa(size)).
			SetSuccessResult(&page)
		if pageToken != "" {
			r.SetQueryParam("pageToken", pageToken)
		}
		resp, err := r.Get(c.apiURL + "/files")
		if err := handleAPIError(resp, err, "list"); err != nil {
			return nil, err
		}

		for _, f := range page.Files {
			objs = append(objs, f.object())
		}

		pageToken = page.NextPageToken
		if pageToken == "" || (limit > 0 && len(objs) >= limit) {
			break
		}
	}
	return objs, nil
}

// upload runs a resumable upload session: method opens the session with the
// metadata, then the body is sent in chunks to the session url.
func (c *Client) upload(ctx context.Context, method, url string, meta *metadata, content remote.Content) (*file, error) {
	if content == nil || content.Size() == 0 {
		return nil, remote.ErrEmptyContent
	}
	total := content.Size()

	contentType := meta.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("uploadType", "resumable").
		SetQueryParam("fields", "id").
		SetHeader("X-Upload-Content-Type", contentType).
		SetHeader("X-Upload-Content-Length", strconv.FormatInt(total, 10)).
		SetBody(meta).
		Send(method, url)
	if err := handleAPIError(resp, err, "upload session"); err != nil {
		return nil, err
	}
	session := resp.Header.Get("Location")
	if session == "" {
		return nil, &remote.Error{Op: "upload session", Err: ErrNoUploadURL}
	}

	rc, err := content.Open()
	if err != nil {
		return nil, fmt.Errorf("open content: %w", err)
	}
	defer rc.Close()

	buf := make([]byte, min(c.chunkSize, total))
	var offset int64
	for offset < total {
		n, err := io.ReadFull(rc, buf[:min(int64(len(buf)), total-offset)])
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrContentChanged, err)
		}

		end := offset + int64(n) - 1
		var created file
		resp, err := c.http.R().
			SetContext(ctx).
			SetHeader("Content-Type", contentType).
			SetHeader("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, end, total)).
			SetBodyBytes(buf[:n]).
			SetSuccessResult(&created).
			Put(session)
		if err := handleAPIError(resp, err, "upload chunk"); err != nil {
			return nil, err
		}

		switch resp.StatusCode {
		case http.StatusOK, http.StatusCreated:
			return &created, nil
		case http.StatusPermanentRedirect:
			// the Range header acknowledges what the server has stored so far
			offset = acknowledged(resp.Header.Get("Range"), end+1)
			if offset != end+1 {
				if _, err := seekTo(rc, offset, end+1); err != nil {
					return nil, err
				}
			}
		default:
			return nil, &remote.Error{Op: "upload chunk", Status: resp.StatusCode, Message: "unexpected status"}
		}
	}
	return nil, &remote.Error{Op: "upload", Message: "session ended without a file"}
}

// acknowledged parses a `bytes=0-N` Range header into the next offset. No
// header means nothing was stored yet.
func acknowledged(rangeHeader string, fallback int64) int64 {
	if rangeHeader == "" {
		return 0
	}
	_, last, ok := strings.Cut(rangeHeader, "-")
	if !ok {
		return fallback
	}
	n, err := strconv.ParseInt(last, 10, 64)
	if err != nil {
		return fallback
	}
	return n + 1
}

// seekTo repositions rc after a partially accepted chunk.
func seekTo(rc io.Reader, offset, current int64) (int64, error) {
	s, ok := rc.(io.Seeker)
	if !ok || offset > current {
		return 0, &remote.Error{Op: "upload chunk", Message: fmt.Sprintf("server acknowledged %d of %d bytes", offset, current), Transient: true}
	}
	return s.Seek(offset, io.SeekStart)
}
