// Package s3store implements remote.Service on an S3 compatible bucket.
//
// Buckets are flat, so the folder hierarchy, names and ids live in a local
// SQLite index and file bodies are stored under <prefix>/<id>.
package s3store

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/openmined/drivesync/internal/db"
	"github.com/openmined/drivesync/internal/remote"
)

const schema = `
CREATE TABLE IF NOT EXISTS objects (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	parent_id    TEXT NOT NULL,
	is_folder    INTEGER NOT NULL DEFAULT 0,
	mime_type    TEXT NOT NULL DEFAULT '',
	size         INTEGER NOT NULL DEFAULT -1,
	created_time INTEGER NOT NULL,
	space        TEXT NOT NULL DEFAULT 'drive'
);
CREATE INDEX IF NOT EXISTS idx_objects_parent_name ON objects (parent_id, name);
`

// Config mirrors the s3 section of the agent configuration.
type Config struct {
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
	Endpoint  string
	Prefix    string
	IndexPath string
}

// ObjectAPI is the part of *s3.Client the store needs.
type ObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type objectRow struct {
	ID          string `db:"id"`
	Name        string `db:"name"`
	ParentID    string `db:"parent_id"`
	IsFolder    bool   `db:"is_folder"`
	MimeType    string `db:"mime_type"`
	Size        int64  `db:"size"`
	CreatedTime int64  `db:"created_time"`
	Space       string `db:"space"`
}

func (r *objectRow) object() *remote.Object {
	return &remote.Object{
		ID:          r.ID,
		Name:        r.Name,
		IsFolder:    r.IsFolder,
		MimeType:    r.MimeType,
		Size:        r.Size,
		CreatedTime: time.Unix(0, r.CreatedTime).UTC(),
		ParentIDs:   []string{r.ParentID},
		Spaces:      []string{r.Space},
	}
}

type Store struct {
	api    ObjectAPI
	db     *sqlx.DB
	bucket string
	prefix string
	// serializes index writes with their object uploads
	mu  sync.Mutex
	now func() time.Time
	log *slog.Logger
}

var _ remote.Service = (*Store)(nil)

// NewS3Client builds a client with static credentials. A custom endpoint
// switches to path style addressing for MinIO and friends.
func NewS3Client(ctx context.Context, cfg *Config) (*s3.Client, error) {
	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          32,
			MaxIdleConnsPerHost:   16,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ForceAttemptHTTP2:     true,
		},
		Timeout: 5 * time.Minute,
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
		config.WithHTTPClient(httpClient),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// New connects to the bucket and opens the index at cfg.IndexPath.
func New(ctx context.Context, cfg *Config) (*Store, error) {
	client, err := NewS3Client(ctx, cfg)
	if err != nil {
		return nil, err
	}
	index, err := OpenIndex(cfg.IndexPath)
	if err != nil {
		return nil, err
	}
	return NewStore(client, index, cfg.Bucket, cfg.Prefix), nil
}

// OpenIndex opens (or creates) the object index database.
func OpenIndex(path string) (*sqlx.DB, error) {
	return db.NewSqliteDB(
		db.WithPath(path),
		db.WithMaxOpenConns(1),
		db.WithSchema(schema),
	)
}

func NewStore(api ObjectAPI, index *sqlx.DB, bucket, prefix string) *Store {
	return &Store{
		api:    api,
		db:     index,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		now:    time.Now,
		log:    slog.Default().With("component", "s3store"),
	}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) key(id string) string {
	if s.prefix == "" {
		return id
	}
	return path.Join(s.prefix, id)
}

func (s *Store) row(ctx context.Context, id string) (*objectRow, error) {
	var r objectRow
	err := s.db.GetContext(ctx, &r, `SELECT * FROM objects WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, remote.ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("index lookup: %w", err)
	}
	return &r, nil
}

func (s *Store) CreateObject(ctx context.Context, params *remote.CreateParams) (string, error) {
	if params.Name == "" || strings.ContainsRune(params.Name, '/') {
		return "", fmt.Errorf("%w: name %q", remote.ErrInvalidArgument, params.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	parent := remote.RootID
	if params.ParentID != "" {
		p, err := s.row(ctx, params.ParentID)
		if err != nil {
			return "", fmt.Errorf("parent %s: %w", params.ParentID, err)
		}
		if !p.IsFolder {
			return "", fmt.Errorf("parent %s: %w", params.ParentID, remote.ErrNotAFolder)
		}
		parent = p.ID
	}

	r := &objectRow{
		ID:          uuid.NewString(),
		Name:        params.Name,
		ParentID:    parent,
		IsFolder:    params.IsFolder,
		MimeType:    params.MimeType,
		Size:        -1,
		CreatedTime: s.now().UnixNano(),
		Space:       remote.SpaceDrive,
	}
	if params.IsFolder {
		r.MimeType = remote.FolderMimeType
	} else {
		size, err := s.put(ctx, "create", r.ID, r.MimeType, params.Content)
		if err != nil {
			return "", err
		}
		r.Size = size
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO objects (id, name, parent_id, is_folder, mime_type, size, created_time, space)
		VALUES (:id, :name, :parent_id, :is_folder, :mime_type, :size, :created_time, :space)`, r)
	if err != nil {
		return "", fmt.Errorf("index insert: %w", err)
	}
	return r.ID, nil
}

// put uploads content under the object's key and returns its size.
func (s *Store) put(ctx context.Context, op, id, mimeType string, content remote.Content) (int64, error) {
	if content == nil || content.Size() == 0 {
		return 0, remote.ErrEmptyContent
	}

	rc, err := content.Open()
	if err != nil {
		return 0, fmt.Errorf("open content: %w", err)
	}
	defer rc.Close()

	// request signing needs a seekable body
	body, ok := rc.(io.ReadSeeker)
	if !ok {
		data, err := io.ReadAll(rc)
		if err != nil {
			return 0, fmt.Errorf("read content: %w", err)
		}
		body = bytes.NewReader(data)
	}

	size := content.Size()
	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key(id)),
		Body:          body,
		ContentLength: aws.Int64(size),
	}
	if mimeType != "" {
		input.ContentType = aws.String(mimeType)
	}
	if _, err := s.api.PutObject(ctx, input); err != nil {
		return 0, wrapError(op, err)
	}
	return size, nil
}

func (s *Store) GetObjectName(ctx context.Context, id string) (string, error) {
	r, err := s.row(ctx, id)
	if err != nil {
		return "", err
	}
	return r.Name, nil
}

// DeleteObject removes id and, for folders, everything below it. Bodies are
// deleted first; S3 deletes are idempotent so a failed call can be retried.
func (s *Store) DeleteObject(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rows []objectRow
	err := s.db.SelectContext(ctx, &rows, `
		WITH RECURSIVE subtree(id) AS (
			SELECT id FROM objects WHERE id = ?
			UNION ALL
			SELECT o.id FROM objects o JOIN subtree ON o.parent_id = subtree.id
		)
		SELECT o.* FROM objects o JOIN subtree ON o.id = subtree.id`, id)
	if err != nil {
		return fmt.Errorf("index subtree: %w", err)
	}
	if len(rows) == 0 {
		return remote.ErrNotFound
	}

	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
		if r.IsFolder {
			continue
		}
		_, err := s.api.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.key(r.ID)),
		})
		if err != nil {
			return wrapError("delete", err)
		}
	}

	query, args, err := sqlx.In(`DELETE FROM objects WHERE id IN (?)`, ids)
	if err != nil {
		return fmt.Errorf("index delete: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("index delete: %w", err)
	}
	s.log.Debug("deleted", "id", id, "objects", len(rows))
	return nil
}

func (s *Store) UpdateObjectContent(ctx context.Context, id string, content remote.Content) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.row(ctx, id)
	if err != nil {
		return err
	}
	if r.IsFolder {
		return fmt.Errorf("%w: %s is a folder", remote.ErrInvalidArgument, id)
	}

	size, err := s.put(ctx, "update", id, r.MimeType, content)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE objects SET size = ? WHERE id = ?`, size, id); err != nil {
		return fmt.Errorf("index update: %w", err)
	}
	return nil
}

func (s *Store) FindObject(ctx context.Context, name, parentID string) ([]*remote.Object, error) {
	if parentID == "" {
		parentID = remote.RootID
	}
	var rows []objectRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM objects WHERE parent_id = ? AND name = ?
		ORDER BY created_time, rowid`, parentID, name)
	if err != nil {
		return nil, fmt.Errorf("index find: %w", err)
	}
	return toObjects(rows), nil
}

func (s *Store) ListObjects(ctx context.Context, params *remote.ListParams) ([]*remote.Object, error) {
	if params == nil {
		params = &remote.ListParams{}
	}
	if err := remote.ValidateListParams(params); err != nil {
		return nil, err
	}

	space := params.Space
	if space == "" {
		space = remote.SpaceDrive
	}

	query := `SELECT * FROM objects WHERE space = ? ORDER BY ` + orderClause(params.OrderBy)
	args := []any{space}
	if params.PageSize > 0 {
		query += ` LIMIT ?`
		args = append(args, params.PageSize)
	}

	var rows []objectRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("index list: %w", err)
	}
	return toObjects(rows), nil
}

// orderClause maps validated order keys onto index columns. Keys the index
// keeps no data for are skipped. Creation order breaks ties.
func orderClause(orderBy string) string {
	var terms []string
	if orderBy != "" {
		for _, key := range strings.Split(orderBy, ",") {
			key = strings.TrimSpace(key)
			desc := strings.HasSuffix(key, " desc")
			key = strings.TrimSuffix(key, " desc")

			var col string
			switch key {
			case "name", "name_natural":
				col = "name"
			case "quotaBytesUsed":
				col = "size"
			case "createdTime", "modifiedTime", "modifiedByMeTime", "recency", "viewedByMeTime", "sharedWithMeTime":
				col = "created_time"
			case "folder":
				// folders first
				col = "is_folder"
				desc = !desc
			default:
				continue
			}
			if desc {
				col += " DESC"
			}
			terms = append(terms, col)
		}
	}
	terms = append(terms, "created_time", "rowid")
	return strings.Join(terms, ", ")
}

func toObjects(rows []objectRow) []*remote.Object {
	out := make([]*remote.Object, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].object())
	}
	return out
}

// wrapError classifies S3 failures for the retry layer.
func wrapError(op string, err error) error {
	var re *awshttp.ResponseError
	if errors.As(err, &re) {
		status := re.HTTPStatusCode()
		return &remote.Error{Op: op, Status: status, Transient: remote.TransientStatus(status), Err: err}
	}
	return &remote.Error{Op: op, Err: err, Transient: remote.IsTransient(err)}
}
