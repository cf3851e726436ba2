package sync

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/openmined/drivesync/internal/client/pathmap"
	"github.com/openmined/drivesync/internal/remote"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var errPermanent = errors.New("quota exceeded")

// fixture is a watched root with a file-backed path map over a memory remote.
type fixture struct {
	root      string
	statePath string
	pm        *pathmap.PathMap
	svc       *remote.MemoryService
	ignore    *IgnoreList
	uploader  *TreeUploader
	decider   *scriptedDecider
	handler   *Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	// macos is funny =)
	// tmpdir lives in /var/folders but it's actually symlink to /private/var/folders
	base, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	root := filepath.Join(base, "root")
	require.NoError(t, os.Mkdir(root, 0o755))
	statePath := filepath.Join(base, "state", "filesystem.json")

	f := &fixture{
		root:      root,
		statePath: statePath,
		pm:        pathmap.New(root, pathmap.NewFileStore(statePath), pathmap.WithHostID("test-host")),
		svc:       remote.NewMemoryService(),
		ignore:    NewIgnoreList(root, []string{".git"}, []string{".DS_Store"}, []string{"*.tmp"}),
		decider:   &scriptedDecider{},
	}
	f.build(f.svc)
	return f
}

// build wires uploader, reconciler and handler over svc.
func (f *fixture) build(svc remote.Service) {
	f.uploader = NewTreeUploader(f.pm, svc, f.ignore, WithConcurrency(2))
	reconciler := NewReconciler(f.pm, svc, f.decider, nil)
	f.handler = NewHandler(f.pm, svc, f.ignore, f.uploader, reconciler)
}

func (f *fixture) path(parts ...string) string {
	return filepath.Join(append([]string{f.root}, parts...)...)
}

// seed runs the cold start upload.
func (f *fixture) seed(t *testing.T) *UploadSummary {
	t.Helper()
	summary, err := f.uploader.Upload(t.Context())
	require.NoError(t, err)
	return summary
}

// reload reads the persisted map back from disk.
func (f *fixture) reload(t *testing.T) *pathmap.PathMap {
	t.Helper()
	pm, err := pathmap.Open(f.root, pathmap.NewFileStore(f.statePath), pathmap.WithHostID("test-host"))
	require.NoError(t, err)
	return pm
}

func (f *fixture) entry(t *testing.T, dir string) pathmap.Entry {
	t.Helper()
	e, err := f.pm.Lookup(dir)
	require.NoError(t, err)
	return e
}

func (f *fixture) fileID(t *testing.T, path string) string {
	t.Helper()
	id, err := f.pm.LookupFile(filepath.Dir(path), filepath.Base(path))
	require.NoError(t, err)
	return id
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func fileNames(e pathmap.Entry) []string {
	names := make([]string, 0, len(e.Files))
	for _, f := range e.Files {
		names = append(names, f.Name)
	}
	return names
}

// scriptedDecider answers from a queue and records what it was asked.
type scriptedDecider struct {
	mu       sync.Mutex
	answers  []bool
	err      error
	requests []DeletionRequest
}

func (d *scriptedDecider) answer(a ...bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.answers = append(d.answers, a...)
}

func (d *scriptedDecider) Decide(_ context.Context, req *DeletionRequest) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requests = append(d.requests, *req)
	if d.err != nil {
		return false, d.err
	}
	if len(d.answers) == 0 {
		return false, errors.New("no scripted answer")
	}
	a := d.answers[0]
	d.answers = d.answers[1:]
	return a, nil
}

func (d *scriptedDecider) asked() []DeletionRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]DeletionRequest(nil), d.requests...)
}

// failingService fails CreateObject for the listed names.
type failingService struct {
	remote.Service
	failNames map[string]error
}

func (s *failingService) CreateObject(ctx context.Context, params *remote.CreateParams) (string, error) {
	if err, ok := s.failNames[params.Name]; ok {
		return "", err
	}
	return s.Service.CreateObject(ctx, params)
}

// blockingService holds CreateObject until release is closed while block
// is set, signalling entered first.
type blockingService struct {
	remote.Service
	block   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func (s *blockingService) CreateObject(ctx context.Context, params *remote.CreateParams) (string, error) {
	if s.block.Load() {
		select {
		case s.entered <- struct{}{}:
		default:
		}
		<-s.release
	}
	return s.Service.CreateObject(ctx, params)
}

// MockService is a mock implementation of remote.Service
type MockService struct {
	mock.Mock
}

func (m *MockService) CreateObject(ctx context.Context, params *remote.CreateParams) (string, error) {
	args := m.Called(ctx, params)
	return args.String(0), args.Error(1)
}

func (m *MockService) GetObjectName(ctx context.Context, id string) (string, error) {
	args := m.Called(ctx, id)
	return args.String(0), args.Error(1)
}

func (m *MockService) DeleteObject(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockService) UpdateObjectContent(ctx context.Context, id string, content remote.Content) error {
	args := m.Called(ctx, id, content)
	return args.Error(0)
}

func (m *MockService) FindObject(ctx context.Context, name, parentID string) ([]*remote.Object, error) {
	args := m.Called(ctx, name, parentID)
	objs, _ := args.Get(0).([]*remote.Object)
	return objs, args.Error(1)
}

func (m *MockService) ListObjects(ctx context.Context, params *remote.ListParams) ([]*remote.Object, error) {
	args := m.Called(ctx, params)
	objs, _ := args.Get(0).([]*remote.Object)
	return objs, args.Error(1)
}

// failingStore wraps a store and fails Save while fail is set.
type failingStore struct {
	pathmap.Store
	mu   sync.Mutex
	fail bool
}

func (s *failingStore) setFail(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

func (s *failingStore) Save(doc *pathmap.Document) error {
	s.mu.Lock()
	fail := s.fail
	s.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	return s.Store.Save(doc)
}

// chanSource is an EventSource fed by the test.
type chanSource struct {
	ch      chan Event
	once    sync.Once
	started bool
}

func newChanSource() *chanSource {
	return &chanSource{ch: make(chan Event, 16)}
}

func (s *chanSource) Start(context.Context) error {
	s.started = true
	return nil
}

func (s *chanSource) Events() <-chan Event {
	return s.ch
}

func (s *chanSource) Stop() {
	s.once.Do(func() { close(s.ch) })
}
