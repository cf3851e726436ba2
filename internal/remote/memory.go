package remote

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	OpCreate = "create"
	OpGet    = "get"
	OpDelete = "delete"
	OpUpdate = "update"
	OpFind   = "find"
	OpList   = "list"
)

// Call records one request made against a MemoryService.
type Call struct {
	Op       string
	ID       string
	Name     string
	ParentID string
	IsFolder bool
}

type memObject struct {
	Object
	content []byte
	seq     int
}

// MemoryService is an in-process Service. It backs dry runs and tests, and
// enforces the same rules as the real backends: parents must exist, empty
// bodies are rejected and folder deletes cascade.
type MemoryService struct {
	mu      sync.Mutex
	objects map[string]*memObject
	calls   []Call
	fail    map[string][]error
	seq     int
	now     func() time.Time
}

func NewMemoryService() *MemoryService {
	return &MemoryService{
		objects: make(map[string]*memObject),
		fail:    make(map[string][]error),
		now:     time.Now,
	}
}

// FailNext queues err to be returned by the next call of op.
func (m *MemoryService) FailNext(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail[op] = append(m.fail[op], err)
}

// Calls returns the requests seen so far, optionally filtered by op.
func (m *MemoryService) Calls(ops ...string) []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(ops) == 0 {
		return slices.Clone(m.calls)
	}
	var out []Call
	for _, c := range m.calls {
		if slices.Contains(ops, c.Op) {
			out = append(out, c)
		}
	}
	return out
}

func (m *MemoryService) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// Get returns a copy of the object and its content.
func (m *MemoryService) Get(id string) (*Object, []byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[id]
	if !ok {
		return nil, nil, false
	}
	o := obj.Object
	return &o, slices.Clone(obj.content), true
}

func (m *MemoryService) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

// record must be called with mu held. It returns a queued failure for op.
func (m *MemoryService) record(c Call) error {
	m.calls = append(m.calls, c)
	if q := m.fail[c.Op]; len(q) > 0 {
		m.fail[c.Op] = q[1:]
		return q[0]
	}
	return nil
}

func (m *MemoryService) CreateObject(ctx context.Context, params *CreateParams) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record(Call{Op: OpCreate, Name: params.Name, ParentID: params.ParentID, IsFolder: params.IsFolder}); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if params.Name == "" || strings.ContainsRune(params.Name, '/') {
		return "", fmt.Errorf("%w: name %q", ErrInvalidArgument, params.Name)
	}

	parent := RootID
	if params.ParentID != "" {
		p, ok := m.objects[params.ParentID]
		if !ok {
			return "", fmt.Errorf("parent %s: %w", params.ParentID, ErrNotFound)
		}
		if !p.IsFolder {
			return "", fmt.Errorf("parent %s: %w", params.ParentID, ErrNotAFolder)
		}
		parent = params.ParentID
	}

	obj := &memObject{
		Object: Object{
			ID:          uuid.NewString(),
			Name:        params.Name,
			IsFolder:    params.IsFolder,
			MimeType:    params.MimeType,
			Size:        -1,
			CreatedTime: m.now(),
			ParentIDs:   []string{parent},
			Spaces:      []string{SpaceDrive},
		},
	}
	if params.IsFolder {
		obj.MimeType = FolderMimeType
	} else {
		data, err := readNonEmpty(params.Content)
		if err != nil {
			return "", err
		}
		obj.content = data
		obj.Size = int64(len(data))
	}

	m.seq++
	obj.seq = m.seq
	m.objects[obj.ID] = obj
	return obj.ID, nil
}

func (m *MemoryService) GetObjectName(ctx context.Context, id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record(Call{Op: OpGet, ID: id}); err != nil {
		return "", err
	}
	obj, ok := m.objects[id]
	if !ok {
		return "", ErrNotFound
	}
	return obj.Name, nil
}

func (m *MemoryService) DeleteObject(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record(Call{Op: OpDelete, ID: id}); err != nil {
		return err
	}
	if _, ok := m.objects[id]; !ok {
		return ErrNotFound
	}

	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		delete(m.objects, cur)
		for oid, o := range m.objects {
			if slices.Contains(o.ParentIDs, cur) {
				queue = append(queue, oid)
			}
		}
	}
	return nil
}

func (m *MemoryService) UpdateObjectContent(ctx context.Context, id string, content Content) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record(Call{Op: OpUpdate, ID: id}); err != nil {
		return err
	}
	obj, ok := m.objects[id]
	if !ok {
		return ErrNotFound
	}
	if obj.IsFolder {
		return fmt.Errorf("%w: %s is a folder", ErrInvalidArgument, id)
	}
	data, err := readNonEmpty(content)
	if err != nil {
		return err
	}
	obj.content = data
	obj.Size = int64(len(data))
	return nil
}

func (m *MemoryService) FindObject(ctx context.Context, name, parentID string) ([]*Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record(Call{Op: OpFind, Name: name, ParentID: parentID}); err != nil {
		return nil, err
	}
	if parentID == "" {
		parentID = RootID
	}

	var matches []*memObject
	for _, o := range m.objects {
		if o.Name == name && slices.Contains(o.ParentIDs, parentID) {
			matches = append(matches, o)
		}
	}
	slices.SortFunc(matches, func(a, b *memObject) int { return cmp.Compare(a.seq, b.seq) })
	return toObjects(matches), nil
}

func (m *MemoryService) ListObjects(ctx context.Context, params *ListParams) ([]*Object, error) {
	if params == nil {
		params = &ListParams{}
	}
	if err := ValidateListParams(params); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.record(Call{Op: OpList}); err != nil {
		return nil, err
	}

	space := params.Space
	if space == "" {
		space = SpaceDrive
	}

	var objs []*memObject
	for _, o := range m.objects {
		if slices.Contains(o.Spaces, space) {
			objs = append(objs, o)
		}
	}
	slices.SortFunc(objs, memOrder(params.OrderBy))
	if params.PageSize > 0 && len(objs) > params.PageSize {
		objs = objs[:params.PageSize]
	}
	return toObjects(objs), nil
}

// memOrder supports the first key of orderBy. Keys the memory backend has no
// data for fall back to creation order.
func memOrder(orderBy string) func(a, b *memObject) int {
	key, _, _ := strings.Cut(orderBy, ",")
	key = strings.TrimSpace(key)
	desc := strings.HasSuffix(key, " desc")
	key = strings.TrimSuffix(key, " desc")

	order := func(a, b *memObject) int { return cmp.Compare(a.seq, b.seq) }
	switch key {
	case "name", "name_natural":
		order = func(a, b *memObject) int { return strings.Compare(a.Name, b.Name) }
	case "quotaBytesUsed":
		order = func(a, b *memObject) int { return cmp.Compare(a.Size, b.Size) }
	case "folder":
		order = func(a, b *memObject) int {
			if a.IsFolder == b.IsFolder {
				return strings.Compare(a.Name, b.Name)
			}
			if a.IsFolder {
				return -1
			}
			return 1
		}
	}
	if desc {
		return func(a, b *memObject) int { return order(b, a) }
	}
	return order
}

func toObjects(in []*memObject) []*Object {
	out := make([]*Object, 0, len(in))
	for _, o := range in {
		c := o.Object
		c.ParentIDs = slices.Clone(o.ParentIDs)
		c.Spaces = slices.Clone(o.Spaces)
		out = append(out, &c)
	}
	return out
}

func readNonEmpty(c Content) ([]byte, error) {
	if c == nil || c.Size() == 0 {
		return nil, ErrEmptyContent
	}
	data, err := ReadAll(c)
	if err != nil {
		return nil, fmt.Errorf("read content: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrEmptyContent
	}
	return data, nil
}
