package storage

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/flowkeeper/enginecore/services/instance"
	"github.com/flowkeeper/enginecore/services/spec"
)

// MemoryStore is an in-process Storage implementation used by tests and
// the demo binary (main.go at the module root) when DATABASE_URL isn't set.
// Installed specs are treated as immutable once stored, so a shallow map
// snapshot is enough to make InstallWorkflowSpec all-or-nothing.
// Instance trees, by contrast, are mutated in place by the executor, so
// WithTx deep-clones the affected portion of the instance graph before
// running fn and swaps the live map back to the pre-tx clones on error —
// a caller holding a pointer obtained mid-transaction sees the abandoned
// partial mutation, but any fresh Get call after a failed WithTx sees the
// rolled-back state. Real atomicity for concurrent holders comes from the
// Postgres-backed store (pg.go); this one exists to make the engine
// testable without a database.
type MemoryStore struct {
	mu        sync.Mutex
	specs     map[string]*spec.WorkflowSpec // by code
	instances map[uuid.UUID]*instance.WorkflowInstance
	byDoc     map[string]uuid.UUID // documentType + "\x00" + objectID -> instance id
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		specs:     make(map[string]*spec.WorkflowSpec),
		instances: make(map[uuid.UUID]*instance.WorkflowInstance),
		byDoc:     make(map[string]uuid.UUID),
	}
}

func docKey(documentType, objectID string) string {
	return documentType + "\x00" + objectID
}

func (s *MemoryStore) GetWorkflowSpec(ctx context.Context, code string) (*spec.WorkflowSpec, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ws, ok := s.specs[code]
	if !ok {
		return nil, ErrNotFound
	}
	return ws, nil
}

func (s *MemoryStore) DeleteWorkflowSpec(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ws, ok := s.specs[code]
	if !ok {
		return ErrNotFound
	}
	for _, wi := range s.instances {
		if wi.WorkflowSpec == ws {
			return ErrReferenced
		}
	}
	delete(s.specs, code)
	return nil
}

func (s *MemoryStore) GetWorkflowInstance(ctx context.Context, id uuid.UUID) (*instance.WorkflowInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wi, ok := s.instances[id]
	if !ok {
		return nil, ErrNotFound
	}
	return wi, nil
}

func (s *MemoryStore) GetWorkflowInstanceByDocument(ctx context.Context, documentType, objectID string) (*instance.WorkflowInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byDoc[docKey(documentType, objectID)]
	if !ok {
		return nil, ErrNotFound
	}
	return s.instances[id], nil
}

func (s *MemoryStore) DeleteWorkflowInstance(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wi, ok := s.instances[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.instances, id)
	delete(s.byDoc, docKey(wi.DocumentType, wi.ObjectID))
	return nil
}

// WithTx snapshots specs (shallow) and every currently-known instance
// (deep) before invoking fn, and restores the snapshot if fn errors.
func (s *MemoryStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	specsSnapshot := make(map[string]*spec.WorkflowSpec, len(s.specs))
	for k, v := range s.specs {
		specsSnapshot[k] = v
	}
	instancesSnapshot := make(map[uuid.UUID]*instance.WorkflowInstance, len(s.instances))
	byDocSnapshot := make(map[string]uuid.UUID, len(s.byDoc))
	for k, v := range s.instances {
		instancesSnapshot[k] = cloneWorkflowInstance(v)
	}
	for k, v := range s.byDoc {
		byDocSnapshot[k] = v
	}

	tx := &memoryTx{store: s}
	if err := fn(ctx, tx); err != nil {
		s.specs = specsSnapshot
		s.instances = instancesSnapshot
		s.byDoc = byDocSnapshot
		return err
	}
	return nil
}

type memoryTx struct {
	store *MemoryStore
}

func (t *memoryTx) InstallWorkflowSpec(ctx context.Context, ws *spec.WorkflowSpec) error {
	if _, exists := t.store.specs[ws.Code]; exists {
		return ErrDuplicateCode
	}
	t.store.specs[ws.Code] = ws
	return nil
}

func (t *memoryTx) CreateWorkflowInstance(ctx context.Context, wi *instance.WorkflowInstance) error {
	key := docKey(wi.DocumentType, wi.ObjectID)
	if _, exists := t.store.byDoc[key]; exists {
		return ErrDuplicateCode
	}
	t.store.instances[wi.ID] = wi
	t.store.byDoc[key] = wi.ID
	return nil
}

func (t *memoryTx) CreateCourseInstance(ctx context.Context, ci *instance.CourseInstance) error {
	ci.WorkflowInstance.Courses = append(ci.WorkflowInstance.Courses, ci)
	return nil
}

func (t *memoryTx) CreateNodeInstance(ctx context.Context, ni *instance.NodeInstance) error {
	ni.Course.Node = ni
	return nil
}

func (t *memoryTx) DeleteNodeInstance(ctx context.Context, ci *instance.CourseInstance) error {
	ci.Node = nil
	return nil
}

func (t *memoryTx) SetTermLevel(ctx context.Context, ci *instance.CourseInstance, level int) error {
	l := level
	ci.TermLevel = &l
	return nil
}

func cloneWorkflowInstance(wi *instance.WorkflowInstance) *instance.WorkflowInstance {
	clone := *wi
	clone.Courses = make([]*instance.CourseInstance, len(wi.Courses))
	old := make(map[*instance.CourseInstance]*instance.CourseInstance, len(wi.Courses))
	for i, c := range wi.Courses {
		cc := *c
		cc.WorkflowInstance = &clone
		clone.Courses[i] = &cc
		old[c] = &cc
	}
	for i, c := range wi.Courses {
		cloned := clone.Courses[i]
		if c.Parent != nil {
			cloned.Parent = cloneNodeInstance(c.Parent, old)
		}
		if c.Node != nil {
			cloned.Node = cloneNodeInstance(c.Node, old)
		}
	}
	return &clone
}

func cloneNodeInstance(ni *instance.NodeInstance, remapped map[*instance.CourseInstance]*instance.CourseInstance) *instance.NodeInstance {
	clone := *ni
	if cc, ok := remapped[ni.Course]; ok {
		clone.Course = cc
	}
	if len(ni.Branches) > 0 {
		clone.Branches = make([]*instance.CourseInstance, len(ni.Branches))
		for i, b := range ni.Branches {
			if cc, ok := remapped[b]; ok {
				clone.Branches[i] = cc
			} else {
				clone.Branches[i] = b
			}
		}
	}
	return &clone
}
