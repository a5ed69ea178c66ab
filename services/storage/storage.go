// Package storage defines the persistence boundary the engine depends on
// (spec.md §1 treats persistence as "a transactional store with
// referential integrity and unique constraints"). Storage is implemented
// by a Postgres-backed store (pg.go, grounded on the teacher's pgStorage)
// and an in-memory store (memory.go) used by tests and the demo binary.
package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/flowkeeper/enginecore/services/instance"
	"github.com/flowkeeper/enginecore/services/spec"
)

// ErrNotFound is returned by lookups that find nothing, analogous to the
// teacher's reliance on pgx.ErrNoRows.
var ErrNotFound = errors.New("storage: not found")

// ErrDuplicateCode is returned by InstallWorkflowSpec when the spec's code
// is already in use (spec.md §4.2 "Re-installing a spec with an existing
// code fails").
var ErrDuplicateCode = errors.New("storage: workflow spec code already exists")

// ErrReferenced is returned when deleting a WorkflowSpec that still has
// instances pointing at it (spec.md §3 ownership rule).
var ErrReferenced = errors.New("storage: workflow spec still has instances")

// Storage is the full persistence surface the engine depends on: spec
// reads, instance reads, and a transactional write boundary (WithTx) used
// by both the installer and the executor.
type Storage interface {
	// GetWorkflowSpec loads a previously-installed spec tree by code.
	GetWorkflowSpec(ctx context.Context, code string) (*spec.WorkflowSpec, error)
	// DeleteWorkflowSpec removes a spec tree, failing with ErrReferenced
	// if any WorkflowInstance still references it.
	DeleteWorkflowSpec(ctx context.Context, code string) error

	// GetWorkflowInstance loads a full instance tree (courses + current
	// nodes, recursively through SPLIT branches) by ID.
	GetWorkflowInstance(ctx context.Context, id uuid.UUID) (*instance.WorkflowInstance, error)
	// GetWorkflowInstanceByDocument loads the (at most one) instance bound
	// to (documentType, objectID) (spec.md §6 uniqueness constraint).
	GetWorkflowInstanceByDocument(ctx context.Context, documentType, objectID string) (*instance.WorkflowInstance, error)
	// DeleteWorkflowInstance cascades to every CourseInstance/NodeInstance.
	DeleteWorkflowInstance(ctx context.Context, id uuid.UUID) error

	// WithTx runs fn inside a single transactional boundary: every Tx
	// write made inside fn commits atomically if fn returns nil, and is
	// rolled back in full if fn returns an error (spec.md §5).
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the write surface available inside a Storage.WithTx callback.
type Tx interface {
	// InstallWorkflowSpec persists an entire validated spec tree. Fails
	// with ErrDuplicateCode if the code is already installed.
	InstallWorkflowSpec(ctx context.Context, ws *spec.WorkflowSpec) error

	// CreateWorkflowInstance persists a new WorkflowInstance. Its root
	// CourseInstance is created separately, with CreateCourseInstance.
	CreateWorkflowInstance(ctx context.Context, wi *instance.WorkflowInstance) error

	// CreateCourseInstance persists a new (pending) CourseInstance, e.g.
	// a SPLIT branch.
	CreateCourseInstance(ctx context.Context, ci *instance.CourseInstance) error

	// CreateNodeInstance persists a new NodeInstance for a course,
	// replacing whatever NodeInstance the course previously had.
	CreateNodeInstance(ctx context.Context, ni *instance.NodeInstance) error

	// DeleteNodeInstance removes a course's current NodeInstance, if any.
	DeleteNodeInstance(ctx context.Context, ci *instance.CourseInstance) error

	// SetTermLevel persists the depth at which a course was terminated
	// during recursive cancel/join (spec.md §3, §4.4.4/§4.4.5).
	SetTermLevel(ctx context.Context, ci *instance.CourseInstance, level int) error
}
