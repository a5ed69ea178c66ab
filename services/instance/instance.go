// Package instance defines the runtime entities — WorkflowInstance,
// CourseInstance, NodeInstance — bound to a concrete document, plus the
// narrow Document/User interfaces the engine depends on instead of a
// concrete application model (spec.md §3, §1 "external collaborators").
package instance

import (
	"time"

	"github.com/google/uuid"

	"github.com/flowkeeper/enginecore/services/spec"
)

// Document identifies the polymorphic (document_type, object_id) subject
// a WorkflowInstance is bound to. The engine never reads or writes the
// document itself; landing handlers, conditions and joiners do, via the
// host application's own persistence layer.
type Document interface {
	DocumentType() string
	ObjectID() string
}

// User identifies the actor invoking an externally-initiated operation.
// Only its identity is meaningful to the engine; permission.Oracle is
// responsible for interpreting it against a permission identifier.
type User interface {
	UserID() string
}

// WorkflowInstance is a running realization of a WorkflowSpec, bound to a
// document. Created when the workflow starts; destroyed with the
// document (spec.md §3).
type WorkflowInstance struct {
	ID           uuid.UUID
	WorkflowSpec *spec.WorkflowSpec
	DocumentType string
	ObjectID     string
	CreatedAt    time.Time
	Courses      []*CourseInstance
}

// RootCourse returns the WorkflowInstance's single parent-less course, or
// nil if none exists (should never happen for a validly-constructed
// instance — see nav.RootCourse, which reports that case as an error).
func (w *WorkflowInstance) RootCourse() *CourseInstance {
	var found *CourseInstance
	for _, c := range w.Courses {
		if c.Parent == nil {
			if found != nil {
				return nil // ambiguous; caller should treat as an error
			}
			found = c
		}
	}
	return found
}

// CourseInstance is a running realization of a CourseSpec. It owns at
// most one NodeInstance at a time; Node == nil means "pending" (created
// but not yet advanced past ENTER).
type CourseInstance struct {
	ID               uuid.UUID
	WorkflowInstance *WorkflowInstance
	CourseSpec       *spec.CourseSpec
	Parent           *NodeInstance // the parent SPLIT's NodeInstance; nil for the root course
	Node             *NodeInstance
	TermLevel        *int // set when cancelled/joined; depth at which termination was initiated
}

// NodeInstance is a course's current persistent node. Only materialized
// for NodeSpec.Type values where NodeType.Persistent() is true (spec.md
// §3, §4.4.1).
type NodeInstance struct {
	ID         uuid.UUID
	Course     *CourseInstance
	NodeSpec   *spec.NodeSpec
	Branches   []*CourseInstance // populated only when NodeSpec.Type == SPLIT
	EnteredAt  time.Time
}
