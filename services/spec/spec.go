// Package spec defines the authoring-time graph entities — WorkflowSpec,
// CourseSpec, NodeSpec, TransitionSpec — and their static validation
// rules. These are the persisted templates the executor drives instances
// through; see package instance for the runtime counterparts.
package spec

import (
	"github.com/google/uuid"
)

// NodeType tags the eight structural roles a node can play. Per spec.md
// design notes, behavior is dispatched on this tag rather than on
// separate concrete types, since validation and persistence both need to
// switch on it uniformly.
type NodeType string

const (
	NodeEnter       NodeType = "ENTER"
	NodeExit        NodeType = "EXIT"
	NodeCancel      NodeType = "CANCEL"
	NodeJoined      NodeType = "JOINED"
	NodeInput       NodeType = "INPUT"
	NodeStep        NodeType = "STEP"
	NodeMultiplexer NodeType = "MULTIPLEXER"
	NodeSplit       NodeType = "SPLIT"
)

// Persistent reports whether a node of this type materializes a
// NodeInstance when a course lands on it (spec.md §3, §4.4.1 step 4-5).
func (t NodeType) Persistent() bool {
	switch t {
	case NodeInput, NodeSplit, NodeExit, NodeCancel, NodeJoined:
		return true
	default:
		return false
	}
}

// Terminal reports whether a node of this type ends a course permanently.
func (t NodeType) Terminal() bool {
	switch t {
	case NodeExit, NodeCancel, NodeJoined:
		return true
	default:
		return false
	}
}

// WorkflowSpec is an authored graph template bound to a document type.
type WorkflowSpec struct {
	ID               uuid.UUID
	Code             string
	Name             string
	Description      string
	CreatePermission string // empty = no permission required
	CancelPermission string
	DocumentType     string
	Courses          []*CourseSpec
}

// RootCourse returns the depth-0 course, or nil if none exists yet
// (only possible mid-construction, before validate() runs).
func (w *WorkflowSpec) RootCourse() *CourseSpec {
	for _, c := range w.Courses {
		if c.Depth == 0 {
			return c
		}
	}
	return nil
}

// CourseSpec is a subgraph within a workflow. The root course (Code == "")
// drives the main flow; other courses are spawned by SPLIT nodes.
type CourseSpec struct {
	ID               uuid.UUID
	WorkflowSpec     *WorkflowSpec
	Code             string // "" for the root course
	Depth            int
	CancelPermission string
	Nodes            []*NodeSpec
	Transitions      []*TransitionSpec
}

// NodeByCode returns the node with the given code within this course, or
// nil.
func (c *CourseSpec) NodeByCode(code string) *NodeSpec {
	for _, n := range c.Nodes {
		if n.Code == code {
			return n
		}
	}
	return nil
}

// OutboundOf returns the transitions whose Origin is the given node.
func (c *CourseSpec) OutboundOf(n *NodeSpec) []*TransitionSpec {
	var out []*TransitionSpec
	for _, t := range c.Transitions {
		if t.Origin == n {
			out = append(out, t)
		}
	}
	return out
}

// EnterNode returns the course's unique ENTER node, or nil.
func (c *CourseSpec) EnterNode() *NodeSpec {
	for _, n := range c.Nodes {
		if n.Type == NodeEnter {
			return n
		}
	}
	return nil
}

// CancelNode returns the course's CANCEL node, or nil if it has none.
func (c *CourseSpec) CancelNode() *NodeSpec {
	for _, n := range c.Nodes {
		if n.Type == NodeCancel {
			return n
		}
	}
	return nil
}

// JoinedNode returns the course's JOINED node, or nil if it has none.
func (c *CourseSpec) JoinedNode() *NodeSpec {
	for _, n := range c.Nodes {
		if n.Type == NodeJoined {
			return n
		}
	}
	return nil
}

// NodeSpec is a single state within a CourseSpec. Not every field is
// meaningful for every Type; see spec.md §3's per-type table. Validate
// enforces which fields are legal for which Type.
type NodeSpec struct {
	ID                uuid.UUID
	Course            *CourseSpec
	Type              NodeType
	Code              string
	Name              string
	LandingHandler    string // callable name, registered in callables.Registry
	ExitValue         *int   // EXIT only, >= 0
	Joiner            string // callable name, SPLIT only
	ExecutePermission string // INPUT only
	Branches          []*CourseSpec // SPLIT only, non-empty
}

// TransitionSpec is a directed edge between two nodes of the same course.
type TransitionSpec struct {
	ID          uuid.UUID
	Course      *CourseSpec
	Origin      *NodeSpec
	Destination *NodeSpec
	ActionName  string // required+unique from INPUT/SPLIT
	Permission  string // only meaningful from INPUT
	Condition   string // callable name, required from MULTIPLEXER
	Priority    *int    // required+unique from MULTIPLEXER, non-negative
}
