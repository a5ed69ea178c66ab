// Package installer turns the declarative map format described in
// spec.md §6 into a validated, persisted spec.WorkflowSpec. Grounded on
// the teacher's UpsertWorkflow (services/storage/storage.go), generalized
// from "one flat node/edge list" to the course-nested tree this domain
// needs, with an added forward-reference resolution pass for branch
// course codes a SPLIT node names before that course has been built.
package installer

import (
	"context"

	"github.com/flowkeeper/enginecore/internal/engineerr"
	"github.com/flowkeeper/enginecore/services/callables"
	"github.com/flowkeeper/enginecore/services/spec"
	"github.com/flowkeeper/enginecore/services/storage"
)

// WorkflowInput is the top-level declarative shape installed by Install.
type WorkflowInput struct {
	Code             string
	Name             string
	Description      string
	DocumentTypeTag  string
	CreatePermission string
	CancelPermission string
	Courses          []CourseInput
}

// CourseInput describes one course within the workflow. Code == "" marks
// the root course.
type CourseInput struct {
	Code             string
	CancelPermission string
	Nodes            []NodeInput
	Transitions      []TransitionInput
}

// NodeInput describes one node within a course.
type NodeInput struct {
	Type              spec.NodeType
	Code              string
	Name              string
	LandingHandler    string
	ExitValue         *int
	Joiner            string
	ExecutePermission string
	Branches          []string // sibling course codes, resolved against WorkflowInput.Courses
}

// TransitionInput describes one transition within a course, referencing
// its origin/destination by node code.
type TransitionInput struct {
	Origin      string
	Destination string
	ActionName  string
	Permission  string
	Condition   string
	Priority    *int
}

// Installer builds and persists WorkflowSpecs from WorkflowInput.
type Installer struct {
	Storage   storage.Storage
	Callables *callables.Registry
}

// New returns an Installer backed by store and registry.
func New(store storage.Storage, registry *callables.Registry) *Installer {
	return &Installer{Storage: store, Callables: registry}
}

// Install builds a spec.WorkflowSpec from in, validates it, checks every
// callable reference against the registry, and persists it transactionally
// (spec.md §4.2). Re-installing an existing code fails with
// storage.ErrDuplicateCode.
func (i *Installer) Install(ctx context.Context, in WorkflowInput) (*spec.WorkflowSpec, error) {
	ws, err := build(in)
	if err != nil {
		return nil, err
	}

	if errs := ws.Validate(); len(errs) > 0 {
		return nil, errs
	}

	if err := i.checkCallables(ws); err != nil {
		return nil, err
	}

	err = i.Storage.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.InstallWorkflowSpec(ctx, ws)
	})
	if err != nil {
		return nil, err
	}
	return ws, nil
}

// build constructs the full CourseSpec/NodeSpec/TransitionSpec tree in
// two passes: first every course (so SPLIT branches can reference a
// course not yet populated with nodes), then nodes/transitions resolving
// branch-course and node-code references by lookup.
func build(in WorkflowInput) (*spec.WorkflowSpec, error) {
	ws := &spec.WorkflowSpec{
		Code:             in.Code,
		Name:             in.Name,
		Description:      in.Description,
		DocumentType:     in.DocumentTypeTag,
		CreatePermission: in.CreatePermission,
		CancelPermission: in.CancelPermission,
	}

	courseByCode := make(map[string]*spec.CourseSpec, len(in.Courses))
	for _, ci := range in.Courses {
		if _, exists := courseByCode[ci.Code]; exists {
			return nil, engineerr.Field(engineerr.KindDuplicateCourseCode, "code", ci.Code)
		}
		c := &spec.CourseSpec{WorkflowSpec: ws, Code: ci.Code, CancelPermission: ci.CancelPermission}
		courseByCode[ci.Code] = c
		ws.Courses = append(ws.Courses, c)
	}

	for _, ci := range in.Courses {
		c := courseByCode[ci.Code]
		nodeByCode := make(map[string]*spec.NodeSpec, len(ci.Nodes))
		for _, ni := range ci.Nodes {
			if _, exists := nodeByCode[ni.Code]; exists {
				return nil, engineerr.Field(engineerr.KindDuplicateNodeCode, "code", ni.Code)
			}
			n := &spec.NodeSpec{
				Course:            c,
				Type:              ni.Type,
				Code:              ni.Code,
				Name:              ni.Name,
				LandingHandler:    ni.LandingHandler,
				ExitValue:         ni.ExitValue,
				Joiner:            ni.Joiner,
				ExecutePermission: ni.ExecutePermission,
			}
			for _, branchCode := range ni.Branches {
				b, ok := courseByCode[branchCode]
				if !ok {
					return nil, engineerr.Field(engineerr.KindUnknownBranchCode, "branches", branchCode)
				}
				n.Branches = append(n.Branches, b)
			}
			nodeByCode[ni.Code] = n
			c.Nodes = append(c.Nodes, n)
		}

		for _, ti := range ci.Transitions {
			origin, ok := nodeByCode[ti.Origin]
			if !ok {
				return nil, engineerr.Field(engineerr.KindInvalidTransitionConfig, "origin", ti.Origin)
			}
			dest, ok := nodeByCode[ti.Destination]
			if !ok {
				return nil, engineerr.Field(engineerr.KindInvalidTransitionConfig, "destination", ti.Destination)
			}
			c.Transitions = append(c.Transitions, &spec.TransitionSpec{
				Course:      c,
				Origin:      origin,
				Destination: dest,
				ActionName:  ti.ActionName,
				Permission:  ti.Permission,
				Condition:   ti.Condition,
				Priority:    ti.Priority,
			})
		}
	}

	if err := assignDepths(ws, courseByCode); err != nil {
		return nil, err
	}

	return ws, nil
}

// assignDepths walks the SPLIT-branch tree breadth-first from the root
// course (Code == ""), assigning Depth = parent depth + 1 to every branch
// course. A course never reached this way (not the root, not named by any
// SPLIT's branches) is left at Depth 0, which spec.WorkflowSpec.Validate
// rejects as a second depth-0 course.
func assignDepths(ws *spec.WorkflowSpec, courseByCode map[string]*spec.CourseSpec) error {
	root, ok := courseByCode[""]
	if !ok {
		return engineerr.New(engineerr.KindMissingEnter, ws.Code)
	}
	root.Depth = 0

	queue := []*spec.CourseSpec{root}
	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]
		for _, n := range c.Nodes {
			if n.Type != spec.NodeSplit {
				continue
			}
			for _, branch := range n.Branches {
				branch.Depth = c.Depth + 1
				queue = append(queue, branch)
			}
		}
	}
	return nil
}

// checkCallables verifies every landing_handler/condition/joiner name the
// spec references is actually registered, failing installation up front
// rather than at first runtime use (spec.md §9 "Callable references").
func (i *Installer) checkCallables(ws *spec.WorkflowSpec) error {
	for _, c := range ws.Courses {
		for _, n := range c.Nodes {
			if n.LandingHandler != "" && !i.Callables.HasLandingHandler(n.LandingHandler) {
				return engineerr.Field(engineerr.KindUnknownCallable, "landing_handler", n.LandingHandler)
			}
			if n.Joiner != "" && !i.Callables.HasJoiner(n.Joiner) {
				return engineerr.Field(engineerr.KindUnknownCallable, "joiner", n.Joiner)
			}
		}
		for _, t := range c.Transitions {
			if t.Condition != "" && !i.Callables.HasCondition(t.Condition) {
				return engineerr.Field(engineerr.KindUnknownCallable, "condition", t.Condition)
			}
		}
	}
	return nil
}

