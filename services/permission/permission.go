// Package permission gates every externally-initiated workflow operation
// against a host-supplied permission oracle, mirroring the three checks
// original_source's Workflow.PermissionsChecker performs (start/cancel/
// advance) before the runner is allowed to touch an instance (spec.md §5).
package permission

import (
	"context"

	"github.com/flowkeeper/enginecore/internal/engineerr"
	"github.com/flowkeeper/enginecore/services/instance"
	"github.com/flowkeeper/enginecore/services/spec"
)

// Oracle answers whether a user holds a named permission against a
// document. The engine never interprets permission identifiers itself —
// they are opaque strings defined by the host application's own
// authorization model.
type Oracle interface {
	HasPermission(ctx context.Context, user instance.User, permission string, doc instance.Document) (bool, error)
}

// Gate wraps an Oracle with the engine's three permission checkpoints.
type Gate struct {
	Oracle Oracle
}

// NewGate returns a Gate backed by oracle.
func NewGate(oracle Oracle) *Gate {
	return &Gate{Oracle: oracle}
}

// hasPermission treats an empty permission string as "no restriction",
// matching original_source's checks, which skip the lookup entirely when
// the spec field is blank.
func (g *Gate) hasPermission(ctx context.Context, user instance.User, permission string, doc instance.Document) (bool, error) {
	if permission == "" {
		return true, nil
	}
	return g.Oracle.HasPermission(ctx, user, permission, doc)
}

// CanInstantiate checks ws.CreatePermission before Start (spec.md §4.1).
func (g *Gate) CanInstantiate(ctx context.Context, user instance.User, ws *spec.WorkflowSpec, doc instance.Document) error {
	ok, err := g.hasPermission(ctx, user, ws.CreatePermission, doc)
	if err != nil {
		return err
	}
	if !ok {
		return engineerr.New(engineerr.KindWorkflowCreateDenied, ws.Code)
	}
	return nil
}

// CanCancel checks both the workflow-level and course-level cancel
// permissions before Cancel (original_source checks the workflow's
// cancel_permission first, then the specific course's).
func (g *Gate) CanCancel(ctx context.Context, user instance.User, ci *instance.CourseInstance, doc instance.Document) error {
	ws := ci.WorkflowInstance.WorkflowSpec
	ok, err := g.hasPermission(ctx, user, ws.CancelPermission, doc)
	if err != nil {
		return err
	}
	if !ok {
		return engineerr.New(engineerr.KindWorkflowCourseCancelDeniedByWorkflow, ws.Code)
	}

	ok, err = g.hasPermission(ctx, user, ci.CourseSpec.CancelPermission, doc)
	if err != nil {
		return err
	}
	if !ok {
		return engineerr.New(engineerr.KindWorkflowCourseCancelDeniedByCourse, ci.CourseSpec.Code)
	}
	return nil
}

// CanAdvance checks the current node's execute_permission (INPUT nodes
// only carry one) and, when actionName selects an outbound transition,
// that transition's own permission field. Only externally-initiated
// Advance calls go through this check — internal continuations (STEP,
// MULTIPLEXER auto-advance, SPLIT re-entry) bypass it entirely (spec.md
// §4.4.2 "permission is checked only for the externally-triggered
// transition that begins the advance").
func (g *Gate) CanAdvance(ctx context.Context, user instance.User, ci *instance.CourseInstance, tr *spec.TransitionSpec, doc instance.Document) error {
	if ci.Node == nil || ci.Node.NodeSpec.Type != spec.NodeInput {
		return engineerr.New(engineerr.KindWrongNodeType, ci.CourseSpec.Code)
	}

	ok, err := g.hasPermission(ctx, user, ci.Node.NodeSpec.ExecutePermission, doc)
	if err != nil {
		return err
	}
	if !ok {
		return engineerr.New(engineerr.KindWorkflowCourseAdvanceDeniedByNode, ci.Node.NodeSpec.Code)
	}

	ok, err = g.hasPermission(ctx, user, tr.Permission, doc)
	if err != nil {
		return err
	}
	if !ok {
		return engineerr.New(engineerr.KindWorkflowCourseAdvanceDeniedByTransition, tr.ActionName)
	}
	return nil
}
