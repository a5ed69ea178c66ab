// Package executor is the engine's runtime core: Start/Advance/Cancel/Join
// drive a WorkflowInstance through its spec graph, landing courses on
// nodes, spawning and tearing down SPLIT branches, and notifying parent
// courses when every branch under a SPLIT has settled. Grounded on
// original_source's Workflow.WorkflowRunner (_move/_cancel/_join/
// _run_transition), with the EXIT/STEP/MULTIPLEXER continuation paths —
// left as bare placeholders there — fully implemented (spec.md §9).
package executor

import (
	"context"
	"fmt"

	"github.com/flowkeeper/enginecore/internal/engineerr"
	"github.com/flowkeeper/enginecore/services/callables"
	"github.com/flowkeeper/enginecore/services/instance"
	"github.com/flowkeeper/enginecore/services/nav"
	"github.com/flowkeeper/enginecore/services/permission"
	"github.com/flowkeeper/enginecore/services/spec"
	"github.com/flowkeeper/enginecore/services/storage"
)

// Engine ties together the three collaborators every operation needs:
// durable state, permission decisions, and host-supplied callables.
type Engine struct {
	Storage    storage.Storage
	Gate       *permission.Gate
	Callables  *callables.Registry
}

// New builds an Engine. All three arguments are required.
func New(store storage.Storage, gate *permission.Gate, registry *callables.Registry) *Engine {
	return &Engine{Storage: store, Gate: gate, Callables: registry}
}

// Start instantiates ws against doc: creates the WorkflowInstance, its
// root CourseInstance (pending), and immediately lands the root course on
// its ENTER node's single outbound transition (spec.md §4.1).
func (e *Engine) Start(ctx context.Context, ws *spec.WorkflowSpec, doc instance.Document, user instance.User) (*instance.WorkflowInstance, error) {
	if err := e.Gate.CanInstantiate(ctx, user, ws, doc); err != nil {
		return nil, err
	}

	root := ws.RootCourse()
	if root == nil {
		return nil, engineerr.New(engineerr.KindMissingEnter, ws.Code)
	}

	wi := &instance.WorkflowInstance{WorkflowSpec: ws, DocumentType: doc.DocumentType(), ObjectID: doc.ObjectID()}
	err := e.Storage.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.CreateWorkflowInstance(ctx, wi); err != nil {
			return err
		}
		rootCI := &instance.CourseInstance{WorkflowInstance: wi, CourseSpec: root}
		if err := tx.CreateCourseInstance(ctx, rootCI); err != nil {
			return err
		}
		return e.enterCourse(ctx, tx, rootCI, doc, user)
	})
	if err != nil {
		return nil, err
	}
	return wi, nil
}

// enterCourse lands a freshly created, pending course on its ENTER node's
// sole outbound destination — ENTER is never itself persisted as a
// NodeInstance (spec.md §4.4.1 step 1, §3 "ENTER ... transient").
func (e *Engine) enterCourse(ctx context.Context, tx storage.Tx, ci *instance.CourseInstance, doc instance.Document, user instance.User) error {
	enter := ci.CourseSpec.EnterNode()
	if enter == nil {
		return engineerr.New(engineerr.KindMissingEnter, ci.CourseSpec.Code)
	}
	outbound := ci.CourseSpec.OutboundOf(enter)
	if len(outbound) != 1 {
		return engineerr.Field(engineerr.KindInvalidNodeConfiguration, "transitions", enter.Code)
	}
	return e.move(ctx, tx, ci, outbound[0].Destination, doc, user)
}

// Advance drives ci forward by actionName, the name of one of its current
// INPUT node's outbound transitions. This is the only operation gated by
// CanAdvance — every other landing (ENTER's auto-transition, STEP,
// MULTIPLEXER, SPLIT re-entry after join) is an internal continuation
// with no externally-supplied action (spec.md §4.4.2).
func (e *Engine) Advance(ctx context.Context, ci *instance.CourseInstance, actionName string, doc instance.Document, user instance.User) error {
	if ci.Node == nil || ci.Node.NodeSpec.Type != spec.NodeInput {
		return engineerr.New(engineerr.KindWrongNodeType, ci.CourseSpec.Code)
	}
	tr := findByAction(ci.CourseSpec.OutboundOf(ci.Node.NodeSpec), actionName)
	if tr == nil {
		return engineerr.Field(engineerr.KindNoSuchAction, "action_name", actionName)
	}
	if err := e.Gate.CanAdvance(ctx, user, ci, tr, doc); err != nil {
		return err
	}
	return e.Storage.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return e.move(ctx, tx, ci, tr.Destination, doc, user)
	})
}

// Cancel recursively cancels ci and every running descendant beneath it
// (spec.md §4.4.4), after checking both the workflow- and course-level
// cancel permission.
func (e *Engine) Cancel(ctx context.Context, ci *instance.CourseInstance, doc instance.Document, user instance.User) error {
	if nav.IsTerminated(ci) {
		return engineerr.New(engineerr.KindNotCancellable, ci.CourseSpec.Code)
	}
	if err := e.Gate.CanCancel(ctx, user, ci, doc); err != nil {
		return err
	}
	return e.Storage.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return e.cancelRecursive(ctx, tx, ci, doc, user, 0)
	})
}

// Join terminates ci via its course's JOINED node — the internal
// counterpart of Cancel, invoked by a SPLIT's joiner callable to settle
// one branch rather than wait for it to finish on its own (spec.md
// §4.4, §4.4.5). Unlike Cancel, this is not an externally-initiated
// operation and carries no permission check of its own.
func (e *Engine) Join(ctx context.Context, ci *instance.CourseInstance, doc instance.Document, user instance.User) error {
	if nav.IsTerminated(ci) {
		return engineerr.New(engineerr.KindNotJoinable, ci.CourseSpec.Code)
	}
	return e.Storage.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return e.joinRecursive(ctx, tx, ci, doc, user, 0, true)
	})
}

// move atomically lands ci on dest: it replaces ci's NodeInstance (or
// clears it, if dest is non-persistent), runs dest's landing handler if
// any, spawns SPLIT branches, and then continues the transition chain for
// any destination type that doesn't wait for external input (spec.md
// §4.4.1).
func (e *Engine) move(ctx context.Context, tx storage.Tx, ci *instance.CourseInstance, dest *spec.NodeSpec, doc instance.Document, user instance.User) error {
	if dest.Course != ci.CourseSpec {
		return engineerr.New(engineerr.KindInstanceDoesNotAllowForeignNodes, dest.Code)
	}

	if dest.LandingHandler != "" {
		h, ok := e.Callables.LandingHandler(dest.LandingHandler)
		if !ok {
			return engineerr.Field(engineerr.KindUnknownCallable, "landing_handler", dest.LandingHandler)
		}
		if err := h(ctx, doc, user); err != nil {
			return err
		}
	}

	if !dest.Type.Persistent() {
		if ci.Node != nil {
			if err := tx.DeleteNodeInstance(ctx, ci); err != nil {
				return err
			}
		}
	} else {
		ni := &instance.NodeInstance{Course: ci, NodeSpec: dest}
		if err := tx.CreateNodeInstance(ctx, ni); err != nil {
			return err
		}

		if dest.Type == spec.NodeSplit {
			for _, branchSpec := range dest.Branches {
				branchCI := &instance.CourseInstance{WorkflowInstance: ci.WorkflowInstance, CourseSpec: branchSpec, Parent: ni}
				if err := tx.CreateCourseInstance(ctx, branchCI); err != nil {
					return err
				}
				ni.Branches = append(ni.Branches, branchCI)
				if err := e.enterCourse(ctx, tx, branchCI, doc, user); err != nil {
					return err
				}
			}
		}
	}

	return e.runTransition(ctx, tx, ci, dest, doc, user)
}

// runTransition dispatches on dest.Type to decide what happens right
// after landing: STEP and a matched MULTIPLEXER condition both continue
// immediately; INPUT and an unresolved SPLIT wait for external input;
// EXIT notifies the parent SPLIT, if any. CANCEL and JOINED stop here;
// cancelRecursive/joinRecursive notify the parent themselves.
func (e *Engine) runTransition(ctx context.Context, tx storage.Tx, ci *instance.CourseInstance, dest *spec.NodeSpec, doc instance.Document, user instance.User) error {
	switch dest.Type {
	case spec.NodeStep:
		outbound := ci.CourseSpec.OutboundOf(dest)
		if len(outbound) != 1 {
			return engineerr.Field(engineerr.KindInvalidNodeConfiguration, "transitions", dest.Code)
		}
		return e.move(ctx, tx, ci, outbound[0].Destination, doc, user)

	case spec.NodeMultiplexer:
		tr, err := e.firstMatchingCondition(ctx, ci.CourseSpec.OutboundOf(dest), doc, user)
		if err != nil {
			return err
		}
		if tr == nil {
			return engineerr.New(engineerr.KindMultiplexerNoMatch, dest.Code)
		}
		return e.move(ctx, tx, ci, tr.Destination, doc, user)

	case spec.NodeExit:
		if ci.Parent != nil {
			return e.notifyParentSplit(ctx, tx, ci, doc, user)
		}
		return nil

	case spec.NodeCancel, spec.NodeJoined:
		// Reached when cancelRecursive/joinRecursive move a course onto
		// its CANCEL/JOINED node. No further continuation here; those
		// callers notify the parent SPLIT after move returns.
		return nil

	default: // INPUT, SPLIT (unresolved)
		return nil
	}
}

// firstMatchingCondition evaluates outbound in ascending priority order
// and returns the first whose Condition callable returns true (spec.md
// §4.4.2).
func (e *Engine) firstMatchingCondition(ctx context.Context, outbound []*spec.TransitionSpec, doc instance.Document, user instance.User) (*spec.TransitionSpec, error) {
	ordered := make([]*spec.TransitionSpec, len(outbound))
	copy(ordered, outbound)
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && *ordered[j].Priority < *ordered[j-1].Priority; j-- {
			ordered[j], ordered[j-1] = ordered[j-1], ordered[j]
		}
	}
	for _, tr := range ordered {
		cond, ok := e.Callables.Condition(tr.Condition)
		if !ok {
			return nil, engineerr.Field(engineerr.KindUnknownCallable, "condition", tr.Condition)
		}
		matched, err := cond(ctx, doc, user)
		if err != nil {
			return nil, engineerr.Wrap(engineerr.KindInvalidTransitionConfig, tr.Condition, err)
		}
		if matched {
			return tr, nil
		}
	}
	return nil, nil
}

// cancelRecursive terminates ci and, depth-first, every running
// descendant beneath it. level is the recursion depth from the
// originally-requested cancel, persisted on each affected course via
// SetTermLevel so callers can later tell where a cancel was initiated
// versus where it merely propagated (spec.md §3, §4.4.4).
func (e *Engine) cancelRecursive(ctx context.Context, tx storage.Tx, ci *instance.CourseInstance, doc instance.Document, user instance.User, level int) error {
	if nav.IsSplitting(ci) {
		for _, branch := range ci.Node.Branches {
			if !nav.IsTerminated(branch) {
				if err := e.cancelRecursive(ctx, tx, branch, doc, user, level+1); err != nil {
					return err
				}
			}
		}
	}

	cancelNode := ci.CourseSpec.CancelNode()
	if cancelNode == nil {
		return engineerr.New(engineerr.KindMissingExit, ci.CourseSpec.Code)
	}
	if err := tx.SetTermLevel(ctx, ci, level); err != nil {
		return err
	}
	if err := e.move(ctx, tx, ci, cancelNode, doc, user); err != nil {
		return err
	}

	if ci.Parent != nil {
		return e.notifyParentSplit(ctx, tx, ci, doc, user)
	}
	return nil
}

// notifyParentSplit runs whenever a branch under a SPLIT settles (lands
// on EXIT or CANCEL, or on JOINED through Join): it builds the branch-status map for every sibling
// (nil entries mean "still running") and, if the SPLIT has a registered
// joiner, asks it whether to advance now — a joiner may fire on a partial
// result, in which case the remaining running siblings are swept onto
// JOINED via joinRecursive before the parent course continues. A SPLIT
// with no joiner instead waits until every sibling has settled and then
// auto-advances its single outbound transition (spec.md §4.4.3; the
// "no joiner" path requires exactly one outbound per
// validateSplitJoinerRequirement).
func (e *Engine) notifyParentSplit(ctx context.Context, tx storage.Tx, branch *instance.CourseInstance, doc instance.Document, user instance.User) error {
	parentNode := branch.Parent
	parentCI := findParentCourse(branch)
	if parentCI == nil {
		return engineerr.New(engineerr.KindCourseNodeDoesNotExist, parentNode.NodeSpec.Code)
	}

	statuses := make(map[string]callables.BranchStatus, len(parentNode.Branches))
	allSettled := true
	for _, sibling := range parentNode.Branches {
		statuses[sibling.CourseSpec.Code] = branchStatus(sibling)
		if statuses[sibling.CourseSpec.Code] == nil {
			allSettled = false
		}
	}

	splitSpec := parentNode.NodeSpec
	if splitSpec.Joiner != "" {
		joiner, ok := e.Callables.Joiner(splitSpec.Joiner)
		if !ok {
			return engineerr.Field(engineerr.KindUnknownCallable, "joiner", splitSpec.Joiner)
		}
		actionName, ok, err := joiner(ctx, doc, statuses, branch.CourseSpec.Code)
		if err != nil {
			return engineerr.Wrap(engineerr.KindInvalidNodeConfiguration, splitSpec.Joiner, err)
		}
		if !ok {
			return nil // joiner chooses to keep waiting
		}
		for _, sibling := range parentNode.Branches {
			if !nav.IsTerminated(sibling) {
				if err := e.joinRecursive(ctx, tx, sibling, doc, user, 1, false); err != nil {
					return err
				}
			}
		}
		tr := findByAction(parentCI.CourseSpec.OutboundOf(splitSpec), actionName)
		if tr == nil {
			return engineerr.Field(engineerr.KindNoSuchAction, "action_name", actionName)
		}
		return e.move(ctx, tx, parentCI, tr.Destination, doc, user)
	}

	if !allSettled {
		return nil
	}
	outbound := parentCI.CourseSpec.OutboundOf(splitSpec)
	if len(outbound) != 1 {
		return engineerr.New(engineerr.KindSplitUnresolved, splitSpec.Code)
	}
	return e.move(ctx, tx, parentCI, outbound[0].Destination, doc, user)
}

// branchStatus returns nil while sibling is still running, a pointer to
// -1 if it was cancelled or joined, and a pointer to its EXIT node's
// exit_value otherwise (spec.md §6, §4.4.3).
func branchStatus(ci *instance.CourseInstance) callables.BranchStatus {
	switch {
	case nav.IsEnded(ci):
		v := *ci.Node.NodeSpec.ExitValue
		return &v
	case nav.IsCancelled(ci), nav.IsJoined(ci):
		v := -1
		return &v
	default:
		return nil
	}
}

// findParentCourse locates the CourseInstance that owns branch.Parent —
// the SPLIT NodeInstance a branch hangs off of always belongs to exactly
// one course within the same WorkflowInstance.
func findParentCourse(branch *instance.CourseInstance) *instance.CourseInstance {
	for _, ci := range branch.WorkflowInstance.Courses {
		if ci.Node == branch.Parent {
			return ci
		}
	}
	return nil
}

func findByAction(transitions []*spec.TransitionSpec, actionName string) *spec.TransitionSpec {
	for _, t := range transitions {
		if t.ActionName == actionName {
			return t
		}
	}
	return nil
}

// joinRecursive forces ci and, depth-first, every still-running
// descendant beneath it onto JOINED rather than CANCEL — symmetric to
// cancelRecursive. notifySelf gates whether landing ci on JOINED notifies
// ci's own parent SPLIT: true for ci itself (the public Join operation,
// and nested branches-of-branches settling under it), false when this
// call is notifyParentSplit's own sweep of ci's siblings — that caller is
// already mid-resolution for their shared parent and is about to advance
// it itself, so a second notify there would re-invoke the joiner on a
// split it has already decided (spec.md §4.4.3, §4.4.5).
func (e *Engine) joinRecursive(ctx context.Context, tx storage.Tx, ci *instance.CourseInstance, doc instance.Document, user instance.User, level int, notifySelf bool) error {
	if nav.IsSplitting(ci) {
		for _, branch := range ci.Node.Branches {
			if !nav.IsTerminated(branch) {
				if err := e.joinRecursive(ctx, tx, branch, doc, user, level+1, true); err != nil {
					return err
				}
			}
		}
	}

	joinedNode := ci.CourseSpec.JoinedNode()
	if joinedNode == nil {
		return fmt.Errorf("course %q has no JOINED node: %w", ci.CourseSpec.Code, engineerr.New(engineerr.KindMissingExit, ci.CourseSpec.Code))
	}
	if err := tx.SetTermLevel(ctx, ci, level); err != nil {
		return err
	}
	if err := e.move(ctx, tx, ci, joinedNode, doc, user); err != nil {
		return err
	}

	if notifySelf && ci.Parent != nil {
		return e.notifyParentSplit(ctx, tx, ci, doc, user)
	}
	return nil
}
