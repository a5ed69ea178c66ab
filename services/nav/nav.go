// Package nav provides read-only navigation over a running instance tree:
// status predicates and dotted-path course lookup, generalized from
// original_source's Workflow.CourseHelpers (is_pending/is_waiting/
// is_terminated/find_course).
package nav

import (
	"strings"

	"github.com/flowkeeper/enginecore/internal/engineerr"
	"github.com/flowkeeper/enginecore/services/instance"
	"github.com/flowkeeper/enginecore/services/spec"
)

// IsPending reports whether ci has never landed on a node — created but
// not yet advanced past its course's ENTER.
func IsPending(ci *instance.CourseInstance) bool {
	return ci.Node == nil && ci.TermLevel == nil
}

// IsWaiting reports whether ci is parked on a persistent, non-terminal
// node (INPUT, or SPLIT awaiting its joiner).
func IsWaiting(ci *instance.CourseInstance) bool {
	if ci.Node == nil || ci.TermLevel != nil {
		return false
	}
	t := ci.Node.NodeSpec.Type
	return t == spec.NodeInput || t == spec.NodeSplit
}

// IsSplitting reports whether ci currently owns a SPLIT node, i.e. it has
// live branch courses underneath it.
func IsSplitting(ci *instance.CourseInstance) bool {
	return ci.Node != nil && ci.Node.NodeSpec.Type == spec.NodeSplit && ci.TermLevel == nil
}

// IsCancelled reports whether ci landed on CANCEL (only meaningful for
// courses terminated by cancelRecursive; mutually exclusive with
// IsJoined even though both paths set TermLevel).
func IsCancelled(ci *instance.CourseInstance) bool {
	return ci.Node != nil && ci.Node.NodeSpec.Type == spec.NodeCancel
}

// IsJoined reports whether ci landed on JOINED (only meaningful for
// non-root courses terminated early by a parent SPLIT's joiner).
func IsJoined(ci *instance.CourseInstance) bool {
	return ci.Node != nil && ci.Node.NodeSpec.Type == spec.NodeJoined
}

// IsEnded reports whether ci landed on EXIT — the normal-completion
// terminal state.
func IsEnded(ci *instance.CourseInstance) bool {
	return ci.Node != nil && ci.Node.NodeSpec.Type == spec.NodeExit
}

// IsTerminated reports whether ci can no longer advance by any means:
// ended, cancelled, or joined.
func IsTerminated(ci *instance.CourseInstance) bool {
	return IsEnded(ci) || IsCancelled(ci) || IsJoined(ci)
}

// FindCourse descends a dotted branch-code path from root (e.g.
// "review.legal") to the CourseInstance it names, generalizing
// original_source's find_course. path == "" returns root itself. A code
// that matches no branch, or more than one, fails with NoSuchElement.
// The exactly-one-root check lives in RootCourse.
func FindCourse(root *instance.CourseInstance, path string) (*instance.CourseInstance, error) {
	if path == "" {
		return root, nil
	}
	current := root
	for _, code := range strings.Split(path, ".") {
		if current.Node == nil || current.Node.NodeSpec.Type != spec.NodeSplit {
			return nil, engineerr.Field(engineerr.KindNoSuchElement, "path", path)
		}
		var next *instance.CourseInstance
		for _, branch := range current.Node.Branches {
			if branch.CourseSpec.Code == code {
				if next != nil {
					return nil, engineerr.Field(engineerr.KindNoSuchElement, "path", path)
				}
				next = branch
			}
		}
		if next == nil {
			return nil, engineerr.Field(engineerr.KindNoSuchElement, "path", path)
		}
		current = next
	}
	return current, nil
}

// RootCourse returns wi's single parent-less course, resolving
// original_source's previously-open verify_exactly_one_parent_course: a
// well-formed instance always has exactly one, so zero or multiple are
// both reported as a structural error rather than silently picking one.
func RootCourse(wi *instance.WorkflowInstance) (*instance.CourseInstance, error) {
	root := wi.RootCourse()
	if root == nil {
		return nil, engineerr.New(engineerr.KindNoSuchElement, wi.ID.String())
	}
	return root, nil
}
