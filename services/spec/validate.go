package spec

import (
	"fmt"

	"github.com/flowkeeper/enginecore/internal/engineerr"
)

// ValidationErrors collects every violation found during validate(),
// rather than failing on the first one — spec.md §7 calls for
// "collected per field where practical".
type ValidationErrors []*engineerr.Error

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return "no validation errors"
	}
	s := fmt.Sprintf("%d validation error(s): ", len(v))
	for i, e := range v {
		if i > 0 {
			s += "; "
		}
		s += e.Error()
	}
	return s
}

// Validate runs every field-local and cross-entity rule in spec.md §3/§4.1
// over the whole workflow tree. It is the single entry point the installer
// calls before persisting anything.
func (w *WorkflowSpec) Validate() ValidationErrors {
	var errs ValidationErrors

	if w.Code == "" {
		errs = append(errs, engineerr.Field(engineerr.KindInvalidNodeConfiguration, "code", "workflow code is required"))
	}

	var roots []*CourseSpec
	byCode := make(map[string]*CourseSpec, len(w.Courses))
	for _, c := range w.Courses {
		if c.Depth == 0 {
			roots = append(roots, c)
		}
		if prev, dup := byCode[c.Code]; dup {
			errs = append(errs, engineerr.Field(engineerr.KindDuplicateCourseCode, "code",
				fmt.Sprintf("course code %q duplicated (courses %s and %s)", c.Code, prev.ID, c.ID)))
		} else {
			byCode[c.Code] = c
		}
	}
	switch len(roots) {
	case 0:
		errs = append(errs, engineerr.Field(engineerr.KindInvalidNodeConfiguration, "courses", "workflow has no depth-0 course"))
	case 1:
		// good
	default:
		errs = append(errs, engineerr.Field(engineerr.KindInvalidNodeConfiguration, "courses", "workflow has more than one depth-0 course"))
	}

	// Every non-root course must be referenced as exactly one branch of
	// exactly one SPLIT node, at the correct depth.
	branchOwners := make(map[*CourseSpec]int) // course -> number of SPLITs referencing it
	for _, c := range w.Courses {
		for _, n := range c.Nodes {
			if n.Type != NodeSplit {
				continue
			}
			for _, b := range n.Branches {
				branchOwners[b]++
				if b.Depth != c.Depth+1 {
					errs = append(errs, engineerr.Field(engineerr.KindBranchDepthMismatch, "branches",
						fmt.Sprintf("branch course %q has depth %d, expected %d", b.Code, b.Depth, c.Depth+1)))
				}
			}
		}
	}
	for _, c := range w.Courses {
		if c.Depth == 0 {
			continue
		}
		if branchOwners[c] != 1 {
			errs = append(errs, engineerr.Field(engineerr.KindBranchDepthMismatch, "branches",
				fmt.Sprintf("non-root course %q is referenced by %d SPLIT branch sets, expected exactly 1", c.Code, branchOwners[c])))
		}
	}

	for _, c := range w.Courses {
		errs = append(errs, c.validate()...)
	}

	return errs
}

// validate runs the cross-entity rules scoped to a single course: unique
// node codes, exactly-one-ENTER, at-least-one-EXIT, CANCEL-for-non-root,
// reachability from ENTER, the root-pause rule, and unique action
// names/priorities per origin node — plus every node/transition's
// field-local rules.
func (c *CourseSpec) validate() ValidationErrors {
	var errs ValidationErrors

	nodeCodes := make(map[string]*NodeSpec, len(c.Nodes))
	var enters, exits, cancels, joineds []*NodeSpec
	for _, n := range c.Nodes {
		if prev, dup := nodeCodes[n.Code]; dup {
			errs = append(errs, engineerr.Field(engineerr.KindDuplicateNodeCode, "code",
				fmt.Sprintf("node code %q duplicated (nodes %s and %s)", n.Code, prev.ID, n.ID)))
		} else {
			nodeCodes[n.Code] = n
		}
		switch n.Type {
		case NodeEnter:
			enters = append(enters, n)
		case NodeExit:
			exits = append(exits, n)
		case NodeCancel:
			cancels = append(cancels, n)
		case NodeJoined:
			joineds = append(joineds, n)
		}
		errs = append(errs, n.validateLocal()...)
		errs = append(errs, c.validateOutboundCount(n)...)
		if n.Type == NodeSplit {
			errs = append(errs, c.validateSplitJoinerRequirement(n)...)
		}
	}

	if len(enters) != 1 {
		errs = append(errs, engineerr.Field(engineerr.KindMissingEnter, "nodes",
			fmt.Sprintf("course %q has %d ENTER nodes, expected exactly 1", c.Code, len(enters))))
	}
	if len(exits) == 0 {
		errs = append(errs, engineerr.Field(engineerr.KindMissingExit, "nodes",
			fmt.Sprintf("course %q has no EXIT node", c.Code)))
	}
	if c.Depth > 0 {
		if len(cancels) == 0 {
			errs = append(errs, engineerr.Field(engineerr.KindInvalidNodeConfiguration, "nodes",
				fmt.Sprintf("non-root course %q has no CANCEL node", c.Code)))
		}
		if len(joineds) > 1 {
			errs = append(errs, engineerr.Field(engineerr.KindInvalidNodeConfiguration, "nodes",
				fmt.Sprintf("course %q has %d JOINED nodes, expected at most 1", c.Code, len(joineds))))
		}
	} else if len(joineds) > 0 {
		errs = append(errs, engineerr.Field(engineerr.KindInvalidNodeConfiguration, "nodes",
			fmt.Sprintf("root course %q must not have a JOINED node", c.Code)))
	}

	actionNames := make(map[*NodeSpec]map[string]bool)
	priorities := make(map[*NodeSpec]map[int]bool)
	for _, t := range c.Transitions {
		errs = append(errs, t.validateLocal()...)

		if t.ActionName != "" {
			if actionNames[t.Origin] == nil {
				actionNames[t.Origin] = make(map[string]bool)
			}
			if actionNames[t.Origin][t.ActionName] {
				errs = append(errs, engineerr.Field(engineerr.KindDuplicateActionName, "action_name",
					fmt.Sprintf("node %q has duplicate outbound action %q", t.Origin.Code, t.ActionName)))
			}
			actionNames[t.Origin][t.ActionName] = true
		}
		if t.Priority != nil {
			if priorities[t.Origin] == nil {
				priorities[t.Origin] = make(map[int]bool)
			}
			if priorities[t.Origin][*t.Priority] {
				errs = append(errs, engineerr.Field(engineerr.KindDuplicatePriority, "priority",
					fmt.Sprintf("node %q has duplicate outbound priority %d", t.Origin.Code, *t.Priority)))
			}
			priorities[t.Origin][*t.Priority] = true
		}
	}

	if len(enters) == 1 {
		errs = append(errs, c.validateReachability(enters[0])...)
		errs = append(errs, c.validatePause(enters[0])...)
	}

	return errs
}

// validateOutboundCount enforces the outbound-edge-count column of
// spec.md §3's per-type table: ENTER/STEP exactly 1, INPUT/SPLIT at
// least 1, MULTIPLEXER at least 2, EXIT/CANCEL/JOINED exactly 0.
func (c *CourseSpec) validateOutboundCount(n *NodeSpec) ValidationErrors {
	count := len(c.OutboundOf(n))
	var errs ValidationErrors
	switch n.Type {
	case NodeEnter, NodeStep:
		if count != 1 {
			errs = append(errs, engineerr.Field(engineerr.KindInvalidNodeConfiguration, "transitions",
				fmt.Sprintf("node %q (%s) must have exactly 1 outbound transition, has %d", n.Code, n.Type, count)))
		}
	case NodeInput, NodeSplit:
		if count < 1 {
			errs = append(errs, engineerr.Field(engineerr.KindInvalidNodeConfiguration, "transitions",
				fmt.Sprintf("node %q (%s) must have at least 1 outbound transition", n.Code, n.Type)))
		}
	case NodeMultiplexer:
		if count < 2 {
			errs = append(errs, engineerr.Field(engineerr.KindInvalidNodeConfiguration, "transitions",
				fmt.Sprintf("node %q (MULTIPLEXER) must have at least 2 outbound transitions, has %d", n.Code, count)))
		}
	case NodeExit, NodeCancel, NodeJoined:
		if count != 0 {
			errs = append(errs, engineerr.Field(engineerr.KindInvalidNodeConfiguration, "transitions",
				fmt.Sprintf("node %q (%s) is terminal and must have 0 outbound transitions, has %d", n.Code, n.Type, count)))
		}
	}
	return errs
}

// validateSplitJoinerRequirement enforces spec.md §4.4.3: a SPLIT with no
// joiner callable must have exactly one outbound transition and none of
// its branch courses may offer a JOINED node, since without a joiner the
// parent advances along its single outbound only once every branch has
// terminated (EXIT or CANCEL).
func (c *CourseSpec) validateSplitJoinerRequirement(n *NodeSpec) ValidationErrors {
	if n.Joiner != "" {
		return nil
	}
	var errs ValidationErrors
	if len(c.OutboundOf(n)) != 1 {
		errs = append(errs, engineerr.Field(engineerr.KindInvalidNodeConfiguration, "joiner",
			fmt.Sprintf("SPLIT node %q without a joiner must have exactly one outbound transition", n.Code)))
	}
	for _, b := range n.Branches {
		if b.JoinedNode() != nil {
			errs = append(errs, engineerr.Field(engineerr.KindInvalidNodeConfiguration, "joiner",
				fmt.Sprintf("SPLIT node %q without a joiner has branch %q with a JOINED node, which can never be reached", n.Code, b.Code)))
		}
	}
	return errs
}

// validateReachability asserts every node in the course is reachable from
// ENTER by following transitions (spec.md §3, §8 invariant 2). CANCEL and
// JOINED nodes are exempt: no transition may target them, and a course
// only lands on them through cancelRecursive/joinRecursive.
func (c *CourseSpec) validateReachability(enter *NodeSpec) ValidationErrors {
	seen := map[*NodeSpec]bool{enter: true}
	queue := []*NodeSpec{enter}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, t := range c.OutboundOf(cur) {
			if !seen[t.Destination] {
				seen[t.Destination] = true
				queue = append(queue, t.Destination)
			}
		}
	}

	var errs ValidationErrors
	for _, n := range c.Nodes {
		if n.Type == NodeCancel || n.Type == NodeJoined {
			continue
		}
		if !seen[n] {
			errs = append(errs, engineerr.Field(engineerr.KindUnreachableNode, "code",
				fmt.Sprintf("node %q in course %q is unreachable from ENTER", n.Code, c.Code)))
		}
	}
	return errs
}

// validatePause asserts no automatic path from ENTER to any EXIT bypasses
// every INPUT and SPLIT node — i.e. the course must pause for external
// input somewhere before it can complete (spec.md §3). MULTIPLEXER nodes
// are explored along every outbound, since the condition that will be
// chosen at runtime isn't known statically.
func (c *CourseSpec) validatePause(enter *NodeSpec) ValidationErrors {
	visiting := make(map[*NodeSpec]bool)
	if reachesExitWithoutPausing(c, enter, visiting) {
		return ValidationErrors{engineerr.Field(engineerr.KindRootCourseMustPause, "nodes",
			fmt.Sprintf("course %q has an automatic path from ENTER to EXIT that bypasses every INPUT/SPLIT node", c.Code))}
	}
	return nil
}

// reachesExitWithoutPausing walks ENTER/STEP/MULTIPLEXER edges (the
// "automatic" node types) and reports whether an EXIT is reachable
// without first crossing an INPUT or SPLIT node. visiting guards against
// infinite recursion on a malformed cyclic graph; a cycle among purely
// automatic nodes can never reach EXIT so it's treated as "does not reach".
func reachesExitWithoutPausing(c *CourseSpec, n *NodeSpec, visiting map[*NodeSpec]bool) bool {
	if n.Type == NodeExit {
		return true
	}
	if n.Type == NodeInput || n.Type == NodeSplit {
		return false
	}
	if visiting[n] {
		return false
	}
	visiting[n] = true
	defer delete(visiting, n)

	for _, t := range c.OutboundOf(n) {
		if reachesExitWithoutPausing(c, t.Destination, visiting) {
			return true
		}
	}
	return false
}

// validateLocal checks the field-local rules for a single node's Type
// (spec.md §3's per-type table).
func (n *NodeSpec) validateLocal() ValidationErrors {
	var errs ValidationErrors
	if n.Code == "" {
		errs = append(errs, engineerr.Field(engineerr.KindInvalidNodeConfiguration, "code", "node code is required"))
	}

	switch n.Type {
	case NodeEnter, NodeExit, NodeCancel, NodeJoined, NodeInput, NodeStep, NodeMultiplexer, NodeSplit:
		// known type
	default:
		errs = append(errs, engineerr.Field(engineerr.KindInvalidType, "type", fmt.Sprintf("unknown node type %q", n.Type)))
		return errs
	}

	if n.ExitValue != nil && n.Type != NodeExit {
		errs = append(errs, engineerr.Field(engineerr.KindInvalidNodeConfiguration, "exit_value", "exit_value only allowed on EXIT nodes"))
	}
	if n.Type == NodeExit && n.ExitValue == nil {
		errs = append(errs, engineerr.Field(engineerr.KindInvalidNodeConfiguration, "exit_value", "EXIT node requires exit_value"))
	}
	if n.Type == NodeExit && n.ExitValue != nil && *n.ExitValue < 0 {
		errs = append(errs, engineerr.Field(engineerr.KindInvalidNodeConfiguration, "exit_value", "exit_value must be non-negative"))
	}

	if n.Joiner != "" && n.Type != NodeSplit {
		errs = append(errs, engineerr.Field(engineerr.KindInvalidNodeConfiguration, "joiner", "joiner only allowed on SPLIT nodes"))
	}

	if n.ExecutePermission != "" && n.Type != NodeInput {
		errs = append(errs, engineerr.Field(engineerr.KindInvalidNodeConfiguration, "execute_permission", "execute_permission only allowed on INPUT nodes"))
	}

	if len(n.Branches) > 0 && n.Type != NodeSplit {
		errs = append(errs, engineerr.Field(engineerr.KindInvalidNodeConfiguration, "branches", "branches only allowed on SPLIT nodes"))
	}
	if n.Type == NodeSplit && len(n.Branches) == 0 {
		errs = append(errs, engineerr.Field(engineerr.KindInvalidNodeConfiguration, "branches", "SPLIT node requires at least one branch"))
	}
	if n.Type == NodeJoined && n.Course != nil && n.Course.Depth == 0 {
		errs = append(errs, engineerr.Field(engineerr.KindInvalidNodeConfiguration, "type", "JOINED node not allowed in root course"))
	}

	return errs
}

// validateLocal checks the per-origin-type constraints on a transition
// (spec.md §3) plus the destination-type restriction shared by every
// origin.
func (t *TransitionSpec) validateLocal() ValidationErrors {
	var errs ValidationErrors

	if t.Origin == nil || t.Destination == nil {
		errs = append(errs, engineerr.Field(engineerr.KindInvalidTransitionConfig, "origin", "transition requires both an origin and a destination"))
		return errs
	}

	switch t.Origin.Type {
	case NodeExit, NodeCancel, NodeJoined:
		errs = append(errs, engineerr.Field(engineerr.KindInvalidTransitionConfig, "origin",
			fmt.Sprintf("node type %s cannot originate a transition", t.Origin.Type)))
	}

	switch t.Destination.Type {
	case NodeEnter, NodeCancel, NodeJoined:
		errs = append(errs, engineerr.Field(engineerr.KindInvalidTransitionConfig, "destination",
			fmt.Sprintf("node type %s cannot be a transition destination", t.Destination.Type)))
	}

	switch t.Origin.Type {
	case NodeEnter:
		if t.ActionName != "" {
			errs = append(errs, engineerr.Field(engineerr.KindInvalidTransitionConfig, "action_name", "ENTER transition must not carry action_name"))
		}
		if t.Condition != "" {
			errs = append(errs, engineerr.Field(engineerr.KindInvalidTransitionConfig, "condition", "ENTER transition must not carry condition"))
		}
		if t.Priority != nil {
			errs = append(errs, engineerr.Field(engineerr.KindInvalidTransitionConfig, "priority", "ENTER transition must not carry priority"))
		}
		if t.Permission != "" {
			errs = append(errs, engineerr.Field(engineerr.KindInvalidTransitionConfig, "permission", "ENTER transition must not carry permission"))
		}

	case NodeInput:
		if t.ActionName == "" {
			errs = append(errs, engineerr.Field(engineerr.KindInvalidTransitionConfig, "action_name", "INPUT transition requires action_name"))
		}
		if t.Condition != "" {
			errs = append(errs, engineerr.Field(engineerr.KindInvalidTransitionConfig, "condition", "INPUT transition must not carry condition"))
		}
		if t.Priority != nil {
			errs = append(errs, engineerr.Field(engineerr.KindInvalidTransitionConfig, "priority", "INPUT transition must not carry priority"))
		}

	case NodeStep:
		if t.ActionName != "" {
			errs = append(errs, engineerr.Field(engineerr.KindInvalidTransitionConfig, "action_name", "STEP transition must not carry action_name"))
		}
		if t.Condition != "" {
			errs = append(errs, engineerr.Field(engineerr.KindInvalidTransitionConfig, "condition", "STEP transition must not carry condition"))
		}
		if t.Priority != nil {
			errs = append(errs, engineerr.Field(engineerr.KindInvalidTransitionConfig, "priority", "STEP transition must not carry priority"))
		}
		if t.Permission != "" {
			errs = append(errs, engineerr.Field(engineerr.KindInvalidTransitionConfig, "permission", "STEP transition must not carry permission"))
		}

	case NodeMultiplexer:
		if t.Condition == "" {
			errs = append(errs, engineerr.Field(engineerr.KindInvalidTransitionConfig, "condition", "MULTIPLEXER transition requires condition"))
		}
		if t.Priority == nil {
			errs = append(errs, engineerr.Field(engineerr.KindInvalidTransitionConfig, "priority", "MULTIPLEXER transition requires priority"))
		} else if *t.Priority < 0 {
			errs = append(errs, engineerr.Field(engineerr.KindInvalidTransitionConfig, "priority", "priority must be non-negative"))
		}
		if t.ActionName != "" {
			errs = append(errs, engineerr.Field(engineerr.KindInvalidTransitionConfig, "action_name", "MULTIPLEXER transition must not carry action_name"))
		}
		if t.Permission != "" {
			errs = append(errs, engineerr.Field(engineerr.KindInvalidTransitionConfig, "permission", "MULTIPLEXER transition must not carry permission"))
		}

	case NodeSplit:
		if t.ActionName == "" {
			errs = append(errs, engineerr.Field(engineerr.KindInvalidTransitionConfig, "action_name", "SPLIT transition requires action_name"))
		}
		if t.Condition != "" {
			errs = append(errs, engineerr.Field(engineerr.KindInvalidTransitionConfig, "condition", "SPLIT transition must not carry condition"))
		}
		if t.Priority != nil {
			errs = append(errs, engineerr.Field(engineerr.KindInvalidTransitionConfig, "priority", "SPLIT transition must not carry priority"))
		}
		if t.Permission != "" {
			errs = append(errs, engineerr.Field(engineerr.KindInvalidTransitionConfig, "permission", "SPLIT transition must not carry permission"))
		}
	}

	return errs
}
