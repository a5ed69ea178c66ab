package spec

import (
	"strings"
	"testing"
)

func intp(v int) *int { return &v }

// linearSpec builds a minimal valid workflow: ENTER -> INPUT -> EXIT.
func linearSpec() *WorkflowSpec {
	ws := &WorkflowSpec{Code: "onboarding"}
	root := &CourseSpec{WorkflowSpec: ws, Code: "", Depth: 0}
	enter := &NodeSpec{Course: root, Type: NodeEnter, Code: "enter"}
	input := &NodeSpec{Course: root, Type: NodeInput, Code: "input"}
	exit := &NodeSpec{Course: root, Type: NodeExit, Code: "exit", ExitValue: intp(100)}
	root.Nodes = []*NodeSpec{enter, input, exit}
	root.Transitions = []*TransitionSpec{
		{Course: root, Origin: enter, Destination: input},
		{Course: root, Origin: input, Destination: exit, ActionName: "end"},
	}
	ws.Courses = []*CourseSpec{root}
	return ws
}

func TestValidateLinearSpec(t *testing.T) {
	if errs := linearSpec().Validate(); len(errs) != 0 {
		t.Fatalf("expected no errors, got: %v", errs)
	}
}

func TestValidateMissingEnter(t *testing.T) {
	ws := linearSpec()
	root := ws.Courses[0]
	root.Nodes = root.Nodes[1:] // drop ENTER
	root.Transitions = root.Transitions[1:]

	errs := ws.Validate()
	if !hasKind(errs, "MissingEnter") {
		t.Errorf("expected MissingEnter, got: %v", errs)
	}
}

func TestValidateRootCourseMustPause(t *testing.T) {
	ws := &WorkflowSpec{Code: "no-pause"}
	root := &CourseSpec{WorkflowSpec: ws, Code: "", Depth: 0}
	enter := &NodeSpec{Course: root, Type: NodeEnter, Code: "enter"}
	step := &NodeSpec{Course: root, Type: NodeStep, Code: "step"}
	exit := &NodeSpec{Course: root, Type: NodeExit, Code: "exit", ExitValue: intp(1)}
	root.Nodes = []*NodeSpec{enter, step, exit}
	root.Transitions = []*TransitionSpec{
		{Course: root, Origin: enter, Destination: step},
		{Course: root, Origin: step, Destination: exit},
	}
	ws.Courses = []*CourseSpec{root}

	errs := ws.Validate()
	if !hasKind(errs, "RootCourseMustPause") {
		t.Errorf("expected RootCourseMustPause, got: %v", errs)
	}
}

func TestValidateUnreachableNode(t *testing.T) {
	ws := linearSpec()
	root := ws.Courses[0]
	orphan := &NodeSpec{Course: root, Type: NodeExit, Code: "orphan-exit", ExitValue: intp(0)}
	root.Nodes = append(root.Nodes, orphan)

	errs := ws.Validate()
	if !hasKind(errs, "UnreachableNode") {
		t.Errorf("expected UnreachableNode, got: %v", errs)
	}
}

func TestValidateDuplicateActionName(t *testing.T) {
	ws := linearSpec()
	root := ws.Courses[0]
	input := root.NodeByCode("input")
	exit := root.NodeByCode("exit")
	root.Transitions = append(root.Transitions, &TransitionSpec{Course: root, Origin: input, Destination: exit, ActionName: "end"})

	errs := ws.Validate()
	if !hasKind(errs, "DuplicateActionName") {
		t.Errorf("expected DuplicateActionName, got: %v", errs)
	}
}

func TestValidateMultiplexerRequiresConditionAndPriority(t *testing.T) {
	ws := &WorkflowSpec{Code: "mux"}
	root := &CourseSpec{WorkflowSpec: ws, Code: "", Depth: 0}
	enter := &NodeSpec{Course: root, Type: NodeEnter, Code: "enter"}
	input := &NodeSpec{Course: root, Type: NodeInput, Code: "input"}
	mux := &NodeSpec{Course: root, Type: NodeMultiplexer, Code: "mux"}
	exitA := &NodeSpec{Course: root, Type: NodeExit, Code: "exit-a", ExitValue: intp(1)}
	exitB := &NodeSpec{Course: root, Type: NodeExit, Code: "exit-b", ExitValue: intp(2)}
	root.Nodes = []*NodeSpec{enter, input, mux, exitA, exitB}
	root.Transitions = []*TransitionSpec{
		{Course: root, Origin: enter, Destination: input},
		{Course: root, Origin: input, Destination: mux, ActionName: "go"},
		{Course: root, Origin: mux, Destination: exitA}, // missing condition/priority
		{Course: root, Origin: mux, Destination: exitB, Condition: "b", Priority: intp(1)},
	}
	ws.Courses = []*CourseSpec{root}

	errs := ws.Validate()
	if !hasKind(errs, "InvalidTransitionConfiguration") {
		t.Errorf("expected InvalidTransitionConfiguration, got: %v", errs)
	}
}

func TestValidateSplitBranchDepthAndOwnership(t *testing.T) {
	ws := &WorkflowSpec{Code: "split"}
	root := &CourseSpec{WorkflowSpec: ws, Code: "", Depth: 0}
	foo := &CourseSpec{WorkflowSpec: ws, Code: "foo", Depth: 0} // wrong depth: should be 1
	ws.Courses = []*CourseSpec{root, foo}

	enter := &NodeSpec{Course: root, Type: NodeEnter, Code: "enter"}
	split := &NodeSpec{Course: root, Type: NodeSplit, Code: "split", Branches: []*CourseSpec{foo}}
	exit := &NodeSpec{Course: root, Type: NodeExit, Code: "exit", ExitValue: intp(1)}
	root.Nodes = []*NodeSpec{enter, split, exit}
	root.Transitions = []*TransitionSpec{
		{Course: root, Origin: enter, Destination: split},
		{Course: root, Origin: split, Destination: exit, ActionName: "done"},
	}

	fooEnter := &NodeSpec{Course: foo, Type: NodeEnter, Code: "enter"}
	fooInput := &NodeSpec{Course: foo, Type: NodeInput, Code: "input"}
	fooExit := &NodeSpec{Course: foo, Type: NodeExit, Code: "exit", ExitValue: intp(1)}
	fooCancel := &NodeSpec{Course: foo, Type: NodeCancel, Code: "cancel"}
	foo.Nodes = []*NodeSpec{fooEnter, fooInput, fooExit, fooCancel}
	foo.Transitions = []*TransitionSpec{
		{Course: foo, Origin: fooEnter, Destination: fooInput},
		{Course: foo, Origin: fooInput, Destination: fooExit, ActionName: "end"},
	}

	errs := ws.Validate()
	if !hasKind(errs, "BranchDepthMismatch") {
		t.Errorf("expected BranchDepthMismatch, got: %v", errs)
	}
}

func hasKind(errs ValidationErrors, kind string) bool {
	for _, e := range errs {
		if string(e.Kind) == kind {
			return true
		}
	}
	return false
}

func TestValidationErrorsErrorString(t *testing.T) {
	errs := linearSpec().Validate()
	if len(errs) != 0 {
		t.Fatalf("expected valid spec, got: %v", errs)
	}

	ws := linearSpec()
	ws.Courses[0].Nodes = nil
	errs = ws.Validate()
	if !strings.Contains(errs.Error(), "validation error") {
		t.Errorf("expected Error() to summarize count, got: %q", errs.Error())
	}
}
