package nav

import (
	"testing"

	"github.com/flowkeeper/enginecore/internal/engineerr"
	"github.com/flowkeeper/enginecore/services/instance"
	"github.com/flowkeeper/enginecore/services/spec"
)

func intp(v int) *int { return &v }

func TestIsPendingBeforeAnyNode(t *testing.T) {
	ci := &instance.CourseInstance{}
	if !IsPending(ci) {
		t.Errorf("expected fresh CourseInstance to be pending")
	}
}

func TestIsWaitingOnInputOrSplit(t *testing.T) {
	input := &spec.NodeSpec{Type: spec.NodeInput}
	ci := &instance.CourseInstance{Node: &instance.NodeInstance{NodeSpec: input}}
	if !IsWaiting(ci) {
		t.Errorf("expected course on INPUT to be waiting")
	}

	split := &spec.NodeSpec{Type: spec.NodeSplit}
	ci2 := &instance.CourseInstance{Node: &instance.NodeInstance{NodeSpec: split}}
	if !IsWaiting(ci2) {
		t.Errorf("expected course on SPLIT to be waiting")
	}
	if !IsSplitting(ci2) {
		t.Errorf("expected course on SPLIT to be splitting")
	}
}

func TestIsCancelledViaCancelNode(t *testing.T) {
	cancel := &spec.NodeSpec{Type: spec.NodeCancel}
	ci := &instance.CourseInstance{Node: &instance.NodeInstance{NodeSpec: cancel}}
	if !IsCancelled(ci) {
		t.Errorf("expected course on CANCEL node to be cancelled")
	}
}

func TestIsCancelledAndIsJoinedAreMutuallyExclusive(t *testing.T) {
	level := 1
	joined := &spec.NodeSpec{Type: spec.NodeJoined}
	joinedCI := &instance.CourseInstance{Node: &instance.NodeInstance{NodeSpec: joined}, TermLevel: &level}
	if IsCancelled(joinedCI) {
		t.Errorf("expected JOINED course with TermLevel set to not be reported as cancelled")
	}
	if !IsJoined(joinedCI) {
		t.Errorf("expected JOINED course to be joined")
	}

	cancel := &spec.NodeSpec{Type: spec.NodeCancel}
	cancelledCI := &instance.CourseInstance{Node: &instance.NodeInstance{NodeSpec: cancel}, TermLevel: &level}
	if IsJoined(cancelledCI) {
		t.Errorf("expected CANCEL course to not be reported as joined")
	}
	if !IsCancelled(cancelledCI) {
		t.Errorf("expected CANCEL course to be cancelled")
	}
}

func TestIsTerminatedCoversEndedCancelledJoined(t *testing.T) {
	for _, nt := range []spec.NodeType{spec.NodeExit, spec.NodeCancel, spec.NodeJoined} {
		ns := &spec.NodeSpec{Type: nt, ExitValue: intp(0)}
		ci := &instance.CourseInstance{Node: &instance.NodeInstance{NodeSpec: ns}}
		if !IsTerminated(ci) {
			t.Errorf("expected node type %v to be terminated", nt)
		}
	}

	input := &spec.NodeSpec{Type: spec.NodeInput}
	ci := &instance.CourseInstance{Node: &instance.NodeInstance{NodeSpec: input}}
	if IsTerminated(ci) {
		t.Errorf("expected course on INPUT to not be terminated")
	}
}

func buildTree() (*instance.WorkflowInstance, *instance.CourseInstance) {
	ws := &spec.WorkflowSpec{Code: "split-join"}
	rootSpec := &spec.CourseSpec{WorkflowSpec: ws, Code: ""}
	branchASpec := &spec.CourseSpec{WorkflowSpec: ws, Code: "a", Depth: 1}
	branchBSpec := &spec.CourseSpec{WorkflowSpec: ws, Code: "b", Depth: 1}
	splitNodeSpec := &spec.NodeSpec{Course: rootSpec, Type: spec.NodeSplit, Code: "split", Branches: []*spec.CourseSpec{branchASpec, branchBSpec}}

	wi := &instance.WorkflowInstance{WorkflowSpec: ws}
	root := &instance.CourseInstance{WorkflowInstance: wi, CourseSpec: rootSpec}
	splitNI := &instance.NodeInstance{Course: root, NodeSpec: splitNodeSpec}
	root.Node = splitNI

	branchA := &instance.CourseInstance{WorkflowInstance: wi, CourseSpec: branchASpec, Parent: splitNI}
	branchB := &instance.CourseInstance{WorkflowInstance: wi, CourseSpec: branchBSpec, Parent: splitNI}
	splitNI.Branches = []*instance.CourseInstance{branchA, branchB}

	wi.Courses = []*instance.CourseInstance{root, branchA, branchB}
	return wi, root
}

func TestFindCourseDescendsDottedPath(t *testing.T) {
	_, root := buildTree()

	got, err := FindCourse(root, "a")
	if err != nil {
		t.Fatalf("FindCourse: %v", err)
	}
	if got.CourseSpec.Code != "a" {
		t.Errorf("expected branch a, got %q", got.CourseSpec.Code)
	}

	got, err = FindCourse(root, "")
	if err != nil {
		t.Fatalf("FindCourse empty path: %v", err)
	}
	if got != root {
		t.Errorf("expected empty path to return root")
	}
}

func TestFindCourseUnknownBranchFails(t *testing.T) {
	_, root := buildTree()

	_, err := FindCourse(root, "nonexistent")
	kind, ok := engineerr.KindOf(err)
	if !ok || kind != engineerr.KindNoSuchElement {
		t.Fatalf("expected KindNoSuchElement, got %v", err)
	}
}

func TestFindCoursePathThroughNonSplitFails(t *testing.T) {
	input := &spec.NodeSpec{Type: spec.NodeInput}
	root := &instance.CourseInstance{Node: &instance.NodeInstance{NodeSpec: input}}

	_, err := FindCourse(root, "a")
	kind, ok := engineerr.KindOf(err)
	if !ok || kind != engineerr.KindNoSuchElement {
		t.Fatalf("expected KindNoSuchElement, got %v", err)
	}
}

func TestRootCourseFindsSingleParentlessCourse(t *testing.T) {
	wi, root := buildTree()

	got, err := RootCourse(wi)
	if err != nil {
		t.Fatalf("RootCourse: %v", err)
	}
	if got != root {
		t.Errorf("expected the parent-less course to be returned")
	}
}

func TestRootCourseFailsOnAmbiguity(t *testing.T) {
	ws := &spec.WorkflowSpec{Code: "broken"}
	wi := &instance.WorkflowInstance{WorkflowSpec: ws}
	wi.Courses = []*instance.CourseInstance{
		{WorkflowInstance: wi, CourseSpec: &spec.CourseSpec{WorkflowSpec: ws, Code: ""}},
		{WorkflowInstance: wi, CourseSpec: &spec.CourseSpec{WorkflowSpec: ws, Code: "stray"}},
	}

	_, err := RootCourse(wi)
	kind, ok := engineerr.KindOf(err)
	if !ok || kind != engineerr.KindNoSuchElement {
		t.Fatalf("expected KindNoSuchElement, got %v", err)
	}
}
