package permission

import (
	"context"
	"testing"

	"github.com/flowkeeper/enginecore/internal/engineerr"
	"github.com/flowkeeper/enginecore/services/instance"
	"github.com/flowkeeper/enginecore/services/spec"
)

type testDoc struct{}

func (testDoc) DocumentType() string { return "account" }
func (testDoc) ObjectID() string     { return "acct-1" }

type testUser struct{}

func (testUser) UserID() string { return "u1" }

type fakeOracle struct{ denied map[string]bool }

func (f fakeOracle) HasPermission(_ context.Context, _ instance.User, permission string, _ instance.Document) (bool, error) {
	return !f.denied[permission], nil
}

func TestCanInstantiateAllowsEmptyPermission(t *testing.T) {
	g := NewGate(fakeOracle{denied: map[string]bool{"create": true}})
	ws := &spec.WorkflowSpec{Code: "onboarding"}
	if err := g.CanInstantiate(context.Background(), testUser{}, ws, testDoc{}); err != nil {
		t.Fatalf("expected no permission required, got %v", err)
	}
}

func TestCanInstantiateDenied(t *testing.T) {
	g := NewGate(fakeOracle{denied: map[string]bool{"create": true}})
	ws := &spec.WorkflowSpec{Code: "onboarding", CreatePermission: "create"}
	err := g.CanInstantiate(context.Background(), testUser{}, ws, testDoc{})
	kind, ok := engineerr.KindOf(err)
	if !ok || kind != engineerr.KindWorkflowCreateDenied {
		t.Fatalf("expected KindWorkflowCreateDenied, got %v", err)
	}
}

func TestCanCancelDeniedByWorkflowBeforeCourse(t *testing.T) {
	g := NewGate(fakeOracle{denied: map[string]bool{"cancel-wf": true, "cancel-course": true}})
	ws := &spec.WorkflowSpec{Code: "onboarding", CancelPermission: "cancel-wf"}
	root := &spec.CourseSpec{WorkflowSpec: ws, CancelPermission: "cancel-course"}
	wi := &instance.WorkflowInstance{WorkflowSpec: ws}
	ci := &instance.CourseInstance{WorkflowInstance: wi, CourseSpec: root}

	err := g.CanCancel(context.Background(), testUser{}, ci, testDoc{})
	kind, ok := engineerr.KindOf(err)
	if !ok || kind != engineerr.KindWorkflowCourseCancelDeniedByWorkflow {
		t.Fatalf("expected KindWorkflowCourseCancelDeniedByWorkflow, got %v", err)
	}
}

func TestCanCancelDeniedByCourse(t *testing.T) {
	g := NewGate(fakeOracle{denied: map[string]bool{"cancel-course": true}})
	ws := &spec.WorkflowSpec{Code: "onboarding"}
	root := &spec.CourseSpec{WorkflowSpec: ws, CancelPermission: "cancel-course"}
	wi := &instance.WorkflowInstance{WorkflowSpec: ws}
	ci := &instance.CourseInstance{WorkflowInstance: wi, CourseSpec: root}

	err := g.CanCancel(context.Background(), testUser{}, ci, testDoc{})
	kind, ok := engineerr.KindOf(err)
	if !ok || kind != engineerr.KindWorkflowCourseCancelDeniedByCourse {
		t.Fatalf("expected KindWorkflowCourseCancelDeniedByCourse, got %v", err)
	}
}

func TestCanAdvanceRequiresInputNode(t *testing.T) {
	g := NewGate(fakeOracle{})
	root := &spec.CourseSpec{}
	step := &spec.NodeSpec{Course: root, Type: spec.NodeStep, Code: "step"}
	ci := &instance.CourseInstance{CourseSpec: root, Node: &instance.NodeInstance{NodeSpec: step}}

	err := g.CanAdvance(context.Background(), testUser{}, ci, &spec.TransitionSpec{}, testDoc{})
	kind, ok := engineerr.KindOf(err)
	if !ok || kind != engineerr.KindWrongNodeType {
		t.Fatalf("expected KindWrongNodeType, got %v", err)
	}
}

func TestCanAdvanceDeniedByNodeBeforeTransition(t *testing.T) {
	g := NewGate(fakeOracle{denied: map[string]bool{"p-node": true, "p-transition": true}})
	root := &spec.CourseSpec{}
	input := &spec.NodeSpec{Course: root, Type: spec.NodeInput, Code: "input", ExecutePermission: "p-node"}
	ci := &instance.CourseInstance{CourseSpec: root, Node: &instance.NodeInstance{NodeSpec: input}}
	tr := &spec.TransitionSpec{ActionName: "approve", Permission: "p-transition"}

	err := g.CanAdvance(context.Background(), testUser{}, ci, tr, testDoc{})
	kind, ok := engineerr.KindOf(err)
	if !ok || kind != engineerr.KindWorkflowCourseAdvanceDeniedByNode {
		t.Fatalf("expected KindWorkflowCourseAdvanceDeniedByNode, got %v", err)
	}
}

func TestCanAdvanceDeniedByTransition(t *testing.T) {
	g := NewGate(fakeOracle{denied: map[string]bool{"p-transition": true}})
	root := &spec.CourseSpec{}
	input := &spec.NodeSpec{Course: root, Type: spec.NodeInput, Code: "input"}
	ci := &instance.CourseInstance{CourseSpec: root, Node: &instance.NodeInstance{NodeSpec: input}}
	tr := &spec.TransitionSpec{ActionName: "approve", Permission: "p-transition"}

	err := g.CanAdvance(context.Background(), testUser{}, ci, tr, testDoc{})
	kind, ok := engineerr.KindOf(err)
	if !ok || kind != engineerr.KindWorkflowCourseAdvanceDeniedByTransition {
		t.Fatalf("expected KindWorkflowCourseAdvanceDeniedByTransition, got %v", err)
	}
}

func TestCanAdvanceAllowed(t *testing.T) {
	g := NewGate(fakeOracle{})
	root := &spec.CourseSpec{}
	input := &spec.NodeSpec{Course: root, Type: spec.NodeInput, Code: "input", ExecutePermission: "p-node"}
	ci := &instance.CourseInstance{CourseSpec: root, Node: &instance.NodeInstance{NodeSpec: input}}
	tr := &spec.TransitionSpec{ActionName: "approve", Permission: "p-transition"}

	if err := g.CanAdvance(context.Background(), testUser{}, ci, tr, testDoc{}); err != nil {
		t.Fatalf("expected Advance allowed, got %v", err)
	}
}
