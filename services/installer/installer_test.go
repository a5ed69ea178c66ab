package installer

import (
	"context"
	"errors"
	"testing"

	"github.com/flowkeeper/enginecore/internal/engineerr"
	"github.com/flowkeeper/enginecore/services/callables"
	"github.com/flowkeeper/enginecore/services/instance"
	"github.com/flowkeeper/enginecore/services/spec"
	"github.com/flowkeeper/enginecore/services/storage"
)

func intp(v int) *int { return &v }

func linearInput(code string) WorkflowInput {
	return WorkflowInput{
		Code:         code,
		Name:         "Onboarding",
		DocumentTypeTag: "account",
		Courses: []CourseInput{
			{
				Code: "",
				Nodes: []NodeInput{
					{Type: spec.NodeEnter, Code: "enter"},
					{Type: spec.NodeInput, Code: "input"},
					{Type: spec.NodeExit, Code: "exit", ExitValue: intp(100)},
				},
				Transitions: []TransitionInput{
					{Origin: "enter", Destination: "input"},
					{Origin: "input", Destination: "exit", ActionName: "end"},
				},
			},
		},
	}
}

func TestInstallLinearWorkflow(t *testing.T) {
	store := storage.NewMemoryStore()
	inst := New(store, callables.NewRegistry())

	ws, err := inst.Install(context.Background(), linearInput("onboarding"))
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if ws.Code != "onboarding" {
		t.Errorf("expected code onboarding, got %q", ws.Code)
	}

	stored, err := store.GetWorkflowSpec(context.Background(), "onboarding")
	if err != nil {
		t.Fatalf("GetWorkflowSpec: %v", err)
	}
	if stored != ws {
		t.Errorf("expected the installed spec to be retrievable by code")
	}
}

func TestInstallRejectsDuplicateCode(t *testing.T) {
	store := storage.NewMemoryStore()
	inst := New(store, callables.NewRegistry())

	if _, err := inst.Install(context.Background(), linearInput("onboarding")); err != nil {
		t.Fatalf("first Install: %v", err)
	}
	_, err := inst.Install(context.Background(), linearInput("onboarding"))
	if !errors.Is(err, storage.ErrDuplicateCode) {
		t.Fatalf("expected ErrDuplicateCode, got %v", err)
	}
}

func TestInstallRejectsUnknownCallable(t *testing.T) {
	store := storage.NewMemoryStore()
	inst := New(store, callables.NewRegistry())

	in := linearInput("with-handler")
	in.Courses[0].Nodes[1].LandingHandler = "send-welcome-email"

	_, err := inst.Install(context.Background(), in)
	kind, ok := engineerr.KindOf(err)
	if !ok || kind != engineerr.KindUnknownCallable {
		t.Fatalf("expected KindUnknownCallable, got %v", err)
	}
}

func TestInstallResolvesRegisteredCallable(t *testing.T) {
	store := storage.NewMemoryStore()
	registry := callables.NewRegistry()
	registry.RegisterLandingHandler("send-welcome-email", func(context.Context, instance.Document, instance.User) error {
		return nil
	})
	inst := New(store, registry)

	in := linearInput("with-handler")
	in.Courses[0].Nodes[1].LandingHandler = "send-welcome-email"

	if _, err := inst.Install(context.Background(), in); err != nil {
		t.Fatalf("Install: %v", err)
	}
}

func TestInstallRejectsInvalidSpec(t *testing.T) {
	store := storage.NewMemoryStore()
	inst := New(store, callables.NewRegistry())

	in := linearInput("no-enter")
	in.Courses[0].Nodes = in.Courses[0].Nodes[1:] // drop ENTER
	in.Courses[0].Transitions = in.Courses[0].Transitions[1:]

	_, err := inst.Install(context.Background(), in)
	var verrs spec.ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected ValidationErrors, got %v (%T)", err, err)
	}
}

// splitInput builds a workflow whose root SPLIT node references a branch
// course defined later in the Courses slice, exercising the installer's
// two-pass forward-reference resolution.
func splitInput() WorkflowInput {
	return WorkflowInput{
		Code: "split-join",
		Courses: []CourseInput{
			{
				Code: "",
				Nodes: []NodeInput{
					{Type: spec.NodeEnter, Code: "enter"},
					{Type: spec.NodeInput, Code: "input"},
					{Type: spec.NodeSplit, Code: "split", Branches: []string{"a", "b"}},
					{Type: spec.NodeExit, Code: "exit", ExitValue: intp(0)},
					{Type: spec.NodeCancel, Code: "cancel"},
				},
				Transitions: []TransitionInput{
					{Origin: "enter", Destination: "input"},
					{Origin: "input", Destination: "split", ActionName: "go"},
					{Origin: "split", Destination: "exit", ActionName: "proceed"},
				},
			},
			{
				Code: "a",
				Nodes: []NodeInput{
					{Type: spec.NodeEnter, Code: "enter"},
					{Type: spec.NodeInput, Code: "input"},
					{Type: spec.NodeExit, Code: "exit", ExitValue: intp(1)},
					{Type: spec.NodeCancel, Code: "cancel"},
				},
				Transitions: []TransitionInput{
					{Origin: "enter", Destination: "input"},
					{Origin: "input", Destination: "exit", ActionName: "finish"},
				},
			},
			{
				Code: "b",
				Nodes: []NodeInput{
					{Type: spec.NodeEnter, Code: "enter"},
					{Type: spec.NodeInput, Code: "input"},
					{Type: spec.NodeExit, Code: "exit", ExitValue: intp(1)},
					{Type: spec.NodeCancel, Code: "cancel"},
				},
				Transitions: []TransitionInput{
					{Origin: "enter", Destination: "input"},
					{Origin: "input", Destination: "exit", ActionName: "finish"},
				},
			},
		},
	}
}

func TestInstallAssignsDepthsThroughSplitBranches(t *testing.T) {
	store := storage.NewMemoryStore()
	inst := New(store, callables.NewRegistry())

	ws, err := inst.Install(context.Background(), splitInput())
	if err != nil {
		t.Fatalf("Install: %v", err)
	}

	byCode := make(map[string]*spec.CourseSpec, len(ws.Courses))
	for _, c := range ws.Courses {
		byCode[c.Code] = c
	}
	if byCode[""].Depth != 0 {
		t.Errorf("expected root depth 0, got %d", byCode[""].Depth)
	}
	if byCode["a"].Depth != 1 || byCode["b"].Depth != 1 {
		t.Errorf("expected branch courses at depth 1, got a=%d b=%d", byCode["a"].Depth, byCode["b"].Depth)
	}
}

func TestInstallRejectsUnknownBranchCode(t *testing.T) {
	store := storage.NewMemoryStore()
	inst := New(store, callables.NewRegistry())

	in := splitInput()
	in.Courses[0].Nodes[2].Branches = []string{"a", "nonexistent"}

	_, err := inst.Install(context.Background(), in)
	kind, ok := engineerr.KindOf(err)
	if !ok || kind != engineerr.KindUnknownBranchCode {
		t.Fatalf("expected KindUnknownBranchCode, got %v", err)
	}
}
