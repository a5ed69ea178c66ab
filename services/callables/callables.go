// Package callables is the typed, name-keyed registry for the three host
// callable signatures the engine invokes but never defines the body of:
// landing handlers, multiplexer conditions, and split joiners (spec.md
// §6, §9 Design Notes "Callable references"). The spec installer resolves
// every callable reference against this registry at install time, so a
// typo in a workflow definition fails loudly during authoring rather
// than as a runtime panic mid-transition.
package callables

import (
	"context"
	"fmt"

	"github.com/flowkeeper/enginecore/services/instance"
)

// LandingHandler runs as a course lands on a node. Any error aborts the
// move and is surfaced unchanged (spec.md §4.4.1 step 3).
type LandingHandler func(ctx context.Context, doc instance.Document, user instance.User) error

// Condition is evaluated by a MULTIPLEXER's outbound transitions in
// ascending priority order; the first one to return true is taken
// (spec.md §4.4.2).
type Condition func(ctx context.Context, doc instance.Document, user instance.User) (bool, error)

// BranchStatus is the per-branch value a Joiner is handed: nil means the
// branch is still running, -1 means it was cancelled or joined, and any
// value >= 0 is the exit_value of the EXIT node the branch landed on
// (spec.md §4.4.3, §6).
type BranchStatus = *int

// Joiner decides, given the current status of every sibling branch under
// a SPLIT, whether the parent course should advance (returning the
// action name of the outbound to take) or keep waiting (returning ""
// with ok=false) (spec.md §4.4.3, §6).
type Joiner func(ctx context.Context, doc instance.Document, statuses map[string]BranchStatus, lastBranchCode string) (actionName string, ok bool, err error)

// Registry holds every callable a host application has registered, keyed
// by the name a spec.NodeSpec or spec.TransitionSpec references.
type Registry struct {
	landingHandlers map[string]LandingHandler
	conditions      map[string]Condition
	joiners         map[string]Joiner
}

// NewRegistry returns an empty Registry ready for RegisterX calls.
func NewRegistry() *Registry {
	return &Registry{
		landingHandlers: make(map[string]LandingHandler),
		conditions:      make(map[string]Condition),
		joiners:         make(map[string]Joiner),
	}
}

// RegisterLandingHandler adds a landing handler under name, overwriting
// any previous registration — callers typically register once at
// startup, so overwriting is a convenience for tests, not a supported
// hot-reload path.
func (r *Registry) RegisterLandingHandler(name string, h LandingHandler) {
	r.landingHandlers[name] = h
}

// RegisterCondition adds a multiplexer condition under name.
func (r *Registry) RegisterCondition(name string, c Condition) {
	r.conditions[name] = c
}

// RegisterJoiner adds a split joiner under name.
func (r *Registry) RegisterJoiner(name string, j Joiner) {
	r.joiners[name] = j
}

// LandingHandler looks up a registered landing handler by name.
func (r *Registry) LandingHandler(name string) (LandingHandler, bool) {
	h, ok := r.landingHandlers[name]
	return h, ok
}

// Condition looks up a registered condition by name.
func (r *Registry) Condition(name string) (Condition, bool) {
	c, ok := r.conditions[name]
	return c, ok
}

// Joiner looks up a registered joiner by name.
func (r *Registry) Joiner(name string) (Joiner, bool) {
	j, ok := r.joiners[name]
	return j, ok
}

// HasLandingHandler reports whether name is registered, for the
// installer's install-time reference check.
func (r *Registry) HasLandingHandler(name string) bool {
	_, ok := r.landingHandlers[name]
	return ok
}

// HasCondition reports whether name is registered.
func (r *Registry) HasCondition(name string) bool {
	_, ok := r.conditions[name]
	return ok
}

// HasJoiner reports whether name is registered.
func (r *Registry) HasJoiner(name string) bool {
	_, ok := r.joiners[name]
	return ok
}

// ErrUnknownCallable is returned (wrapped with context) when a spec
// references a callable name the registry doesn't recognize.
func ErrUnknownCallable(kind, name string) error {
	return fmt.Errorf("unknown %s callable %q", kind, name)
}
