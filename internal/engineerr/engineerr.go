// Package engineerr defines the single error taxonomy surfaced by every
// engine package (spec validation, permission gate, executor, nav). Every
// error the engine returns deliberately, as opposed to a wrapped
// collaborator failure, is a *Error with one of the Kinds below.
package engineerr

import (
	"errors"
	"fmt"
)

// Kind identifies a category of engine error. Callers are expected to
// switch on Kind (via errors.As and (*Error).Is) rather than string-match
// on Error().
type Kind string

const (
	// Spec/validation errors (authoring time).
	KindInvalidType                  Kind = "InvalidType"
	KindInvalidNodeConfiguration     Kind = "InvalidNodeConfiguration"
	KindInvalidTransitionConfig      Kind = "InvalidTransitionConfiguration"
	KindDuplicateActionName          Kind = "DuplicateActionName"
	KindDuplicatePriority            Kind = "DuplicatePriority"
	KindUnreachableNode              Kind = "UnreachableNode"
	KindMissingEnter                 Kind = "MissingEnter"
	KindMissingExit                  Kind = "MissingExit"
	KindRootCourseMustPause          Kind = "RootCourseMustPause"
	KindBranchDepthMismatch          Kind = "BranchDepthMismatch"
	KindUnknownBranchCode            Kind = "UnknownBranchCode"
	KindUnknownCallable              Kind = "UnknownCallable"
	KindDuplicateWorkflowCode        Kind = "DuplicateWorkflowCode"
	KindDuplicateCourseCode          Kind = "DuplicateCourseCode"
	KindDuplicateNodeCode            Kind = "DuplicateNodeCode"

	// Permission errors (runtime).
	KindWorkflowCreateDenied                    Kind = "WorkflowCreateDenied"
	KindWorkflowCourseCancelDeniedByWorkflow    Kind = "WorkflowCourseCancelDeniedByWorkflow"
	KindWorkflowCourseCancelDeniedByCourse      Kind = "WorkflowCourseCancelDeniedByCourse"
	KindWorkflowCourseAdvanceDeniedByNode       Kind = "WorkflowCourseAdvanceDeniedByNode"
	KindWorkflowCourseAdvanceDeniedByTransition Kind = "WorkflowCourseAdvanceDeniedByTransition"
	KindWrongNodeType                          Kind = "WrongNodeType"

	// Structural runtime errors.
	KindCourseNodeDoesNotExist           Kind = "CourseNodeDoesNotExist"
	KindInstanceDoesNotAllowForeignNodes Kind = "InstanceDoesNotAllowForeignNodes"
	KindNoSuchElement                    Kind = "NoSuchElement"
	KindMultiplexerNoMatch               Kind = "MultiplexerNoMatch"
	KindNotCancellable                   Kind = "NotCancellable"
	KindNotJoinable                      Kind = "NotJoinable"
	KindSplitUnresolved                  Kind = "SplitUnresolved"
	KindNoSuchAction                     Kind = "NoSuchAction"
)

// Error is the engine's single structured error type. Field is populated
// for spec validation errors and names the offending attribute (e.g.
// "origin", "destination", "condition", "action_name", "priority",
// "permission", "branches"); it is empty for runtime errors.
type Error struct {
	Kind    Kind
	Field   string
	Subject string // human-readable identifier of the entity involved (code, id, path)
	Err     error  // wrapped cause, if any
}

func (e *Error) Error() string {
	switch {
	case e.Field != "" && e.Subject != "":
		return fmt.Sprintf("%s: %s (field %q, %s)", e.Kind, e.causeText(), e.Field, e.Subject)
	case e.Field != "":
		return fmt.Sprintf("%s: %s (field %q)", e.Kind, e.causeText(), e.Field)
	case e.Subject != "":
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.causeText(), e.Subject)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.causeText())
	}
}

func (e *Error) causeText() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Kind, allowing
// callers to do errors.Is(err, engineerr.New(KindWrongNodeType, "")).
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return other.Kind == e.Kind
}

// New builds a runtime error with no field/cause.
func New(kind Kind, subject string) *Error {
	return &Error{Kind: kind, Subject: subject}
}

// Field builds a validation error keyed by the offending field.
func Field(kind Kind, field, subject string) *Error {
	return &Error{Kind: kind, Field: field, Subject: subject}
}

// Wrap builds an error that carries an underlying cause (e.g. a handler
// panic-turned-error, or a storage failure).
func Wrap(kind Kind, subject string, err error) *Error {
	return &Error{Kind: kind, Subject: subject, Err: err}
}

// KindOf reports the Kind of err if it is (or wraps) an *Error, and ok=false
// otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
