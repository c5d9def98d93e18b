package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseLoad     Phase = "load"     // module loading
	PhaseParse    Phase = "parse"    // image/package parsing
	PhaseResolve  Phase = "resolve"  // dependency resolution
	PhaseLookup   Phase = "lookup"   // symbol/resource lookup
	PhaseUnload   Phase = "unload"   // module teardown
	PhaseValidate Phase = "validate" // package validation
	PhaseManager  Phase = "manager"  // manager bookkeeping
)

// Kind categorizes the error
type Kind string

const (
	KindInvalidHandle Kind = "invalid_handle"
	KindKindMismatch  Kind = "kind_mismatch"
	KindInvalidInput  Kind = "invalid_input"
	KindParseFailure  Kind = "parse_failure"
	KindNameConflict  Kind = "name_conflict"
	KindNotFound      Kind = "not_found"
	KindValidation    Kind = "validation"
	KindUnsupported   Kind = "unsupported"
	KindClosed        Kind = "closed"
)

// Error is the structured error type used throughout the library
type Error struct {
	Cause  error
	Phase  Phase
	Kind   Kind
	Module string
	Symbol string
	Detail string
	Handle uint32
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Module != "" {
		b.WriteString(" module ")
		b.WriteString(e.Module)
	}
	if e.Handle != 0 {
		fmt.Fprintf(&b, " handle %#x", e.Handle)
	}
	if e.Symbol != "" {
		b.WriteString(" symbol ")
		b.WriteString(e.Symbol)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error. Matching is on Phase and
// Kind, with one widening: a kind-mismatch error also matches an
// invalid-handle target, since the native contract classifies a handle of
// the wrong kind as invalid.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e.Phase != t.Phase {
		return false
	}
	if e.Kind == t.Kind {
		return true
	}
	return e.Kind == KindKindMismatch && t.Kind == KindInvalidHandle
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Module sets the module name
func (b *Builder) Module(name string) *Builder {
	b.err.Module = name
	return b
}

// Handle sets the handle value
func (b *Builder) Handle(h uint32) *Builder {
	b.err.Handle = h
	return b
}

// Symbol sets the symbol name
func (b *Builder) Symbol(name string) *Builder {
	b.err.Symbol = name
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// InvalidHandle creates an invalid-handle error for a handle absent from
// the module table.
func InvalidHandle(phase Phase, handle uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidHandle,
		Handle: handle,
		Detail: "no loaded module for handle",
	}
}

// KindMismatch creates an error for a handle released through the wrong
// unload entry point.
func KindMismatch(phase Phase, handle uint32, want, got string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindKindMismatch,
		Handle: handle,
		Detail: fmt.Sprintf("handle refers to a %s module, not a %s", got, want),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// ParseFailed creates a parsing error wrapping the loader diagnostic
func ParseFailed(module string, cause error) *Error {
	return &Error{
		Phase:  PhaseParse,
		Kind:   KindParseFailure,
		Module: module,
		Cause:  cause,
	}
}

// NameConflict creates an error for a load whose name is already held by a
// module of the other kind
func NameConflict(module, holder string) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindNameConflict,
		Module: module,
		Detail: fmt.Sprintf("name already held by a %s module", holder),
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// Validation creates a package validation error
func Validation(module string, cause error) *Error {
	return &Error{
		Phase:  PhaseValidate,
		Kind:   KindValidation,
		Module: module,
		Cause:  cause,
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// Closed creates an error for operations on a closed manager or loader
func Closed(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindClosed,
		Detail: what + " is closed",
	}
}

// ResolveFailed creates a dependency-resolution error
func ResolveFailed(requester, dependency string, cause error) *Error {
	return &Error{
		Phase:  PhaseResolve,
		Kind:   KindNotFound,
		Module: requester,
		Detail: fmt.Sprintf("dependency %q", dependency),
		Cause:  cause,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}
