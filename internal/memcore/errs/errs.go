// Package errs provides the stable, comparable error-kind taxonomy shared
// across the object store, pack codec, reference manager, merge engine,
// crypto layer, audit log, trust store, remote sync, GC, and fsck.
package errs

import "fmt"

// Kind is a stable identifier for a class of failure. Kinds are compared by
// value with Of, never by matching error message text.
type Kind string

const (
	// Invariant / integrity
	HashMismatch   Kind = "HashMismatch"
	MerkleMismatch Kind = "MerkleMismatch"
	SignatureInvalid Kind = "SignatureInvalid"
	AuditCorrupt   Kind = "AuditCorrupt"
	DecryptionFailed Kind = "DecryptionFailed"
	PackCorrupt    Kind = "PackCorrupt"

	// Not-found / naming
	NotFound       Kind = "NotFound"
	AmbiguousRef   Kind = "AmbiguousRef"
	InvalidRefName Kind = "InvalidRefName"
	PathOutsideRoot Kind = "PathOutsideRoot"

	// Concurrency / state
	LockBusy          Kind = "LockBusy"
	Cancelled         Kind = "Cancelled"
	MergingState      Kind = "MergingState"
	UnresolvedConflicts Kind = "UnresolvedConflicts"

	// Remote
	NonFastForward Kind = "NonFastForward"
	TransportError Kind = "TransportError"
	UntrustedKey   Kind = "UntrustedKey"

	// Client input
	InvalidConfig   Kind = "InvalidConfig"
	InvalidArgument Kind = "InvalidArgument"
)

// Error is a Kind-tagged error carrying human-readable context and an
// optional wrapped cause.
type Error struct {
	Kind    Kind
	Context string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Context, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Context)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an *Error with no wrapped cause.
func New(kind Kind, context string) error {
	return &Error{Kind: kind, Context: context}
}

// Wrap constructs an *Error wrapping cause, preserving errors.Is/As chains.
func Wrap(kind Kind, context string, cause error) error {
	return &Error{Kind: kind, Context: context, Cause: cause}
}

// Of extracts the Kind from err, returning "" if err is nil or not an *Error
// anywhere in its Unwrap chain.
func Of(err error) Kind {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ""
		}
		err = u.Unwrap()
	}
	return ""
}

// Is reports whether err's Kind equals kind.
func Is(err error, kind Kind) bool {
	return Of(err) == kind
}
