// Package errkind classifies errors raised anywhere in the substrate into
// a small fixed taxonomy, without giving up the standard error interface.
// Callers that only care whether something failed keep using err != nil;
// callers that need to decide how to react (retry, surface to a user,
// escalate) call Of(err) and switch on the Kind.
package errkind

import "errors"

// Kind is the category of an error, independent of its message.
type Kind int

const (
	// Unknown is the zero value: an error with no assigned kind.
	Unknown Kind = iota
	// Input marks a caller-supplied value that failed validation.
	Input
	// NotFound marks a lookup that found nothing.
	NotFound
	// PermissionDenied marks an operation refused by a permission check.
	PermissionDenied
	// Timeout marks an operation that exceeded its deadline.
	Timeout
	// Cancelled marks an operation stopped by context cancellation.
	Cancelled
	// Resource marks exhaustion of a bounded resource (pool, disk, memory).
	Resource
	// External marks failure of a collaborator outside this process.
	External
	// Corruption marks on-disk or in-memory state that failed an integrity check.
	Corruption
	// Internal marks a bug: an invariant this package itself is responsible for.
	Internal
)

func (k Kind) String() string {
	switch k {
	case Input:
		return "input"
	case NotFound:
		return "not_found"
	case PermissionDenied:
		return "permission_denied"
	case Timeout:
		return "timeout"
	case Cancelled:
		return "cancelled"
	case Resource:
		return "resource"
	case External:
		return "external"
	case Corruption:
		return "corruption"
	case Internal:
		return "internal"
	default:
		return "unknown"
	}
}

// kindError wraps an error with a Kind, staying transparent to errors.Is
// and errors.As via Unwrap.
type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string { return e.err.Error() }
func (e *kindError) Unwrap() error { return e.err }
func (e *kindError) Kind() Kind    { return e.kind }

// New wraps err with the given Kind. Wrapping a nil error returns nil.
func New(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: err}
}

// classifier is implemented by any error that knows its own Kind.
type classifier interface {
	Kind() Kind
}

// Of returns the Kind attached to err via New, walking the Unwrap chain.
// Returns Unknown if no wrapped error declares a Kind.
func Of(err error) Kind {
	var c classifier
	if errors.As(err, &c) {
		return c.Kind()
	}
	return Unknown
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	return Of(err) == kind
}
