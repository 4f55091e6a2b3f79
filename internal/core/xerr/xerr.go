package xerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation and HTTP mapping.
type Kind int

const (
	Validation Kind = iota + 1
	NotFound
	Extraction
	Chunking
	Embedding
	Storage
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case NotFound:
		return "not_found"
	case Extraction:
		return "extraction"
	case Chunking:
		return "chunking"
	case Embedding:
		return "embedding"
	case Storage:
		return "storage"
	}
	return "unknown"
}

// Error is a classified error. Message is user-visible; Err, when set, is
// the underlying cause and participates in errors.Is/As chains.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error with a plain message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a classified error.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// KindOf returns the Kind of err, or 0 if err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsNotFound reports whether err is classified NotFound.
func IsNotFound(err error) bool { return KindOf(err) == NotFound }

// IsValidation reports whether err is classified Validation.
func IsValidation(err error) bool { return KindOf(err) == Validation }

// DimensionMismatchError is raised when a batch write carries vectors whose
// width disagrees with the dimension a collection was first populated with.
// It is never masked as a generic failure: callers surface it verbatim so
// an operator can recreate the collection or revert the embedding model.
type DimensionMismatchError struct {
	Collection string
	Want       int
	Got        int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf(
		"embedding dimension mismatch for collection %q: collection expects dimension %d, got %d; "+
			"delete and recreate the collection or switch back to the original embedding model, then re-ingest",
		e.Collection, e.Want, e.Got)
}

// IsDimensionMismatch reports whether err is (or wraps) a dimension
// mismatch, returning the typed error when it is.
func IsDimensionMismatch(err error) (*DimensionMismatchError, bool) {
	var e *DimensionMismatchError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
