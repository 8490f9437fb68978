package domain

import (
	"errors"
	"fmt"
)

// Kind is a stable machine-readable failure category. Callers switch on Kind
// rather than matching error strings.
type Kind string

const (
	KindInvalidContent    Kind = "invalid_content"
	KindQualityThreshold  Kind = "quality_below_threshold"
	KindDimensionMismatch Kind = "dimension_mismatch"
	KindInvalidVector     Kind = "invalid_vector"
	KindNoDocuments       Kind = "no_documents_ingested"
	KindNoIndex           Kind = "no_index_available"
	KindNoFilter          Kind = "no_filter_provided"
	KindNoVectors         Kind = "no_vectors_provided"
	KindExternalService   Kind = "external_service_error"
	KindParse             Kind = "parse_error"
)

// Sentinel errors for the common guard failures.
var (
	ErrInvalidContent    = &Error{Kind: KindInvalidContent, Msg: "content is empty"}
	ErrNoDocuments       = &Error{Kind: KindNoDocuments, Msg: "no documents ingested"}
	ErrNoFilterProvided  = &Error{Kind: KindNoFilter, Msg: "delete requires at least one filter"}
	ErrNoVectorsProvided = &Error{Kind: KindNoVectors, Msg: "query requires a dense or sparse vector"}
)

// Error carries a Kind plus optional operation context and a wrapped cause.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind so wrapped errors compare equal to the sentinels above.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// E builds an Error with an operation and wrapped cause.
func E(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Ef builds an Error with an operation and formatted message.
func Ef(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// KindOf extracts the Kind from err, or empty if err is not a domain error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Retryable reports whether the failure class may succeed on retry.
// Validation and guard failures never do; external service failures may.
func Retryable(err error) bool {
	return KindOf(err) == KindExternalService
}
