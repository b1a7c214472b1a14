// Package fault classifies registry failures so callers can tell a rejected
// input from a halted pipeline and a retryable outage from a no-op duplicate.
package fault

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the failure class of a Fault.
type Kind string

const (
	// Validation marks malformed input, rejected before any signing or I/O.
	Validation Kind = "validation"

	// Configuration marks missing key material or store/ledger settings.
	// The operation must not proceed at all.
	Configuration Kind = "configuration"

	// Integrity marks a signature or hash mismatch on a manifest or blob.
	// Publication halts for the affected batch.
	Integrity Kind = "integrity"

	// Transient marks a network or timeout failure on a store or ledger
	// call. The caller owns retries; the core performs none.
	Transient Kind = "transient"

	// Duplicate marks an already-anchored batch. Not an error condition:
	// the operation is a no-op success.
	Duplicate Kind = "duplicate"
)

// Fault is an error carrying a failure class and an optional cause.
type Fault struct {
	Kind Kind   // Kind is the failure class
	Msg  string // Msg is the human-readable description
	Err  error  // Err is the wrapped cause, may be nil
}

// Error returns the fault message, including the cause when present.
func (f *Fault) Error() string {
	if f.Err != nil {
		return f.Msg + ": " + f.Err.Error()
	}
	return f.Msg
}

// Unwrap returns the wrapped cause.
func (f *Fault) Unwrap() error {
	return f.Err
}

// New creates a fault of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Fault {
	return &Fault{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap creates a fault of the given kind wrapping err.
func Wrap(kind Kind, err error, format string, args ...any) *Fault {
	return &Fault{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the first Fault in err's chain,
// or an empty Kind if err carries no fault.
func KindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return ""
}

// Is reports whether err carries a fault of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HTTPStatus maps a fault kind to the status code the API edge reports.
// Duplicates are successes; unclassified errors are internal.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case Validation:
		return http.StatusBadRequest
	case Duplicate:
		return http.StatusOK
	case Transient:
		return http.StatusServiceUnavailable
	case Configuration, Integrity:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
