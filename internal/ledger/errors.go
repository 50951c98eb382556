package ledger

import (
	"errors"
	"fmt"
)

// ErrorKind classifies ledger failures.
type ErrorKind string

const (
	// KindServiceTimeout: the service did not answer in time. Nothing moved;
	// the caller may retry later.
	KindServiceTimeout ErrorKind = "service_timeout"
	// KindRejected: the service refused the request.
	KindRejected ErrorKind = "rejected"
	KindUnknown  ErrorKind = "unknown"
)

// Error is a classified ledger failure.
type Error struct {
	Kind   ErrorKind
	Op     string
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("ledger %s: %s (status %d): %v", e.Op, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("ledger %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of a ledger error, KindUnknown for anything else.
func KindOf(err error) ErrorKind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return KindUnknown
}

// IsServiceTimeout reports whether err is a ledger service timeout.
func IsServiceTimeout(err error) bool {
	return err != nil && KindOf(err) == KindServiceTimeout
}
