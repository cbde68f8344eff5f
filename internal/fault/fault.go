// Package fault classifies errors so callers can map them to redelivery policy.
package fault

import (
	"errors"
	"fmt"
)

// Kind is the category of a failure.
type Kind int

const (
	// Unclassified errors are treated like transient ones by callers.
	Unclassified Kind = iota
	// Configuration: required settings or event fields are missing or malformed.
	Configuration
	// Transient: network, timeout or throttling from the store.
	Transient
	// Permanent: object not found, permission denied.
	Permanent
	// Quarantine: copy timeout, copy failure, or post-copy delete failure.
	Quarantine
	// TagLimit: the merged tag set would exceed the backend maximum.
	TagLimit
)

func (k Kind) String() string {
	switch k {
	case Configuration:
		return "configuration"
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	case Quarantine:
		return "quarantine"
	case TagLimit:
		return "tag_limit"
	default:
		return "unclassified"
	}
}

// Error is a classified error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err with a kind and operation name. A nil err yields nil.
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a classified error from a format string.
func Errorf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the outermost kind found in the chain.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Unclassified
}

// Is reports whether any error in the chain carries kind.
func Is(err error, kind Kind) bool {
	for err != nil {
		var fe *Error
		if !errors.As(err, &fe) {
			return false
		}
		if fe.Kind == kind {
			return true
		}
		err = fe.Err
	}
	return false
}

// Retryable reports whether redelivering the whole event could succeed.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	switch KindOf(err) {
	case Configuration, Permanent, TagLimit:
		return false
	default:
		return true
	}
}
