// Package store defines the object store capability the engine consumes.
package store

import (
	"context"
	"errors"

	"github.com/yairfalse/scantag/pkg/object"
)

// CopyStatus is the state of a copy operation.
type CopyStatus int

const (
	CopyPending CopyStatus = iota
	CopySuccess
	CopyFailed
)

func (s CopyStatus) String() string {
	switch s {
	case CopyPending:
		return "pending"
	case CopySuccess:
		return "success"
	case CopyFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// CopyHandle tracks an issued copy.
// Synchronous backends return a handle whose Status is already terminal.
type CopyHandle struct {
	ID          string
	Source      object.Location
	Destination object.Location
	Status      CopyStatus
}

// Done reports whether the copy reached a terminal state.
func (h CopyHandle) Done() bool {
	return h.Status != CopyPending
}

// Store is the object store capability used by the engine.
type Store interface {
	// GetTags returns the object's tags, or an empty set when it has none.
	GetTags(ctx context.Context, loc object.Location) (object.TagSet, error)

	// PutTags replaces the object's entire tag set.
	PutTags(ctx context.Context, loc object.Location, tags object.TagSet) error

	// CopyObject copies src to dst. The copy may complete asynchronously.
	CopyObject(ctx context.Context, src, dst object.Location) (CopyHandle, error)

	// PollCopyStatus reports the state of an asynchronous copy.
	PollCopyStatus(ctx context.Context, h CopyHandle) (CopyStatus, error)

	// DeleteObject removes the object.
	DeleteObject(ctx context.Context, loc object.Location) error

	// GetObjectBytes downloads the object body.
	GetObjectBytes(ctx context.Context, loc object.Location) ([]byte, error)

	// Exists reports whether an object is present at loc.
	Exists(ctx context.Context, loc object.Location) (bool, error)
}

// ErrNotFound is wrapped by backends when an object does not exist.
var ErrNotFound = errors.New("object not found")

// ErrAccessDenied is wrapped by backends when the caller lacks permission.
var ErrAccessDenied = errors.New("access denied")

// IsNotFound reports whether err means the object does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
