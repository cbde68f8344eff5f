// Package quarantine relocates malicious objects into a quarantine namespace
// and records their provenance on the destination.
package quarantine

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/scantag/internal/fault"
	"github.com/yairfalse/scantag/internal/store"
	"github.com/yairfalse/scantag/internal/tagging"
	"github.com/yairfalse/scantag/pkg/object"
)

// Failure reasons, wrapped in a fault.Quarantine error.
var (
	ErrCopyTimeout  = errors.New("copy did not complete in time")
	ErrCopyFailed   = errors.New("copy failed")
	ErrRecordFailed = errors.New("writing quarantine record failed")
	ErrDeleteFailed = errors.New("source delete failed after copy")
)

var errCopyPending = errors.New("copy pending")

// Coordinator moves objects into the quarantine namespace.
type Coordinator struct {
	Store store.Store
	// Namespace is the destination store. Empty disables quarantine.
	Namespace    string
	Policy       Policy
	DeleteSource bool
	Poll         PollPolicy
	Schema       tagging.Schema
	MaxTags      int
}

// Enabled reports whether a quarantine namespace is configured.
func (c *Coordinator) Enabled() bool {
	return c != nil && c.Namespace != ""
}

// Destination returns where src is quarantined for rec. The policy partitions
// by rec.ScannedAt; without a scan timestamp the deterministic layout is used.
func (c *Coordinator) Destination(src object.Location, rec object.QuarantineRecord) object.Location {
	policy := c.Policy
	if policy == nil || rec.ScannedAt.IsZero() {
		policy = Deterministic
	}
	return object.Location{Store: c.Namespace, Key: policy(src, rec.ScannedAt)}
}

// Quarantine copies src into the namespace, tags the copy with rec and, when
// DeleteSource is set, removes src. The copy is skipped when the destination
// already carries the record of this same scan event, so redelivered events do
// not duplicate it. A record left by an earlier upload at the same key is
// overwritten by a fresh copy.
// A delete failure is reported with the destination still returned.
func (c *Coordinator) Quarantine(ctx context.Context, src object.Location, rec object.QuarantineRecord) (object.Location, error) {
	dst := c.Destination(src, rec)
	rec.Source = src
	rec.Destination = dst
	op := fmt.Sprintf("quarantine %s", src)

	done, err := c.alreadyQuarantined(ctx, dst, rec)
	if err != nil {
		return object.Location{}, fault.New(fault.Quarantine, op, err)
	}

	if done {
		log.Debug().
			Str("source", src.String()).
			Str("destination", dst.String()).
			Str("event_id", rec.EventID).
			Msg("destination already holds this event's quarantine record, skipping copy")
	} else {
		if err := c.copy(ctx, src, dst); err != nil {
			return object.Location{}, fault.New(fault.Quarantine, op, err)
		}
		if err := c.writeRecord(ctx, dst, rec); err != nil {
			return object.Location{}, fault.New(fault.Quarantine, op, err)
		}
	}

	if c.DeleteSource {
		if err := c.Store.DeleteObject(ctx, src); err != nil && !store.IsNotFound(err) {
			return dst, fault.New(fault.Quarantine, op, fmt.Errorf("%w: %w", ErrDeleteFailed, err))
		}
	}

	log.Info().
		Str("source", src.String()).
		Str("destination", dst.String()).
		Bool("source_deleted", c.DeleteSource).
		Msg("object quarantined")

	return dst, nil
}

func (c *Coordinator) alreadyQuarantined(ctx context.Context, dst object.Location, rec object.QuarantineRecord) (bool, error) {
	exists, err := c.Store.Exists(ctx, dst)
	if err != nil {
		return false, fmt.Errorf("check destination: %w", err)
	}
	if !exists {
		return false, nil
	}

	tags, err := c.Store.GetTags(ctx, dst)
	if err != nil {
		return false, fmt.Errorf("read destination tags: %w", err)
	}
	return c.Schema.RecordMatches(tags, rec), nil
}

func (c *Coordinator) copy(ctx context.Context, src, dst object.Location) error {
	h, err := c.Store.CopyObject(ctx, src, dst)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCopyFailed, err)
	}

	status := h.Status
	if !h.Done() {
		status, err = c.waitCopy(ctx, h)
		if err != nil {
			return err
		}
	}

	if status != store.CopySuccess {
		return fmt.Errorf("%w: status %s", ErrCopyFailed, status)
	}
	return nil
}

// waitCopy polls until the copy reaches a terminal state or the poll policy
// runs out of attempts.
func (c *Coordinator) waitCopy(ctx context.Context, h store.CopyHandle) (store.CopyStatus, error) {
	poll := func() (store.CopyStatus, error) {
		status, err := c.Store.PollCopyStatus(ctx, h)
		if err != nil {
			if !fault.Retryable(err) {
				return status, backoff.Permanent(err)
			}
			return status, err
		}
		if status == store.CopyPending {
			return status, errCopyPending
		}
		return status, nil
	}

	status, err := backoff.Retry(ctx, poll,
		backoff.WithBackOff(c.Poll.backOff()),
		backoff.WithMaxTries(c.Poll.attempts()),
		backoff.WithMaxElapsedTime(0),
	)
	switch {
	case err == nil:
		return status, nil
	case errors.Is(err, errCopyPending):
		return store.CopyPending, fmt.Errorf("%w: %d polls", ErrCopyTimeout, c.Poll.attempts())
	default:
		return store.CopyPending, fmt.Errorf("poll copy %s: %w", h.ID, err)
	}
}

func (c *Coordinator) writeRecord(ctx context.Context, dst object.Location, rec object.QuarantineRecord) error {
	existing, err := c.Store.GetTags(ctx, dst)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRecordFailed, err)
	}

	merged, err := c.Schema.Merge(existing, c.Schema.RecordTags(rec), c.MaxTags)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRecordFailed, err)
	}

	if err := c.Store.PutTags(ctx, dst, merged); err != nil {
		return fmt.Errorf("%w: %w", ErrRecordFailed, err)
	}
	return nil
}
