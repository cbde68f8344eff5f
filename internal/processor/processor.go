// Package processor applies one scan verdict to the scanned object: it
// classifies the result, optionally quarantines the object, and rewrites the
// engine's tags on whichever location should carry them.
package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/scantag/internal/fault"
	"github.com/yairfalse/scantag/internal/filter"
	"github.com/yairfalse/scantag/internal/quarantine"
	"github.com/yairfalse/scantag/internal/store"
	"github.com/yairfalse/scantag/internal/tagging"
	"github.com/yairfalse/scantag/internal/verdict"
	"github.com/yairfalse/scantag/pkg/object"
)

// Processor handles scan events against one object store.
type Processor struct {
	Store store.Store
	// Coordinator is optional; nil or an empty namespace disables quarantine.
	Coordinator *quarantine.Coordinator
	Schema      tagging.Schema
	MaxTags     int
	// Filter is optional; filtered objects are skipped without error.
	Filter *filter.Filter
	// Mandatory turns quarantine failures into processing errors.
	Mandatory bool
	Tracer    trace.Tracer
	Now       func() time.Time
}

func (p *Processor) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p *Processor) tracer() trace.Tracer {
	if p.Tracer != nil {
		return p.Tracer
	}
	return otel.Tracer("scantag/processor")
}

// Process applies ev. Tag-limit overflows and non-mandatory quarantine
// failures are reported on the Outcome, not as errors.
func (p *Processor) Process(ctx context.Context, ev object.ScanEvent) (object.Outcome, error) {
	start := p.now()
	out := object.Outcome{EventID: ev.ID, Source: ev.Location, Target: ev.Location}

	ctx, span := p.tracer().Start(ctx, "scantag.process", trace.WithAttributes(
		attribute.String("event_id", ev.ID),
		attribute.String("store", ev.Location.Store),
		attribute.String("key", ev.Location.Key),
	))
	defer span.End()

	out, err := p.process(ctx, ev, out)
	out.Duration = p.now().Sub(start)
	out.Err = err

	span.SetAttributes(
		attribute.String("verdict", string(out.Verdict)),
		attribute.Bool("quarantined", out.Quarantined),
		attribute.Bool("tags_applied", out.TagsApplied),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return out, err
}

func (p *Processor) process(ctx context.Context, ev object.ScanEvent, out object.Outcome) (object.Outcome, error) {
	if p.Store == nil {
		return out, fault.Errorf(fault.Configuration, "process", "no object store configured")
	}
	if !ev.Location.Valid() {
		return out, fault.Errorf(fault.Configuration, "process", "event %q has no object location", ev.ID)
	}

	if !p.Filter.Allows(ev.Location) {
		out.Skipped = true
		log.Debug().Str("event_id", ev.ID).Str("location", ev.Location.String()).Msg("filtered, skipping")
		return out, nil
	}

	out.Verdict, out.Detail = verdict.ClassifyEvent(ev)

	logger := log.With().
		Str("event_id", ev.ID).
		Str("store", ev.Location.Store).
		Str("key", ev.Location.Key).
		Str("verdict", string(out.Verdict)).
		Logger()

	if out.Verdict == object.VerdictMalicious && p.Coordinator.Enabled() {
		rec := object.QuarantineRecord{
			Timestamp: p.recordTime(ev),
			Malwares:  ev.MalwareNames(),
			EventID:   ev.ID,
			ScannedAt: ev.ScannedAt,
		}
		dst, err := p.Coordinator.Quarantine(ctx, ev.Location, rec)
		if !dst.IsZero() {
			out.Quarantined = true
			out.Destination = &dst
			out.SourceDeleted = err == nil && p.Coordinator.DeleteSource
		}
		if err != nil {
			out.QuarantineErr = err
			logger.Warn().Err(err).Bool("mandatory", p.Mandatory).Msg("quarantine failed")
			if p.Mandatory {
				return out, err
			}
		}
	}

	if out.SourceDeleted {
		out.Target = *out.Destination
		logger.Info().Str("destination", out.Target.String()).Msg("object quarantined, source deleted")
		return out, nil
	}

	computed := p.Schema.ScanTags(tagging.ScanInput{
		Verdict:      out.Verdict,
		Detail:       out.Detail,
		Code:         ev.Code,
		ScannedAt:    ev.ScannedAt,
		RawTimestamp: ev.RawTimestamp,
		Quarantined:  out.Quarantined,
		Source:       ev.Location,
	})

	existing, err := p.Store.GetTags(ctx, out.Target)
	if err != nil {
		return out, fmt.Errorf("read tags %s: %w", out.Target, err)
	}

	merged, err := p.Schema.Merge(existing, computed, p.MaxTags)
	if errors.Is(err, tagging.ErrTagLimitExceeded) {
		out.TagLimitExceeded = true
		logger.Warn().Err(err).Int("existing", len(existing)).Msg("tag limit exceeded, tags left untouched")
		return out, nil
	}
	if err != nil {
		return out, err
	}

	if err := p.Store.PutTags(ctx, out.Target, merged); err != nil {
		return out, fmt.Errorf("write tags %s: %w", out.Target, err)
	}
	out.TagsApplied = true
	out.Changes = tagging.Diff(existing, merged)

	logger.Info().
		Bool("quarantined", out.Quarantined).
		Str("detail", out.Detail).
		Int("changes", len(out.Changes)).
		Msg("scan result applied")

	return out, nil
}

// recordTime prefers the scan timestamp. Without one the wall clock only
// dates the record; the destination and redelivery match do not depend on it.
func (p *Processor) recordTime(ev object.ScanEvent) time.Time {
	if !ev.ScannedAt.IsZero() {
		return ev.ScannedAt.UTC()
	}
	return p.now().UTC()
}
