package emitter

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/scantag/pkg/object"
)

// LogEmitter writes one structured log line per outcome, plus one line per
// tag change when Changes is enabled.
type LogEmitter struct {
	Changes bool
}

// Emit logs the outcome.
func (e *LogEmitter) Emit(_ context.Context, out object.Outcome) error {
	var evt *zerolog.Event
	switch {
	case out.Err != nil:
		evt = log.Error().Err(out.Err)
	case out.QuarantineErr != nil || out.TagLimitExceeded:
		evt = log.Warn()
	default:
		evt = log.Info()
	}

	evt = evt.
		Str("event_id", out.EventID).
		Str("source", out.Source.String()).
		Str("target", out.Target.String()).
		Str("verdict", string(out.Verdict)).
		Bool("quarantined", out.Quarantined).
		Bool("source_deleted", out.SourceDeleted).
		Bool("tags_applied", out.TagsApplied).
		Dur("duration", out.Duration)
	if out.Destination != nil {
		evt = evt.Str("destination", out.Destination.String())
	}
	if out.QuarantineErr != nil {
		evt = evt.AnErr("quarantine_error", out.QuarantineErr)
	}
	if out.TagLimitExceeded {
		evt = evt.Bool("tag_limit_exceeded", true)
	}
	if out.Skipped {
		evt = evt.Bool("skipped", true)
	}
	evt.Msg("outcome")

	if !e.Changes {
		return nil
	}
	for _, c := range out.Changes {
		logEvent := log.Info().
			Str("target", out.Target.String()).
			Str("key", c.Key).
			Str("change", string(c.Type))
		if c.Type != object.ChangeAdded {
			logEvent = logEvent.Str("from", c.Previous)
		}
		if c.Type != object.ChangeRemoved {
			logEvent = logEvent.Str("to", c.Current)
		}
		logEvent.Msg("tag changed")
	}
	return nil
}

// Close is a no-op.
func (e *LogEmitter) Close() error {
	return nil
}
