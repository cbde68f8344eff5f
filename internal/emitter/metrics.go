package emitter

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/yairfalse/scantag/internal/fault"
	"github.com/yairfalse/scantag/pkg/object"
)

// MetricsEmitter records outcomes as OTEL metrics. With the Prometheus
// exporter installed they are served on /metrics.
type MetricsEmitter struct {
	meter metric.Meter

	outcomesTotal   metric.Int64Counter
	quarantineTotal metric.Int64Counter
	tagChangesTotal metric.Int64Counter
	tagLimitTotal   metric.Int64Counter
	errorsTotal     metric.Int64Counter
	processDuration metric.Float64Histogram
}

// NewMetricsEmitter creates a metrics emitter on the global meter provider.
func NewMetricsEmitter() (*MetricsEmitter, error) {
	return NewMetricsEmitterWithMeter(otel.Meter("scantag"))
}

// NewMetricsEmitterWithMeter creates a metrics emitter on meter.
func NewMetricsEmitterWithMeter(meter metric.Meter) (*MetricsEmitter, error) {
	e := &MetricsEmitter{meter: meter}
	if err := e.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	return e, nil
}

func (e *MetricsEmitter) initMetrics() error {
	var err error

	e.outcomesTotal, err = e.meter.Int64Counter(
		"scantag_outcomes_total",
		metric.WithDescription("Scan events processed, by verdict"),
	)
	if err != nil {
		return fmt.Errorf("create outcomes counter: %w", err)
	}

	e.quarantineTotal, err = e.meter.Int64Counter(
		"scantag_quarantine_total",
		metric.WithDescription("Quarantine attempts, by result"),
	)
	if err != nil {
		return fmt.Errorf("create quarantine counter: %w", err)
	}

	e.tagChangesTotal, err = e.meter.Int64Counter(
		"scantag_tag_changes_total",
		metric.WithDescription("Tag entries rewritten, by change type"),
	)
	if err != nil {
		return fmt.Errorf("create tag_changes counter: %w", err)
	}

	e.tagLimitTotal, err = e.meter.Int64Counter(
		"scantag_tag_limit_exceeded_total",
		metric.WithDescription("Objects left untagged because of the tag limit"),
	)
	if err != nil {
		return fmt.Errorf("create tag_limit counter: %w", err)
	}

	e.errorsTotal, err = e.meter.Int64Counter(
		"scantag_errors_total",
		metric.WithDescription("Processing errors, by kind"),
	)
	if err != nil {
		return fmt.Errorf("create errors counter: %w", err)
	}

	e.processDuration, err = e.meter.Float64Histogram(
		"scantag_process_duration_seconds",
		metric.WithDescription("Time taken to process one scan event"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("create process_duration histogram: %w", err)
	}

	return nil
}

// Emit records the outcome.
func (e *MetricsEmitter) Emit(ctx context.Context, out object.Outcome) error {
	storeAttr := attribute.String("store", out.Source.Store)

	e.processDuration.Record(ctx, out.Duration.Seconds(), metric.WithAttributes(storeAttr))

	if out.Err != nil {
		e.errorsTotal.Add(ctx, 1, metric.WithAttributes(storeAttr,
			attribute.String("kind", fault.KindOf(out.Err).String())))
	}
	switch {
	case out.Skipped:
		e.outcomesTotal.Add(ctx, 1, metric.WithAttributes(storeAttr, attribute.String("verdict", "skipped")))
	case out.Verdict != "":
		e.outcomesTotal.Add(ctx, 1, metric.WithAttributes(storeAttr,
			attribute.String("verdict", string(out.Verdict))))
	}

	switch {
	case out.Quarantined:
		e.quarantineTotal.Add(ctx, 1, metric.WithAttributes(storeAttr, attribute.String("result", "success")))
	case out.QuarantineErr != nil:
		e.quarantineTotal.Add(ctx, 1, metric.WithAttributes(storeAttr, attribute.String("result", "failure")))
	}

	if out.TagLimitExceeded {
		e.tagLimitTotal.Add(ctx, 1, metric.WithAttributes(storeAttr))
	}

	for _, c := range out.Changes {
		e.tagChangesTotal.Add(ctx, 1, metric.WithAttributes(storeAttr,
			attribute.String("change_type", string(c.Type))))
	}

	log.Debug().
		Str("event_id", out.EventID).
		Str("verdict", string(out.Verdict)).
		Int("changes", len(out.Changes)).
		Msg("outcome recorded")

	return nil
}

// Close is a no-op; the meter provider owns the exporter.
func (e *MetricsEmitter) Close() error {
	return nil
}
