package daemon

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/yairfalse/scantag/internal/fault"
)

// Metrics holds queue-consumer metrics using OTEL semantic conventions.
// A nil *Metrics records nothing.
type Metrics struct {
	messages        metric.Int64Counter
	messageDuration metric.Float64Histogram
	receiveErrors   metric.Int64Counter
}

// NewDaemonMetrics creates daemon metrics on the global meter provider.
func NewDaemonMetrics() (*Metrics, error) {
	return NewMetrics(otel.Meter("scantag.daemon"))
}

// NewMetrics creates daemon metrics on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	messages, err := meter.Int64Counter(
		"scantag.daemon.messages",
		metric.WithDescription("Queue messages settled, by disposition"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return nil, err
	}

	messageDuration, err := meter.Float64Histogram(
		"scantag.daemon.message.duration",
		metric.WithDescription("Time from decode to settle for one message"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	receiveErrors, err := meter.Int64Counter(
		"scantag.daemon.receive_errors",
		metric.WithDescription("Failed queue receive calls"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		messages:        messages,
		messageDuration: messageDuration,
		receiveErrors:   receiveErrors,
	}, nil
}

func (m *Metrics) recordMessage(ctx context.Context, disp Disposition, kind fault.Kind, d time.Duration) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("disposition", string(disp)),
	}
	if disp != Acked {
		attrs = append(attrs, attribute.String("error.type", kind.String()))
	}
	m.messages.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.messageDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attrs[0]))
}

func (m *Metrics) recordReceiveError(ctx context.Context) {
	if m == nil {
		return
	}
	m.receiveErrors.Add(ctx, 1)
}
