// Package daemon consumes scan-result messages and applies them with a
// bounded worker pool.
package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/scantag/internal/emitter"
	"github.com/yairfalse/scantag/internal/event"
	"github.com/yairfalse/scantag/internal/fault"
	"github.com/yairfalse/scantag/internal/queue"
	"github.com/yairfalse/scantag/pkg/object"
)

// Handler applies one scan event. *processor.Processor implements it.
type Handler interface {
	Process(ctx context.Context, ev object.ScanEvent) (object.Outcome, error)
}

// Disposition is what happened to a message after handling.
type Disposition string

const (
	// Acked messages were deleted from the queue.
	Acked Disposition = "acked"
	// Released messages become visible again after the retry delay.
	Released Disposition = "released"
	// Left messages stay invisible until their timeout, then redeliver or
	// dead-letter per the queue's redrive policy.
	Left Disposition = "left"
)

// Config holds daemon configuration
type Config struct {
	Workers    int
	RetryDelay time.Duration
	// MaxReceiveBackoff caps the wait between failed receives.
	MaxReceiveBackoff time.Duration
}

// Daemon pulls messages from a queue and hands them to workers.
type Daemon struct {
	source  queue.Source
	handler Handler
	emitter emitter.Emitter
	metrics *Metrics

	workers    int
	retryDelay time.Duration
	maxBackoff time.Duration

	startTime     time.Time
	handled       atomic.Int64
	receiveErrors atomic.Int64
	lastReceive   atomic.Int64 // unix nanos of the last successful receive
}

// NewDaemon creates a new daemon instance. emit and metrics may be nil.
func NewDaemon(cfg Config, src queue.Source, h Handler, emit emitter.Emitter, metrics *Metrics) (*Daemon, error) {
	if src == nil {
		return nil, fault.Errorf(fault.Configuration, "new daemon", "no queue source")
	}
	if h == nil {
		return nil, fault.Errorf(fault.Configuration, "new daemon", "no handler")
	}
	if emit == nil {
		emit = emitter.NewMultiEmitter()
	}
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	maxBackoff := cfg.MaxReceiveBackoff
	if maxBackoff <= 0 {
		maxBackoff = time.Minute
	}
	return &Daemon{
		source:     src,
		handler:    h,
		emitter:    emit,
		metrics:    metrics,
		workers:    workers,
		retryDelay: cfg.RetryDelay,
		maxBackoff: maxBackoff,
		startTime:  time.Now(),
	}, nil
}

// Start receives and handles messages until ctx is cancelled. In-flight
// messages are finished before it returns.
func (d *Daemon) Start(ctx context.Context) error {
	msgs := make(chan queue.Message)
	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for m := range msgs {
				// Finish the message even while shutting down.
				d.Handle(context.WithoutCancel(ctx), m)
			}
		}()
	}

	log.Info().Int("workers", d.workers).Msg("daemon started")
	d.receiveLoop(ctx, msgs)
	close(msgs)
	wg.Wait()
	log.Info().Int64("handled", d.handled.Load()).Msg("daemon stopped")
	return nil
}

func (d *Daemon) receiveLoop(ctx context.Context, msgs chan<- queue.Message) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = d.maxBackoff

	for ctx.Err() == nil {
		batch, err := d.source.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			d.receiveErrors.Add(1)
			d.metrics.recordReceiveError(ctx)
			wait := bo.NextBackOff()
			log.Warn().Err(err).Dur("retry_in", wait).Msg("receive failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		bo.Reset()
		d.lastReceive.Store(time.Now().UnixNano())

		for _, m := range batch {
			select {
			case msgs <- m:
			case <-ctx.Done():
				// Unsent messages reappear after their visibility timeout.
				return
			}
		}
	}
}

// Handle decodes, processes and settles one message.
func (d *Daemon) Handle(ctx context.Context, m queue.Message) Disposition {
	start := time.Now()
	logger := log.With().Str("message_id", m.ID).Int("receive_count", m.ReceiveCount).Logger()

	var out object.Outcome
	ev, err := event.Decode(m.Body)
	if err != nil {
		out = object.Outcome{EventID: m.ID, Err: err, Duration: time.Since(start)}
	} else {
		out, err = d.handler.Process(ctx, ev)
		out.Err = err
	}

	if emitErr := d.emitter.Emit(ctx, out); emitErr != nil {
		logger.Warn().Err(emitErr).Msg("emit outcome failed")
	}

	disp := d.settle(ctx, m, err)
	d.handled.Add(1)
	d.metrics.recordMessage(ctx, disp, fault.KindOf(err), time.Since(start))

	evt := logger.Debug()
	if err != nil {
		evt = logger.Warn().Err(err).Str("kind", fault.KindOf(err).String())
	}
	evt.Str("event_id", out.EventID).Str("disposition", string(disp)).Msg("message handled")
	return disp
}

// settle acks successes, releases retryable failures and leaves the rest
// for the queue's redrive policy.
func (d *Daemon) settle(ctx context.Context, m queue.Message, err error) Disposition {
	switch {
	case err == nil:
		if ackErr := d.source.Ack(ctx, m); ackErr != nil {
			log.Error().Err(ackErr).Str("message_id", m.ID).Msg("ack failed")
			return Left
		}
		return Acked
	case fault.Retryable(err):
		if relErr := d.source.Release(ctx, m, d.retryDelay); relErr != nil {
			log.Error().Err(relErr).Str("message_id", m.ID).Msg("release failed")
			return Left
		}
		return Released
	default:
		return Left
	}
}

// HealthStatus represents daemon health
type HealthStatus struct {
	Status        string `json:"status"`
	Uptime        int64  `json:"uptime_seconds"`
	Handled       int64  `json:"handled"`
	ReceiveErrors int64  `json:"receive_errors"`
	LastReceive   string `json:"last_receive,omitempty"`
}

// Health returns daemon health status. The daemon is degraded once receives
// have failed and none has succeeded since startup.
func (d *Daemon) Health() HealthStatus {
	h := HealthStatus{
		Status:        "healthy",
		Uptime:        int64(time.Since(d.startTime).Seconds()),
		Handled:       d.handled.Load(),
		ReceiveErrors: d.receiveErrors.Load(),
	}
	if last := d.lastReceive.Load(); last != 0 {
		h.LastReceive = time.Unix(0, last).UTC().Format(time.RFC3339)
	} else if h.ReceiveErrors > 0 {
		h.Status = "degraded"
	}
	return h
}

// HealthHandler serves Health as JSON.
func (d *Daemon) HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		h := d.Health()
		w.Header().Set("Content-Type", "application/json")
		if h.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(h); err != nil {
			log.Debug().Err(err).Msg("write health response")
		}
	})
}

// HandledCount returns the number of messages settled so far.
func (d *Daemon) HandledCount() int64 {
	return d.handled.Load()
}
