package main

import (
	"context"
	"errors"
	"net/http"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/yairfalse/scantag/internal/config"
	"github.com/yairfalse/scantag/internal/daemon"
	"github.com/yairfalse/scantag/internal/emitter"
	"github.com/yairfalse/scantag/internal/queue"
	"github.com/yairfalse/scantag/internal/telemetry"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Consume scan results from the queue",
	Long: `Run scantag as a long-lived queue consumer.

The daemon long-polls the scan-result queue, applies each verdict, and
settles the message: processed messages are deleted, retryable failures
are released after the retry delay, and everything else is left for the
queue's redrive policy.

Endpoints (when [metrics] is enabled):
- /metrics  Prometheus exposition
- /health   daemon health as JSON`,
	Example: `  scantag serve -c scantag.toml
  SCAN_RESULTS_QUEUE_URL=https://sqs... QUARANTINE_BUCKET=quarantine scantag serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	if err := cfg.ValidateServe(); err != nil {
		return err
	}
	ctx := cmd.Context()

	tp, err := telemetry.NewProvider(ctx, telemetry.Options{OTEL: cfg.OTEL, Prometheus: cfg.Metrics.Enabled})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Queue.ShutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("telemetry shutdown")
		}
	}()

	st, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()

	proc, err := buildProcessor(cfg, st)
	if err != nil {
		return err
	}
	proc.Tracer = tp.Tracer()

	src, err := queue.NewSQS(ctx, queueConfig(cfg))
	if err != nil {
		return err
	}

	emit, err := buildEmitter(cfg.Tagging.LogChanges)
	if err != nil {
		return err
	}
	defer func() { _ = emit.Close() }()

	metrics, err := daemon.NewDaemonMetrics()
	if err != nil {
		return err
	}

	d, err := daemon.NewDaemon(daemon.Config{
		Workers:    cfg.Queue.Workers,
		RetryDelay: cfg.Queue.RetryDelay,
	}, src, proc, emit, metrics)
	if err != nil {
		return err
	}

	log.Info().
		Str("queue", cfg.Queue.URL).
		Str("store", cfg.Store.Backend).
		Str("quarantine", cfg.Quarantine.Bucket).
		Bool("delete_source", cfg.Quarantine.DeleteSource).
		Int("workers", cfg.Queue.Workers).
		Msg("scantag starting")

	var g run.Group
	g.Add(run.SignalHandler(ctx, syscall.SIGINT, syscall.SIGTERM))
	{
		dctx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return d.Start(dctx)
		}, func(error) {
			cancel()
		})
	}
	if cfg.Metrics.Enabled {
		srv := &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           newMux(tp.Handler(), d.HealthHandler()),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Add(func() error {
			log.Info().Str("addr", srv.Addr).Msg("starting metrics server")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		}, func(error) {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Queue.ShutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		})
	}

	err = g.Run()
	var sigErr run.SignalError
	if errors.As(err, &sigErr) {
		log.Info().Str("signal", sigErr.Signal.String()).Msg("shutting down")
		return nil
	}
	return err
}

// queueConfig shares the store's region and credentials with the consumer.
func queueConfig(cfg *config.Config) queue.Config {
	return queue.Config{
		URL:         cfg.Queue.URL,
		Region:      cfg.Store.Region,
		Profile:     cfg.Store.Profile,
		Endpoint:    cfg.Queue.Endpoint,
		AccessKey:   cfg.Store.AccessKey,
		SecretKey:   cfg.Store.SecretKey,
		MaxMessages: cfg.Queue.MaxMessages,
		WaitTime:    cfg.Queue.WaitTime,
		Visibility:  cfg.Queue.Visibility,
	}
}

func newMux(metrics, health http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics)
	mux.Handle("/health", health)
	return mux
}

// buildEmitter fans outcomes out to metrics and the log.
func buildEmitter(logChanges bool) (emitter.Emitter, error) {
	metricsEmitter, err := emitter.NewMetricsEmitter()
	if err != nil {
		return nil, err
	}
	return emitter.NewMultiEmitter(metricsEmitter, &emitter.LogEmitter{Changes: logChanges}), nil
}
