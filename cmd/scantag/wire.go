package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/scantag/internal/config"
	"github.com/yairfalse/scantag/internal/filter"
	"github.com/yairfalse/scantag/internal/processor"
	"github.com/yairfalse/scantag/internal/quarantine"
	"github.com/yairfalse/scantag/internal/sanitize"
	"github.com/yairfalse/scantag/internal/store"
	"github.com/yairfalse/scantag/internal/store/boltstore"
	"github.com/yairfalse/scantag/internal/store/memstore"
	"github.com/yairfalse/scantag/internal/store/s3store"
	"github.com/yairfalse/scantag/internal/tagging"
)

func setupLogging(cfg config.LogConfig, w io.Writer) error {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return fmt.Errorf("parse log level %q: %w", cfg.Level, err)
	}
	zerolog.SetGlobalLevel(level)

	switch cfg.Format {
	case "json":
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
		log.Logger = zerolog.New(w).With().Timestamp().Logger()
	case "console", "":
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: w})
	default:
		return fmt.Errorf("unknown log format %q", cfg.Format)
	}
	return nil
}

// openStore builds the configured object store. The returned close func is
// never nil.
func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Backend {
	case config.BackendMemory:
		return memstore.New(memstore.Options{}), noop, nil
	case config.BackendBolt:
		st, err := boltstore.Open(cfg.Path)
		if err != nil {
			return nil, noop, fmt.Errorf("open bolt store: %w", err)
		}
		return st, st.Close, nil
	case config.BackendS3:
		st, err := s3store.New(ctx, s3store.Config{
			Region:    cfg.Region,
			Profile:   cfg.Profile,
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			PathStyle: cfg.PathStyle,
		})
		if err != nil {
			return nil, noop, fmt.Errorf("open s3 store: %w", err)
		}
		return st, noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

func buildSchema(cfg config.TaggingConfig) (tagging.Schema, error) {
	style, err := tagging.ParseStyle(cfg.Style)
	if err != nil {
		return tagging.Schema{}, err
	}
	return tagging.NewSchema(style, sanitize.ForCharset(cfg.Charset)), nil
}

// buildProcessor wires the processor and its quarantine coordinator from cfg.
func buildProcessor(cfg *config.Config, st store.Store) (*processor.Processor, error) {
	schema, err := buildSchema(cfg.Tagging)
	if err != nil {
		return nil, err
	}

	p := &processor.Processor{
		Store:     st,
		Schema:    schema,
		MaxTags:   cfg.Tagging.MaxTags,
		Mandatory: cfg.Quarantine.Mandatory,
	}

	f := filter.New(cfg.Filter.ExcludeStores, cfg.Filter.IncludePrefixes, cfg.Filter.ExcludePrefixes)
	if !f.IsEmpty() {
		p.Filter = f
	}

	if cfg.Quarantine.Bucket == "" {
		if cfg.Quarantine.DeleteSource {
			log.Warn().Msg("delete_source set without a quarantine bucket, objects will not be moved")
		}
		return p, nil
	}

	policy, err := quarantine.ParsePolicy(cfg.Quarantine.Policy)
	if err != nil {
		return nil, err
	}
	p.Coordinator = &quarantine.Coordinator{
		Store:        st,
		Namespace:    cfg.Quarantine.Bucket,
		Policy:       policy,
		DeleteSource: cfg.Quarantine.DeleteSource,
		Poll: quarantine.PollPolicy{
			MaxAttempts: cfg.Quarantine.Poll.MaxAttempts,
			Delay:       cfg.Quarantine.Poll.Delay,
			Backoff:     cfg.Quarantine.Poll.Backoff,
		},
		Schema:  schema,
		MaxTags: cfg.Tagging.MaxTags,
	}
	return p, nil
}
