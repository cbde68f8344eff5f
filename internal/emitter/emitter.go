// Package emitter defines where processing outcomes are reported.
package emitter

import (
	"context"

	"github.com/yairfalse/scantag/pkg/object"
)

// Emitter reports processed outcomes to a backend.
type Emitter interface {
	// Emit reports one outcome.
	Emit(ctx context.Context, out object.Outcome) error

	// Close cleans up resources.
	Close() error
}

// MultiEmitter fans out to multiple emitters.
type MultiEmitter struct {
	emitters []Emitter
}

// NewMultiEmitter creates an emitter that sends to multiple backends.
func NewMultiEmitter(emitters ...Emitter) *MultiEmitter {
	return &MultiEmitter{emitters: emitters}
}

// Emit sends to all emitters, returns first error.
func (m *MultiEmitter) Emit(ctx context.Context, out object.Outcome) error {
	for _, e := range m.emitters {
		if err := e.Emit(ctx, out); err != nil {
			return err
		}
	}
	return nil
}

// Close closes all emitters.
func (m *MultiEmitter) Close() error {
	for _, e := range m.emitters {
		if err := e.Close(); err != nil {
			return err
		}
	}
	return nil
}
