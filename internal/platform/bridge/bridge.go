// Package bridge forwards public board snapshots to signage hardware over
// message brokers.
package bridge

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// Sink receives every public board snapshot.
type Sink interface {
	Name() string
	Publish(ctx context.Context, payload []byte) error
	Close() error
}

// Fanout publishes to every configured sink. A failing sink is logged and
// does not hold up the others.
type Fanout struct {
	sinks  []Sink
	logger zerolog.Logger
}

func NewFanout(logger zerolog.Logger, sinks ...Sink) *Fanout {
	return &Fanout{sinks: sinks, logger: logger.With().Str("component", "bridge").Logger()}
}

// Add registers another sink.
func (f *Fanout) Add(s Sink) {
	f.sinks = append(f.sinks, s)
}

// Len returns the number of sinks.
func (f *Fanout) Len() int {
	return len(f.sinks)
}

func (f *Fanout) Publish(ctx context.Context, payload []byte) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Publish(ctx, payload); err != nil {
			f.logger.Error().Err(err).Str("sink", s.Name()).Msg("failed to publish board")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *Fanout) Close() error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
