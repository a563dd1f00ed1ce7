package output

import (
	"context"
	"errors"

	"github.com/vampirenirmal/novelgen/internal/core"
)

// MultiSink fans every call out to each sink and joins their errors.
type MultiSink []core.Sink

func (m MultiSink) RecordEvent(ctx context.Context, e core.Event) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.RecordEvent(ctx, e))
	}
	return errors.Join(errs...)
}

func (m MultiSink) Finalize(ctx context.Context, story *core.FinalStory) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Finalize(ctx, story))
	}
	return errors.Join(errs...)
}

// Checkpoint forwards to the sinks that keep checkpoints.
func (m MultiSink) Checkpoint(ctx context.Context, runID string, sections []core.Section) error {
	var errs []error
	for _, s := range m {
		if cp, ok := s.(core.Checkpointer); ok {
			errs = append(errs, cp.Checkpoint(ctx, runID, sections))
		}
	}
	return errors.Join(errs...)
}

// RecordExchange forwards to the sinks that keep a transcript.
func (m MultiSink) RecordExchange(ctx context.Context, ex core.Exchange) error {
	var errs []error
	for _, s := range m {
		if t, ok := s.(core.Transcriber); ok {
			errs = append(errs, t.RecordExchange(ctx, ex))
		}
	}
	return errors.Join(errs...)
}
