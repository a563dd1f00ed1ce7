package core

import (
	"context"
	"time"
)

// EventType names a lifecycle event of a run.
type EventType string

const (
	EventRunStarted   EventType = "run_started"
	EventStart        EventType = "start"
	EventSuccess      EventType = "success"
	EventRetry        EventType = "retry"
	EventFailure      EventType = "failure"
	EventRunCompleted EventType = "run_completed"
	EventRunFailed    EventType = "run_failed"
)

// Event is one record of the structured event log. Section events carry the
// index and the 1-based attempt; run events carry the index reached.
type Event struct {
	RunID        string     `json:"run_id"`
	Type         EventType  `json:"type"`
	SectionIndex int        `json:"section_index"`
	Attempt      int        `json:"attempt,omitempty"`
	Timestamp    time.Time  `json:"timestamp"`
	Error        string     `json:"error,omitempty"`
	Length       int        `json:"length,omitempty"`
	RetryDelayMs int64      `json:"retry_delay_ms,omitempty"`
	StopReason   StopReason `json:"stop_reason,omitempty"`
}

// Sink receives the event stream of a run and its final outcome. Sink
// errors are logged and never change the outcome of a run.
type Sink interface {
	RecordEvent(ctx context.Context, e Event) error
	Finalize(ctx context.Context, story *FinalStory) error
}

// Checkpointer is implemented by sinks that persist accepted sections as the
// run goes, so an interrupted run can be restored.
type Checkpointer interface {
	Checkpoint(ctx context.Context, runID string, sections []Section) error
}

// Exchange is one prompt sent to the backend and what came back.
type Exchange struct {
	RunID        string    `json:"run_id"`
	SectionIndex int       `json:"section_index"`
	Attempt      int       `json:"attempt"`
	Timestamp    time.Time `json:"timestamp"`
	DurationMs   int64     `json:"duration_ms"`
	Prompt       string    `json:"prompt"`
	Response     string    `json:"response,omitempty"`
	Thinking     string    `json:"thinking,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// Transcriber is implemented by sinks that keep every backend exchange,
// failed ones included.
type Transcriber interface {
	RecordExchange(ctx context.Context, ex Exchange) error
}

type nopSink struct{}

func (nopSink) RecordEvent(context.Context, Event) error     { return nil }
func (nopSink) Finalize(context.Context, *FinalStory) error { return nil }
