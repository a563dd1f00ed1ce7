package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vampirenirmal/novelgen/internal/agent"
	"github.com/vampirenirmal/novelgen/pkg/metrics"
	ngerrors "github.com/vampirenirmal/novelgen/pkg/novelgen/errors"
)

var tracer = otel.Tracer("github.com/vampirenirmal/novelgen/internal/core")

var (
	// ErrRunInProgress is returned when Start, Reset, Reopen or Restore is
	// called while a run executes.
	ErrRunInProgress = errors.New("a run is already in progress")

	// ErrRunFinished is returned by Start after a run reached a terminal
	// phase. Reset or Reopen first.
	ErrRunFinished = errors.New("run already finished, reset before starting again")
)

// Orchestrator drives one story from its setting to a finished text, one
// section at a time. The run loop is the only writer of the narrative
// state; Status reads the last published snapshot and never blocks.
type Orchestrator struct {
	setting      StorySetting
	cfg          GenerationConfig
	client       agent.Client
	planner      *Planner
	retry        RetryPolicy
	sink         Sink
	logger       *slog.Logger
	digestBudget int
	markers      []string
	now          func() time.Time

	running  atomic.Bool
	snapshot atomic.Pointer[Snapshot]

	// Owned by whoever holds running.
	state       *NarrativeState
	initialized bool
	phase       Phase
	runID       string
	maxSections int
	stopReason  StopReason
	lastErr     error
	attempts    []Section
	startedAt   time.Time
}

type Option func(*Orchestrator)

func WithPlanner(p *Planner) Option {
	return func(o *Orchestrator) {
		if p != nil {
			o.planner = p
		}
	}
}

func WithRetryPolicy(p RetryPolicy) Option {
	return func(o *Orchestrator) {
		o.retry = p
	}
}

func WithSink(s Sink) Option {
	return func(o *Orchestrator) {
		if s != nil {
			o.sink = s
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithDigestBudget bounds the continuity digest in runes.
func WithDigestBudget(runes int) Option {
	return func(o *Orchestrator) {
		if runes > 0 {
			o.digestBudget = runes
		}
	}
}

// WithMarkers sets the end markers removed from accepted text. Pass none
// to keep the text as written.
func WithMarkers(markers ...string) Option {
	return func(o *Orchestrator) {
		o.markers = markers
	}
}

// WithRunID fixes the identifier of the next run instead of generating one.
func WithRunID(id string) Option {
	return func(o *Orchestrator) {
		o.runID = id
	}
}

// StartOption overrides generation settings for one run.
type StartOption func(*GenerationConfig)

func WithMaxSections(n int) StartOption {
	return func(c *GenerationConfig) {
		c.MaxSections = n
	}
}

func WithTargetLength(l TargetLength) StartOption {
	return func(c *GenerationConfig) {
		c.TargetLength = l
	}
}

func New(setting StorySetting, cfg GenerationConfig, client agent.Client, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		setting:      setting,
		cfg:          cfg,
		client:       client,
		planner:      NewPlanner(),
		retry:        DefaultRetryPolicy(),
		sink:         nopSink{},
		logger:       slog.Default().With("component", "orchestrator"),
		digestBudget: DefaultDigestBudget,
		markers:      DefaultMarkers(),
		now:          time.Now,
		state:        NewNarrativeState(),
		phase:        PhaseNotStarted,
		maxSections:  cfg.MaxSections,
	}

	for _, opt := range opts {
		opt(o)
	}

	o.publish()
	return o
}

// Status returns the status of the current or last run.
func (o *Orchestrator) Status() GenerationStatus {
	return Project(*o.snapshot.Load())
}

// Sections returns the accepted sections as of the last published snapshot.
func (o *Orchestrator) Sections() []Section {
	return o.snapshot.Load().Sections
}

// RunID identifies the current or last run. It is empty before the first
// Start unless set with WithRunID or Restore.
func (o *Orchestrator) RunID() string {
	return o.snapshot.Load().RunID
}

// Reset discards the narrative state and returns to not_started.
func (o *Orchestrator) Reset() error {
	if !o.running.CompareAndSwap(false, true) {
		return ErrRunInProgress
	}
	defer o.running.Store(false)

	o.state.Reset()
	o.phase = PhaseNotStarted
	o.runID = ""
	o.maxSections = o.cfg.MaxSections
	o.stopReason = ""
	o.lastErr = nil
	o.attempts = nil
	o.publish()
	return nil
}

// Reopen returns a finished run to not_started while keeping its accepted
// sections, so the next Start continues the same story.
func (o *Orchestrator) Reopen() error {
	if !o.running.CompareAndSwap(false, true) {
		return ErrRunInProgress
	}
	defer o.running.Store(false)

	o.phase = PhaseNotStarted
	o.stopReason = ""
	o.lastErr = nil
	o.publish()
	return nil
}

// Restore replaces the narrative state with previously accepted sections,
// typically read back from a checkpoint, and adopts runID.
func (o *Orchestrator) Restore(runID string, sections []Section) error {
	if !o.running.CompareAndSwap(false, true) {
		return ErrRunInProgress
	}
	defer o.running.Store(false)

	state := NewNarrativeState()
	for _, s := range sections {
		s.Status = SectionAccepted
		s.HasProgress = s.HasProgress || s.Progress > 0
		if err := state.Accept(s, o.digestBudget); err != nil {
			return fmt.Errorf("restoring section %d: %w", s.Index, err)
		}
	}

	o.state = state
	o.runID = runID
	o.phase = PhaseNotStarted
	o.stopReason = ""
	o.lastErr = nil
	o.attempts = nil
	o.publish()
	return nil
}

// Start runs the section loop until the planner stops it or a section fails
// for good. The returned story holds every accepted section, also when the
// run failed; the error is the cause of the failure.
func (o *Orchestrator) Start(ctx context.Context, opts ...StartOption) (*FinalStory, error) {
	if !o.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer o.running.Store(false)

	if o.phase.Terminal() {
		return nil, ErrRunFinished
	}

	cfg := o.cfg
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := o.setting.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if o.runID == "" {
		o.runID = uuid.New().String()
	}
	o.phase = PhaseInProgress
	o.maxSections = cfg.MaxSections
	o.stopReason = ""
	o.lastErr = nil
	o.attempts = nil
	o.startedAt = o.now()
	o.publish()

	logger := o.logger.With("run_id", o.runID)

	ctx, span := tracer.Start(ctx, "novelgen.run", trace.WithAttributes(
		attribute.String("run.id", o.runID),
		attribute.Int("run.max_sections", cfg.MaxSections),
		attribute.String("run.target_length", string(cfg.TargetLength)),
	))
	defer span.End()

	logger.Info("Starting story generation",
		"max_sections", cfg.MaxSections,
		"length", cfg.TargetLength,
		"resume_from", o.state.Index())
	o.emit(ctx, Event{Type: EventRunStarted, SectionIndex: o.state.Index()})

	stop, runErr := o.run(ctx, logger, cfg)

	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
	}
	return o.finish(ctx, logger, cfg, stop, runErr)
}

func (o *Orchestrator) run(ctx context.Context, logger *slog.Logger, cfg GenerationConfig) (StopReason, error) {
	if !o.initialized {
		if err := o.client.Initialize(ctx); err != nil {
			logger.Error("Client initialization failed", "error", err)
			o.emit(ctx, Event{Type: EventFailure, SectionIndex: o.state.Index(), Error: err.Error()})
			return "", err
		}
		o.initialized = true
	}

	for {
		if err := ctx.Err(); err != nil {
			logger.Warn("Run cancelled between sections", "section", o.state.Index(), "error", err)
			return "", err
		}

		plan, err := o.planner.PlanNext(o.setting, o.state, cfg)
		if err != nil {
			return "", ngerrors.Fatal(err)
		}
		if plan.Stop {
			logger.Info("Planner stopped generation", "reason", plan.Reason, "sections", plan.Index)
			return plan.Reason, nil
		}

		section, err := o.generateSection(ctx, logger, cfg, plan)
		if err != nil {
			return "", err
		}

		if err := o.state.Accept(section, o.digestBudget); err != nil {
			return "", ngerrors.Fatal(err)
		}
		o.publish()
		o.checkpoint(ctx, logger)
	}
}

// generateSection calls the client for one section index until a response
// is accepted or the attempt budget is spent. Nothing here touches the
// narrative state.
func (o *Orchestrator) generateSection(ctx context.Context, logger *slog.Logger, cfg GenerationConfig, plan Plan) (Section, error) {
	ctx, span := tracer.Start(ctx, "novelgen.section", trace.WithAttributes(
		attribute.Int("section.index", plan.Index),
		attribute.String("section.position", plan.Position),
	))
	defer span.End()

	began := o.now()
	maxAttempts := o.retry.attempts()

	for attempt := 1; ; attempt++ {
		o.emit(ctx, Event{Type: EventStart, SectionIndex: plan.Index, Attempt: attempt})
		logger.Debug("Generating section", "section", plan.Index, "attempt", attempt, "position", plan.Position)

		called := o.now()
		raw, err := o.client.Generate(ctx, plan.Prompt)
		o.transcribe(ctx, logger, plan, attempt, called, raw, err)

		var section Section
		if err == nil {
			section, err = o.accept(plan.Index, attempt, raw, cfg)
		}

		if err == nil {
			metrics.SectionAttemptsTotal.WithLabelValues(string(SectionAccepted)).Inc()
			metrics.SectionDuration.Observe(o.now().Sub(began).Seconds())
			metrics.SectionLength.Observe(float64(runeLen(section.Text)))
			if section.Truncated {
				metrics.SectionsTruncatedTotal.Inc()
			}

			o.emit(ctx, Event{
				Type:         EventSuccess,
				SectionIndex: plan.Index,
				Attempt:      attempt,
				Length:       runeLen(section.Text),
			})
			logger.Info("Section accepted",
				"section", plan.Index,
				"attempt", attempt,
				"length", runeLen(section.Text),
				"truncated", section.Truncated)
			span.SetAttributes(attribute.Int("section.attempts", attempt))
			return section, nil
		}

		// A cancelled context ends the section whatever the client reported.
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = fmt.Errorf("%w: %v", ctxErr, err)
		}

		canRetry := ctx.Err() == nil && retryable(err)
		if canRetry && attempt < maxAttempts {
			delay := o.retry.Delay(attempt, ngerrors.RetryAfter(err))
			o.recordAttempt(plan.Index, attempt, SectionRetried, err)
			metrics.SectionAttemptsTotal.WithLabelValues(string(SectionRetried)).Inc()

			o.emit(ctx, Event{
				Type:         EventRetry,
				SectionIndex: plan.Index,
				Attempt:      attempt,
				Error:        err.Error(),
				RetryDelayMs: delay.Milliseconds(),
			})
			logger.Warn("Section attempt failed, retrying",
				"section", plan.Index,
				"attempt", attempt,
				"max_attempts", maxAttempts,
				"delay", delay,
				"error", err)

			if serr := sleep(ctx, delay); serr != nil {
				return Section{}, o.sectionFailed(ctx, span, plan.Index, attempt, false, serr)
			}
			continue
		}

		o.recordAttempt(plan.Index, attempt, SectionRejected, err)
		metrics.SectionAttemptsTotal.WithLabelValues(string(SectionRejected)).Inc()
		return Section{}, o.sectionFailed(ctx, span, plan.Index, attempt, canRetry, err)
	}
}

// accept turns a raw response into a section, or reports why it cannot be
// used. Oversized text is cut back at a sentence boundary.
func (o *Orchestrator) accept(index, attempt int, raw string, cfg GenerationConfig) (Section, error) {
	parsed := ParseResponse(raw)
	text := StripMarkers(strings.TrimSpace(parsed.Text), o.markers)
	if text == "" {
		return Section{}, &ngerrors.SectionAcceptanceError{
			Index:    index,
			Attempts: attempt,
			Reason:   "response contained no narrative text",
		}
	}

	text, truncated := TruncateAtSentence(text, cfg.Budget())

	return Section{
		Index:       index,
		Text:        text,
		Raw:         parsed.Cleaned,
		Summary:     parsed.Summary,
		Progress:    parsed.Progress,
		HasProgress: parsed.HasProgress,
		Status:      SectionAccepted,
		Attempt:     attempt,
		Truncated:   truncated,
		CreatedAt:   o.now(),
	}, nil
}

// transcribe hands one backend exchange to sinks that keep a transcript.
func (o *Orchestrator) transcribe(ctx context.Context, logger *slog.Logger, plan Plan, attempt int, called time.Time, raw string, callErr error) {
	t, ok := o.sink.(Transcriber)
	if !ok {
		return
	}

	ex := Exchange{
		RunID:        o.runID,
		SectionIndex: plan.Index,
		Attempt:      attempt,
		Timestamp:    called,
		DurationMs:   o.now().Sub(called).Milliseconds(),
		Prompt:       plan.Prompt,
		Response:     raw,
		Thinking:     extractThinking(raw),
	}
	if callErr != nil {
		ex.Error = callErr.Error()
	}
	if err := t.RecordExchange(context.WithoutCancel(ctx), ex); err != nil {
		logger.Warn("Failed to record exchange", "section", plan.Index, "attempt", attempt, "error", err)
	}
}

func (o *Orchestrator) sectionFailed(ctx context.Context, span trace.Span, index, attempt int, exhausted bool, cause error) error {
	failure := &ngerrors.SectionFailure{
		Index:     index,
		Attempt:   attempt,
		Exhausted: exhausted,
		Cause:     cause,
		Timestamp: o.now(),
	}

	o.emit(ctx, Event{
		Type:         EventFailure,
		SectionIndex: index,
		Attempt:      attempt,
		Error:        failure.Error(),
	})
	span.RecordError(failure)
	span.SetStatus(codes.Error, failure.Error())
	return failure
}

func (o *Orchestrator) recordAttempt(index, attempt int, status SectionStatus, err error) {
	o.attempts = append(o.attempts, Section{
		Index:     index,
		Status:    status,
		Attempt:   attempt,
		Error:     err.Error(),
		CreatedAt: o.now(),
	})
}

func (o *Orchestrator) finish(ctx context.Context, logger *slog.Logger, cfg GenerationConfig, stop StopReason, runErr error) (*FinalStory, error) {
	o.phase = PhaseCompleted
	if runErr != nil {
		o.phase = PhaseFailed
	}
	o.stopReason = stop
	o.lastErr = runErr
	o.publish()

	story := &FinalStory{
		RunID:      o.runID,
		Setting:    o.setting,
		Config:     cfg,
		Phase:      o.phase,
		StopReason: stop,
		Sections:   o.state.Sections(),
		Attempts:   o.attempts,
		Err:        runErr,
		StartedAt:  o.startedAt,
		FinishedAt: o.now(),
	}

	metrics.RunsTotal.WithLabelValues(string(o.phase), string(stop)).Inc()
	metrics.RunDuration.Observe(story.FinishedAt.Sub(story.StartedAt).Seconds())

	final := Event{
		Type:         EventRunCompleted,
		SectionIndex: o.state.Index(),
		StopReason:   stop,
	}
	if runErr != nil {
		final.Type = EventRunFailed
		final.Error = runErr.Error()
		logger.Error("Story generation failed",
			"sections", len(story.Sections),
			"error", runErr)
	} else {
		logger.Info("Story generation completed",
			"sections", len(story.Sections),
			"length", story.Length(),
			"reason", stop)
	}
	o.emit(ctx, final)

	if err := o.sink.Finalize(context.WithoutCancel(ctx), story); err != nil {
		logger.Error("Failed to finalize output", "error", err)
		if runErr == nil {
			return story, fmt.Errorf("finalizing output: %w", err)
		}
	}
	return story, runErr
}

func (o *Orchestrator) checkpoint(ctx context.Context, logger *slog.Logger) {
	cp, ok := o.sink.(Checkpointer)
	if !ok {
		return
	}
	if err := cp.Checkpoint(context.WithoutCancel(ctx), o.runID, o.state.Sections()); err != nil {
		logger.Warn("Failed to write checkpoint", "section", o.state.Index()-1, "error", err)
	}
}

// emit stamps and forwards an event. Sink failures are logged only.
func (o *Orchestrator) emit(ctx context.Context, e Event) {
	e.RunID = o.runID
	e.Timestamp = o.now()
	if err := o.sink.RecordEvent(context.WithoutCancel(ctx), e); err != nil {
		o.logger.Warn("Failed to record event", "type", e.Type, "section", e.SectionIndex, "error", err)
	}
}

func (o *Orchestrator) publish() {
	o.snapshot.Store(&Snapshot{
		RunID:        o.runID,
		Phase:        o.phase,
		SectionIndex: o.state.Index(),
		MaxSections:  o.maxSections,
		StopReason:   o.stopReason,
		LastError:    o.lastErr,
		Sections:     o.state.Sections(),
	})
}
