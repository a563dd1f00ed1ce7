package core

import (
	"fmt"
	"strings"
	"time"

	ngerrors "github.com/vampirenirmal/novelgen/pkg/novelgen/errors"
)

// Phase is the lifecycle position of a run.
type Phase string

const (
	PhaseNotStarted Phase = "not_started"
	PhaseInProgress Phase = "in_progress"
	PhaseCompleted  Phase = "completed"
	PhaseFailed     Phase = "failed"
)

func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// StopReason explains why the planner ended a run.
type StopReason string

const (
	StopMaxSections       StopReason = "max_sections_reached"
	StopNarrativeComplete StopReason = "narrative_complete"
)

// TargetLength is the semantic length class of the whole story.
type TargetLength string

const (
	LengthShort  TargetLength = "short"
	LengthMedium TargetLength = "medium"
	LengthLong   TargetLength = "long"
)

// ParseTargetLength accepts a length label in any case.
func ParseTargetLength(s string) (TargetLength, error) {
	switch l := TargetLength(strings.ToLower(strings.TrimSpace(s))); l {
	case LengthShort, LengthMedium, LengthLong:
		return l, nil
	default:
		return "", fmt.Errorf("unknown target length %q", s)
	}
}

// DefaultSectionBudget is the per-section rune budget used when none is
// configured.
func (l TargetLength) DefaultSectionBudget() int {
	switch l {
	case LengthShort:
		return 1500
	case LengthLong:
		return 4500
	default:
		return 3000
	}
}

func (l TargetLength) guidance() string {
	switch l {
	case LengthShort:
		return "This is a short story. Keep scenes tight and move the plot briskly."
	case LengthLong:
		return "This is a long novel. Give scenes room to breathe and develop subplots patiently."
	default:
		return "This is a medium-length story. Balance scene detail with steady plot progress."
	}
}

// StorySetting is the immutable premise of a story.
type StorySetting struct {
	Premise     string `json:"premise"`
	Protagonist string `json:"protagonist,omitempty"`
	Theme       string `json:"theme,omitempty"`
}

func (s StorySetting) Validate() error {
	if strings.TrimSpace(s.Premise) == "" {
		return ngerrors.MissingKey("story_setting")
	}
	return nil
}

// GenerationConfig bounds a run.
type GenerationConfig struct {
	MaxSections  int          `json:"max_sections"`
	TargetLength TargetLength `json:"target_length"`
	// SectionBudget caps one section in runes; zero means the length class default.
	SectionBudget    int    `json:"section_budget,omitempty"`
	SectionDelimiter string `json:"-"`
}

func (c GenerationConfig) Validate() error {
	if c.MaxSections <= 0 {
		return ngerrors.InvalidKey("generation.max_sections", fmt.Sprintf("must be greater than 0, got %d", c.MaxSections))
	}
	if _, err := ParseTargetLength(string(c.TargetLength)); err != nil {
		if c.TargetLength == "" {
			return ngerrors.MissingKey("generation.length")
		}
		return ngerrors.InvalidKey("generation.length", err.Error())
	}
	if c.SectionBudget < 0 {
		return ngerrors.InvalidKey("generation.section_budget", "must not be negative")
	}
	return nil
}

// Budget returns the effective per-section rune budget.
func (c GenerationConfig) Budget() int {
	if c.SectionBudget > 0 {
		return c.SectionBudget
	}
	return c.TargetLength.DefaultSectionBudget()
}

func (c GenerationConfig) delimiter() string {
	if c.SectionDelimiter == "" {
		return "\n\n"
	}
	return c.SectionDelimiter
}

// SectionStatus is the acceptance state of one generation attempt.
type SectionStatus string

const (
	SectionAccepted SectionStatus = "accepted"
	SectionRejected SectionStatus = "rejected"
	SectionRetried  SectionStatus = "retried"
)

// Section is one generated narrative unit. Accepted sections are never
// modified.
type Section struct {
	Index       int           `json:"index"`
	Text        string        `json:"text,omitempty"`
	// Raw is the model response without its reasoning blocks. The closure
	// reads it, so it is kept in checkpoints.
	Raw         string        `json:"raw,omitempty"`
	Summary     string        `json:"summary,omitempty"`
	Progress    int           `json:"progress,omitempty"`
	HasProgress bool          `json:"-"`
	Status      SectionStatus `json:"status"`
	Attempt     int           `json:"attempt"`
	Truncated   bool          `json:"truncated,omitempty"`
	Error       string        `json:"error,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// FinalStory is the outcome of a run, complete or not.
type FinalStory struct {
	RunID      string           `json:"run_id"`
	Setting    StorySetting     `json:"story_setting"`
	Config     GenerationConfig `json:"config"`
	Phase      Phase            `json:"phase"`
	StopReason StopReason       `json:"stop_reason,omitempty"`
	Sections   []Section        `json:"sections"`
	// Attempts lists every retried or rejected attempt of the run.
	Attempts   []Section `json:"attempts,omitempty"`
	Err        error     `json:"-"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Text joins the accepted sections in index order.
func (f *FinalStory) Text() string {
	parts := make([]string, len(f.Sections))
	for i, s := range f.Sections {
		parts[i] = s.Text
	}
	return strings.Join(parts, f.Config.delimiter())
}

// Length is the story length in runes, delimiters excluded.
func (f *FinalStory) Length() int {
	n := 0
	for _, s := range f.Sections {
		n += len([]rune(s.Text))
	}
	return n
}
