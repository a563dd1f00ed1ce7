// Package output persists generated stories: the story text, a metadata
// record, the structured event log and resumable checkpoints.
package output

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vampirenirmal/novelgen/internal/core"
	"github.com/vampirenirmal/novelgen/internal/storage"
)

const (
	StoryFile      = "story.txt"
	MetadataFile   = "metadata.json"
	EventsFile     = "events.jsonl"
	CheckpointFile = "checkpoint.json"
	RawLogFile     = "raw.jsonl"
)

// FileSink writes one run into a directory of a Storage.
type FileSink struct {
	store   storage.Storage
	dir     string
	backend string
	rawLog  bool
	logger  *slog.Logger
}

type FileSinkOption func(*FileSink)

// WithBackend records the LLM backend name in the metadata.
func WithBackend(name string) FileSinkOption {
	return func(s *FileSink) {
		s.backend = name
	}
}

// WithRawLog keeps every prompt and response in raw.jsonl.
func WithRawLog(enabled bool) FileSinkOption {
	return func(s *FileSink) {
		s.rawLog = enabled
	}
}

func WithLogger(logger *slog.Logger) FileSinkOption {
	return func(s *FileSink) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewFileSink writes into dir, a path relative to store.
func NewFileSink(store storage.Storage, dir string, opts ...FileSinkOption) *FileSink {
	s := &FileSink{
		store:  store,
		dir:    dir,
		logger: slog.Default().With("component", "output"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir is the run directory relative to the storage root.
func (s *FileSink) Dir() string {
	return s.dir
}

func (s *FileSink) path(name string) string {
	return path.Join(s.dir, name)
}

// RecordEvent appends e to the event log as one JSON line.
func (s *FileSink) RecordEvent(ctx context.Context, e core.Event) error {
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	line = append(line, '\n')

	if err := s.store.Append(ctx, s.path(EventsFile), line); err != nil {
		return fmt.Errorf("appending event: %w", err)
	}
	return nil
}

// RecordExchange appends one backend exchange to raw.jsonl when the raw
// log is enabled.
func (s *FileSink) RecordExchange(ctx context.Context, ex core.Exchange) error {
	if !s.rawLog {
		return nil
	}

	line, err := json.Marshal(ex)
	if err != nil {
		return fmt.Errorf("marshaling exchange: %w", err)
	}
	if err := s.store.Append(ctx, s.path(RawLogFile), append(line, '\n')); err != nil {
		return fmt.Errorf("appending exchange: %w", err)
	}
	return nil
}

// Metadata is the summary record written next to the story.
type Metadata struct {
	RunID             string                `json:"run_id"`
	Phase             core.Phase            `json:"phase"`
	StopReason        core.StopReason       `json:"stop_reason,omitempty"`
	Error             string                `json:"error,omitempty"`
	SectionsGenerated int                   `json:"sections_generated"`
	CurrentLength     int                   `json:"current_length"`
	StartedAt         time.Time             `json:"started_at"`
	FinishedAt        time.Time             `json:"finished_at"`
	DurationSeconds   float64               `json:"duration_seconds"`
	Backend           string                `json:"llm_type,omitempty"`
	Setting           core.StorySetting     `json:"story_setting"`
	Config            core.GenerationConfig `json:"config"`
	Sections          []SectionMetadata     `json:"sections"`
	FailedAttempts    []core.Section        `json:"failed_attempts,omitempty"`
}

type SectionMetadata struct {
	Index     int       `json:"index"`
	Length    int       `json:"length"`
	Attempt   int       `json:"attempt"`
	Truncated bool      `json:"truncated,omitempty"`
	Summary   string    `json:"summary,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewMetadata builds the metadata record of a finished story.
func NewMetadata(story *core.FinalStory, backend string) Metadata {
	m := Metadata{
		RunID:             story.RunID,
		Phase:             story.Phase,
		StopReason:        story.StopReason,
		SectionsGenerated: len(story.Sections),
		CurrentLength:     story.Length(),
		StartedAt:         story.StartedAt,
		FinishedAt:        story.FinishedAt,
		DurationSeconds:   story.FinishedAt.Sub(story.StartedAt).Seconds(),
		Backend:           backend,
		Setting:           story.Setting,
		Config:            story.Config,
		Sections:          make([]SectionMetadata, 0, len(story.Sections)),
		FailedAttempts:    story.Attempts,
	}
	if story.Err != nil {
		m.Error = story.Err.Error()
	}
	for _, sec := range story.Sections {
		m.Sections = append(m.Sections, SectionMetadata{
			Index:     sec.Index,
			Length:    len([]rune(sec.Text)),
			Attempt:   sec.Attempt,
			Truncated: sec.Truncated,
			Summary:   sec.Summary,
			CreatedAt: sec.CreatedAt,
		})
	}
	return m
}

// Finalize writes the story text and metadata. A failed run still gets
// both, holding whatever sections were accepted.
func (s *FileSink) Finalize(ctx context.Context, story *core.FinalStory) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		text := story.Text()
		if text != "" {
			text += "\n"
		}
		if err := s.store.Save(ctx, s.path(StoryFile), []byte(text)); err != nil {
			return fmt.Errorf("saving story: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		data, err := json.MarshalIndent(NewMetadata(story, s.backend), "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling metadata: %w", err)
		}
		if err := s.store.Save(ctx, s.path(MetadataFile), data); err != nil {
			return fmt.Errorf("saving metadata: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	s.logger.Info("Story written",
		"dir", s.dir,
		"sections", len(story.Sections),
		"phase", story.Phase)
	return nil
}

// Checkpoint is the resumable state of a run.
type Checkpoint struct {
	RunID     string         `json:"run_id"`
	NextIndex int            `json:"next_index"`
	Timestamp time.Time      `json:"timestamp"`
	Sections  []core.Section `json:"sections"`
}

// Checkpoint overwrites the run checkpoint with the accepted sections.
func (s *FileSink) Checkpoint(ctx context.Context, runID string, sections []core.Section) error {
	cp := Checkpoint{
		RunID:     runID,
		NextIndex: len(sections),
		Timestamp: time.Now(),
		Sections:  sections,
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling checkpoint: %w", err)
	}
	return s.store.Save(ctx, s.path(CheckpointFile), data)
}

// LoadCheckpoint reads the checkpoint of the run directory.
func (s *FileSink) LoadCheckpoint(ctx context.Context) (*Checkpoint, error) {
	data, err := s.store.Load(ctx, s.path(CheckpointFile))
	if err != nil {
		return nil, fmt.Errorf("loading checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("unmarshaling checkpoint: %w", err)
	}
	if cp.NextIndex != len(cp.Sections) {
		return nil, fmt.Errorf("corrupt checkpoint: next index %d with %d sections", cp.NextIndex, len(cp.Sections))
	}
	return &cp, nil
}

// LatestCheckpoint finds the most recently written checkpoint among the
// session directories of store and returns its directory.
func LatestCheckpoint(ctx context.Context, store storage.Storage) (string, error) {
	paths, err := store.List(ctx, path.Join("sessions", "*", CheckpointFile))
	if err != nil {
		return "", fmt.Errorf("listing checkpoints: %w", err)
	}

	var (
		latest string
		newest time.Time
	)
	for _, p := range paths {
		data, err := store.Load(ctx, p)
		if err != nil {
			continue
		}
		var cp Checkpoint
		if err := json.Unmarshal(data, &cp); err != nil {
			continue
		}
		if latest == "" || cp.Timestamp.After(newest) {
			latest, newest = path.Dir(filepath.ToSlash(p)), cp.Timestamp
		}
	}
	if latest == "" {
		return "", fmt.Errorf("no checkpoint found under sessions/")
	}
	return latest, nil
}
