package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vampirenirmal/novelgen/internal/agent"
	"github.com/vampirenirmal/novelgen/internal/config"
	"github.com/vampirenirmal/novelgen/internal/core"
	"github.com/vampirenirmal/novelgen/internal/output"
	ngerrors "github.com/vampirenirmal/novelgen/pkg/novelgen/errors"
)

func testConfig(t *testing.T, dir string, extra string) *config.Config {
	t.Helper()
	doc := fmt.Sprintf(`
output_dir: %s
llm_type: mock
llm_config:
  model: test-model
story_setting: "A fox learns to read."
generation:
  max_sections: 3
  length: short
limits:
  retry:
    base_delay: 1ms
    max_delay: 2ms
%s`, dir, extra)

	cfg, err := config.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("config.Parse() error = %v", err)
	}
	return cfg
}

func fixedClock() func() time.Time {
	return func() time.Time { return time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC) }
}

func TestRunWritesSession(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	a, err := New(ctx, testConfig(t, dir, ""), withClock(fixedClock()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer a.Close()

	story, err := a.Run(ctx)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(story.Sections) != 3 || story.Phase != core.PhaseCompleted {
		t.Errorf("story: %d sections, phase %s", len(story.Sections), story.Phase)
	}

	if !strings.HasPrefix(a.Sink.Dir(), "sessions/2026-05-04_1030_a-fox-learns-to-read") {
		t.Errorf("session dir = %q", a.Sink.Dir())
	}
	for _, name := range []string{output.StoryFile, output.MetadataFile, output.EventsFile, output.CheckpointFile} {
		if _, err := os.Stat(filepath.Join(a.OutputDir(), name)); err != nil {
			t.Errorf("%s not written: %v", name, err)
		}
	}

	text, err := os.ReadFile(filepath.Join(a.OutputDir(), output.StoryFile))
	if err != nil {
		t.Fatal(err)
	}
	if string(text) != story.Text()+"\n" {
		t.Errorf("story.txt does not match the returned story")
	}
}

func TestRawOutputAndMarkers(t *testing.T) {
	ctx := context.Background()
	client := agent.NewMockClient(func(call int, _ string) (string, error) {
		if call == 2 {
			return "<thinking>Time to finish.</thinking><content>The fox closed the book.\n[END]</content>", nil
		}
		return "<content>The fox opened the book.</content>", nil
	})
	a, err := New(ctx, testConfig(t, t.TempDir(), "logging:\n  raw_output: true\n"), WithClient(client))
	if err != nil {
		t.Fatal(err)
	}

	story, err := a.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(story.Sections) != 2 || strings.Contains(story.Text(), "[END]") {
		t.Errorf("story = %d sections, text %q", len(story.Sections), story.Text())
	}

	raw, err := os.ReadFile(filepath.Join(a.OutputDir(), output.RawLogFile))
	if err != nil {
		t.Fatalf("raw log missing: %v", err)
	}
	if lines := strings.Count(string(raw), "\n"); lines != 2 {
		t.Errorf("raw log has %d lines, want 2", lines)
	}
	if !strings.Contains(string(raw), "Time to finish.") {
		t.Error("raw log lost the reasoning")
	}
}

func TestStartOverrides(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(t, t.TempDir(), ""))
	if err != nil {
		t.Fatal(err)
	}

	story, err := a.Run(ctx, core.WithMaxSections(1), core.WithTargetLength(core.LengthLong))
	if err != nil {
		t.Fatal(err)
	}
	if len(story.Sections) != 1 || story.Config.TargetLength != core.LengthLong {
		t.Errorf("overrides ignored: %d sections, %s", len(story.Sections), story.Config.TargetLength)
	}
}

func TestUnknownBackend(t *testing.T) {
	cfg := testConfig(t, t.TempDir(), "")
	cfg.LLMType = "gemini"

	_, err := New(context.Background(), cfg)

	var cfgErr *ngerrors.ConfigurationError
	if !errors.As(err, &cfgErr) || cfgErr.Key != "llm_type" {
		t.Fatalf("error = %v, want ConfigurationError for llm_type", err)
	}
	if !strings.Contains(err.Error(), "mock") {
		t.Errorf("error does not list supported types: %v", err)
	}
}

func TestHistoryDatabase(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(t, t.TempDir(), "history_db: db/history.db\n"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer a.Close()

	story, err := a.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}

	run, err := a.History.Run(ctx, story.RunID)
	if err != nil {
		t.Fatalf("history has no run: %v", err)
	}
	if run.Phase != string(core.PhaseCompleted) || run.Sections != 3 {
		t.Errorf("run = %+v", run)
	}
}

func TestResumeFromCheckpoint(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := testConfig(t, dir, "")

	failing := agent.NewMockClient(func(call int, _ string) (string, error) {
		if call == 2 {
			return "", ngerrors.Fatal(errors.New("quota exhausted"))
		}
		return "<content>The fox found a book.</content>", nil
	})
	first, err := New(ctx, cfg, WithClient(failing))
	if err != nil {
		t.Fatal(err)
	}
	failed, err := first.Run(ctx)
	if err == nil {
		t.Fatal("first run should fail")
	}
	if len(failed.Sections) != 1 {
		t.Fatalf("first run kept %d sections", len(failed.Sections))
	}

	fresh := agent.NewMockClient(nil)
	second, err := New(ctx, cfg, WithClient(fresh), WithResume(first.Sink.Dir()))
	if err != nil {
		t.Fatalf("New() with resume error = %v", err)
	}

	story, err := second.Run(ctx)
	if err != nil {
		t.Fatalf("resumed Run() error = %v", err)
	}
	if story.RunID != failed.RunID {
		t.Errorf("run id = %s, want %s", story.RunID, failed.RunID)
	}
	if len(story.Sections) != 3 || fresh.Calls() != 2 {
		t.Errorf("sections = %d, calls = %d, want 3 and 2", len(story.Sections), fresh.Calls())
	}
	if story.Sections[0].Text != "The fox found a book." {
		t.Errorf("restored section = %q", story.Sections[0].Text)
	}
}

func TestResumeLatest(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, t.TempDir(), "")

	if _, err := New(ctx, cfg, WithResume(ResumeLatest)); err == nil {
		t.Fatal("resuming latest with no sessions succeeded")
	}

	interrupted := agent.NewMockClient(func(call int, _ string) (string, error) {
		if call == 3 {
			return "", ngerrors.Fatal(errors.New("backend gone"))
		}
		return fmt.Sprintf("<content>Page %d.</content>", call), nil
	})
	first, err := New(ctx, cfg, WithClient(interrupted))
	if err != nil {
		t.Fatal(err)
	}
	failed, _ := first.Run(ctx)

	second, err := New(ctx, cfg, WithClient(agent.NewMockClient(nil)), WithResume(ResumeLatest))
	if err != nil {
		t.Fatalf("New() with latest resume error = %v", err)
	}
	if second.Sink.Dir() != first.Sink.Dir() {
		t.Errorf("resumed %q, want %q", second.Sink.Dir(), first.Sink.Dir())
	}
	story, err := second.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if story.RunID != failed.RunID || len(story.Sections) != 3 {
		t.Errorf("run %s with %d sections", story.RunID, len(story.Sections))
	}
}

func TestResumeWithoutCheckpoint(t *testing.T) {
	_, err := New(context.Background(), testConfig(t, t.TempDir(), ""), WithResume("sessions/missing"))
	if err == nil {
		t.Fatal("resume without a checkpoint succeeded")
	}
}

func TestResponseCacheReplays(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := testConfig(t, dir, "llm_cache:\n  enabled: true\n")

	first := agent.NewMockClient(nil)
	a, err := New(ctx, cfg, WithClient(first))
	if err != nil {
		t.Fatal(err)
	}
	want, err := a.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}

	second := agent.NewMockClient(func(int, string) (string, error) {
		return "", ngerrors.Fatal(errors.New("backend must not be called"))
	})
	b, err := New(ctx, cfg, WithClient(second))
	if err != nil {
		t.Fatal(err)
	}
	got, err := b.Run(ctx)
	if err != nil {
		t.Fatalf("cached run error = %v", err)
	}
	if second.Calls() != 0 {
		t.Errorf("backend called %d times despite the cache", second.Calls())
	}
	if got.Text() != want.Text() {
		t.Error("cached run produced a different story")
	}
}

func TestCustomSectionTemplate(t *testing.T) {
	dir := t.TempDir()
	tmplPath := filepath.Join(dir, "section.tmpl")
	if err := os.WriteFile(tmplPath, []byte("Write part {{.Number}} about {{upper .Premise}}"), 0644); err != nil {
		t.Fatal(err)
	}

	client := agent.NewMockClient(nil)
	a, err := New(context.Background(), testConfig(t, dir, "prompts:\n  section_template: "+tmplPath+"\n"), WithClient(client))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.Run(context.Background(), core.WithMaxSections(1)); err != nil {
		t.Fatal(err)
	}

	if got := client.Prompts()[0]; got != "Write part 1 about A FOX LEARNS TO READ." {
		t.Errorf("prompt = %q", got)
	}
}

func TestClosureFromConfig(t *testing.T) {
	cfg := testConfig(t, t.TempDir(), "")
	cfg.Generation.Closure = config.ClosureConfig{Markers: []string{"FIN"}, ProgressThreshold: 90}

	c := Closure(cfg)
	if !c(core.Section{Text: "... FIN"}) {
		t.Error("custom marker ignored")
	}
	if c(core.Section{Text: "[END]"}) {
		t.Error("default marker still active")
	}
	if !c(core.Section{Text: "x", Progress: 95, HasProgress: true}) {
		t.Error("progress threshold ignored")
	}

	cfg.Generation.Closure.Disabled = true
	if Closure(cfg)(core.Section{Text: "FIN", Progress: 100, HasProgress: true}) {
		t.Error("disabled closure fired")
	}
}
