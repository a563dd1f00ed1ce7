package core

import (
	"strings"
	"testing"
	"text/template"
)

func TestPosition(t *testing.T) {
	tests := []struct {
		index, max int
		want       string
	}{
		{0, 1, "final section"},
		{0, 10, "opening"},
		{1, 10, "early act"},
		{2, 10, "early act"},
		{3, 10, "middle"},
		{6, 10, "middle"},
		{7, 10, "closing section"},
		{8, 10, "closing section"},
		{9, 10, "final section"},
		{1, 2, "final section"},
		{1, 3, "middle"},
	}

	for _, tt := range tests {
		if got := position(tt.index, tt.max); got != tt.want {
			t.Errorf("position(%d, %d) = %q, want %q", tt.index, tt.max, got, tt.want)
		}
	}
}

func TestPlanNextStopsAtMaxSections(t *testing.T) {
	state := NewNarrativeState()
	for i := 0; i < 2; i++ {
		// the second section also carries an end marker; the limit is checked first
		if err := state.Accept(Section{Index: i, Text: "x [END]", Status: SectionAccepted}, DefaultDigestBudget); err != nil {
			t.Fatal(err)
		}
	}

	plan, err := NewPlanner().PlanNext(StorySetting{Premise: "p"}, state, GenerationConfig{MaxSections: 2, TargetLength: LengthShort})
	if err != nil {
		t.Fatal(err)
	}
	if !plan.Stop || plan.Reason != StopMaxSections {
		t.Errorf("plan = %+v, want stop at max sections", plan)
	}
}

func TestPlanNextClosure(t *testing.T) {
	cfg := GenerationConfig{MaxSections: 5, TargetLength: LengthMedium}
	tests := []struct {
		name     string
		closure  Closure
		last     Section
		wantStop bool
	}{
		{"end marker in raw", DefaultClosure(), Section{Raw: "<content>done</content>\n[END]", Text: "done"}, true},
		{"marker only in reasoning", DefaultClosure(), Section{Raw: "<thinking>Not [END] yet.</thinking><content>go on</content>", Text: "go on"}, false},
		{"THE END in text", DefaultClosure(), Section{Text: "And so it was.\n\nTHE END"}, true},
		{"lowercase end is prose", DefaultClosure(), Section{Text: "the end of the road"}, false},
		{"full progress", DefaultClosure(), Section{Text: "x", Progress: 100, HasProgress: true}, true},
		{"partial progress", DefaultClosure(), Section{Text: "x", Progress: 90, HasProgress: true}, false},
		{"custom threshold", ProgressClosure(80), Section{Text: "x", Progress: 90, HasProgress: true}, true},
		{"custom marker", MarkerClosure("~fin~"), Section{Text: "x ~fin~"}, true},
		{"disabled", nil, Section{Text: "THE END", Progress: 100, HasProgress: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := NewNarrativeState()
			last := tt.last
			last.Status = SectionAccepted
			if err := state.Accept(last, DefaultDigestBudget); err != nil {
				t.Fatal(err)
			}

			plan, err := NewPlanner(WithClosure(tt.closure)).PlanNext(StorySetting{Premise: "p"}, state, cfg)
			if err != nil {
				t.Fatal(err)
			}
			if plan.Stop != tt.wantStop {
				t.Errorf("Stop = %v, want %v", plan.Stop, tt.wantStop)
			}
			if tt.wantStop && plan.Reason != StopNarrativeComplete {
				t.Errorf("Reason = %s", plan.Reason)
			}
		})
	}
}

func TestPlanNextPrompt(t *testing.T) {
	setting := StorySetting{Premise: "A city that forgets every night.", Protagonist: "Ilse", Theme: "memory"}
	cfg := GenerationConfig{MaxSections: 10, TargetLength: LengthLong}

	state := NewNarrativeState()
	if err := state.Accept(Section{Index: 0, Text: "Ilse woke without a name.", Summary: "Ilse wakes.", Status: SectionAccepted}, DefaultDigestBudget); err != nil {
		t.Fatal(err)
	}

	plan, err := NewPlanner().PlanNext(setting, state, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if plan.Stop || plan.Index != 1 || plan.Position != "early act" {
		t.Fatalf("plan = %+v", plan)
	}

	for _, want := range []string{
		setting.Premise,
		"Protagonist: Ilse",
		"Theme: memory",
		"Ilse wakes.",
		"Ilse woke without a name.",
		"section index 1",
		"early act",
		LengthLong.guidance(),
		"under 4500 characters",
		"[END]",
		"<content>",
	} {
		if !strings.Contains(plan.Prompt, want) {
			t.Errorf("prompt lacks %q", want)
		}
	}
}

func TestPlanNextFirstPromptHasNoDigest(t *testing.T) {
	plan, err := NewPlanner(WithEndMarker("")).PlanNext(StorySetting{Premise: "p"}, NewNarrativeState(), GenerationConfig{MaxSections: 3, TargetLength: LengthShort})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(plan.Prompt, "Nothing has been written yet.") {
		t.Error("first prompt should say nothing was written")
	}
	if strings.Contains(plan.Prompt, "natural ending") {
		t.Error("empty end marker still produced an instruction")
	}
	if plan.Position != "opening" {
		t.Errorf("position = %q", plan.Position)
	}
}

func TestPlanNextCustomTemplate(t *testing.T) {
	tmpl := template.Must(template.New("custom").Funcs(PromptFuncs()).Option("missingkey=error").
		Parse("{{upper .Premise}}|{{.Number}}/{{.MaxSections}}|{{.Position}}|{{.Budget}}"))

	plan, err := NewPlanner(WithTemplate(tmpl)).PlanNext(StorySetting{Premise: "dragons"}, NewNarrativeState(), GenerationConfig{MaxSections: 4, TargetLength: LengthShort, SectionBudget: 800})
	if err != nil {
		t.Fatal(err)
	}
	if plan.Prompt != "DRAGONS|1/4|opening|800" {
		t.Errorf("prompt = %q", plan.Prompt)
	}
}

func TestPlanNextTemplateError(t *testing.T) {
	tmpl := template.Must(template.New("broken").Parse("{{.Missing}}"))

	_, err := NewPlanner(WithTemplate(tmpl)).PlanNext(StorySetting{Premise: "p"}, NewNarrativeState(), GenerationConfig{MaxSections: 1, TargetLength: LengthShort})
	if err == nil {
		t.Fatal("expected a render error for an unknown field")
	}
}
