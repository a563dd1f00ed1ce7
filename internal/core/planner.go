package core

import (
	"bytes"
	"fmt"
	"text/template"
)

// Plan is the planner's decision for the next iteration: either a prompt
// for section Index or a stop with its reason.
type Plan struct {
	Stop     bool
	Reason   StopReason
	Index    int
	Position string
	Prompt   string
}

// Planner builds section prompts and decides when a run stops.
type Planner struct {
	closure   Closure
	tmpl      *template.Template
	endMarker string
}

type PlannerOption func(*Planner)

// WithClosure replaces the completion heuristic. A nil closure disables it.
func WithClosure(c Closure) PlannerOption {
	return func(p *Planner) {
		if c == nil {
			c = NeverClosure
		}
		p.closure = c
	}
}

// WithTemplate replaces the built-in section prompt.
func WithTemplate(t *template.Template) PlannerOption {
	return func(p *Planner) {
		if t != nil {
			p.tmpl = t
		}
	}
}

// WithEndMarker sets the marker the prompt asks the model to emit at the
// end of the story. An empty marker omits the instruction.
func WithEndMarker(marker string) PlannerOption {
	return func(p *Planner) {
		p.endMarker = marker
	}
}

func NewPlanner(opts ...PlannerOption) *Planner {
	p := &Planner{
		closure:   DefaultClosure(),
		tmpl:      builtinTemplate,
		endMarker: "[END]",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PlanNext applies the stop policy in order (section limit, then closure on
// the last accepted section) and otherwise renders the next prompt.
func (p *Planner) PlanNext(setting StorySetting, state *NarrativeState, cfg GenerationConfig) (Plan, error) {
	index := state.Index()

	if index >= cfg.MaxSections {
		return Plan{Stop: true, Reason: StopMaxSections, Index: index}, nil
	}
	if last, ok := state.Last(); ok && p.closure(last) {
		return Plan{Stop: true, Reason: StopNarrativeComplete, Index: index}, nil
	}

	data := PromptData{
		Premise:        setting.Premise,
		Protagonist:    setting.Protagonist,
		Theme:          setting.Theme,
		Digest:         state.Digest().String(),
		Index:          index,
		Number:         index + 1,
		MaxSections:    cfg.MaxSections,
		Position:       position(index, cfg.MaxSections),
		TargetLength:   cfg.TargetLength,
		LengthGuidance: cfg.TargetLength.guidance(),
		Budget:         cfg.Budget(),
		CurrentLength:  state.Length(),
		EndMarker:      p.endMarker,
	}

	var buf bytes.Buffer
	if err := p.tmpl.Execute(&buf, data); err != nil {
		return Plan{}, fmt.Errorf("rendering prompt for section %d: %w", index, err)
	}

	return Plan{Index: index, Position: data.Position, Prompt: buf.String()}, nil
}
