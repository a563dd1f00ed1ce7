package core

import "math"

// Snapshot is the committed state of an orchestrator at one instant. It is
// published whole after every state change and never modified afterwards.
type Snapshot struct {
	RunID        string
	Phase        Phase
	SectionIndex int
	MaxSections  int
	StopReason   StopReason
	LastError    error
	Sections     []Section
}

// GenerationStatus is the read-only view of a run handed to callers.
type GenerationStatus struct {
	RunID        string     `json:"run_id,omitempty"`
	Phase        Phase      `json:"phase"`
	Percentage   int        `json:"percentage"`
	SectionIndex int        `json:"section_index"`
	MaxSections  int        `json:"max_sections"`
	StopReason   StopReason `json:"stop_reason,omitempty"`
	LastError    error      `json:"-"`
	Error        string     `json:"error,omitempty"`
}

// Project derives a status from a snapshot. It has no other input, so two
// calls on the same snapshot return the same status.
func Project(s Snapshot) GenerationStatus {
	st := GenerationStatus{
		RunID:        s.RunID,
		Phase:        s.Phase,
		Percentage:   ComputePercentage(s.SectionIndex, s.MaxSections),
		SectionIndex: s.SectionIndex,
		MaxSections:  s.MaxSections,
		StopReason:   s.StopReason,
		LastError:    s.LastError,
	}
	if st.Phase == "" {
		st.Phase = PhaseNotStarted
	}
	if s.LastError != nil {
		st.Error = s.LastError.Error()
	}
	return st
}

// ComputePercentage is min(100, round(index/maxSections*100)).
func ComputePercentage(index, maxSections int) int {
	if maxSections <= 0 || index <= 0 {
		return 0
	}
	pct := int(math.Round(float64(index) / float64(maxSections) * 100))
	return min(pct, 100)
}
