package core

import "fmt"

// NarrativeState is the accepted story so far. It is owned by one
// orchestrator and only grows through Accept, so Index always equals the
// number of accepted sections and the digest only ever reflects accepted
// text.
type NarrativeState struct {
	sections []Section
	digest   Digest
	length   int
}

func NewNarrativeState() *NarrativeState {
	return &NarrativeState{}
}

// Accept appends s and recomputes the digest. The section must carry the next
// index and the accepted status.
func (n *NarrativeState) Accept(s Section, digestBudget int) error {
	if s.Index != len(n.sections) {
		return fmt.Errorf("section index %d out of order, expected %d", s.Index, len(n.sections))
	}
	if s.Status != SectionAccepted {
		return fmt.Errorf("section %d has status %s, only accepted sections join the story", s.Index, s.Status)
	}

	n.digest = n.digest.advance(s, digestBudget)
	// A fresh backing array keeps slices handed out earlier immutable.
	next := make([]Section, len(n.sections), len(n.sections)+1)
	copy(next, n.sections)
	n.sections = append(next, s)
	n.length += runeLen(s.Text)
	return nil
}

// Index is the next section index.
func (n *NarrativeState) Index() int {
	return len(n.sections)
}

// Sections returns the accepted sections. The slice must not be modified.
func (n *NarrativeState) Sections() []Section {
	return n.sections
}

// Last returns the most recent accepted section.
func (n *NarrativeState) Last() (Section, bool) {
	if len(n.sections) == 0 {
		return Section{}, false
	}
	return n.sections[len(n.sections)-1], true
}

func (n *NarrativeState) Digest() Digest {
	return n.digest
}

// Length is the accepted story length in runes.
func (n *NarrativeState) Length() int {
	return n.length
}

func (n *NarrativeState) Reset() {
	n.sections = nil
	n.digest = Digest{}
	n.length = 0
}
