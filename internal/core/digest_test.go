package core

import (
	"fmt"
	"strings"
	"testing"
)

func acceptedSection(i int, text, summary string) Section {
	return Section{Index: i, Text: text, Summary: summary, Status: SectionAccepted}
}

func TestDigestStaysWithinBudget(t *testing.T) {
	for _, budget := range []int{200, 500, 2000} {
		t.Run(fmt.Sprintf("budget %d", budget), func(t *testing.T) {
			state := NewNarrativeState()
			long := strings.Repeat("The caravan crossed another dune under a white sky. ", 40)

			for i := 0; i < 60; i++ {
				s := acceptedSection(i, long, fmt.Sprintf("In section %d the caravan lost a camel and found a well. ", i))
				if err := state.Accept(s, budget); err != nil {
					t.Fatalf("Accept(%d) error = %v", i, err)
				}
				if size := state.Digest().Size(); size > budget {
					t.Fatalf("after %d sections digest has %d runes, budget %d", i+1, size, budget)
				}
			}
		})
	}
}

func TestDigestKeepsRecentSections(t *testing.T) {
	state := NewNarrativeState()
	for i := 0; i < 4; i++ {
		if err := state.Accept(acceptedSection(i, fmt.Sprintf("Text of part %d.", i), fmt.Sprintf("Part %d summary.", i)), DefaultDigestBudget); err != nil {
			t.Fatal(err)
		}
	}

	d := state.Digest()
	if len(d.Recent) != digestRecentKeep {
		t.Fatalf("recent entries = %d, want %d", len(d.Recent), digestRecentKeep)
	}
	if d.Recent[0].Index != 2 || d.Recent[1].Index != 3 {
		t.Errorf("recent indices = %d, %d", d.Recent[0].Index, d.Recent[1].Index)
	}
	if !strings.Contains(d.Summary, "Part 0 summary.") || !strings.Contains(d.Summary, "Part 1 summary.") {
		t.Errorf("older sections missing from summary: %q", d.Summary)
	}
	if d.Tail != "Text of part 3." {
		t.Errorf("tail = %q", d.Tail)
	}

	rendered := d.String()
	for _, want := range []string{"Earlier events:", "Recent sections:", "- Section 4: Part 3 summary.", "The previous section ended with:"} {
		if !strings.Contains(rendered, want) {
			t.Errorf("rendered digest lacks %q:\n%s", want, rendered)
		}
	}
}

func TestDigestFallsBackToText(t *testing.T) {
	d := Digest{}.advance(acceptedSection(0, "No summary was given. More text follows.", ""), DefaultDigestBudget)
	if d.Recent[0].Summary != "No summary was given. More text follows." {
		t.Errorf("entry = %q", d.Recent[0].Summary)
	}
}

func TestEmptyDigest(t *testing.T) {
	var d Digest
	if !d.Empty() || d.String() != "" || d.Size() != 0 {
		t.Errorf("zero digest = %+v", d)
	}
}

func TestNarrativeStateAccept(t *testing.T) {
	state := NewNarrativeState()

	if err := state.Accept(acceptedSection(1, "skip", ""), DefaultDigestBudget); err == nil {
		t.Error("accepted an out of order section")
	}
	rejected := Section{Index: 0, Text: "x", Status: SectionRejected}
	if err := state.Accept(rejected, DefaultDigestBudget); err == nil {
		t.Error("accepted a rejected section")
	}
	if state.Index() != 0 || !state.Digest().Empty() {
		t.Fatal("failed Accept changed the state")
	}

	if err := state.Accept(acceptedSection(0, "Héllo.", ""), DefaultDigestBudget); err != nil {
		t.Fatal(err)
	}
	held := state.Sections()
	if err := state.Accept(acceptedSection(1, "World.", ""), DefaultDigestBudget); err != nil {
		t.Fatal(err)
	}

	if state.Index() != 2 || len(state.Sections()) != 2 {
		t.Errorf("index = %d, sections = %d", state.Index(), len(state.Sections()))
	}
	if len(held) != 1 {
		t.Error("earlier slice changed length")
	}
	if state.Length() != 12 {
		t.Errorf("length = %d, want 12", state.Length())
	}
	last, ok := state.Last()
	if !ok || last.Text != "World." {
		t.Errorf("Last() = %+v, %v", last, ok)
	}

	state.Reset()
	if state.Index() != 0 || state.Length() != 0 || !state.Digest().Empty() {
		t.Error("Reset left state behind")
	}
}
