package core

import (
	"fmt"
	"strings"
)

const (
	// digestRecentKeep is how many recent sections keep their own entry
	// before being folded into the summary.
	digestRecentKeep = 2

	// DefaultDigestBudget bounds the digest in runes.
	DefaultDigestBudget = 2000

	minDigestBudget = 200
)

// DigestEntry condenses one accepted section.
type DigestEntry struct {
	Index   int    `json:"index"`
	Summary string `json:"summary"`
}

// Digest is the bounded continuity context handed to every prompt: a
// folded summary of older sections, entries for the most recent ones and the
// closing passage of the last section. Its size never exceeds the budget it
// was built with, whatever the number of sections.
type Digest struct {
	Summary string        `json:"summary,omitempty"`
	Recent  []DigestEntry `json:"recent,omitempty"`
	Tail    string        `json:"tail,omitempty"`
}

// Size is the digest content length in runes.
func (d Digest) Size() int {
	n := runeLen(d.Summary) + runeLen(d.Tail)
	for _, e := range d.Recent {
		n += runeLen(e.Summary)
	}
	return n
}

func (d Digest) Empty() bool {
	return d.Summary == "" && len(d.Recent) == 0 && d.Tail == ""
}

// String renders the digest for a prompt.
func (d Digest) String() string {
	if d.Empty() {
		return ""
	}

	var b strings.Builder
	if d.Summary != "" {
		b.WriteString("Earlier events:\n")
		b.WriteString(d.Summary)
		b.WriteString("\n\n")
	}
	if len(d.Recent) > 0 {
		b.WriteString("Recent sections:\n")
		for _, e := range d.Recent {
			_, _ = fmt.Fprintf(&b, "- Section %d: %s\n", e.Index+1, e.Summary)
		}
		b.WriteString("\n")
	}
	if d.Tail != "" {
		b.WriteString("The previous section ended with:\n")
		b.WriteString(d.Tail)
	}
	return strings.TrimSpace(b.String())
}

// advance folds an accepted section into the digest and returns the result.
// The receiver is left untouched.
func (d Digest) advance(s Section, budget int) Digest {
	budget = max(budget, minDigestBudget)
	entryMax := budget / 8
	tailMax := budget / 4
	summaryMax := budget - tailMax - digestRecentKeep*entryMax

	next := Digest{
		Summary: d.Summary,
		Recent:  make([]DigestEntry, 0, len(d.Recent)+1),
	}
	next.Recent = append(next.Recent, d.Recent...)
	next.Recent = append(next.Recent, DigestEntry{Index: s.Index, Summary: condense(s, entryMax)})

	if len(next.Recent) > digestRecentKeep {
		older := next.Recent[:len(next.Recent)-digestRecentKeep]
		next.Recent = next.Recent[len(next.Recent)-digestRecentKeep:]
		next.Summary = appendToSummary(next.Summary, older)
	}
	next.Summary = keepLastRunes(next.Summary, summaryMax)
	next.Tail = keepLastRunes(strings.TrimSpace(s.Text), tailMax)

	return next
}

// condense produces a one-entry summary of a section, preferring the model's
// own summary over the opening of the text.
func condense(s Section, limit int) string {
	src := strings.TrimSpace(s.Summary)
	if src == "" {
		src = strings.TrimSpace(s.Text)
	}
	src = strings.Join(strings.Fields(src), " ")
	out, _ := TruncateAtSentence(src, limit)
	return out
}

func appendToSummary(summary string, older []DigestEntry) string {
	var b strings.Builder
	if s := strings.TrimSpace(summary); s != "" {
		b.WriteString(s)
		b.WriteString("\n")
	}
	for _, e := range older {
		if e.Summary == "" {
			continue
		}
		_, _ = fmt.Fprintf(&b, "- Section %d: %s\n", e.Index+1, e.Summary)
	}
	return strings.TrimSpace(b.String())
}

// keepLastRunes drops the oldest content so that at most n runes remain,
// starting on a line boundary where one is available.
func keepLastRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	if n <= 0 {
		return ""
	}

	kept := string(runes[len(runes)-n:])
	if i := strings.IndexByte(kept, '\n'); i >= 0 && i < len(kept)-1 {
		kept = kept[i+1:]
	}
	return strings.TrimSpace(kept)
}
