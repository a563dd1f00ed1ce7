package core

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// Parsed is the narrative extracted from one model response.
type Parsed struct {
	Text        string
	Summary     string
	Progress    int
	HasProgress bool
	// Cleaned is the response without its <thinking> blocks.
	Cleaned  string
	Thinking string
}

var (
	thinkingBlock = regexp.MustCompile(`(?s)<thinking>.*?</thinking>`)
	metaBlocks    = regexp.MustCompile(`(?s)<(progress|next_preview|summary)>.*?</(progress|next_preview|summary)>`)
	sectionTags   = regexp.MustCompile(`</?section>`)
	firstNumber   = regexp.MustCompile(`\d+`)
)

// extractTag returns the trimmed body of the first <tag>...</tag> pair.
func extractTag(text, tag string) (string, bool) {
	open, closing := "<"+tag+">", "</"+tag+">"

	start := strings.Index(text, open)
	if start < 0 {
		return "", false
	}
	start += len(open)

	end := strings.Index(text[start:], closing)
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(text[start : start+end]), true
}

// ParseResponse pulls the narrative out of a tagged response. The body of
// <content> wins; without it the whole response minus reasoning and
// metadata blocks is the narrative.
func ParseResponse(raw string) Parsed {
	cleaned := StripThinking(raw)

	p := Parsed{Cleaned: cleaned, Thinking: extractThinking(raw)}
	if content, ok := extractTag(cleaned, "content"); ok {
		p.Text = content
	} else {
		text := metaBlocks.ReplaceAllString(cleaned, "")
		p.Text = strings.TrimSpace(sectionTags.ReplaceAllString(text, ""))
	}

	if summary, ok := extractTag(cleaned, "summary"); ok && summary != "" {
		p.Summary = summary
	} else if preview, ok := extractTag(cleaned, "next_preview"); ok {
		p.Summary = preview
	}

	if pct, ok := extractTag(cleaned, "percentage"); ok {
		if n, err := strconv.Atoi(firstNumber.FindString(pct)); err == nil {
			p.Progress = min(n, 100)
			p.HasProgress = true
		}
	}
	return p
}

// StripThinking removes the model's <thinking> blocks from a response.
func StripThinking(raw string) string {
	return strings.TrimSpace(thinkingBlock.ReplaceAllString(raw, ""))
}

func extractThinking(raw string) string {
	var parts []string
	for _, block := range thinkingBlock.FindAllString(raw, -1) {
		block = strings.TrimSuffix(strings.TrimPrefix(block, "<thinking>"), "</thinking>")
		if block = strings.TrimSpace(block); block != "" {
			parts = append(parts, block)
		}
	}
	return strings.Join(parts, "\n\n")
}

// StripMarkers removes end markers from narrative text: lines holding only
// a marker, and a marker closing the last line.
func StripMarkers(text string, markers []string) string {
	if len(markers) == 0 {
		return text
	}

	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if isMarker(strings.TrimSpace(line), markers) {
			continue
		}
		kept = append(kept, line)
	}
	text = strings.TrimSpace(strings.Join(kept, "\n"))

	for _, m := range markers {
		if m = strings.TrimSpace(m); m != "" && strings.HasSuffix(text, m) {
			text = strings.TrimSpace(strings.TrimSuffix(text, m))
		}
	}
	return text
}

func isMarker(s string, markers []string) bool {
	for _, m := range markers {
		if m = strings.TrimSpace(m); m != "" && s == m {
			return true
		}
	}
	return false
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？':
		return true
	}
	return false
}

// TruncateAtSentence shortens text to at most limit runes, cutting after the
// last sentence terminator in the second half of the window. It falls back
// to the last whitespace, then to a hard cut. The flag reports whether
// anything was removed.
func TruncateAtSentence(text string, limit int) (string, bool) {
	runes := []rune(text)
	if limit <= 0 || len(runes) <= limit {
		return text, false
	}

	window := runes[:limit]
	floor := limit / 2

	for i := len(window) - 1; i >= floor; i-- {
		if isSentenceEnd(window[i]) {
			cut := i + 1
			// keep a closing quote that belongs to the sentence
			if cut < len(window) && strings.ContainsRune(`"'”」』`, window[cut]) {
				cut++
			}
			return strings.TrimSpace(string(window[:cut])), true
		}
	}
	for i := len(window) - 1; i >= floor; i-- {
		if unicode.IsSpace(window[i]) {
			return strings.TrimSpace(string(window[:i])), true
		}
	}
	return string(window), true
}

func runeLen(s string) int {
	return len([]rune(s))
}
