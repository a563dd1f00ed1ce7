package core

import "strings"

// Closure decides from the last accepted section whether the story has
// reached its natural ending.
type Closure func(last Section) bool

// MarkerClosure fires when the response contains any of the markers
// outside the model's <thinking> blocks. Matching is case sensitive so
// ordinary prose does not trigger it.
func MarkerClosure(markers ...string) Closure {
	var cleaned []string
	for _, m := range markers {
		if m = strings.TrimSpace(m); m != "" {
			cleaned = append(cleaned, m)
		}
	}
	return func(last Section) bool {
		text := StripThinking(last.Raw)
		if text == "" {
			text = last.Text
		}
		for _, m := range cleaned {
			if strings.Contains(text, m) {
				return true
			}
		}
		return false
	}
}

// ProgressClosure fires when the model reported progress of at least
// threshold percent.
func ProgressClosure(threshold int) Closure {
	return func(last Section) bool {
		return last.HasProgress && last.Progress >= threshold
	}
}

// AnyClosure fires when any of closures does.
func AnyClosure(closures ...Closure) Closure {
	return func(last Section) bool {
		for _, c := range closures {
			if c != nil && c(last) {
				return true
			}
		}
		return false
	}
}

// NeverClosure disables early stopping.
func NeverClosure(Section) bool {
	return false
}

// DefaultMarkers end a story when the model writes one of them.
func DefaultMarkers() []string {
	return []string{"[END]", "THE END"}
}

// DefaultClosure stops on one of DefaultMarkers or reported progress of 100.
func DefaultClosure() Closure {
	return AnyClosure(MarkerClosure(DefaultMarkers()...), ProgressClosure(100))
}
