package storage

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// SessionNamingStrategy defines how run output directories are named.
type SessionNamingStrategy int

const (
	// SessionDescriptive uses timestamp + sanitized premise snippet + short run ID (default)
	SessionDescriptive SessionNamingStrategy = iota
	// SessionTimestamp uses timestamp + short run ID
	SessionTimestamp
	// SessionUUID uses the full run ID
	SessionUUID
)

// ParseSessionNaming maps a config value to a strategy. Unknown values fall
// back to SessionDescriptive.
func ParseSessionNaming(s string) SessionNamingStrategy {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "uuid":
		return SessionUUID
	case "timestamp":
		return SessionTimestamp
	default:
		return SessionDescriptive
	}
}

// SessionPath returns the directory, relative to the output root, where a
// run's artifacts are written.
func SessionPath(runID, premise string, strategy SessionNamingStrategy, now time.Time) string {
	shortID := runID
	if len(shortID) > 8 {
		shortID = shortID[:8]
	}

	switch strategy {
	case SessionUUID:
		return filepath.Join("sessions", runID)

	case SessionTimestamp:
		// Format: 2025-07-16_1530_82f06b15
		return filepath.Join("sessions", fmt.Sprintf("%s_%s", now.Format("2006-01-02_1504"), shortID))

	default:
		// Format: 2025-07-16_1530_forest-legend-in-near-future_82f06b15
		sanitized := sanitizeForFilename(premise, 30)
		return filepath.Join("sessions", fmt.Sprintf("%s_%s_%s", now.Format("2006-01-02_1504"), sanitized, shortID))
	}
}

var filenameReplacer = strings.NewReplacer(
	" ", "-", "\t", "-", "\n", "-",
	"/", "-", "\\", "-", ":", "-", ".", "-",
	"*", "", "?", "", "\"", "", "<", "", ">", "", "|", "",
	",", "", "'", "", "!", "", "@", "", "#", "", "$", "",
	"%", "", "^", "", "&", "", "(", "", ")", "", "[", "",
	"]", "", "{", "", "}", "", ";", "", "=", "", "+", "",
)

// sanitizeForFilename converts a string to a safe filename component
func sanitizeForFilename(s string, maxLen int) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = filenameReplacer.Replace(s)

	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	s = strings.Trim(s, "-")

	// Truncate on runes so multi-byte premises stay valid UTF-8
	if r := []rune(s); len(r) > maxLen {
		s = strings.TrimRight(string(r[:maxLen]), "-")
	}

	if s == "" {
		s = "story"
	}

	return s
}
