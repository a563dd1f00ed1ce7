package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
		fatal     bool
	}{
		{"nil", nil, false, false},
		{"transient", Transient(errors.New("503")), true, false},
		{"wrapped transient", fmt.Errorf("calling backend: %w", Transient(errors.New("reset"))), true, false},
		{"rate limited sentinel", fmt.Errorf("anthropic: %w", ErrRateLimited), true, false},
		{"fatal", Fatal(errors.New("bad request")), false, true},
		{"authentication", &AuthenticationError{Backend: "mock", Err: ErrInvalidAPIKey}, false, true},
		{"fatal wrapping auth", Fatal(&AuthenticationError{Backend: "openai", Err: ErrInvalidAPIKey}), false, true},
		{"configuration", MissingKey("story_setting"), false, true},
		{"canceled", context.Canceled, false, true},
		{"plain", errors.New("boom"), false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.transient {
				t.Errorf("IsTransient() = %v, want %v", got, tt.transient)
			}
			if got := IsFatal(tt.err); got != tt.fatal {
				t.Errorf("IsFatal() = %v, want %v", got, tt.fatal)
			}
		})
	}
}

func TestConfigurationErrorNamesKey(t *testing.T) {
	err := error(MissingKey("story_setting"))
	if !strings.Contains(err.Error(), "story_setting") {
		t.Errorf("Error() = %q, want it to name the key", err.Error())
	}

	var cfgErr *ConfigurationError
	if !errors.As(fmt.Errorf("loading: %w", err), &cfgErr) || cfgErr.Key != "story_setting" {
		t.Errorf("errors.As did not recover the key, got %+v", cfgErr)
	}

	invalid := InvalidKey("generation.length", "unknown length class")
	if !strings.Contains(invalid.Error(), "unknown length class") {
		t.Errorf("Error() = %q, want reason", invalid.Error())
	}
}

func TestSectionFailureUnwraps(t *testing.T) {
	cause := &SectionAcceptanceError{Index: 2, Attempts: 3, Reason: "empty text"}
	err := &SectionFailure{Index: 2, Attempt: 3, Exhausted: true, Cause: cause}

	var acceptance *SectionAcceptanceError
	if !errors.As(err, &acceptance) {
		t.Fatal("expected SectionAcceptanceError in chain")
	}
	if !strings.Contains(err.Error(), "after 3 attempts") {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestRetryAfter(t *testing.T) {
	err := fmt.Errorf("call: %w", &TransientGenerationError{Err: ErrRateLimited, RetryAfter: 2 * time.Second})
	if got := RetryAfter(err); got != 2*time.Second {
		t.Errorf("RetryAfter() = %v, want 2s", got)
	}
	if got := RetryAfter(errors.New("x")); got != 0 {
		t.Errorf("RetryAfter() = %v, want 0", got)
	}
}
