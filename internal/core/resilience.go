package core

import (
	"context"
	"errors"
	"math"
	"time"

	ngerrors "github.com/vampirenirmal/novelgen/pkg/novelgen/errors"
)

// RetryPolicy configures how one section is retried. MaxAttempts counts
// every call to the client, the first included.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
	}
}

// Delay is the wait after failed attempt n (1-based): BaseDelay *
// Multiplier^(n-1), capped at MaxDelay. A server hint larger than that wins,
// still within the cap.
func (p RetryPolicy) Delay(attempt int, hint time.Duration) time.Duration {
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	delay := float64(p.BaseDelay) * math.Pow(mult, float64(attempt-1))

	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	d := time.Duration(delay)

	if hint > d {
		d = hint
		if p.MaxDelay > 0 && d > p.MaxDelay {
			d = p.MaxDelay
		}
	}
	return d
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// retryable reports whether a failed attempt may be repeated. Acceptance
// failures and transient or unclassified backend errors are; fatal,
// authentication, configuration and context errors are not.
func retryable(err error) bool {
	var acceptance *ngerrors.SectionAcceptanceError
	if errors.As(err, &acceptance) {
		return true
	}
	if ngerrors.IsTransient(err) {
		return true
	}
	if ngerrors.IsFatal(err) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
