package config

import "time"

type Limits struct {
	Retry          RetryConfig     `yaml:"retry"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
	RequestTimeout time.Duration   `yaml:"request_timeout" validate:"min=1s,max=1h"`
	// RunTimeout bounds a whole run; zero means no deadline.
	RunTimeout   time.Duration `yaml:"run_timeout" validate:"min=0,max=72h"`
	DigestBudget int           `yaml:"digest_budget" validate:"min=200,max=100000"`
}

// RetryConfig controls how often and how patiently one section is retried.
// MaxAttempts counts every call, the first one included.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" validate:"min=1,max=10"`
	BaseDelay   time.Duration `yaml:"base_delay" validate:"min=0,max=5m"`
	MaxDelay    time.Duration `yaml:"max_delay" validate:"min=0,max=30m"`
	Multiplier  float64       `yaml:"multiplier" validate:"min=1,max=10"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute" validate:"min=1,max=1000"`
	BurstSize         int `yaml:"burst_size" validate:"min=1,max=100"`
}

func DefaultLimits() Limits {
	return Limits{
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   time.Second,
			MaxDelay:    30 * time.Second,
			Multiplier:  2,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 30,
			BurstSize:         5,
		},
		RequestTimeout: 120 * time.Second,
		DigestBudget:   2000,
	}
}

// withDefaults fills every zero field from DefaultLimits.
func (l Limits) withDefaults() Limits {
	d := DefaultLimits()

	if l.Retry.MaxAttempts == 0 {
		l.Retry.MaxAttempts = d.Retry.MaxAttempts
	}
	if l.Retry.BaseDelay == 0 {
		l.Retry.BaseDelay = d.Retry.BaseDelay
	}
	if l.Retry.MaxDelay == 0 {
		l.Retry.MaxDelay = d.Retry.MaxDelay
	}
	if l.Retry.Multiplier == 0 {
		l.Retry.Multiplier = d.Retry.Multiplier
	}
	if l.RateLimit.RequestsPerMinute == 0 {
		l.RateLimit.RequestsPerMinute = d.RateLimit.RequestsPerMinute
	}
	if l.RateLimit.BurstSize == 0 {
		l.RateLimit.BurstSize = d.RateLimit.BurstSize
	}
	if l.RequestTimeout == 0 {
		l.RequestTimeout = d.RequestTimeout
	}
	if l.DigestBudget == 0 {
		l.DigestBudget = d.DigestBudget
	}
	return l
}
