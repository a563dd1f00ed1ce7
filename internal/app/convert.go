package app

import (
	"github.com/vampirenirmal/novelgen/internal/config"
	"github.com/vampirenirmal/novelgen/internal/core"
)

func StorySetting(cfg *config.Config) core.StorySetting {
	if cfg.StorySetting == nil {
		return core.StorySetting{}
	}
	return core.StorySetting{
		Premise:     cfg.StorySetting.Premise,
		Protagonist: cfg.StorySetting.Protagonist,
		Theme:       cfg.StorySetting.Theme,
	}
}

func GenerationConfig(cfg *config.Config) core.GenerationConfig {
	g := cfg.Generation
	if g == nil {
		return core.GenerationConfig{}
	}
	return core.GenerationConfig{
		MaxSections:      g.MaxSections,
		TargetLength:     core.TargetLength(g.Length),
		SectionBudget:    g.SectionBudget,
		SectionDelimiter: g.SectionDelimiter,
	}
}

func RetryPolicy(cfg *config.Config) core.RetryPolicy {
	r := cfg.Limits.Retry
	return core.RetryPolicy{
		MaxAttempts: r.MaxAttempts,
		BaseDelay:   r.BaseDelay,
		MaxDelay:    r.MaxDelay,
		Multiplier:  r.Multiplier,
	}
}

// Closure builds the completion heuristic from generation.closure.
func Closure(cfg *config.Config) core.Closure {
	g := cfg.Generation
	if g == nil {
		return core.DefaultClosure()
	}
	if g.Closure.Disabled {
		return core.NeverClosure
	}
	return core.AnyClosure(
		core.MarkerClosure(g.Closure.Markers...),
		core.ProgressClosure(g.Closure.ProgressThreshold),
	)
}

// Markers are the end markers removed from accepted text; none when the
// closure is disabled.
func Markers(cfg *config.Config) []string {
	g := cfg.Generation
	if g == nil {
		return core.DefaultMarkers()
	}
	if g.Closure.Disabled {
		return nil
	}
	return g.Closure.Markers
}
