// Package app assembles a generation run from configuration: the backend,
// the planner, the output sinks and the orchestrator.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/vampirenirmal/novelgen/internal/agent"
	"github.com/vampirenirmal/novelgen/internal/config"
	"github.com/vampirenirmal/novelgen/internal/core"
	"github.com/vampirenirmal/novelgen/internal/output"
	"github.com/vampirenirmal/novelgen/internal/storage"
)

// App is one configured story run.
type App struct {
	Config       *config.Config
	Orchestrator *core.Orchestrator
	Client       agent.Client
	Store        *storage.FileSystem
	Sink         *output.FileSink
	History      *output.HistoryStore

	logger *slog.Logger
}

type options struct {
	registry *agent.Registry
	client   agent.Client
	resume   string
	now      func() time.Time
	logger   *slog.Logger
}

type Option func(*options)

// WithRegistry replaces the built-in backend registry.
func WithRegistry(r *agent.Registry) Option {
	return func(o *options) {
		o.registry = r
	}
}

// WithClient uses c instead of building a backend from llm_type.
func WithClient(c agent.Client) Option {
	return func(o *options) {
		o.client = c
	}
}

// ResumeLatest makes WithResume pick the most recent checkpoint.
const ResumeLatest = "latest"

// WithResume continues the run whose checkpoint lives in dir, a session
// directory relative to output_dir, or ResumeLatest.
func WithResume(dir string) Option {
	return func(o *options) {
		o.resume = dir
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func withClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// New wires every collaborator described by cfg.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	o := options{
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.registry == nil {
		o.registry = agent.NewRegistry()
	}

	a := &App{
		Config: cfg,
		Store:  storage.NewFileSystem(cfg.OutputDir),
		logger: o.logger.With("component", "app"),
	}

	client, err := a.buildClient(o)
	if err != nil {
		return nil, err
	}
	a.Client = client

	planner, err := buildPlanner(cfg)
	if err != nil {
		return nil, err
	}

	var checkpoint *output.Checkpoint
	runID := uuid.New().String()
	dir := storage.SessionPath(runID, premise(cfg), storage.ParseSessionNaming(cfg.SessionNaming), o.now())
	if o.resume == ResumeLatest {
		o.resume, err = output.LatestCheckpoint(ctx, a.Store)
		if err != nil {
			return nil, fmt.Errorf("resuming latest run: %w", err)
		}
	}
	if o.resume != "" {
		if !a.Store.Exists(ctx, path.Join(o.resume, output.CheckpointFile)) {
			return nil, fmt.Errorf("resuming %s: no %s in that directory", o.resume, output.CheckpointFile)
		}
		dir = o.resume
	}

	a.Sink = output.NewFileSink(a.Store, dir,
		output.WithBackend(cfg.LLMType),
		output.WithRawLog(cfg.Logging.RawOutput),
		output.WithLogger(o.logger.With("component", "output")))

	if o.resume != "" {
		checkpoint, err = a.Sink.LoadCheckpoint(ctx)
		if err != nil {
			return nil, fmt.Errorf("resuming %s: %w", o.resume, err)
		}
		runID = checkpoint.RunID
	}

	sinks := output.MultiSink{a.Sink}
	if cfg.HistoryDB != "" {
		dbPath := cfg.HistoryDB
		if !filepath.IsAbs(dbPath) {
			dbPath = filepath.Join(cfg.OutputDir, dbPath)
		}
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("creating history directory: %w", err)
		}
		history, err := output.OpenHistory(dbPath)
		if err != nil {
			return nil, err
		}
		a.History = history
		sinks = append(sinks, history)
	}

	a.Orchestrator = core.New(StorySetting(cfg), GenerationConfig(cfg), client,
		core.WithPlanner(planner),
		core.WithRetryPolicy(RetryPolicy(cfg)),
		core.WithSink(sinks),
		core.WithDigestBudget(cfg.Limits.DigestBudget),
		core.WithRunID(runID),
		core.WithMarkers(Markers(cfg)...),
		core.WithLogger(o.logger.With("component", "orchestrator")),
	)

	if checkpoint != nil {
		if err := a.Orchestrator.Restore(checkpoint.RunID, checkpoint.Sections); err != nil {
			a.Close()
			return nil, fmt.Errorf("restoring checkpoint: %w", err)
		}
		a.logger.Info("Resuming run", "run_id", runID, "sections", len(checkpoint.Sections), "dir", dir)
	}

	return a, nil
}

func (a *App) buildClient(o options) (agent.Client, error) {
	cfg := a.Config

	client := o.client
	if client == nil {
		var err error
		client, err = o.registry.Create(cfg.LLMType, cfg.LLMConfig,
			agent.WithTimeout(cfg.Limits.RequestTimeout),
			agent.WithRateLimit(cfg.Limits.RateLimit.RequestsPerMinute, cfg.Limits.RateLimit.BurstSize),
			agent.WithLogger(o.logger.With("component", "llm", "llm_type", cfg.LLMType)),
		)
		if err != nil {
			return nil, err
		}
	}

	if cfg.Cache.Enabled {
		namespace := cfg.LLMType
		if model, ok := cfg.LLMConfig["model"].(string); ok && model != "" {
			namespace += "/" + model
		}
		client = agent.WithCache(client, agent.NewResponseCache(a.Store, cfg.Cache.TTL), namespace)
	}
	return client, nil
}

func buildPlanner(cfg *config.Config) (*core.Planner, error) {
	opts := []core.PlannerOption{core.WithClosure(Closure(cfg))}

	if path := cfg.Prompts.SectionTemplate; path != "" {
		tmpl, err := agent.NewPromptCache(core.PromptFuncs()).LoadTemplate("section", path)
		if err != nil {
			return nil, fmt.Errorf("loading section template: %w", err)
		}
		opts = append(opts, core.WithTemplate(tmpl))
	}

	if g := cfg.Generation; g != nil {
		if g.Closure.Disabled || len(g.Closure.Markers) == 0 {
			opts = append(opts, core.WithEndMarker(""))
		} else {
			opts = append(opts, core.WithEndMarker(g.Closure.Markers[0]))
		}
	}
	return core.NewPlanner(opts...), nil
}

// Run executes the story, bounded by limits.run_timeout when set.
func (a *App) Run(ctx context.Context, opts ...core.StartOption) (*core.FinalStory, error) {
	if timeout := a.Config.Limits.RunTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return a.Orchestrator.Start(ctx, opts...)
}

// OutputDir is the directory holding this run's files.
func (a *App) OutputDir() string {
	return filepath.Join(a.Store.BaseDir(), a.Sink.Dir())
}

func (a *App) Close() error {
	if a.History != nil {
		return a.History.Close()
	}
	return nil
}

func premise(cfg *config.Config) string {
	if cfg.StorySetting == nil {
		return ""
	}
	return cfg.StorySetting.Premise
}
