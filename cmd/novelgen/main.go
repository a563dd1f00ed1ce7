// Command novelgen writes a story section by section with an LLM backend.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/vampirenirmal/novelgen/internal/app"
	"github.com/vampirenirmal/novelgen/internal/config"
	"github.com/vampirenirmal/novelgen/internal/core"
	"github.com/vampirenirmal/novelgen/internal/logging"
	"github.com/vampirenirmal/novelgen/internal/server"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

type flags struct {
	configPath  string
	maxSections int
	length      string
	statusAddr  string
	resume      string
}

func parseFlags(args []string, stderr io.Writer) (flags, error) {
	var f flags
	fs := flag.NewFlagSet("novelgen", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&f.configPath, "config", "", "path to the YAML config (default $NOVELGEN_CONFIG or config.yaml)")
	fs.IntVar(&f.maxSections, "max-sections", 0, "override generation.max_sections")
	fs.StringVar(&f.length, "length", "", "override generation.length (short, medium, long)")
	fs.StringVar(&f.statusAddr, "status-addr", "", "serve /status and /metrics on this address")
	fs.StringVar(&f.resume, "resume", "", "session directory under output_dir to resume, or \"latest\"")
	err := fs.Parse(args)
	return f, err
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	f, err := parseFlags(args, stderr)
	if err != nil {
		return 2
	}

	var startOpts []core.StartOption
	if f.maxSections != 0 {
		startOpts = append(startOpts, core.WithMaxSections(f.maxSections))
	}
	if f.length != "" {
		l, err := core.ParseTargetLength(f.length)
		if err != nil {
			fmt.Fprintf(stderr, "Error: -length: %v\n", err)
			return 2
		}
		startOpts = append(startOpts, core.WithTargetLength(l))
	}

	cfg, err := config.Load(config.ResolvePath(f.configPath))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	logger := logging.Setup(cfg.Logging.Level, cfg.Logging.Format, stderr)

	var appOpts []app.Option
	appOpts = append(appOpts, app.WithLogger(logger))
	if f.resume != "" {
		appOpts = append(appOpts, app.WithResume(f.resume))
	}

	a, err := app.New(ctx, cfg, appOpts...)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer a.Close()

	statusAddr := f.statusAddr
	if statusAddr == "" {
		statusAddr = cfg.StatusAddr
	}

	var story *core.FinalStory
	var runErr error

	g, gctx := errgroup.WithContext(ctx)
	serverCtx, stopServer := context.WithCancel(gctx)
	defer stopServer()

	g.Go(func() error {
		defer stopServer()
		story, runErr = a.Run(gctx, startOpts...)
		return nil
	})
	if statusAddr != "" {
		srv := server.New(a.Orchestrator, server.WithHistory(a.History), server.WithLogger(logger))
		g.Go(func() error {
			return srv.ListenAndServe(serverCtx, statusAddr)
		})
	}

	if err := g.Wait(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		if runErr == nil {
			return 1
		}
	}

	if story != nil && len(story.Sections) > 0 {
		fmt.Fprintln(stdout, story.Text())
		fmt.Fprintln(stdout)
	}
	if story != nil {
		fmt.Fprintf(stdout, "Sections: %d\n", len(story.Sections))
		fmt.Fprintf(stdout, "Length: %d characters\n", story.Length())
	}
	fmt.Fprintf(stdout, "Output: %s\n", a.OutputDir())

	if runErr != nil {
		fmt.Fprintf(stderr, "Generation failed: %v\n", runErr)
		if story != nil && len(story.Sections) > 0 {
			fmt.Fprintf(stderr, "Resume with: -resume %s\n", a.Sink.Dir())
		}
		return 1
	}
	return 0
}
