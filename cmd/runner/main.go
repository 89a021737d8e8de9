// Command runner is the thin CLI shell around the engine's public surface
// (spec §6.1), mirroring lci's cmd/lci/main.go: a urfave/cli/v2 app whose
// commands do little more than load config, call into the engine, and
// print results. Argument-parsing depth, report formatting, and
// subcommand richness are intentionally minimal (spec.md places the full
// CLI surface out of scope) — this exists so the engine's discover/
// filter/run surface has a real, runnable consumer.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/standardbeagle/gofast-runner/internal/bridge"
	"github.com/standardbeagle/gofast-runner/internal/config"
	"github.com/standardbeagle/gofast-runner/internal/debug"
	"github.com/standardbeagle/gofast-runner/internal/engine"
	"github.com/standardbeagle/gofast-runner/internal/scheduler"
	"github.com/standardbeagle/gofast-runner/internal/types"
	"github.com/standardbeagle/gofast-runner/internal/version"
)

// exit codes per spec §6.5.
const (
	exitOK              = 0
	exitFailures        = 1
	exitCollectionError = 2
	exitUsage           = 3
	exitCancelled       = 130
)

func main() {
	debug.SetOutput(os.Stderr)

	app := &cli.App{
		Name:    "runner",
		Usage:   "a high-throughput test runner",
		Version: version.String(),
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "root", Aliases: []string{"r"}, Usage: "project root to scan", Value: "."},
			&cli.StringFlag{Name: "keyword", Aliases: []string{"k"}, Usage: "keyword substring filter"},
			&cli.StringFlag{Name: "markers", Aliases: []string{"m"}, Usage: "marker expression filter, e.g. 'slow and not flaky'"},
			&cli.BoolFlag{Name: "fail-fast", Aliases: []string{"x"}, Usage: "stop after the first failure"},
			&cli.StringFlag{Name: "strategy", Usage: "force a strategy: embedded, warm, parallel"},
			&cli.StringFlag{Name: "driver", Usage: "path to the host-language driver script", Value: "driver.py"},
			&cli.DurationFlag{Name: "timeout", Usage: "per-test timeout, 0 disables"},
			&cli.BoolFlag{Name: "no-cache", Usage: "disable the discovery cache"},
		},
		Commands: []*cli.Command{
			{Name: "run", Usage: "discover, filter, and run tests", Action: runCommand},
			{Name: "collect", Usage: "discover and filter without running", Action: collectCommand},
			{Name: "version", Usage: "print version information", Action: func(c *cli.Context) error {
				fmt.Println(version.String())
				return nil
			}},
		},
		Action: runCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "runner:", err)
		os.Exit(exitUsage)
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	root, err := filepath.Abs(c.String("root"))
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}
	if c.Bool("fail-fast") {
		cfg.Run.FailFast = true
	}
	if strat := c.String("strategy"); strat != "" {
		cfg.Strategy.Force = strat
	}
	if d := c.Duration("timeout"); d > 0 {
		cfg.Run.TimeoutPerTest = int(d.Seconds())
	}
	if c.Bool("no-cache") {
		cfg.Cache.Disable = true
	}
	return cfg, nil
}

func buildEngine(cfg *config.Config) *engine.Engine {
	e := engine.New(cfg.Scan.Roots, cfg.Scan.Include, cfg.Scan.Exclude, cfg.Scan.FollowSymlinks)
	e.CachePath = cfg.Cache.Path
	e.DisableCache = cfg.Cache.Disable
	return e
}

func collectCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err, exitUsage)
	}
	e := buildEngine(cfg)

	ctx := context.Background()
	disc, err := e.Discover(ctx)
	if err != nil {
		return cli.Exit(err, exitCollectionError)
	}
	filtered, err := e.Filter(ctx, disc.Items, c.String("keyword"), c.String("markers"))
	if err != nil {
		return cli.Exit(err, exitUsage)
	}

	for _, item := range filtered {
		fmt.Println(item.DisplayID())
	}
	for _, w := range disc.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s: %v\n", w.Path, w.Err)
	}
	if len(disc.CollectionErrors) > 0 {
		for _, e := range disc.CollectionErrors {
			fmt.Fprintln(os.Stderr, "collection error:", e)
		}
		return cli.Exit("collection errors present", exitCollectionError)
	}
	return nil
}

func runCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err, exitUsage)
	}
	e := buildEngine(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		cancel()
	}()

	disc, err := e.Discover(ctx)
	if err != nil {
		return cli.Exit(err, exitCollectionError)
	}
	if len(disc.CollectionErrors) > 0 {
		for _, ce := range disc.CollectionErrors {
			fmt.Fprintln(os.Stderr, "collection error:", ce)
		}
	}

	filtered, err := e.Filter(ctx, disc.Items, c.String("keyword"), c.String("markers"))
	if err != nil {
		return cli.Exit(err, exitUsage)
	}
	if len(filtered) == 0 && len(disc.CollectionErrors) == 0 {
		return nil
	}

	driverPath := c.String("driver")
	opts := engine.RunOptions{
		Strategy: schedulerConfig(cfg),
		NewBridge: func(workerID int) (bridge.Bridge, error) {
			return bridge.StartWorker(workerID, driverPath)
		},
	}

	results, err := e.Run(ctx, disc, filtered, opts)
	if err != nil {
		return cli.Exit(err, exitCollectionError)
	}

	counts := map[types.Outcome]int{}
	for r := range results {
		counts[r.Outcome]++
		printResult(r)
	}

	if ctx.Err() != nil {
		return cli.Exit("cancelled", exitCancelled)
	}
	if counts[types.OutcomeFailed]+counts[types.OutcomeError] > 0 {
		return cli.Exit("", exitFailures)
	}
	if len(disc.CollectionErrors) > 0 {
		return cli.Exit("", exitCollectionError)
	}
	return nil
}

func printResult(r types.TestResult) {
	dur := time.Duration(r.DurationNanos)
	fmt.Printf("%-16s %s (%s)\n", r.Outcome.String(), r.DisplayID, dur)
	if r.Diagnostic != nil {
		fmt.Printf("  %s: %s\n", r.Diagnostic.ExceptionType, r.Diagnostic.Message)
	}
}

func schedulerConfig(cfg *config.Config) scheduler.Config {
	force := ""
	switch cfg.Strategy.Force {
	case "embedded":
		force = "embedded"
	case "warm":
		force = "warm-workers"
	case "parallel":
		force = "parallel"
	}
	return scheduler.Config{
		EmbeddedMaxTests:    cfg.Strategy.EmbeddedMaxTests,
		WarmWorkersMaxTests: cfg.Strategy.WarmWorkersMaxTests,
		WarmWorkerCount:     cfg.Strategy.WarmWorkerCount,
		ParallelWorkerCount: cfg.Strategy.ParallelWorkerCount,
		Force:               force,
		FailFast:            cfg.Run.FailFast,
		TimeoutPerTest:      time.Duration(cfg.Run.TimeoutPerTest) * time.Second,
		CancelGrace:         time.Duration(cfg.Run.CancelGraceSec) * time.Second,
	}
}
