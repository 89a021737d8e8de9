// Package config loads the CLI collaborator's configuration surface: scan
// roots, inclusion/exclusion patterns, cache path, worker-pool sizing, and
// strategy thresholds. Mirrors lci's internal/config package (Config struct
// + KDL loader + Validator), scoped to the knobs spec.md's engine actually
// consumes — spec.md lists full configuration-file *semantics* as an
// external-collaborator concern, but the ambient config layer itself is
// part of the repo's carried stack, same as logging.
package config

import (
	"os"
	"runtime"
)

// Config is the fully-resolved, defaulted configuration handed to the
// engine's discover/run entry points.
type Config struct {
	Project  Project
	Scan     Scan
	Cache    Cache
	Strategy Strategy
	Run      Run
}

type Project struct {
	Root string
}

// Scan controls the source scanner (spec §4.1).
type Scan struct {
	Roots      []string
	Include    []string // default: basename begins with test_ or ends with _test.<ext>
	Exclude    []string // directory names excluded outright
	FollowSymlinks bool
}

// Cache controls the discovery cache (spec §4.3, §6.2).
type Cache struct {
	Path    string
	Disable bool
}

// Strategy controls the scheduler's strategy selection (spec §4.6).
type Strategy struct {
	EmbeddedMaxTests    int // <= this many tests: Embedded
	WarmWorkersMaxTests int // <= this many tests: WarmWorkers; above: WorkStealing
	WarmWorkerCount     int
	ParallelWorkerCount int // 0 = auto-detect (NumCPU)
	Force               string // "", "embedded", "warm", "parallel"
}

// Run controls per-run behavior not tied to a specific strategy.
type Run struct {
	FailFast       bool
	TimeoutPerTest int // seconds; 0 = disabled
	CancelGraceSec int
}

const (
	DefaultEmbeddedMaxTests    = 20
	DefaultWarmWorkersMaxTests = 100
	DefaultWarmWorkerCount     = 4
	DefaultCancelGraceSec      = 5
)

// Default returns a Config with spec-mandated defaults (thresholds per
// §4.6, cache path per §4.3) rooted at root.
func Default(root string) *Config {
	return &Config{
		Project: Project{Root: root},
		Scan: Scan{
			Roots:   []string{root},
			Include: []string{"test_*.py", "*_test.py"},
			Exclude: defaultExclusions(),
		},
		Cache: Cache{
			Path: ".runner_cache",
		},
		Strategy: Strategy{
			EmbeddedMaxTests:    DefaultEmbeddedMaxTests,
			WarmWorkersMaxTests: DefaultWarmWorkersMaxTests,
			WarmWorkerCount:     DefaultWarmWorkerCount,
			ParallelWorkerCount: runtime.NumCPU(),
		},
		Run: Run{
			CancelGraceSec: DefaultCancelGraceSec,
		},
	}
}

func defaultExclusions() []string {
	return []string{
		"**/.git/**", "**/.hg/**", "**/.svn/**",
		"**/__pycache__/**", "**/.pytest_cache/**", "**/.mypy_cache/**",
		"**/.venv/**", "**/venv/**", "**/node_modules/**",
		"**/.tox/**", "**/.eggs/**", "**/*.egg-info/**",
		"**/build/**", "**/dist/**",
	}
}

// Load resolves configuration for projectRoot: defaults, overridden by
// .testrunner.kdl if present (LoadKDL), then validated.
func Load(projectRoot string) (*Config, error) {
	abs := projectRoot
	if a, err := absPath(projectRoot); err == nil {
		abs = a
	}
	cfg := Default(abs)

	kdlCfg, err := LoadKDL(abs)
	if err != nil {
		return nil, err
	}
	if kdlCfg != nil {
		Merge(cfg, kdlCfg)
	}

	if err := NewValidator().ValidateAndSetDefaults(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func absPath(p string) (string, error) {
	if p == "" {
		p = "."
	}
	wd, err := os.Getwd()
	if err != nil {
		return p, err
	}
	if p == "." {
		return wd, nil
	}
	return p, nil
}

// Merge overlays non-zero fields of override onto base, in place, except
// that Scan.Exclude patterns are appended to base's and boolean flags are
// OR'd (an override cannot turn a base flag off).
func Merge(base, override *Config) {
	if override == nil {
		return
	}
	if override.Project.Root != "" {
		base.Project.Root = override.Project.Root
	}
	if len(override.Scan.Roots) > 0 {
		base.Scan.Roots = override.Scan.Roots
	}
	if len(override.Scan.Include) > 0 {
		base.Scan.Include = override.Scan.Include
	}
	if len(override.Scan.Exclude) > 0 {
		base.Scan.Exclude = append(base.Scan.Exclude, override.Scan.Exclude...)
	}
	if override.Cache.Path != "" {
		base.Cache.Path = override.Cache.Path
	}
	base.Cache.Disable = base.Cache.Disable || override.Cache.Disable
	if override.Strategy.EmbeddedMaxTests > 0 {
		base.Strategy.EmbeddedMaxTests = override.Strategy.EmbeddedMaxTests
	}
	if override.Strategy.WarmWorkersMaxTests > 0 {
		base.Strategy.WarmWorkersMaxTests = override.Strategy.WarmWorkersMaxTests
	}
	if override.Strategy.WarmWorkerCount > 0 {
		base.Strategy.WarmWorkerCount = override.Strategy.WarmWorkerCount
	}
	if override.Strategy.ParallelWorkerCount > 0 {
		base.Strategy.ParallelWorkerCount = override.Strategy.ParallelWorkerCount
	}
	if override.Strategy.Force != "" {
		base.Strategy.Force = override.Strategy.Force
	}
	base.Run.FailFast = base.Run.FailFast || override.Run.FailFast
	if override.Run.TimeoutPerTest > 0 {
		base.Run.TimeoutPerTest = override.Run.TimeoutPerTest
	}
	if override.Run.CancelGraceSec > 0 {
		base.Run.CancelGraceSec = override.Run.CancelGraceSec
	}
}
