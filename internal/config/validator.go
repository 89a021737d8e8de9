package config

import (
	"fmt"
	"runtime"
)

// Validator validates configuration and sets smart defaults, mirroring
// lci's internal/config.Validator.
type Validator struct{}

func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAndSetDefaults validates cfg and fills in any zero-valued knobs
// that Default/LoadKDL left unset. Returns an error for values that can
// never be sensible (negative thresholds, inverted strategy bounds).
func (v *Validator) ValidateAndSetDefaults(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil config")
	}

	if len(cfg.Scan.Roots) == 0 {
		if cfg.Project.Root == "" {
			return fmt.Errorf("config: no scan roots and no project root configured")
		}
		cfg.Scan.Roots = []string{cfg.Project.Root}
	}

	if cfg.Strategy.EmbeddedMaxTests < 0 {
		return fmt.Errorf("config: strategy.embedded_max_tests must be >= 0, got %d", cfg.Strategy.EmbeddedMaxTests)
	}
	if cfg.Strategy.WarmWorkersMaxTests < cfg.Strategy.EmbeddedMaxTests {
		return fmt.Errorf("config: strategy.warm_workers_max_tests (%d) must be >= embedded_max_tests (%d)",
			cfg.Strategy.WarmWorkersMaxTests, cfg.Strategy.EmbeddedMaxTests)
	}
	if cfg.Strategy.EmbeddedMaxTests == 0 {
		cfg.Strategy.EmbeddedMaxTests = DefaultEmbeddedMaxTests
	}
	if cfg.Strategy.WarmWorkersMaxTests == 0 {
		cfg.Strategy.WarmWorkersMaxTests = DefaultWarmWorkersMaxTests
	}
	if cfg.Strategy.WarmWorkerCount <= 0 {
		cfg.Strategy.WarmWorkerCount = DefaultWarmWorkerCount
	}
	if cfg.Strategy.ParallelWorkerCount <= 0 {
		cfg.Strategy.ParallelWorkerCount = runtime.NumCPU()
	}
	switch cfg.Strategy.Force {
	case "", "embedded", "warm", "parallel":
	default:
		return fmt.Errorf("config: strategy.force must be one of embedded/warm/parallel, got %q", cfg.Strategy.Force)
	}

	if cfg.Run.TimeoutPerTest < 0 {
		return fmt.Errorf("config: run.timeout_per_test must be >= 0, got %d", cfg.Run.TimeoutPerTest)
	}
	if cfg.Run.CancelGraceSec <= 0 {
		cfg.Run.CancelGraceSec = DefaultCancelGraceSec
	}
	if cfg.Cache.Path == "" {
		cfg.Cache.Path = ".runner_cache"
	}

	return nil
}
