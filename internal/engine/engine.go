// Package engine composes the leaf subsystems (scanner, parser, discovery
// cache, filter, fixture resolver, scheduler, bridge) into the public
// engine surface spec §6.1 describes: discover/filter/run, consumed by the
// CLI collaborator (cmd/runner) and driving the fixed plugin hook points
// through internal/plugin. Mirrors the role lci's internal/indexing
// MasterIndex plays as the thin orchestration layer sitting between
// cmd/lci and that engine's individual subsystems.
package engine

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/standardbeagle/gofast-runner/internal/discoverycache"
	"github.com/standardbeagle/gofast-runner/internal/filter"
	"github.com/standardbeagle/gofast-runner/internal/fixtures"
	"github.com/standardbeagle/gofast-runner/internal/parser"
	"github.com/standardbeagle/gofast-runner/internal/plugin"
	"github.com/standardbeagle/gofast-runner/internal/rerrors"
	"github.com/standardbeagle/gofast-runner/internal/scanner"
	"github.com/standardbeagle/gofast-runner/internal/scheduler"
	"github.com/standardbeagle/gofast-runner/internal/types"
)

// DiscoveryResult is everything a run needs after discovery: the ordered
// TestItem vector, the fixtures keyed by defining file (the resolver's
// input shape), per-file lifecycle hooks, and any non-fatal warnings or
// collection errors gathered along the way (spec §6.1
// "discover(...) -> (TestItems, Fixtures, Warnings)").
type DiscoveryResult struct {
	Items            []types.TestItem
	FixturesByFile   map[string][]types.Fixture
	Hooks            map[string]scheduler.Hooks
	Warnings         []scanner.Warning
	CollectionErrors []error
	ScanRoot         string
}

// Engine holds the configuration and plugin registry shared across a run's
// discover/filter/run calls.
type Engine struct {
	Roots          []string
	Include        []string
	Exclude        []string
	FollowSymlinks bool
	ScanWorkers    int
	CachePath      string
	DisableCache   bool

	Hooks *plugin.Registry // nil is fine; dispatch on a nil registry is skipped
}

// New builds an Engine with no registered hooks.
func New(roots, include, exclude []string, followSymlinks bool) *Engine {
	return &Engine{
		Roots:          roots,
		Include:        include,
		Exclude:        exclude,
		FollowSymlinks: followSymlinks,
		Hooks:          plugin.NewRegistry(),
	}
}

func (e *Engine) dispatch(ctx context.Context, point plugin.Point, data map[string]interface{}) {
	if e.Hooks == nil {
		return
	}
	_ = e.Hooks.Dispatch(ctx, plugin.Event{Point: point, Data: data})
}

// Discover implements spec §6.1's discover entry point: pure and
// side-effect free except for the discovery cache read/write (spec
// "Inputs"/"Output" and §4.3's persistence contract). cachePath empty or
// e.DisableCache true skips the cache entirely.
func (e *Engine) Discover(ctx context.Context) (*DiscoveryResult, error) {
	e.dispatch(ctx, plugin.PointCollectionStart, nil)

	sc := scanner.New(e.Roots, e.Include, e.Exclude, e.FollowSymlinks, e.ScanWorkers)
	paths, warnings, err := sc.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("engine: scan failed: %w", err)
	}
	sorted := scanner.SortPaths(paths)

	var cache *discoverycache.Cache
	if !e.DisableCache && e.CachePath != "" {
		cache = discoverycache.Load(e.CachePath)
	}

	p := parser.New()
	var items []types.TestItem
	fixturesByFile := make(map[string][]types.Fixture)
	hooks := make(map[string]scheduler.Hooks)
	var collectionErrs []error
	live := make(map[string]struct{}, len(sorted))

	for _, path := range sorted {
		live[path] = struct{}{}

		info, statErr := os.Stat(path)
		if statErr != nil {
			warnings = append(warnings, scanner.Warning{Path: path, Err: statErr})
			continue
		}

		if cache != nil {
			if payload, ok := cache.Lookup(path, info); ok {
				items = append(items, payload.Items...)
				fixturesByFile[path] = payload.Fixtures
				hooks[path] = payload.Hooks
				continue
			}
		}

		content, readErr := os.ReadFile(path)
		if readErr != nil {
			warnings = append(warnings, scanner.Warning{Path: path, Err: readErr})
			continue
		}

		result, parseErr := p.ParseFile(path, content)
		if parseErr != nil {
			collectionErrs = append(collectionErrs, rerrors.NewCollectionError("", path, "parse failed", parseErr))
			// A file that fails to parse under Tier B still needs a
			// TestResult, not just a side-channel warning (§4.2 "emits a
			// collection error attached to that file (a synthetic
			// TestItem with outcome=error)"): synthesize one so it flows
			// through filter/schedule/run like any other item.
			items = append(items, types.TestItem{
				ID:              path + "::<collection-error>",
				File:            path,
				CallableName:    "<collection error>",
				CollectionError: parseErr.Error(),
			})
			continue
		}

		for _, issue := range result.CollectionErrors {
			collectionErrs = append(collectionErrs, rerrors.NewCollectionError(issue.TestID, path, issue.Reason, issue.Err))
		}

		items = append(items, result.Items...)
		fixturesByFile[path] = result.Fixtures
		hooks[path] = result.Hooks

		if cache != nil {
			cache.Store(path, info, result)
		}
	}

	if cache != nil {
		cache.GC(live)
		if err := cache.Flush(); err != nil {
			return nil, fmt.Errorf("engine: discovery cache flush: %w", err)
		}
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].File < items[j].File })

	e.dispatch(ctx, plugin.PointCollectionFinish, nil)

	return &DiscoveryResult{
		Items:            items,
		FixturesByFile:   fixturesByFile,
		Hooks:            hooks,
		Warnings:         warnings,
		CollectionErrors: collectionErrs,
		ScanRoot:         commonRoot(e.Roots),
	}, nil
}

// Filter implements spec §6.1's filter entry point: a deterministic
// reduction by keyword substring and/or marker expression. The
// collection-modify-items hook point fires after the built-in criteria are
// applied; the hook receives only the filtered count (Data["count"]), not
// the items, and its result does not change the returned vector (spec §6.1
// "their return values are advisory ... a pure transformation of the
// filtered vector").
func (e *Engine) Filter(ctx context.Context, items []types.TestItem, keyword, markerExpr string) ([]types.TestItem, error) {
	f, err := filter.New(keyword, markerExpr)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	filtered := f.Apply(items)
	e.dispatch(ctx, plugin.PointCollectionModifyItems, map[string]interface{}{"count": len(filtered)})
	return filtered, nil
}

// RunOptions configures one call to Run.
type RunOptions struct {
	Strategy   scheduler.Config
	NewBridge  scheduler.BridgeFactory
}

// Run implements spec §6.1's run entry point: resolves every item's
// fixture plan and drives the scheduler, returning the deterministically
// ordered TestResult stream (spec "results emitted in item order").
func (e *Engine) Run(ctx context.Context, disc *DiscoveryResult, items []types.TestItem, opts RunOptions) (<-chan types.TestResult, error) {
	e.dispatch(ctx, plugin.PointSessionStart, nil)

	resolver := fixtures.New(disc.ScanRoot, disc.FixturesByFile)
	sched := scheduler.New(opts.Strategy, resolver, disc.Hooks, opts.NewBridge)

	out, err := sched.Run(ctx, items)
	if err != nil {
		return nil, fmt.Errorf("engine: run failed: %w", err)
	}

	final := make(chan types.TestResult, cap(out))
	go func() {
		defer close(final)
		defer e.dispatch(context.Background(), plugin.PointSessionFinish, nil)
		for r := range out {
			e.dispatch(ctx, plugin.PointRunTestLogReport, map[string]interface{}{"id": r.DisplayID, "outcome": r.Outcome.String()})
			final <- r
		}
	}()
	return final, nil
}

// commonRoot picks the scan-root bound used by the fixture resolver's
// upward shared-fixtures walk (spec §4.5): the first configured root when
// present, "." otherwise.
func commonRoot(roots []string) string {
	if len(roots) == 0 {
		return "."
	}
	return roots[0]
}
