// Package scheduler implements the Scheduler (spec §4.6): strategy
// selection by post-filter test count, the per-test lifecycle (marker
// evaluation, fixture setup, hook invocation, call, teardown), scope
// transitions, fail-fast, and cancellation. Grounded on
// standardbeagle-lci's internal/indexing worker-pool shape (errgroup-driven
// fan-out with a shared work channel) generalised from file-indexing
// tasks to per-test lifecycle tasks.
package scheduler

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/standardbeagle/gofast-runner/internal/bridge"
	"github.com/standardbeagle/gofast-runner/internal/debug"
	"github.com/standardbeagle/gofast-runner/internal/fixtures"
	"github.com/standardbeagle/gofast-runner/internal/rerrors"
	"github.com/standardbeagle/gofast-runner/internal/types"
)

// Strategy is one of the three execution strategies of spec §4.6.
type Strategy uint8

const (
	StrategyEmbedded Strategy = iota
	StrategyWarmWorkers
	StrategyParallel
)

func (s Strategy) String() string {
	switch s {
	case StrategyEmbedded:
		return "embedded"
	case StrategyWarmWorkers:
		return "warm-workers"
	case StrategyParallel:
		return "parallel"
	default:
		return "unknown"
	}
}

// Config governs strategy selection and run behaviour.
type Config struct {
	EmbeddedMaxTests    int
	WarmWorkersMaxTests int
	WarmWorkerCount     int
	ParallelWorkerCount int
	Force               string // "", "embedded", "warm-workers", "parallel"

	FailFast       bool
	TimeoutPerTest time.Duration // 0 disables
	CancelGrace    time.Duration
}

// SelectStrategy implements spec §4.6's threshold table, honouring an
// explicit Force override ("The threshold boundaries are the default; a
// caller may force any strategy.").
func SelectStrategy(testCount int, cfg Config) Strategy {
	switch cfg.Force {
	case "embedded":
		return StrategyEmbedded
	case "warm-workers":
		return StrategyWarmWorkers
	case "parallel":
		return StrategyParallel
	}
	switch {
	case testCount <= cfg.EmbeddedMaxTests:
		return StrategyEmbedded
	case testCount <= cfg.WarmWorkersMaxTests:
		return StrategyWarmWorkers
	default:
		return StrategyParallel
	}
}

// Hooks is a file's lifecycle hooks, keyed "" for module scope or by
// class name for class scope (mirrors parser.FileResult.Hooks).
type Hooks map[string]types.LifecycleHooks

// BridgeFactory builds a fresh Bridge for one worker (spec §5 "each
// owning a host-interpreter subprocess").
type BridgeFactory func(workerID int) (bridge.Bridge, error)

// Scheduler drives a filtered, fixture-resolved TestItem vector to
// completion.
type Scheduler struct {
	Config   Config
	Resolver *fixtures.Resolver
	Hooks    map[string]Hooks // keyed by file
	NewBridge BridgeFactory
}

// New builds a Scheduler.
func New(cfg Config, resolver *fixtures.Resolver, hooks map[string]Hooks, newBridge BridgeFactory) *Scheduler {
	return &Scheduler{Config: cfg, Resolver: resolver, Hooks: hooks, NewBridge: newBridge}
}

// sortForExecution orders tests primary by module, secondary by class,
// tertiary by source order (spec §4.5 "Execution ordering across the
// run"): a class's tests stay together and the class takes its place at
// the source line of its first test, so module-level functions before and
// after it keep their source position. An item's position in the returned
// slice becomes its TestResult's SequenceIndex, used for deterministic
// out-of-order-completion draining (spec §5 "Ordering guarantees").
func sortForExecution(items []types.TestItem) []types.TestItem {
	sorted := make([]types.TestItem, len(items))
	copy(sorted, items)
	classStart := make(map[string]int)
	for _, it := range items {
		if k := it.ClassKey(); k != "" {
			if l, ok := classStart[k]; !ok || it.Location.Line < l {
				classStart[k] = it.Location.Line
			}
		}
	}
	groupLine := func(it types.TestItem) int {
		if k := it.ClassKey(); k != "" {
			return classStart[k]
		}
		return it.Location.Line
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].ModuleKey() != sorted[j].ModuleKey() {
			return sorted[i].ModuleKey() < sorted[j].ModuleKey()
		}
		if gi, gj := groupLine(sorted[i]), groupLine(sorted[j]); gi != gj {
			return gi < gj
		}
		if sorted[i].ClassKey() != sorted[j].ClassKey() {
			return sorted[i].ClassKey() < sorted[j].ClassKey()
		}
		return sorted[i].Location.Line < sorted[j].Location.Line
	})
	return sorted
}

// Run selects a strategy by len(items) and drives every item's lifecycle
// to completion, emitting TestResults on the returned channel in the
// deterministic sorted order required by spec §5, regardless of
// execution concurrency.
func (s *Scheduler) Run(ctx context.Context, items []types.TestItem) (<-chan types.TestResult, error) {
	sorted := sortForExecution(items)
	strategy := SelectStrategy(len(sorted), s.Config)
	debug.LogSchedule("selected strategy %s for %d tests", strategy, len(sorted))

	switch strategy {
	case StrategyEmbedded:
		return s.runEmbedded(ctx, sorted)
	default:
		workerCount := s.Config.WarmWorkerCount
		if strategy == StrategyParallel {
			workerCount = s.Config.ParallelWorkerCount
		}
		return s.runConcurrent(ctx, sorted, workerCount)
	}
}

// runEmbedded runs every test sequentially in one bridge, one fixture
// cache (spec §4.6 "Embedded: ... tests run sequentially in-process").
func (s *Scheduler) runEmbedded(ctx context.Context, items []types.TestItem) (<-chan types.TestResult, error) {
	br, err := s.NewBridge(0)
	if err != nil {
		return nil, rerrors.NewBridgeError("start", "", err)
	}
	out := make(chan types.TestResult, len(items))

	go func() {
		defer close(out)
		defer br.Shutdown(context.Background(), s.Config.CancelGrace)

		cache := NewFixtureCache()
		d := &driver{sched: s, bridge: br, cache: cache}
		prevKey := transitionKey{}

		for i, item := range items {
			if ctx.Err() != nil {
				break
			}
			newKey := transitionKey{file: item.ModuleKey(), className: item.ClassName}
			if newKey != prevKey {
				d.transition(ctx, prevKey, newKey)
				prevKey = newKey
			}

			result := d.execute(ctx, item)
			result.SequenceIndex = i
			out <- result

			if s.Config.FailFast && result.Outcome == types.OutcomeFailed {
				break
			}
		}
		d.transition(ctx, prevKey, transitionKey{})
		cache.TeardownScope(context.Background(), types.ScopeSession, "session", br)
	}()

	return out, nil
}

// runConcurrent partitions items into module-grouped batches across
// workerCount goroutines, each owning its own Bridge and FixtureCache
// (spec §5 "FixtureCache is per-worker"), and drains completions in
// sorted order before forwarding (spec §5 "the scheduler buffers
// out-of-order completions and drains them in index order"). A shared
// channel of per-module batches lets idle workers pick up the next
// batch as soon as they finish theirs — the practical Go equivalent of
// the work-stealing deque spec §4.6 describes for the >100 tier; no pack
// library supplies a lock-free deque, so a buffered channel (consumers
// racing to receive) fills that role here.
func (s *Scheduler) runConcurrent(ctx context.Context, items []types.TestItem, workerCount int) (<-chan types.TestResult, error) {
	if workerCount <= 0 {
		workerCount = 1
	}
	batches := groupByModule(items)

	raw := make(chan types.TestResult, len(items))
	batchCh := make(chan []types.TestItem, len(batches))
	for _, b := range batches {
		batchCh <- b
	}
	close(batchCh)

	var failFastTripped atomic.Bool
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workerCount; w++ {
		workerID := w
		g.Go(func() error {
			// bridges collects every bridge this goroutine ever starts
			// (the original plus any replacements spun up after a worker
			// crash, spec §7) so all of them get shut down on return,
			// not just whichever one is current.
			var bridges []bridge.Bridge
			defer func() {
				for _, b := range bridges {
					b.Shutdown(context.Background(), s.Config.CancelGrace)
				}
			}()

			spawn := func() (bridge.Bridge, *FixtureCache, error) {
				br, err := s.NewBridge(workerID)
				if err != nil {
					return nil, nil, err
				}
				bridges = append(bridges, br)
				return br, NewFixtureCache(), nil
			}

			br, cache, err := spawn()
			if err != nil {
				return rerrors.NewBridgeError("start", "", err)
			}
			d := &driver{sched: s, bridge: br, cache: cache}
			prevKey := transitionKey{}

			for batch := range batchCh {
				if gctx.Err() != nil || failFastTripped.Load() {
					return nil
				}
				for _, item := range batch {
					if gctx.Err() != nil || failFastTripped.Load() {
						break
					}
					newKey := transitionKey{file: item.ModuleKey(), className: item.ClassName}
					if newKey != prevKey {
						d.transition(gctx, prevKey, newKey)
						prevKey = newKey
					}
					result := d.execute(gctx, item)
					raw <- result
					if s.Config.FailFast && result.Outcome == types.OutcomeFailed {
						failFastTripped.Store(true)
					}
					if result.WorkerCrashed {
						// The subprocess backing br is gone; its fixture
						// cache's scope instances died with it. Spin up a
						// replacement so the remaining batch items still
						// get dispatched (spec §7 "the scheduler spins up
						// a replacement worker").
						debug.LogSchedule("worker %d: bridge crashed on %s, restarting", workerID, item.DisplayID())
						newBr, newCache, serr := spawn()
						if serr != nil {
							return rerrors.NewBridgeError("restart", "", serr)
						}
						br, cache = newBr, newCache
						d = &driver{sched: s, bridge: br, cache: cache}
						prevKey = transitionKey{}
					}
				}
			}
			d.transition(gctx, prevKey, transitionKey{})
			cache.TeardownScope(context.Background(), types.ScopeSession, "session", br)
			return nil
		})
	}

	go func() {
		g.Wait()
		close(raw)
	}()

	return reorder(items, raw), nil
}

// reorder buffers completions and drains them by the original sorted
// index, satisfying the deterministic-ordering invariant (spec §8 "The
// TestResult stream's order equals the sorted TestItem order regardless
// of strategy") even though workers complete out of order.
func reorder(items []types.TestItem, raw <-chan types.TestResult) <-chan types.TestResult {
	indexByID := make(map[string]int, len(items))
	for i, it := range items {
		indexByID[it.ID] = i
	}

	out := make(chan types.TestResult, len(items))
	go func() {
		defer close(out)
		pending := make(map[int]types.TestResult)
		next := 0

		for r := range raw {
			idx, ok := indexByID[r.ItemID]
			if !ok {
				continue
			}
			r.SequenceIndex = idx
			pending[idx] = r
			for {
				result, ok := pending[next]
				if !ok {
					break
				}
				out <- result
				delete(pending, next)
				next++
			}
		}

		// raw closed with a permanent gap at `next`: an item at or below
		// that index was never dispatched (fail-fast halted dispatch
		// before its worker reached it, or its worker crashed). The
		// completions that already arrived for indices past the gap are
		// still real results and must not be dropped — flush them in
		// index order instead of leaving them stranded in `pending`.
		remaining := make([]int, 0, len(pending))
		for idx := range pending {
			remaining = append(remaining, idx)
		}
		sort.Ints(remaining)
		for _, idx := range remaining {
			out <- pending[idx]
		}
	}()
	return out
}

func groupByModule(items []types.TestItem) [][]types.TestItem {
	var batches [][]types.TestItem
	var current []types.TestItem
	var currentModule string
	for _, item := range items {
		if item.ModuleKey() != currentModule && len(current) > 0 {
			batches = append(batches, current)
			current = nil
		}
		currentModule = item.ModuleKey()
		current = append(current, item)
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}
