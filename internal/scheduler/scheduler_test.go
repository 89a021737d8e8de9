package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/gofast-runner/internal/bridge"
	"github.com/standardbeagle/gofast-runner/internal/fixtures"
	"github.com/standardbeagle/gofast-runner/internal/types"
)

func defaultTestConfig() Config {
	return Config{
		EmbeddedMaxTests:    20,
		WarmWorkersMaxTests: 100,
		WarmWorkerCount:     2,
		ParallelWorkerCount: 2,
	}
}

func drain(t *testing.T, ch <-chan types.TestResult) []types.TestResult {
	t.Helper()
	var out []types.TestResult
	for r := range ch {
		out = append(out, r)
	}
	return out
}

func TestSelectStrategy_Thresholds(t *testing.T) {
	cfg := defaultTestConfig()
	assert.Equal(t, StrategyEmbedded, SelectStrategy(20, cfg))
	assert.Equal(t, StrategyWarmWorkers, SelectStrategy(21, cfg))
	assert.Equal(t, StrategyWarmWorkers, SelectStrategy(100, cfg))
	assert.Equal(t, StrategyParallel, SelectStrategy(101, cfg))
}

func TestSelectStrategy_ForceOverridesThresholds(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.Force = "parallel"
	assert.Equal(t, StrategyParallel, SelectStrategy(1, cfg))
}

// TestScheduler_ScenarioC_FixtureTeardownOrder reproduces spec §8 Scenario
// C: module-scope fixture a, call-scope fixture b depending on a, two
// tests test_x/test_y both taking b.
func TestScheduler_ScenarioC_FixtureTeardownOrder(t *testing.T) {
	const file = "pkg/test_c.py"
	resolver := fixtures.New("pkg", map[string][]types.Fixture{
		file: {
			{Name: "a", File: file, Scope: types.ScopeModule, YieldStyle: true},
			{Name: "b", File: file, Scope: types.ScopeCall, Deps: []string{"a"}, YieldStyle: true},
		},
	})

	items := []types.TestItem{
		{ID: "1", File: file, CallableName: "test_x", FixtureDeps: []string{"b"}, Location: types.Location{Line: 1}},
		{ID: "2", File: file, CallableName: "test_y", FixtureDeps: []string{"b"}, Location: types.Location{Line: 2}},
	}

	fake := bridge.NewFakeBridge()
	sched := New(defaultTestConfig(), resolver, map[string]Hooks{}, func(int) (bridge.Bridge, error) { return fake, nil })

	ch, err := sched.Run(context.Background(), items)
	require.NoError(t, err)
	results := drain(t, ch)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, types.OutcomePassed, r.Outcome)
	}

	assert.Equal(t, []string{
		"fixture:a", "fixture:b", "test:pkg/test_c.py::test_x",
		"teardown:b", "fixture:b", "test:pkg/test_c.py::test_y",
		"teardown:b", "teardown:a",
	}, fake.CallLog)
}

// TestScheduler_ScenarioD_SkipAndExpectedFail reproduces spec §8 Scenario
// D: skip, expected-fail-and-fails, expected-fail-but-passes.
func TestScheduler_ScenarioD_SkipAndExpectedFail(t *testing.T) {
	const file = "pkg/test_d.py"
	resolver := fixtures.New("pkg", map[string][]types.Fixture{})

	skipMarkers := types.NewMarkerSet()
	skipMarkers.Add(types.Marker{Name: types.MarkerSkip, Reason: "not ready"})
	xfMarkers := types.NewMarkerSet()
	xfMarkers.Add(types.Marker{Name: types.MarkerExpectedFail})

	items := []types.TestItem{
		{ID: "1", File: file, CallableName: "test_s", Markers: skipMarkers, Location: types.Location{Line: 1}},
		{ID: "2", File: file, CallableName: "test_xf", Markers: xfMarkers, Location: types.Location{Line: 2}},
		{ID: "3", File: file, CallableName: "test_xp", Markers: xfMarkers, Location: types.Location{Line: 3}},
	}

	fake := bridge.NewFakeBridge()
	fake.TestOutcomes["pkg/test_d.py::test_xf"] = types.OutcomeFailed
	fake.TestOutcomes["pkg/test_d.py::test_xp"] = types.OutcomePassed

	sched := New(defaultTestConfig(), resolver, map[string]Hooks{}, func(int) (bridge.Bridge, error) { return fake, nil })
	ch, err := sched.Run(context.Background(), items)
	require.NoError(t, err)
	results := drain(t, ch)
	require.Len(t, results, 3)

	assert.Equal(t, types.OutcomeSkipped, results[0].Outcome)
	assert.Equal(t, "not ready", results[0].SkipReason)
	assert.Equal(t, types.OutcomeExpectedFail, results[1].Outcome)
	assert.Equal(t, types.OutcomeUnexpectedPass, results[2].Outcome)
}

// TestScheduler_ScenarioE_ClassScopeTransitions reproduces spec §8 Scenario
// E: module setup/teardown bracket a class's setup/teardown, which in turn
// brackets its methods, with a free function after the class.
func TestScheduler_ScenarioE_ClassScopeTransitions(t *testing.T) {
	const file = "pkg/test_e.py"
	resolver := fixtures.New("pkg", map[string][]types.Fixture{})

	items := []types.TestItem{
		{ID: "1", File: file, ClassName: "TestA", CallableName: "test_1", Location: types.Location{Line: 2}},
		{ID: "2", File: file, ClassName: "TestA", CallableName: "test_2", Location: types.Location{Line: 3}},
		{ID: "3", File: file, CallableName: "test_free", Location: types.Location{Line: 10}},
	}

	hooks := map[string]Hooks{
		file: {
			"":      types.LifecycleHooks{SetupModule: "setup_module", TeardownModule: "teardown_module"},
			"TestA": types.LifecycleHooks{SetupClass: "setup_class", TeardownClass: "teardown_class"},
		},
	}

	fake := bridge.NewFakeBridge()
	sched := New(defaultTestConfig(), resolver, hooks, func(int) (bridge.Bridge, error) { return fake, nil })
	ch, err := sched.Run(context.Background(), items)
	require.NoError(t, err)
	results := drain(t, ch)
	require.Len(t, results, 3)

	assert.Equal(t, []string{
		"hook:setup_module", "hook:setup_class",
		"test:pkg/test_e.py::TestA::test_1", "test:pkg/test_e.py::TestA::test_2",
		"hook:teardown_class",
		"test:pkg/test_e.py::test_free",
		"hook:teardown_module",
	}, fake.CallLog)
}

// TestScheduler_FailFast_HaltsAfterFirstFailure exercises spec §4.6's
// fail-fast option in the embedded strategy.
func TestScheduler_FailFast_HaltsAfterFirstFailure(t *testing.T) {
	const file = "pkg/test_ff.py"
	resolver := fixtures.New("pkg", map[string][]types.Fixture{})

	items := []types.TestItem{
		{ID: "1", File: file, CallableName: "test_one", Location: types.Location{Line: 1}},
		{ID: "2", File: file, CallableName: "test_two", Location: types.Location{Line: 2}},
		{ID: "3", File: file, CallableName: "test_three", Location: types.Location{Line: 3}},
	}

	fake := bridge.NewFakeBridge()
	fake.TestOutcomes["pkg/test_ff.py::test_one"] = types.OutcomeFailed

	cfg := defaultTestConfig()
	cfg.FailFast = true
	sched := New(cfg, resolver, map[string]Hooks{}, func(int) (bridge.Bridge, error) { return fake, nil })
	ch, err := sched.Run(context.Background(), items)
	require.NoError(t, err)
	results := drain(t, ch)

	require.Len(t, results, 1)
	assert.Equal(t, types.OutcomeFailed, results[0].Outcome)
	assert.Equal(t, []string{"test:pkg/test_ff.py::test_one"}, fake.TestCalls)
}

// TestScheduler_FailFast_HaltsDispatchUnderConcurrentStrategy exercises
// spec §4.6's "the first failed test halts dispatch of subsequent tests"
// for the warm-workers/parallel strategies, not just embedded. A single
// worker keeps the fake bridge's unsynchronized call slices race-free
// while still running the runConcurrent code path.
func TestScheduler_FailFast_HaltsDispatchUnderConcurrentStrategy(t *testing.T) {
	const fileA = "pkg/test_ff_a.py"
	const fileB = "pkg/test_ff_b.py"
	resolver := fixtures.New("pkg", map[string][]types.Fixture{})

	items := []types.TestItem{
		{ID: "1", File: fileA, CallableName: "test_one", Location: types.Location{Line: 1}},
		{ID: "2", File: fileB, CallableName: "test_two", Location: types.Location{Line: 1}},
		{ID: "3", File: fileB, CallableName: "test_three", Location: types.Location{Line: 2}},
	}

	fake := bridge.NewFakeBridge()
	fake.TestOutcomes["pkg/test_ff_a.py::test_one"] = types.OutcomeFailed

	cfg := defaultTestConfig()
	cfg.FailFast = true
	cfg.Force = "parallel"
	cfg.ParallelWorkerCount = 1
	sched := New(cfg, resolver, map[string]Hooks{}, func(int) (bridge.Bridge, error) { return fake, nil })
	ch, err := sched.Run(context.Background(), items)
	require.NoError(t, err)
	results := drain(t, ch)

	require.Len(t, results, 1)
	assert.Equal(t, types.OutcomeFailed, results[0].Outcome)
	assert.Equal(t, []string{"test:pkg/test_ff_a.py::test_one"}, fake.TestCalls)
}

// TestScheduler_CollectionErrorItem_EmitsErrorResultWithoutBridgeCall
// exercises spec §4.2/§7: a synthetic TestItem standing in for a file that
// failed collection outright must still produce an OutcomeError
// TestResult, without touching fixtures or the bridge.
func TestScheduler_CollectionErrorItem_EmitsErrorResultWithoutBridgeCall(t *testing.T) {
	resolver := fixtures.New("pkg", map[string][]types.Fixture{})

	items := []types.TestItem{
		{
			ID:              "pkg/test_broken.py::<collection-error>",
			File:            "pkg/test_broken.py",
			CallableName:    "<collection error>",
			CollectionError: "tier B: panic parsing pkg/test_broken.py: boom",
		},
	}

	fake := bridge.NewFakeBridge()
	cfg := defaultTestConfig()
	sched := New(cfg, resolver, map[string]Hooks{}, func(int) (bridge.Bridge, error) { return fake, nil })
	ch, err := sched.Run(context.Background(), items)
	require.NoError(t, err)
	results := drain(t, ch)

	require.Len(t, results, 1)
	assert.Equal(t, types.OutcomeError, results[0].Outcome)
	require.NotNil(t, results[0].Diagnostic)
	assert.Equal(t, "tier B: panic parsing pkg/test_broken.py: boom", results[0].Diagnostic.Message)
	assert.Empty(t, fake.TestCalls)
	assert.Empty(t, fake.FixtureCalls)
}

// TestReorder_FlushesPendingResultsPastPermanentGap pins down reorder's
// draining contract directly: when raw closes with a permanent gap at
// `next` (an item that was never dispatched, e.g. fail-fast halted its
// worker before it ran), completions that already arrived for indices
// past the gap must still be delivered rather than left stranded in
// `pending` (spec §5 "buffers out-of-order completions and drains them
// in index order").
func TestReorder_FlushesPendingResultsPastPermanentGap(t *testing.T) {
	items := []types.TestItem{{ID: "a"}, {ID: "b"}, {ID: "c"}}

	raw := make(chan types.TestResult, 2)
	// "b" (index 1) is never dispatched; "c" (index 2) completes before
	// raw closes, arriving out of order relative to "a" (index 0).
	raw <- types.TestResult{ItemID: "c", Outcome: types.OutcomePassed}
	raw <- types.TestResult{ItemID: "a", Outcome: types.OutcomeFailed}
	close(raw)

	out := reorder(items, raw)
	results := drain(t, out)

	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ItemID)
	assert.Equal(t, 0, results[0].SequenceIndex)
	assert.Equal(t, "c", results[1].ItemID)
	assert.Equal(t, 2, results[1].SequenceIndex)
}

// rendezvousBridge is a per-worker bridge.Bridge test double whose
// InvokeTest blocks until a second concurrent invocation also arrives,
// proving two single-item module batches are genuinely in flight on
// distinct workers rather than one worker draining both in sequence.
type rendezvousBridge struct {
	arrive  chan struct{}
	release chan struct{}
}

func (b *rendezvousBridge) InvokeFixture(ctx context.Context, req bridge.FixtureInvocation) (bridge.FixtureResult, error) {
	return bridge.FixtureResult{}, nil
}

func (b *rendezvousBridge) InvokeHook(ctx context.Context, req bridge.HookInvocation) error {
	return nil
}

func (b *rendezvousBridge) InvokeTest(ctx context.Context, req bridge.TestInvocation) (types.TestResult, error) {
	select {
	case b.arrive <- struct{}{}:
	case <-ctx.Done():
		return types.TestResult{}, ctx.Err()
	}
	select {
	case <-b.release:
	case <-ctx.Done():
		return types.TestResult{}, ctx.Err()
	}
	outcome := types.OutcomePassed
	if req.Item.CallableName == "test_fail" {
		outcome = types.OutcomeFailed
	}
	return types.TestResult{ItemID: req.Item.ID, DisplayID: req.Item.DisplayID(), Outcome: outcome}, nil
}

func (b *rendezvousBridge) Shutdown(ctx context.Context, grace time.Duration) error {
	return nil
}

// TestScheduler_FailFast_ConcurrentGap_FlushesStrandedResult is the
// end-to-end counterpart to TestReorder_FlushesPendingResultsPastPermanentGap.
// Module A's first test (index 0) fails, halting dispatch of module A's
// second test (index 1, same worker, same batch — it never runs). Module
// B's test (index 2) is dispatched to a distinct worker and is already in
// flight — rendezvous-blocked alongside module A's first test — when the
// failure trips fail-fast, so it still completes and must not be dropped
// from the result stream despite the permanent gap at index 1.
func TestScheduler_FailFast_ConcurrentGap_FlushesStrandedResult(t *testing.T) {
	const fileA = "pkg/mod_a.py"
	const fileB = "pkg/mod_b.py"
	resolver := fixtures.New("pkg", map[string][]types.Fixture{})

	items := []types.TestItem{
		{ID: "a1", File: fileA, CallableName: "test_fail", Location: types.Location{Line: 1}},
		{ID: "a2", File: fileA, CallableName: "test_after", Location: types.Location{Line: 2}},
		{ID: "b1", File: fileB, CallableName: "test_b", Location: types.Location{Line: 1}},
	}

	arrive := make(chan struct{}, 2)
	release := make(chan struct{})
	go func() {
		<-arrive
		<-arrive
		close(release)
	}()

	cfg := defaultTestConfig()
	cfg.FailFast = true
	cfg.Force = "parallel"
	cfg.ParallelWorkerCount = 2
	sched := New(cfg, resolver, map[string]Hooks{}, func(int) (bridge.Bridge, error) {
		return &rendezvousBridge{arrive: arrive, release: release}, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ch, err := sched.Run(ctx, items)
	require.NoError(t, err)
	results := drain(t, ch)

	require.Len(t, results, 2)
	byID := make(map[string]types.TestResult, len(results))
	for _, r := range results {
		byID[r.ItemID] = r
	}
	assert.Equal(t, types.OutcomeFailed, byID["a1"].Outcome)
	assert.Equal(t, types.OutcomePassed, byID["b1"].Outcome)
	assert.Equal(t, 0, byID["a1"].SequenceIndex)
	assert.Equal(t, 2, byID["b1"].SequenceIndex)
	assert.NotContains(t, byID, "a2")
}

// crashOnceBridge reports a worker crash on its first InvokeTest call,
// then runs normally — standing in for a worker subprocess that died and
// was replaced.
type crashOnceBridge struct {
	crash bool
}

func (b *crashOnceBridge) InvokeFixture(ctx context.Context, req bridge.FixtureInvocation) (bridge.FixtureResult, error) {
	return bridge.FixtureResult{}, nil
}

func (b *crashOnceBridge) InvokeHook(ctx context.Context, req bridge.HookInvocation) error {
	return nil
}

func (b *crashOnceBridge) InvokeTest(ctx context.Context, req bridge.TestInvocation) (types.TestResult, error) {
	if b.crash {
		return types.TestResult{
			ItemID: req.Item.ID, DisplayID: req.Item.DisplayID(),
			Outcome: types.OutcomeError, WorkerCrashed: true,
		}, nil
	}
	return types.TestResult{ItemID: req.Item.ID, DisplayID: req.Item.DisplayID(), Outcome: types.OutcomePassed}, nil
}

func (b *crashOnceBridge) Shutdown(ctx context.Context, grace time.Duration) error {
	return nil
}

// TestScheduler_WorkerCrash_RestartsAndContinuesBatch exercises spec §7's
// "Worker crash" category end-to-end: a crashed bridge's in-flight item is
// reported WorkerCrashed, and the worker goroutine spins up a replacement
// bridge (via a fresh NewBridge call) to keep dispatching the rest of the
// batch rather than abandoning it.
func TestScheduler_WorkerCrash_RestartsAndContinuesBatch(t *testing.T) {
	const file = "pkg/test_crash.py"
	resolver := fixtures.New("pkg", map[string][]types.Fixture{})

	items := []types.TestItem{
		{ID: "1", File: file, CallableName: "test_one", Location: types.Location{Line: 1}},
		{ID: "2", File: file, CallableName: "test_two", Location: types.Location{Line: 2}},
	}

	var spawned int32
	cfg := defaultTestConfig()
	cfg.Force = "parallel"
	cfg.ParallelWorkerCount = 1
	sched := New(cfg, resolver, map[string]Hooks{}, func(int) (bridge.Bridge, error) {
		n := atomic.AddInt32(&spawned, 1)
		return &crashOnceBridge{crash: n == 1}, nil
	})

	ch, err := sched.Run(context.Background(), items)
	require.NoError(t, err)
	results := drain(t, ch)

	require.Len(t, results, 2)
	byID := make(map[string]types.TestResult, len(results))
	for _, r := range results {
		byID[r.ItemID] = r
	}
	assert.True(t, byID["1"].WorkerCrashed)
	assert.Equal(t, types.OutcomeError, byID["1"].Outcome)
	assert.False(t, byID["2"].WorkerCrashed)
	assert.Equal(t, types.OutcomePassed, byID["2"].Outcome)
	assert.Equal(t, int32(2), atomic.LoadInt32(&spawned))
}
