package scheduler

import (
	"context"
	"time"

	"github.com/standardbeagle/gofast-runner/internal/bridge"
	"github.com/standardbeagle/gofast-runner/internal/debug"
	"github.com/standardbeagle/gofast-runner/internal/rerrors"
	"github.com/standardbeagle/gofast-runner/internal/types"
)

// driver runs the per-test lifecycle of spec §4.6 against one bridge and
// fixture cache. Module/class-scoped setup and teardown hooks run once
// per scope-instance, at transition boundaries (transition); the
// xUnit-style method-level hooks (setup_method/setUp,
// teardown_method/tearDown) run on every test, inside execute — this
// split is this implementation's reading of "outer-to-inner order" for
// hooks whose host-ecosystem semantics are otherwise once-per-scope.
type driver struct {
	sched  *Scheduler
	bridge bridge.Bridge
	cache  *FixtureCache
}

// transitionKey is the (file, class) pair a scope transition moves
// between; className is empty at module scope.
type transitionKey struct {
	file      string
	className string
}

// transition tears down the scope instances being left and sets up the
// ones being entered (spec §4.6 "Scope transitions"). A zero-value
// newKey means "end of run" — only teardown runs.
func (d *driver) transition(ctx context.Context, oldKey, newKey transitionKey) {
	oldClassScopeKey := oldKey.file + "::" + oldKey.className
	newClassScopeKey := newKey.file + "::" + newKey.className

	if oldKey.className != "" && (oldKey.className != newKey.className || oldKey.file != newKey.file) {
		d.runHook(ctx, oldKey.file, oldKey.className, "teardown_class")
		for _, err := range d.cache.TeardownScope(ctx, types.ScopeClass, oldClassScopeKey, d.bridge) {
			debug.LogSchedule("teardown error in class scope %s: %v", oldClassScopeKey, err)
		}
	}
	if oldKey.file != "" && oldKey.file != newKey.file {
		d.runHook(ctx, oldKey.file, "", "teardown_module")
		for _, err := range d.cache.TeardownScope(ctx, types.ScopeModule, oldKey.file, d.bridge) {
			debug.LogSchedule("teardown error in module scope %s: %v", oldKey.file, err)
		}
	}
	if newKey.file != "" && newKey.file != oldKey.file {
		d.runHook(ctx, newKey.file, "", "setup_module")
	}
	if newKey.className != "" && (newKey.className != oldKey.className || newKey.file != oldKey.file) {
		d.runHook(ctx, newKey.file, newKey.className, "setup_class")
	}
}

// runHook looks up a named hook for (file, className) and invokes it if
// present. className is empty for module-level hooks.
func (d *driver) runHook(ctx context.Context, file, className, hookName string) {
	hooks, ok := d.hooksFor(file, className)
	if !ok {
		return
	}
	name := hookFieldByName(hooks, hookName)
	if name == "" {
		return
	}
	if err := d.bridge.InvokeHook(ctx, bridge.HookInvocation{File: file, Name: name}); err != nil {
		debug.LogSchedule("hook %s failed for %s: %v", hookName, file, err)
	}
}

func (d *driver) hooksFor(file, className string) (types.LifecycleHooks, bool) {
	byClass, ok := d.sched.Hooks[file]
	if !ok {
		return types.LifecycleHooks{}, false
	}
	h, ok := byClass[className]
	return h, ok
}

func hookFieldByName(h types.LifecycleHooks, name string) string {
	switch name {
	case "setup_module":
		return h.SetupModule
	case "teardown_module":
		return h.TeardownModule
	case "setup_class":
		return h.SetupClass
	case "teardown_class":
		return h.TeardownClass
	case "setup_method":
		return h.SetupMethod
	case "teardown_method":
		return h.TeardownMethod
	case "setUp":
		return h.SetUp
	case "tearDown":
		return h.TearDown
	default:
		return ""
	}
}

// evaluateSkipIf asks the bridge to evaluate a skip-if marker's
// host-language condition. This reuses the INVOKE_FIXTURE frame (spec
// §6.3 leaves exact payload layout an implementation detail) with a
// reserved fixture name rather than adding a new frame type for a single
// boolean query.
func (d *driver) evaluateSkipIf(ctx context.Context, item types.TestItem, condition string) (bool, error) {
	result, err := d.bridge.InvokeFixture(ctx, bridge.FixtureInvocation{
		Name: "__skipif__", File: item.File, ParamValue: condition,
	})
	if err != nil {
		return false, err
	}
	return result.Token == "true", nil
}

// execute runs one test's full lifecycle and returns its TestResult
// (spec §4.6 "Lifecycle per test").
func (d *driver) execute(ctx context.Context, item types.TestItem) types.TestResult {
	base := types.TestResult{ItemID: item.ID, DisplayID: item.DisplayID()}

	if item.CollectionError != "" {
		base.Outcome = types.OutcomeError
		base.Diagnostic = &types.FailureDiagnostic{Message: item.CollectionError}
		return base
	}

	if item.Markers.Has(types.MarkerSkip) {
		marker, _ := item.Markers.Get(types.MarkerSkip)
		base.Outcome = types.OutcomeSkipped
		base.SkipReason = marker.Reason
		return base
	}
	if marker, ok := item.Markers.Get(types.MarkerSkipIf); ok {
		skip, err := d.evaluateSkipIf(ctx, item, marker.Condition)
		if err != nil {
			debug.LogSchedule("skipif evaluation failed for %s: %v", item.DisplayID(), err)
		} else if skip {
			base.Outcome = types.OutcomeSkipped
			base.SkipReason = marker.Reason
			return base
		}
	}

	plan, err := d.sched.Resolver.Resolve(item)
	if err != nil {
		base.Outcome = types.OutcomeError
		base.Diagnostic = &types.FailureDiagnostic{Message: err.Error()}
		return base
	}

	start := time.Now()
	_, err = d.cache.Resolve(ctx, item, plan.Order, d.bridge)
	if err != nil {
		base.Outcome = types.OutcomeError
		base.Diagnostic = &types.FailureDiagnostic{Message: err.Error()}
		base.DurationNanos = time.Since(start).Nanoseconds()
		// Setup failed partway through the plan: whichever fixtures did
		// enter the call-scope instance before the failure still need
		// their teardown run (spec §4.6 "Setup failures skip the test but
		// still run applicable teardowns for already-entered scopes").
		d.cache.TeardownScope(ctx, types.ScopeCall, item.ID, d.bridge)
		return base
	}

	d.runMethodHook(ctx, item, "setup_method")
	d.runMethodHook(ctx, item, "setUp")

	argNames := item.FixtureDeps
	argTokens := make([]string, len(argNames))
	byName := make(map[string]types.Fixture, len(plan.Order))
	for _, f := range plan.Order {
		byName[f.Name] = f
	}
	for i, name := range argNames {
		inst := scopeInstanceFor(byName[name].Scope, item)
		if e, ok := d.cache.get(inst, name); ok {
			argTokens[i] = e.token
		}
	}

	var timeoutMS int64
	if d.sched.Config.TimeoutPerTest > 0 {
		timeoutMS = d.sched.Config.TimeoutPerTest.Milliseconds()
	}

	result, err := d.bridge.InvokeTest(ctx, bridge.TestInvocation{
		Item: item, ArgNames: argNames, ArgTokens: argTokens, ParamCase: item.ParamCase, TimeoutMS: timeoutMS,
	})
	if err != nil {
		base.Outcome = types.OutcomeError
		base.Diagnostic = &types.FailureDiagnostic{Message: err.Error()}
		base.DurationNanos = time.Since(start).Nanoseconds()
	} else {
		result.DurationNanos = time.Since(start).Nanoseconds()
		base = result
	}

	d.runMethodHookTeardown(ctx, item, "tearDown", &base)
	d.runMethodHookTeardown(ctx, item, "teardown_method", &base)

	// Call-scope fixtures are the innermost scope instance: they end with
	// this test regardless of the next test's class/module, so they tear
	// down here rather than waiting for a scope transition (spec §4.6 step
	// 5 "unconditionally", scenario C).
	for _, terr := range d.cache.TeardownScope(ctx, types.ScopeCall, item.ID, d.bridge) {
		if base.TeardownError == nil {
			base.TeardownError = terr
		}
		debug.LogSchedule("call-scope teardown error for %s: %v", item.DisplayID(), terr)
	}

	applyExpectedFail(item, &base)
	return base
}

func (d *driver) runMethodHook(ctx context.Context, item types.TestItem, hookName string) {
	hooks, ok := d.hooksFor(item.File, item.ClassName)
	if !ok {
		hooks, ok = d.hooksFor(item.File, "")
		if !ok {
			return
		}
	}
	name := hookFieldByName(hooks, hookName)
	if name == "" {
		return
	}
	if err := d.bridge.InvokeHook(ctx, bridge.HookInvocation{File: item.File, Name: name}); err != nil {
		debug.LogSchedule("setup hook %s failed for %s: %v", hookName, item.DisplayID(), err)
	}
}

func (d *driver) runMethodHookTeardown(ctx context.Context, item types.TestItem, hookName string, result *types.TestResult) {
	hooks, ok := d.hooksFor(item.File, item.ClassName)
	if !ok {
		hooks, ok = d.hooksFor(item.File, "")
		if !ok {
			return
		}
	}
	name := hookFieldByName(hooks, hookName)
	if name == "" {
		return
	}
	if err := d.bridge.InvokeHook(ctx, bridge.HookInvocation{File: item.File, Name: name}); err != nil {
		result.TeardownError = rerrors.NewTeardownError(item.ID, name, err)
	}
}

// applyExpectedFail reclassifies outcomes for xfail-marked tests (spec
// §4.6 step 1: "a failure outcome is reclassified to expected-fail and a
// pass is reclassified to unexpected-pass").
func applyExpectedFail(item types.TestItem, result *types.TestResult) {
	if !item.Markers.Has(types.MarkerExpectedFail) {
		return
	}
	switch result.Outcome {
	case types.OutcomeFailed, types.OutcomeError:
		result.Outcome = types.OutcomeExpectedFail
	case types.OutcomePassed:
		result.Outcome = types.OutcomeUnexpectedPass
	}
}
