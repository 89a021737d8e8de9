package bridge

import (
	"context"
	"time"

	"github.com/standardbeagle/gofast-runner/internal/types"
)

// FakeBridge is an in-process test double implementing Bridge without a
// subprocess, for exercising the scheduler's lifecycle logic in isolation
// (spec components are tested independently; the scheduler's tests use
// this rather than spawning a real host interpreter).
type FakeBridge struct {
	// FixtureTokens maps a fixture name to the token InvokeFixture
	// returns; a missing entry yields the token "token:<name>".
	FixtureTokens map[string]string
	// Failing marks fixture names whose invocation raises.
	Failing map[string]bool
	// TestOutcomes maps a TestItem's DisplayID to the outcome InvokeTest
	// reports; defaults to OutcomePassed.
	TestOutcomes map[string]types.Outcome

	FixtureCalls []string
	HookCalls    []string
	TestCalls    []string
	TeardownCalls []string
	ShutdownCalled bool

	// CallLog is a single interleaved timeline of every invocation this
	// bridge received ("fixture:name", "teardown:name", "hook:name",
	// "test:displayID"), for asserting cross-kind ordering (e.g. spec §8
	// Scenario C/E's setup/teardown interleaving) that the per-kind slices
	// above can't show on their own.
	CallLog []string
}

func NewFakeBridge() *FakeBridge {
	return &FakeBridge{
		FixtureTokens: map[string]string{},
		Failing:       map[string]bool{},
		TestOutcomes:  map[string]types.Outcome{},
	}
}

func (f *FakeBridge) InvokeFixture(ctx context.Context, req FixtureInvocation) (FixtureResult, error) {
	if req.Teardown {
		f.TeardownCalls = append(f.TeardownCalls, req.Name)
		f.CallLog = append(f.CallLog, "teardown:"+req.Name)
		return FixtureResult{}, nil
	}
	f.FixtureCalls = append(f.FixtureCalls, req.Name)
	f.CallLog = append(f.CallLog, "fixture:"+req.Name)
	if f.Failing[req.Name] {
		return FixtureResult{Err: &types.FailureDiagnostic{ExceptionType: "RuntimeError", Message: "fixture raised"}}, nil
	}
	token := f.FixtureTokens[req.Name]
	if token == "" {
		token = "token:" + req.Name
	}
	return FixtureResult{Token: token}, nil
}

func (f *FakeBridge) InvokeHook(ctx context.Context, req HookInvocation) error {
	f.HookCalls = append(f.HookCalls, req.Name)
	f.CallLog = append(f.CallLog, "hook:"+req.Name)
	return nil
}

func (f *FakeBridge) InvokeTest(ctx context.Context, req TestInvocation) (types.TestResult, error) {
	f.TestCalls = append(f.TestCalls, req.Item.DisplayID())
	f.CallLog = append(f.CallLog, "test:"+req.Item.DisplayID())
	outcome, ok := f.TestOutcomes[req.Item.DisplayID()]
	if !ok {
		outcome = types.OutcomePassed
	}
	result := types.TestResult{
		ItemID:    req.Item.ID,
		DisplayID: req.Item.DisplayID(),
		Outcome:   outcome,
	}
	if outcome == types.OutcomeFailed || outcome == types.OutcomeError {
		result.Diagnostic = &types.FailureDiagnostic{ExceptionType: "AssertionError", Message: "assert failed"}
	}
	return result, nil
}

func (f *FakeBridge) Shutdown(ctx context.Context, grace time.Duration) error {
	f.ShutdownCalled = true
	return nil
}
