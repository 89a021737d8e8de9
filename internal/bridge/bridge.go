// Package bridge implements the Host Bridge (spec §4.7): the only
// component that resolves and invokes host-language callables by name.
// The engine core never looks up a test function or fixture body itself
// (spec §9 "Runtime reflection of host-language callables"); it hands the
// bridge a name and an opaque argument payload and gets back a structured
// result.
//
// Both the embedded and worker strategies talk to a host-language driver
// subprocess over the length-prefixed binary frame protocol of spec §6.3
// — true CPython C-ABI embedding (the spec's literal "linked into its
// process" wording) would need a cgo binding library, and none appears
// anywhere in the retrieval pack, so the embedded strategy here is one
// long-lived driver subprocess reused for the whole run instead of one
// per batch.
package bridge

import (
	"context"
	"time"

	"github.com/standardbeagle/gofast-runner/internal/types"
)

// FixtureInvocation asks the bridge to produce (or tear down) one
// fixture's value.
type FixtureInvocation struct {
	Name       string
	File       string
	ArgNames   []string // names of already-resolved dependency values to bind
	ArgTokens  []string // opaque value tokens, positional with ArgNames
	ParamValue string   // opaque source fragment, for indirect/parametrized fixtures
	Teardown   bool     // true to resume a yield-style fixture past its yield and run cleanup
	Token      string   // required when Teardown is true: the fixture's own value token
}

// FixtureResult is what invoking (or tearing down) a fixture produced.
type FixtureResult struct {
	Token       string // opaque value reference, bound into dependent invocations by name
	YieldActive bool   // true if this fixture is suspended at a yield awaiting teardown
	Err         *types.FailureDiagnostic
}

// TestInvocation asks the bridge to run one test callable.
type TestInvocation struct {
	Item       types.TestItem
	ArgNames   []string // fixture names bound by name
	ArgTokens  []string // opaque value tokens, positional with ArgNames
	ParamCase  *types.ParamCase
	TimeoutMS  int64 // 0 disables
}

// HookInvocation asks the bridge to run a setup/teardown hook by name.
type HookInvocation struct {
	File string
	Name string // e.g. "setup_class", "teardown_module"
}

// Bridge is the engine's sole point of dynamic dispatch into host-language
// code (spec §4.7, §9).
type Bridge interface {
	InvokeFixture(ctx context.Context, req FixtureInvocation) (FixtureResult, error)
	InvokeHook(ctx context.Context, req HookInvocation) error
	InvokeTest(ctx context.Context, req TestInvocation) (types.TestResult, error)
	// Shutdown requests a graceful stop, waiting up to grace before the
	// bridge forcibly terminates its subprocess (spec §5 "Cancellation
	// semantics").
	Shutdown(ctx context.Context, grace time.Duration) error
}
