// Package rerrors defines the engine's structured error taxonomy (spec §7):
// discovery warnings, collection errors, setup/teardown failures, bridge
// errors, timeouts, and worker crashes. Every category carries file/test
// identity and a timestamp; DiscoveryError and BridgeError also carry an
// operation name, and every category except TimeoutError exposes its
// underlying error through Unwrap(), mirroring lci's internal/errors
// package.
package rerrors

import (
	"fmt"
	"time"
)

// Category is the engine-internal error taxonomy of spec §7, surfaced to
// collaborators as a structured field rather than a source-language type name.
type Category string

const (
	CategoryDiscoveryWarning Category = "discovery_warning"
	CategoryCollectionError  Category = "collection_error"
	CategorySetupFailure     Category = "setup_failure"
	CategoryTestFailure      Category = "test_failure"
	CategoryTestError        Category = "test_error"
	CategoryTeardownFailure  Category = "teardown_failure"
	CategoryTimeout          Category = "timeout"
	CategoryWorkerCrash      Category = "worker_crash"
)

// DiscoveryError reports a file that was unreadable or parsed with
// non-fatal issues during scanning or parsing. It does not affect outcomes.
type DiscoveryError struct {
	Operation  string
	File       string
	Underlying error
	Timestamp  time.Time
}

func NewDiscoveryError(op, file string, err error) *DiscoveryError {
	return &DiscoveryError{Operation: op, File: file, Underlying: err, Timestamp: time.Now()}
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discovery warning: %s failed for %s: %v", e.Operation, e.File, e.Underlying)
}

func (e *DiscoveryError) Unwrap() error { return e.Underlying }

// CollectionError reports a specific file or test that could not be
// prepared: parse failure, unresolved fixture, dependency cycle, or
// unrecognised decorator argument form (§7). It attaches to a synthetic or
// real TestItem and is counted separately from test failures.
type CollectionError struct {
	TestID     string
	File       string
	Reason     string
	Suggestion string // nearest-match "did you mean" text, if any
	Underlying error
	Timestamp  time.Time
}

func NewCollectionError(testID, file, reason string, err error) *CollectionError {
	return &CollectionError{TestID: testID, File: file, Reason: reason, Underlying: err, Timestamp: time.Now()}
}

func (e *CollectionError) WithSuggestion(s string) *CollectionError {
	e.Suggestion = s
	return e
}

func (e *CollectionError) Error() string {
	msg := fmt.Sprintf("collection error for %s (%s): %s", e.TestID, e.File, e.Reason)
	if e.Suggestion != "" {
		msg += fmt.Sprintf(" (did you mean %q?)", e.Suggestion)
	}
	if e.Underlying != nil {
		msg += fmt.Sprintf(": %v", e.Underlying)
	}
	return msg
}

func (e *CollectionError) Unwrap() error { return e.Underlying }

// SetupError reports a fixture body or setup hook that raised. The
// dependent test is recorded as error, not failure (§7).
type SetupError struct {
	TestID     string
	FixtureOrHook string
	Underlying error
	Timestamp  time.Time
}

func NewSetupError(testID, fixtureOrHook string, err error) *SetupError {
	return &SetupError{TestID: testID, FixtureOrHook: fixtureOrHook, Underlying: err, Timestamp: time.Now()}
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("setup failed for %s (during %s): %v", e.TestID, e.FixtureOrHook, e.Underlying)
}

func (e *SetupError) Unwrap() error { return e.Underlying }

// TeardownError reports a teardown hook that raised. It attaches to the
// TestResult as a secondary error without changing the primary outcome.
type TeardownError struct {
	TestID        string
	FixtureOrHook string
	Underlying    error
	Timestamp     time.Time
}

func NewTeardownError(testID, fixtureOrHook string, err error) *TeardownError {
	return &TeardownError{TestID: testID, FixtureOrHook: fixtureOrHook, Underlying: err, Timestamp: time.Now()}
}

func (e *TeardownError) Error() string {
	return fmt.Sprintf("teardown failed for %s (during %s): %v", e.TestID, e.FixtureOrHook, e.Underlying)
}

func (e *TeardownError) Unwrap() error { return e.Underlying }

// BridgeError reports a failure in marshalling to or communicating with
// the host-language interpreter (embedded call or worker subprocess).
type BridgeError struct {
	Operation  string
	TestID     string
	Underlying error
	Timestamp  time.Time
}

func NewBridgeError(op, testID string, err error) *BridgeError {
	return &BridgeError{Operation: op, TestID: testID, Underlying: err, Timestamp: time.Now()}
}

func (e *BridgeError) Error() string {
	return fmt.Sprintf("bridge %s failed for %s: %v", e.Operation, e.TestID, e.Underlying)
}

func (e *BridgeError) Unwrap() error { return e.Underlying }

// TimeoutError reports a per-test budget exceeded; the worker was killed.
type TimeoutError struct {
	TestID    string
	Budget    time.Duration
	Timestamp time.Time
}

func NewTimeoutError(testID string, budget time.Duration) *TimeoutError {
	return &TimeoutError{TestID: testID, Budget: budget, Timestamp: time.Now()}
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("test %s exceeded timeout of %s", e.TestID, e.Budget)
}

// WorkerCrashError reports a worker process that exited unexpectedly while
// a test was in flight.
type WorkerCrashError struct {
	TestID     string
	WorkerID   int
	Underlying error
	Timestamp  time.Time
}

func NewWorkerCrashError(testID string, workerID int, err error) *WorkerCrashError {
	return &WorkerCrashError{TestID: testID, WorkerID: workerID, Underlying: err, Timestamp: time.Now()}
}

func (e *WorkerCrashError) Error() string {
	return fmt.Sprintf("worker %d crashed while running %s: %v", e.WorkerID, e.TestID, e.Underlying)
}

func (e *WorkerCrashError) Unwrap() error { return e.Underlying }

// MultiError aggregates several errors, e.g. all collection errors
// gathered during one discovery run.
type MultiError struct {
	Errors []error
}

func NewMultiError(errs []error) *MultiError {
	filtered := make([]error, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			filtered = append(filtered, err)
		}
	}
	return &MultiError{Errors: filtered}
}

func (e *MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%d errors: %v", len(e.Errors), e.Errors)
}

func (e *MultiError) Unwrap() []error { return e.Errors }
