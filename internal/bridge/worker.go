package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/standardbeagle/gofast-runner/internal/debug"
	"github.com/standardbeagle/gofast-runner/internal/rerrors"
	"github.com/standardbeagle/gofast-runner/internal/types"
)

// WorkerBridge drives one host-language driver subprocess over the §6.3
// frame protocol. It serializes all requests through a single mutex: a
// worker is synchronous within a test (spec §5 "workers themselves are
// synchronous within a test").
type WorkerBridge struct {
	id  int
	cmd *exec.Cmd
	in  io.WriteCloser
	out *bufio.Reader

	mu sync.Mutex
}

// DriverCommand builds the exec.Cmd used to launch a worker's driver
// subprocess. Exposed as a variable so tests can substitute a fake driver
// binary instead of requiring a real host-language interpreter on PATH.
var DriverCommand = func(driverScriptPath string) *exec.Cmd {
	return exec.Command("python3", driverScriptPath)
}

// StartWorker launches a worker subprocess running the driver script at
// driverScriptPath (spec §4.7 "a small host-language driver script").
func StartWorker(id int, driverScriptPath string) (*WorkerBridge, error) {
	cmd := DriverCommand(driverScriptPath)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("bridge: worker %d stdin pipe: %w", id, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("bridge: worker %d stdout pipe: %w", id, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("bridge: worker %d start: %w", id, err)
	}
	return &WorkerBridge{id: id, cmd: cmd, in: stdin, out: bufio.NewReader(stdout)}, nil
}

func (w *WorkerBridge) roundTrip(ctx context.Context, typ FrameType, req any) (ResultFrame, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return ResultFrame{}, rerrors.NewBridgeError("marshal", "", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := WriteFrame(w.in, typ, payload); err != nil {
		return ResultFrame{}, rerrors.NewBridgeError("write", "", err)
	}

	type readResult struct {
		rf  ResultFrame
		err error
	}
	done := make(chan readResult, 1)
	go func() {
		respType, respPayload, err := ReadFrame(w.out)
		if err != nil {
			done <- readResult{err: fmt.Errorf("bridge: worker %d read: %w", w.id, err)}
			return
		}
		if respType != FrameResult {
			done <- readResult{err: fmt.Errorf("bridge: worker %d: expected RESULT frame, got %s", w.id, respType)}
			return
		}
		rf, err := DecodeResult(respPayload)
		done <- readResult{rf: rf, err: err}
	}()

	select {
	case <-ctx.Done():
		return ResultFrame{}, ctx.Err()
	case r := <-done:
		return r.rf, r.err
	}
}

func (w *WorkerBridge) InvokeFixture(ctx context.Context, req FixtureInvocation) (FixtureResult, error) {
	rf, err := w.roundTrip(ctx, FrameInvokeFixture, req)
	if err != nil {
		return FixtureResult{}, rerrors.NewBridgeError("invoke-fixture", req.Name, err)
	}
	return resultFrameToFixtureResult(rf), nil
}

func (w *WorkerBridge) InvokeHook(ctx context.Context, req HookInvocation) error {
	rf, err := w.roundTrip(ctx, FrameInvokeHook, req)
	if err != nil {
		return rerrors.NewBridgeError("invoke-hook", req.Name, err)
	}
	if rf.Outcome == "raised" {
		return rerrors.NewSetupError(req.File, req.Name, fmt.Errorf("%s: %s", rf.ExceptionType, rf.Message))
	}
	return nil
}

func (w *WorkerBridge) InvokeTest(ctx context.Context, req TestInvocation) (types.TestResult, error) {
	if req.TimeoutMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutMS)*time.Millisecond)
		defer cancel()
	}

	start := time.Now()
	rf, err := w.roundTrip(ctx, FrameInvokeTest, req)
	elapsed := time.Since(start)

	if err == context.DeadlineExceeded {
		return types.TestResult{
			ItemID:        req.Item.ID,
			DisplayID:     req.Item.DisplayID(),
			Outcome:       types.OutcomeError,
			DurationNanos: elapsed.Nanoseconds(),
			TimedOut:      true,
		}, nil
	}
	if err != nil {
		if isWorkerCrash(err) {
			crashErr := rerrors.NewWorkerCrashError(req.Item.ID, w.id, err)
			debug.LogBridge("worker %d: %v", w.id, crashErr)
			return types.TestResult{
				ItemID:        req.Item.ID,
				DisplayID:     req.Item.DisplayID(),
				Outcome:       types.OutcomeError,
				DurationNanos: elapsed.Nanoseconds(),
				WorkerCrashed: true,
				Diagnostic:    &types.FailureDiagnostic{Message: crashErr.Error()},
			}, nil
		}
		debug.LogBridge("worker %d: invoke-test %s failed: %v", w.id, req.Item.DisplayID(), err)
		return types.TestResult{}, rerrors.NewBridgeError("invoke-test", req.Item.ID, err)
	}

	return resultFrameToTestResult(req.Item, rf, elapsed), nil
}

// isWorkerCrash reports whether err came from a subprocess that exited
// underneath the bridge (stdout pipe closed) rather than a malformed frame
// or other protocol error (spec §7 "Worker crash").
func isWorkerCrash(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

func (w *WorkerBridge) Shutdown(ctx context.Context, grace time.Duration) error {
	w.mu.Lock()
	_ = WriteFrame(w.in, FrameShutdown, nil)
	w.in.Close()
	w.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- w.cmd.Wait() }()

	select {
	case err := <-done:
		return err
	case <-time.After(grace):
		debug.LogBridge("worker %d: grace window expired, killing", w.id)
		_ = w.cmd.Process.Kill()
		<-done
		return fmt.Errorf("bridge: worker %d killed after grace window", w.id)
	}
}

func resultFrameToFixtureResult(rf ResultFrame) FixtureResult {
	fr := FixtureResult{Token: rf.Token, YieldActive: rf.YieldActive}
	if rf.Outcome == "raised" {
		fr.Err = &types.FailureDiagnostic{
			ExceptionType: rf.ExceptionType,
			Message:       rf.Message,
			Traceback:     toTracebackFrames(rf.Traceback),
			Locals:        rf.Locals,
		}
	}
	return fr
}

// assertionClassExceptions is the exception-name heuristic spec §7 uses to
// tell "Test failure" (an assertion-class exception) apart from "Test
// error" (any other exception escaping the callable). AssertionError is
// what the host ecosystem's assert-rewriting (§4.7) always raises.
var assertionClassExceptions = map[string]bool{
	"AssertionError": true,
}

func isAssertionClassException(exceptionType string) bool {
	return assertionClassExceptions[exceptionType]
}

func resultFrameToTestResult(item types.TestItem, rf ResultFrame, elapsed time.Duration) types.TestResult {
	result := types.TestResult{
		ItemID:        item.ID,
		DisplayID:     item.DisplayID(),
		DurationNanos: elapsed.Nanoseconds(),
		Stdout:        rf.Stdout,
		Stderr:        rf.Stderr,
	}
	if rf.Outcome == "raised" {
		if isAssertionClassException(rf.ExceptionType) {
			result.Outcome = types.OutcomeFailed
		} else {
			result.Outcome = types.OutcomeError
		}
		result.Diagnostic = &types.FailureDiagnostic{
			ExceptionType: rf.ExceptionType,
			Message:       rf.Message,
			Traceback:     toTracebackFrames(rf.Traceback),
			Locals:        rf.Locals,
		}
	} else {
		result.Outcome = types.OutcomePassed
	}
	return result
}

func toTracebackFrames(entries []TracebackEntry) []types.TracebackFrame {
	if entries == nil {
		return nil
	}
	out := make([]types.TracebackFrame, len(entries))
	for i, e := range entries {
		out[i] = types.TracebackFrame{File: e.File, Line: e.Line, Name: e.Name}
	}
	return out
}
