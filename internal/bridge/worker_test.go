package bridge

import (
	"bufio"
	"context"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/gofast-runner/internal/types"
)

// useFakeDriver points DriverCommand at this test binary re-invoked with
// -test.run=TestHelperProcess, the standard trick for exercising exec.Cmd
// plumbing without a real subprocess (mirrors
// giantswarm-muster's internal/containerizer docker_test.go).
func useFakeDriver(t *testing.T, script string) {
	t.Helper()
	prev := DriverCommand
	DriverCommand = func(driverScriptPath string) *exec.Cmd {
		cmd := exec.Command(os.Args[0], "-test.run=TestHelperProcess")
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", "HELPER_SCRIPT="+script)
		cmd.Stderr = os.Stderr
		return cmd
	}
	t.Cleanup(func() { DriverCommand = prev })
}

// TestHelperProcess is not a real test: it's a fake driver subprocess,
// dispatched by useFakeDriver. HELPER_SCRIPT selects its canned behaviour.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	in := bufio.NewReader(os.Stdin)

	switch os.Getenv("HELPER_SCRIPT") {
	case "echo-ok":
		for {
			typ, _, err := ReadFrame(in)
			if err != nil {
				return
			}
			if typ == FrameShutdown {
				return
			}
			payload, _ := EncodeResult(ResultFrame{Outcome: "ok", Token: "tok-1"})
			_ = WriteFrame(os.Stdout, FrameResult, payload)
		}
	case "echo-raised":
		for {
			typ, _, err := ReadFrame(in)
			if err != nil {
				return
			}
			if typ == FrameShutdown {
				return
			}
			payload, _ := EncodeResult(ResultFrame{
				Outcome:       "raised",
				ExceptionType: "AssertionError",
				Message:       "assert 1 == 2",
			})
			_ = WriteFrame(os.Stdout, FrameResult, payload)
		}
	case "echo-raised-typeerror":
		for {
			typ, _, err := ReadFrame(in)
			if err != nil {
				return
			}
			if typ == FrameShutdown {
				return
			}
			payload, _ := EncodeResult(ResultFrame{
				Outcome:       "raised",
				ExceptionType: "TypeError",
				Message:       "unsupported operand type(s)",
			})
			_ = WriteFrame(os.Stdout, FrameResult, payload)
		}
	case "hang":
		for {
			typ, _, err := ReadFrame(in)
			if err != nil {
				return
			}
			if typ == FrameShutdown {
				return
			}
			time.Sleep(time.Hour)
		}
	case "crash-on-test":
		// Reads exactly one frame, then exits without replying — simulates
		// a worker process dying mid-invocation (spec §7 "Worker crash").
		_, _, _ = ReadFrame(in)
		os.Exit(1)
	}
}

func TestStartWorker_InvokeFixture_Success(t *testing.T) {
	useFakeDriver(t, "echo-ok")
	w, err := StartWorker(0, "driver.py")
	require.NoError(t, err)
	defer w.Shutdown(context.Background(), time.Second)

	res, err := w.InvokeFixture(context.Background(), FixtureInvocation{Name: "db"})
	require.NoError(t, err)
	assert.Equal(t, "tok-1", res.Token)
	assert.Nil(t, res.Err)
}

func TestStartWorker_InvokeTest_Raised(t *testing.T) {
	useFakeDriver(t, "echo-raised")
	w, err := StartWorker(0, "driver.py")
	require.NoError(t, err)
	defer w.Shutdown(context.Background(), time.Second)

	result, err := w.InvokeTest(context.Background(), TestInvocation{})
	require.NoError(t, err)
	require.NotNil(t, result.Diagnostic)
	assert.Equal(t, "AssertionError", result.Diagnostic.ExceptionType)
	assert.Equal(t, types.OutcomeFailed, result.Outcome)
}

// TestStartWorker_InvokeTest_RaisedNonAssertion exercises spec §7's
// "Test error" category: an exception other than the assertion class must
// classify as OutcomeError, not OutcomeFailed.
func TestStartWorker_InvokeTest_RaisedNonAssertion(t *testing.T) {
	useFakeDriver(t, "echo-raised-typeerror")
	w, err := StartWorker(0, "driver.py")
	require.NoError(t, err)
	defer w.Shutdown(context.Background(), time.Second)

	result, err := w.InvokeTest(context.Background(), TestInvocation{})
	require.NoError(t, err)
	require.NotNil(t, result.Diagnostic)
	assert.Equal(t, "TypeError", result.Diagnostic.ExceptionType)
	assert.Equal(t, types.OutcomeError, result.Outcome)
}

// TestStartWorker_InvokeTest_WorkerCrash exercises spec §7's "Worker
// crash" category: the subprocess exiting mid-invocation (stdout pipe
// closed) must surface as a TestResult with WorkerCrashed set, not as a
// bare bridge error.
func TestStartWorker_InvokeTest_WorkerCrash(t *testing.T) {
	useFakeDriver(t, "crash-on-test")
	w, err := StartWorker(0, "driver.py")
	require.NoError(t, err)
	defer w.Shutdown(context.Background(), time.Second)

	result, err := w.InvokeTest(context.Background(), TestInvocation{})
	require.NoError(t, err)
	assert.True(t, result.WorkerCrashed)
	assert.Equal(t, types.OutcomeError, result.Outcome)
	require.NotNil(t, result.Diagnostic)
	assert.Contains(t, result.Diagnostic.Message, "crashed")
}

func TestStartWorker_InvokeTest_TimesOut(t *testing.T) {
	useFakeDriver(t, "hang")
	w, err := StartWorker(0, "driver.py")
	require.NoError(t, err)
	defer w.Shutdown(context.Background(), 10*time.Millisecond)

	result, err := w.InvokeTest(context.Background(), TestInvocation{TimeoutMS: 20})
	require.NoError(t, err)
	assert.True(t, result.TimedOut)
}

func TestStartWorker_Shutdown_Graceful(t *testing.T) {
	useFakeDriver(t, "echo-ok")
	w, err := StartWorker(0, "driver.py")
	require.NoError(t, err)

	err = w.Shutdown(context.Background(), time.Second)
	assert.NoError(t, err)
}
