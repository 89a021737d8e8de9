// Package debug provides build/env-gated structured logging for the engine,
// mirroring lci's internal/debug package: Printf/Log/component-tagged
// helpers writing to an injectable io.Writer rather than unconditionally to
// stderr, so tests can assert on captured log lines.
package debug

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// EnableDebug is a build flag that can be overridden at build time:
// go build -ldflags "-X github.com/standardbeagle/gofast-runner/internal/debug.EnableDebug=true"
var EnableDebug = "false"

var (
	output io.Writer
	mu     sync.Mutex
)

// SetOutput sets a custom writer for debug output. Pass nil to disable.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = w
}

// IsEnabled reports whether debug logging is active: the build flag, or
// the RUNNER_DEBUG environment variable override.
func IsEnabled() bool {
	if EnableDebug == "true" {
		return true
	}
	v := os.Getenv("RUNNER_DEBUG")
	return v == "1" || v == "true"
}

func writer() io.Writer {
	mu.Lock()
	defer mu.Unlock()
	return output
}

// Printf writes a debug line when logging is enabled and an output is configured.
func Printf(format string, args ...interface{}) {
	if !IsEnabled() {
		return
	}
	w := writer()
	if w == nil {
		return
	}
	fmt.Fprintf(w, "[DEBUG] "+format+"\n", args...)
}

// Log writes a component-tagged debug line.
func Log(component, format string, args ...interface{}) {
	if !IsEnabled() {
		return
	}
	w := writer()
	if w == nil {
		return
	}
	fmt.Fprintf(w, "[DEBUG:%s] "+format+"\n", append([]interface{}{component}, args...)...)
}

// LogDiscovery logs scanner/parser/cache activity.
func LogDiscovery(format string, args ...interface{}) { Log("DISCOVERY", format, args...) }

// LogSchedule logs scheduler strategy selection and lifecycle transitions.
func LogSchedule(format string, args ...interface{}) { Log("SCHEDULE", format, args...) }

// LogBridge logs host-bridge invocation and wire-frame activity.
func LogBridge(format string, args ...interface{}) { Log("BRIDGE", format, args...) }

// LogFixture logs fixture resolution and cache hit/miss activity.
func LogFixture(format string, args ...interface{}) { Log("FIXTURE", format, args...) }
