// Package version holds build-time version metadata for the CLI shell.
package version

// These are overridden at build time via -ldflags, e.g.:
// go build -ldflags "-X github.com/standardbeagle/gofast-runner/internal/version.Version=1.2.3"
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// String renders a one-line version banner for the CLI shell.
func String() string {
	return Version + " (" + Commit + ", " + BuildDate + ")"
}
