package scheduler

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain ensures the concurrent strategies' worker goroutines (and their
// errgroup plumbing) never outlive a test.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
		goleak.IgnoreTopFunction("sync.runtime_Semacquire"),
	)
}
