// Package testutil provides shared helpers for digitlab tests: an in-memory
// context broker and bounded waits on channels.
package testutil

import (
	"testing"
	"time"
)

// DefaultTestTimeout bounds waits on asynchronous test events.
const DefaultTestTimeout = 5 * time.Second

// Receive waits for one value from ch and fails the test after timeout.
func Receive[T any](t *testing.T, ch <-chan T, timeout time.Duration, msg string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(timeout):
		t.Fatalf("timed out after %v: %s", timeout, msg)
		var zero T
		return zero
	}
}
