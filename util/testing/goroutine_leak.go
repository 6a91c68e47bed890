// Package testing holds helpers shared by package tests.
package testing

import (
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// CheckGoroutineCleanup verifies no goroutine leaks after test completion.
// Usage: defer CheckGoroutineCleanup(t)() at the start of any test that
// starts a host or other background goroutines.
func CheckGoroutineCleanup(t *testing.T) func() {
	t.Helper()
	before := stableGoroutineCount()

	return func() {
		t.Helper()
		assert.Eventually(t, func() bool {
			return runtime.NumGoroutine() <= before
		}, 5*time.Second, 50*time.Millisecond,
			"goroutine leak: before=%d, now=%d", before, runtime.NumGoroutine())

		if runtime.NumGoroutine() > before {
			DumpGoroutines(t)
		}
	}
}

// DumpGoroutines logs stack traces of all goroutines
func DumpGoroutines(t *testing.T) {
	t.Helper()
	buf := make([]byte, 1<<20)
	n := runtime.Stack(buf, true)
	t.Logf("Goroutine dump:\n%s", buf[:n])
}

// stableGoroutineCount waits until two consecutive readings agree so
// runtime background work does not skew the baseline.
func stableGoroutineCount() int {
	prev := -1
	for i := 0; i < 5; i++ {
		runtime.GC()
		runtime.Gosched()
		current := runtime.NumGoroutine()
		if current == prev {
			return current
		}
		prev = current
		time.Sleep(20 * time.Millisecond)
	}
	return prev
}
