// Package goroutine guards background goroutines against panics.
package goroutine

import (
	"fmt"
	"os"
	"runtime"

	"go.uber.org/zap"
)

const (
	// StackTraceBufferSize is the buffer size for stack trace collection
	StackTraceBufferSize = 4096
)

// PanicError carries a panic recovered from a goroutine started with Go
type PanicError struct {
	Goroutine string
	Value     interface{}
	Stack     string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("goroutine %s panicked: %v", e.Goroutine, e.Value)
}

// Recover recovers from panics in goroutines and logs them.
// If logger is nil, falls back to stderr to ensure panic is recorded.
func Recover(name string, logger *zap.SugaredLogger) {
	if r := recover(); r != nil {
		report(newPanicError(name, r), logger)
	}
}

// Go runs fn on a new goroutine and delivers its outcome on the returned
// channel: fn's error (possibly nil), or a *PanicError if fn panicked.
// Exactly one value is sent, then the channel is closed.
func Go(name string, logger *zap.SugaredLogger, fn func() error) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				perr := newPanicError(name, r)
				report(perr, logger)
				done <- perr
			}
		}()
		done <- fn()
	}()
	return done
}

func newPanicError(name string, r interface{}) *PanicError {
	buf := make([]byte, StackTraceBufferSize)
	n := runtime.Stack(buf, false)
	return &PanicError{Goroutine: name, Value: r, Stack: string(buf[:n])}
}

func report(perr *PanicError, logger *zap.SugaredLogger) {
	if logger != nil {
		logger.Errorw("Goroutine panic recovered",
			"goroutine", perr.Goroutine,
			"panic", perr.Value,
			"stack", perr.Stack)
		return
	}
	fmt.Fprintf(os.Stderr, "PANIC in goroutine %s (no logger): %v\n%s\n",
		perr.Goroutine, perr.Value, perr.Stack)
}
