// Package errmgr implements the ErrorManager: it classifies every
// failure the runtime reports as WARN (logged, execution continues) or
// FATAL (logged and the runtime begins an orderly shutdown), giving one
// place that decides which failures are survivable.
package errmgr

import (
	"log/slog"
	"sync"
)

// ErrorManager records warnings and fatal errors through structured
// logging (log/slog, matching the ambient logging idiom the rest of this
// module uses) and exposes a channel that closes exactly once, the first
// time Fatal is called, so callers can select on it instead of polling.
type ErrorManager struct {
	logger *slog.Logger

	mu sync.Mutex
	fatal error
	fatalCh chan struct{}
	closeOnce sync.Once
}

func New(logger *slog.Logger) *ErrorManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &ErrorManager{logger: logger, fatalCh: make(chan struct{})}
}

// Warn logs a non-fatal error; the runtime continues operating.
func (e *ErrorManager) Warn(component string, err error, args ...any) {
	fields := append([]any{"component", component, "error", err}, args...)
	e.logger.Warn("recoverable error", fields...)
}

// Fatal logs an unrecoverable error and closes Done(). Only the first call
// is recorded; subsequent calls are logged but do not overwrite the
// original cause.
func (e *ErrorManager) Fatal(component string, err error, args ...any) {
	fields := append([]any{"component", component, "error", err}, args...)
	e.logger.Error("fatal error", fields...)

	e.mu.Lock()
	if e.fatal == nil {
		e.fatal = err
	}
	e.mu.Unlock()

	e.closeOnce.Do(func() { close(e.fatalCh) })
}

// Done returns a channel closed once Fatal has been called at least once.
func (e *ErrorManager) Done() <-chan struct{} { return e.fatalCh }

// Cause returns the first fatal error recorded, or nil if none occurred.
func (e *ErrorManager) Cause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fatal
}

func (e *ErrorManager) HasFatal() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fatal != nil
}
