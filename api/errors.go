// File: api/errors.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Common error values used across the hioload-loop library.

package api

import "fmt"

// Common errors used across the library.
var (
	// ErrWouldBlock is the distinguished transient condition reported by the
	// non-blocking socket layer. It triggers suspension inside the loop's
	// I/O primitives and must never escape to a task body as a failure.
	ErrWouldBlock = fmt.Errorf("operation would block")

	// ErrNotSupported is returned on platforms without a poll-mode backend.
	ErrNotSupported = fmt.Errorf("operation not supported on this platform")

	// ErrTaskCancelled is raised at a task's suspension point after
	// Loop.Cancel marked it cancelled.
	ErrTaskCancelled = fmt.Errorf("task cancelled")

	// ErrDeadlineExceeded is raised at a task's suspension point when its
	// deadline elapsed before the awaited readiness arrived.
	ErrDeadlineExceeded = fmt.Errorf("task deadline exceeded")

	// ErrWatchReplaced is raised in a waiting task when a later registration
	// took over its (fd, interest) slot.
	ErrWatchReplaced = fmt.Errorf("descriptor watch replaced by another task")

	// ErrStalled is reported when tasks are parked awaiting each other with
	// no runnable work and no pending I/O left to wake them.
	ErrStalled = fmt.Errorf("scheduler stalled: tasks await unreachable results")

	// ErrTaskNotDone is returned by Task.Result before the task reached a
	// terminal state.
	ErrTaskNotDone = fmt.Errorf("task has not finished")

	// ErrInvalidInterest is raised when a task suspends with an interest
	// that is not exactly one of Readable or Writable.
	ErrInvalidInterest = fmt.Errorf("invalid interest: exactly one of readable or writable required")
)
