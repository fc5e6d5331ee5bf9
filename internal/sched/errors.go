package sched

import (
	"errors"
	"fmt"

	"github.com/cocotb/cocotb-sub002/internal/sim"
)

// ErrCancelled is the outcome of a cancelled task. It is delivered to
// joiners and returned from Wait; it is never treated as a test failure
// by itself.
var ErrCancelled = errors.New("task cancelled")

// ProtocolError reports a violation of the scheduler protocol: misuse by
// test code or an inconsistency reported by the engine.
//
// Protocol errors are contained where possible: a rejected write or a bad
// resume raises in the offending task without corrupting unrelated state.
// Unknown-callback and reentrancy errors are fatal to the run.
type ProtocolError struct {
	// Code identifies the violation category.
	Code ProtocolErrorCode

	// Message is a human-readable description.
	Message string

	// Task identifies the offending task, when known.
	Task string

	// Trigger describes the trigger involved, when known.
	Trigger string

	// Signal identifies the target of a rejected write.
	Signal sim.Signal
}

// ProtocolErrorCode categorizes protocol errors.
type ProtocolErrorCode string

const (
	// ErrCodeReadOnly indicates a write attempted during the read-only
	// sub-phase.
	ErrCodeReadOnly ProtocolErrorCode = "READ_ONLY_VIOLATION"

	// ErrCodeTaskFinished indicates a resume or await on a task that is
	// already done or cancelled.
	ErrCodeTaskFinished ProtocolErrorCode = "TASK_FINISHED"

	// ErrCodeAlreadyPrimed indicates re-priming of a primed single-shot
	// trigger.
	ErrCodeAlreadyPrimed ProtocolErrorCode = "ALREADY_PRIMED"

	// ErrCodeUnknownCallback indicates the engine delivered a callback ID
	// with no primed trigger. The engine is presumed inconsistent.
	ErrCodeUnknownCallback ProtocolErrorCode = "UNKNOWN_CALLBACK"

	// ErrCodeStepsExceeded indicates a reaction drained more steps than
	// the configured quota: a zero-delay wake loop.
	ErrCodeStepsExceeded ProtocolErrorCode = "STEPS_EXCEEDED"

	// ErrCodeOutsideTask indicates a suspension attempted from a
	// goroutine that is not the running task.
	ErrCodeOutsideTask ProtocolErrorCode = "OUTSIDE_TASK"

	// ErrCodeLockNotHeld indicates a release of an unheld lock.
	ErrCodeLockNotHeld ProtocolErrorCode = "LOCK_NOT_HELD"

	// ErrCodeSchedulerDown indicates use of a scheduler after teardown.
	ErrCodeSchedulerDown ProtocolErrorCode = "SCHEDULER_DOWN"

	// ErrCodeReentrantReact indicates React was called while a prior
	// reaction was still draining.
	ErrCodeReentrantReact ProtocolErrorCode = "REENTRANT_REACT"
)

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	switch {
	case e.Task != "" && e.Trigger != "":
		return fmt.Sprintf("%s: %s (task=%s, trigger=%s)", e.Code, e.Message, e.Task, e.Trigger)
	case e.Task != "":
		return fmt.Sprintf("%s: %s (task=%s)", e.Code, e.Message, e.Task)
	case e.Signal != "":
		return fmt.Sprintf("%s: %s (signal=%s)", e.Code, e.Message, e.Signal)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

// IsReadOnlyViolation reports whether err is a rejected read-only-phase
// write. Uses errors.As to handle wrapped errors.
func IsReadOnlyViolation(err error) bool {
	return hasCode(err, ErrCodeReadOnly)
}

// IsTaskFinished reports whether err is a resume/await of a finished task.
func IsTaskFinished(err error) bool {
	return hasCode(err, ErrCodeTaskFinished)
}

// IsUnknownCallback reports whether err is an unresolved engine callback.
func IsUnknownCallback(err error) bool {
	return hasCode(err, ErrCodeUnknownCallback)
}

// IsStepsExceeded reports whether err is a drain-quota violation.
func IsStepsExceeded(err error) bool {
	return hasCode(err, ErrCodeStepsExceeded)
}

func hasCode(err error, code ProtocolErrorCode) bool {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Code == code
	}
	return false
}
