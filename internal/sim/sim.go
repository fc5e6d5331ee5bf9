// Package sim defines the contract between the scheduler and the external
// discrete-event simulation engine, plus an in-memory Bench implementation
// used by tests and the demo CLI.
//
// The real engine owns the run loop and simulated time. The scheduler never
// advances time itself: it registers callbacks and reacts when the engine
// delivers them, one at a time.
package sim

import "fmt"

// Signal names a writable/readable cell in the design under test.
// Multi-valued logic encoding is out of scope; values are plain int64.
type Signal string

// Time is simulated time in engine time units.
type Time uint64

// CallbackID identifies one registered engine callback.
// IDs come from a monotonic logical clock, so registration order is total.
type CallbackID int64

// Phase identifies a sub-phase boundary of a simulated time step.
type Phase int

const (
	// PhaseReadWrite is the boundary where deferred writes are applied.
	// Values may still be mutated; mutations are visible within the step.
	PhaseReadWrite Phase = iota + 1

	// PhaseReadOnly is the end-of-step window where values may be read
	// but not written.
	PhaseReadOnly

	// PhaseNextTimeStep fires at the beginning of the next time step.
	PhaseNextTimeStep
)

// String returns the phase name used in logs and traces.
func (p Phase) String() string {
	switch p {
	case PhaseReadWrite:
		return "readwrite"
	case PhaseReadOnly:
		return "readonly"
	case PhaseNextTimeStep:
		return "nexttimestep"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// WriteAction selects how a write is applied to a signal.
type WriteAction int

const (
	// ActionDeposit is a plain value deposit, overridable by the design.
	ActionDeposit WriteAction = iota + 1

	// ActionForce overrides the signal until released.
	ActionForce

	// ActionRelease removes a force; deposits take effect again.
	ActionRelease

	// ActionFreeze forces the signal to its current value.
	ActionFreeze

	// ActionNoDelay applies the value immediately, bypassing deferral
	// at the engine level.
	ActionNoDelay
)

// String returns the action name used in logs and traces.
func (a WriteAction) String() string {
	switch a {
	case ActionDeposit:
		return "deposit"
	case ActionForce:
		return "force"
	case ActionRelease:
		return "release"
	case ActionFreeze:
		return "freeze"
	case ActionNoDelay:
		return "nodelay"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Notification is the payload the engine attaches to a delivered callback.
// Unused fields are zero: a timer delivery carries only Time, a value-change
// delivery carries Signal and the new Value, a phase delivery carries Phase.
type Notification struct {
	Time   Time
	Signal Signal
	Value  int64
	Phase  Phase
}

// Reactor receives engine callbacks. Implemented by the scheduler.
//
// The engine delivers exactly one callback at a time and must not call
// React again until the previous call has returned.
type Reactor interface {
	React(id CallbackID, n Notification) error
}

// Simulator is the engine surface the scheduler consumes.
//
// All registration methods return an ID the engine will later deliver to
// the Reactor. Deregister cancels an outstanding registration; deregistering
// an ID that was already delivered (or never issued) is an error.
type Simulator interface {
	// Now returns the current simulated time.
	Now() Time

	// ReadOnly reports whether the current sub-phase forbids writes.
	ReadOnly() bool

	// Read returns the current value of a signal.
	Read(sig Signal) (int64, error)

	// Write applies a value to a signal. Called only from the apply step
	// (or directly under the trust write policy). Fails during the
	// read-only sub-phase.
	Write(sig Signal, action WriteAction, value int64) error

	// RegisterTimeCallback schedules a one-shot callback after delay
	// time units. A zero delay fires within the current time step.
	RegisterTimeCallback(delay Time) (CallbackID, error)

	// RegisterValueChangeCallback registers a persistent callback fired
	// each time the signal's effective value changes, until deregistered.
	RegisterValueChangeCallback(sig Signal) (CallbackID, error)

	// RegisterPhaseCallback schedules a one-shot callback at the next
	// occurrence of the given phase boundary.
	RegisterPhaseCallback(phase Phase) (CallbackID, error)

	// Deregister cancels an outstanding callback registration.
	Deregister(id CallbackID) error
}
