package sched

import (
	"fmt"
	"strings"

	"github.com/cocotb/cocotb-sub002/internal/sim"
)

// Payload carries the firing data a suspended task receives from Await.
// Unused fields are zero: a timer firing carries only Time, a value change
// carries Signal and Value, a join firing carries the Outcome.
type Payload struct {
	Time    sim.Time
	Signal  sim.Signal
	Value   int64
	Outcome *Outcome
}

// waiter is an entry on a trigger's wait-list: either a suspended task or a
// combinator propagating a child firing upward.
type waiter interface {
	wake(s *Scheduler, src Trigger, p Payload)
}

// Trigger is a reusable condition a task can suspend on. A trigger owns a
// FIFO wait-list and a primed flag meaning exactly one external callback is
// outstanding for it. All waiters are woken together, in arrival order, on
// a single firing.
//
// Implementations live in this package; the method set is unexported so the
// interface is sealed.
type Trigger interface {
	fmt.Stringer

	// prime registers the external callback for the condition. Calling
	// prime on an already-primed single-shot trigger is a protocol error;
	// the scheduler checks primed() first, so awaiting a primed trigger
	// is always legal.
	prime(s *Scheduler) error

	// unprime cancels the outstanding callback, if any.
	unprime(s *Scheduler)

	primed() bool

	addWaiter(w waiter)
	removeWaiter(w waiter)
	hasWaiters() bool
}

// simBacked is the subset of triggers driven by an engine callback; only
// these appear in the scheduler's primed table.
type simBacked interface {
	Trigger
	dispatch(s *Scheduler, n sim.Notification)
}

// waitList is an ordered list of waiters. Arrival order is wake order.
type waitList struct {
	ws []waiter
}

func (l *waitList) add(w waiter) {
	l.ws = append(l.ws, w)
}

func (l *waitList) remove(w waiter) {
	for i, x := range l.ws {
		if x == w {
			l.ws = append(l.ws[:i], l.ws[i+1:]...)
			return
		}
	}
}

func (l *waitList) empty() bool { return len(l.ws) == 0 }

// fire wakes every waiter in arrival order and clears the list.
func (l *waitList) fire(s *Scheduler, src Trigger, p Payload) {
	ws := l.ws
	l.ws = nil
	for _, w := range ws {
		w.wake(s, src, p)
	}
}

// ---- Timer ----

// TimerTrigger fires once after a fixed simulated delay. Single-shot: it
// re-arms on the next priming.
type TimerTrigger struct {
	wl    waitList
	delay sim.Time
	armed bool
	cbID  sim.CallbackID
}

// Timer returns a trigger firing after delay time units. A zero delay
// fires later within the current time step.
func (s *Scheduler) Timer(delay sim.Time) *TimerTrigger {
	return &TimerTrigger{delay: delay}
}

func (t *TimerTrigger) String() string { return fmt.Sprintf("Timer(%d)", uint64(t.delay)) }

func (t *TimerTrigger) prime(s *Scheduler) error {
	if t.armed {
		return &ProtocolError{Code: ErrCodeAlreadyPrimed, Message: "timer already primed", Trigger: t.String()}
	}
	id, err := s.sim.RegisterTimeCallback(t.delay)
	if err != nil {
		return fmt.Errorf("prime %s: %w", t, err)
	}
	t.armed = true
	t.cbID = id
	s.mapCallback(id, t)
	return nil
}

func (t *TimerTrigger) unprime(s *Scheduler) {
	if !t.armed {
		return
	}
	s.unmapCallback(t.cbID)
	if err := s.sim.Deregister(t.cbID); err != nil {
		s.log.Warn("deregister timer failed", "trigger", t.String(), "error", err)
	}
	t.armed = false
	t.cbID = 0
}

func (t *TimerTrigger) primed() bool            { return t.armed }
func (t *TimerTrigger) addWaiter(w waiter)      { t.wl.add(w) }
func (t *TimerTrigger) removeWaiter(w waiter)   { t.wl.remove(w) }
func (t *TimerTrigger) hasWaiters() bool        { return !t.wl.empty() }

func (t *TimerTrigger) dispatch(s *Scheduler, n sim.Notification) {
	// The engine consumed the one-shot registration on delivery.
	s.unmapCallback(t.cbID)
	t.armed = false
	t.cbID = 0
	t.wl.fire(s, t, Payload{Time: n.Time})
}

// ---- Value change / edges ----

// EdgeKind selects which transitions of a signal fire an EdgeTrigger.
type EdgeKind int

const (
	// EdgeAny fires on every effective value change.
	EdgeAny EdgeKind = iota + 1
	// EdgeRising fires on a transition to 1.
	EdgeRising
	// EdgeFalling fires on a transition to 0.
	EdgeFalling
)

func (k EdgeKind) String() string {
	switch k {
	case EdgeAny:
		return "ValueChange"
	case EdgeRising:
		return "RisingEdge"
	case EdgeFalling:
		return "FallingEdge"
	default:
		return fmt.Sprintf("edge(%d)", int(k))
	}
}

// EdgeTrigger fires once when a signal changes in the requested direction.
// Single-shot; the underlying engine registration persists across
// non-matching changes and is cancelled when the trigger fires.
//
// Instances are de-duplicated per scheduler by (signal, kind): repeated
// requests for the rising edge of one signal share one trigger, so their
// waiters form a single FIFO.
type EdgeTrigger struct {
	wl    waitList
	sig   sim.Signal
	kind  EdgeKind
	armed bool
	cbID  sim.CallbackID
}

// ValueChange returns the cached any-change trigger for sig.
func (s *Scheduler) ValueChange(sig sim.Signal) *EdgeTrigger { return s.edge(sig, EdgeAny) }

// RisingEdge returns the cached rising-edge trigger for sig.
func (s *Scheduler) RisingEdge(sig sim.Signal) *EdgeTrigger { return s.edge(sig, EdgeRising) }

// FallingEdge returns the cached falling-edge trigger for sig.
func (s *Scheduler) FallingEdge(sig sim.Signal) *EdgeTrigger { return s.edge(sig, EdgeFalling) }

func (t *EdgeTrigger) String() string { return fmt.Sprintf("%s(%s)", t.kind, t.sig) }

func (t *EdgeTrigger) prime(s *Scheduler) error {
	if t.armed {
		return &ProtocolError{Code: ErrCodeAlreadyPrimed, Message: "edge already primed", Trigger: t.String()}
	}
	id, err := s.sim.RegisterValueChangeCallback(t.sig)
	if err != nil {
		return fmt.Errorf("prime %s: %w", t, err)
	}
	t.armed = true
	t.cbID = id
	s.mapCallback(id, t)
	return nil
}

func (t *EdgeTrigger) unprime(s *Scheduler) {
	if !t.armed {
		return
	}
	s.unmapCallback(t.cbID)
	if err := s.sim.Deregister(t.cbID); err != nil {
		s.log.Warn("deregister edge failed", "trigger", t.String(), "error", err)
	}
	t.armed = false
	t.cbID = 0
}

func (t *EdgeTrigger) primed() bool          { return t.armed }
func (t *EdgeTrigger) addWaiter(w waiter)    { t.wl.add(w) }
func (t *EdgeTrigger) removeWaiter(w waiter) { t.wl.remove(w) }
func (t *EdgeTrigger) hasWaiters() bool      { return !t.wl.empty() }

func (t *EdgeTrigger) matches(v int64) bool {
	switch t.kind {
	case EdgeRising:
		return v == 1
	case EdgeFalling:
		return v == 0
	default:
		return true
	}
}

func (t *EdgeTrigger) dispatch(s *Scheduler, n sim.Notification) {
	if !t.matches(n.Value) {
		// Stay primed; the registration persists until a matching edge.
		return
	}
	s.unmapCallback(t.cbID)
	if err := s.sim.Deregister(t.cbID); err != nil {
		s.log.Warn("deregister edge failed", "trigger", t.String(), "error", err)
	}
	t.armed = false
	t.cbID = 0
	t.wl.fire(s, t, Payload{Time: n.Time, Signal: n.Signal, Value: n.Value})
}

// ---- Phase boundaries ----

// PhaseTrigger fires once at the next occurrence of a simulation phase
// boundary. Single-shot.
type PhaseTrigger struct {
	wl    waitList
	phase sim.Phase
	armed bool
	cbID  sim.CallbackID
}

// ReadOnlyPhase returns a trigger for the end-of-step read-only window.
func (s *Scheduler) ReadOnlyPhase() *PhaseTrigger {
	return &PhaseTrigger{phase: sim.PhaseReadOnly}
}

// ReadWritePhase returns a trigger for the apply step.
func (s *Scheduler) ReadWritePhase() *PhaseTrigger {
	return &PhaseTrigger{phase: sim.PhaseReadWrite}
}

// NextTimeStep returns a trigger for the beginning of the next time step.
func (s *Scheduler) NextTimeStep() *PhaseTrigger {
	return &PhaseTrigger{phase: sim.PhaseNextTimeStep}
}

func (t *PhaseTrigger) String() string { return fmt.Sprintf("Phase(%s)", t.phase) }

func (t *PhaseTrigger) prime(s *Scheduler) error {
	if t.armed {
		return &ProtocolError{Code: ErrCodeAlreadyPrimed, Message: "phase trigger already primed", Trigger: t.String()}
	}
	id, err := s.sim.RegisterPhaseCallback(t.phase)
	if err != nil {
		return fmt.Errorf("prime %s: %w", t, err)
	}
	t.armed = true
	t.cbID = id
	s.mapCallback(id, t)
	return nil
}

func (t *PhaseTrigger) unprime(s *Scheduler) {
	if !t.armed {
		return
	}
	s.unmapCallback(t.cbID)
	if err := s.sim.Deregister(t.cbID); err != nil {
		s.log.Warn("deregister phase failed", "trigger", t.String(), "error", err)
	}
	t.armed = false
	t.cbID = 0
}

func (t *PhaseTrigger) primed() bool          { return t.armed }
func (t *PhaseTrigger) addWaiter(w waiter)    { t.wl.add(w) }
func (t *PhaseTrigger) removeWaiter(w waiter) { t.wl.remove(w) }
func (t *PhaseTrigger) hasWaiters() bool      { return !t.wl.empty() }

func (t *PhaseTrigger) dispatch(s *Scheduler, n sim.Notification) {
	s.unmapCallback(t.cbID)
	t.armed = false
	t.cbID = 0
	t.wl.fire(s, t, Payload{Time: n.Time})
}

// ---- Event ----

// Event is a manually settable level trigger. Set wakes every current
// waiter and leaves the event set: an Await on a set event returns
// immediately until Clear is called.
type Event struct {
	wl      waitList
	s       *Scheduler
	name    string
	set     bool
	payload Payload
}

// NewEvent creates a named event owned by this scheduler.
func (s *Scheduler) NewEvent(name string) *Event {
	return &Event{s: s, name: name}
}

func (e *Event) String() string { return fmt.Sprintf("Event(%s)", e.name) }

// Set marks the event and wakes all waiters in arrival order.
// Setting an already-set event is a no-op.
func (e *Event) Set() { e.SetPayload(Payload{Time: e.s.sim.Now()}) }

// SetPayload is Set with an explicit firing payload.
func (e *Event) SetPayload(p Payload) {
	e.set = true
	e.payload = p
	e.wl.fire(e.s, e, p)
}

// Clear resets the event so future awaits block again.
func (e *Event) Clear() { e.set = false }

// IsSet reports whether the event is set.
func (e *Event) IsSet() bool { return e.set }

// HasWaiters reports whether any task is currently parked on the event.
func (e *Event) HasWaiters() bool { return !e.wl.empty() }

func (e *Event) prime(_ *Scheduler) error {
	if e.set {
		e.wl.fire(e.s, e, e.payload)
	}
	return nil
}

func (e *Event) unprime(_ *Scheduler)   {}
func (e *Event) primed() bool           { return false }
func (e *Event) addWaiter(w waiter)     { e.wl.add(w) }
func (e *Event) removeWaiter(w waiter)  { e.wl.remove(w) }
func (e *Event) hasWaiters() bool       { return !e.wl.empty() }

// ---- Lock ----

// Lock is a cooperative mutual-exclusion trigger between tasks. It is not
// an OS-level primitive: there is no real parallelism, only explicit
// hand-off at suspension points. Awaiting the lock acquires it; Release
// hands it to the oldest waiter, if any.
type Lock struct {
	wl     waitList
	s      *Scheduler
	name   string
	locked bool
}

// NewLock creates a named cooperative lock.
func (s *Scheduler) NewLock(name string) *Lock {
	return &Lock{s: s, name: name}
}

func (l *Lock) String() string { return fmt.Sprintf("Lock(%s)", l.name) }

// Locked reports whether the lock is currently held.
func (l *Lock) Locked() bool { return l.locked }

// Release hands the lock to the oldest waiter, or unlocks it when no task
// is waiting. Releasing an unheld lock is a protocol error.
func (l *Lock) Release() error {
	if !l.locked {
		return &ProtocolError{Code: ErrCodeLockNotHeld, Message: "release of unheld lock", Trigger: l.String()}
	}
	if len(l.wl.ws) > 0 {
		// Direct hand-off: stays locked, oldest waiter becomes holder.
		w := l.wl.ws[0]
		l.wl.ws = l.wl.ws[1:]
		w.wake(l.s, l, Payload{Time: l.s.sim.Now()})
		return nil
	}
	l.locked = false
	return nil
}

func (l *Lock) prime(_ *Scheduler) error {
	if !l.locked && len(l.wl.ws) > 0 {
		w := l.wl.ws[0]
		l.wl.ws = l.wl.ws[1:]
		l.locked = true
		w.wake(l.s, l, Payload{Time: l.s.sim.Now()})
	}
	return nil
}

func (l *Lock) unprime(_ *Scheduler)  {}
func (l *Lock) primed() bool          { return false }
func (l *Lock) addWaiter(w waiter)    { l.wl.add(w) }
func (l *Lock) removeWaiter(w waiter) { l.wl.remove(w) }
func (l *Lock) hasWaiters() bool      { return !l.wl.empty() }

// ---- Combinators ----

// FirstTrigger resolves with the payload of whichever child fires first and
// immediately un-primes the remaining children, so a stale later firing is
// never delivered.
type FirstTrigger struct {
	wl       waitList
	children []Trigger
	resolved bool
	armed    bool
}

// First combines triggers into one that fires on the earliest child firing.
func (s *Scheduler) First(children ...Trigger) *FirstTrigger {
	return &FirstTrigger{children: children}
}

func (t *FirstTrigger) String() string { return "First(" + childNames(t.children) + ")" }

func (t *FirstTrigger) prime(s *Scheduler) error {
	t.resolved = false
	for i, c := range t.children {
		c.addWaiter(t)
		if !c.primed() {
			if err := c.prime(s); err != nil {
				for _, prev := range t.children[:i+1] {
					prev.removeWaiter(t)
					if !prev.hasWaiters() {
						prev.unprime(s)
					}
				}
				return fmt.Errorf("prime %s: %w", t, err)
			}
		}
		if t.resolved {
			// A child fired while being primed (set event, finished task).
			// wake already detached the other children; stay unarmed so a
			// later await re-primes from scratch instead of reading the
			// stale resolved flag.
			return nil
		}
	}
	t.armed = true
	return nil
}

func (t *FirstTrigger) unprime(s *Scheduler) {
	for _, c := range t.children {
		c.removeWaiter(t)
		if !c.hasWaiters() {
			c.unprime(s)
		}
	}
	t.armed = false
}

func (t *FirstTrigger) primed() bool          { return t.armed }
func (t *FirstTrigger) addWaiter(w waiter)    { t.wl.add(w) }
func (t *FirstTrigger) removeWaiter(w waiter) { t.wl.remove(w) }
func (t *FirstTrigger) hasWaiters() bool      { return !t.wl.empty() }

// wake receives a child firing.
func (t *FirstTrigger) wake(s *Scheduler, src Trigger, p Payload) {
	if t.resolved {
		return
	}
	t.resolved = true
	t.armed = false
	for _, c := range t.children {
		if c == src {
			continue
		}
		c.removeWaiter(t)
		if !c.hasWaiters() {
			c.unprime(s)
		}
	}
	t.wl.fire(s, t, p)
}

// CombineTrigger resolves once every child slot has fired, regardless of
// arrival order. Firings are counted per slot rather than per distinct
// trigger, so a child listed twice still resolves: each wake it delivers
// fills one of its slots.
type CombineTrigger struct {
	wl       waitList
	children []Trigger
	fired    []bool
	left     int
	armed    bool
}

// Combine builds a trigger that waits for all children.
func (s *Scheduler) Combine(children ...Trigger) *CombineTrigger {
	return &CombineTrigger{children: children}
}

func (t *CombineTrigger) String() string { return "Combine(" + childNames(t.children) + ")" }

func (t *CombineTrigger) prime(s *Scheduler) error {
	if len(t.children) == 0 {
		t.wl.fire(s, t, Payload{})
		return nil
	}
	t.fired = make([]bool, len(t.children))
	t.left = len(t.children)
	for i, c := range t.children {
		c.addWaiter(t)
		if !c.primed() {
			if err := c.prime(s); err != nil {
				for _, prev := range t.children[:i+1] {
					prev.removeWaiter(t)
					if !prev.hasWaiters() {
						prev.unprime(s)
					}
				}
				return fmt.Errorf("prime %s: %w", t, err)
			}
		}
		if t.left == 0 {
			// Every child fired while being primed; wake already delivered
			// the combined firing. Stay unarmed.
			return nil
		}
	}
	t.armed = true
	return nil
}

func (t *CombineTrigger) unprime(s *Scheduler) {
	for _, c := range t.children {
		c.removeWaiter(t)
		if !c.hasWaiters() {
			c.unprime(s)
		}
	}
	t.armed = false
}

func (t *CombineTrigger) primed() bool          { return t.armed }
func (t *CombineTrigger) addWaiter(w waiter)    { t.wl.add(w) }
func (t *CombineTrigger) removeWaiter(w waiter) { t.wl.remove(w) }
func (t *CombineTrigger) hasWaiters() bool      { return !t.wl.empty() }

func (t *CombineTrigger) wake(s *Scheduler, src Trigger, p Payload) {
	for i, c := range t.children {
		if c == src && !t.fired[i] {
			t.fired[i] = true
			t.left--
			break
		}
	}
	if t.left > 0 {
		return
	}
	t.armed = false
	t.wl.fire(s, t, Payload{Time: p.Time})
}

// JoinTrigger fires when its task reaches a terminal state, delivering the
// task's outcome. Level-like: awaiting an already-finished task fires
// immediately with the recorded outcome.
type JoinTrigger struct {
	wl   waitList
	task *Task
}

func (t *JoinTrigger) String() string { return fmt.Sprintf("Join(%s)", t.task.Name()) }

func (t *JoinTrigger) prime(s *Scheduler) error {
	if t.task.Finished() {
		o := t.task.outcome
		t.wl.fire(s, t, Payload{Time: s.sim.Now(), Outcome: &o})
	}
	return nil
}

func (t *JoinTrigger) unprime(_ *Scheduler) {}
func (t *JoinTrigger) primed() bool         { return false }

// addWaiter also marks the task as joined, which exempts its failures from
// the fatal background-failure rule.
func (t *JoinTrigger) addWaiter(w waiter) {
	t.task.everJoined = true
	t.wl.add(w)
}
func (t *JoinTrigger) removeWaiter(w waiter) { t.wl.remove(w) }
func (t *JoinTrigger) hasWaiters() bool      { return !t.wl.empty() }

// fireFinished is called by the scheduler when the task finishes.
func (t *JoinTrigger) fireFinished(s *Scheduler, o Outcome) {
	t.wl.fire(s, t, Payload{Time: s.sim.Now(), Outcome: &o})
}

// JoinAll waits for every listed task to finish, in any order.
func (s *Scheduler) JoinAll(tasks ...*Task) *CombineTrigger {
	children := make([]Trigger, len(tasks))
	for i, t := range tasks {
		children[i] = t.Join()
	}
	return s.Combine(children...)
}

func childNames(children []Trigger) string {
	names := make([]string, len(children))
	for i, c := range children {
		names[i] = c.String()
	}
	return strings.Join(names, ", ")
}
