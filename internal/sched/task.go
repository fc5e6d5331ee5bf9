package sched

import (
	"errors"
	"fmt"

	"github.com/petermattis/goid"

	"github.com/cocotb/cocotb-sub002/internal/sim"
)

// TaskState is the lifecycle state of a task. A task occupies exactly one
// state at a time.
type TaskState int

const (
	// TaskScheduled means the task sits in the ready queue awaiting resume.
	TaskScheduled TaskState = iota + 1
	// TaskRunning means the task is executing toward its next suspension.
	TaskRunning
	// TaskSuspended means the task is parked on a trigger.
	TaskSuspended
	// TaskDone means the task completed or failed.
	TaskDone
	// TaskCancelled means the task was forcibly cancelled.
	TaskCancelled
)

// String returns the state name used in logs and traces.
func (s TaskState) String() string {
	switch s {
	case TaskScheduled:
		return "scheduled"
	case TaskRunning:
		return "running"
	case TaskSuspended:
		return "suspended"
	case TaskDone:
		return "done"
	case TaskCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Outcome is the terminal result of a task: success with an optional
// result value, a propagated error, or the cancellation marker. Result is
// set only on success; a failed or cancelled task delivers no value.
type Outcome struct {
	Result any
	Err    error
}

// Cancelled reports whether the outcome is the cancellation marker.
func (o Outcome) Cancelled() bool { return errors.Is(o.Err, ErrCancelled) }

// Failed reports whether the task failed with a real error.
func (o Outcome) Failed() bool { return o.Err != nil && !o.Cancelled() }

// Body is the test logic of a task. It runs as straight-line blocking-style
// code; every Context.Await call is a suspension point.
type Body func(*Context) error

// killSignal unwinds a task goroutine during cancellation.
type killSignal struct{}

type yieldKind int

const (
	yieldAwait yieldKind = iota + 1
	yieldDone
	yieldKilled
)

// yieldMsg is the task goroutine's report back to the scheduler: either
// "suspended on trigger X" or "finished with outcome Y".
type yieldMsg struct {
	kind    yieldKind
	trig    Trigger
	outcome Outcome
}

// resumeMsg hands control back into a suspended task goroutine.
type resumeMsg struct {
	kill    bool
	payload Payload
	err     error
}

// Task is a suspendable unit of test logic.
//
// The body runs on a dedicated goroutine, but control is handed back and
// forth over unbuffered channels so exactly one logical thread of control
// exists at any instant: the scheduler blocks while the task runs, and the
// task blocks while suspended. There is no real parallelism among tasks.
type Task struct {
	id   string
	name string
	s    *Scheduler
	body Body

	state   TaskState
	outcome Outcome

	// join is created on first Join() call; a nil join with no waiters
	// marks the task as an unjoined background task, whose failure is
	// fatal to the run.
	join       *JoinTrigger
	everJoined bool

	waitingOn      Trigger
	pendingPayload Payload
	pendingErr     error
	result         any

	resumeCh chan resumeMsg
	yieldCh  chan yieldMsg
	started  bool
	gid      int64
}

func newTask(s *Scheduler, id, name string, body Body) *Task {
	return &Task{
		id:       id,
		name:     name,
		s:        s,
		body:     body,
		state:    TaskScheduled,
		resumeCh: make(chan resumeMsg),
		yieldCh:  make(chan yieldMsg),
	}
}

// ID returns the task's unique identity token.
func (t *Task) ID() string { return t.id }

// Name returns the task's display name.
func (t *Task) Name() string { return t.name }

// State returns the current lifecycle state.
func (t *Task) State() TaskState { return t.state }

// Finished reports whether the task reached a terminal state.
func (t *Task) Finished() bool { return t.state == TaskDone || t.state == TaskCancelled }

// Poll reports the current state and outcome without advancing the task.
// The outcome is meaningful only once Finished reports true.
func (t *Task) Poll() (TaskState, Outcome) { return t.state, t.outcome }

// WaitingOn returns the trigger the task is suspended on, or nil.
func (t *Task) WaitingOn() Trigger { return t.waitingOn }

// Join returns the trigger that fires when the task finishes, delivering
// the task's outcome to every waiter.
func (t *Task) Join() *JoinTrigger {
	if t.join == nil {
		t.join = &JoinTrigger{task: t}
	}
	return t.join
}

// Cancel forcibly finishes the task with the cancellation outcome. It is
// synchronous and total: the task is removed from every wait-list, any
// trigger solely awaited by it is un-primed, its goroutine is unwound, and
// all joiners are woken exactly once. Cancelling a finished task is a no-op.
//
// A task cancelling itself does not return: its goroutine unwinds
// immediately.
func (t *Task) Cancel() {
	t.s.cancel(t)
}

// run executes the body on the task goroutine and reports the terminal
// yield. A panic other than the kill signal becomes a task failure.
func (t *Task) run() {
	t.gid = goid.Get()
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(killSignal); ok {
				t.yieldCh <- yieldMsg{kind: yieldKilled}
				return
			}
			t.yieldCh <- yieldMsg{kind: yieldDone, outcome: Outcome{Err: fmt.Errorf("task panic: %v", r)}}
		}
	}()
	err := t.body(&Context{s: t.s, t: t})
	o := Outcome{Err: err}
	if err == nil {
		o.Result = t.result
	}
	t.yieldCh <- yieldMsg{kind: yieldDone, outcome: o}
}

// wake stages the firing payload and moves the task to the ready queue.
// Implements the waiter interface; called from Trigger firings only.
func (t *Task) wake(s *Scheduler, src Trigger, p Payload) {
	if t.Finished() {
		return
	}
	t.waitingOn = nil
	t.pendingPayload = p
	t.pendingErr = nil
	t.state = TaskScheduled
	s.enqueue(t)
	s.log.Debug("task woken", "task", t.name, "trigger", src.String())
}

// Context is the API surface a task body uses to interact with the
// scheduler: suspension, signal access, and spawning. A Context is valid
// only on its own task's goroutine.
type Context struct {
	s *Scheduler
	t *Task
}

// Task returns the task this context belongs to.
func (c *Context) Task() *Task { return c.t }

// Scheduler returns the owning scheduler.
func (c *Context) Scheduler() *Scheduler { return c.s }

// Await suspends the task until the trigger fires and returns the firing
// payload. Awaiting from a goroutine that is not the running task is a
// protocol error.
func (c *Context) Await(trig Trigger) (Payload, error) {
	t := c.t
	if goid.Get() != t.gid || c.s.current != t {
		return Payload{}, &ProtocolError{
			Code:    ErrCodeOutsideTask,
			Message: "await outside the running task",
			Task:    t.name,
			Trigger: trig.String(),
		}
	}
	t.yieldCh <- yieldMsg{kind: yieldAwait, trig: trig}
	msg := <-t.resumeCh
	if msg.kill {
		panic(killSignal{})
	}
	if msg.err != nil {
		return Payload{}, msg.err
	}
	return msg.payload, nil
}

// Sleep suspends the task for a fixed simulated delay.
func (c *Context) Sleep(delay sim.Time) error {
	_, err := c.Await(c.s.Timer(delay))
	return err
}

// SetResult records the task's success value, delivered to joiners in the
// terminal outcome. The last value set before the body returns wins. The
// value is discarded when the body returns an error or the task is
// cancelled.
func (c *Context) SetResult(v any) { c.t.result = v }

// Wait suspends until the other task finishes and returns its outcome: the
// result value and nil on success, the propagated error, or ErrCancelled.
func (c *Context) Wait(other *Task) (any, error) {
	p, err := c.Await(other.Join())
	if err != nil {
		return nil, err
	}
	if p.Outcome == nil {
		return nil, nil
	}
	return p.Outcome.Result, p.Outcome.Err
}

// Read returns the current value of a signal.
func (c *Context) Read(sig sim.Signal) (int64, error) {
	return c.s.sim.Read(sig)
}

// Write schedules a plain deposit through the active write policy.
func (c *Context) Write(sig sim.Signal, value int64) error {
	return c.s.ScheduleWrite(sig, sim.ActionDeposit, value)
}

// WriteAction schedules a write with an explicit action through the active
// write policy.
func (c *Context) WriteAction(sig sim.Signal, action sim.WriteAction, value int64) error {
	return c.s.ScheduleWrite(sig, action, value)
}

// Spawn starts a new task running concurrently with the caller. The child
// is appended to the ready queue of the current reaction.
func (c *Context) Spawn(name string, body Body) *Task {
	return c.s.spawn(name, body)
}
