package sched

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"
	"github.com/petermattis/goid"

	"github.com/cocotb/cocotb-sub002/internal/sim"
)

// DefaultMaxSteps bounds how many task resumptions one reaction may drain.
// A reaction that exceeds it is a zero-delay wake loop, not progress.
const DefaultMaxSteps = 10000

// TokenGenerator produces identity tokens for tasks.
// UUIDv7Generator is the production implementation; tests substitute a
// fixed sequence for byte-identical traces.
type TokenGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 task tokens.
type UUIDv7Generator struct{}

// Generate returns a new hyphenated UUIDv7 string.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// readyQueue is the FIFO of tasks to resume within the current reaction.
// Single-threaded: only the scheduler touches it, so no locking.
type readyQueue struct {
	tasks []*Task
}

func (q *readyQueue) push(t *Task) {
	q.tasks = append(q.tasks, t)
}

// pop removes and returns the oldest task. The vacated slot is nilled so
// finished tasks do not linger behind the slice header.
func (q *readyQueue) pop() (*Task, bool) {
	if len(q.tasks) == 0 {
		return nil, false
	}
	t := q.tasks[0]
	q.tasks[0] = nil
	if len(q.tasks) == 1 {
		q.tasks = q.tasks[:0]
	} else {
		q.tasks = q.tasks[1:]
	}
	return t, true
}

// remove drops a task from the queue, preserving order of the rest.
func (q *readyQueue) remove(t *Task) {
	for i, x := range q.tasks {
		if x == t {
			q.tasks = append(q.tasks[:i], q.tasks[i+1:]...)
			return
		}
	}
}

func (q *readyQueue) len() int { return len(q.tasks) }

func (q *readyQueue) clear() { q.tasks = nil }

type edgeKey struct {
	sig  sim.Signal
	kind EdgeKind
}

// Scheduler is the coordinator for one simulation run: it owns the ready
// queue, the primed-trigger table, the edge-trigger cache, and the write
// policy. One explicit instance per run; there is no process-wide state.
//
// Concurrency model: strictly single-threaded and cooperative. React is
// the only entry point for external events and must not be called again
// while a prior call is draining; a reentrancy guard turns that protocol
// breach into a fatal error instead of silent corruption.
type Scheduler struct {
	sim    sim.Simulator
	log    *slog.Logger
	policy WritePolicy
	idgen  TokenGenerator
	seq    *sim.Clock
	rec    Recorder

	ready       readyQueue
	primedTable map[sim.CallbackID]simBacked
	edges       map[edgeKey]*EdgeTrigger
	tasks       []*Task // spawn order, for deterministic teardown
	current     *Task
	top         *Task

	maxSteps int
	onResult func(*Task)

	fatal    error
	finished bool
	reacting bool
	down     bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithWritePolicy selects the write-ordering policy. Chosen once at
// construction, never switched mid-run. Default: NewDeferredPolicy().
func WithWritePolicy(p WritePolicy) Option {
	return func(s *Scheduler) { s.policy = p }
}

// WithLogger sets the scheduler logger. Defaults to slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(s *Scheduler) { s.log = log }
}

// WithMaxSteps sets the per-reaction drain quota. Zero disables the guard.
func WithMaxSteps(n int) Option {
	return func(s *Scheduler) { s.maxSteps = n }
}

// WithTokenGenerator overrides task token generation (for testing).
func WithTokenGenerator(g TokenGenerator) Option {
	return func(s *Scheduler) { s.idgen = g }
}

// WithRecorder attaches a trace recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Scheduler) { s.rec = r }
}

// WithResultHandler installs a hook invoked when the top-level task
// finishes, before remaining tasks are torn down.
func WithResultHandler(fn func(*Task)) Option {
	return func(s *Scheduler) { s.onResult = fn }
}

// New creates a scheduler bound to a simulator for one run.
func New(simulator sim.Simulator, opts ...Option) *Scheduler {
	s := &Scheduler{
		sim:         simulator,
		log:         slog.Default(),
		idgen:       UUIDv7Generator{},
		seq:         sim.NewClock(),
		primedTable: make(map[sim.CallbackID]simBacked),
		edges:       make(map[edgeKey]*EdgeTrigger),
		maxSteps:    DefaultMaxSteps,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.policy == nil {
		s.policy = NewDeferredPolicy()
	}
	return s
}

// Start seeds the ready queue with the top-level test task and drains the
// resulting reaction. Exactly one top-level task per scheduler instance.
func (s *Scheduler) Start(name string, body Body) (*Task, error) {
	if s.down {
		return nil, &ProtocolError{Code: ErrCodeSchedulerDown, Message: "start after teardown"}
	}
	if s.top != nil {
		return nil, fmt.Errorf("test %q already started", s.top.name)
	}
	t := s.spawn(name, body)
	s.top = t
	s.log.Info("test started", "test", name, "task", t.id)
	if err := s.drain(); err != nil {
		return t, err
	}
	return t, nil
}

// spawn creates a task and appends it to the ready queue of the current
// reaction.
func (s *Scheduler) spawn(name string, body Body) *Task {
	t := newTask(s, s.idgen.Generate(), name, body)
	s.tasks = append(s.tasks, t)
	s.enqueue(t)
	s.record(TraceEvent{Kind: "start", Task: name})
	return t
}

// enqueue appends a task to the ready queue.
func (s *Scheduler) enqueue(t *Task) {
	s.ready.push(t)
}

// React is the sole re-entry point invoked by the engine. It resolves the
// callback to its primed trigger, fires it (waking waiters in FIFO order),
// and drains the ready queue completely before returning: simulated time
// may not advance while any woken task has pending work for this instant.
//
// An unknown callback ID means the engine and scheduler disagree about
// outstanding registrations; the run cannot be trusted past that point, so
// the scheduler tears down and returns the error.
func (s *Scheduler) React(id sim.CallbackID, n sim.Notification) error {
	if s.down {
		return &ProtocolError{Code: ErrCodeSchedulerDown, Message: "react after teardown"}
	}
	if s.reacting {
		err := &ProtocolError{Code: ErrCodeReentrantReact, Message: "react while a prior reaction is draining"}
		s.log.Error("reentrant react", "callback", int64(id))
		s.Teardown()
		return err
	}
	s.reacting = true
	defer func() { s.reacting = false }()

	trig, ok := s.primedTable[id]
	if !ok {
		err := &ProtocolError{
			Code:    ErrCodeUnknownCallback,
			Message: fmt.Sprintf("no primed trigger for callback %d", int64(id)),
		}
		s.log.Error("unknown callback from engine", "callback", int64(id), "t", uint64(s.sim.Now()))
		s.Teardown()
		return err
	}

	s.record(TraceEvent{Kind: "react", Trigger: trig.String()})
	s.log.Debug("reacting", "callback", int64(id), "trigger", trig.String(), "t", uint64(s.sim.Now()))

	trig.dispatch(s, n)
	return s.drain()
}

// drain runs woken tasks one at a time to their next suspension point until
// the ready queue is empty. Each resumed task may wake further tasks
// transitively; they join the same drain.
func (s *Scheduler) drain() error {
	steps := 0
	for {
		t, ok := s.ready.pop()
		if !ok {
			return nil
		}
		steps++
		if s.maxSteps > 0 && steps > s.maxSteps {
			err := &ProtocolError{
				Code:    ErrCodeStepsExceeded,
				Message: fmt.Sprintf("reaction exceeded %d steps; zero-delay wake loop", s.maxSteps),
				Task:    t.name,
			}
			s.log.Error("drain quota exceeded", "task", t.name, "steps", steps)
			s.Teardown()
			return err
		}
		if err := s.resume(t); err != nil {
			s.Teardown()
			return err
		}
		if s.fatal != nil {
			err := s.fatal
			s.fatal = nil
			s.Teardown()
			return err
		}
		if s.finished && s.top != nil {
			s.finishRun()
		}
	}
}

// resume drives a task from its suspension point to the next one.
// Resuming a finished task is a programmer error.
func (s *Scheduler) resume(t *Task) error {
	if t.Finished() {
		return &ProtocolError{
			Code:    ErrCodeTaskFinished,
			Message: "resume of finished task",
			Task:    t.name,
		}
	}

	t.state = TaskRunning
	s.current = t
	s.record(TraceEvent{Kind: "resume", Task: t.name})

	if !t.started {
		t.started = true
		go t.run()
	} else {
		t.resumeCh <- resumeMsg{payload: t.pendingPayload, err: t.pendingErr}
		t.pendingPayload, t.pendingErr = Payload{}, nil
	}

	msg := <-t.yieldCh
	s.current = nil

	switch msg.kind {
	case yieldAwait:
		t.state = TaskSuspended
		t.waitingOn = msg.trig
		s.record(TraceEvent{Kind: "suspend", Task: t.name, Trigger: msg.trig.String()})
		msg.trig.addWaiter(t)
		if !msg.trig.primed() {
			if err := msg.trig.prime(s); err != nil {
				// Deliver the priming failure into the task at its
				// next resumption instead of losing it.
				msg.trig.removeWaiter(t)
				t.waitingOn = nil
				t.pendingErr = err
				t.state = TaskScheduled
				s.enqueue(t)
			}
		}
	case yieldDone:
		s.finish(t, msg.outcome)
	case yieldKilled:
		// Self-cancellation unwound the goroutine mid-resume.
		s.finish(t, Outcome{Err: ErrCancelled})
	}
	return nil
}

// finish records a task's terminal state, wakes its joiners with the same
// outcome, and applies the fatal background-failure rule.
func (s *Scheduler) finish(t *Task, o Outcome) {
	if o.Cancelled() {
		t.state = TaskCancelled
	} else {
		t.state = TaskDone
	}
	t.outcome = o
	t.waitingOn = nil

	status := "pass"
	switch {
	case o.Cancelled():
		status = "cancelled"
	case o.Err != nil:
		status = "fail"
	}
	s.record(TraceEvent{Kind: "finish", Task: t.name, Status: status})
	s.log.Debug("task finished", "task", t.name, "status", status)

	if t.join != nil {
		t.join.fireFinished(s, o)
	}

	switch {
	case t == s.top:
		s.finished = true
	case o.Failed() && !t.everJoined:
		// Nobody will ever observe this failure at a join point.
		s.fatal = fmt.Errorf("background task %s failed: %w", t.name, o.Err)
	}
}

// finishRun reports the top-level outcome and cancels every task the test
// left behind, so the engine runs dry and can start the next queued test.
func (s *Scheduler) finishRun() {
	top := s.top
	s.finished = false
	s.log.Info("test finished", "test", top.name, "status", resultStatus(top.outcome))
	if s.onResult != nil {
		s.onResult(top)
	}
	for _, t := range s.snapshotTasks() {
		if !t.Finished() {
			s.cancel(t)
		}
	}
	s.unprimeAll()
}

// cancel implements Task.Cancel. See that method for the contract.
func (s *Scheduler) cancel(t *Task) {
	if t.Finished() {
		return
	}

	if s.current == t && goid.Get() == t.gid {
		// Self-cancel: unwind the goroutine; resume observes yieldKilled.
		panic(killSignal{})
	}

	switch t.state {
	case TaskSuspended:
		if trig := t.waitingOn; trig != nil {
			trig.removeWaiter(t)
			if !trig.hasWaiters() {
				trig.unprime(s)
			}
			t.waitingOn = nil
		}
	case TaskScheduled:
		s.ready.remove(t)
	}

	if t.started {
		t.resumeCh <- resumeMsg{kill: true}
		<-t.yieldCh // yieldKilled
	}
	s.finish(t, Outcome{Err: ErrCancelled})
}

// Teardown cancels all outstanding tasks, un-primes all triggers, and
// releases every engine registration. The scheduler is unusable afterwards.
// Idempotent.
func (s *Scheduler) Teardown() {
	if s.down {
		return
	}
	for _, t := range s.snapshotTasks() {
		if !t.Finished() {
			s.cancel(t)
		}
	}
	s.unprimeAll()
	s.policy.Reset()
	s.ready.clear()
	s.record(TraceEvent{Kind: "teardown"})
	s.down = true
	s.log.Info("scheduler torn down")
}

// unprimeAll releases remaining primed triggers in callback-ID order.
func (s *Scheduler) unprimeAll() {
	ids := make([]sim.CallbackID, 0, len(s.primedTable))
	for id := range s.primedTable {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if trig, ok := s.primedTable[id]; ok {
			trig.unprime(s)
		}
	}
}

// IsIdle reports whether the scheduler has no pending work for the current
// instant.
func (s *Scheduler) IsIdle() bool {
	return !s.reacting && s.ready.len() == 0
}

// Result returns the top-level task's outcome once it has finished.
func (s *Scheduler) Result() (Outcome, bool) {
	if s.top == nil || !s.top.Finished() {
		return Outcome{}, false
	}
	return s.top.outcome, true
}

// Top returns the top-level test task, if started.
func (s *Scheduler) Top() *Task { return s.top }

// ScheduleWrite routes a write through the active policy.
func (s *Scheduler) ScheduleWrite(sig sim.Signal, action sim.WriteAction, value int64) error {
	return s.policy.ScheduleWrite(s, sig, action, value)
}

// applyWrite issues one engine write and records it. Called by policies
// only.
func (s *Scheduler) applyWrite(sig sim.Signal, action sim.WriteAction, value int64) error {
	if err := s.sim.Write(sig, action, value); err != nil {
		return fmt.Errorf("apply write %s: %w", sig, err)
	}
	s.record(TraceEvent{Kind: "write", Signal: string(sig), Action: action.String(), Value: value})
	s.log.Debug("write applied", "signal", sig, "action", action.String(), "value", value)
	return nil
}

// edge returns the de-duplicated trigger for (signal, kind).
func (s *Scheduler) edge(sig sim.Signal, kind EdgeKind) *EdgeTrigger {
	key := edgeKey{sig: sig, kind: kind}
	if t, ok := s.edges[key]; ok {
		return t
	}
	t := &EdgeTrigger{sig: sig, kind: kind}
	s.edges[key] = t
	return t
}

// mapCallback binds an engine callback ID to its primed trigger.
func (s *Scheduler) mapCallback(id sim.CallbackID, trig simBacked) {
	s.primedTable[id] = trig
}

// unmapCallback removes a callback binding.
func (s *Scheduler) unmapCallback(id sim.CallbackID) {
	delete(s.primedTable, id)
}

// record forwards a trace event to the recorder, stamping seq and time.
func (s *Scheduler) record(ev TraceEvent) {
	if s.rec == nil {
		return
	}
	ev.Seq = s.seq.Next()
	ev.Time = uint64(s.sim.Now())
	s.rec.Record(ev)
}

// snapshotTasks copies the live-task list so cancellation can mutate it.
func (s *Scheduler) snapshotTasks() []*Task {
	out := make([]*Task, len(s.tasks))
	copy(out, s.tasks)
	return out
}

func resultStatus(o Outcome) string {
	switch {
	case o.Cancelled():
		return "cancelled"
	case o.Err != nil:
		return "fail"
	default:
		return "pass"
	}
}
