package sim

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
)

// regKind discriminates callback registrations.
type regKind int

const (
	regTimer regKind = iota + 1
	regValueChange
	regPhase
)

// registration is one outstanding callback.
type registration struct {
	id    CallbackID
	kind  regKind
	at    Time // timers: absolute due time
	sig   Signal
	phase Phase
}

// delivery is a notification queued for the current time step.
type delivery struct {
	id CallbackID
	n  Notification
}

// timerHeap orders timer registrations by (due time, id).
// The id tiebreak keeps same-instant timers in registration order.
type timerHeap []*registration

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].at != h[j].at {
		return h[i].at < h[j].at
	}
	return h[i].id < h[j].id
}
func (h timerHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *timerHeap) Push(x any) { *h = append(*h, x.(*registration)) }
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	r := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return r
}

// Bench is an in-memory discrete-event engine implementing Simulator.
//
// It owns the run loop: Run delivers callbacks to a Reactor one at a time
// and advances simulated time only when the current instant has fully
// settled. Within one time step the order is:
//
//  1. elapsed timers and value changes, in registration/cause order
//  2. read-write phase callbacks (the apply step); writes issued here may
//     produce further value changes, delivered in the same instant
//  3. read-only phase callbacks, with writes rejected
//  4. advance to the next timer, firing next-time-step callbacks first
//
// All bookkeeping uses slices in registration order and a logical clock for
// tiebreaks, so a rerun of the same stimulus is bit-identical.
//
// Bench is single-threaded; it is not safe for concurrent use.
type Bench struct {
	log   *slog.Logger
	clock *Clock

	now      Time
	readOnly bool
	maxTime  Time // 0 = unbounded

	values map[Signal]int64
	forced map[Signal]int64

	cbs      map[CallbackID]*registration
	timers   timerHeap
	valueCbs map[Signal][]CallbackID
	phaseCbs map[Phase][]CallbackID
	pending  []delivery
}

// BenchOption configures a Bench.
type BenchOption func(*Bench)

// WithMaxTime stops the run loop instead of advancing past t.
func WithMaxTime(t Time) BenchOption {
	return func(b *Bench) {
		b.maxTime = t
	}
}

// WithLogger sets the bench logger. Defaults to slog.Default.
func WithLogger(log *slog.Logger) BenchOption {
	return func(b *Bench) {
		b.log = log
	}
}

// WithSignals seeds initial signal values.
func WithSignals(init map[Signal]int64) BenchOption {
	return func(b *Bench) {
		for sig, v := range init {
			b.values[sig] = v
		}
	}
}

// NewBench creates an empty bench at time 0.
func NewBench(opts ...BenchOption) *Bench {
	b := &Bench{
		log:      slog.Default(),
		clock:    NewClock(),
		values:   make(map[Signal]int64),
		forced:   make(map[Signal]int64),
		cbs:      make(map[CallbackID]*registration),
		valueCbs: make(map[Signal][]CallbackID),
		phaseCbs: make(map[Phase][]CallbackID),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Now returns the current simulated time.
func (b *Bench) Now() Time { return b.now }

// ReadOnly reports whether the read-only window is active.
func (b *Bench) ReadOnly() bool { return b.readOnly }

// Read returns the effective value of a signal (forced value wins).
// Unknown signals read as 0.
func (b *Bench) Read(sig Signal) (int64, error) {
	return b.effective(sig), nil
}

func (b *Bench) effective(sig Signal) int64 {
	if v, ok := b.forced[sig]; ok {
		return v
	}
	return b.values[sig]
}

// Write applies a value to a signal and queues value-change notifications
// for every live registration on that signal when the effective value moves.
func (b *Bench) Write(sig Signal, action WriteAction, value int64) error {
	if b.readOnly {
		return fmt.Errorf("write %s during read-only phase at t=%d", sig, b.now)
	}

	old := b.effective(sig)
	switch action {
	case ActionDeposit, ActionNoDelay:
		b.values[sig] = value
	case ActionForce:
		b.forced[sig] = value
	case ActionRelease:
		delete(b.forced, sig)
	case ActionFreeze:
		b.forced[sig] = old
	default:
		return fmt.Errorf("unknown write action %d for %s", int(action), sig)
	}

	if eff := b.effective(sig); eff != old {
		for _, id := range b.valueCbs[sig] {
			if _, live := b.cbs[id]; !live {
				continue
			}
			b.pending = append(b.pending, delivery{
				id: id,
				n:  Notification{Time: b.now, Signal: sig, Value: eff},
			})
		}
		b.log.Debug("signal changed", "signal", sig, "old", old, "new", eff, "t", b.now)
	}
	return nil
}

// RegisterTimeCallback schedules a one-shot timer. Zero delay is delivered
// within the current time step.
func (b *Bench) RegisterTimeCallback(delay Time) (CallbackID, error) {
	id := CallbackID(b.clock.Next())
	reg := &registration{id: id, kind: regTimer, at: b.now + delay}
	b.cbs[id] = reg
	if delay == 0 {
		b.pending = append(b.pending, delivery{id: id, n: Notification{Time: b.now}})
	} else {
		heap.Push(&b.timers, reg)
	}
	return id, nil
}

// RegisterValueChangeCallback registers a persistent value-change callback.
func (b *Bench) RegisterValueChangeCallback(sig Signal) (CallbackID, error) {
	id := CallbackID(b.clock.Next())
	b.cbs[id] = &registration{id: id, kind: regValueChange, sig: sig}
	b.valueCbs[sig] = append(b.valueCbs[sig], id)
	return id, nil
}

// RegisterPhaseCallback schedules a one-shot callback at the next occurrence
// of the given phase boundary.
func (b *Bench) RegisterPhaseCallback(phase Phase) (CallbackID, error) {
	switch phase {
	case PhaseReadWrite, PhaseReadOnly, PhaseNextTimeStep:
	default:
		return 0, fmt.Errorf("unknown phase %d", int(phase))
	}
	id := CallbackID(b.clock.Next())
	b.cbs[id] = &registration{id: id, kind: regPhase, phase: phase}
	b.phaseCbs[phase] = append(b.phaseCbs[phase], id)
	return id, nil
}

// Deregister cancels an outstanding registration. Structures are cleaned
// lazily: dead IDs are skipped when their slot comes up.
func (b *Bench) Deregister(id CallbackID) error {
	if _, ok := b.cbs[id]; !ok {
		return fmt.Errorf("deregister unknown callback %d", int64(id))
	}
	delete(b.cbs, id)
	return nil
}

// Run is the engine-owned loop. It delivers callbacks to r until the
// calendar runs dry, the time bound is hit, the context is cancelled, or
// the reactor returns an error.
func (b *Bench) Run(ctx context.Context, r Reactor) error {
	b.log.Info("bench starting", "max_time", uint64(b.maxTime))

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := b.drainPending(r); err != nil {
			return err
		}

		// Apply step: each read-write callback may issue writes whose
		// value changes belong to this same instant.
		for b.hasPhase(PhaseReadWrite) || len(b.pending) > 0 {
			if err := b.fireOnePhase(PhaseReadWrite, r); err != nil {
				return err
			}
			if err := b.drainPending(r); err != nil {
				return err
			}
		}

		b.readOnly = true
		err := b.fireAllPhase(PhaseReadOnly, r)
		b.readOnly = false
		if err != nil {
			return err
		}

		// A read-only reaction may have registered a zero-delay timer;
		// settle the instant before advancing.
		if len(b.pending) > 0 {
			continue
		}

		next, ok := b.nextTimer()
		if !ok {
			b.log.Info("bench idle: no pending events", "t", uint64(b.now))
			return nil
		}
		if b.maxTime > 0 && next.at > b.maxTime {
			heap.Push(&b.timers, next)
			b.log.Info("bench reached time bound", "t", uint64(b.now), "next", uint64(next.at))
			return nil
		}

		b.now = next.at
		b.log.Debug("time advanced", "t", uint64(b.now))
		heap.Push(&b.timers, next)
		if err := b.fireAllPhase(PhaseNextTimeStep, r); err != nil {
			return err
		}
		b.collectDueTimers()
	}
}

// drainPending delivers queued notifications in cause order.
func (b *Bench) drainPending(r Reactor) error {
	for len(b.pending) > 0 {
		d := b.pending[0]
		b.pending[0] = delivery{}
		b.pending = b.pending[1:]

		reg, live := b.cbs[d.id]
		if !live {
			continue
		}
		if reg.kind == regTimer {
			// One-shot: consumed by delivery.
			delete(b.cbs, d.id)
		}
		if err := r.React(d.id, d.n); err != nil {
			return fmt.Errorf("react to callback %d: %w", int64(d.id), err)
		}
	}
	return nil
}

// hasPhase reports whether a live callback is queued for the phase.
func (b *Bench) hasPhase(p Phase) bool {
	for _, id := range b.phaseCbs[p] {
		if _, live := b.cbs[id]; live {
			return true
		}
	}
	return false
}

// fireOnePhase delivers the oldest live callback for the phase, if any.
func (b *Bench) fireOnePhase(p Phase, r Reactor) error {
	ids := b.phaseCbs[p]
	for len(ids) > 0 {
		id := ids[0]
		ids = ids[1:]
		b.phaseCbs[p] = ids
		if _, live := b.cbs[id]; !live {
			continue
		}
		delete(b.cbs, id)
		if err := r.React(id, Notification{Time: b.now, Phase: p}); err != nil {
			return fmt.Errorf("react to %s callback %d: %w", p, int64(id), err)
		}
		return nil
	}
	return nil
}

// fireAllPhase delivers every live callback registered for the phase before
// this call. Callbacks registered during delivery wait for the next
// occurrence of the phase.
func (b *Bench) fireAllPhase(p Phase, r Reactor) error {
	ids := b.phaseCbs[p]
	b.phaseCbs[p] = nil
	for _, id := range ids {
		if _, live := b.cbs[id]; !live {
			continue
		}
		delete(b.cbs, id)
		if err := r.React(id, Notification{Time: b.now, Phase: p}); err != nil {
			return fmt.Errorf("react to %s callback %d: %w", p, int64(id), err)
		}
	}
	return nil
}

// nextTimer pops the earliest live timer, skipping deregistered entries.
// The caller pushes it back before delivering so Deregister during
// next-time-step callbacks still works.
func (b *Bench) nextTimer() (*registration, bool) {
	for b.timers.Len() > 0 {
		reg := heap.Pop(&b.timers).(*registration)
		if _, live := b.cbs[reg.id]; live {
			return reg, true
		}
	}
	return nil, false
}

// collectDueTimers moves every live timer due at the current instant into
// the pending queue, in registration order.
func (b *Bench) collectDueTimers() {
	for b.timers.Len() > 0 {
		top := b.timers[0]
		if top.at != b.now {
			break
		}
		heap.Pop(&b.timers)
		if _, live := b.cbs[top.id]; !live {
			continue
		}
		b.pending = append(b.pending, delivery{id: top.id, n: Notification{Time: b.now}})
	}
}
