package sched

import (
	"fmt"

	"github.com/cocotb/cocotb-sub002/internal/sim"
)

// WritePolicy decides when a scheduled signal write reaches the engine.
// The policy is selected once at scheduler construction and never switched
// mid-run. Both policies reject writes during the read-only sub-phase
// without mutating any state.
type WritePolicy interface {
	// Name identifies the policy in config files and traces.
	Name() string

	// ScheduleWrite accepts one write issued by task code.
	ScheduleWrite(s *Scheduler, sig sim.Signal, action sim.WriteAction, value int64) error

	// Reset drops any pending state. Called on teardown.
	Reset()
}

// pendingWrite is one deferred write awaiting the apply boundary.
type pendingWrite struct {
	action sim.WriteAction
	value  int64
	seq    int64
}

// DeferredPolicy holds writes in an ordered map and applies them at the
// read-write phase boundary: at most one effective engine write per handle
// per step, last value wins, insertion order across distinct handles
// preserved. This is the default, bit-reproducible policy.
type DeferredPolicy struct {
	order   []sim.Signal
	pending map[sim.Signal]pendingWrite
	armed   bool
}

// NewDeferredPolicy creates an empty deferred write policy.
func NewDeferredPolicy() *DeferredPolicy {
	return &DeferredPolicy{pending: make(map[sim.Signal]pendingWrite)}
}

// Name implements WritePolicy.
func (p *DeferredPolicy) Name() string { return "deferred" }

// ScheduleWrite inserts or overwrites the pending entry for sig. The first
// deferred write of a step primes the dedicated apply-phase trigger.
func (p *DeferredPolicy) ScheduleWrite(s *Scheduler, sig sim.Signal, action sim.WriteAction, value int64) error {
	if s.sim.ReadOnly() {
		return &ProtocolError{
			Code:    ErrCodeReadOnly,
			Message: "write scheduled during read-only phase",
			Signal:  sig,
		}
	}

	if prev, ok := p.pending[sig]; ok {
		// Last write wins; the handle keeps its original slot and seq.
		p.pending[sig] = pendingWrite{action: action, value: value, seq: prev.seq}
	} else {
		p.pending[sig] = pendingWrite{action: action, value: value, seq: s.seq.Next()}
		p.order = append(p.order, sig)
	}

	if !p.armed {
		trig := s.ReadWritePhase()
		trig.addWaiter(p)
		if err := trig.prime(s); err != nil {
			return fmt.Errorf("arm apply trigger: %w", err)
		}
		p.armed = true
	}
	return nil
}

// wake is the apply step: the dedicated phase trigger fired. Drains the
// pending map in insertion order, one engine write per entry.
// Implements the waiter interface.
func (p *DeferredPolicy) wake(s *Scheduler, _ Trigger, _ Payload) {
	order := p.order
	pending := p.pending
	p.order = nil
	p.pending = make(map[sim.Signal]pendingWrite)
	p.armed = false

	for _, sig := range order {
		pw := pending[sig]
		if err := s.applyWrite(sig, pw.action, pw.value); err != nil {
			// Engine-reported write failure is fatal to the run.
			s.fatal = err
			return
		}
	}
}

// Reset implements WritePolicy.
func (p *DeferredPolicy) Reset() {
	p.order = nil
	p.pending = make(map[sim.Signal]pendingWrite)
	p.armed = false
}

// TrustPolicy forwards every write to the engine immediately, trading the
// at-most-one-write-per-handle guarantee for lower latency. Two writes to
// one handle in a step both reach the engine, in issue order.
type TrustPolicy struct{}

// NewTrustPolicy creates the pass-through write policy.
func NewTrustPolicy() *TrustPolicy { return &TrustPolicy{} }

// Name implements WritePolicy.
func (p *TrustPolicy) Name() string { return "trust" }

// ScheduleWrite applies the write immediately, bypassing deferral.
func (p *TrustPolicy) ScheduleWrite(s *Scheduler, sig sim.Signal, action sim.WriteAction, value int64) error {
	if s.sim.ReadOnly() {
		return &ProtocolError{
			Code:    ErrCodeReadOnly,
			Message: "write issued during read-only phase",
			Signal:  sig,
		}
	}
	return s.applyWrite(sig, action, value)
}

// Reset implements WritePolicy.
func (p *TrustPolicy) Reset() {}

// ParseWritePolicy maps a config name to a fresh policy instance.
func ParseWritePolicy(name string) (WritePolicy, error) {
	switch name {
	case "", "deferred":
		return NewDeferredPolicy(), nil
	case "trust":
		return NewTrustPolicy(), nil
	default:
		return nil, fmt.Errorf("unknown write policy %q (want deferred or trust)", name)
	}
}
