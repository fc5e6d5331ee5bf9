// Package testutil provides deterministic substitutes for the production
// identity and trace plumbing, so tests and golden files are byte-stable.
package testutil

import (
	"fmt"
	"sync"

	"github.com/cocotb/cocotb-sub002/internal/sched"
)

// SequenceTokenGenerator returns "task-0001", "task-0002", ... in order.
//
// Unlike the production UUIDv7 generator, the stream is fully determined,
// which keeps task identities stable across runs for golden comparison.
//
// Thread-safety: safe for concurrent use via internal mutex, although the
// scheduler only calls it from one goroutine.
type SequenceTokenGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequenceTokenGenerator creates a generator with the given prefix.
// An empty prefix defaults to "task".
func NewSequenceTokenGenerator(prefix string) *SequenceTokenGenerator {
	if prefix == "" {
		prefix = "task"
	}
	return &SequenceTokenGenerator{prefix: prefix}
}

// Generate implements sched.TokenGenerator.
func (g *SequenceTokenGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%04d", g.prefix, g.n)
}

// TraceLog collects trace events in memory.
// Implements sched.Recorder.
type TraceLog struct {
	Events []sched.TraceEvent
}

// Record appends one event.
func (l *TraceLog) Record(ev sched.TraceEvent) {
	l.Events = append(l.Events, ev)
}

// Kinds returns the ordered list of event kinds, a compact shape check for
// assertions that do not need the full trace.
func (l *TraceLog) Kinds() []string {
	out := make([]string, len(l.Events))
	for i, ev := range l.Events {
		out[i] = ev.Kind
	}
	return out
}
