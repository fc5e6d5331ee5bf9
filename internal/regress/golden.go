package regress

import (
	"encoding/json"
	"fmt"
)

// TraceSnapshot is the serialized form of one test run used for golden
// comparison. Field order is fixed by the struct, and every value in it is
// derived from logical clocks, so two runs of the same test produce
// byte-identical snapshots.
type TraceSnapshot struct {
	Scenario string          `json:"scenario"`
	Test     string          `json:"test"`
	Status   string          `json:"status"`
	SimTime  uint64          `json:"sim_time"`
	Trace    []SnapshotEvent `json:"trace"`
}

// SnapshotEvent mirrors sched.TraceEvent without the omitempty noise, so
// golden diffs stay stable when a field gains a value.
type SnapshotEvent struct {
	Seq     int64  `json:"seq"`
	Time    uint64 `json:"time"`
	Kind    string `json:"kind"`
	Task    string `json:"task"`
	Trigger string `json:"trigger"`
	Signal  string `json:"signal"`
	Value   int64  `json:"value"`
	Action  string `json:"action"`
	Status  string `json:"status"`
}

// Snapshot builds the golden snapshot for a result.
func Snapshot(res TestResult) TraceSnapshot {
	snap := TraceSnapshot{
		Scenario: res.Scenario,
		Test:     res.Test,
		Status:   res.Status,
		SimTime:  res.SimTime,
		Trace:    make([]SnapshotEvent, len(res.Trace)),
	}
	for i, ev := range res.Trace {
		snap.Trace[i] = SnapshotEvent{
			Seq:     ev.Seq,
			Time:    ev.Time,
			Kind:    ev.Kind,
			Task:    ev.Task,
			Trigger: ev.Trigger,
			Signal:  ev.Signal,
			Value:   ev.Value,
			Action:  ev.Action,
			Status:  ev.Status,
		}
	}
	return snap
}

// MarshalSnapshot renders a snapshot as indented JSON with a trailing
// newline, the on-disk golden format.
func MarshalSnapshot(snap TraceSnapshot) ([]byte, error) {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot %s/%s: %w", snap.Scenario, snap.Test, err)
	}
	return append(data, '\n'), nil
}
