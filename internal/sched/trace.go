package sched

// TraceEvent is one entry in the deterministic run trace. Two runs of the
// same test against the same stimulus produce byte-identical event streams;
// the regression layer relies on that for golden-file comparison.
//
// Unused fields are omitted from the JSON encoding.
type TraceEvent struct {
	Seq     int64  `json:"seq"`
	Time    uint64 `json:"time"`
	Kind    string `json:"kind"`
	Task    string `json:"task,omitempty"`
	Trigger string `json:"trigger,omitempty"`
	Signal  string `json:"signal,omitempty"`
	Value   int64  `json:"value,omitempty"`
	Action  string `json:"action,omitempty"`
	Status  string `json:"status,omitempty"`
}

// Recorder consumes trace events as the scheduler emits them.
type Recorder interface {
	Record(ev TraceEvent)
}
