package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cocotb/cocotb-sub002/internal/sched"
)

func TestSequenceTokenGenerator(t *testing.T) {
	g := NewSequenceTokenGenerator("run")
	assert.Equal(t, "run-0001", g.Generate())
	assert.Equal(t, "run-0002", g.Generate())
}

func TestSequenceTokenGenerator_DefaultPrefix(t *testing.T) {
	g := NewSequenceTokenGenerator("")
	assert.Equal(t, "task-0001", g.Generate())
}

func TestTraceLog_Kinds(t *testing.T) {
	l := &TraceLog{}
	l.Record(sched.TraceEvent{Seq: 1, Kind: "start"})
	l.Record(sched.TraceEvent{Seq: 2, Kind: "finish"})

	assert.Equal(t, []string{"start", "finish"}, l.Kinds())
	assert.Len(t, l.Events, 2)
}
