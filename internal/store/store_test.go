package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cocotb/cocotb-sub002/internal/sched"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "results.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestStore_ResultRoundtrip(t *testing.T) {
	st := openTemp(t)
	ctx := context.Background()

	in := Result{
		RunToken: "run-0001",
		Scenario: "smoke",
		Test:     "event_handshake",
		Status:   "pass",
		SimTime:  42,
	}
	require.NoError(t, st.WriteResult(ctx, in))

	out, err := st.ListResults(ctx)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, in.RunToken, out[0].RunToken)
	assert.Equal(t, in.Scenario, out[0].Scenario)
	assert.Equal(t, in.Test, out[0].Test)
	assert.Equal(t, in.Status, out[0].Status)
	assert.Equal(t, in.SimTime, out[0].SimTime)
	assert.Empty(t, out[0].Error)
}

func TestStore_DuplicateRunTokenRejected(t *testing.T) {
	st := openTemp(t)
	ctx := context.Background()

	r := Result{RunToken: "run-0001", Scenario: "s", Test: "t", Status: "pass"}
	require.NoError(t, st.WriteResult(ctx, r))
	assert.Error(t, st.WriteResult(ctx, r))
}

func TestStore_TraceRoundtrip(t *testing.T) {
	st := openTemp(t)
	ctx := context.Background()

	require.NoError(t, st.WriteResult(ctx, Result{
		RunToken: "run-0002", Scenario: "s", Test: "t", Status: "pass",
	}))

	in := []sched.TraceEvent{
		{Seq: 1, Time: 0, Kind: "start", Task: "t"},
		{Seq: 2, Time: 0, Kind: "suspend", Task: "t", Trigger: "Timer(5)"},
		{Seq: 3, Time: 5, Kind: "write", Signal: "data", Value: 42, Action: "deposit"},
		{Seq: 4, Time: 5, Kind: "finish", Task: "t", Status: "pass"},
	}
	require.NoError(t, st.WriteTrace(ctx, "run-0002", in))

	out, err := st.ReadTrace(ctx, "run-0002")
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestStore_ReadTraceUnknownRunIsEmpty(t *testing.T) {
	st := openTemp(t)
	out, err := st.ReadTrace(context.Background(), "nonexistent")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestStore_OpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.db")

	st1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, st1.WriteResult(context.Background(), Result{
		RunToken: "run-0003", Scenario: "s", Test: "t", Status: "pass",
	}))
	require.NoError(t, st1.Close())

	// Reopening applies the schema again without clobbering data.
	st2, err := Open(path)
	require.NoError(t, err)
	defer st2.Close()

	out, err := st2.ListResults(context.Background())
	require.NoError(t, err)
	assert.Len(t, out, 1)
}
