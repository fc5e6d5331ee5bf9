package regress

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cocotb/cocotb-sub002/internal/sched"
	"github.com/cocotb/cocotb-sub002/internal/store"
	"github.com/cocotb/cocotb-sub002/internal/testutil"
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestRunner_BuiltinScenarioPasses(t *testing.T) {
	runner := NewRunner(BuiltinRegistry(),
		WithTokens(testutil.NewSequenceTokenGenerator("run")),
		WithRunnerLogger(discardLogger()),
	)
	sc := &Scenario{
		Name: "builtin",
		Tests: []string{
			"deferred_write_readback",
			"event_handshake",
			"edge_monitor",
			"queue_pipeline",
		},
	}

	results, err := runner.RunScenario(context.Background(), sc)
	require.NoError(t, err)
	require.Len(t, results, 4)

	for _, res := range results {
		assert.Equal(t, "pass", res.Status, "%s: %v", res.Test, res.Err)
		assert.NotEmpty(t, res.RunToken)
		assert.NotEmpty(t, res.Trace)
	}
	assert.Equal(t, uint64(10), results[0].SimTime, "deferred_write_readback sleeps 10")
}

func TestRunner_UnknownTestAborts(t *testing.T) {
	runner := NewRunner(BuiltinRegistry(), WithRunnerLogger(discardLogger()))
	sc := &Scenario{Name: "bad", Tests: []string{"no_such_test"}}

	_, err := runner.RunScenario(context.Background(), sc)
	require.Error(t, err)
	assert.ErrorContains(t, err, "unknown test")
}

func TestRunner_FailureDoesNotStopScenario(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("failing", func(ctx *sched.Context) error {
		return errors.New("observed mismatch")
	}))
	require.NoError(t, reg.Register("passing", func(ctx *sched.Context) error {
		return ctx.Sleep(1)
	}))

	runner := NewRunner(reg, WithRunnerLogger(discardLogger()))
	sc := &Scenario{Name: "mixed", Tests: []string{"failing", "passing"}}

	results, err := runner.RunScenario(context.Background(), sc)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "fail", results[0].Status)
	assert.ErrorContains(t, results[0].Err, "observed mismatch")
	assert.Equal(t, "pass", results[1].Status)
}

func TestRunner_IncompleteTestReportsError(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("stuck", func(ctx *sched.Context) error {
		// Never fires within the scenario's time bound.
		return ctx.Sleep(1_000_000)
	}))

	runner := NewRunner(reg, WithRunnerLogger(discardLogger()))
	sc := &Scenario{Name: "bounded", MaxTime: 100, Tests: []string{"stuck"}}

	results, err := runner.RunScenario(context.Background(), sc)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "error", results[0].Status)
	assert.ErrorContains(t, results[0].Err, "did not complete")
}

func TestRunner_ScenarioSignalsSeedBench(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("read_seed", func(ctx *sched.Context) error {
		v, err := ctx.Read("rst")
		if err != nil {
			return err
		}
		if v != 1 {
			return errors.New("rst not seeded")
		}
		return nil
	}))

	runner := NewRunner(reg, WithRunnerLogger(discardLogger()))
	sc := &Scenario{
		Name:    "seeded",
		Signals: map[string]int64{"rst": 1},
		Tests:   []string{"read_seed"},
	}

	results, err := runner.RunScenario(context.Background(), sc)
	require.NoError(t, err)
	assert.Equal(t, "pass", results[0].Status)
}

func TestRunner_PersistsResultsAndTraces(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "results.db"))
	require.NoError(t, err)
	defer st.Close()

	runner := NewRunner(BuiltinRegistry(),
		WithStore(st),
		WithTokens(testutil.NewSequenceTokenGenerator("run")),
		WithRunnerLogger(discardLogger()),
	)
	sc := &Scenario{Name: "persisted", Tests: []string{"event_handshake"}}

	results, err := runner.RunScenario(context.Background(), sc)
	require.NoError(t, err)
	require.Len(t, results, 1)

	stored, err := st.ListResults(context.Background())
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, results[0].RunToken, stored[0].RunToken)
	assert.Equal(t, "persisted", stored[0].Scenario)
	assert.Equal(t, "pass", stored[0].Status)

	trace, err := st.ReadTrace(context.Background(), results[0].RunToken)
	require.NoError(t, err)
	assert.Len(t, trace, len(results[0].Trace))
}

func TestRunner_DeterministicTraces(t *testing.T) {
	run := func() []byte {
		runner := NewRunner(BuiltinRegistry(),
			WithTokens(testutil.NewSequenceTokenGenerator("run")),
			WithRunnerLogger(discardLogger()),
		)
		sc := &Scenario{Name: "repro", Tests: []string{"edge_monitor"}}
		results, err := runner.RunScenario(context.Background(), sc)
		require.NoError(t, err)
		data, err := MarshalSnapshot(Snapshot(results[0]))
		require.NoError(t, err)
		return data
	}

	assert.Equal(t, string(run()), string(run()), "identical stimulus, identical trace")
}
