package regress

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cocotb/cocotb-sub002/internal/sched"
	"github.com/cocotb/cocotb-sub002/internal/sim"
	"github.com/cocotb/cocotb-sub002/internal/store"
	"github.com/cocotb/cocotb-sub002/internal/testutil"
)

// TestResult is the outcome of one test run.
type TestResult struct {
	Scenario string
	Test     string
	RunToken string

	// Status is "pass", "fail", "cancelled", or "error". "error" covers
	// protocol violations and tests that never completed.
	Status string

	// SimTime is the simulated time when the run stopped.
	SimTime uint64

	Err   error
	Trace []sched.TraceEvent
}

// Runner executes scenarios: one fresh bench and scheduler per test, so no
// state leaks between tests.
type Runner struct {
	log    *slog.Logger
	reg    *Registry
	store  *store.Store
	tokens sched.TokenGenerator
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithStore persists results and traces to a results database.
func WithStore(st *store.Store) RunnerOption {
	return func(r *Runner) { r.store = st }
}

// WithTokens overrides run/task token generation (for deterministic tests).
func WithTokens(g sched.TokenGenerator) RunnerOption {
	return func(r *Runner) { r.tokens = g }
}

// WithRunnerLogger sets the runner logger.
func WithRunnerLogger(log *slog.Logger) RunnerOption {
	return func(r *Runner) { r.log = log }
}

// NewRunner creates a runner over a test registry.
func NewRunner(reg *Registry, opts ...RunnerOption) *Runner {
	r := &Runner{
		log:    slog.Default(),
		reg:    reg,
		tokens: sched.UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunScenario executes every test in the scenario in order and returns one
// result per test. A test failure does not stop the scenario; a missing
// test name does.
func (r *Runner) RunScenario(ctx context.Context, sc *Scenario) ([]TestResult, error) {
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", sc.Name, err)
	}

	results := make([]TestResult, 0, len(sc.Tests))
	for _, name := range sc.Tests {
		fn, ok := r.reg.Lookup(name)
		if !ok {
			return results, fmt.Errorf("scenario %s: unknown test %q", sc.Name, name)
		}
		res := r.runOne(ctx, sc, name, fn)
		results = append(results, res)

		r.log.Info("test complete",
			"scenario", sc.Name,
			"test", name,
			"status", res.Status,
			"sim_time", res.SimTime,
		)

		if r.store != nil {
			if err := r.persist(ctx, res); err != nil {
				return results, err
			}
		}
	}
	return results, nil
}

// runOne runs a single test on a fresh bench and scheduler.
func (r *Runner) runOne(ctx context.Context, sc *Scenario, name string, fn TestFunc) TestResult {
	res := TestResult{
		Scenario: sc.Name,
		Test:     name,
		RunToken: r.tokens.Generate(),
	}

	signals := make(map[sim.Signal]int64, len(sc.Signals))
	for s, v := range sc.Signals {
		signals[sim.Signal(s)] = v
	}
	bench := sim.NewBench(
		sim.WithMaxTime(sim.Time(sc.MaxTime)),
		sim.WithSignals(signals),
		sim.WithLogger(r.log),
	)

	policy, err := sched.ParseWritePolicy(sc.WritePolicy)
	if err != nil {
		res.Status = "error"
		res.Err = err
		return res
	}

	trace := &testutil.TraceLog{}
	opts := []sched.Option{
		sched.WithWritePolicy(policy),
		sched.WithLogger(r.log),
		sched.WithRecorder(trace),
		sched.WithTokenGenerator(r.tokens),
	}
	if sc.MaxSteps > 0 {
		opts = append(opts, sched.WithMaxSteps(sc.MaxSteps))
	}
	s := sched.New(bench, opts...)

	if _, err := s.Start(name, sched.Body(fn)); err != nil {
		res.Status = "error"
		res.Err = err
		res.Trace = trace.Events
		res.SimTime = uint64(bench.Now())
		return res
	}

	runErr := bench.Run(ctx, s)
	res.SimTime = uint64(bench.Now())

	outcome, finished := s.Result()
	switch {
	case runErr != nil:
		res.Status = "error"
		res.Err = runErr
	case !finished:
		res.Status = "error"
		res.Err = fmt.Errorf("test %s did not complete by t=%d", name, res.SimTime)
	case outcome.Cancelled():
		res.Status = "cancelled"
		res.Err = outcome.Err
	case outcome.Err != nil:
		res.Status = "fail"
		res.Err = outcome.Err
	default:
		res.Status = "pass"
	}

	s.Teardown()
	res.Trace = trace.Events
	return res
}

// persist writes one result and its trace to the store.
func (r *Runner) persist(ctx context.Context, res TestResult) error {
	errText := ""
	if res.Err != nil {
		errText = res.Err.Error()
	}
	rec := store.Result{
		RunToken: res.RunToken,
		Scenario: res.Scenario,
		Test:     res.Test,
		Status:   res.Status,
		SimTime:  res.SimTime,
		Error:    errText,
	}
	if err := r.store.WriteResult(ctx, rec); err != nil {
		return fmt.Errorf("persist result %s: %w", res.RunToken, err)
	}
	if err := r.store.WriteTrace(ctx, res.RunToken, res.Trace); err != nil {
		return fmt.Errorf("persist trace %s: %w", res.RunToken, err)
	}
	return nil
}
