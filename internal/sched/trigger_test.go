package sched

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cocotb/cocotb-sub002/internal/sim"
)

func TestTimer_WakesAtDelay(t *testing.T) {
	var woke sim.Time
	s, bench, err := runTest(t, func(ctx *Context) error {
		if err := ctx.Sleep(10); err != nil {
			return err
		}
		woke = ctx.Scheduler().sim.Now()
		return nil
	})
	require.NoError(t, err)

	o, ok := s.Result()
	require.True(t, ok)
	require.NoError(t, o.Err)
	assert.Equal(t, sim.Time(10), woke)
	assert.Equal(t, sim.Time(10), bench.Now())
}

func TestEvent_WaitersWakeInAwaitOrder(t *testing.T) {
	var order []string
	_, _, err := runTest(t, func(ctx *Context) error {
		sc := ctx.Scheduler()
		ev := sc.NewEvent("go")

		var waiters []*Task
		for _, name := range []string{"w1", "w2", "w3"} {
			name := name
			waiters = append(waiters, ctx.Spawn(name, func(ctx *Context) error {
				if _, err := ctx.Await(ev); err != nil {
					return err
				}
				order = append(order, name)
				return nil
			}))
		}

		if err := ctx.Sleep(5); err != nil {
			return err
		}
		ev.Set()
		_, err := ctx.Await(sc.JoinAll(waiters...))
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"w1", "w2", "w3"}, order)
}

func TestEvent_SetBeforeAwaitFiresImmediately(t *testing.T) {
	var got Payload
	_, bench, err := runTest(t, func(ctx *Context) error {
		ev := ctx.Scheduler().NewEvent("pre")
		ev.SetPayload(Payload{Value: 9})
		assert.True(t, ev.IsSet())

		p, err := ctx.Await(ev)
		if err != nil {
			return err
		}
		got = p

		ev.Clear()
		assert.False(t, ev.IsSet())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(9), got.Value)
	assert.Equal(t, sim.Time(0), bench.Now(), "no time may pass for a pre-set event")
}

func TestFirst_WinnerPayloadLosersUnprimed(t *testing.T) {
	var got Payload
	_, bench, err := runTest(t, func(ctx *Context) error {
		sc := ctx.Scheduler()
		p, err := ctx.Await(sc.First(sc.Timer(5), sc.Timer(50)))
		if err != nil {
			return err
		}
		got = p
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, sim.Time(5), got.Time)
	// The losing timer was deregistered, so the engine ran dry at 5.
	assert.Equal(t, sim.Time(5), bench.Now())
}

func TestFirst_ReawaitAfterImmediateWin(t *testing.T) {
	var first, second Payload
	_, bench, err := runTest(t, func(ctx *Context) error {
		sc := ctx.Scheduler()
		ev := sc.NewEvent("go")
		ev.SetPayload(Payload{Value: 3})
		win := sc.First(ev, sc.Timer(5))

		// The pre-set event wins during priming, before the timer is armed.
		p, err := ctx.Await(win)
		if err != nil {
			return err
		}
		first = p
		assert.False(t, win.primed(), "an immediate win leaves the combinator unarmed")

		// The same combinator must re-prime cleanly and wait out the timer.
		ev.Clear()
		p, err = ctx.Await(win)
		if err != nil {
			return err
		}
		second = p
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, int64(3), first.Value)
	assert.Equal(t, sim.Time(0), first.Time)
	assert.Equal(t, sim.Time(5), second.Time)
	assert.Equal(t, sim.Time(5), bench.Now())
}

func TestCombine_WaitsForAllChildren(t *testing.T) {
	_, bench, err := runTest(t, func(ctx *Context) error {
		sc := ctx.Scheduler()
		_, err := ctx.Await(sc.Combine(sc.Timer(5), sc.Timer(10)))
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, sim.Time(10), bench.Now())
}

func TestCombine_DuplicateChildrenResolve(t *testing.T) {
	_, bench, err := runTest(t, func(ctx *Context) error {
		sc := ctx.Scheduler()

		// One trigger listed twice: a single firing fills both slots.
		tick := sc.Timer(5)
		if _, err := ctx.Await(sc.Combine(tick, tick)); err != nil {
			return err
		}

		// Same via JoinAll, where Join() hands out the cached trigger.
		worker := ctx.Spawn("worker", func(ctx *Context) error {
			return ctx.Sleep(3)
		})
		_, err := ctx.Await(sc.JoinAll(worker, worker))
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, sim.Time(8), bench.Now())
}

func TestLock_HandoffInAcquireOrder(t *testing.T) {
	var order []string
	_, _, err := runTest(t, func(ctx *Context) error {
		sc := ctx.Scheduler()
		lk := sc.NewLock("bus")

		worker := func(name string) Body {
			return func(ctx *Context) error {
				if _, err := ctx.Await(lk); err != nil {
					return err
				}
				order = append(order, name)
				if err := ctx.Sleep(1); err != nil {
					return err
				}
				return lk.Release()
			}
		}

		a := ctx.Spawn("a", worker("a"))
		b := ctx.Spawn("b", worker("b"))
		c := ctx.Spawn("c", worker("c"))
		_, err := ctx.Await(sc.JoinAll(a, b, c))
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestLock_ReleaseUnheldRejected(t *testing.T) {
	s := New(newBench(), WithLogger(discardLogger()))
	lk := s.NewLock("x")

	err := lk.Release()
	require.Error(t, err)
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ErrCodeLockNotHeld, pe.Code)
	assert.False(t, lk.Locked())
}

func TestEdgeTriggers_Deduplicated(t *testing.T) {
	s := New(newBench(), WithLogger(discardLogger()))

	assert.Same(t, s.RisingEdge("clk"), s.RisingEdge("clk"))
	assert.Same(t, s.ValueChange("clk"), s.ValueChange("clk"))
	assert.NotSame(t, s.RisingEdge("clk"), s.FallingEdge("clk"))
	assert.NotSame(t, s.RisingEdge("clk"), s.ValueChange("clk"))
	assert.NotSame(t, s.RisingEdge("clk"), s.RisingEdge("rst"))
}

func TestFallingEdge_FiltersNonMatchingChanges(t *testing.T) {
	var got Payload
	_, _, err := runTest(t, func(ctx *Context) error {
		sc := ctx.Scheduler()
		mon := ctx.Spawn("monitor", func(ctx *Context) error {
			p, err := ctx.Await(sc.FallingEdge("s"))
			if err != nil {
				return err
			}
			got = p
			return nil
		})

		// Rising at t=1 must not release the monitor; falling at t=2 must.
		if err := ctx.Sleep(1); err != nil {
			return err
		}
		if err := ctx.Write("s", 1); err != nil {
			return err
		}
		if err := ctx.Sleep(1); err != nil {
			return err
		}
		if err := ctx.Write("s", 0); err != nil {
			return err
		}
		_, err := ctx.Wait(mon)
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, sim.Time(2), got.Time)
	assert.Equal(t, sim.Signal("s"), got.Signal)
	assert.Equal(t, int64(0), got.Value)
}

func TestJoin_AfterFinishFiresImmediately(t *testing.T) {
	_, bench, err := runTest(t, func(ctx *Context) error {
		child := ctx.Spawn("quick", func(ctx *Context) error { return nil })
		if err := ctx.Sleep(5); err != nil {
			return err
		}
		// The child finished long ago; joining now must not block.
		_, err := ctx.Wait(child)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, sim.Time(5), bench.Now())
}

func TestTrigger_AlreadyPrimedRejected(t *testing.T) {
	bench := newBench()
	s := New(bench, WithLogger(discardLogger()))

	trig := s.Timer(5)
	require.NoError(t, trig.prime(s))
	err := trig.prime(s)
	require.Error(t, err)
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ErrCodeAlreadyPrimed, pe.Code)
}
