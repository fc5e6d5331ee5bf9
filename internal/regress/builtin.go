package regress

import (
	"fmt"

	"github.com/cocotb/cocotb-sub002/internal/queue"
	"github.com/cocotb/cocotb-sub002/internal/sched"
)

// BuiltinRegistry returns the demo test suite shipped with the CLI.
// These double as living documentation of the task API.
func BuiltinRegistry() *Registry {
	r := NewRegistry()
	mustRegister(r, "deferred_write_readback", testDeferredWriteReadback)
	mustRegister(r, "event_handshake", testEventHandshake)
	mustRegister(r, "edge_monitor", testEdgeMonitor)
	mustRegister(r, "queue_pipeline", testQueuePipeline)
	return r
}

func mustRegister(r *Registry, name string, fn TestFunc) {
	if err := r.Register(name, fn); err != nil {
		panic(err)
	}
}

// testDeferredWriteReadback checks that a deferred deposit becomes visible
// by the read-only window of the same time step.
func testDeferredWriteReadback(ctx *sched.Context) error {
	if err := ctx.Sleep(10); err != nil {
		return err
	}
	if err := ctx.Write("data", 42); err != nil {
		return err
	}
	if _, err := ctx.Await(ctx.Scheduler().ReadOnlyPhase()); err != nil {
		return err
	}
	v, err := ctx.Read("data")
	if err != nil {
		return err
	}
	if v != 42 {
		return fmt.Errorf("data = %d after apply, want 42", v)
	}
	return nil
}

// testEventHandshake passes a payload from the test task to a spawned
// consumer through a manually set event.
func testEventHandshake(ctx *sched.Context) error {
	ev := ctx.Scheduler().NewEvent("handshake")

	consumer := ctx.Spawn("consumer", func(c *sched.Context) error {
		p, err := c.Await(ev)
		if err != nil {
			return err
		}
		if p.Value != 7 {
			return fmt.Errorf("handshake payload = %d, want 7", p.Value)
		}
		return nil
	})

	if err := ctx.Sleep(5); err != nil {
		return err
	}
	ev.SetPayload(sched.Payload{Time: 5, Value: 7})
	_, err := ctx.Wait(consumer)
	return err
}

// testEdgeMonitor drives three clock cycles and checks a monitor observes
// exactly three rising edges.
func testEdgeMonitor(ctx *sched.Context) error {
	s := ctx.Scheduler()

	monitor := ctx.Spawn("monitor", func(c *sched.Context) error {
		for i := 0; i < 3; i++ {
			p, err := c.Await(s.RisingEdge("clk"))
			if err != nil {
				return err
			}
			if p.Value != 1 {
				return fmt.Errorf("rising edge delivered value %d", p.Value)
			}
		}
		return nil
	})

	for i := 0; i < 3; i++ {
		if err := ctx.Sleep(5); err != nil {
			return err
		}
		if err := ctx.Write("clk", 1); err != nil {
			return err
		}
		if err := ctx.Sleep(5); err != nil {
			return err
		}
		if err := ctx.Write("clk", 0); err != nil {
			return err
		}
	}
	_, err := ctx.Wait(monitor)
	return err
}

// testQueuePipeline pushes five items through a bounded FIFO between the
// test task and a spawned consumer.
func testQueuePipeline(ctx *sched.Context) error {
	q := queue.NewFIFO[int](2)

	var got []int
	consumer := ctx.Spawn("consumer", func(c *sched.Context) error {
		for i := 0; i < 5; i++ {
			v, err := q.Get(c)
			if err != nil {
				return err
			}
			got = append(got, v)
		}
		return nil
	})

	for i := 1; i <= 5; i++ {
		if err := q.Put(ctx, i); err != nil {
			return err
		}
	}
	if _, err := ctx.Wait(consumer); err != nil {
		return err
	}

	for i, v := range got {
		if v != i+1 {
			return fmt.Errorf("item %d = %d, want %d", i, v, i+1)
		}
	}
	if len(got) != 5 {
		return fmt.Errorf("consumed %d items, want 5", len(got))
	}
	return nil
}
