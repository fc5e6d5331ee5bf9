// Package queue provides producer/consumer queues for tasks, composed
// purely from Event triggers and the scheduler's FIFO fairness: no locks,
// no channels, no real parallelism.
//
// Put suspends the calling task while the backing store is at capacity;
// Get suspends while it is empty. On each state change exactly one waiting
// task is woken, in the order it began waiting, so no waiter is starved
// regardless of how many producers and consumers compete.
package queue

import (
	"container/heap"
	"errors"

	"github.com/cocotb/cocotb-sub002/internal/sched"
)

// ErrFull is returned by PutNoWait when the queue is at capacity.
var ErrFull = errors.New("queue full")

// ErrEmpty is returned by GetNoWait when the queue is empty.
var ErrEmpty = errors.New("queue empty")

// store is the removal-order strategy that defines the queue subtype.
type store[T any] interface {
	add(v T)
	remove() T
	size() int
}

// Queue is a bounded or unbounded producer/consumer queue between tasks.
// Capacity 0 means unbounded.
type Queue[T any] struct {
	st       store[T]
	capacity int
	getters  []*sched.Event
	putters  []*sched.Event
}

// NewFIFO creates a queue that removes the oldest item first.
func NewFIFO[T any](capacity int) *Queue[T] {
	return &Queue[T]{st: &fifoStore[T]{}, capacity: capacity}
}

// NewLIFO creates a queue that removes the newest item first.
func NewLIFO[T any](capacity int) *Queue[T] {
	return &Queue[T]{st: &lifoStore[T]{}, capacity: capacity}
}

// NewPriority creates a queue that removes the minimum item first,
// according to less.
func NewPriority[T any](capacity int, less func(a, b T) bool) *Queue[T] {
	return &Queue[T]{st: &prioStore[T]{less: less}, capacity: capacity}
}

// Len returns the number of stored items.
func (q *Queue[T]) Len() int { return q.st.size() }

// Empty reports whether the queue holds no items.
func (q *Queue[T]) Empty() bool { return q.st.size() == 0 }

// Full reports whether a bounded queue is at capacity.
func (q *Queue[T]) Full() bool {
	return q.capacity > 0 && q.st.size() >= q.capacity
}

// Put adds an item, suspending the calling task while the queue is full.
func (q *Queue[T]) Put(ctx *sched.Context, v T) error {
	for q.Full() {
		ev := ctx.Scheduler().NewEvent("queue-put")
		q.putters = append(q.putters, ev)
		if _, err := ctx.Await(ev); err != nil {
			q.putters = dropEvent(q.putters, ev)
			return err
		}
	}
	q.st.add(v)
	wakeupNext(&q.getters)
	return nil
}

// PutNoWait adds an item without suspending; ErrFull when at capacity.
func (q *Queue[T]) PutNoWait(v T) error {
	if q.Full() {
		return ErrFull
	}
	q.st.add(v)
	wakeupNext(&q.getters)
	return nil
}

// Get removes an item, suspending the calling task while the queue is
// empty.
func (q *Queue[T]) Get(ctx *sched.Context) (T, error) {
	var zero T
	for q.Empty() {
		ev := ctx.Scheduler().NewEvent("queue-get")
		q.getters = append(q.getters, ev)
		if _, err := ctx.Await(ev); err != nil {
			q.getters = dropEvent(q.getters, ev)
			return zero, err
		}
	}
	v := q.st.remove()
	wakeupNext(&q.putters)
	return v, nil
}

// GetNoWait removes an item without suspending; ErrEmpty when empty.
func (q *Queue[T]) GetNoWait() (T, error) {
	var zero T
	if q.Empty() {
		return zero, ErrEmpty
	}
	v := q.st.remove()
	wakeupNext(&q.putters)
	return v, nil
}

// wakeupNext wakes the oldest live waiter. Events abandoned by cancelled
// tasks have empty wait-lists and are skipped.
func wakeupNext(waiters *[]*sched.Event) {
	for len(*waiters) > 0 {
		ev := (*waiters)[0]
		*waiters = (*waiters)[1:]
		if ev.HasWaiters() {
			ev.Set()
			return
		}
	}
}

func dropEvent(events []*sched.Event, ev *sched.Event) []*sched.Event {
	for i, e := range events {
		if e == ev {
			return append(events[:i], events[i+1:]...)
		}
	}
	return events
}

// fifoStore removes oldest first.
type fifoStore[T any] struct {
	items []T
}

func (s *fifoStore[T]) add(v T) { s.items = append(s.items, v) }

func (s *fifoStore[T]) remove() T {
	v := s.items[0]
	var zero T
	s.items[0] = zero
	s.items = s.items[1:]
	return v
}

func (s *fifoStore[T]) size() int { return len(s.items) }

// lifoStore removes newest first.
type lifoStore[T any] struct {
	items []T
}

func (s *lifoStore[T]) add(v T) { s.items = append(s.items, v) }

func (s *lifoStore[T]) remove() T {
	n := len(s.items) - 1
	v := s.items[n]
	var zero T
	s.items[n] = zero
	s.items = s.items[:n]
	return v
}

func (s *lifoStore[T]) size() int { return len(s.items) }

// prioStore removes the minimum by the provided ordering.
type prioStore[T any] struct {
	items []T
	less  func(a, b T) bool
}

func (s *prioStore[T]) Len() int           { return len(s.items) }
func (s *prioStore[T]) Less(i, j int) bool { return s.less(s.items[i], s.items[j]) }
func (s *prioStore[T]) Swap(i, j int)      { s.items[i], s.items[j] = s.items[j], s.items[i] }

func (s *prioStore[T]) Push(x any) { s.items = append(s.items, x.(T)) }

func (s *prioStore[T]) Pop() any {
	n := len(s.items) - 1
	v := s.items[n]
	var zero T
	s.items[n] = zero
	s.items = s.items[:n]
	return v
}

func (s *prioStore[T]) add(v T)   { heap.Push(s, v) }
func (s *prioStore[T]) remove() T { return heap.Pop(s).(T) }
func (s *prioStore[T]) size() int { return len(s.items) }
