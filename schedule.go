package cowait

import (
	"context"
)

const (
	// ScheduleWaitConcurrencyLimit defines the maximum number of
	// concurrently sleeping dispatcher goroutines.
	ScheduleWaitConcurrencyLimit = 128
)

// Schedule manages the scheduling of tasks and their waits. It holds
// references to the delay source, the batch allocator, and channels
// for responses and concurrency control.
type Schedule struct {
	alloc     *BatchAllocator
	source    DelaySource
	responses chan *WaitBatch
	sema      chan struct{}
}

// Source creates a new Schedule backed by the given delay source. It
// initializes the allocator, response channel, and semaphore for
// concurrency control.
func Source(source DelaySource) *Schedule {
	return &Schedule{
		alloc:     new(BatchAllocator),
		source:    source,
		responses: make(chan *WaitBatch, ScheduleWaitConcurrencyLimit),
		sema:      make(chan struct{}, ScheduleWaitConcurrencyLimit),
	}
}

// Resumable represents a function that can be resumed with a
// Schedule. It contains the function to be executed and a reference
// to the Schedule.
type Resumable struct {
	fn    func(context.Context, *Task)
	sched *Schedule
}

// Run creates a Resumable from a function that takes a context and a
// Task. The function will be executed when the Resumable is resumed.
func (s *Schedule) Run(fn func(context.Context, *Task)) *Resumable {
	return &Resumable{fn: fn, sched: s}
}

// Go creates a Resumable from a function that only takes a context.
// It wraps the function with Fn to adapt it to the Task-based
// interface.
func (s *Schedule) Go(fn func(context.Context)) *Resumable {
	return s.Run(s.Fn(fn))
}

// Resume starts the execution of a Resumable with the provided
// context. It creates a cancellable context and starts the main event
// loop with the function and Schedule.
func (r *Resumable) Resume(ctx context.Context) {
	rctx, cancel := context.WithCancel(ctx)
	defer cancel()
	loop(rctx, r.fn, r.sched)
}

// Fn adapts a context-only function to the Task-based function
// signature. It creates a wrapper function that ignores the Task
// parameter and calls the original function.
func (s *Schedule) Fn(fn func(context.Context)) func(context.Context, *Task) {
	return func(ctx context.Context, _ *Task) { fn(ctx) }
}
