// Package cowait provides a cooperative runtime for launching batches
// of bounded random delays and collecting their observed durations. It
// is designed around coroutine-like task scheduling: all task logic
// runs on one logical thread of control while the wall-clock waits
// themselves overlap in real time.
//
// Key components:
//
//   - Task: The core abstraction representing a coroutine-like unit
//     of work. Tasks can spawn child tasks, suspend on a random
//     bounded wait, and join on the completion of their children.
//
//   - Schedule: Manages task scheduling and delay dispatch. It holds
//     a reference to the delay source and allocates batch resources.
//
//   - DelaySource: Interface for implementing delay dispatching
//     strategies. RandomSource is the stock implementation, sampling
//     uniform durations and sleeping them out in dispatcher
//     goroutines.
//
//   - WaitRequest/WaitResponse: Represent a single bounded wait with
//     its maximum delay and its observed outcome.
//
//   - WaitBatch: A collection of wait requests and their responses,
//     allowing for batched dispatch.
//
//   - Collector: Runs N logically concurrent waits against a
//     DelaySource and returns the observed durations sorted
//     ascending.
//
//   - Synchronization primitives: Mutex, WaitGroup, and ErrGroup for
//     coordination and error handling across spawned waits.
package cowait
