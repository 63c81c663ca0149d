// Package workerpool executes queued background items with a fixed set of
// workers and a counting semaphore that caps concurrent remote calls.
//
// Each worker walks the same stages for every item:
//
//	dequeue -> lock -> permit -> call -> commit -> release permit -> release lock
//
// Invariants:
// - At most Permits remote calls run at once, regardless of Workers. Calls made
//   outside the workers share the budget through AcquirePermit.
// - The session lock is renewed while the call runs.
// - An item whose session lock cannot be taken is requeued at the front of its class.
// - Remote errors and panics become an error entry in that session's output; nothing is retried.
// - Output for a session closed during the call is discarded.
//
// Usage:
//
//	pool := workerpool.New(workerpool.Config{Queue: q, Locks: locks, Sessions: c, Runner: r})
//	pool.On(workerpool.EventCompleted, func(ev workerpool.Event) { ... })
//	pool.Start(ctx)
//	defer pool.Shutdown(ctx)
package workerpool
