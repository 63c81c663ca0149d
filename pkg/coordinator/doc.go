// Package coordinator owns every live session, the active session pointer
// and the creation order, and exposes the operations the interactive layer
// drives: create, switch, close, list, submit background work and view output.
//
// Invariants:
// - The session map, active id and order are guarded by one mutex.
// - The active id is empty or a key of the session map.
// - The order holds exactly the map's keys, in creation order, without duplicates.
// - Input is validated before any lock is taken.
// - Failures scoped to one session are contained in that session's output.
//
// Usage:
//
//	c, _ := coordinator.New(coordinator.Config{Store: store, Locks: locks, Queue: q, Runner: runner})
//	id, _ := c.CreateSession(ctx, "work", session.KindStandard)
//	_, _ = c.SubmitBackground(ctx, id, "summarize the logs", workqueue.High)
package coordinator
