// Package sessionlock provides timeout-guarded mutual exclusion per session id.
//
// Invariants:
// - At most one live lock exists per session id.
// - A lock whose lease elapsed without renewal is reclaimed by the next acquirer.
// - Guard.Release is idempotent and never releases a lock held by someone else.
//
// Usage:
//
//	locks := sessionlock.New(sessionlock.Config{})
//	guard, err := locks.Acquire(ctx, "session-id", 5*time.Second)
//	if err != nil {
//		return err
//	}
//	defer guard.Release()
package sessionlock
