// Package session models a single conversation: its identity, status, ordered
// turns and bounded output buffer.
//
// Invariants:
// - Sessions are only constructed through New; id, name and creation time are required.
// - Completed is terminal; every other status may move to any other status.
// - The output buffer never holds more than its configured number of entries.
//
// Usage:
//
//	sess, _ := session.New(session.Params{ID: "a1", Name: "work", CreatedAt: time.Now()})
//	sess.AppendTurn(session.Turn{Role: session.RoleUser, Content: "hello"})
//	sess.Output().Append(session.EntryText, "hi there")
package session
