// Package agent runs one conversational turn of a session against a
// completion client, looping through tool calls until the model answers.
//
// Invariants:
// - Run never mutates a session; callers commit the Result under the session lock.
// - Remote failures are captured as an error entry in Result.Output as well as returned.
// - The tool loop is bounded by Config.MaxToolLoops.
//
// Usage:
//
//	runner, _ := agent.NewRunner(agent.Config{Client: client, Tools: exec})
//	res, err := runner.Run(ctx, sess.Conversation(), "hello", nil)
//	res.Apply(sess)
package agent
