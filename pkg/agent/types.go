package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/harun/weave/pkg/session"
)

// Output is one entry destined for a session's output buffer
type Output struct {
	Kind session.EntryKind
	Text string
}

// Result is everything a turn produced
type Result struct {
	Turns     []session.Turn
	Output    []Output
	Response  string
	ToolCalls int
	Duration  time.Duration
	Failed    bool
}

// Apply appends the turn's conversation entries and output to sess in one
// step with respect to closing it. It appends nothing and returns false when
// sess is already Completed.
func (r Result) Apply(sess *session.Session) bool {
	return sess.AppendUnlessCompleted(r.Turns, func(out *session.OutputBuffer) {
		for _, o := range r.Output {
			out.Append(o.Kind, o.Text)
		}
	})
}

// EmitFunc receives output as it is produced. Text arrives chunk by chunk.
type EmitFunc func(kind session.EntryKind, text string)

// ErrorMarker formats a failure the way it is shown in a session's output
func ErrorMarker(err error) string {
	return fmt.Sprintf("[error] %v", err)
}

func summarize(s string, max int) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i] + " ..."
	}
	if len(s) > max {
		s = s[:max] + "..."
	}
	return s
}
