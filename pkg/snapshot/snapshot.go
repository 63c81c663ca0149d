package snapshot

import (
	"time"

	"github.com/harun/weave/pkg/session"
)

// Version is the current snapshot format version.
const Version = 1

// Snapshot is the persisted form of a session's metadata.
type Snapshot struct {
	Version      int               `json:"version"`
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Kind         session.Kind      `json:"kind"`
	Status       session.Status    `json:"status"`
	CreatedAt    time.Time         `json:"created_at"`
	LastActive   time.Time         `json:"last_active"`
	FirstMessage string            `json:"first_message,omitempty"`
	Turns        int               `json:"turns"`
	Worktree     *session.Worktree `json:"worktree,omitempty"`
}

// FromSession captures the current state of sess.
func FromSession(sess *session.Session) Snapshot {
	return Snapshot{
		Version:      Version,
		ID:           sess.ID(),
		Name:         sess.Name(),
		Kind:         sess.Kind(),
		Status:       sess.Status(),
		CreatedAt:    sess.CreatedAt(),
		LastActive:   sess.LastActive(),
		FirstMessage: sess.FirstMessage(),
		Turns:        len(sess.Conversation()),
		Worktree:     sess.Worktree(),
	}
}

// Completed reports whether the snapshot belongs to a closed session.
func (s Snapshot) Completed() bool {
	return s.Status == session.StatusCompleted
}

// Materialize rebuilds a live session from the snapshot and its transcript.
// A completed snapshot comes back as a completed session.
func (s Snapshot) Materialize(conversation []session.Turn, outputLimit int) (*session.Session, error) {
	return session.New(session.Params{
		ID:           s.ID,
		Name:         s.Name,
		Kind:         s.Kind,
		Status:       s.Status,
		CreatedAt:    s.CreatedAt,
		LastActive:   s.LastActive,
		Worktree:     s.Worktree,
		Conversation: conversation,
		OutputLimit:  outputLimit,
	})
}
