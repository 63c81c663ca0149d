package session

import (
	"fmt"
	"sync"
	"time"
)

// DefaultOutputLimit bounds the output buffer when Params.OutputLimit is unset.
const DefaultOutputLimit = 1000

// Params holds the fields used to construct a Session
type Params struct {
	ID           string
	Name         string
	Kind         Kind
	Status       Status
	CreatedAt    time.Time
	LastActive   time.Time
	Worktree     *Worktree
	Conversation []Turn
	OutputLimit  int
}

// Session is one conversation and its mutable state.
// All accessors are safe for concurrent use; callers still serialize
// multi-step mutations through the session lock manager.
type Session struct {
	id        string
	kind      Kind
	createdAt time.Time
	worktree  *Worktree
	output    *OutputBuffer

	mu           sync.RWMutex
	name         string
	status       Status
	lastActive   time.Time
	conversation []Turn
}

// New creates a session from params, rejecting missing required fields
func New(p Params) (*Session, error) {
	if p.ID == "" {
		return nil, fmt.Errorf("%w: id", ErrMissingField)
	}
	if p.Name == "" {
		return nil, fmt.Errorf("%w: name", ErrMissingField)
	}
	if p.CreatedAt.IsZero() {
		return nil, fmt.Errorf("%w: created_at", ErrMissingField)
	}

	if p.Kind == "" {
		p.Kind = KindStandard
	}
	if !p.Kind.Valid() {
		return nil, fmt.Errorf("unknown session kind %q", p.Kind)
	}
	if p.Kind == KindWorktree && p.Worktree == nil {
		return nil, fmt.Errorf("%w: worktree handle", ErrMissingField)
	}

	if p.Status == "" {
		p.Status = StatusWaitingForInput
	}
	if !p.Status.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidStatus, p.Status)
	}

	if p.LastActive.IsZero() {
		p.LastActive = p.CreatedAt
	}

	conversation := make([]Turn, len(p.Conversation))
	copy(conversation, p.Conversation)

	var worktree *Worktree
	if p.Worktree != nil {
		wt := *p.Worktree
		worktree = &wt
	}

	return &Session{
		id:           p.ID,
		kind:         p.Kind,
		createdAt:    p.CreatedAt,
		worktree:     worktree,
		output:       NewOutputBuffer(p.OutputLimit),
		name:         p.Name,
		status:       p.Status,
		lastActive:   p.LastActive,
		conversation: conversation,
	}, nil
}

func (s *Session) ID() string           { return s.id }
func (s *Session) Kind() Kind           { return s.kind }
func (s *Session) CreatedAt() time.Time { return s.createdAt }
func (s *Session) Output() *OutputBuffer { return s.output }

// Worktree returns a copy of the worktree handle, or nil
func (s *Session) Worktree() *Worktree {
	if s.worktree == nil {
		return nil
	}
	wt := *s.worktree
	return &wt
}

func (s *Session) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.name
}

func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Session) LastActive() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActive
}

// Completed reports whether the session reached its terminal status
func (s *Session) Completed() bool {
	return s.Status().Terminal()
}

// SetStatus moves the session to status. Completed sessions reject every change.
func (s *Session) SetStatus(status Status) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidStatus, status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status.Terminal() {
		if status.Terminal() {
			return nil
		}
		return ErrTerminal
	}
	s.status = status
	return nil
}

// Complete marks the session Completed. It returns false if it already was.
func (s *Session) Complete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status.Terminal() {
		return false
	}
	s.status = StatusCompleted
	return true
}

// Touch records activity at t
func (s *Session) Touch(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.After(s.lastActive) {
		s.lastActive = t
	}
}

// AppendTurn adds a turn to the conversation
func (s *Session) AppendTurn(turn Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendTurnLocked(turn)
}

// AppendUnlessCompleted appends turns, then lets output add entries to the
// output buffer, as one step with respect to Complete. It changes nothing and
// returns false if the session is already Completed.
func (s *Session) AppendUnlessCompleted(turns []Turn, output func(*OutputBuffer)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status.Terminal() {
		return false
	}
	for _, turn := range turns {
		s.appendTurnLocked(turn)
	}
	if output != nil {
		output(s.output)
	}
	return true
}

func (s *Session) appendTurnLocked(turn Turn) {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}
	s.conversation = append(s.conversation, turn)
	if turn.Timestamp.After(s.lastActive) {
		s.lastActive = turn.Timestamp
	}
}

// Conversation returns a copy of the ordered turns
func (s *Session) Conversation() []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	turns := make([]Turn, len(s.conversation))
	copy(turns, s.conversation)
	return turns
}

// FirstMessage returns the content of the first user turn, or ""
func (s *Session) FirstMessage() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, turn := range s.conversation {
		if turn.Role == RoleUser {
			return turn.Content
		}
	}
	return ""
}

// EstimateBytes approximates the memory held by the conversation and output
func (s *Session) EstimateBytes() int {
	s.mu.RLock()
	total := 0
	for _, turn := range s.conversation {
		total += len(turn.Content) + len(turn.Role)
	}
	s.mu.RUnlock()

	return total + s.output.Bytes()
}
