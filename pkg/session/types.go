package session

import (
	"fmt"
	"regexp"
	"time"
)

// MaxNameLength is the longest accepted session name.
const MaxNameLength = 64

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_ -]+$`)

// Status is the lifecycle state of a session
type Status string

const (
	StatusActive          Status = "active"
	StatusWaitingForInput Status = "waiting_for_input"
	StatusProcessing      Status = "processing"
	StatusPaused          Status = "paused"
	StatusCompleted       Status = "completed"
)

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusWaitingForInput, StatusProcessing, StatusPaused, StatusCompleted:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are allowed
func (s Status) Terminal() bool {
	return s == StatusCompleted
}

// Kind distinguishes plain sessions from ones bound to an external worktree
type Kind string

const (
	KindStandard Kind = "standard"
	KindWorktree Kind = "worktree"
)

// Valid reports whether k is a known kind
func (k Kind) Valid() bool {
	return k == KindStandard || k == KindWorktree
}

// Role identifies the author of a conversation turn
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// Turn is one entry in a session's conversation
type Turn struct {
	Role      Role                   `json:"role"`
	Content   string                 `json:"content"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Worktree is an opaque handle to an external isolated checkout.
type Worktree struct {
	Path   string `json:"path"`
	Branch string `json:"branch,omitempty"`
}

// ValidateName checks a user supplied session name
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: Session name cannot be empty", ErrInvalidName)
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("%w: Session name too long (max %d characters)", ErrInvalidName, MaxNameLength)
	}
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: Session name may only contain letters, digits, spaces, '_' and '-'", ErrInvalidName)
	}
	return nil
}
