package coordinator

import (
	"time"

	"github.com/harun/weave/pkg/session"
	"github.com/harun/weave/pkg/workqueue"
)

// Mode is how a session is being driven
type Mode string

const (
	ModeForeground       Mode = "foreground"
	ModeBackgroundIdle   Mode = "background_idle"
	ModeBackgroundQueued Mode = "background_queued"
)

// Entry is one row of ListSessions
type Entry struct {
	Position   int
	ID         string
	Name       string
	Kind       session.Kind
	Status     session.Status
	Active     bool
	Mode       Mode
	Pending    int
	Unseen     int
	LastActive time.Time
}

// View is the output a session produced since it was last viewed
type View struct {
	ID      string
	Name    string
	Status  session.Status
	Entries []session.Entry
	Dropped int
}

// EvictionResult summarizes one EvictIdle pass
type EvictionResult struct {
	Evicted    []string
	BytesFreed int64
}

// Stats is a point-in-time summary of the coordinator
type Stats struct {
	Live        int
	ActiveID    string
	Pending     int
	QueueDepths map[workqueue.Priority]int
	LocksHeld   int
}
