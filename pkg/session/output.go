package session

import (
	"sync"
	"time"
)

// EntryKind classifies a line of session output
type EntryKind string

const (
	EntryText   EntryKind = "text"
	EntryTool   EntryKind = "tool"
	EntryError  EntryKind = "error"
	EntryNotice EntryKind = "notice"
)

// Entry is one appended piece of output
type Entry struct {
	Seq  uint64    `json:"seq"`
	Kind EntryKind `json:"kind"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// OutputBuffer is a bounded, append-only log of session output.
// Oldest entries are dropped once the limit is reached.
type OutputBuffer struct {
	mu      sync.Mutex
	entries []Entry
	limit   int
	seq     uint64
	seen    uint64
	dropped int
}

// NewOutputBuffer creates a buffer keeping at most limit entries
func NewOutputBuffer(limit int) *OutputBuffer {
	if limit <= 0 {
		limit = DefaultOutputLimit
	}
	return &OutputBuffer{
		entries: make([]Entry, 0, min(limit, 64)),
		limit:   limit,
	}
}

// Append adds an entry and returns it
func (b *OutputBuffer) Append(kind EntryKind, text string) Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	entry := Entry{
		Seq:  b.seq,
		Kind: kind,
		Text: text,
		At:   time.Now(),
	}
	b.entries = append(b.entries, entry)

	if over := len(b.entries) - b.limit; over > 0 {
		b.entries = append(b.entries[:0:0], b.entries[over:]...)
		b.dropped += over
	}

	return entry
}

// Entries returns a copy of all retained entries
func (b *OutputBuffer) Entries() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Entry, len(b.entries))
	copy(out, b.entries)
	return out
}

// Since returns retained entries with a sequence number greater than seq
func (b *OutputBuffer) Since(seq uint64) []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sinceLocked(seq)
}

func (b *OutputBuffer) sinceLocked(seq uint64) []Entry {
	var out []Entry
	for _, e := range b.entries {
		if e.Seq > seq {
			out = append(out, e)
		}
	}
	return out
}

// Unseen returns how many entries were appended since the last MarkSeen
func (b *OutputBuffer) Unseen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int(b.seq - b.seen)
}

// MarkSeen returns the unseen entries still retained and marks everything seen
func (b *OutputBuffer) MarkSeen() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := b.sinceLocked(b.seen)
	b.seen = b.seq
	return out
}

// Len returns the number of retained entries
func (b *OutputBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Dropped returns how many entries were evicted by the bound
func (b *OutputBuffer) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Bytes approximates the text size held by the buffer
func (b *OutputBuffer) Bytes() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	total := 0
	for _, e := range b.entries {
		total += len(e.Text)
	}
	return total
}
