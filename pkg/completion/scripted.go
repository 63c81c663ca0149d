package completion

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Reply is one canned response for Scripted
type Reply struct {
	Chunks  []Chunk
	Err     error         // returned after Chunks are consumed
	SendErr error         // returned by Send itself
	Delay   time.Duration // held inside Send, simulating latency
	Panic   string        // panics inside Send when set
}

// Text is a Reply streaming a single text chunk
func Text(s string) Reply {
	return Reply{Chunks: []Chunk{{Kind: ChunkText, Text: s}}}
}

// Scripted replays replies in order. When the script runs out it echoes
// the last user message, which is what offline mode relies on.
type Scripted struct {
	mu       sync.Mutex
	replies  []Reply
	requests []Request
	delay    time.Duration

	inFlight  atomic.Int32
	highWater atomic.Int32
}

// NewScripted creates a scripted client
func NewScripted(replies ...Reply) *Scripted {
	return &Scripted{replies: replies}
}

// WithDelay sets a default latency applied to every call without its own Delay.
func (s *Scripted) WithDelay(d time.Duration) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
	return s
}

// Push appends replies to the script
func (s *Scripted) Push(replies ...Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, replies...)
}

func (s *Scripted) Provider() string {
	return "scripted"
}

// Send records req and returns the next scripted reply.
func (s *Scripted) Send(ctx context.Context, req Request) (Stream, error) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		hw := s.highWater.Load()
		if n <= hw || s.highWater.CompareAndSwap(hw, n) {
			break
		}
	}

	s.mu.Lock()
	s.requests = append(s.requests, req)
	var reply Reply
	if len(s.replies) > 0 {
		reply = s.replies[0]
		s.replies = s.replies[1:]
	} else {
		reply = Text("echo: " + lastUserMessage(req))
	}
	delay := reply.Delay
	if delay == 0 {
		delay = s.delay
	}
	s.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}

	if reply.Panic != "" {
		panic(reply.Panic)
	}
	if reply.SendErr != nil {
		return nil, reply.SendErr
	}

	chunks := make([]Chunk, len(reply.Chunks))
	copy(chunks, reply.Chunks)
	return &sliceStream{chunks: chunks, err: reply.Err}, nil
}

// Requests returns every request received so far
func (s *Scripted) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// HighWater returns the largest number of concurrent Send calls observed.
func (s *Scripted) HighWater() int {
	return int(s.highWater.Load())
}

// InFlight returns the number of Send calls currently running.
func (s *Scripted) InFlight() int {
	return int(s.inFlight.Load())
}

func lastUserMessage(req Request) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == RoleUser {
			return req.Messages[i].Content
		}
	}
	return ""
}
