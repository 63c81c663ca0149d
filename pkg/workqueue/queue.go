package workqueue

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/harun/weave/internal/observability"
)

// ErrClosed is returned by Enqueue and Dequeue after Close.
var ErrClosed = errors.New("work queue closed")

// Priority orders items; High drains before Low.
type Priority int

const (
	Low Priority = iota
	High
)

func (p Priority) String() string {
	if p == High {
		return "high"
	}
	return "low"
}

// Item is one unit of background work for a session
type Item struct {
	ID         string
	SessionID  string
	Payload    string
	Priority   Priority
	EnqueuedAt time.Time
	Attempts   int
	TraceID    string
}

type entry struct {
	item Item
	seq  int64
}

// itemHeap orders by priority, then by seq within a class.
type itemHeap []*entry

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].item.Priority != h[j].item.Priority {
		return h[i].item.Priority > h[j].item.Priority
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x interface{}) {
	*h = append(*h, x.(*entry))
}

func (h *itemHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Queue is an unbounded two-class priority queue safe for concurrent use.
type Queue struct {
	mu      sync.Mutex
	entries itemHeap
	backSeq int64 // grows for Enqueue
	headSeq int64 // shrinks for Requeue
	ready   chan struct{}
	closed  bool
	pending map[string]int
	depth   map[Priority]int
}

// New creates an empty queue
func New() *Queue {
	observability.EnsureRegistered()

	q := &Queue{
		ready:   make(chan struct{}),
		pending: make(map[string]int),
		depth:   make(map[Priority]int),
	}
	heap.Init(&q.entries)
	return q
}

// Enqueue adds item at the back of its class and returns the stored item
// (with ID and EnqueuedAt filled in when empty).
func (q *Queue) Enqueue(item Item) (Item, error) {
	if item.ID == "" {
		id, err := gonanoid.New()
		if err != nil {
			return Item{}, err
		}
		item.ID = id
	}
	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = time.Now()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return Item{}, ErrClosed
	}

	q.backSeq++
	q.pushLocked(&entry{item: item, seq: q.backSeq})
	observability.RecordEnqueue(item.Priority.String(), q.depth[item.Priority])
	return item, nil
}

// Requeue puts item back at the front of its class, ahead of everything
// already waiting at that priority.
func (q *Queue) Requeue(item Item) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}

	q.headSeq--
	q.pushLocked(&entry{item: item, seq: q.headSeq})
	observability.RecordRequeue(item.Priority.String(), q.depth[item.Priority])
	return nil
}

func (q *Queue) pushLocked(e *entry) {
	heap.Push(&q.entries, e)
	q.pending[e.item.SessionID]++
	q.depth[e.item.Priority]++

	// wake every blocked Dequeue; the losers go back to waiting
	close(q.ready)
	q.ready = make(chan struct{})
}

// Dequeue blocks until an item is available, ctx is done, or the queue closes.
func (q *Queue) Dequeue(ctx context.Context) (Item, error) {
	for {
		q.mu.Lock()
		if q.entries.Len() > 0 {
			item := q.popLocked()
			q.mu.Unlock()
			return item, nil
		}
		if q.closed {
			q.mu.Unlock()
			return Item{}, ErrClosed
		}
		ready := q.ready
		q.mu.Unlock()

		select {
		case <-ready:
		case <-ctx.Done():
			return Item{}, ctx.Err()
		}
	}
}

// TryDequeue returns the next item without blocking.
func (q *Queue) TryDequeue() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.entries.Len() == 0 {
		return Item{}, false
	}
	return q.popLocked(), true
}

func (q *Queue) popLocked() Item {
	e := heap.Pop(&q.entries).(*entry)
	q.pending[e.item.SessionID]--
	if q.pending[e.item.SessionID] <= 0 {
		delete(q.pending, e.item.SessionID)
	}
	q.depth[e.item.Priority]--
	observability.SetQueueDepth(e.item.Priority.String(), q.depth[e.item.Priority])
	return e.item
}

// Pending returns how many items for sessionID are still waiting.
func (q *Queue) Pending(sessionID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending[sessionID]
}

// Len returns the total number of waiting items
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.entries.Len()
}

// Depths returns the number of waiting items per priority class
func (q *Queue) Depths() map[Priority]int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return map[Priority]int{
		High: q.depth[High],
		Low:  q.depth[Low],
	}
}

// Close rejects further Enqueue calls. Items already queued can still be
// dequeued; once empty, Dequeue returns ErrClosed.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.ready)
	q.ready = make(chan struct{})
}

// Drain removes and returns every waiting item, for example on shutdown.
func (q *Queue) Drain() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := make([]Item, 0, q.entries.Len())
	for q.entries.Len() > 0 {
		items = append(items, heap.Pop(&q.entries).(*entry).item)
	}
	clear(q.pending)
	clear(q.depth)
	observability.SetQueueDepth(High.String(), 0)
	observability.SetQueueDepth(Low.String(), 0)
	return items
}
