package workerpool

import "time"

// EventType names a pool event
type EventType string

const (
	EventStarted   EventType = "started"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
	EventRequeued  EventType = "requeued"
	EventDiscarded EventType = "discarded"
)

// Terminal reports whether the item is finished with after this event.
func (t EventType) Terminal() bool {
	return t == EventCompleted || t == EventFailed || t == EventDiscarded
}

// Event describes one step of an item's life in the pool
type Event struct {
	Type      EventType
	ItemID    string
	SessionID string
	Attempts  int
	Duration  time.Duration
	Reason    string
	Err       error
}

// EventHandler is a function that handles pool events
type EventHandler func(event Event)

// On registers an event handler for a specific event type
func (p *Pool) On(eventType EventType, handler EventHandler) {
	p.eventMu.Lock()
	defer p.eventMu.Unlock()

	p.eventHandlers[eventType] = append(p.eventHandlers[eventType], handler)
}

// Off removes all handlers for the event type
func (p *Pool) Off(eventType EventType) {
	p.eventMu.Lock()
	defer p.eventMu.Unlock()

	delete(p.eventHandlers, eventType)
}

// emit calls handlers synchronously on the worker goroutine
func (p *Pool) emit(event Event) {
	p.eventMu.RLock()
	handlers := p.eventHandlers[event.Type]
	p.eventMu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}
