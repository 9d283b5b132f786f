package upload

import (
	"sync"
	"time"
)

// EventType classifies manager notifications.
type EventType string

const (
	EventState     EventType = "state"
	EventProgress  EventType = "progress"
	EventCancelled EventType = "cancelled"
	EventRemoved   EventType = "removed"
)

// Event is a sequenced snapshot of one item after a change.
type Event struct {
	Seq       int64
	Timestamp time.Time
	Type      EventType
	Item      Item
}

// eventBus keeps a bounded history and fans events out to subscribers.
// Slow subscribers lose events rather than stall uploads.
type eventBus struct {
	mu        sync.Mutex
	nextSeq   int64
	maxEvents int
	events    []Event
	subs      map[int]chan Event
	nextSub   int
}

func newEventBus(maxEvents int) *eventBus {
	if maxEvents <= 0 {
		maxEvents = 500
	}
	return &eventBus{
		maxEvents: maxEvents,
		events:    make([]Event, 0, maxEvents),
		subs:      make(map[int]chan Event),
	}
}

func (b *eventBus) publish(event Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSeq++
	event.Seq = b.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	b.events = append(b.events, event)
	if len(b.events) > b.maxEvents {
		trim := len(b.events) - b.maxEvents
		b.events = append([]Event(nil), b.events[trim:]...)
	}
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
		}
	}
	return event
}

// since returns events with sequence strictly greater than seq.
func (b *eventBus) since(seq int64) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, 0, len(b.events))
	for _, event := range b.events {
		if event.Seq > seq {
			out = append(out, event)
		}
	}
	return out
}

func (b *eventBus) subscribe(buffer int) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextSub
	b.nextSub++
	ch := make(chan Event, buffer)
	b.subs[id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
	}
}

func (b *eventBus) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
