package events

import (
	"log"
	"sync"
	"time"
)

const defaultBuffer = 64

// Bus fans progress events out to subscribers. Publishing never blocks: a
// subscriber that stops draining its channel loses its oldest events first,
// so terminal events still get through.
type Bus struct {
	mu     sync.RWMutex
	subs   map[*Subscriber]struct{}
	buffer int
}

// Subscriber receives events on a buffered channel until unsubscribed.
type Subscriber struct {
	ch chan Event
	// sendMu serializes deliveries so evicting the oldest pending event
	// always frees the slot for the event being published; without it a
	// concurrent publisher could fill the freed slot and the new event,
	// possibly a terminal one, would be lost instead of an old one.
	sendMu sync.Mutex
}

// send delivers one event, evicting the subscriber's oldest pending event
// when its buffer is full. The event being sent is never the one dropped.
func (s *Subscriber) send(event Event) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	for {
		select {
		case s.ch <- event:
			return
		default:
		}
		select {
		case dropped := <-s.ch:
			log.Printf("events: slow subscriber, dropped %s event for account %d", dropped.Status, dropped.AccountID)
		default:
			// The receiver drained the buffer between the two selects; the
			// next send attempt succeeds.
		}
	}
}

// Events returns the subscriber's receive channel. It is closed by
// Unsubscribe.
func (s *Subscriber) Events() <-chan Event {
	return s.ch
}

// NewBus creates a Bus whose subscribers buffer up to buffer events each.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Bus{
		subs:   make(map[*Subscriber]struct{}),
		buffer: buffer,
	}
}

// Subscribe registers a new observer.
func (b *Bus) Subscribe() *Subscriber {
	sub := &Subscriber{ch: make(chan Event, b.buffer)}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	return sub
}

// Unsubscribe removes the observer and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	_, ok := b.subs[sub]
	delete(b.subs, sub)
	b.mu.Unlock()

	if ok {
		close(sub.ch)
	}
}

// Publish stamps the event and delivers it to every subscriber. When a
// subscriber's buffer is full its oldest event is discarded to make room.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs {
		sub.send(event)
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.subs)
}
