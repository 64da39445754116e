package feed

import "sync"

// Broadcaster is a many-to-many hub that accepts marketplace events from
// the engine and distributes them to filtered subscribers and a unified
// "all" stream. It implements Sink.
type Broadcaster struct {
	// Filtered subscribers keyed by event type.
	mu   sync.RWMutex
	subs map[EventType][]chan Event

	// allMu guards the unified subscriber list.
	allMu  sync.RWMutex
	allSub []chan Event
}

// NewBroadcaster creates a Broadcaster ready for subscriptions.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subs: make(map[EventType][]chan Event),
	}
}

// Subscribe returns a buffered channel that receives events of the given
// type. The caller must drain the channel to avoid dropped events.
func (b *Broadcaster) Subscribe(t EventType) <-chan Event {
	ch := make(chan Event, 256)

	b.mu.Lock()
	b.subs[t] = append(b.subs[t], ch)
	b.mu.Unlock()

	return ch
}

// SubscribeAll returns a buffered channel that receives every event
// regardless of type. Intended for persistence and the websocket feed.
func (b *Broadcaster) SubscribeAll() <-chan Event {
	ch := make(chan Event, 512)

	b.allMu.Lock()
	b.allSub = append(b.allSub, ch)
	b.allMu.Unlock()

	return ch
}

// Publish distributes the event to all matching subscribers without
// blocking. Slow consumers lose events rather than stalling settlement.
func (b *Broadcaster) Publish(ev Event) {
	b.mu.RLock()
	for _, ch := range b.subs[ev.Type] {
		select {
		case ch <- ev:
		default:
		}
	}
	b.mu.RUnlock()

	b.allMu.RLock()
	for _, ch := range b.allSub {
		select {
		case ch <- ev:
		default:
		}
	}
	b.allMu.RUnlock()
}
