package feed

import (
	"math/big"
	"testing"
	"time"
)

func listedEvent(id uint64) Event {
	return Event{
		Type:      EventListed,
		OrderID:   id,
		Price:     big.NewInt(100),
		Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestSubscribeFiltersByType(t *testing.T) {
	b := NewBroadcaster()
	listed := b.Subscribe(EventListed)

	b.Publish(listedEvent(1))
	b.Publish(Event{Type: EventSettled, OrderID: 1})

	select {
	case ev := <-listed:
		if ev.Type != EventListed || ev.OrderID != 1 {
			t.Fatalf("unexpected event %+v", ev)
		}
	default:
		t.Fatal("expected a listed event")
	}
	select {
	case ev := <-listed:
		t.Fatalf("settled event leaked to listed subscriber: %+v", ev)
	default:
	}
}

func TestSubscribeAllReceivesEverything(t *testing.T) {
	b := NewBroadcaster()
	all := b.SubscribeAll()

	b.Publish(listedEvent(1))
	b.Publish(Event{Type: EventSettled, OrderID: 1})
	b.Publish(Event{Type: EventSwapped})

	if got := len(all); got != 3 {
		t.Fatalf("expected 3 buffered events, got %d", got)
	}
	for _, want := range []EventType{EventListed, EventSettled, EventSwapped} {
		if ev := <-all; ev.Type != want {
			t.Errorf("expected %s, got %s", want, ev.Type)
		}
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	b := NewBroadcaster()
	slow := b.Subscribe(EventListed)

	// Overfill the subscriber's buffer; every Publish must return.
	done := make(chan struct{})
	go func() {
		for i := 0; i < cap(slow)+10; i++ {
			b.Publish(listedEvent(uint64(i + 1)))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
	if got := len(slow); got != cap(slow) {
		t.Errorf("expected a full buffer of %d, got %d", cap(slow), got)
	}
}
