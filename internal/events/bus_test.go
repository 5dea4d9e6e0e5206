package events

import (
	"testing"
	"time"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := New()
	received := make(chan CameraStateChangedEvent, 1)

	unsub := bus.Subscribe(func(e CameraStateChangedEvent) {
		received <- e
	})
	defer unsub()

	bus.Publish(CameraStateChangedEvent{
		From:      "connecting",
		To:        "connected",
		Timestamp: "2025-01-27T10:30:00Z",
	})

	select {
	case got := <-received:
		if got.To != "connected" {
			t.Errorf("Expected state connected, got %s", got.To)
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestBus_MultipleSubscribers(t *testing.T) {
	bus := New()
	received1 := make(chan SessionCreatedEvent, 1)
	received2 := make(chan SessionCreatedEvent, 1)

	unsub1 := bus.Subscribe(func(e SessionCreatedEvent) {
		received1 <- e
	})
	defer unsub1()

	unsub2 := bus.Subscribe(func(e SessionCreatedEvent) {
		received2 <- e
	})
	defer unsub2()

	bus.Publish(SessionCreatedEvent{ClientID: "abc"})

	for i, ch := range []chan SessionCreatedEvent{received1, received2} {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d did not receive the event", i+1)
		}
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := New()
	received := make(chan SessionEvictedEvent, 2)

	unsub := bus.Subscribe(func(e SessionEvictedEvent) {
		received <- e
	})

	bus.Publish(SessionEvictedEvent{ClientID: "abc", Reason: "superseded"})
	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("event not delivered before unsubscribe")
	}

	unsub()
	bus.Publish(SessionEvictedEvent{ClientID: "def", Reason: "superseded"})
	select {
	case <-received:
		t.Error("event delivered after unsubscribe")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBus_UnknownHandlerIsNoop(t *testing.T) {
	bus := New()
	unsub := bus.Subscribe(func(s string) {})
	unsub()
}

func TestSubscribeToChannel(t *testing.T) {
	bus := New()
	ch := make(chan any, 2)

	unsub := SubscribeToChannel[SessionClosedEvent](bus, ch)
	defer unsub()

	bus.Publish(SessionClosedEvent{ClientID: "abc", State: "closed"})

	select {
	case got := <-ch:
		ev, ok := got.(SessionClosedEvent)
		if !ok || ev.ClientID != "abc" {
			t.Errorf("got %+v, want SessionClosedEvent for abc", got)
		}
	case <-time.After(time.Second):
		t.Fatal("event not bridged to channel")
	}
}

func TestSubscribeToChannelDropsWhenFull(t *testing.T) {
	bus := New()
	ch := make(chan any, 1)

	unsub := SubscribeToChannel[SessionCreatedEvent](bus, ch)
	defer unsub()

	bus.Publish(SessionCreatedEvent{ClientID: "first"})
	deadline := time.Now().Add(time.Second)
	for len(ch) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no event delivered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Channel is now full: this publish must drop, not block the dispatcher.
	bus.Publish(SessionCreatedEvent{ClientID: "second"})
	time.Sleep(50 * time.Millisecond)

	got := (<-ch).(SessionCreatedEvent)
	if got.ClientID != "first" {
		t.Errorf("kept event = %q, want first", got.ClientID)
	}
	if len(ch) != 0 {
		t.Error("overflow event should have been dropped")
	}
}
