package handlers

import (
	"testing"
	"time"
)

func TestEventHubPublishSubscribe(t *testing.T) {
	hub := NewEventHub()

	ch, cancel := hub.Subscribe("user-1")
	defer cancel()

	hub.Publish("user-1", ApprovalEvent{Type: "approval.created", ApprovalID: "a-1"})

	select {
	case event := <-ch:
		if event.Type != "approval.created" || event.ApprovalID != "a-1" {
			t.Errorf("Unexpected event: %+v", event)
		}
		if event.Timestamp.IsZero() {
			t.Error("Expected timestamp to be stamped on publish")
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for event")
	}
}

func TestEventHubScopedToUser(t *testing.T) {
	hub := NewEventHub()

	ch, cancel := hub.Subscribe("user-1")
	defer cancel()

	hub.Publish("user-2", ApprovalEvent{Type: "approval.created", ApprovalID: "a-1"})

	select {
	case event := <-ch:
		t.Errorf("Received another user's event: %+v", event)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEventHubCancelStopsDelivery(t *testing.T) {
	hub := NewEventHub()

	ch, cancel := hub.Subscribe("user-1")
	cancel()

	hub.Publish("user-1", ApprovalEvent{Type: "approval.created", ApprovalID: "a-1"})

	select {
	case event := <-ch:
		t.Errorf("Received event after cancel: %+v", event)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEventHubSlowSubscriberDropsEvents(t *testing.T) {
	hub := NewEventHub()

	ch, cancel := hub.Subscribe("user-1")
	defer cancel()

	// Fill the buffer and keep publishing; the hub must never block
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			hub.Publish("user-1", ApprovalEvent{Type: "approval.created"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}

	if len(ch) != cap(ch) {
		t.Errorf("Expected a full buffer of %d events, got %d", cap(ch), len(ch))
	}
}

func TestEventHubMultipleSubscribers(t *testing.T) {
	hub := NewEventHub()

	ch1, cancel1 := hub.Subscribe("user-1")
	defer cancel1()
	ch2, cancel2 := hub.Subscribe("user-1")
	defer cancel2()

	hub.Publish("user-1", ApprovalEvent{Type: "approval.resolved", ApprovalID: "a-1"})

	for _, ch := range []chan ApprovalEvent{ch1, ch2} {
		select {
		case event := <-ch:
			if event.ApprovalID != "a-1" {
				t.Errorf("Unexpected event: %+v", event)
			}
		case <-time.After(time.Second):
			t.Fatal("Timed out waiting for fan-out delivery")
		}
	}
}
