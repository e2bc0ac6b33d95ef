package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("client.", 10)
	defer unsub()

	b.Publish(Event{Kind: "client.status_changed", Timestamp: time.Now(), Payload: "test"})

	select {
	case evt := <-ch:
		if evt.Kind != "client.status_changed" {
			t.Errorf("got kind %q, want client.status_changed", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("presence.", 10)
	defer unsub()

	b.Publish(Event{Kind: "client.status_changed"})
	b.Publish(Event{Kind: "presence.changed"})

	select {
	case evt := <-ch:
		if evt.Kind != "presence.changed" {
			t.Errorf("got kind %q, want presence.changed", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	// Ensure client event was not delivered.
	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected: no more events.
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("client.", 10)
	unsub()

	b.Publish(Event{Kind: "client.status_changed"})

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected.
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("test.", 1)
	defer unsub()

	// Fill buffer.
	b.Publish(Event{Kind: "test.one"})
	// This should be dropped (non-blocking).
	b.Publish(Event{Kind: "test.two"})

	evt := <-ch
	if evt.Kind != "test.one" {
		t.Errorf("got %q, want test.one", evt.Kind)
	}
}

func TestSubscribeMatch(t *testing.T) {
	b := New()
	ch, unsub := b.SubscribeMatch(func(kind string) bool { return kind == "users/a" }, 10)
	defer unsub()

	b.Publish(Event{Kind: "users/ab"})
	b.Publish(Event{Kind: "users/a"})

	evt := <-ch
	if evt.Kind != "users/a" {
		t.Errorf("got %q, want users/a", evt.Kind)
	}
	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCoalescingBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("tree.", 1)
	defer unsub()

	for range 5 {
		b.Publish(Event{Kind: "tree.write"})
	}
	<-ch
	select {
	case <-ch:
		t.Error("burst should coalesce into one pending event")
	default:
	}
}

func TestUnsubscribeTwice(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe("x.", 1)
	unsub()
	unsub()
	if b.Len() != 0 {
		t.Errorf("Len() = %d, want 0", b.Len())
	}
}
