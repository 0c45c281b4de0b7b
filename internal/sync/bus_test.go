package sync

import "testing"

func TestBusDeliversToAllSubscribers(t *testing.T) {
	b := NewBus()
	ch1, cancel1 := b.Subscribe(4)
	ch2, cancel2 := b.Subscribe(4)
	defer cancel1()
	defer cancel2()

	b.Publish(Event{Kind: EventRunStarted})

	if ev := <-ch1; ev.Kind != EventRunStarted {
		t.Errorf("ch1 kind = %q, want %q", ev.Kind, EventRunStarted)
	}
	if ev := <-ch2; ev.Kind != EventRunStarted {
		t.Errorf("ch2 kind = %q, want %q", ev.Kind, EventRunStarted)
	}
}

func TestBusDropsWhenSubscriberFull(t *testing.T) {
	// A slow subscriber loses events instead of blocking the publisher.
	b := NewBus()
	ch, cancel := b.Subscribe(1)
	defer cancel()

	b.Publish(Event{Kind: EventRunStarted})
	b.Publish(Event{Kind: EventRunFinished}) // buffer full, dropped

	if len(ch) != 1 {
		t.Fatalf("buffered events = %d, want 1", len(ch))
	}
	if ev := <-ch; ev.Kind != EventRunStarted {
		t.Errorf("kind = %q, want %q", ev.Kind, EventRunStarted)
	}
}

func TestBusCancelClosesChannel(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe(1)

	cancel()
	cancel() // second call must be safe

	if _, open := <-ch; open {
		t.Error("channel still open after cancel")
	}

	// Publishing after cancel must not panic on the closed channel.
	b.Publish(Event{Kind: EventRunStarted})
}

func TestBusStampsEventTime(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe(1)
	defer cancel()

	b.Publish(Event{Kind: EventConnectivity, Online: true})

	if ev := <-ch; ev.At.IsZero() {
		t.Error("event At is zero, want publish time")
	}
}
