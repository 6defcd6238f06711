package events

import (
	"testing"
	"time"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := NewBus()
	defer b.Close()

	sub := b.Subscribe()
	b.Publish(Event{Kind: KindPoolExhausted, Language: "py"})

	select {
	case ev := <-sub:
		if ev.Kind != KindPoolExhausted || ev.Language != "py" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublishFansOutToMultipleSubscribers(t *testing.T) {
	b := NewBus()
	defer b.Close()

	a := b.Subscribe()
	c := b.Subscribe()
	b.Publish(Event{Kind: KindPoolWarmedUp, Count: 3})

	for _, sub := range []<-chan Event{a, c} {
		select {
		case ev := <-sub:
			if ev.Count != 3 {
				t.Fatalf("expected count 3, got %d", ev.Count)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for fan-out delivery")
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBus()
	defer b.Close()

	sub := b.Subscribe()
	b.Unsubscribe(sub)

	// Give the dispatch loop a moment to process the unsubscribe before
	// publishing, since Unsubscribe and Publish are both asynchronous
	// sends into the same single-goroutine loop.
	time.Sleep(10 * time.Millisecond)
	b.Publish(Event{Kind: KindExecutionCompleted})

	select {
	case _, ok := <-sub:
		if ok {
			t.Fatalf("expected channel to be closed, got a delivered event instead")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel close")
	}
}

func TestCloseClosesAllSubscribers(t *testing.T) {
	b := NewBus()
	sub := b.Subscribe()
	b.Close()

	select {
	case _, ok := <-sub:
		if ok {
			t.Fatalf("expected closed channel after Bus.Close")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for subscriber channel to close")
	}
}
