package streaming

import (
	"testing"
	"time"
)

func TestPublishReachesSubscriber(t *testing.T) {
	bus := NewBus(16)
	ch := bus.Subscribe("s1", 4)
	defer bus.Unsubscribe("s1", ch)

	bus.Publish("s1", Event{Type: TypeStageStarted, Stage: "sanitizer"})

	select {
	case evt := <-ch:
		if evt.SessionID != "s1" || evt.Stage != "sanitizer" {
			t.Fatalf("unexpected event %+v", evt)
		}
		if evt.Timestamp.IsZero() {
			t.Fatal("timestamp not stamped")
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	bus := NewBus(16)
	ch := bus.Subscribe("s1", 4)
	defer bus.Unsubscribe("s1", ch)

	bus.Publish("s2", Event{Type: TypeStageStarted})

	select {
	case evt := <-ch:
		t.Fatalf("leaked event %+v", evt)
	default:
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	bus := NewBus(16)
	ch := bus.Subscribe("s1", 1)
	defer bus.Unsubscribe("s1", ch)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish("s1", Event{Type: TypeStageCompleted})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on slow subscriber")
	}
}

func TestReplaySince(t *testing.T) {
	bus := NewBus(16)
	for i := 0; i < 5; i++ {
		bus.Publish("s1", Event{Type: TypeStageCompleted})
	}

	events := bus.ReplaySince("s1", 1)
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if events[0].Seq != 2 {
		t.Fatalf("first replayed seq = %d", events[0].Seq)
	}
}

func TestRingEvictsOldest(t *testing.T) {
	bus := NewBus(3)
	for i := 0; i < 5; i++ {
		bus.Publish("s1", Event{Type: TypeStageCompleted})
	}

	events := bus.ReplaySince("s1", 0)
	if len(events) != 3 {
		t.Fatalf("got %d events, want ring capacity 3", len(events))
	}
	if events[0].Seq != 2 || events[2].Seq != 4 {
		t.Fatalf("unexpected seqs %+v", events)
	}
}

func TestForgetDropsHistory(t *testing.T) {
	bus := NewBus(16)
	bus.Publish("s1", Event{Type: TypeStageCompleted})
	bus.Forget("s1")

	if events := bus.ReplaySince("s1", 0); events != nil {
		t.Fatalf("history survived Forget: %+v", events)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus(16)
	ch := bus.Subscribe("s1", 1)
	bus.Unsubscribe("s1", ch)

	if _, open := <-ch; open {
		t.Fatal("channel still open after Unsubscribe")
	}
}
