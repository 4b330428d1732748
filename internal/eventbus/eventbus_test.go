package eventbus

import (
	"testing"
	"time"
)

func timeoutChan() <-chan time.Time {
	return time.After(time.Second)
}

func TestPublishAndConsume(t *testing.T) {
	b := New()
	defer b.Close()

	b.Publish(Event{Motion: &MotionSample{X: 10}})

	select {
	case ev := <-b.Events():
		if ev.Motion == nil || ev.Motion.X != 10 {
			t.Fatalf("unexpected event: %+v", ev)
		}
	default:
		t.Fatal("expected a queued event")
	}
}

func TestPublishOrDropDropsOldestWhenFull(t *testing.T) {
	b := New()
	defer b.Close()

	for i := 0; i < capacity+4; i++ {
		b.PublishOrDrop(Event{Motion: &MotionSample{X: int32(i)}})
	}

	if b.Dropped() == 0 {
		t.Fatal("expected some events to be dropped once the bus filled")
	}

	// The most recent publish should still be observable.
	var last Event
	for ev := range drain(b) {
		last = ev
	}
	if last.Motion == nil || last.Motion.X != capacity+3 {
		t.Fatalf("expected the newest event to survive, got %+v", last)
	}
}

func TestPublishBlocksUntilConsumed(t *testing.T) {
	b := New()
	defer b.Close()

	for i := 0; i < capacity; i++ {
		b.Publish(Event{Motion: &MotionSample{X: int32(i)}})
	}

	done := make(chan struct{})
	go func() {
		b.Publish(Event{Motion: &MotionSample{X: 999}})
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Publish should have blocked on a full bus")
	default:
	}

	<-b.Events() // free one slot

	select {
	case <-done:
	case <-timeoutChan():
		t.Fatal("Publish did not unblock after the bus drained a slot")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	b := New()
	b.Close()
	b.Close() // must not panic
}

func TestPublishAfterCloseIsNoop(t *testing.T) {
	b := New()
	b.Close()
	b.Publish(Event{Motion: &MotionSample{X: 1}}) // must not panic
}

func drain(b *Bus) <-chan Event {
	out := make(chan Event, capacity)
	for {
		select {
		case ev, ok := <-b.queue:
			if !ok {
				close(out)
				return out
			}
			out <- ev
		default:
			close(out)
			return out
		}
	}
}
