package jobs

import (
	"testing"
	"time"
)

func TestNotifierDeliversToSubscribers(t *testing.T) {
	n := NewNotifier()

	ch, cancel := n.Subscribe("j1")
	defer cancel()

	n.Publish(Update{JobID: "j1", Status: StatusProcessing, Progress: 10})

	select {
	case u := <-ch:
		if u.Status != StatusProcessing || u.Progress != 10 {
			t.Fatalf("got %+v", u)
		}
	case <-time.After(time.Second):
		t.Fatal("no update delivered")
	}
}

func TestNotifierScopesByJobID(t *testing.T) {
	n := NewNotifier()

	ch, cancel := n.Subscribe("j1")
	defer cancel()

	n.Publish(Update{JobID: "other", Status: StatusCompleted})

	select {
	case u := <-ch:
		t.Fatalf("received update for another job: %+v", u)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNotifierCancelStopsDelivery(t *testing.T) {
	n := NewNotifier()

	ch, cancel := n.Subscribe("j1")
	cancel()

	n.Publish(Update{JobID: "j1", Status: StatusCompleted})

	select {
	case u, ok := <-ch:
		if ok {
			t.Fatalf("received update after cancel: %+v", u)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNotifierNeverBlocksPublisher(t *testing.T) {
	n := NewNotifier()

	_, cancel := n.Subscribe("j1")
	defer cancel()

	done := make(chan struct{})
	go func() {
		// Far more updates than the subscriber buffer holds; extras drop.
		for i := 0; i < 100; i++ {
			n.Publish(Update{JobID: "j1", Status: StatusProcessing, Progress: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}
}
