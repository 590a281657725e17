package eventbus_test

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/oncallops/incident-core/pkg/eventbus"
	"github.com/oncallops/incident-core/pkg/types"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	bus := eventbus.New(testLogger(), 10, 100)
	sub1 := bus.Subscribe("")
	sub2 := bus.Subscribe("")

	bus.Publish(types.Event{Message: "hello"})

	for _, sub := range []eventbus.Subscription{sub1, sub2} {
		select {
		case evt := <-sub.Events:
			if evt.Message != "hello" {
				t.Errorf("Message = %q, want hello", evt.Message)
			}
		case <-time.After(time.Second):
			t.Fatal("expected event to be delivered")
		}
	}
}

func TestSubscribeFiltersByIncidentID(t *testing.T) {
	bus := eventbus.New(testLogger(), 10, 100)
	sub := bus.Subscribe("inc-1")

	bus.Publish(types.Event{Message: "other", IncidentID: "inc-2"})
	bus.Publish(types.Event{Message: "mine", IncidentID: "inc-1"})

	select {
	case evt := <-sub.Events:
		if evt.Message != "mine" {
			t.Errorf("Message = %q, want mine", evt.Message)
		}
	case <-time.After(time.Second):
		t.Fatal("expected filtered event to be delivered")
	}

	select {
	case evt := <-sub.Events:
		t.Fatalf("unexpected second event: %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

// TestPublishNeverBlocksOnStalledSubscriber is Testable Property 8: a
// publisher must never block more than a bounded interval even when a
// subscriber never drains its queue.
func TestPublishNeverBlocksOnStalledSubscriber(t *testing.T) {
	bus := eventbus.New(testLogger(), 4, 100)
	bus.Subscribe("") // never drained

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			bus.Publish(types.Event{Message: "flood"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a stalled subscriber")
	}
}

func TestReplayBufferDeliversHistoryToNewSubscriber(t *testing.T) {
	bus := eventbus.New(testLogger(), 10, 100)
	bus.Publish(types.Event{Message: "before-subscribe", IncidentID: "inc-1"})

	sub := bus.Subscribe("inc-1")

	select {
	case evt := <-sub.Events:
		if evt.Message != "before-subscribe" {
			t.Errorf("Message = %q", evt.Message)
		}
	case <-time.After(time.Second):
		t.Fatal("expected replay history to be delivered")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := eventbus.New(testLogger(), 10, 100)
	sub := bus.Subscribe("")
	bus.Unsubscribe(sub.ID)

	if bus.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount() = %d, want 0", bus.SubscriberCount())
	}

	bus.Publish(types.Event{Message: "after-unsubscribe"})

	select {
	case evt, ok := <-sub.Events:
		if ok {
			t.Fatalf("unexpected event after unsubscribe: %+v", evt)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEventGetsIDAndTimestampFilledIn(t *testing.T) {
	bus := eventbus.New(testLogger(), 10, 100)
	sub := bus.Subscribe("")

	bus.Publish(types.Event{Message: "x"})

	evt := <-sub.Events
	if evt.ID == "" {
		t.Error("expected Event.ID to be filled in")
	}
	if evt.Timestamp.IsZero() {
		t.Error("expected Event.Timestamp to be filled in")
	}
}
