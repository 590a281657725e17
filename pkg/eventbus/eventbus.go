// Package eventbus provides in-process fan-out of structured Event records
// to subscribed consumers (§4.9). Publishers never block on a slow
// subscriber: each subscriber has a bounded queue, and overflow drops the
// oldest queued event for that subscriber only.
package eventbus

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/oncallops/incident-core/pkg/types"
)

const (
	// DefaultSubscriberBuffer is the default bounded per-subscriber queue size.
	DefaultSubscriberBuffer = 100
	// DefaultReplayBuffer is the default size of the rolling replay history.
	DefaultReplayBuffer = 1000
)

// Bus is a process-wide (by composition, not by language-level global)
// singleton fan-out of Events. Construct one and pass it by reference to
// every component that publishes or subscribes.
type Bus struct {
	log *logrus.Logger

	mu          sync.Mutex
	subscribers map[string]*subscription
	replay      []types.Event
	replayCap   int
	subBuffer   int
}

type subscription struct {
	id         string
	ch         chan types.Event
	incidentID string // "" means no filter
}

// New constructs a Bus with the given buffer sizes. A zero value for either
// falls back to the package default.
func New(log *logrus.Logger, subscriberBuffer, replayBuffer int) *Bus {
	if subscriberBuffer <= 0 {
		subscriberBuffer = DefaultSubscriberBuffer
	}
	if replayBuffer <= 0 {
		replayBuffer = DefaultReplayBuffer
	}
	return &Bus{
		log:         log,
		subscribers: make(map[string]*subscription),
		replayCap:   replayBuffer,
		subBuffer:   subscriberBuffer,
	}
}

// Publish fans event out to every subscriber without blocking. Event.ID and
// Event.Timestamp are filled in if zero-valued.
func (b *Bus) Publish(event types.Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.Lock()
	b.replay = append(b.replay, event)
	if len(b.replay) > b.replayCap {
		b.replay = b.replay[len(b.replay)-b.replayCap:]
	}
	subs := make([]*subscription, 0, len(b.subscribers))
	for _, s := range b.subscribers {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		if s.incidentID != "" && event.IncidentID != "" && s.incidentID != event.IncidentID {
			continue
		}
		b.deliver(s, event)
	}
}

// deliver is drop-oldest-on-overflow: if the subscriber's channel is full,
// the oldest queued event is discarded to make room, and a subscriber_lag
// warning is emitted. The backing replay buffer above is never affected.
func (b *Bus) deliver(s *subscription, event types.Event) {
	select {
	case s.ch <- event:
		return
	default:
	}

	select {
	case <-s.ch:
	default:
	}

	select {
	case s.ch <- event:
	default:
	}

	if b.log != nil {
		b.log.WithFields(logrus.Fields{
			"subscriber_id": s.id,
			"incident_id":   event.IncidentID,
		}).Warn("subscriber_lag: dropped oldest queued event for slow subscriber")
	}
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	ID     string
	Events <-chan types.Event
}

// Subscribe attaches a new consumer. If incidentID is non-empty, only events
// for that incident, plus events that carry no incident id, are delivered.
// The replay buffer's matching history is delivered to the new subscriber's
// channel before Subscribe returns, best effort: once the channel is full,
// the rest of the history is skipped (live delivery instead drops the
// oldest queued event).
func (b *Bus) Subscribe(incidentID string) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscription{
		id:         uuid.NewString(),
		ch:         make(chan types.Event, b.subBuffer),
		incidentID: incidentID,
	}
	b.subscribers[sub.id] = sub

	for _, event := range b.replay {
		if sub.incidentID != "" && event.IncidentID != "" && sub.incidentID != event.IncidentID {
			continue
		}
		select {
		case sub.ch <- event:
		default:
		}
	}

	return Subscription{ID: sub.id, Events: sub.ch}
}

// Unsubscribe detaches a consumer. The channel is not closed: Publish may
// already be mid-delivery to it from a snapshot taken before this call, and
// closing here would race a concurrent send. Callers should stop reading
// Events themselves (e.g. on their own context cancellation) rather than
// relying on channel closure.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, id)
}

// SubscriberCount reports the current number of attached subscribers, for
// diagnostics and tests.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}
