// Package bus implements the in-process publish/subscribe event fan-out used
// for observability and live updates. It is a pure sink: components publish
// to it, nothing publishes back into a component.
package bus

import (
	"sync"
	"time"

	"github.com/autopay-labs/x402-agent/internal/logging"
)

// EventType is the fixed sum-type of events the bus carries.
type EventType string

const (
	EventBootstrap       EventType = "bootstrap"
	EventLedgerEntry     EventType = "ledger-entry"
	EventBalanceSnapshot EventType = "balance-snapshot"
	EventQueueUpdate     EventType = "queue-update"
	EventPaymentStatus   EventType = "payment-status"
)

// Event is one published message.
type Event struct {
	Type      EventType
	Payload   any
	Timestamp time.Time
}

// subscriberQueueDepth bounds each subscriber's mailbox so one slow
// subscriber cannot block a publisher; once full, new events for that
// subscriber are dropped (a documented trade-off: a slow observer must never stall a publisher).
const subscriberQueueDepth = 64

// Bus is a single-writer-per-emit, multi-subscriber fan-out.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[int64]chan Event
	nextID      int64
	log         *logging.Logger
}

// New creates an empty Bus.
func New(log *logging.Logger) *Bus {
	if log == nil {
		log = logging.NewDefault("bus")
	}
	return &Bus{
		subscribers: make(map[int64]chan Event),
		log:         log,
	}
}

// Subscription is a handle returned by Subscribe.
type Subscription struct {
	id   int64
	bus  *Bus
	Recv <-chan Event
}

// Unsubscribe removes the subscription. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.bus.unsubscribe(s.id)
}

// Subscribe registers a new subscriber and returns a handle with a receive
// channel. Subscribers must read promptly; the channel is buffered but will
// drop events if the buffer fills.
func (b *Bus) Subscribe() *Subscription {
	ch := make(chan Event, subscriberQueueDepth)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subscribers[id] = ch
	b.mu.Unlock()
	return &Subscription{id: id, bus: b, Recv: ch}
}

func (b *Bus) unsubscribe(id int64) {
	b.mu.Lock()
	ch, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
	if ok {
		close(ch)
	}
}

// Publish fans an event out to every current subscriber without blocking.
// A subscriber whose mailbox is full has the event dropped for it; the
// publisher itself never stalls.
func (b *Bus) Publish(evType EventType, payload any) {
	ev := Event{Type: evType, Payload: payload, Timestamp: time.Now()}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
			b.log.WithFields(map[string]interface{}{
				"subscriberId": id,
				"eventType":    string(evType),
			}).Warn("subscriber mailbox full, dropping event")
		}
	}
}

// SubscriberCount reports how many subscribers are currently attached;
// useful for readiness/health reporting.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
