package bus

import (
	"testing"
	"time"

	"github.com/autopay-labs/x402-agent/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishFanOut(t *testing.T) {
	b := New(logging.NewDefault("test"))
	sub1 := b.Subscribe()
	sub2 := b.Subscribe()
	assert.Equal(t, 2, b.SubscriberCount())

	b.Publish(EventLedgerEntry, "payload")

	select {
	case ev := <-sub1.Recv:
		assert.Equal(t, EventLedgerEntry, ev.Type)
		assert.Equal(t, "payload", ev.Payload)
	case <-time.After(time.Second):
		t.Fatal("sub1 did not receive event")
	}
	select {
	case ev := <-sub2.Recv:
		assert.Equal(t, EventLedgerEntry, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("sub2 did not receive event")
	}
}

func TestBus_Unsubscribe_IsIdempotent(t *testing.T) {
	b := New(logging.NewDefault("test"))
	sub := b.Subscribe()
	sub.Unsubscribe()
	sub.Unsubscribe() // must not panic
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestBus_Publish_DoesNotBlockOnFullMailbox(t *testing.T) {
	b := New(logging.NewDefault("test"))
	sub := b.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberQueueDepth*2; i++ {
			b.Publish(EventQueueUpdate, i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber mailbox")
	}
	require.NotNil(t, sub)
}
