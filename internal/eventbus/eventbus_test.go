package eventbus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentqueue/agentqueue/internal/domain"
)

type fakePersister struct {
	mu   sync.Mutex
	next int64
}

func (f *fakePersister) AppendEvent(evt *domain.Event) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	return f.next, nil
}

func TestPublishDeliversToSubscriber(t *testing.T) {
	bus := New(&fakePersister{})
	sub := bus.Subscribe()
	defer sub.Unsubscribe()

	id, err := bus.Publish(domain.Event{Kind: domain.EventTaskCreated, EntityType: domain.EntityTask, EntityID: "1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	select {
	case evt := <-sub.C:
		assert.Equal(t, domain.EventTaskCreated, evt.Kind)
		assert.Equal(t, int64(1), evt.ID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published event")
	}
	assert.False(t, sub.Resynced())
}

func TestSubscribeOnlySeesEventsAfterSubscribing(t *testing.T) {
	bus := New(&fakePersister{})
	_, err := bus.Publish(domain.Event{Kind: domain.EventTaskCreated})
	require.NoError(t, err)

	sub := bus.Subscribe()
	defer sub.Unsubscribe()

	select {
	case evt := <-sub.C:
		t.Fatalf("unexpected event delivered to late subscriber: %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishNeverBlocksOnFullSubscriberBuffer(t *testing.T) {
	bus := New(&fakePersister{})
	sub := bus.Subscribe()
	defer sub.Unsubscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBufferSize+10; i++ {
			_, err := bus.Publish(domain.Event{Kind: domain.EventTaskCreated})
			assert.NoError(t, err)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber buffer")
	}

	assert.True(t, sub.Resynced())
}

func TestSubscriberCount(t *testing.T) {
	bus := New(&fakePersister{})
	assert.Equal(t, 0, bus.SubscriberCount())

	sub := bus.Subscribe()
	assert.Equal(t, 1, bus.SubscriberCount())

	sub.Unsubscribe()
	assert.Equal(t, 0, bus.SubscriberCount())
}
