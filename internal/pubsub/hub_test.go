package pubsub

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shortCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	t.Cleanup(cancel)
	return ctx
}

func TestHub_LateSubscriberGetsLastMessage(t *testing.T) {
	t.Parallel()

	h := NewHub()
	h.Publish("earlier")
	h.Publish("latest")

	sub := h.Subscribe()
	defer sub.Close()

	msg, err := sub.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "latest", msg)
}

func TestHub_SubscribeBeforeAnyPublishBlocks(t *testing.T) {
	t.Parallel()

	h := NewHub()
	sub := h.Subscribe()
	defer sub.Close()

	_, err := sub.Get(shortCtx(t))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHub_BurstDeliversOnlyNewestMessage(t *testing.T) {
	t.Parallel()

	h := NewHub()
	sub := h.Subscribe()
	defer sub.Close()

	for i := 1; i <= 5; i++ {
		h.Publish(fmt.Sprintf("msg-%d", i))
	}

	msg, err := sub.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "msg-5", msg)

	// The burst left nothing else behind.
	_, err = sub.Get(shortCtx(t))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHub_PublishFansOutToAllSubscribers(t *testing.T) {
	t.Parallel()

	h := NewHub()
	first := h.Subscribe()
	defer first.Close()
	second := h.Subscribe()
	defer second.Close()

	h.Publish("broadcast")

	for _, sub := range []*Subscription{first, second} {
		msg, err := sub.Get(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "broadcast", msg)
	}
}

func TestHub_CloseStopsDelivery(t *testing.T) {
	t.Parallel()

	h := NewHub()
	closed := h.Subscribe()
	open := h.Subscribe()
	defer open.Close()

	closed.Close()
	h.Publish("after close")

	_, err := closed.Get(shortCtx(t))
	require.ErrorIs(t, err, context.DeadlineExceeded)

	msg, err := open.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "after close", msg)

	assert.Equal(t, 1, h.Subscribers())
}

func TestHub_SubscriberCount(t *testing.T) {
	t.Parallel()

	h := NewHub()
	assert.Equal(t, 0, h.Subscribers())

	a := h.Subscribe()
	b := h.Subscribe()
	assert.Equal(t, 2, h.Subscribers())

	a.Close()
	b.Close()
	assert.Equal(t, 0, h.Subscribers())
}

func TestHub_ConcurrentSubscribePublish(t *testing.T) {
	t.Parallel()

	h := NewHub()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				sub := h.Subscribe()
				h.Publish(fmt.Sprintf("w%d-%d", i, j))
				sub.Close()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, h.Subscribers())

	// The last message survives for the next subscriber.
	sub := h.Subscribe()
	defer sub.Close()
	_, err := sub.Get(context.Background())
	require.NoError(t, err)
}

func TestHub_FreshnessAcrossReads(t *testing.T) {
	t.Parallel()

	h := NewHub()
	sub := h.Subscribe()
	defer sub.Close()

	h.Publish("one")
	msg, err := sub.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "one", msg)

	h.Publish("two")
	h.Publish("three")
	msg, err = sub.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "three", msg)
}
