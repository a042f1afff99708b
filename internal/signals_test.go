package internal

import (
	"sync"
	"testing"
	"time"

	"github.com/kapetan-io/dappq/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatch(t *testing.T) {
	t.Run("LatestOverwritesUnread", func(t *testing.T) {
		w := NewWatch[int]()
		defer w.Close()

		ch, unsubscribe := w.Subscribe()
		defer unsubscribe()

		w.Publish(1)
		w.Publish(2)
		w.Publish(3)
		assert.Equal(t, 3, <-ch)
		assertEmpty(t, ch)
	})

	t.Run("LateSubscriberReplay", func(t *testing.T) {
		w := NewWatch[string]()
		defer w.Close()

		w.Publish("a")
		ch, unsubscribe := w.Subscribe()
		defer unsubscribe()
		assert.Equal(t, "a", <-ch)

		v, ok := w.Load()
		assert.True(t, ok)
		assert.Equal(t, "a", v)
	})

	t.Run("ClearDoesNotEmit", func(t *testing.T) {
		w := NewWatch[string]()
		defer w.Close()

		ch, unsubscribe := w.Subscribe()
		defer unsubscribe()

		w.Publish("a")
		assert.Equal(t, "a", <-ch)
		w.Clear()
		assertEmpty(t, ch)

		_, ok := w.Load()
		assert.False(t, ok)

		// A subscriber after Clear receives nothing
		late, unsubLate := w.Subscribe()
		defer unsubLate()
		assertEmpty(t, late)
	})

	t.Run("Close", func(t *testing.T) {
		w := NewWatch[int]()
		ch, unsubscribe := w.Subscribe()

		w.Close()
		w.Close()
		_, ok := <-ch
		assert.False(t, ok)
		unsubscribe()

		// Publish after close is a no-op and subscribers get a closed channel
		w.Publish(1)
		ch, _ = w.Subscribe()
		_, ok = <-ch
		assert.False(t, ok)
	})

	t.Run("ConcurrentPublishers", func(t *testing.T) {
		w := NewWatch[int]()
		defer w.Close()

		ch, unsubscribe := w.Subscribe()
		defer unsubscribe()

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					w.Publish(n)
				}
			}(i)
		}
		wg.Wait()

		v, ok := w.Load()
		require.True(t, ok)
		assert.Equal(t, v, <-ch)
	})
}

func TestNotifier(t *testing.T) {
	t.Run("EveryEventDelivered", func(t *testing.T) {
		n := NewNotifier[string](10)
		defer n.Close()

		one, unsubOne := n.Subscribe()
		defer unsubOne()
		two, unsubTwo := n.Subscribe()
		defer unsubTwo()

		assert.Equal(t, 0, n.Publish("a"))
		assert.Equal(t, 0, n.Publish("a"))
		assert.Equal(t, 0, n.Publish("b"))

		for _, ch := range []<-chan string{one, two} {
			assert.Equal(t, "a", <-ch)
			assert.Equal(t, "a", <-ch)
			assert.Equal(t, "b", <-ch)
		}
	})

	t.Run("OverflowDrops", func(t *testing.T) {
		n := NewNotifier[int](2)
		defer n.Close()

		ch, unsubscribe := n.Subscribe()
		defer unsubscribe()

		assert.Equal(t, 0, n.Publish(1))
		assert.Equal(t, 0, n.Publish(2))
		assert.Equal(t, 1, n.Publish(3))
		assert.Equal(t, 1, <-ch)
		assert.Equal(t, 2, <-ch)
		assertEmpty(t, ch)
	})

	t.Run("NoSubscribers", func(t *testing.T) {
		n := NewNotifier[int](0)
		defer n.Close()
		assert.Equal(t, 0, n.Publish(1))
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		n := NewNotifier[int](1)
		defer n.Close()

		ch, unsubscribe := n.Subscribe()
		unsubscribe()
		unsubscribe()
		_, ok := <-ch
		assert.False(t, ok)
		assert.Equal(t, 0, n.Publish(1))
	})

	t.Run("Close", func(t *testing.T) {
		n := NewNotifier[int](1)
		ch, unsubscribe := n.Subscribe()
		n.Close()
		_, ok := <-ch
		assert.False(t, ok)
		unsubscribe()

		ch, _ = n.Subscribe()
		_, ok = <-ch
		assert.False(t, ok)
	})
}

func TestBufferedSlot(t *testing.T) {
	var b BufferedSlot

	_, ok := b.Consume()
	assert.False(t, ok)

	b.Set(types.Record{ID: "a"})
	b.Set(types.Record{ID: "b"})
	r, ok := b.Consume()
	require.True(t, ok)
	assert.Equal(t, "b", r.ID)

	_, ok = b.Consume()
	assert.False(t, ok)
}

func assertEmpty[T any](t *testing.T, ch <-chan T) {
	t.Helper()
	select {
	case v := <-ch:
		assert.Failf(t, "unexpected value", "received '%v'", v)
	case <-time.After(50 * time.Millisecond):
	}
}
