package internal

import (
	"sync"
)

// Watch is a single slot broadcast of the most recently published value. Every subscriber
// owns a mailbox of size one, a newer value overwrites an older unread value, so a slow
// subscriber never blocks the publisher and never sees a backlog. A subscriber which
// arrives late receives the latest published value first.
type Watch[T any] struct {
	mu     sync.Mutex
	subs   map[uint64]chan T
	value  T
	set    bool
	nextID uint64
	closed bool
}

func NewWatch[T any]() *Watch[T] {
	return &Watch[T]{subs: make(map[uint64]chan T)}
}

// Publish stores the value and delivers it to every subscriber
func (w *Watch[T]) Publish(v T) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}

	w.value = v
	w.set = true
	for _, ch := range w.subs {
		// Drop any unread value, only the latest matters. We are the only writer
		// and hold the lock, so the send below always has room.
		select {
		case <-ch:
		default:
		}
		ch <- v
	}
}

// Clear forgets the latest value without notifying subscribers, new subscribers
// will not receive anything until the next Publish.
func (w *Watch[T]) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	var zero T
	w.value = zero
	w.set = false
}

// Load returns the latest published value, false if nothing is published
func (w *Watch[T]) Load() (T, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.value, w.set
}

// Subscribe returns a channel which receives published values and a func to
// unsubscribe. The channel is closed on unsubscribe or when the Watch is closed.
func (w *Watch[T]) Subscribe() (<-chan T, func()) {
	w.mu.Lock()
	defer w.mu.Unlock()

	ch := make(chan T, 1)
	if w.closed {
		close(ch)
		return ch, func() {}
	}

	if w.set {
		ch <- w.value
	}

	id := w.nextID
	w.nextID++
	w.subs[id] = ch

	return ch, func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if c, ok := w.subs[id]; ok {
			delete(w.subs, id)
			close(c)
		}
	}
}

// Close closes all subscriber channels, Publish becomes a no-op
func (w *Watch[T]) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	for id, ch := range w.subs {
		close(ch)
		delete(w.subs, id)
	}
}
