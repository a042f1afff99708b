package internal

import (
	"sync"
)

const DefaultNotifyBufferSize = 100

// Notifier delivers every published event to all subscribers through a buffered channel
// per subscriber. Publish never blocks, if a subscriber's buffer is full the event is
// dropped for that subscriber and counted in the returned value.
type Notifier[T any] struct {
	mu         sync.RWMutex
	subs       map[uint64]chan T
	bufferSize int
	nextID     uint64
	closed     bool
}

func NewNotifier[T any](bufferSize int) *Notifier[T] {
	if bufferSize <= 0 {
		bufferSize = DefaultNotifyBufferSize
	}
	return &Notifier[T]{
		subs:       make(map[uint64]chan T),
		bufferSize: bufferSize,
	}
}

// Publish sends the event to all subscribers and returns the number of
// subscribers which did not receive it.
func (n *Notifier[T]) Publish(v T) int {
	n.mu.RLock()
	defer n.mu.RUnlock()

	var dropped int
	for _, ch := range n.subs {
		select {
		case ch <- v:
		default:
			dropped++
		}
	}
	return dropped
}

// Subscribe returns a channel of events and a func to unsubscribe
func (n *Notifier[T]) Subscribe() (<-chan T, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	ch := make(chan T, n.bufferSize)
	if n.closed {
		close(ch)
		return ch, func() {}
	}

	id := n.nextID
	n.nextID++
	n.subs[id] = ch

	return ch, func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if c, ok := n.subs[id]; ok {
			delete(n.subs, id)
			close(c)
		}
	}
}

func (n *Notifier[T]) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	for id, ch := range n.subs {
		close(ch)
		delete(n.subs, id)
	}
}
