package internal

import (
	"slices"

	"github.com/kapetan-io/dappq/internal/types"
)

// RequestQueue is the ordered list of requests waiting to be presented, the head is the
// next candidate. Expected sizes are human-interactive scale, so every operation is O(n).
//
// RequestQueue is NOT thread safe, it is owned by the Coordinator request loop.
type RequestQueue struct {
	items []types.QueueItem
}

func (q *RequestQueue) PushFront(item types.QueueItem) {
	q.items = slices.Insert(q.items, 0, item)
}

func (q *RequestQueue) PushBack(item types.QueueItem) {
	q.items = append(q.items, item)
}

// InsertAt inserts the item at the provided index. An index beyond the end of the
// queue appends the item.
func (q *RequestQueue) InsertAt(idx int, item types.QueueItem) {
	if idx < 0 {
		idx = 0
	}
	if idx > len(q.items) {
		idx = len(q.items)
	}
	q.items = slices.Insert(q.items, idx, item)
}

// RemoveWhere removes all the items which match the predicate and returns
// true if anything was removed.
func (q *RequestQueue) RemoveWhere(match func(types.QueueItem) bool) bool {
	before := len(q.items)
	q.items = slices.DeleteFunc(q.items, match)
	return len(q.items) != before
}

// IndexOfFirst returns the index of the first item matching the predicate or -1 if not found
func (q *RequestQueue) IndexOfFirst(match func(types.QueueItem) bool) int {
	return slices.IndexFunc(q.items, match)
}

func (q *RequestQueue) PeekFront() (types.QueueItem, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	return q.items[0], true
}

func (q *RequestQueue) Contains(match func(types.QueueItem) bool) bool {
	return slices.ContainsFunc(q.items, match)
}

// CountRequestItems returns the number of RequestItem entries, the marker is not counted
func (q *RequestQueue) CountRequestItems() int {
	var count int
	for _, item := range q.items {
		if _, ok := item.(types.RequestItem); ok {
			count++
		}
	}
	return count
}

func (q *RequestQueue) Len() int {
	return len(q.items)
}

// Find returns the record of the first RequestItem with the provided id
func (q *RequestQueue) Find(id string) (types.Record, bool) {
	idx := q.IndexOfFirst(types.IsRequest(id))
	if idx == -1 {
		return types.Record{}, false
	}
	return q.items[idx].(types.RequestItem).Record, true
}

// Records returns the records in queue order, the marker is skipped
func (q *RequestQueue) Records() []types.Record {
	out := make([]types.Record, 0, len(q.items))
	for _, item := range q.items {
		if r, ok := item.(types.RequestItem); ok {
			out = append(out, r.Record)
		}
	}
	return out
}

// Items returns a copy of the queue entries in order
func (q *RequestQueue) Items() []types.QueueItem {
	return slices.Clone(q.items)
}
