package internal

import (
	"sync/atomic"

	"github.com/kapetan-io/dappq/internal/types"
)

// BufferedSlot holds a single request which arrived before anything was ready to consume
// the queue, for instance a deep link received during a cold start. It is independent of
// the Coordinator request loop and assumes a single producer and a single consumer.
type BufferedSlot struct {
	rec atomic.Pointer[types.Record]
}

// Set stores the record, replacing any record which was not consumed
func (b *BufferedSlot) Set(r types.Record) {
	b.rec.Store(&r)
}

// Consume returns the stored record and clears the slot. Only the first call
// after Set returns true.
func (b *BufferedSlot) Consume() (types.Record, bool) {
	r := b.rec.Swap(nil)
	if r == nil {
		return types.Record{}, false
	}
	return *r, true
}
