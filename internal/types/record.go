package types

import (
	"fmt"
	"time"
)

const (
	KindTransaction  = "transaction"
	KindAuthorized   = "authorized"
	KindUnauthorized = "unauthorized"
	KindInternal     = "internal"
)

// Record is a single interaction request waiting for the user's attention. A Record is
// treated as an immutable value once admitted to the queue, only its position in the
// queue changes.
type Record struct {
	// ID is unique to each interaction request and is supplied by the producer. For peer
	// requests this is the interaction id from the wire message.
	ID string
	// IsInternal is true if the request originated from the wallet's own flows rather than
	// a connected peer. Internal requests are always admitted at the head of the queue.
	IsInternal bool
	// SessionID is the peer session which delivered the request, empty for internal requests.
	SessionID string
	// Kind is an opaque hint for the presentation layer. Examples: 'transaction', 'authorized'
	Kind string
	// Payload is the opaque request body
	Payload []byte
	// ReceivedAt is the time the request was admitted to the coordinator
	ReceivedAt time.Time
}

func (r Record) IsZero() bool {
	return r.ID == ""
}

func (r Record) String() string {
	origin := "external"
	if r.IsInternal {
		origin = "internal"
	}
	return fmt.Sprintf("Record{id=%s, origin=%s, kind=%s}", r.ID, origin, r.Kind)
}

// QueueItem is one entry of the request queue. It is either a RequestItem or the
// HighPriorityScreenMarker, no other implementations exist.
type QueueItem interface {
	queueItem()
}

// RequestItem wraps a Record waiting in the queue
type RequestItem struct {
	Record Record
}

// HighPriorityScreenMarker denotes a high priority screen currently has the user's
// attention. External requests behind the marker are not presented until it is removed.
type HighPriorityScreenMarker struct{}

func (RequestItem) queueItem()              {}
func (HighPriorityScreenMarker) queueItem() {}

// IsMarker returns true if the item is the HighPriorityScreenMarker
func IsMarker(item QueueItem) bool {
	_, ok := item.(HighPriorityScreenMarker)
	return ok
}

// IsRequest returns true if the item is a RequestItem with the provided id
func IsRequest(id string) func(QueueItem) bool {
	return func(item QueueItem) bool {
		r, ok := item.(RequestItem)
		return ok && r.Record.ID == id
	}
}

// IsExternalRequest returns true if the item is a RequestItem from a peer
func IsExternalRequest(item QueueItem) bool {
	r, ok := item.(RequestItem)
	return ok && !r.Record.IsInternal
}

// IsAnyRequest returns true for every RequestItem
func IsAnyRequest(item QueueItem) bool {
	_, ok := item.(RequestItem)
	return ok
}
