package types

import "context"

// Stats is a snapshot of the coordinator state
type Stats struct {
	// Total is the number of RequestItems in the queue, excluding the marker
	Total int
	// Internal is the number of queued requests which originated from the wallet
	Internal int
	// External is the number of queued requests which originated from a peer
	External int
	// Paused is true if a HighPriorityScreenMarker is in the queue
	Paused bool
	// Current is the id of the published request, empty if nothing is published
	Current string
	// Queue is the ordered list of queue entries, the marker is represented as MarkerID
	Queue []string
}

// MarkerID is how the HighPriorityScreenMarker appears in Stats.Queue
const MarkerID = "<high-priority-screen>"

type AddRequest struct {
	Record Record
	// Priority is true if the record should interrupt the currently published request
	Priority bool
}

type LookupRequest struct {
	ID     string
	Record Record
	Found  bool
}

type ListRequest struct {
	Records []Record
}

type ShutdownRequest struct {
	Context context.Context
	// Used to wait for this request to complete
	ReadyCh chan struct{}
	// The error to be returned to the caller
	Err error
}
