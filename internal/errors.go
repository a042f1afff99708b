package internal

import (
	"github.com/kapetan-io/dappq/transport"
)

const (
	MsgCoordinatorInShutdown = "coordinator is shutting down"
	MsgRequestNotFound       = "request not found; no such interaction request '%s'"
	MsgTooManyWaiting        = "too many requests waiting on the coordinator; limit is %d, retry later"
)

var (
	ErrCoordinatorShutdown = transport.NewRequestFailed(MsgCoordinatorInShutdown)
)

func NewRequestNotFound(id string) error {
	return transport.NewInvalidOption(MsgRequestNotFound, id)
}
