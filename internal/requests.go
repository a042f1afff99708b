package internal

import (
	"context"
	"log/slog"
)

const (
	LevelDebugAll = slog.LevelDebug
	LevelDebug    = slog.LevelDebug + 1
)

type MethodKind int

const (
	MethodAdd MethodKind = iota
	MethodAddPriority
	MethodHandled
	MethodDeferred
	MethodPause
	MethodResume
	MethodRemoveAll
	MethodGet
	MethodCount
	MethodList
	MethodStats
)

func (m MethodKind) String() string {
	switch m {
	case MethodAdd:
		return "add"
	case MethodAddPriority:
		return "add_priority"
	case MethodHandled:
		return "handled"
	case MethodDeferred:
		return "deferred"
	case MethodPause:
		return "pause"
	case MethodResume:
		return "resume"
	case MethodRemoveAll:
		return "remove_all"
	case MethodGet:
		return "get"
	case MethodCount:
		return "count"
	case MethodList:
		return "list"
	case MethodStats:
		return "stats"
	}
	return "unknown"
}

// isMutation returns true if the method changes the queue
func (m MethodKind) isMutation() bool {
	switch m {
	case MethodGet, MethodCount, MethodList, MethodStats:
		return false
	default:
		return true
	}
}

type Request struct {
	// The API method called
	Method MethodKind
	// Context is the context of the request
	Context context.Context
	// The request struct for this method
	Request any
	// Used to wait for this request to complete
	ReadyCh chan struct{}
	// The error to be returned to the caller
	Err error
}
