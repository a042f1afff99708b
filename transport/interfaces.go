package transport

import (
	"context"
)

// Responder delivers a response to the peer which sent an interaction request
type Responder interface {
	Respond(ctx context.Context, interactionID string, payload []byte) error
}

// PresentationOps are the calls made by the presentation layer as the user navigates
type PresentationOps interface {
	RequestsAdd(context.Context, *AddRequest, *AddResponse) error
	RequestsCurrent(context.Context, *CurrentResponse) error
	RequestsGet(context.Context, string, *Record) error
	RequestsHandled(context.Context, string) error
	RequestsDeferred(context.Context, string) error
	RequestsRespond(context.Context, *RespondRequest) error
	RequestsPause(context.Context) error
	RequestsResume(context.Context) error
	RequestsRemoveAll(context.Context) error
	RequestsStats(context.Context, *StatsResponse) error
	BufferedSet(context.Context, *Record) error
	BufferedConsume(context.Context, *CurrentResponse) error
}

// PeerOps are the calls made by the connection layer for each peer session
type PeerOps interface {
	PeerRequest(context.Context, *PeerRequest) error
	RegisterResponder(sessionID string, r Responder)
	UnregisterResponder(sessionID string)
}

// Observer exposes the signals the presentation layer watches
type Observer interface {
	// Watch returns the current request and defer notification subscriptions and a
	// func which unsubscribes from both.
	Watch() (<-chan Record, <-chan string, func())
	Health(context.Context, *HealthResponse)
}

// Service is an abstraction separating the public protocol from the underlying implementation.
//
// Abstraction rules dictate that the `transport` package should NOT access any other public interfaces or
// types. To expose new capabilities via the HTTP interface, we must first add that capability to the
// `Service`.
type Service interface {
	PresentationOps
	PeerOps
	Observer
}
