/*
Copyright 2024 Derrick J. Wippler

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package dappq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kapetan-io/dappq/internal"
	"github.com/kapetan-io/dappq/internal/types"
	"github.com/kapetan-io/dappq/transport"
	"github.com/kapetan-io/errors"
	"github.com/kapetan-io/tackle/clock"
	"github.com/kapetan-io/tackle/set"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/ksuid"
)

// Record is a single interaction request, see types.Record
type Record = types.Record

// Stats is a snapshot of the queue, see types.Stats
type Stats = types.Stats

const (
	KindTransaction  = types.KindTransaction
	KindAuthorized   = types.KindAuthorized
	KindUnauthorized = types.KindUnauthorized
	KindInternal     = types.KindInternal

	// teardownTimeout is how long RemoveAll may take after the last peer session disconnects
	teardownTimeout = 5 * time.Second
)

// ErrServiceShutdown is returned by every operation once Shutdown has been called
var ErrServiceShutdown = internal.ErrCoordinatorShutdown

type ServiceConfig struct {
	// Log is the logging implementation used by this instance
	Log *slog.Logger
	// Clock is the clock provider used to stamp admitted requests, tests may freeze it
	Clock *clock.Provider
	// MaxWaitingRequests is the number of calls which may wait on the coordinator before
	// callers receive a retry error.
	MaxWaitingRequests int
	// NotifyBufferSize is the number of defer notifications buffered per subscriber
	NotifyBufferSize int
}

// Service owns the Coordinator and the peer sessions which can receive responses. It is
// the public Go API and implements transport.Service for the HTTP handler.
type Service struct {
	coordinator *internal.Coordinator
	mu          sync.Mutex
	responders  map[string]transport.Responder
	conf        ServiceConfig
	log         *slog.Logger
}

var _ transport.Service = &Service{}

func NewService(conf ServiceConfig) (*Service, error) {
	set.Default(&conf.Log, slog.Default())
	set.Default(&conf.Clock, clock.NewProvider())

	if conf.MaxWaitingRequests < 0 {
		return nil, transport.NewInvalidOption("MaxWaitingRequests cannot be negative")
	}
	if conf.NotifyBufferSize < 0 {
		return nil, transport.NewInvalidOption("NotifyBufferSize cannot be negative")
	}

	return &Service{
		coordinator: internal.SpawnCoordinator(internal.CoordinatorConfig{
			MaxWaitingRequests: conf.MaxWaitingRequests,
			NotifyBufferSize:   conf.NotifyBufferSize,
			Clock:              conf.Clock,
			Log:                conf.Log,
		}),
		log:        conf.Log.With("code.namespace", "Service"),
		responders: make(map[string]transport.Responder),
		conf:       conf,
	}, nil
}

// Add admits a request to the queue. Internal requests go to the head of the queue
// all others to the tail. Add does not de-duplicate, admitting the same id twice
// queues it twice.
func (s *Service) Add(ctx context.Context, r Record) error {
	if err := validateRecord(r); err != nil {
		return err
	}
	return s.coordinator.Add(ctx, r)
}

// AddPriorityRequest admits a request which must interrupt the request currently
// presented. When another request is presented, a defer notification is emitted for it
// and the priority request is not presented until RequestDeferred() or RequestHandled()
// is called for the interrupted request. Callers which subscribe to DeferNotifications()
// MUST eventually call one of those for every notification they receive, otherwise the
// priority request stays stuck behind the interrupted one.
func (s *Service) AddPriorityRequest(ctx context.Context, r Record) error {
	if err := validateRecord(r); err != nil {
		return err
	}
	return s.coordinator.AddPriorityRequest(ctx, r)
}

// RequestHandled retires the request. Handling an id which is not queued is a no-op.
func (s *Service) RequestHandled(ctx context.Context, id string) error {
	return s.coordinator.RequestHandled(ctx, id)
}

// RequestDeferred un-publishes the request, leaving it queued
func (s *Service) RequestDeferred(ctx context.Context, id string) error {
	return s.coordinator.RequestDeferred(ctx, id)
}

// PauseIncomingRequests stops external requests from being presented while a high
// priority screen has the user's attention. Internal requests are still presented.
func (s *Service) PauseIncomingRequests(ctx context.Context) error {
	return s.coordinator.PauseIncomingRequests(ctx)
}

func (s *Service) ResumeIncomingRequests(ctx context.Context) error {
	return s.coordinator.ResumeIncomingRequests(ctx)
}

// GetRequest returns the queued request with the provided id
func (s *Service) GetRequest(ctx context.Context, id string) (Record, bool, error) {
	req := types.LookupRequest{ID: id}
	if err := s.coordinator.GetRequest(ctx, &req); err != nil {
		return Record{}, false, err
	}
	return req.Record, req.Found, nil
}

// RemoveAll drops every queued request. A paused state is preserved.
func (s *Service) RemoveAll(ctx context.Context) error {
	return s.coordinator.RemoveAll(ctx)
}

// AmountOfRequests returns the number of queued requests
func (s *Service) AmountOfRequests(ctx context.Context) (int, error) {
	return s.coordinator.AmountOfRequests(ctx)
}

// List returns the queued requests in the order they will be presented
func (s *Service) List(ctx context.Context) ([]Record, error) {
	var req types.ListRequest
	if err := s.coordinator.List(ctx, &req); err != nil {
		return nil, err
	}
	return req.Records, nil
}

func (s *Service) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	return stats, s.coordinator.Stats(ctx, &stats)
}

// CurrentRequest returns the request presented to the user, false if none
func (s *Service) CurrentRequest() (Record, bool) {
	return s.coordinator.CurrentRequest()
}

// CurrentRequests subscribes to the request presented to the user. A new subscriber
// receives the currently presented request first. Call the returned func to unsubscribe.
func (s *Service) CurrentRequests() (<-chan Record, func()) {
	return s.coordinator.CurrentRequests()
}

// DeferNotifications subscribes to the ids of presented requests which should be
// deferred to make room for a priority request.
func (s *Service) DeferNotifications() (<-chan string, func()) {
	return s.coordinator.DeferNotifications()
}

// SetBufferedRequest holds a request which arrived before the presentation layer
// was ready, such as a deep link received at start up.
func (s *Service) SetBufferedRequest(r Record) {
	s.coordinator.SetBufferedRequest(r)
}

// ConsumeBufferedRequest returns the buffered request once
func (s *Service) ConsumeBufferedRequest() (Record, bool) {
	return s.coordinator.ConsumeBufferedRequest()
}

// NewInternalRequest returns a request originating from the wallet's own flows
func (s *Service) NewInternalRequest(kind string, payload []byte) Record {
	set.Default(&kind, KindInternal)
	return Record{
		ID:         ksuid.New().String(),
		IsInternal: true,
		Kind:       kind,
		Payload:    payload,
	}
}

// Respond delivers the payload to the peer session which sent the request and retires
// the request. Internal requests have no peer and are only retired. If the peer session
// has disconnected the request is retired and ErrRequestFailed is returned.
func (s *Service) Respond(ctx context.Context, id string, payload []byte) error {
	r, found, err := s.GetRequest(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return internal.NewRequestNotFound(id)
	}

	if r.IsInternal {
		return s.RequestHandled(ctx, id)
	}

	s.mu.Lock()
	responder, ok := s.responders[r.SessionID]
	s.mu.Unlock()

	if !ok {
		if err := s.RequestHandled(ctx, id); err != nil {
			return err
		}
		return transport.NewRequestFailed("peer session '%s' is no longer connected; "+
			"request '%s' retired without a response", r.SessionID, id)
	}

	if err := responder.Respond(ctx, id, payload); err != nil {
		return fmt.Errorf("while responding to '%s': %w", id, err)
	}
	return s.RequestHandled(ctx, id)
}

// RegisterResponder makes a peer session available to Respond()
func (s *Service) RegisterResponder(sessionID string, r transport.Responder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responders[sessionID] = r
	s.log.LogAttrs(context.Background(), internal.LevelDebug, "peer session registered",
		slog.String("session", sessionID),
		slog.Int("sessions", len(s.responders)))
}

// UnregisterResponder removes the peer session. When the last peer session is gone the
// queue is cleared, there is no one left to respond to.
func (s *Service) UnregisterResponder(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.responders[sessionID]; !ok {
		return
	}
	delete(s.responders, sessionID)
	s.log.LogAttrs(context.Background(), internal.LevelDebug, "peer session unregistered",
		slog.String("session", sessionID),
		slog.Int("sessions", len(s.responders)))

	if len(s.responders) != 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	if err := s.coordinator.RemoveAll(ctx); err != nil {
		if errors.Is(err, ErrServiceShutdown) {
			return
		}
		s.log.Warn("while clearing requests after last peer disconnected", "error", err)
	}
}

// Metrics returns the coordinator metrics for registration with a prometheus registry
func (s *Service) Metrics() prometheus.Collector {
	return s.coordinator.Metrics()
}

func (s *Service) Shutdown(ctx context.Context) error {
	return s.coordinator.Shutdown(ctx)
}
