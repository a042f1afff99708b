package dappq

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/kapetan-io/dappq/internal"
	"github.com/kapetan-io/dappq/transport"
)

// The methods below implement transport.Service, they validate the wire request,
// convert it and call the Go API above.

func (s *Service) RequestsAdd(ctx context.Context, req *transport.AddRequest, resp *transport.AddResponse) error {
	if err := validatePayload(req.Payload); err != nil {
		return err
	}

	r := s.NewInternalRequest(req.Kind, req.Payload)
	if req.Priority {
		if err := s.AddPriorityRequest(ctx, r); err != nil {
			return err
		}
	} else {
		if err := s.Add(ctx, r); err != nil {
			return err
		}
	}
	resp.ID = r.ID
	return nil
}

func (s *Service) RequestsCurrent(_ context.Context, resp *transport.CurrentResponse) error {
	r, ok := s.CurrentRequest()
	if !ok {
		return nil
	}
	resp.Record = toTransportRecord(r)
	resp.Found = true
	return nil
}

func (s *Service) RequestsGet(ctx context.Context, id string, resp *transport.Record) error {
	if err := validateID("id", id); err != nil {
		return err
	}

	r, found, err := s.GetRequest(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return internal.NewRequestNotFound(id)
	}
	*resp = toTransportRecord(r)
	return nil
}

func (s *Service) RequestsHandled(ctx context.Context, id string) error {
	if err := validateID("id", id); err != nil {
		return err
	}
	return s.RequestHandled(ctx, id)
}

func (s *Service) RequestsDeferred(ctx context.Context, id string) error {
	if err := validateID("id", id); err != nil {
		return err
	}
	return s.RequestDeferred(ctx, id)
}

func (s *Service) RequestsRespond(ctx context.Context, req *transport.RespondRequest) error {
	if err := validateID("id", req.ID); err != nil {
		return err
	}
	if err := validatePayload(req.Payload); err != nil {
		return err
	}
	return s.Respond(ctx, req.ID, req.Payload)
}

func (s *Service) RequestsPause(ctx context.Context) error {
	return s.PauseIncomingRequests(ctx)
}

func (s *Service) RequestsResume(ctx context.Context) error {
	return s.ResumeIncomingRequests(ctx)
}

func (s *Service) RequestsRemoveAll(ctx context.Context) error {
	return s.RemoveAll(ctx)
}

func (s *Service) RequestsStats(ctx context.Context, resp *transport.StatsResponse) error {
	stats, err := s.Stats(ctx)
	if err != nil {
		return err
	}
	*resp = transport.StatsResponse{
		Total:    stats.Total,
		Internal: stats.Internal,
		External: stats.External,
		Paused:   stats.Paused,
		Current:  stats.Current,
		Queue:    stats.Queue,
	}
	return nil
}

func (s *Service) BufferedSet(_ context.Context, req *transport.Record) error {
	var r Record
	if err := validateBufferedRecord(req, &r); err != nil {
		return err
	}
	s.SetBufferedRequest(r)
	return nil
}

func (s *Service) BufferedConsume(_ context.Context, resp *transport.CurrentResponse) error {
	r, ok := s.ConsumeBufferedRequest()
	if !ok {
		return nil
	}
	resp.Record = toTransportRecord(r)
	resp.Found = true
	return nil
}

func (s *Service) PeerRequest(ctx context.Context, req *transport.PeerRequest) error {
	var r Record
	if err := validatePeerRequest(req, &r); err != nil {
		return err
	}

	if req.Priority {
		return s.AddPriorityRequest(ctx, r)
	}
	return s.Add(ctx, r)
}

// Watch forwards the current request and defer notifications to the transport. A slow
// transport skips intermediate current requests, as with CurrentRequests(). When the
// current request is cleared and nothing replaces it, an empty Record is sent so the
// presentation layer stops showing it.
func (s *Service) Watch() (<-chan transport.Record, <-chan string, func()) {
	current, unsubCurrent := s.CurrentRequests()
	cleared, unsubCleared := s.coordinator.CurrentCleared()
	defers, unsubDefers := s.DeferNotifications()

	out := make(chan transport.Record)
	doneCh := make(chan struct{})
	go func() {
		defer close(out)
		for {
			var r transport.Record
			select {
			case rec, ok := <-current:
				if !ok {
					return
				}
				r = toTransportRecord(rec)
			case _, ok := <-cleared:
				if !ok {
					return
				}
				// A request published after the clear arrives through current
				if _, found := s.CurrentRequest(); found {
					continue
				}
			case <-doneCh:
				return
			}

			select {
			case out <- r:
			case <-doneCh:
				return
			}
		}
	}()

	var once sync.Once
	return out, defers, func() {
		once.Do(func() {
			close(doneCh)
			unsubCurrent()
			unsubCleared()
			unsubDefers()
		})
	}
}

func (s *Service) Health(ctx context.Context, resp *transport.HealthResponse) {
	now := s.conf.Clock.Now().UTC().Format(time.RFC3339)
	requests := transport.Check{
		ComponentID:   "coordinator",
		ComponentType: "component",
		Status:        transport.HealthStatusPass,
		Time:          now,
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		requests.Status = transport.HealthStatusFail
		requests.Output = err.Error()
	}

	s.mu.Lock()
	sessions := len(s.responders)
	s.mu.Unlock()

	// External requests without a connected peer can only be retired, never answered
	peers := transport.Check{
		ComponentID:   "peer-sessions",
		ComponentType: "component",
		Status:        transport.HealthStatusPass,
		Time:          now,
	}
	if stats.External != 0 && sessions == 0 {
		peers.Status = transport.HealthStatusWarn
		peers.Output = fmt.Sprintf("%d external requests queued with no connected peer session", stats.External)
	}

	checks := map[string][]transport.Check{
		"coordinator:requests": {requests},
		"peer:sessions":        {peers},
	}
	*resp = transport.HealthResponse{
		Status:      transport.WorstStatus(checks),
		Description: "dApp interaction request coordinator",
		Checks:      checks,
		Notes: []string{
			"queued=" + strconv.Itoa(stats.Total),
			"sessions=" + strconv.Itoa(sessions),
		},
	}
}

func toTransportRecord(r Record) transport.Record {
	out := transport.Record{
		ID:         r.ID,
		IsInternal: r.IsInternal,
		SessionID:  r.SessionID,
		Kind:       r.Kind,
		ReceivedAt: r.ReceivedAt,
	}
	if len(r.Payload) == 0 {
		return out
	}
	// Payloads admitted through the Go API are opaque and may not be JSON, those are
	// sent as a base64 encoded JSON string.
	if json.Valid(r.Payload) {
		out.Payload = r.Payload
		return out
	}
	b, _ := json.Marshal(r.Payload)
	out.Payload = b
	return out
}
