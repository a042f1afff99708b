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

package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/pprof"
	runtimepprof "runtime/pprof"
	"strings"
	"sync"
	"time"

	"github.com/duh-rpc/duh-go"
	v1 "github.com/duh-rpc/duh-go/proto/v1"
	"github.com/duh-rpc/duh-go/retry"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	RPCRequestsAdd       = "/v1/requests.add"
	RPCRequestsCurrent   = "/v1/requests.current"
	RPCRequestsGet       = "/v1/requests.get"
	RPCRequestsHandled   = "/v1/requests.handled"
	RPCRequestsDeferred  = "/v1/requests.deferred"
	RPCRequestsRespond   = "/v1/requests.respond"
	RPCRequestsPause     = "/v1/requests.pause"
	RPCRequestsResume    = "/v1/requests.resume"
	RPCRequestsRemoveAll = "/v1/requests.remove_all"
	RPCRequestsStats     = "/v1/requests.stats"

	RPCBufferedSet     = "/v1/requests.buffered.set"
	RPCBufferedConsume = "/v1/requests.buffered.consume"

	StreamPeerConnect       = "/v1/peer.connect"
	StreamPresentationWatch = "/v1/presentation.watch"

	PathMetrics = "/metrics"
	PathHealth  = "/health"
	PathPProf   = "/pprof/"

	// DefaultMaxRequestSize is the default number of bytes read from a single RPC body or peer message
	DefaultMaxRequestSize = 1_000_000
)

type HTTPHandler struct {
	// streams tracks open websocket connections so Close() can end them,
	// http.Server.Shutdown does not close hijacked connections.
	streamsMu sync.Mutex
	streams   map[*websocket.Conn]struct{}
	streamsWg sync.WaitGroup
	closed    bool

	duration       *prometheus.SummaryVec
	maxRequestSize int64
	peerRetry      retry.Policy
	upgrader       websocket.Upgrader
	metrics        http.Handler
	log            *slog.Logger
	service        Service
}

func NewHTTPHandler(s Service, metrics http.Handler, maxRequestSize int64, log *slog.Logger) *HTTPHandler {
	if maxRequestSize <= 0 {
		maxRequestSize = DefaultMaxRequestSize
	}
	if log == nil {
		log = slog.Default()
	}

	return &HTTPHandler{
		duration: prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Name: "http_handler_duration",
			Help: "The timings of http requests handled by the service",
			Objectives: map[float64]float64{
				0.5:  0.05,
				0.99: 0.001,
			},
		}, []string{"path"}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		streams:        make(map[*websocket.Conn]struct{}),
		log:            log.With("code.namespace", "HTTPHandler"),
		maxRequestSize: maxRequestSize,
		peerRetry:      PeerRetry,
		metrics:        metrics,
		service:        s,
	}
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer prometheus.NewTimer(h.duration.WithLabelValues(r.URL.Path)).ObserveDuration()
	ctx := r.Context()

	if strings.HasPrefix(r.URL.Path, PathPProf) {
		h.PProf(w, r)
		return
	}

	if r.Method == http.MethodGet {
		switch r.URL.Path {
		case StreamPeerConnect:
			h.PeerConnect(w, r)
			return
		case StreamPresentationWatch:
			h.PresentationWatch(w, r)
			return
		case PathHealth:
			h.Health(ctx, w)
			return
		case PathMetrics:
			if h.metrics != nil {
				h.metrics.ServeHTTP(w, r)
				return
			}
		}
	}

	if r.Method != http.MethodPost {
		duh.ReplyWithCode(w, r, duh.CodeBadRequest, nil,
			fmt.Sprintf("http method '%s' not allowed; only POST", r.Method))
		return
	}

	switch r.URL.Path {
	case RPCRequestsAdd:
		h.RequestsAdd(ctx, w, r)
		return
	case RPCRequestsCurrent:
		h.RequestsCurrent(ctx, w, r)
		return
	case RPCRequestsGet:
		h.RequestsGet(ctx, w, r)
		return
	case RPCRequestsHandled:
		h.withID(ctx, w, r, h.service.RequestsHandled)
		return
	case RPCRequestsDeferred:
		h.withID(ctx, w, r, h.service.RequestsDeferred)
		return
	case RPCRequestsRespond:
		h.RequestsRespond(ctx, w, r)
		return
	case RPCRequestsPause:
		h.noArgs(ctx, w, r, h.service.RequestsPause)
		return
	case RPCRequestsResume:
		h.noArgs(ctx, w, r, h.service.RequestsResume)
		return
	case RPCRequestsRemoveAll:
		h.noArgs(ctx, w, r, h.service.RequestsRemoveAll)
		return
	case RPCRequestsStats:
		h.RequestsStats(ctx, w, r)
		return
	case RPCBufferedSet:
		h.BufferedSet(ctx, w, r)
		return
	case RPCBufferedConsume:
		h.BufferedConsume(ctx, w, r)
		return
	case PathMetrics:
		if h.metrics != nil {
			h.metrics.ServeHTTP(w, r)
			return
		}
	}
	duh.ReplyWithCode(w, r, duh.CodeNotImplemented, nil, "no such method; "+r.URL.Path)
}

func (h *HTTPHandler) RequestsAdd(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	var req structpb.Struct
	if err := duh.ReadRequest(r, &req, h.maxRequestSize); err != nil {
		duh.ReplyError(w, r, err)
		return
	}

	payload, err := PayloadField(&req, FieldPayload)
	if err != nil {
		duh.ReplyError(w, r, NewInvalidOption("%s", err.Error()))
		return
	}

	add := AddRequest{
		Kind:     StringField(&req, FieldKind),
		Priority: BoolField(&req, FieldPriority),
		Payload:  payload,
	}
	var resp AddResponse
	if err := h.service.RequestsAdd(ctx, &add, &resp); err != nil {
		duh.ReplyError(w, r, err)
		return
	}
	duh.Reply(w, r, duh.CodeOK, &structpb.Struct{Fields: map[string]*structpb.Value{
		FieldID: structpb.NewStringValue(resp.ID),
	}})
}

func (h *HTTPHandler) RequestsCurrent(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	var resp CurrentResponse
	if err := h.service.RequestsCurrent(ctx, &resp); err != nil {
		duh.ReplyError(w, r, err)
		return
	}
	h.replyCurrent(w, r, resp)
}

func (h *HTTPHandler) RequestsGet(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	var req structpb.Struct
	if err := duh.ReadRequest(r, &req, h.maxRequestSize); err != nil {
		duh.ReplyError(w, r, err)
		return
	}

	var rec Record
	if err := h.service.RequestsGet(ctx, StringField(&req, FieldID), &rec); err != nil {
		duh.ReplyError(w, r, err)
		return
	}

	resp, err := RecordToStruct(rec)
	if err != nil {
		duh.ReplyError(w, r, err)
		return
	}
	duh.Reply(w, r, duh.CodeOK, resp)
}

func (h *HTTPHandler) RequestsRespond(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	var req structpb.Struct
	if err := duh.ReadRequest(r, &req, h.maxRequestSize); err != nil {
		duh.ReplyError(w, r, err)
		return
	}

	payload, err := PayloadField(&req, FieldPayload)
	if err != nil {
		duh.ReplyError(w, r, NewInvalidOption("%s", err.Error()))
		return
	}

	if err := h.service.RequestsRespond(ctx, &RespondRequest{
		ID:      StringField(&req, FieldID),
		Payload: payload,
	}); err != nil {
		duh.ReplyError(w, r, err)
		return
	}
	duh.Reply(w, r, duh.CodeOK, &v1.Reply{Code: duh.CodeOK})
}

func (h *HTTPHandler) RequestsStats(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	var resp StatsResponse
	if err := h.service.RequestsStats(ctx, &resp); err != nil {
		duh.ReplyError(w, r, err)
		return
	}
	duh.Reply(w, r, duh.CodeOK, StatsToStruct(resp))
}

func (h *HTTPHandler) BufferedSet(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	var req structpb.Struct
	if err := duh.ReadRequest(r, &req, h.maxRequestSize); err != nil {
		duh.ReplyError(w, r, err)
		return
	}

	var rec Record
	if err := RecordFromStruct(&req, &rec); err != nil {
		duh.ReplyError(w, r, err)
		return
	}

	if err := h.service.BufferedSet(ctx, &rec); err != nil {
		duh.ReplyError(w, r, err)
		return
	}
	duh.Reply(w, r, duh.CodeOK, &v1.Reply{Code: duh.CodeOK})
}

func (h *HTTPHandler) BufferedConsume(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	var resp CurrentResponse
	if err := h.service.BufferedConsume(ctx, &resp); err != nil {
		duh.ReplyError(w, r, err)
		return
	}
	h.replyCurrent(w, r, resp)
}

func (h *HTTPHandler) Health(ctx context.Context, w http.ResponseWriter) {
	var resp HealthResponse
	h.service.Health(ctx, &resp)

	w.Header().Set("Content-Type", "application/health+json")
	if resp.Status == HealthStatusFail {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.Warn("while writing health response", "error", err)
	}
}

// PProf serves the named runtime profile at /pprof/{profile}
func (h *HTTPHandler) PProf(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, PathPProf)
	if name == "" || strings.Contains(name, "/") || runtimepprof.Lookup(name) == nil {
		http.NotFound(w, r)
		return
	}
	pprof.Handler(name).ServeHTTP(w, r)
}

func (h *HTTPHandler) withID(ctx context.Context, w http.ResponseWriter, r *http.Request,
	fn func(context.Context, string) error) {

	var req structpb.Struct
	if err := duh.ReadRequest(r, &req, h.maxRequestSize); err != nil {
		duh.ReplyError(w, r, err)
		return
	}

	if err := fn(ctx, StringField(&req, FieldID)); err != nil {
		duh.ReplyError(w, r, err)
		return
	}
	duh.Reply(w, r, duh.CodeOK, &v1.Reply{Code: duh.CodeOK})
}

func (h *HTTPHandler) noArgs(ctx context.Context, w http.ResponseWriter, r *http.Request,
	fn func(context.Context) error) {

	if err := fn(ctx); err != nil {
		duh.ReplyError(w, r, err)
		return
	}
	duh.Reply(w, r, duh.CodeOK, &v1.Reply{Code: duh.CodeOK})
}

func (h *HTTPHandler) replyCurrent(w http.ResponseWriter, r *http.Request, c CurrentResponse) {
	resp, err := CurrentToStruct(c)
	if err != nil {
		duh.ReplyError(w, r, err)
		return
	}
	duh.Reply(w, r, duh.CodeOK, resp)
}

// Close ends every open websocket stream and waits for their handlers to return.
// New streams are refused once Close has been called.
func (h *HTTPHandler) Close(ctx context.Context) error {
	h.streamsMu.Lock()
	h.closed = true
	for conn := range h.streams {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(time.Second))
		_ = conn.Close()
	}
	h.streamsMu.Unlock()

	doneCh := make(chan struct{})
	go func() {
		h.streamsWg.Wait()
		close(doneCh)
	}()

	select {
	case <-doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// upgrade upgrades the request to a websocket and tracks the connection. The returned
// func MUST be called when the stream handler returns.
func (h *HTTPHandler) upgrade(w http.ResponseWriter, r *http.Request) (*websocket.Conn, func(), error) {
	h.streamsMu.Lock()
	if h.closed {
		h.streamsMu.Unlock()
		duh.ReplyWithCode(w, r, duh.CodeRetryRequest, nil, "server is shutting down")
		return nil, nil, NewRetryRequest("server is shutting down")
	}
	h.streamsWg.Add(1)
	h.streamsMu.Unlock()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client
		h.streamsWg.Done()
		return nil, nil, err
	}

	h.streamsMu.Lock()
	h.streams[conn] = struct{}{}
	if h.closed {
		_ = conn.Close()
	}
	h.streamsMu.Unlock()

	return conn, func() {
		h.streamsMu.Lock()
		delete(h.streams, conn)
		h.streamsMu.Unlock()
		_ = conn.Close()
		h.streamsWg.Done()
	}, nil
}

// Describe fetches prometheus metrics to be registered
func (h *HTTPHandler) Describe(ch chan<- *prometheus.Desc) {
	h.duration.Describe(ch)
}

// Collect fetches metrics from the server for use by prometheus
func (h *HTTPHandler) Collect(ch chan<- prometheus.Metric) {
	h.duration.Collect(ch)
}
