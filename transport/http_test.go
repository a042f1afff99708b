package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/duh-rpc/duh-go"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeService records the calls made by the handler
type fakeService struct {
	added   *AddRequest
	handled string
	health  HealthStatus
	err     error

	peerMu sync.Mutex
	// peerOverloaded is the number of PeerRequest calls which fail with a retry error
	peerOverloaded int
	peerCalls      int
}

func (f *fakeService) RequestsAdd(_ context.Context, req *AddRequest, resp *AddResponse) error {
	if f.err != nil {
		return f.err
	}
	f.added = req
	resp.ID = "generated-id"
	return nil
}

func (f *fakeService) RequestsCurrent(_ context.Context, resp *CurrentResponse) error {
	resp.Found = true
	resp.Record = Record{ID: "current", Kind: "transaction"}
	return nil
}

func (f *fakeService) RequestsGet(context.Context, string, *Record) error { return f.err }

func (f *fakeService) RequestsHandled(_ context.Context, id string) error {
	f.handled = id
	return f.err
}

func (f *fakeService) RequestsDeferred(context.Context, string) error        { return f.err }
func (f *fakeService) RequestsRespond(context.Context, *RespondRequest) error { return f.err }
func (f *fakeService) RequestsPause(context.Context) error                    { return f.err }
func (f *fakeService) RequestsResume(context.Context) error                   { return f.err }
func (f *fakeService) RequestsRemoveAll(context.Context) error                { return f.err }

func (f *fakeService) RequestsStats(_ context.Context, resp *StatsResponse) error {
	resp.Total = 2
	resp.Paused = true
	resp.Queue = []string{"a", "b"}
	return f.err
}

func (f *fakeService) BufferedSet(context.Context, *Record) error               { return f.err }
func (f *fakeService) BufferedConsume(context.Context, *CurrentResponse) error  { return f.err }
func (f *fakeService) PeerRequest(context.Context, *PeerRequest) error {
	f.peerMu.Lock()
	defer f.peerMu.Unlock()
	f.peerCalls++
	if f.peerCalls <= f.peerOverloaded {
		return NewRetryRequest("too many requests waiting on the coordinator")
	}
	return f.err
}

func (f *fakeService) calls() int {
	f.peerMu.Lock()
	defer f.peerMu.Unlock()
	return f.peerCalls
}

func (f *fakeService) RegisterResponder(string, Responder)                      {}
func (f *fakeService) UnregisterResponder(string)                               {}
func (f *fakeService) Watch() (<-chan Record, <-chan string, func())            { return nil, nil, func() {} }

func (f *fakeService) Health(_ context.Context, resp *HealthResponse) {
	resp.Status = f.health
}

func newTestServer(t *testing.T, s Service, maxRequestSize int64) *httptest.Server {
	t.Helper()
	h := NewHTTPHandler(s, nil, maxRequestSize, discard)
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		_ = h.Close(context.Background())
		srv.Close()
	})
	return srv
}

func postJSON(t *testing.T, srv *httptest.Server, path, body string) (*http.Response, map[string]any) {
	t.Helper()

	rs, err := srv.Client().Post(srv.URL+path, "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer func() { _ = rs.Body.Close() }()

	b, err := io.ReadAll(rs.Body)
	require.NoError(t, err)

	out := make(map[string]any)
	if len(b) != 0 {
		require.NoError(t, json.Unmarshal(b, &out), string(b))
	}
	return rs, out
}

func TestPPROFEndpoint(t *testing.T) {
	srv := newTestServer(t, &fakeService{}, 0)
	clt := srv.Client()

	for _, test := range []struct {
		name       string
		uri        string
		expectCode int
	}{{
		name:       "allocs",
		uri:        "/pprof/allocs",
		expectCode: 200,
	}, {
		name:       "goroutine blocks",
		uri:        "/pprof/block",
		expectCode: 200,
	}, {
		name:       "missing profile name",
		uri:        "/pprof/",
		expectCode: 404,
	}, {
		name:       "garbage",
		uri:        "/pprof/test40ways",
		expectCode: 404,
	}, {
		name:       "too long, didn't stop",
		uri:        "/pprof/allocs/must/wonder/why/this/kept/going",
		expectCode: 404,
	}, {
		name:       "SQL injections are rude",
		uri:        "/pprof/%27+UNION+SELECT+user%2C+password+FROM+users--",
		expectCode: 404,
	}} {
		t.Run(test.name, func(t *testing.T) {
			rq, err := http.NewRequest("GET", fmt.Sprintf("%s%s", srv.URL, test.uri), nil)
			require.NoError(t, err)

			rs, err := clt.Do(rq)
			require.NoError(t, err)
			_ = rs.Body.Close()

			require.Equal(t, test.expectCode, rs.StatusCode, "Expected HTTP %d for GET %s", test.expectCode, test.uri)
		})
	}
}

func TestHTTPHandlerRouting(t *testing.T) {
	srv := newTestServer(t, &fakeService{}, 0)

	t.Run("GetNotAllowed", func(t *testing.T) {
		rs, err := srv.Client().Get(srv.URL + RPCRequestsAdd)
		require.NoError(t, err)
		_ = rs.Body.Close()
		assert.Equal(t, duh.CodeBadRequest, rs.StatusCode)
	})

	t.Run("NoSuchMethod", func(t *testing.T) {
		rs, body := postJSON(t, srv, "/v1/requests.nope", "{}")
		assert.Equal(t, duh.CodeNotImplemented, rs.StatusCode)
		assert.Equal(t, "no such method; /v1/requests.nope", body["message"])
	})

	t.Run("MetricsWithoutHandler", func(t *testing.T) {
		rs, _ := postJSON(t, srv, PathMetrics, "")
		assert.Equal(t, duh.CodeNotImplemented, rs.StatusCode)
	})
}

func TestHTTPHandlerJSON(t *testing.T) {
	s := &fakeService{}
	srv := newTestServer(t, s, 0)

	t.Run("Add", func(t *testing.T) {
		rs, body := postJSON(t, srv, RPCRequestsAdd,
			`{"kind":"backup","priority":true,"payload":"{\"screen\":\"seed\",\"index\":12345678901234567891}"}`)
		require.Equal(t, duh.CodeOK, rs.StatusCode)
		assert.Equal(t, "generated-id", body["id"])

		require.NotNil(t, s.added)
		assert.Equal(t, "backup", s.added.Kind)
		assert.True(t, s.added.Priority)
		assert.Equal(t, `{"screen":"seed","index":12345678901234567891}`, string(s.added.Payload))
	})

	t.Run("AddPayloadNotEncoded", func(t *testing.T) {
		rs, body := postJSON(t, srv, RPCRequestsAdd, `{"kind":"backup","payload":{"screen":"seed"}}`)
		assert.Equal(t, duh.CodeBadRequest, rs.StatusCode)
		assert.Equal(t, "'payload' must be a JSON document encoded as a string", body["message"])
	})

	t.Run("AddPayloadInvalid", func(t *testing.T) {
		rs, body := postJSON(t, srv, RPCRequestsAdd, `{"kind":"backup","payload":"{\"screen\":"}`)
		assert.Equal(t, duh.CodeBadRequest, rs.StatusCode)
		assert.Equal(t, "'payload' is not a valid JSON document", body["message"])
	})

	t.Run("Handled", func(t *testing.T) {
		rs, _ := postJSON(t, srv, RPCRequestsHandled, `{"id":"a"}`)
		require.Equal(t, duh.CodeOK, rs.StatusCode)
		assert.Equal(t, "a", s.handled)
	})

	t.Run("Current", func(t *testing.T) {
		rs, body := postJSON(t, srv, RPCRequestsCurrent, "")
		require.Equal(t, duh.CodeOK, rs.StatusCode)
		assert.Equal(t, true, body["found"])
		rec := body["record"].(map[string]any)
		assert.Equal(t, "current", rec["id"])
		assert.Equal(t, "transaction", rec["kind"])
	})

	t.Run("Stats", func(t *testing.T) {
		rs, body := postJSON(t, srv, RPCRequestsStats, "")
		require.Equal(t, duh.CodeOK, rs.StatusCode)
		assert.Equal(t, float64(2), body["total"])
		assert.Equal(t, true, body["paused"])
		assert.Equal(t, []any{"a", "b"}, body["queue"])
	})

	t.Run("MalformedBody", func(t *testing.T) {
		rs, body := postJSON(t, srv, RPCRequestsHandled, `{"id":`)
		assert.Equal(t, duh.CodeClientContentError, rs.StatusCode)
		assert.NotEmpty(t, body["message"])
	})

	t.Run("UnsupportedContentType", func(t *testing.T) {
		rs, err := srv.Client().Post(srv.URL+RPCRequestsHandled, "text/plain", bytes.NewBufferString("a"))
		require.NoError(t, err)
		defer func() { _ = rs.Body.Close() }()
		assert.Equal(t, duh.CodeClientContentError, rs.StatusCode)

		var body map[string]any
		require.NoError(t, json.NewDecoder(rs.Body).Decode(&body))
		assert.Contains(t, body["message"], "Content-Type header 'text/plain'")
	})
}

func TestHTTPHandlerErrors(t *testing.T) {
	s := &fakeService{err: NewRetryRequest("too many requests")}
	srv := newTestServer(t, s, 0)

	rs, body := postJSON(t, srv, RPCRequestsPause, "")
	assert.Equal(t, duh.CodeRetryRequest, rs.StatusCode)
	assert.Equal(t, "too many requests", body["message"])

	s.err = NewRequestFailed("peer gone")
	rs, body = postJSON(t, srv, RPCRequestsRespond, `{"id":"a"}`)
	assert.Equal(t, duh.CodeRequestFailed, rs.StatusCode)
	assert.Equal(t, "peer gone", body["message"])
}

func TestHTTPHandlerMaxRequestSize(t *testing.T) {
	srv := newTestServer(t, &fakeService{}, 10)

	rs, body := postJSON(t, srv, RPCRequestsHandled, `{"id":"this-id-is-too-long"}`)
	assert.Equal(t, duh.CodeBadRequest, rs.StatusCode)
	assert.Equal(t, "request body exceeds 10B limit", body["message"])
}

func TestHTTPHandlerHealth(t *testing.T) {
	for _, test := range []struct {
		name   string
		status HealthStatus
		code   int
	}{
		{name: "Pass", status: HealthStatusPass, code: http.StatusOK},
		{name: "Fail", status: HealthStatusFail, code: http.StatusServiceUnavailable},
	} {
		t.Run(test.name, func(t *testing.T) {
			srv := newTestServer(t, &fakeService{health: test.status}, 0)

			rs, err := srv.Client().Get(srv.URL + PathHealth)
			require.NoError(t, err)
			defer func() { _ = rs.Body.Close() }()

			assert.Equal(t, test.code, rs.StatusCode)
			assert.Equal(t, "application/health+json", rs.Header.Get("Content-Type"))

			var resp HealthResponse
			require.NoError(t, json.NewDecoder(rs.Body).Decode(&resp))
			assert.Equal(t, test.status, resp.Status)
		})
	}
}

func TestPeerConnectRetry(t *testing.T) {
	connect := func(t *testing.T, srv *httptest.Server) *websocket.Conn {
		t.Helper()
		conn, _, err := websocket.DefaultDialer.Dial(
			"ws"+strings.TrimPrefix(srv.URL, "http")+StreamPeerConnect, nil)
		require.NoError(t, err)
		t.Cleanup(func() { _ = conn.Close() })

		var e Envelope
		require.NoError(t, conn.ReadJSON(&e))
		require.Equal(t, EnvelopeSession, e.Type)
		return conn
	}

	t.Run("AdmittedOnceCoordinatorCatchesUp", func(t *testing.T) {
		s := &fakeService{peerOverloaded: PeerRetry.Attempts - 1}
		conn := connect(t, newTestServer(t, s, 0))

		require.NoError(t, conn.WriteJSON(PeerMessage{InteractionID: "a"}))
		var e Envelope
		require.NoError(t, conn.ReadJSON(&e))
		assert.Equal(t, EnvelopeAck, e.Type)
		assert.Equal(t, "a", e.InteractionID)
		assert.Equal(t, PeerRetry.Attempts, s.calls())
	})

	t.Run("RejectedWhileOverloaded", func(t *testing.T) {
		s := &fakeService{peerOverloaded: 100}
		conn := connect(t, newTestServer(t, s, 0))

		require.NoError(t, conn.WriteJSON(PeerMessage{InteractionID: "a"}))
		var e Envelope
		require.NoError(t, conn.ReadJSON(&e))
		assert.Equal(t, EnvelopeError, e.Type)
		assert.Equal(t, "too many requests waiting on the coordinator", e.Message)
		assert.Equal(t, PeerRetry.Attempts, s.calls())
	})

	t.Run("InvalidIsNotRetried", func(t *testing.T) {
		s := &fakeService{err: NewInvalidOption("'interactionId' cannot be empty")}
		conn := connect(t, newTestServer(t, s, 0))

		require.NoError(t, conn.WriteJSON(PeerMessage{}))
		var e Envelope
		require.NoError(t, conn.ReadJSON(&e))
		assert.Equal(t, EnvelopeError, e.Type)
		assert.Equal(t, 1, s.calls())
	})
}
