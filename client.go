package dappq

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/duh-rpc/duh-go"
	v1 "github.com/duh-rpc/duh-go/proto/v1"
	"github.com/gorilla/websocket"
	"github.com/kapetan-io/dappq/transport"
	"github.com/kapetan-io/errors"
	"github.com/kapetan-io/tackle/set"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

type ClientOptions struct {
	// Users can provide their own http client with TLS config if needed
	Client *http.Client
	// The address of endpoint in the format `<scheme>://<host>:<port>`
	Endpoint string
	// TLS is used when dialing websocket streams with an `https` endpoint
	TLS *tls.Config
	// Dialer if provided is used to open websocket streams instead of a TCP dial
	Dialer func(ctx context.Context, network, addr string) (net.Conn, error)
}

// Client calls the presentation API of a dappq daemon and dials its websocket streams
type Client struct {
	client *duh.Client
	opts   ClientOptions
}

// NewClient creates a new instance of the dappq client
func NewClient(opts ClientOptions) (*Client, error) {
	set.Default(&opts.Client, &http.Client{
		Transport: &http.Transport{
			MaxConnsPerHost:     2_000,
			MaxIdleConns:        2_000,
			MaxIdleConnsPerHost: 2_000,
			IdleConnTimeout:     60 * time.Second,
		},
	})

	if len(opts.Endpoint) == 0 {
		return nil, errors.New("opts.Endpoint is empty; must provide an http endpoint")
	}

	return &Client{
		client: &duh.Client{
			Client: opts.Client,
		},
		opts: opts,
	}, nil
}

func (c *Client) RequestsAdd(ctx context.Context, req *transport.AddRequest, res *transport.AddResponse) error {
	body := &structpb.Struct{Fields: map[string]*structpb.Value{
		transport.FieldKind:     structpb.NewStringValue(req.Kind),
		transport.FieldPriority: structpb.NewBoolValue(req.Priority),
	}}
	if len(req.Payload) != 0 {
		v, err := transport.PayloadValue(req.Payload)
		if err != nil {
			return duh.NewClientError("while marshaling request payload: %w", err, nil)
		}
		body.Fields[transport.FieldPayload] = v
	}

	var out structpb.Struct
	if err := c.do(ctx, transport.RPCRequestsAdd, body, &out); err != nil {
		return err
	}
	res.ID = transport.StringField(&out, transport.FieldID)
	return nil
}

func (c *Client) RequestsCurrent(ctx context.Context, res *transport.CurrentResponse) error {
	var out structpb.Struct
	if err := c.do(ctx, transport.RPCRequestsCurrent, &structpb.Struct{}, &out); err != nil {
		return err
	}
	return transport.CurrentFromStruct(&out, res)
}

func (c *Client) RequestsGet(ctx context.Context, id string, res *transport.Record) error {
	var out structpb.Struct
	if err := c.do(ctx, transport.RPCRequestsGet, idStruct(id), &out); err != nil {
		return err
	}
	return transport.RecordFromStruct(&out, res)
}

func (c *Client) RequestsHandled(ctx context.Context, id string) error {
	var res v1.Reply
	return c.do(ctx, transport.RPCRequestsHandled, idStruct(id), &res)
}

func (c *Client) RequestsDeferred(ctx context.Context, id string) error {
	var res v1.Reply
	return c.do(ctx, transport.RPCRequestsDeferred, idStruct(id), &res)
}

func (c *Client) RequestsRespond(ctx context.Context, req *transport.RespondRequest) error {
	body := idStruct(req.ID)
	if len(req.Payload) != 0 {
		v, err := transport.PayloadValue(req.Payload)
		if err != nil {
			return duh.NewClientError("while marshaling request payload: %w", err, nil)
		}
		body.Fields[transport.FieldPayload] = v
	}

	var res v1.Reply
	return c.do(ctx, transport.RPCRequestsRespond, body, &res)
}

func (c *Client) RequestsPause(ctx context.Context) error {
	var res v1.Reply
	return c.do(ctx, transport.RPCRequestsPause, &structpb.Struct{}, &res)
}

func (c *Client) RequestsResume(ctx context.Context) error {
	var res v1.Reply
	return c.do(ctx, transport.RPCRequestsResume, &structpb.Struct{}, &res)
}

func (c *Client) RequestsRemoveAll(ctx context.Context) error {
	var res v1.Reply
	return c.do(ctx, transport.RPCRequestsRemoveAll, &structpb.Struct{}, &res)
}

func (c *Client) RequestsStats(ctx context.Context, res *transport.StatsResponse) error {
	var out structpb.Struct
	if err := c.do(ctx, transport.RPCRequestsStats, &structpb.Struct{}, &out); err != nil {
		return err
	}
	transport.StatsFromStruct(&out, res)
	return nil
}

func (c *Client) BufferedSet(ctx context.Context, req *transport.Record) error {
	body, err := transport.RecordToStruct(*req)
	if err != nil {
		return duh.NewClientError("while marshaling request payload: %w", err, nil)
	}

	var res v1.Reply
	return c.do(ctx, transport.RPCBufferedSet, body, &res)
}

func (c *Client) BufferedConsume(ctx context.Context, res *transport.CurrentResponse) error {
	var out structpb.Struct
	if err := c.do(ctx, transport.RPCBufferedConsume, &structpb.Struct{}, &out); err != nil {
		return err
	}
	return transport.CurrentFromStruct(&out, res)
}

func (c *Client) do(ctx context.Context, path string, req proto.Message, res proto.Message) error {
	payload, err := proto.Marshal(req)
	if err != nil {
		return duh.NewClientError("while marshaling request payload: %w", err, nil)
	}

	r, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s%s", c.opts.Endpoint, path), bytes.NewReader(payload))
	if err != nil {
		return duh.NewClientError("", err, nil)
	}

	r.Header.Set("Content-Type", duh.ContentTypeProtoBuf)
	return c.client.Do(r, res)
}

func idStruct(id string) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		transport.FieldID: structpb.NewStringValue(id),
	}}
}

// -------------------------------------------------
// Websocket streams
// -------------------------------------------------

// StreamConn is a websocket stream to the daemon, either a peer session or a
// presentation watch.
type StreamConn struct {
	conn *websocket.Conn
	// SessionID is the id the daemon assigned to a peer session, empty for a watch
	SessionID string
}

// ConnectPeer opens a peer session. The daemon assigns the session id which is available
// as StreamConn.SessionID once ConnectPeer returns.
func (c *Client) ConnectPeer(ctx context.Context) (*StreamConn, error) {
	conn, err := c.dial(ctx, transport.StreamPeerConnect)
	if err != nil {
		return nil, err
	}

	e, err := conn.Next()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if e.Type != transport.EnvelopeSession {
		_ = conn.Close()
		return nil, fmt.Errorf("expected '%s' envelope; got '%s'", transport.EnvelopeSession, e.Type)
	}
	conn.SessionID = e.ID
	return conn, nil
}

// Watch opens the presentation watch stream
func (c *Client) Watch(ctx context.Context) (*StreamConn, error) {
	return c.dial(ctx, transport.StreamPresentationWatch)
}

func (c *Client) dial(ctx context.Context, path string) (*StreamConn, error) {
	endpoint := c.opts.Endpoint
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		endpoint = "wss://" + strings.TrimPrefix(endpoint, "https://")
	case strings.HasPrefix(endpoint, "http://"):
		endpoint = "ws://" + strings.TrimPrefix(endpoint, "http://")
	}

	d := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		TLSClientConfig:  c.opts.TLS,
		NetDialContext:   c.opts.Dialer,
	}
	conn, _, err := d.DialContext(ctx, endpoint+path, nil)
	if err != nil {
		return nil, fmt.Errorf("while dialing '%s': %w", path, err)
	}
	return &StreamConn{conn: conn}, nil
}

// Send sends an interaction request over a peer session
func (s *StreamConn) Send(m transport.PeerMessage) error {
	return s.conn.WriteJSON(m)
}

// Next blocks until the next envelope arrives from the daemon
func (s *StreamConn) Next() (transport.Envelope, error) {
	var e transport.Envelope
	if err := s.conn.ReadJSON(&e); err != nil {
		return transport.Envelope{}, err
	}
	return e, nil
}

// SetDeadline sets the read deadline for Next()
func (s *StreamConn) SetDeadline(t time.Time) error {
	return s.conn.SetReadDeadline(t)
}

func (s *StreamConn) Close() error {
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return s.conn.Close()
}

// WithNoTLS returns ClientOptions suitable for use with NON-TLS clients
func WithNoTLS(address string) ClientOptions {
	return ClientOptions{
		Endpoint: fmt.Sprintf("http://%s", address),
		Client: &http.Client{
			Transport: &http.Transport{
				MaxConnsPerHost:     2_000,
				MaxIdleConns:        2_000,
				MaxIdleConnsPerHost: 2_000,
				IdleConnTimeout:     60 * time.Second,
			},
		},
	}
}

// WithTLS returns ClientOptions suitable for use with TLS clients
func WithTLS(tls *tls.Config, address string) ClientOptions {
	return ClientOptions{
		Endpoint: fmt.Sprintf("https://%s", address),
		TLS:      tls,
		Client: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig:     tls,
				MaxConnsPerHost:     2_000,
				MaxIdleConns:        2_000,
				MaxIdleConnsPerHost: 2_000,
				IdleConnTimeout:     60 * time.Second,
			},
		},
	}
}
