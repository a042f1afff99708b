package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/duh-rpc/duh-go"
	"github.com/duh-rpc/duh-go/retry"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const writeTimeout = 10 * time.Second

// PeerRetry is how long a peer message waits for an overloaded coordinator before the
// peer receives an error envelope.
var PeerRetry = retry.Policy{
	Interval: retry.Sleep(20 * time.Millisecond),
	OnCodes:  []int{duh.CodeRetryRequest},
	Attempts: 5,
}

// wsWriter serializes writes to a websocket connection. gorilla/websocket allows only
// one concurrent writer per connection.
type wsWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsWriter) send(e Envelope) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return w.conn.WriteJSON(e)
}

func (w *wsWriter) close(code int, text string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text), time.Now().Add(writeTimeout))
}

// peerSession is a single connected peer. It delivers responses for the interaction
// requests the peer sent over this session.
type peerSession struct {
	wsWriter
	id string
}

func (s *peerSession) Respond(_ context.Context, interactionID string, payload []byte) error {
	if len(payload) != 0 && !json.Valid(payload) {
		return NewInvalidOption("response payload for '%s' is not valid JSON", interactionID)
	}
	if err := s.send(Envelope{
		Type:          EnvelopeResponse,
		InteractionID: interactionID,
		Payload:       payload,
	}); err != nil {
		return fmt.Errorf("while sending response to session '%s': %w", s.id, err)
	}
	return nil
}

// PeerConnect upgrades the connection and reads interaction requests from the peer until
// the peer disconnects. Each message is acknowledged or rejected with an error envelope.
func (h *HTTPHandler) PeerConnect(w http.ResponseWriter, r *http.Request) {
	conn, done, err := h.upgrade(w, r)
	if err != nil {
		h.log.Warn("peer upgrade failed", "error", err)
		return
	}
	defer done()
	conn.SetReadLimit(h.maxRequestSize)

	sess := &peerSession{wsWriter: wsWriter{conn: conn}, id: uuid.NewString()}
	log := h.log.With("session", sess.id)

	if err := sess.send(Envelope{Type: EnvelopeSession, ID: sess.id}); err != nil {
		log.Warn("while sending session envelope", "error", err)
		return
	}

	h.service.RegisterResponder(sess.id, sess)
	defer h.service.UnregisterResponder(sess.id)
	log.Debug("peer connected", "remote", r.RemoteAddr)

	ctx := r.Context()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn("peer read failed", "error", err)
			}
			log.Debug("peer disconnected")
			return
		}

		var msg PeerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			if err := sess.send(Envelope{Type: EnvelopeError,
				Message: "message is not a valid interaction request; " + err.Error()}); err != nil {
				return
			}
			continue
		}

		req := PeerRequest{
			SessionID:     sess.id,
			InteractionID: msg.InteractionID,
			Kind:          msg.Kind,
			Priority:      msg.Priority,
			Payload:       msg.Payload,
		}

		reply := Envelope{Type: EnvelopeAck, InteractionID: msg.InteractionID}
		err = retry.On(ctx, h.peerRetry, func(ctx context.Context, _ int) error {
			return h.service.PeerRequest(ctx, &req)
		})
		if err != nil {
			reply = Envelope{Type: EnvelopeError, InteractionID: msg.InteractionID, Message: err.Error()}
		}
		if err := sess.send(reply); err != nil {
			log.Warn("while replying to peer", "error", err)
			return
		}
	}
}
