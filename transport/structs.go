package transport

import (
	"encoding/json"
	"time"
)

// Record is the wire representation of a queued interaction request
type Record struct {
	ID         string          `json:"id"`
	IsInternal bool            `json:"isInternal"`
	SessionID  string          `json:"sessionId,omitempty"`
	Kind       string          `json:"kind,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	ReceivedAt time.Time       `json:"receivedAt"`
}

type AddRequest struct {
	Kind     string
	Payload  json.RawMessage
	Priority bool
}

type AddResponse struct {
	ID string
}

type CurrentResponse struct {
	Record Record
	Found  bool
}

type RespondRequest struct {
	ID      string
	Payload json.RawMessage
}

type StatsResponse struct {
	Total    int
	Internal int
	External int
	Paused   bool
	Current  string
	Queue    []string
}

// PeerRequest is a verified inbound interaction request from a peer session
type PeerRequest struct {
	SessionID     string
	InteractionID string
	Kind          string
	Priority      bool
	Payload       json.RawMessage
}

// -------------------------------------------------
// Peer session and watch stream envelopes
// -------------------------------------------------

const (
	EnvelopeSession  = "session"
	EnvelopeAck      = "ack"
	EnvelopeError    = "error"
	EnvelopeResponse = "response"
	EnvelopeCurrent  = "current"
	EnvelopeDefer    = "defer"
)

// PeerMessage is the message a peer sends over its session
type PeerMessage struct {
	InteractionID string          `json:"interactionId"`
	Kind          string          `json:"kind,omitempty"`
	Priority      bool            `json:"priority,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// Envelope is every message sent to a peer session or a watch stream
type Envelope struct {
	Type          string          `json:"type"`
	InteractionID string          `json:"interactionId,omitempty"`
	Message       string          `json:"message,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Record        *Record         `json:"record,omitempty"`
	ID            string          `json:"id,omitempty"`
}
