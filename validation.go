package dappq

import (
	"encoding/json"
	"strings"

	"github.com/kapetan-io/dappq/transport"
)

const (
	// MaxIDLength is the longest interaction request id accepted
	MaxIDLength = 512
	// MaxKindLength is the longest request kind accepted
	MaxKindLength = 128
)

func validateID(field, id string) error {
	if strings.TrimSpace(id) == "" {
		return transport.NewInvalidOption("'%s' cannot be empty; an interaction request id is required", field)
	}
	if len(id) > MaxIDLength {
		return transport.NewInvalidOption("'%s' is invalid; cannot be greater than '%d' characters", field, MaxIDLength)
	}
	return nil
}

func validatePayload(payload []byte) error {
	if len(payload) != 0 && !json.Valid(payload) {
		return transport.NewInvalidOption("'payload' is invalid; must be valid JSON")
	}
	return nil
}

func validateRecord(r Record) error {
	if err := validateID("ID", r.ID); err != nil {
		return err
	}
	if len(r.Kind) > MaxKindLength {
		return transport.NewInvalidOption("'Kind' is invalid; cannot be greater than '%d' characters", MaxKindLength)
	}
	return nil
}

func validatePeerRequest(in *transport.PeerRequest, out *Record) error {
	if err := validateID("interactionId", in.InteractionID); err != nil {
		return err
	}

	if strings.TrimSpace(in.SessionID) == "" {
		return transport.NewInvalidOption("'sessionId' cannot be empty; peer requests must originate from a session")
	}

	if len(in.Kind) > MaxKindLength {
		return transport.NewInvalidOption("'kind' is invalid; cannot be greater than '%d' characters", MaxKindLength)
	}

	if err := validatePayload(in.Payload); err != nil {
		return err
	}

	out.ID = in.InteractionID
	out.SessionID = in.SessionID
	out.Kind = in.Kind
	out.Payload = in.Payload
	return nil
}

func validateBufferedRecord(in *transport.Record, out *Record) error {
	if err := validateID("id", in.ID); err != nil {
		return err
	}

	if err := validatePayload(in.Payload); err != nil {
		return err
	}

	out.ID = in.ID
	out.IsInternal = in.IsInternal
	out.SessionID = in.SessionID
	out.Kind = in.Kind
	out.Payload = in.Payload
	out.ReceivedAt = in.ReceivedAt
	return nil
}
