package transport

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kapetan-io/errors"
	"google.golang.org/protobuf/types/known/structpb"
)

// RPC bodies are google.protobuf.Struct messages, so clients may speak either JSON or
// protobuf without generated stubs. The helpers below convert between the Struct
// and the transport structs.

const (
	FieldID         = "id"
	FieldIsInternal = "isInternal"
	FieldSessionID  = "sessionId"
	FieldKind       = "kind"
	FieldPayload    = "payload"
	FieldPriority   = "priority"
	FieldReceivedAt = "receivedAt"
	FieldRecord     = "record"
	FieldFound      = "found"
	FieldTotal      = "total"
	FieldInternal   = "internal"
	FieldExternal   = "external"
	FieldPaused     = "paused"
	FieldCurrent    = "current"
	FieldQueue      = "queue"
)

func StringField(s *structpb.Struct, name string) string {
	return s.GetFields()[name].GetStringValue()
}

func BoolField(s *structpb.Struct, name string) bool {
	return s.GetFields()[name].GetBoolValue()
}

func IntField(s *structpb.Struct, name string) int {
	return int(s.GetFields()[name].GetNumberValue())
}

// PayloadField returns the raw JSON payload held in the named field, nil if the field is
// absent. Payloads travel as a JSON document encoded in a string value, a structpb number
// is a float64 and would change any integer beyond 2^53.
func PayloadField(s *structpb.Struct, name string) (json.RawMessage, error) {
	v, ok := s.GetFields()[name]
	if !ok || v == nil {
		return nil, nil
	}

	switch k := v.GetKind().(type) {
	case *structpb.Value_NullValue:
		return nil, nil
	case *structpb.Value_StringValue:
		if k.StringValue == "" {
			return nil, nil
		}
		if !json.Valid([]byte(k.StringValue)) {
			return nil, fmt.Errorf("'%s' is not a valid JSON document", name)
		}
		return json.RawMessage(k.StringValue), nil
	}
	return nil, fmt.Errorf("'%s' must be a JSON document encoded as a string", name)
}

// PayloadValue wraps the JSON payload in a string value, the bytes reach the other side unchanged
func PayloadValue(payload json.RawMessage) (*structpb.Value, error) {
	if !json.Valid(payload) {
		return nil, errors.New("payload is not valid JSON")
	}
	return structpb.NewStringValue(string(payload)), nil
}

func RecordToStruct(r Record) (*structpb.Struct, error) {
	s := &structpb.Struct{Fields: map[string]*structpb.Value{
		FieldID:         structpb.NewStringValue(r.ID),
		FieldIsInternal: structpb.NewBoolValue(r.IsInternal),
		FieldSessionID:  structpb.NewStringValue(r.SessionID),
		FieldKind:       structpb.NewStringValue(r.Kind),
	}}
	if !r.ReceivedAt.IsZero() {
		s.Fields[FieldReceivedAt] = structpb.NewStringValue(r.ReceivedAt.UTC().Format(time.RFC3339Nano))
	}
	if len(r.Payload) != 0 {
		v, err := PayloadValue(r.Payload)
		if err != nil {
			return nil, err
		}
		s.Fields[FieldPayload] = v
	}
	return s, nil
}

func RecordFromStruct(s *structpb.Struct, r *Record) error {
	var err error

	r.ID = StringField(s, FieldID)
	r.IsInternal = BoolField(s, FieldIsInternal)
	r.SessionID = StringField(s, FieldSessionID)
	r.Kind = StringField(s, FieldKind)

	if ts := StringField(s, FieldReceivedAt); ts != "" {
		r.ReceivedAt, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return NewInvalidOption("receivedAt is invalid; %s", err.Error())
		}
	}

	r.Payload, err = PayloadField(s, FieldPayload)
	if err != nil {
		return NewInvalidOption("%s", err.Error())
	}
	return nil
}

func CurrentToStruct(c CurrentResponse) (*structpb.Struct, error) {
	s := &structpb.Struct{Fields: map[string]*structpb.Value{
		FieldFound: structpb.NewBoolValue(c.Found),
	}}
	if !c.Found {
		return s, nil
	}
	rs, err := RecordToStruct(c.Record)
	if err != nil {
		return nil, err
	}
	s.Fields[FieldRecord] = structpb.NewStructValue(rs)
	return s, nil
}

func CurrentFromStruct(s *structpb.Struct, c *CurrentResponse) error {
	c.Found = BoolField(s, FieldFound)
	if !c.Found {
		return nil
	}
	return RecordFromStruct(s.GetFields()[FieldRecord].GetStructValue(), &c.Record)
}

func StatsToStruct(st StatsResponse) *structpb.Struct {
	queue := make([]*structpb.Value, 0, len(st.Queue))
	for _, id := range st.Queue {
		queue = append(queue, structpb.NewStringValue(id))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		FieldTotal:    structpb.NewNumberValue(float64(st.Total)),
		FieldInternal: structpb.NewNumberValue(float64(st.Internal)),
		FieldExternal: structpb.NewNumberValue(float64(st.External)),
		FieldPaused:   structpb.NewBoolValue(st.Paused),
		FieldCurrent:  structpb.NewStringValue(st.Current),
		FieldQueue:    structpb.NewListValue(&structpb.ListValue{Values: queue}),
	}}
}

func StatsFromStruct(s *structpb.Struct, st *StatsResponse) {
	st.Total = IntField(s, FieldTotal)
	st.Internal = IntField(s, FieldInternal)
	st.External = IntField(s, FieldExternal)
	st.Paused = BoolField(s, FieldPaused)
	st.Current = StringField(s, FieldCurrent)
	st.Queue = st.Queue[:0]
	for _, v := range s.GetFields()[FieldQueue].GetListValue().GetValues() {
		st.Queue = append(st.Queue, v.GetStringValue())
	}
}
