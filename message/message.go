package message

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/praekeltfoundation/vumigo/errors"
)

// DefaultEndpoint is the routing endpoint used when a message does not
// name one explicitly.
const DefaultEndpoint = "default"

// Direction identifies which sub-stream of a connector a message belongs to
type Direction string

// Connector sub-stream directions
const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
	DirectionEvent    Direction = "event"
)

// SessionEvent values for session-oriented transports (USSD and friends)
const (
	SessionNone   = ""
	SessionNew    = "new"
	SessionResume = "resume"
	SessionClose  = "close"
)

// TransportMessage is a user message moving between a transport and an
// application, in either direction.
type TransportMessage struct {
	MessageID     string         `json:"message_id"`
	Timestamp     time.Time      `json:"timestamp"`
	TransportName string         `json:"transport_name,omitempty"`
	TransportType string         `json:"transport_type,omitempty"`
	From          string         `json:"from_addr"`
	To            string         `json:"to_addr"`
	Content       string         `json:"content"`
	SessionEvent  string         `json:"session_event,omitempty"`
	Endpoint      string         `json:"routing_endpoint,omitempty"`
	InReplyTo     string         `json:"in_reply_to,omitempty"`
	HelperMeta    map[string]any `json:"helper_metadata,omitempty"`
}

// NewTransportMessage creates a user message with a fresh message ID
func NewTransportMessage(from, to, content string) *TransportMessage {
	return &TransportMessage{
		MessageID: uuid.NewString(),
		Timestamp: time.Now().UTC(),
		From:      from,
		To:        to,
		Content:   content,
	}
}

// RoutingEndpoint returns the message's endpoint, defaulting to "default"
func (m *TransportMessage) RoutingEndpoint() string {
	if m.Endpoint == "" {
		return DefaultEndpoint
	}
	return m.Endpoint
}

// SetRoutingEndpoint records the endpoint the dispatcher routed this
// message to. The default endpoint is stored as empty to keep envelopes
// stable across a routing hop that picks "default".
func (m *TransportMessage) SetRoutingEndpoint(endpoint string) {
	if endpoint == DefaultEndpoint {
		m.Endpoint = ""
		return
	}
	m.Endpoint = endpoint
}

// Reply constructs an outbound reply to an inbound message, swapping the
// addresses and preserving the transport identity.
func (m *TransportMessage) Reply(content string) *TransportMessage {
	return &TransportMessage{
		MessageID:     uuid.NewString(),
		Timestamp:     time.Now().UTC(),
		TransportName: m.TransportName,
		TransportType: m.TransportType,
		From:          m.To,
		To:            m.From,
		Content:       content,
		InReplyTo:     m.MessageID,
		SessionEvent:  SessionResume,
	}
}

// Validate checks the fields every routed message must carry
func (m *TransportMessage) Validate() error {
	if m.MessageID == "" {
		return errors.WrapInvalid(errors.ErrMissingField, "TransportMessage", "Validate", "message_id presence")
	}
	if m.To == "" {
		return errors.WrapInvalid(errors.ErrMissingField, "TransportMessage", "Validate", "to_addr presence")
	}
	return nil
}

// Encode serializes the message for the bus or the store
func (m *TransportMessage) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, errors.WrapInvalid(err, "TransportMessage", "Encode", "json marshaling")
	}
	return data, nil
}

// DecodeMessage deserializes a TransportMessage from bus/store bytes
func DecodeMessage(data []byte) (*TransportMessage, error) {
	var m TransportMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.WrapInvalid(err, "TransportMessage", "DecodeMessage", "json unmarshaling")
	}
	return &m, nil
}
