package message

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/praekeltfoundation/vumigo/errors"
)

// EventType classifies a transport event
type EventType string

// Transport event types
const (
	// EventAck signals the remote peer accepted an outbound message
	EventAck EventType = "ack"
	// EventNack signals an outbound message was not accepted; Reason is set
	EventNack EventType = "nack"
	// EventDeliveryReport relays the remote peer's final delivery status
	EventDeliveryReport EventType = "delivery_report"
)

// Delivery statuses carried by delivery reports
const (
	DeliveryStatusDelivered = "delivered"
	DeliveryStatusFailed    = "failed"
	DeliveryStatusPending   = "pending"
)

// TransportEvent is an asynchronous acknowledgement flowing from a
// transport back toward the application that originated a message.
type TransportEvent struct {
	EventID        string    `json:"event_id"`
	EventType      EventType `json:"event_type"`
	Timestamp      time.Time `json:"timestamp"`
	TransportName  string    `json:"transport_name,omitempty"`
	UserMessageID  string    `json:"user_message_id"`
	SentMessageID  string    `json:"sent_message_id,omitempty"`
	Reason         string    `json:"nack_reason,omitempty"`
	DeliveryStatus string    `json:"delivery_status,omitempty"`
	Endpoint       string    `json:"routing_endpoint,omitempty"`
}

// NewAck creates an ack event correlating the remote peer's message ID
// back to the original user message.
func NewAck(userMessageID, sentMessageID string) *TransportEvent {
	return &TransportEvent{
		EventID:       uuid.NewString(),
		EventType:     EventAck,
		Timestamp:     time.Now().UTC(),
		UserMessageID: userMessageID,
		SentMessageID: sentMessageID,
	}
}

// NewNack creates a nack event with a human-readable reason
func NewNack(userMessageID, reason string) *TransportEvent {
	return &TransportEvent{
		EventID:       uuid.NewString(),
		EventType:     EventNack,
		Timestamp:     time.Now().UTC(),
		UserMessageID: userMessageID,
		Reason:        reason,
	}
}

// NewDeliveryReport creates a delivery report event
func NewDeliveryReport(userMessageID, status string) *TransportEvent {
	return &TransportEvent{
		EventID:        uuid.NewString(),
		EventType:      EventDeliveryReport,
		Timestamp:      time.Now().UTC(),
		UserMessageID:  userMessageID,
		DeliveryStatus: status,
	}
}

// RoutingEndpoint returns the event's endpoint, defaulting to "default"
func (e *TransportEvent) RoutingEndpoint() string {
	if e.Endpoint == "" {
		return DefaultEndpoint
	}
	return e.Endpoint
}

// SetRoutingEndpoint records the endpoint the dispatcher routed this event to
func (e *TransportEvent) SetRoutingEndpoint(endpoint string) {
	if endpoint == DefaultEndpoint {
		e.Endpoint = ""
		return
	}
	e.Endpoint = endpoint
}

// Validate checks the fields every routed event must carry
func (e *TransportEvent) Validate() error {
	if e.EventType == "" {
		return errors.WrapInvalid(errors.ErrMissingField, "TransportEvent", "Validate", "event_type presence")
	}
	if e.UserMessageID == "" {
		return errors.WrapInvalid(errors.ErrMissingField, "TransportEvent", "Validate", "user_message_id presence")
	}
	return nil
}

// Encode serializes the event for the bus
func (e *TransportEvent) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, errors.WrapInvalid(err, "TransportEvent", "Encode", "json marshaling")
	}
	return data, nil
}

// DecodeEvent deserializes a TransportEvent from bus bytes
func DecodeEvent(data []byte) (*TransportEvent, error) {
	var e TransportEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, errors.WrapInvalid(err, "TransportEvent", "DecodeEvent", "json unmarshaling")
	}
	return &e, nil
}
