package smpp

import (
	"context"
	"time"

	"github.com/praekeltfoundation/vumigo/errors"
)

// SubmitStatus is the peer's verdict on one wire submission
type SubmitStatus string

// Statuses the engine dispatches on; anything else is a permanent failure
const (
	SubmitOK        SubmitStatus = "ESME_ROK"
	SubmitThrottled SubmitStatus = "ESME_RTHROTTLED"
	SubmitQueueFull SubmitStatus = "ESME_RMSGQFUL"
)

// LongMessageStrategy selects how content too long for one PDU is sent
type LongMessageStrategy string

// Long-message strategies
const (
	// LongMessageNone truncates at the PDU limit
	LongMessageNone LongMessageStrategy = ""
	// LongMessagePayloadField moves content into the message_payload
	// optional parameter of a single PDU
	LongMessagePayloadField LongMessageStrategy = "payload_field"
	// LongMessageSAR splits into multiple PDUs with SAR headers
	LongMessageSAR LongMessageStrategy = "multipart_sar"
	// LongMessageUDH splits into multiple PDUs with UDH headers
	LongMessageUDH LongMessageStrategy = "multipart_udh"
)

// SubmitPayload is one outbound message handed to the wire protocol
type SubmitPayload struct {
	Destination string
	Source      string
	Content     string
	Strategy    LongMessageStrategy
}

// WireProtocol is the handle onto the bound SMPP session. Submit returns
// one sequence number per PDU actually sent; long messages may yield
// several. record, when non-nil, is invoked with each PDU's sequence
// number before that PDU leaves the process, so the caller can install
// its correlation state ahead of the peer's response; a record error
// aborts the submission. Responses flow back through the engine's
// OnSubmitResponse, OnInboundMessage and OnDeliveryReport methods, driven
// by the protocol implementation's read loop.
type WireProtocol interface {
	Submit(ctx context.Context, payload SubmitPayload, record func(ctx context.Context, seq uint32) error) ([]uint32, error)
}

// Config holds correlation engine configuration
type Config struct {
	// TransportName identifies the transport in events and failures
	TransportName string `json:"transport_name"`

	// SubmitTTL bounds the sequence-number-to-message-id mapping lifetime
	SubmitTTL time.Duration `json:"submit_ttl"`
	// RemoteIDTTL bounds the remote-id-to-message-id mapping lifetime
	RemoteIDTTL time.Duration `json:"remote_id_ttl"`
	// MessageTTL bounds the cached message lifetime
	MessageTTL time.Duration `json:"message_ttl"`

	// ThrottleDelay before a throttled message is retried
	ThrottleDelay time.Duration `json:"throttle_delay"`

	// Long message handling; at most one may be set
	SendLongMessages bool `json:"send_long_messages"`
	SendMultipartSAR bool `json:"send_multipart_sar"`
	SendMultipartUDH bool `json:"send_multipart_udh"`
}

// Validate checks the engine configuration
func (c *Config) Validate() error {
	if c.TransportName == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig,
			"smpp.Config", "Validate", "transport_name must be set")
	}
	if c.SubmitTTL <= 0 || c.RemoteIDTTL <= 0 || c.MessageTTL <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig,
			"smpp.Config", "Validate", "all TTLs must be positive")
	}
	if c.ThrottleDelay <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig,
			"smpp.Config", "Validate", "throttle_delay must be positive")
	}

	strategies := 0
	for _, set := range []bool{c.SendLongMessages, c.SendMultipartSAR, c.SendMultipartUDH} {
		if set {
			strategies++
		}
	}
	if strategies > 1 {
		return errors.WrapInvalid(errors.ErrInvalidConfig,
			"smpp.Config", "Validate", "long-message strategies are mutually exclusive")
	}
	return nil
}

// Strategy returns the configured long-message strategy
func (c *Config) Strategy() LongMessageStrategy {
	switch {
	case c.SendLongMessages:
		return LongMessagePayloadField
	case c.SendMultipartSAR:
		return LongMessageSAR
	case c.SendMultipartUDH:
		return LongMessageUDH
	default:
		return LongMessageNone
	}
}

// DefaultConfig returns sensible engine defaults
func DefaultConfig(transportName string) Config {
	return Config{
		TransportName: transportName,
		SubmitTTL:     24 * time.Hour,
		RemoteIDTTL:   7 * 24 * time.Hour,
		MessageTTL:    24 * time.Hour,
		ThrottleDelay: 500 * time.Millisecond,
	}
}
