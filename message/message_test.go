package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praekeltfoundation/vumigo/errors"
)

func TestNewTransportMessage(t *testing.T) {
	m := NewTransportMessage("+27831234567", "12345", "hello")

	assert.NotEmpty(t, m.MessageID)
	assert.Equal(t, "+27831234567", m.From)
	assert.Equal(t, "12345", m.To)
	assert.Equal(t, "hello", m.Content)
	assert.Equal(t, DefaultEndpoint, m.RoutingEndpoint())
}

func TestRoutingEndpoint(t *testing.T) {
	m := NewTransportMessage("a", "b", "c")

	m.SetRoutingEndpoint("ep1")
	assert.Equal(t, "ep1", m.RoutingEndpoint())

	// Routing to "default" normalizes back to the empty field
	m.SetRoutingEndpoint(DefaultEndpoint)
	assert.Empty(t, m.Endpoint)
	assert.Equal(t, DefaultEndpoint, m.RoutingEndpoint())
}

func TestReply(t *testing.T) {
	m := NewTransportMessage("+27831234567", "12345", "ping")
	m.TransportName = "smpp_tx1"
	m.TransportType = "sms"

	reply := m.Reply("pong")

	assert.NotEqual(t, m.MessageID, reply.MessageID)
	assert.Equal(t, m.To, reply.From)
	assert.Equal(t, m.From, reply.To)
	assert.Equal(t, "pong", reply.Content)
	assert.Equal(t, m.MessageID, reply.InReplyTo)
	assert.Equal(t, "smpp_tx1", reply.TransportName)
	assert.Equal(t, SessionResume, reply.SessionEvent)
}

func TestMessageValidate(t *testing.T) {
	m := NewTransportMessage("a", "b", "c")
	require.NoError(t, m.Validate())

	m.To = ""
	err := m.Validate()
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestMessageEncodeDecode(t *testing.T) {
	m := NewTransportMessage("+27831234567", "12345", "hello")
	m.TransportName = "smpp_tx1"
	m.SetRoutingEndpoint("ep1")
	m.HelperMeta = map[string]any{"operator": "mno-one"}

	data, err := m.Encode()
	require.NoError(t, err)

	decoded, err := DecodeMessage(data)
	require.NoError(t, err)
	assert.Equal(t, m.MessageID, decoded.MessageID)
	assert.Equal(t, "ep1", decoded.RoutingEndpoint())
	assert.Equal(t, "mno-one", decoded.HelperMeta["operator"])

	_, err = DecodeMessage([]byte("{not json"))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestEventConstructors(t *testing.T) {
	ack := NewAck("msg-1", "remote-9")
	assert.Equal(t, EventAck, ack.EventType)
	assert.Equal(t, "msg-1", ack.UserMessageID)
	assert.Equal(t, "remote-9", ack.SentMessageID)
	require.NoError(t, ack.Validate())

	nack := NewNack("msg-1", "window full")
	assert.Equal(t, EventNack, nack.EventType)
	assert.Equal(t, "window full", nack.Reason)

	dr := NewDeliveryReport("msg-1", DeliveryStatusDelivered)
	assert.Equal(t, EventDeliveryReport, dr.EventType)
	assert.Equal(t, DeliveryStatusDelivered, dr.DeliveryStatus)
}

func TestEventValidate(t *testing.T) {
	e := NewAck("", "remote-9")
	err := e.Validate()
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestEventEncodeDecode(t *testing.T) {
	e := NewNack("msg-1", "throttled")
	e.TransportName = "smpp_tx1"

	data, err := e.Encode()
	require.NoError(t, err)

	decoded, err := DecodeEvent(data)
	require.NoError(t, err)
	assert.Equal(t, e.EventID, decoded.EventID)
	assert.Equal(t, EventNack, decoded.EventType)
	assert.Equal(t, "throttled", decoded.Reason)
}
