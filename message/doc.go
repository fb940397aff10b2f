// Package message defines the envelopes that flow through the platform:
// TransportMessage for user messages moving between transports and
// applications, and TransportEvent for the asynchronous acknowledgement
// stream (ack, nack, delivery report) flowing back to message originators.
//
// Envelopes are serialized as JSON on the bus and in the store. Every
// message carries a routing endpoint (defaulting to "default") used by the
// dispatcher for sub-routing within a connector.
package message
