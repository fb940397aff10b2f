// Package dispatcher moves messages between transports and applications.
//
// A Dispatcher owns a fixed set of named connectors split into two
// categories: receive-inbound connectors face transports (user messages
// and events arrive on them), receive-outbound connectors face
// applications (replies arrive on them). The routing policy itself lives
// behind the Router interface; the Dispatcher wires the connectors to it
// and guarantees per-message error isolation: a routing failure on one
// message is sent to the errback path and dropped, without disturbing
// other connectors' traffic.
//
// RoutingTableDispatcher is the standard policy: a static table mapping
// (connector, endpoint) pairs to (connector, endpoint) targets, with a
// "default" endpoint fallback per connector.
package dispatcher
