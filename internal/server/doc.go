// Package server implements the HTTP and WebSocket transport of the chat relay.
//
// The implementation is organized into specialized files for configuration, hub
// management, clients, the wire envelope, routing, and HTTP handlers. The hub
// is the broker.Transport: it serializes connection lifecycle and inbound
// client events into the session broker and fans its deliveries out to the
// connected clients.
package server
