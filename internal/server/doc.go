// Package server implements the real-time collaboration server: authenticated
// WebSocket connections, resource-bound rooms, presence, and the message
// router that relays collaboration events between room participants.
//
// The implementation is split into the connection and room registries, the
// per-connection client pumps, the broadcast engine, and the HTTP surface.
package server
