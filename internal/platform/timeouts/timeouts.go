// Package timeouts defines shared timeout constants used across the service.
// Centralizing these values keeps the durations discoverable and prevents
// drift between the transport and lifecycle boundaries.
package timeouts

import "time"

// GRPCDial caps the wait time when dialing the gRPC health endpoint.
const GRPCDial = 2 * time.Second

// ReadHeader limits how long the HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long the HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second

// SessionIdle is the default inactivity window before a session is evicted.
const SessionIdle = 2 * time.Hour

// EmptySessionGrace is how long a session with zero live connections is kept
// before eviction, so a briefly disconnected group can rejoin.
const EmptySessionGrace = 10 * time.Minute
