// Package timeouts defines shared timeout constants used across services.
// Centralizing these values prevents drift between service boundaries and
// makes the durations discoverable.
package timeouts

import "time"

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long an HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second

// Persist caps a single room state write.
const Persist = 5 * time.Second

// DirectoryReport caps one occupancy report to the room directory.
const DirectoryReport = 2 * time.Second

// HealthCheck caps one gRPC health probe.
const HealthCheck = time.Second
