// Package metrics provides operational metrics collection.
//
// Room coordinators record into a Rooms collector which is exposed in
// Prometheus format at /metrics:
//
//   - Usage: live sessions, resident rooms, inbound messages by type
//   - Errors: error frames by code
//   - Lifecycle: promotions and idle reaps
//   - Latency: room state persistence duration
package metrics
