// Package rooms implements per-room real-time coordination over WebSockets.
//
// Each room is owned by one coordinator that serializes member identification,
// host election, and the shared activity state machine, persists the room after
// every change, and fans the resulting events out to connected sessions.
package rooms
