// Package server hosts the rooms HTTP and WebSocket surface.
//
// A roomHub keeps one coordinator per resident room. Connections attach a
// session to the coordinator, which validates each message, applies it to a
// clone of the room state, persists the clone, and only then commits and
// broadcasts. Idle rooms are reset by a per-room reaper timer.
package server
