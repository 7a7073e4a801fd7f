// Package server runs the chat relay's HTTP and WebSocket surface.
//
// A single Hub goroutine owns the realtime router; clients feed it decoded
// events from their read pumps and drain outbound frames in their write
// pumps. Configuration, origin checks and the JSON API live alongside.
package server
