// Package session owns the worker's connection to the host: the handshake,
// the serialized writer, the read loop, and the lifecycle state machine.
// Exactly one session runs per worker process.
package session
