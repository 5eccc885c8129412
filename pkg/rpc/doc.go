// Package rpc defines the message vocabulary and framing codec for the
// persistent channel between a function host and this worker.
//
// All traffic flows over a single duplex connection as newline-delimited
// JSON envelopes. Every envelope carries a message type discriminant and an
// opaque content payload; binding data inside payloads is expressed as
// TypedValue, a tagged union that round-trips through the codec without
// losing its discriminant.
//
// The package is a leaf: it has no knowledge of registries, executors, or
// sessions, only of what travels on the wire.
package rpc
