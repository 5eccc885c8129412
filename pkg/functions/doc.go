// Package functions holds the function registry and the types user handlers
// execute against. The registry is populated once during the host's load
// phase, sealed, and read concurrently by every invocation without locking
// thereafter.
//
// Handler implementations come from the code-generation layer; this package
// only defines the capability they must satisfy.
package functions
