// Package invoke executes function invocations. Each invocation runs in its
// own goroutine with its own cancellation scope; a failing or panicking
// invocation produces a failure response and never disturbs its neighbors or
// the session.
package invoke
