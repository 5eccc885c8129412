// Package durable executes orchestrator functions by deterministic replay.
//
// An orchestrator never runs to completion in one pass. Each invocation
// carries the recorded history of everything that already happened; the
// engine re-runs the orchestrator body from the top, feeding recorded
// results back into awaits, until the code either finishes or blocks on
// work the history has no answer for. Blocking produces pending actions
// for the host to execute; a later invocation replays with the extended
// history.
//
// Correctness rests on one rule: orchestrator code must be deterministic.
// The engine detects violations by matching each scheduling call against
// the recorded scheduling events in order; any mismatch in kind or name is
// a divergence and fails the orchestration terminally.
package durable
