// Package dispatch routes inbound host messages to the registry, the
// executor, and the worker's control operations. The routing table is fixed;
// unknown message types are logged and ignored so newer hosts can talk to
// older workers.
package dispatch
