// Package session owns the client<->producer session lifecycle.
//
// Ownership boundary:
// - registration handshake state and retry/backoff
// - keepalive emission and liveness tracking
// - disconnect, local or remote
//
// The Machine performs no socket I/O. It consumes parsed message kinds
// and clock instants, and returns the messages it wants sent as intents
// the transport adapter flushes to the wire.
package session
