// Package client implements the client side of the sync protocol: handshake,
// heartbeat, dispatch of server-pushed state, and bounded-backoff
// reconnection. The agent uses it directly; any other Go observer could too.
package client
