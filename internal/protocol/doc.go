// Package protocol defines the sync wire contract shared by the server and
// all clients: the {type, timestamp, data} envelope, the typed message
// catalog with its exhaustive decoder, and the reconnect/heartbeat policy
// constants and backoff state machine.
package protocol
