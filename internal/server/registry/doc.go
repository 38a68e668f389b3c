// Package registry tracks every live sync connection, enforces the
// single-agent policy, and runs the heartbeat sweep that reaps silently dead
// peers. Connection state is mutated only through Registry methods.
package registry
