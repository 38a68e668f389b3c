// Package execlock guarantees at most one physical alarm action in flight.
// The Lock is the sole arbiter of execution exclusivity with an owner
// identity and a waiter queue ordered by fire time; the Controller drives an
// occurrence through acquire-fire-release with a bounded retry policy on
// contention.
package execlock
