// Package alarm holds the core alarm model: the Alarm definition with its
// validation invariants and the identity-keyed Set used for state
// reconciliation on both server and clients.
package alarm
