// Package alarms persists the alarm set to a JSON file and exposes the
// narrow Store interface the sync core consumes: snapshot reads plus a
// mutation subscription the reconciler uses to broadcast deltas.
package alarms
