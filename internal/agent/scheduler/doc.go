// Package scheduler turns the reconciled alarm set into concrete
// occurrences: timezone-aware next-fire computation with weekday repeat
// rules, per-occurrence timers, one-shot disable semantics and cancellation
// of in-flight firings when an alarm is disabled or deleted.
package scheduler
