// Package server wires the wakewatch-server process: configuration, alarm
// store, session registry, sync hub and the HTTP surface, with graceful
// shutdown on context cancellation.
package server
