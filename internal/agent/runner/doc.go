// Package runner performs the physical alarm action: it launches the
// configured alarm script with a duration cap and detects a conflicting
// already-running alarm process through the process table.
package runner
