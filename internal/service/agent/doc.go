// Package agent wires the wakewatch-agent process: sync client, local
// scheduler, execution lock controller and the alarm runner.
package agent
