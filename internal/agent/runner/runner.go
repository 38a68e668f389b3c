package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/mitchellh/go-ps"

	"github.com/mkravtsov/wakewatch/internal/domain/alarm"
	"github.com/mkravtsov/wakewatch/internal/logger"
)

// Errors reported by the executor.
var (
	// ErrDeviceBusy indicates a conflicting alarm process already owns the
	// playback device.
	ErrDeviceBusy = errors.New("alarm device is busy")
	// ErrDeviceError indicates the alarm action failed unrecoverably.
	ErrDeviceError = errors.New("alarm device error")
)

// DefaultMaxDuration caps a single alarm script run.
const DefaultMaxDuration = 30 * time.Minute

// Executor performs the physical alarm action for one occurrence.
type Executor interface {
	Fire(ctx context.Context, a alarm.Alarm) error
}

// ScriptExecutor runs a configured alarm script per occurrence. Before
// starting it scans the process table for an already-running instance of the
// script, which counts as a busy device.
type ScriptExecutor struct {
	// scriptPath is the alarm script to run.
	scriptPath string
	// maxDuration caps a single run.
	maxDuration time.Duration
	// processes lists the process table, injectable for tests.
	processes func() ([]ps.Process, error)
}

// ScriptOption configures the executor.
type ScriptOption func(*ScriptExecutor)

// WithMaxDuration overrides the per-run duration cap.
func WithMaxDuration(d time.Duration) ScriptOption {
	return func(e *ScriptExecutor) {
		if d > 0 {
			e.maxDuration = d
		}
	}
}

// WithProcessLister replaces the process table source, used by tests.
func WithProcessLister(f func() ([]ps.Process, error)) ScriptOption {
	return func(e *ScriptExecutor) {
		if f != nil {
			e.processes = f
		}
	}
}

// NewScriptExecutor creates an executor for the given alarm script.
func NewScriptExecutor(scriptPath string, opts ...ScriptOption) *ScriptExecutor {
	e := &ScriptExecutor{
		scriptPath:  scriptPath,
		maxDuration: DefaultMaxDuration,
		processes:   ps.Processes,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Fire runs the alarm script for one occurrence. A missing script or a
// non-zero exit maps to ErrDeviceError; an already-running script instance
// maps to ErrDeviceBusy. Safe to call at most once per occurrence.
func (e *ScriptExecutor) Fire(ctx context.Context, a alarm.Alarm) error {
	if _, err := os.Stat(e.scriptPath); err != nil {
		return fmt.Errorf("%w: alarm script %q: %s", ErrDeviceError, e.scriptPath, err)
	}

	busy, err := e.Busy()
	if err != nil {
		return fmt.Errorf("%w: reading process table: %s", ErrDeviceError, err)
	}

	if busy {
		return fmt.Errorf("%w: %q is already running", ErrDeviceBusy, filepath.Base(e.scriptPath))
	}

	runCtx, cancel := context.WithTimeout(ctx, e.maxDuration)
	defer cancel()

	cmd := exec.CommandContext(runCtx, e.scriptPath, a.ID, a.Label)

	logger.InfoKV(ctx, "Running alarm script",
		"script", e.scriptPath, "alarm_id", a.ID, "max_duration", e.maxDuration)

	output, err := cmd.CombinedOutput()
	if err != nil {
		if runCtx.Err() != nil && ctx.Err() == nil {
			return fmt.Errorf("%w: script exceeded %s", ErrDeviceError, e.maxDuration)
		}

		return fmt.Errorf("%w: %s: %s", ErrDeviceError, err, string(output))
	}

	return nil
}

// Busy reports whether another instance of the alarm script is currently in
// the process table.
func (e *ScriptExecutor) Busy() (bool, error) {
	processList, err := e.processes()
	if err != nil {
		return false, err
	}

	name := filepath.Base(e.scriptPath)
	self := os.Getpid()

	for _, process := range processList {
		if process.Pid() == self {
			continue
		}

		if process.Executable() == name {
			return true, nil
		}
	}

	return false, nil
}
