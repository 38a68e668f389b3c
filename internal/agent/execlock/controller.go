package execlock

import (
	"context"
	"time"

	"github.com/mkravtsov/wakewatch/internal/agent/scheduler"
	"github.com/mkravtsov/wakewatch/internal/domain/alarm"
	"github.com/mkravtsov/wakewatch/internal/logger"
)

// Retry policy defaults for lock contention.
const (
	// DefaultRetryDelay is how long a contending occurrence waits before the
	// next acquisition attempt.
	DefaultRetryDelay = 5 * time.Minute
	// DefaultMaxAttempts is the total number of acquisition attempts,
	// including the first.
	DefaultMaxAttempts = 3
)

// Executor performs the physical alarm action for one occurrence. It must be
// safe to call at most once per occurrence.
type Executor interface {
	Fire(ctx context.Context, a alarm.Alarm) error
}

// Controller drives one occurrence through the execution lock: acquire,
// fire, release. Contention is retried on a fixed delay with a bounded
// attempt count; exhaustion fails the occurrence loudly instead of dropping
// it. Its Fire method satisfies the scheduler's FireFunc.
type Controller struct {
	// lock serializes physical executions.
	lock *Lock
	// exec performs the actual alarm action.
	exec Executor
	// retryDelay is the pause between acquisition attempts.
	retryDelay time.Duration
	// maxAttempts bounds acquisition attempts, including the first.
	maxAttempts int
	// retryable classifies executor errors that count as contention, such
	// as a conflicting process holding the physical device. Nil means every
	// executor error is terminal.
	retryable func(error) bool
}

// ControllerOption configures the controller.
type ControllerOption func(*Controller)

// WithRetryDelay overrides the contention retry delay.
func WithRetryDelay(d time.Duration) ControllerOption {
	return func(c *Controller) {
		if d > 0 {
			c.retryDelay = d
		}
	}
}

// WithMaxAttempts overrides the total acquisition attempt count.
func WithMaxAttempts(n int) ControllerOption {
	return func(c *Controller) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithRetryableErrors installs a classifier for executor errors that should
// be retried under the contention policy instead of failing the occurrence.
func WithRetryableErrors(f func(error) bool) ControllerOption {
	return func(c *Controller) {
		c.retryable = f
	}
}

// NewController creates a controller around the given lock and executor.
func NewController(lock *Lock, exec Executor, opts ...ControllerOption) *Controller {
	c := &Controller{
		lock:        lock,
		exec:        exec,
		retryDelay:  DefaultRetryDelay,
		maxAttempts: DefaultMaxAttempts,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Fire executes one occurrence under the lock and returns its terminal
// state, advancing occ.State through Locked and Firing along the way.
// Cancellation at any point, including mid-wait, ends the occurrence as
// Skipped.
func (c *Controller) Fire(ctx context.Context, occ *scheduler.Occurrence, a alarm.Alarm) scheduler.State {
	owner := Owner{
		OccurrenceID: occ.ID,
		AlarmID:      occ.AlarmID,
		FireAt:       occ.FireAt,
	}

	defer c.lock.Abandon(owner)

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if ctx.Err() != nil {
			occ.State = scheduler.StateSkipped

			return occ.State
		}

		err := c.lock.TryAcquire(owner)
		if err == nil {
			occ.State = scheduler.StateLocked

			state, retry := c.execute(ctx, owner, occ, a)
			if !retry {
				occ.State = state

				return state
			}

			// Back to waiting for the next attempt.
			occ.State = scheduler.StatePending
		} else {
			logger.WarnKV(ctx, "Execution lock contended",
				"alarm_id", occ.AlarmID, "occurrence_id", occ.ID,
				"attempt", attempt, "max_attempts", c.maxAttempts, "error", err)
		}

		if attempt == c.maxAttempts {
			break
		}

		if !c.wait(ctx) {
			occ.State = scheduler.StateSkipped

			return occ.State
		}
	}

	occ.State = scheduler.StateFailed

	logger.ErrorKV(ctx, "Execution attempts exhausted, occurrence failed",
		"alarm_id", occ.AlarmID, "occurrence_id", occ.ID, "attempts", c.maxAttempts)

	return occ.State
}

// execute runs the executor while holding the lock. The second return value
// is true when the failure counts as contention and the caller should retry.
func (c *Controller) execute(ctx context.Context, owner Owner, occ *scheduler.Occurrence, a alarm.Alarm) (scheduler.State, bool) {
	occ.State = scheduler.StateFiring

	logger.InfoKV(ctx, "Occurrence firing", "alarm_id", owner.AlarmID, "occurrence_id", owner.OccurrenceID)

	err := c.exec.Fire(ctx, a)

	if releaseErr := c.lock.Release(owner); releaseErr != nil {
		logger.ErrorKV(ctx, "Execution lock release failed",
			"alarm_id", owner.AlarmID, "error", releaseErr)
	}

	if err == nil {
		return scheduler.StateCompleted, false
	}

	if ctx.Err() != nil {
		return scheduler.StateSkipped, false
	}

	if c.retryable != nil && c.retryable(err) {
		logger.WarnKV(ctx, "Alarm device busy, will retry",
			"alarm_id", owner.AlarmID, "occurrence_id", owner.OccurrenceID, "error", err)

		return scheduler.StateFailed, true
	}

	logger.ErrorKV(ctx, "Alarm execution failed",
		"alarm_id", owner.AlarmID, "occurrence_id", owner.OccurrenceID, "error", err)

	return scheduler.StateFailed, false
}

// wait sleeps for the retry delay. It returns false if the context was
// cancelled first.
func (c *Controller) wait(ctx context.Context) bool {
	t := time.NewTimer(c.retryDelay)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
