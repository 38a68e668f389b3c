package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mkravtsov/wakewatch/internal/domain/alarm"
)

// fireRecorder is a FireFunc capturing executions.
type fireRecorder struct {
	// mu protects fired.
	mu sync.Mutex
	// fired collects every executed occurrence.
	fired []Occurrence
	// result is what the fire func returns.
	result State
	// done signals each completed execution.
	done chan struct{}
	// block, when set, makes the fire func wait for ctx cancellation and
	// return StateSkipped, modeling a disable racing an in-flight firing.
	block bool
	// onFire, when set, runs before the result is returned. Tests use it
	// to advance the injected clock past the fire instant.
	onFire func()
}

func newFireRecorder(result State) *fireRecorder {
	return &fireRecorder{
		result: result,
		done:   make(chan struct{}, 16),
	}
}

func (f *fireRecorder) fire(ctx context.Context, occ *Occurrence, _ alarm.Alarm) State {
	f.mu.Lock()
	f.fired = append(f.fired, *occ)
	f.mu.Unlock()

	defer func() { f.done <- struct{}{} }()

	if f.block {
		<-ctx.Done()

		return StateSkipped
	}

	if f.onFire != nil {
		f.onFire()
	}

	return f.result
}

func (f *fireRecorder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.fired)
}

// nearFire returns a clock pinned shortly before the given alarm time today,
// so the armed timer triggers within the test.
func nearFire(hour, minute int) func() time.Time {
	fireAt := time.Date(2026, time.March, 7, hour, minute, 0, 0, time.UTC)
	now := fireAt.Add(-30 * time.Millisecond)

	return func() time.Time { return now }
}

// TestOneShotFiresAndDisables verifies a one-shot alarm executes once and is
// disabled after completion.
func TestOneShotFiresAndDisables(t *testing.T) {
	t.Parallel()

	recorder := newFireRecorder(StateCompleted)
	s := New(time.UTC, recorder.fire, WithClock(nearFire(6, 30)))
	s.Start(context.Background())

	defer s.Stop()

	s.OnStateSync(context.Background(), []alarm.Alarm{
		{ID: "a1", Hour: 6, Minute: 30, Enabled: true},
	})
	require.Len(t, s.Pending(), 1)

	select {
	case <-recorder.done:
	case <-time.After(5 * time.Second):
		t.Fatal("occurrence never fired")
	}

	require.Eventually(t, func() bool {
		alarms := s.Alarms()

		return len(alarms) == 1 && !alarms[0].Enabled
	}, time.Second, 5*time.Millisecond)

	require.Equal(t, 1, recorder.count())
	require.Empty(t, s.Pending())
}

// TestRepeatingAlarmStaysEnabled verifies firing does not change enabled for
// repeating alarms and the next occurrence is re-armed.
func TestRepeatingAlarmStaysEnabled(t *testing.T) {
	t.Parallel()

	fireAt := time.Date(2026, time.March, 7, 7, 0, 0, 0, time.UTC)

	var clockMu sync.Mutex

	now := fireAt.Add(-30 * time.Millisecond)

	recorder := newFireRecorder(StateCompleted)
	recorder.onFire = func() {
		// Move the clock past the fire instant so the reschedule picks
		// tomorrow, not today again.
		clockMu.Lock()
		now = fireAt.Add(time.Second)
		clockMu.Unlock()
	}

	s := New(time.UTC, recorder.fire, WithClock(func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()

		return now
	}))
	s.Start(context.Background())

	defer s.Stop()

	s.OnStateSync(context.Background(), []alarm.Alarm{
		{ID: "a1", Hour: 7, Minute: 0, RepeatDays: []int{0, 1, 2, 3, 4, 5, 6}, Enabled: true},
	})

	select {
	case <-recorder.done:
	case <-time.After(5 * time.Second):
		t.Fatal("occurrence never fired")
	}

	require.Eventually(t, func() bool {
		return len(s.Pending()) == 1
	}, time.Second, 5*time.Millisecond)

	alarms := s.Alarms()
	require.Len(t, alarms, 1)
	require.True(t, alarms[0].Enabled)

	// The re-armed occurrence targets the next day.
	next := s.Pending()[0]
	require.Equal(t, time.Date(2026, time.March, 8, 7, 0, 0, 0, time.UTC), next.FireAt)
}

// TestOneShotAlreadyPassedIsDisabledImmediately covers the create-at-06:45
// scenario: no occurrence, alarm disabled on the spot.
func TestOneShotAlreadyPassedIsDisabledImmediately(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, time.March, 7, 6, 45, 0, 0, time.UTC)

	recorder := newFireRecorder(StateCompleted)
	s := New(time.UTC, recorder.fire, WithClock(func() time.Time { return now }))
	s.Start(context.Background())

	defer s.Stop()

	s.OnSetAlarm(context.Background(), alarm.Alarm{ID: "a1", Hour: 6, Minute: 30, Enabled: true})

	require.Empty(t, s.Pending())

	alarms := s.Alarms()
	require.Len(t, alarms, 1)
	require.False(t, alarms[0].Enabled)
	require.Equal(t, 0, recorder.count())
}

// TestDisableCancelsPendingOccurrence verifies a disable delta disarms the
// timer and a re-enable arms a fresh one.
func TestDisableCancelsPendingOccurrence(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, time.March, 7, 6, 0, 0, 0, time.UTC)

	recorder := newFireRecorder(StateCompleted)
	s := New(time.UTC, recorder.fire, WithClock(func() time.Time { return now }))
	s.Start(context.Background())

	defer s.Stop()

	a := alarm.Alarm{ID: "a1", Hour: 23, Minute: 0, RepeatDays: []int{5}, Enabled: true}
	s.OnSetAlarm(context.Background(), a)
	require.Len(t, s.Pending(), 1)

	disabled := a
	disabled.Enabled = false
	s.OnSetAlarm(context.Background(), disabled)
	require.Empty(t, s.Pending())

	s.OnSetAlarm(context.Background(), a)
	require.Len(t, s.Pending(), 1)
}

// TestDeleteCancelsPendingOccurrence verifies a delete delta disarms the timer.
func TestDeleteCancelsPendingOccurrence(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, time.March, 7, 6, 0, 0, 0, time.UTC)

	recorder := newFireRecorder(StateCompleted)
	s := New(time.UTC, recorder.fire, WithClock(func() time.Time { return now }))
	s.Start(context.Background())

	defer s.Stop()

	s.OnSetAlarm(context.Background(), alarm.Alarm{
		ID: "a1", Hour: 23, RepeatDays: []int{5}, Enabled: true,
	})
	require.Len(t, s.Pending(), 1)

	s.OnDeleteAlarm(context.Background(), "a1")
	require.Empty(t, s.Pending())
	require.Empty(t, s.Alarms())
}

// TestDisableWinsAgainstInFlightFiring models the race: the alarm is
// disabled while the execution is running, so the occurrence ends Skipped
// and no completion side effects apply.
func TestDisableWinsAgainstInFlightFiring(t *testing.T) {
	t.Parallel()

	recorder := newFireRecorder(StateCompleted)
	recorder.block = true

	s := New(time.UTC, recorder.fire, WithClock(nearFire(6, 30)))
	s.Start(context.Background())

	defer s.Stop()

	a := alarm.Alarm{ID: "a1", Hour: 6, Minute: 30, RepeatDays: []int{5}, Enabled: true}
	s.OnSetAlarm(context.Background(), a)

	// Wait until the execution is in flight.
	require.Eventually(t, recorder.inFlight, 5*time.Second, time.Millisecond)

	// Disable mid-flight: the fire context is cancelled, the fire func
	// returns Skipped.
	disabled := a
	disabled.Enabled = false
	s.OnSetAlarm(context.Background(), disabled)

	select {
	case <-recorder.done:
	case <-time.After(5 * time.Second):
		t.Fatal("in-flight execution never unblocked")
	}

	require.Empty(t, s.Pending())

	alarms := s.Alarms()
	require.Len(t, alarms, 1)
	require.False(t, alarms[0].Enabled)
}

// TestStateSyncKeepsInFlightFiring covers the reconnect path: a full
// snapshot replaying an unchanged alarm must not cancel its running
// execution.
func TestStateSyncKeepsInFlightFiring(t *testing.T) {
	t.Parallel()

	var (
		started = make(chan struct{})
		release = make(chan struct{})
		result  = make(chan State, 1)
	)

	fireAt := time.Date(2026, time.March, 7, 6, 30, 0, 0, time.UTC)

	var clockMu sync.Mutex

	now := fireAt.Add(-30 * time.Millisecond)

	fire := func(ctx context.Context, _ *Occurrence, _ alarm.Alarm) State {
		close(started)
		<-release

		// Move the clock past the fire instant so the post-fire reschedule
		// targets next week instead of refiring today.
		clockMu.Lock()
		now = fireAt.Add(time.Second)
		clockMu.Unlock()

		if ctx.Err() != nil {
			result <- StateSkipped

			return StateSkipped
		}

		result <- StateCompleted

		return StateCompleted
	}

	s := New(time.UTC, fire, WithClock(func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()

		return now
	}))
	s.Start(context.Background())

	defer s.Stop()

	snapshot := []alarm.Alarm{
		{ID: "a1", Hour: 6, Minute: 30, RepeatDays: []int{5}, Enabled: true},
	}
	s.OnStateSync(context.Background(), snapshot)

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("occurrence never fired")
	}

	// A reconnect delivers the identical snapshot while the firing runs.
	s.OnStateSync(context.Background(), snapshot)

	close(release)

	select {
	case state := <-result:
		require.Equal(t, StateCompleted, state)
	case <-time.After(5 * time.Second):
		t.Fatal("in-flight execution never finished")
	}
}

// TestStateSyncKeepsUnchangedPendingOccurrence verifies re-syncing an
// unchanged alarm leaves its armed occurrence in place, while a changed
// alarm is re-armed fresh.
func TestStateSyncKeepsUnchangedPendingOccurrence(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, time.March, 7, 6, 0, 0, 0, time.UTC)

	recorder := newFireRecorder(StateCompleted)
	s := New(time.UTC, recorder.fire, WithClock(func() time.Time { return now }))
	s.Start(context.Background())

	defer s.Stop()

	snapshot := []alarm.Alarm{
		{ID: "a1", Hour: 23, Minute: 0, RepeatDays: []int{5}, Enabled: true},
	}
	s.OnStateSync(context.Background(), snapshot)
	require.Len(t, s.Pending(), 1)

	armed := s.Pending()[0]

	s.OnStateSync(context.Background(), snapshot)
	require.Len(t, s.Pending(), 1)
	require.Equal(t, armed.ID, s.Pending()[0].ID)

	// An actual edit recomputes the occurrence.
	snapshot[0].Hour = 22
	s.OnStateSync(context.Background(), snapshot)
	require.Len(t, s.Pending(), 1)

	rearmed := s.Pending()[0]
	require.NotEqual(t, armed.ID, rearmed.ID)
	require.Equal(t, time.Date(2026, time.March, 7, 22, 0, 0, 0, time.UTC), rearmed.FireAt)
}

// TestMalformedAlarmIsSkipped ensures bad alarm data cannot crash or arm the
// scheduler.
func TestMalformedAlarmIsSkipped(t *testing.T) {
	t.Parallel()

	recorder := newFireRecorder(StateCompleted)
	s := New(time.UTC, recorder.fire)
	s.Start(context.Background())

	defer s.Stop()

	s.OnStateSync(context.Background(), []alarm.Alarm{
		{ID: "bad", Hour: 99, Enabled: true},
		{ID: "good", Hour: 23, Minute: 59, RepeatDays: []int{0, 1, 2, 3, 4, 5, 6}, Enabled: true},
	})

	require.Len(t, s.Pending(), 1)
	require.Equal(t, "good", s.Pending()[0].AlarmID)
}

// inFlight reports whether at least one execution has started.
func (f *fireRecorder) inFlight() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.fired) > 0
}
