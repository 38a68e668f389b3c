package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mkravtsov/wakewatch/internal/domain/alarm"
	"github.com/mkravtsov/wakewatch/internal/logger"
)

// FireFunc executes one occurrence and returns its terminal state. The
// context is cancelled if the occurrence is cancelled mid-flight (alarm
// disabled or deleted); implementations must then return StateSkipped.
// The fire func owns occ.State for the duration of the call and advances it
// through the lock and execution phases; the scheduler does not read it
// while the occurrence is in flight.
type FireFunc func(ctx context.Context, occ *Occurrence, a alarm.Alarm) State

// Scheduler converts the reconciled alarm set into armed occurrences and
// hands them to the execution controller at fire time. It implements the
// sync client's Handler, so server pushes drive it directly.
type Scheduler struct {
	// loc is the timezone alarms are interpreted in.
	loc *time.Location
	// fire executes an occurrence at its instant.
	fire FireFunc
	// now is the clock, injectable for tests.
	now func() time.Time

	// mu protects set, entries and ctx.
	mu sync.Mutex
	// set is the local reconciled alarm view.
	set *alarm.Set
	// entries maps alarm ID to its armed occurrence.
	entries map[string]*entry
	// ctx is the lifecycle context occurrences inherit from.
	ctx context.Context
	// wg tracks in-flight executions for Stop.
	wg sync.WaitGroup
}

// entry is one armed occurrence with its timer and cancellation.
type entry struct {
	// occ is the pending occurrence.
	occ *Occurrence
	// timer triggers the firing.
	timer *time.Timer
	// cancel aborts an in-flight execution.
	cancel context.CancelFunc
	// inFlight is set once the timer has handed off to the fire func.
	inFlight bool
}

// Option configures the scheduler.
type Option func(*Scheduler)

// WithClock injects the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a scheduler for the given timezone and execution callback.
// Start must be called before the scheduler receives state.
func New(loc *time.Location, fire FireFunc, opts ...Option) *Scheduler {
	s := &Scheduler{
		loc:     loc,
		fire:    fire,
		now:     time.Now,
		set:     alarm.NewSet(),
		entries: make(map[string]*entry),
		ctx:     context.Background(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start binds the scheduler to its lifecycle context.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ctx = ctx
}

// Stop cancels every armed occurrence and waits for in-flight executions.
func (s *Scheduler) Stop() {
	s.mu.Lock()

	for id := range s.entries {
		s.disarmLocked(id)
	}

	s.mu.Unlock()

	s.wg.Wait()
}

// OnStateSync reconciles the local alarm view against a full snapshot.
// Snapshots arrive on every successful handshake, so a reconnect mid-firing
// replays alarms the agent already has; occurrences of unchanged alarms are
// left armed (or firing) exactly as the idempotent delta path does, otherwise
// a network blip during execution would cancel the running firing.
func (s *Scheduler) OnStateSync(ctx context.Context, snapshot []alarm.Alarm) {
	s.mu.Lock()
	defer s.mu.Unlock()

	incoming := make(map[string]struct{}, len(snapshot))
	for _, a := range snapshot {
		incoming[a.ID] = struct{}{}
	}

	// Alarms that vanished from the snapshot are disarmed and dropped.
	for id := range s.entries {
		if _, ok := incoming[id]; !ok {
			s.disarmLocked(id)
		}
	}

	for _, a := range s.set.Snapshot() {
		if _, ok := incoming[a.ID]; !ok {
			s.set.Remove(a.ID)
		}
	}

	for _, a := range snapshot {
		_, armed := s.entries[a.ID]
		if !s.set.Apply(a) && armed {
			continue
		}

		s.rescheduleLocked(ctx, a.ID)
	}

	logger.InfoKV(ctx, "Alarm set reconciled", "alarms", s.set.Len(), "armed", len(s.entries))
}

// OnSetAlarm applies a create-or-update delta and reschedules that alarm.
// Re-applying an identical delta leaves the armed occurrence untouched, so
// duplicate retransmits cannot cancel an in-flight firing.
func (s *Scheduler) OnSetAlarm(ctx context.Context, a alarm.Alarm) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.set.Apply(a) {
		return
	}

	s.rescheduleLocked(ctx, a.ID)
}

// OnDeleteAlarm removes the alarm and cancels its occurrence.
func (s *Scheduler) OnDeleteAlarm(ctx context.Context, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.set.Remove(id) {
		return
	}

	s.disarmLocked(id)
	logger.InfoKV(ctx, "Alarm removed", "alarm_id", id)
}

// OnAgentStatus is part of the client handler; the agent is the agent, so
// connectivity of "the agent" is only worth a debug line here.
func (s *Scheduler) OnAgentStatus(ctx context.Context, online bool) {
	logger.DebugKV(ctx, "Agent connectivity reported", "online", online)
}

// Pending returns the currently armed occurrences, for logs and tests.
func (s *Scheduler) Pending() []Occurrence {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]Occurrence, 0, len(s.entries))

	for _, e := range s.entries {
		if !e.inFlight {
			result = append(result, *e.occ)
		}
	}

	return result
}

// Alarms returns the local reconciled alarm view, for tests.
func (s *Scheduler) Alarms() []alarm.Alarm {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.set.Snapshot()
}

// rescheduleLocked recomputes the occurrence for one alarm. Caller holds mu.
func (s *Scheduler) rescheduleLocked(ctx context.Context, id string) {
	s.disarmLocked(id)

	a, ok := s.set.Get(id)
	if !ok || !a.Enabled {
		return
	}

	// Malformed alarm data skips this alarm, never crashes the scheduler.
	if err := a.Validate(); err != nil {
		logger.ErrorKV(ctx, "Cannot schedule malformed alarm", "alarm_id", id, "error", err)

		return
	}

	fireAt, ok := NextFire(a, s.now(), s.loc)
	if !ok {
		// A one-shot whose time already passed today is disabled on the
		// spot, with no occurrence.
		a.Enabled = false
		s.set.Apply(a)
		logger.InfoKV(ctx, "One-shot alarm already passed, disabling", "alarm_id", id)

		return
	}

	occ := &Occurrence{
		ID:      uuid.New(),
		AlarmID: id,
		FireAt:  fireAt,
		State:   StatePending,
	}

	occCtx, cancel := context.WithCancel(s.ctx)

	e := &entry{
		occ:    occ,
		cancel: cancel,
	}

	e.timer = time.AfterFunc(fireAt.Sub(s.now()), func() {
		s.handleFire(occCtx, id, occ.ID)
	})

	s.entries[id] = e

	logger.InfoKV(ctx, "Occurrence armed",
		"alarm_id", id, "occurrence_id", occ.ID, "fire_at", fireAt.Format(time.RFC3339))
}

// disarmLocked cancels the alarm's occurrence if any. Caller holds mu.
func (s *Scheduler) disarmLocked(id string) {
	e, ok := s.entries[id]
	if !ok {
		return
	}

	e.timer.Stop()
	e.cancel()
	delete(s.entries, id)
}

// handleFire runs when an occurrence's timer triggers. It executes the
// occurrence and applies completion semantics afterwards.
func (s *Scheduler) handleFire(ctx context.Context, alarmID string, occID uuid.UUID) {
	s.mu.Lock()

	e, ok := s.entries[alarmID]
	if !ok || e.occ.ID != occID {
		// Cancelled or replaced between timer fire and handling.
		s.mu.Unlock()

		return
	}

	e.inFlight = true
	occ := e.occ

	a, haveAlarm := s.set.Get(alarmID)

	s.wg.Add(1)
	s.mu.Unlock()

	defer s.wg.Done()

	if !haveAlarm {
		return
	}

	final := s.fire(ctx, occ, a)

	logger.InfoKV(ctx, "Occurrence finished",
		"alarm_id", alarmID, "occurrence_id", occID, "state", final)

	s.mu.Lock()
	defer s.mu.Unlock()

	// Drop the entry only if it still belongs to this occurrence; a delta
	// may have re-armed the alarm while we were firing.
	if current, ok := s.entries[alarmID]; ok && current.occ.ID == occID {
		current.cancel()
		delete(s.entries, alarmID)
	}

	// One-shot semantics: a completed firing disables the alarm. If a
	// disable raced the firing, the fire func returned StateSkipped and the
	// alarm is already disabled, so disable wins either way.
	if a.IsOneShot() && final == StateCompleted {
		if latest, ok := s.set.Get(alarmID); ok {
			latest.Enabled = false
			s.set.Apply(latest)
		}

		return
	}

	// Repeating alarms get their next occurrence.
	s.rescheduleLocked(ctx, alarmID)
}
