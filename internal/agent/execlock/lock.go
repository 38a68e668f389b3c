package execlock

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Errors returned by the lock.
var (
	// ErrLockHeld is returned when the lock cannot be acquired right now,
	// either because another occurrence holds it or because an earlier
	// waiter has precedence.
	ErrLockHeld = errors.New("execution lock is held")
	// ErrNotHolder is returned when releasing a lock the caller does not hold.
	ErrNotHolder = errors.New("caller does not hold the execution lock")
)

// Owner identifies one occurrence contending for the lock. Precedence among
// waiters is first-come-first-served by FireAt, ties broken by alarm ID.
type Owner struct {
	// OccurrenceID is the contending occurrence.
	OccurrenceID uuid.UUID
	// AlarmID is the occurrence's alarm, the precedence tie-breaker.
	AlarmID string
	// FireAt is the occurrence's scheduled instant, the primary precedence key.
	FireAt time.Time
}

// precedes reports whether o comes before other in the contention order.
func (o Owner) precedes(other Owner) bool {
	if !o.FireAt.Equal(other.FireAt) {
		return o.FireAt.Before(other.FireAt)
	}

	return o.AlarmID < other.AlarmID
}

// Lock is the sole arbiter of physical alarm execution. At most one owner
// holds it at a time; acquisition is atomic even under concurrent timer
// firings. Failed acquisitions register the caller as a waiter so later
// retries serialize in contention order.
type Lock struct {
	// mu guards holder and waiters.
	mu sync.Mutex
	// holder is the current owner, nil when free.
	holder *Owner
	// acquiredAt records when the current holder took the lock.
	acquiredAt time.Time
	// waiters tracks occurrences that failed to acquire and will retry.
	waiters map[uuid.UUID]Owner
}

// NewLock creates a free execution lock.
func NewLock() *Lock {
	return &Lock{
		waiters: make(map[uuid.UUID]Owner),
	}
}

// TryAcquire attempts to take the lock for the given owner without blocking.
// It fails with ErrLockHeld when the lock is held, or when the lock is free
// but an earlier registered waiter has precedence; in both cases the owner
// stays registered as a waiter for its next retry.
func (l *Lock) TryAcquire(o Owner) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.holder != nil {
		l.waiters[o.OccurrenceID] = o

		return fmt.Errorf("%w by alarm %q", ErrLockHeld, l.holder.AlarmID)
	}

	for id, w := range l.waiters {
		if id == o.OccurrenceID {
			continue
		}

		if w.precedes(o) {
			l.waiters[o.OccurrenceID] = o

			return fmt.Errorf("%w: waiting behind alarm %q", ErrLockHeld, w.AlarmID)
		}
	}

	delete(l.waiters, o.OccurrenceID)

	l.holder = &o
	l.acquiredAt = time.Now()

	return nil
}

// Release frees the lock. Only the current holder may release it.
func (l *Lock) Release(o Owner) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.holder == nil || l.holder.OccurrenceID != o.OccurrenceID {
		return ErrNotHolder
	}

	l.holder = nil
	l.acquiredAt = time.Time{}

	return nil
}

// Abandon removes the owner from the waiter queue without acquiring. Called
// when an occurrence is cancelled or gives up after exhausting retries.
func (l *Lock) Abandon(o Owner) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.waiters, o.OccurrenceID)
}

// Holder returns the current owner, if any.
func (l *Lock) Holder() (Owner, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.holder == nil {
		return Owner{}, false
	}

	return *l.holder, true
}
