package alarm

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// Alarm is a time-of-day, optionally repeating alarm definition.
// Weekday numbering follows the wire contract: 0 is Monday, 6 is Sunday.
type Alarm struct {
	// ID uniquely identifies the alarm across the whole system.
	ID string `json:"id"`
	// Label is display text with no semantic effect.
	Label string `json:"label"`
	// Hour is the local hour of day the alarm fires, 0-23.
	Hour int `json:"hour"`
	// Minute is the local minute the alarm fires, 0-59.
	Minute int `json:"minute"`
	// RepeatDays is the set of weekdays the alarm repeats on.
	// Empty means one-shot: fire once, then disable.
	RepeatDays []int `json:"repeat_days"`
	// Enabled indicates whether the alarm should be scheduled at all.
	Enabled bool `json:"enabled"`
}

var (
	// ErrIDRequired is returned when an alarm has no identity.
	ErrIDRequired = errors.New("alarm id must be provided")
	// ErrBadTime is returned when hour or minute are out of range.
	ErrBadTime = errors.New("alarm time out of range")
	// ErrBadRepeatDays is returned when repeat days contain duplicates or
	// values outside 0-6.
	ErrBadRepeatDays = errors.New("repeat days must be unique weekdays 0-6")
)

// Validate checks the alarm invariants.
func (a *Alarm) Validate() error {
	if a.ID == "" {
		return ErrIDRequired
	}

	if a.Hour < 0 || a.Hour > 23 || a.Minute < 0 || a.Minute > 59 {
		return fmt.Errorf("%w: %02d:%02d", ErrBadTime, a.Hour, a.Minute)
	}

	seen := make(map[int]struct{}, len(a.RepeatDays))

	for _, day := range a.RepeatDays {
		if day < 0 || day > 6 {
			return fmt.Errorf("%w: got %d", ErrBadRepeatDays, day)
		}

		if _, dup := seen[day]; dup {
			return fmt.Errorf("%w: duplicate %d", ErrBadRepeatDays, day)
		}

		seen[day] = struct{}{}
	}

	return nil
}

// Clone returns a deep copy of the alarm.
func (a *Alarm) Clone() Alarm {
	cloned := *a
	cloned.RepeatDays = slices.Clone(a.RepeatDays)

	return cloned
}

// IsOneShot reports whether the alarm fires once and then disables itself.
func (a *Alarm) IsOneShot() bool {
	return len(a.RepeatDays) == 0
}

// RepeatsOn reports whether the alarm repeats on the given Go weekday.
func (a *Alarm) RepeatsOn(day time.Weekday) bool {
	for _, d := range a.RepeatDays {
		if WeekdayOf(d) == day {
			return true
		}
	}

	return false
}

// WeekdayOf converts a wire weekday (0=Monday) to a Go time.Weekday.
func WeekdayOf(day int) time.Weekday {
	return time.Weekday((day + 1) % 7)
}
