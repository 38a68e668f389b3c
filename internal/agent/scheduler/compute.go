package scheduler

import (
	"time"

	"github.com/mkravtsov/wakewatch/internal/domain/alarm"
)

// maxLookahead bounds the day-by-day walk: any repeating alarm fires within
// the next seven days.
const maxLookahead = 7

// NextFire computes the next firing instant for the alarm in the given
// timezone, strictly after now. For a one-shot alarm (no repeat days) only
// the current calendar day qualifies; a one-shot whose time has already
// passed returns ok=false, which callers treat as "disable immediately".
func NextFire(a alarm.Alarm, now time.Time, loc *time.Location) (time.Time, bool) {
	now = now.In(loc)

	if a.IsOneShot() {
		candidate := atTimeOfDay(now, a.Hour, a.Minute, loc)
		if candidate.After(now) {
			return candidate, true
		}

		return time.Time{}, false
	}

	for offset := 0; offset <= maxLookahead; offset++ {
		day := now.AddDate(0, 0, offset)

		candidate := atTimeOfDay(day, a.Hour, a.Minute, loc)
		if !candidate.After(now) {
			continue
		}

		if a.RepeatsOn(candidate.Weekday()) {
			return candidate, true
		}
	}

	return time.Time{}, false
}

// atTimeOfDay anchors the wall-clock time on day's calendar date.
// time.Date normalizes DST gaps, so a nonexistent local time lands on the
// instant the clock skips to.
func atTimeOfDay(day time.Time, hour, minute int, loc *time.Location) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, loc)
}
