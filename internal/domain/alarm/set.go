package alarm

import "slices"

// Set is an identity-keyed collection of alarms. It is the receiver-side
// reconciliation target: deltas apply by ID match, so re-applying the same
// delta is a no-op. Set is not safe for concurrent use; callers synchronize.
type Set struct {
	alarms map[string]Alarm
}

// NewSet returns an empty alarm set.
func NewSet() *Set {
	return &Set{
		alarms: make(map[string]Alarm),
	}
}

// Apply inserts the alarm or replaces an existing one with the same ID.
// It reports whether the set changed.
func (s *Set) Apply(a Alarm) bool {
	existing, ok := s.alarms[a.ID]
	if ok && equal(existing, a) {
		return false
	}

	s.alarms[a.ID] = a.Clone()

	return true
}

// Remove deletes the alarm with the given ID if present.
// It reports whether the set changed.
func (s *Set) Remove(id string) bool {
	if _, ok := s.alarms[id]; !ok {
		return false
	}

	delete(s.alarms, id)

	return true
}

// Get returns the alarm with the given ID, if present.
func (s *Set) Get(id string) (Alarm, bool) {
	a, ok := s.alarms[id]
	if !ok {
		return Alarm{}, false
	}

	return a.Clone(), true
}

// Replace swaps the whole set for the provided snapshot.
func (s *Set) Replace(alarms []Alarm) {
	s.alarms = make(map[string]Alarm, len(alarms))

	for _, a := range alarms {
		s.alarms[a.ID] = a.Clone()
	}
}

// Snapshot returns all alarms sorted by ID.
func (s *Set) Snapshot() []Alarm {
	result := make([]Alarm, 0, len(s.alarms))

	for _, a := range s.alarms {
		result = append(result, a.Clone())
	}

	slices.SortFunc(result, func(a, b Alarm) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		default:
			return 0
		}
	})

	return result
}

// Len returns the number of alarms in the set.
func (s *Set) Len() int {
	return len(s.alarms)
}

// equal compares two alarms field by field.
func equal(a, b Alarm) bool {
	return a.ID == b.ID &&
		a.Label == b.Label &&
		a.Hour == b.Hour &&
		a.Minute == b.Minute &&
		a.Enabled == b.Enabled &&
		slices.Equal(a.RepeatDays, b.RepeatDays)
}
