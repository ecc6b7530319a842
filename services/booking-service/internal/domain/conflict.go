package domain

// Overlaps reports whether two half-open [start, end) windows share any
// minute. Back-to-back windows (one ends when the other starts) do not overlap.
// Windows that fail to parse never overlap; callers validate input first.
func Overlaps(a, b TimeWindow) bool {
	a1, a2, ok := minutes(a)
	if !ok {
		return false
	}
	b1, b2, ok := minutes(b)
	if !ok {
		return false
	}
	return a1 < b2 && b1 < a2
}

// FindConflict returns the first non-cancelled booking in existing whose
// window overlaps candidate. existing is expected to hold bookings for the
// candidate's room and date only.
func FindConflict(candidate TimeWindow, existing []Booking) (*Booking, bool) {
	for i := range existing {
		if existing[i].IsCancelled {
			continue
		}
		if Overlaps(candidate, existing[i].Window()) {
			return &existing[i], true
		}
	}
	return nil, false
}

func minutes(w TimeWindow) (int, int, bool) {
	s, err := ParseClock(w.StartTime)
	if err != nil {
		return 0, 0, false
	}
	e, err := ParseClock(w.EndTime)
	if err != nil {
		return 0, 0, false
	}
	return s, e, true
}
