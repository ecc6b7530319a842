package domain

import "time"

// DefaultMinNotice is how far ahead an owner must cancel.
const DefaultMinNotice = 24 * time.Hour

// CancellationPolicy decides whether an owner may cancel without admin help.
type CancellationPolicy struct {
	MinNotice time.Duration
	// Location is the studio's timezone; booking dates and times are wall
	// clock values there.
	Location *time.Location
}

func NewCancellationPolicy(minNotice time.Duration, loc *time.Location) CancellationPolicy {
	if minNotice <= 0 {
		minNotice = DefaultMinNotice
	}
	if loc == nil {
		loc = time.Local
	}
	return CancellationPolicy{MinNotice: minNotice, Location: loc}
}

// Allows reports whether the booking start is at least MinNotice away.
// The boundary is inclusive.
func (p CancellationPolicy) Allows(now time.Time, date, startTime string) (bool, error) {
	at, err := At(date, startTime, p.Location)
	if err != nil {
		return false, err
	}
	return at.Sub(now) >= p.MinNotice, nil
}
