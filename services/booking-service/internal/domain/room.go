package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Room string

const (
	StudioA       Room = "Studio A"
	StudioB       Room = "Studio B"
	PracticeRoom1 Room = "Practice Room 1"
	PracticeRoom2 Room = "Practice Room 2"
	PracticeRoom3 Room = "Practice Room 3"
)

// RateTable maps each bookable room to its hourly rate. A room is bookable
// iff it has an entry.
type RateTable map[Room]decimal.Decimal

func DefaultRateTable() RateTable {
	return RateTable{
		StudioA:       decimal.NewFromInt(50),
		StudioB:       decimal.NewFromInt(45),
		PracticeRoom1: decimal.NewFromInt(25),
		PracticeRoom2: decimal.NewFromInt(25),
		PracticeRoom3: decimal.NewFromInt(25),
	}
}

// ParseRateTable reads "Studio A=50,Studio B=45.5". An empty string yields
// the default table.
func ParseRateTable(s string) (RateTable, error) {
	if strings.TrimSpace(s) == "" {
		return DefaultRateTable(), nil
	}
	out := RateTable{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, rate, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("room rate %q: want name=rate", part)
		}
		name = strings.TrimSpace(name)
		d, err := decimal.NewFromString(strings.TrimSpace(rate))
		if err != nil {
			return nil, fmt.Errorf("room rate %q: %w", part, err)
		}
		if name == "" || d.IsNegative() {
			return nil, fmt.Errorf("room rate %q: invalid", part)
		}
		out[Room(name)] = d
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("room rates %q: no rooms", s)
	}
	return out, nil
}

func (t RateTable) Rate(r Room) (decimal.Decimal, bool) {
	d, ok := t[r]
	return d, ok
}

// Rooms lists the bookable rooms in name order.
func (t RateTable) Rooms() []Room {
	out := make([]Room, 0, len(t))
	for r := range t {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Price is rate × minutes/60, rounded to cents.
func (t RateTable) Price(r Room, minutes int) (decimal.Decimal, bool) {
	rate, ok := t[r]
	if !ok {
		return decimal.Zero, false
	}
	return rate.Mul(decimal.NewFromInt(int64(minutes))).Div(decimal.NewFromInt(60)).Round(2), true
}

// DefaultMinDuration is the shortest window a booking may cover.
const DefaultMinDuration = time.Hour

// OpeningHours bounds the windows that may be booked, in minutes since midnight.
type OpeningHours struct {
	From int
	To   int
}

func ParseOpeningHours(from, to string) (OpeningHours, error) {
	f, err := ParseClock(from)
	if err != nil {
		return OpeningHours{}, err
	}
	t, err := ParseClock(to)
	if err != nil {
		return OpeningHours{}, err
	}
	if t <= f {
		return OpeningHours{}, fmt.Errorf("opening hours %s-%s: close must be after open", from, to)
	}
	return OpeningHours{From: f, To: t}, nil
}

// AllDay accepts any window inside the day.
func AllDay() OpeningHours { return OpeningHours{From: 0, To: 24 * 60} }

func (h OpeningHours) Contains(start, end int) bool {
	return start >= h.From && end <= h.To
}
