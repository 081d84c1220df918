package model

import (
	"fmt"
	"time"
)

// Period is a named trailing time window.
type Period string

const (
	PeriodLast30d Period = "last_30d"
	PeriodLast90d Period = "last_90d"
	PeriodAllTime Period = "all_time"
)

// RecommendPeriod is the window recommendation queries read from.
const RecommendPeriod = PeriodLast30d

// Periods lists every supported period in refresh order.
func Periods() []Period {
	return []Period{PeriodLast30d, PeriodLast90d, PeriodAllTime}
}

// ParsePeriod converts a config or query value into a Period.
func ParsePeriod(s string) (Period, error) {
	p := Period(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown period %q", s)
	}
	return p, nil
}

// Valid reports whether p is a supported period.
func (p Period) Valid() bool {
	switch p {
	case PeriodLast30d, PeriodLast90d, PeriodAllTime:
		return true
	}
	return false
}

// Cutoff returns the inclusive lower bound on sent_at, or the zero time for all_time.
func (p Period) Cutoff(now time.Time) time.Time {
	switch p {
	case PeriodLast30d:
		return now.AddDate(0, 0, -30)
	case PeriodLast90d:
		return now.AddDate(0, 0, -90)
	default:
		return time.Time{}
	}
}

// Contains reports whether an event sent at t falls in the window ending at now.
func (p Period) Contains(t, now time.Time) bool {
	cut := p.Cutoff(now)
	return cut.IsZero() || !t.Before(cut)
}

func (p Period) String() string { return string(p) }
