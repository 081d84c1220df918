// Package repository materializes scored performance stats and the global
// prior. Every backend replaces a period as a unit: readers observe either the
// previous snapshot of that period or the new one, never a mix.
package repository

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/okian/medrank/internal/domain/model"
)

// Store provides read/write access to the materialized stats.
type Store interface {
	// ReplacePeriod swaps every row of period for stats. Rows of other periods
	// are untouched.
	ReplacePeriod(ctx context.Context, period model.Period, stats []model.PerformanceStat) error

	// Find returns the rows of period whose dimensions match filter exactly.
	Find(ctx context.Context, period model.Period, filter model.Filter) ([]model.PerformanceStat, error)

	// Hospital returns every row of one hospital across periods.
	Hospital(ctx context.Context, hospitalID int64) ([]model.PerformanceStat, error)

	// Summary describes what each period currently holds.
	Summary(ctx context.Context) ([]PeriodSummary, error)

	// Prior returns the stored global prior; ok is false if none was saved.
	Prior(ctx context.Context) (p model.GlobalPrior, ok bool, err error)

	// SavePrior upserts the singleton prior, bumping its version.
	SavePrior(ctx context.Context, p model.GlobalPrior) (model.GlobalPrior, error)

	Close() error
}

// PeriodSummary describes one materialized period.
type PeriodSummary struct {
	Period     model.Period `json:"period"`
	Rows       int          `json:"rows"`
	Hospitals  int          `json:"hospitals"`
	ComputedAt time.Time    `json:"computed_at"`
}

// checkSnapshot rejects rows belonging to another period, malformed keys and
// duplicate keys.
func checkSnapshot(period model.Period, stats []model.PerformanceStat) error {
	if !period.Valid() {
		return fmt.Errorf("%w: unknown period %q", ErrInvalidSnapshot, period)
	}
	seen := make(map[model.SegmentKey]struct{}, len(stats))
	for _, st := range stats {
		if st.Key.Period != period {
			return fmt.Errorf("%w: row %s in %s snapshot", ErrInvalidSnapshot, st.Key, period)
		}
		if err := st.Key.Check(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
		}
		if _, dup := seen[st.Key]; dup {
			return fmt.Errorf("%w: duplicate row %s", ErrInvalidSnapshot, st.Key)
		}
		seen[st.Key] = struct{}{}
	}
	return nil
}

// summarize builds the summary of one period's rows.
func summarize(period model.Period, stats []model.PerformanceStat) PeriodSummary {
	s := PeriodSummary{Period: period, Rows: len(stats)}
	hospitals := make(map[int64]struct{})
	for _, st := range stats {
		hospitals[st.Key.HospitalID] = struct{}{}
		if st.ComputedAt.After(s.ComputedAt) {
			s.ComputedAt = st.ComputedAt
		}
	}
	s.Hospitals = len(hospitals)
	return s
}

// sortByKey orders rows deterministically so every backend returns the same
// sequence for the same contents.
func sortByKey(stats []model.PerformanceStat) {
	sort.Slice(stats, func(i, j int) bool { return stats[i].Key.Less(stats[j].Key) })
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000
}
