// Package aggregate groups raw outcome events into per-hospital segments for
// one period: overall, and by each of treatment, country and language.
package aggregate

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/okian/medrank/internal/domain/model"
	"github.com/okian/medrank/pkg/logger"
)

// Source streams raw outcome events sent at or after since.
type Source interface {
	Scan(ctx context.Context, since time.Time, fn func(model.RawOutcomeEvent) error) error
}

// Result is the output of one aggregation pass.
type Result struct {
	Period   model.Period
	Segments []model.Segment
	// Failures lists segments left out because an event in them was malformed.
	Failures []SegmentError
	// Scanned counts events inside the window; Dropped those without a hospital.
	Scanned int
	Dropped int
}

// Aggregator builds segments from an event source.
type Aggregator struct {
	src Source
	log logger.Logger
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(a *Aggregator) {
		if l != nil {
			a.log = l
		}
	}
}

// New returns an Aggregator over src.
func New(src Source, opts ...Option) *Aggregator {
	a := &Aggregator{src: src, log: logger.Nop()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type accumulator struct {
	seg         model.Segment
	respMinutes float64
	responded   int
	failed      error
}

func (acc *accumulator) add(e model.RawOutcomeEvent) {
	acc.seg.LeadsSent++
	if e.Status.IsInterested() {
		acc.seg.LeadsInterested++
	}
	if e.Status.IsBooked() {
		acc.seg.LeadsBooked++
	}
	if e.Status.IsCompleted() {
		acc.seg.LeadsCompleted++
	}
	if m, ok := e.ResponseMinutes(); ok {
		acc.respMinutes += m
		acc.responded++
	}
}

func (acc *accumulator) segment() model.Segment {
	s := acc.seg
	if acc.responded > 0 {
		s.AvgFirstResponseMinutes = sql.NullFloat64{Float64: acc.respMinutes / float64(acc.responded), Valid: true}
	}
	return s
}

// KeysOf returns the segment keys an event contributes to in a period: the
// overall slice plus one per non-null dimension.
func KeysOf(e model.RawOutcomeEvent, p model.Period) []model.SegmentKey {
	keys := make([]model.SegmentKey, 0, len(model.Dimensions()))
	keys = append(keys, model.SegmentKey{HospitalID: e.HospitalID, Period: p})
	if e.TreatmentID.Valid {
		keys = append(keys, model.SegmentKey{HospitalID: e.HospitalID, Period: p, TreatmentID: e.TreatmentID})
	}
	if e.Country.Valid {
		keys = append(keys, model.SegmentKey{HospitalID: e.HospitalID, Period: p, Country: e.Country})
	}
	if e.Language.Valid {
		keys = append(keys, model.SegmentKey{HospitalID: e.HospitalID, Period: p, Language: e.Language})
	}
	return keys
}

// Aggregate scans the events of period p as of now and groups them. A source
// failure or cancellation fails the whole pass; a malformed event only fails
// the segments it falls in.
func (a *Aggregator) Aggregate(ctx context.Context, p model.Period, now time.Time) (Result, error) {
	if !p.Valid() {
		return Result{}, fmt.Errorf("aggregate: unknown period %q", p)
	}
	res := Result{Period: p}
	groups := make(map[model.SegmentKey]*accumulator)

	err := a.src.Scan(ctx, p.Cutoff(now), func(e model.RawOutcomeEvent) error {
		if !p.Contains(e.SentAt, now) {
			return nil
		}
		res.Scanned++
		e = e.Normalized()
		if e.HospitalID == 0 {
			res.Dropped++
			return nil
		}
		bad := e.Check()
		for _, k := range KeysOf(e, p) {
			acc, ok := groups[k]
			if !ok {
				acc = &accumulator{seg: model.Segment{Key: k}}
				groups[k] = acc
			}
			if bad != nil {
				if acc.failed == nil {
					acc.failed = bad
				}
				continue
			}
			acc.add(e)
		}
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("aggregate %s: %w", p, err)
	}

	res.Segments = make([]model.Segment, 0, len(groups))
	for k, acc := range groups {
		if acc.failed != nil {
			res.Failures = append(res.Failures, SegmentError{Key: k, Err: acc.failed})
			continue
		}
		if acc.seg.LeadsSent == 0 {
			continue
		}
		res.Segments = append(res.Segments, acc.segment())
	}
	sort.Slice(res.Segments, func(i, j int) bool { return res.Segments[i].Key.Less(res.Segments[j].Key) })
	sort.Slice(res.Failures, func(i, j int) bool { return res.Failures[i].Key.Less(res.Failures[j].Key) })

	for _, f := range res.Failures {
		a.log.Warn(ctx, "segment skipped", logger.String("segment", f.Key.String()), logger.Error(f.Err))
	}
	if res.Dropped > 0 {
		a.log.Warn(ctx, "events without hospital dropped", logger.String("period", p.String()), logger.Int("dropped", res.Dropped))
	}
	a.log.Debug(ctx, "period aggregated",
		logger.String("period", p.String()),
		logger.Int("events", res.Scanned),
		logger.Int("segments", len(res.Segments)),
		logger.Int("failed", len(res.Failures)))
	return res, nil
}
