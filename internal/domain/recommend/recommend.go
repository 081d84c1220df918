// Package recommend answers ranked lookups and diagnostic reads from the
// materialized stats. Nothing here computes scores.
package recommend

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/medrank/internal/domain/model"
	"github.com/okian/medrank/pkg/logger"
	"github.com/okian/medrank/pkg/metrics"
)

const (
	defaultLimit    = 5
	defaultMaxLimit = 50
)

// Reader is the read side of the stats store.
type Reader interface {
	Find(ctx context.Context, period model.Period, filter model.Filter) ([]model.PerformanceStat, error)
	Hospital(ctx context.Context, hospitalID int64) ([]model.PerformanceStat, error)
}

// Query is a recommendation request. Limit <= 0 means the default.
type Query struct {
	Filter        model.Filter
	Limit         int
	MinScore      *float64
	MinSampleSize *int
}

// Recommendation is a ranked answer. HasData is false when the slice holds no
// rows at all, as opposed to rows that the post-filters removed.
type Recommendation struct {
	Period  model.Period
	Filter  model.Filter
	Results []model.RankedStat
	Matched int
	HasData bool
}

// Card is a hospital's performance card. Headline is the overall last_30d row
// when one exists.
type Card struct {
	HospitalID int64
	Headline   *model.PerformanceStat
	Grade      model.Grade
	Periods    map[model.Period][]model.PerformanceStat
}

// Dashboard ranks every hospital's overall slice for a period.
type Dashboard struct {
	Period    model.Period
	Hospitals []model.RankedStat
}

// Engine serves recommendation reads.
type Engine struct {
	r            Reader
	defaultLimit int
	maxLimit     int
	log          logger.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLimits sets the default result size and the cap applied to requests.
func WithLimits(def, maxLimit int) Option {
	return func(e *Engine) {
		if def > 0 {
			e.defaultLimit = def
		}
		if maxLimit > 0 {
			e.maxLimit = maxLimit
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// New creates an Engine reading from r.
func New(r Reader, opts ...Option) *Engine {
	e := &Engine{r: r, defaultLimit: defaultLimit, maxLimit: defaultMaxLimit, log: logger.Nop()}
	for _, opt := range opts {
		opt(e)
	}
	if e.defaultLimit > e.maxLimit {
		e.defaultLimit = e.maxLimit
	}
	return e
}

// Limit normalizes a requested limit.
func (e *Engine) Limit(n int) int {
	if n <= 0 {
		return e.defaultLimit
	}
	if n > e.maxLimit {
		return e.maxLimit
	}
	return n
}

// Recommend ranks hospitals in the last_30d slice named exactly by the filter.
func (e *Engine) Recommend(ctx context.Context, q Query) (Recommendation, error) {
	start := time.Now()
	period := model.RecommendPeriod
	rows, err := e.r.Find(ctx, period, q.Filter)
	if err != nil {
		return Recommendation{}, fmt.Errorf("recommend: %w", err)
	}

	kept := make([]model.PerformanceStat, 0, len(rows))
	for _, st := range rows {
		if q.MinScore != nil && st.BayesianScore < *q.MinScore {
			continue
		}
		if q.MinSampleSize != nil && st.SampleSize < *q.MinSampleSize {
			continue
		}
		kept = append(kept, st)
	}

	ranked := Rank(kept)
	if limit := e.Limit(q.Limit); len(ranked) > limit {
		ranked = ranked[:limit]
	}

	rec := Recommendation{
		Period:  period,
		Filter:  q.Filter,
		Results: ranked,
		Matched: len(kept),
		HasData: len(rows) > 0,
	}
	metrics.RecordRecommendation(len(ranked) == 0, float64(time.Since(start).Milliseconds()))
	if !rec.HasData {
		e.log.Debug(ctx, "no ranking data for filter", logger.Bool("materialized", q.Filter.Materialized()))
	}
	return rec, nil
}

// Show builds the performance card of one hospital.
func (e *Engine) Show(ctx context.Context, hospitalID int64) (Card, error) {
	rows, err := e.r.Hospital(ctx, hospitalID)
	if err != nil {
		return Card{}, fmt.Errorf("show hospital %d: %w", hospitalID, err)
	}
	if len(rows) == 0 {
		return Card{}, fmt.Errorf("%w: %d", ErrHospitalNotFound, hospitalID)
	}

	card := Card{HospitalID: hospitalID, Periods: make(map[model.Period][]model.PerformanceStat)}
	for i := range rows {
		st := rows[i]
		card.Periods[st.Key.Period] = append(card.Periods[st.Key.Period], st)
		if st.Key.Period == model.RecommendPeriod && st.Key.Dimension() == model.DimensionOverall {
			card.Headline = &st
		}
	}
	if card.Headline != nil {
		card.Grade = GradeFor(card.Headline.BayesianScore)
	}
	return card, nil
}

// Dashboard ranks all hospitals by their overall row in period.
func (e *Engine) Dashboard(ctx context.Context, period model.Period) (Dashboard, error) {
	if !period.Valid() {
		return Dashboard{}, fmt.Errorf("dashboard: unknown period %q", period)
	}
	rows, err := e.r.Find(ctx, period, model.Filter{})
	if err != nil {
		return Dashboard{}, fmt.Errorf("dashboard: %w", err)
	}
	return Dashboard{Period: period, Hospitals: Rank(rows)}, nil
}
