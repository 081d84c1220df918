// Package scoring shrinks observed conversion rates toward the global prior.
//
// With prior strength m, sample size n, raw rate r and global rate g:
//
//	score      = (m*g + n*r) / (m + n)
//	confidence = n / (m + n)
//
// A segment with no data scores exactly g with zero confidence; as n grows the
// score approaches r and the confidence approaches 1.
package scoring

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/okian/medrank/internal/domain/model"
)

// DefaultPriorStrength is m when none is configured.
const DefaultPriorStrength = 10.0

// Input is one observed rate to be scored.
type Input struct {
	RawRate    float64
	SampleSize int
	GlobalRate float64
}

// Result is the smoothed score and the weight the observation carries.
type Result struct {
	Score      float64
	Confidence float64
}

// Scorer computes a smoothed score from an observed rate.
type Scorer interface {
	// Score computes a score, honoring ctx for cancellation.
	Score(ctx context.Context, in Input) (Result, error)
}

// Option applies a configuration option to the BayesianScorer.
type Option func(*BayesianScorer)

// WithPriorStrength sets m. Non-positive values are ignored.
func WithPriorStrength(m float64) Option {
	return func(s *BayesianScorer) {
		if m > 0 && !math.IsInf(m, 0) {
			s.m = m
		}
	}
}

// BayesianScorer implements Scorer with a fixed prior strength.
type BayesianScorer struct {
	m float64
}

// NewBayesianScorer creates a scorer; m defaults to DefaultPriorStrength.
func NewBayesianScorer(opts ...Option) *BayesianScorer {
	s := &BayesianScorer{m: DefaultPriorStrength}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PriorStrength returns m.
func (s *BayesianScorer) PriorStrength() float64 { return s.m }

// Score implements Scorer.
func (s *BayesianScorer) Score(ctx context.Context, in Input) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("context cancelled: %w", err)
	}
	return Smooth(in, s.m)
}

// Smooth applies the shrinkage formula with prior strength m.
func Smooth(in Input, m float64) (Result, error) {
	switch {
	case !(m > 0) || math.IsInf(m, 1):
		return Result{}, fmt.Errorf("%w: prior strength %v must be positive and finite", ErrInvalidInput, m)
	case in.SampleSize < 0:
		return Result{}, fmt.Errorf("%w: sample size %d is negative", ErrInvalidInput, in.SampleSize)
	case !unit(in.GlobalRate):
		return Result{}, fmt.Errorf("%w: global rate %v outside [0,1]", ErrInvalidInput, in.GlobalRate)
	case !unit(in.RawRate):
		return Result{}, fmt.Errorf("%w: raw rate %v outside [0,1]", ErrInvalidInput, in.RawRate)
	}
	n := float64(in.SampleSize)
	score := (m*in.GlobalRate + n*in.RawRate) / (m + n)
	// keep float noise from escaping the [min(r,g), max(r,g)] band
	score = math.Min(math.Max(score, math.Min(in.RawRate, in.GlobalRate)), math.Max(in.RawRate, in.GlobalRate))
	return Result{Score: score, Confidence: n / (m + n)}, nil
}

func unit(v float64) bool { return v >= 0 && v <= 1 }

// Rate returns part/whole, or 0 when whole is 0.
func Rate(part, whole int) float64 {
	if whole <= 0 {
		return 0
	}
	return float64(part) / float64(whole)
}

// ScoreSegment turns an aggregated segment into a stats row. The headline score
// uses the booking signal against the prior's booking rate; interest and
// completion rates are stored unsmoothed.
func ScoreSegment(ctx context.Context, s Scorer, seg model.Segment, prior model.GlobalPrior, at time.Time) (model.PerformanceStat, error) {
	if seg.LeadsSent <= 0 {
		return model.PerformanceStat{}, fmt.Errorf("%w: segment %s has no leads", ErrInvalidInput, seg.Key)
	}
	if seg.LeadsBooked > seg.LeadsSent || seg.LeadsInterested > seg.LeadsSent || seg.LeadsCompleted > seg.LeadsBooked {
		return model.PerformanceStat{}, fmt.Errorf("%w: segment %s has inconsistent counts", ErrInvalidInput, seg.Key)
	}
	booking := Rate(seg.LeadsBooked, seg.LeadsSent)
	res, err := s.Score(ctx, Input{RawRate: booking, SampleSize: seg.LeadsSent, GlobalRate: prior.BookingRate})
	if err != nil {
		return model.PerformanceStat{}, fmt.Errorf("score %s: %w", seg.Key, err)
	}
	return model.PerformanceStat{
		Key:                     seg.Key,
		LeadsSent:               seg.LeadsSent,
		LeadsInterested:         seg.LeadsInterested,
		LeadsBooked:             seg.LeadsBooked,
		LeadsCompleted:          seg.LeadsCompleted,
		InterestRate:            Rate(seg.LeadsInterested, seg.LeadsSent),
		BookingRate:             booking,
		CompletionRate:          Rate(seg.LeadsCompleted, seg.LeadsSent),
		AvgFirstResponseMinutes: seg.AvgFirstResponseMinutes,
		BayesianScore:           res.Score,
		ConfidenceLevel:         res.Confidence,
		SampleSize:              seg.LeadsSent,
		ComputedAt:              at,
	}, nil
}
