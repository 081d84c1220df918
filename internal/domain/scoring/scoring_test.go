package scoring_test

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/medrank/internal/domain/model"
	scoring "github.com/okian/medrank/internal/domain/scoring"
)

func round4(v float64) float64 { return math.Round(v*1e4) / 1e4 }

func TestBayesianScorer_Score(t *testing.T) {
	ctx := context.Background()

	Convey("Given a scorer with the default prior strength", t, func() {
		s := scoring.NewBayesianScorer()
		So(s.PriorStrength(), ShouldEqual, 10)

		Convey("The worked example reproduces to four decimals", func() {
			a, err := s.Score(ctx, scoring.Input{RawRate: 1.0, SampleSize: 2, GlobalRate: 0.30})
			So(err, ShouldBeNil)
			So(round4(a.Score), ShouldEqual, 0.4167)
			So(round4(a.Confidence), ShouldEqual, 0.1667)

			b, _ := s.Score(ctx, scoring.Input{RawRate: 0.40, SampleSize: 100, GlobalRate: 0.30})
			So(round4(b.Score), ShouldEqual, 0.3909)
			So(round4(b.Confidence), ShouldEqual, 0.9091)

			c, _ := s.Score(ctx, scoring.Input{RawRate: 0.05, SampleSize: 20, GlobalRate: 0.30})
			So(round4(c.Score), ShouldEqual, 0.1333)
			So(round4(c.Confidence), ShouldEqual, 0.6667)

			So(a.Score, ShouldBeGreaterThan, b.Score)
			So(b.Score, ShouldBeGreaterThan, c.Score)
		})

		Convey("No data scores the global rate with zero confidence", func() {
			r, err := s.Score(ctx, scoring.Input{RawRate: 0, SampleSize: 0, GlobalRate: 0.42})
			So(err, ShouldBeNil)
			So(r.Score, ShouldEqual, 0.42)
			So(r.Confidence, ShouldEqual, 0)
		})

		Convey("Equal raw and global rates score that rate", func() {
			r, _ := s.Score(ctx, scoring.Input{RawRate: 0.3, SampleSize: 57, GlobalRate: 0.3})
			So(r.Score, ShouldAlmostEqual, 0.3, 1e-12)
		})

		Convey("Preconditions are enforced", func() {
			for _, in := range []scoring.Input{
				{RawRate: 0.5, SampleSize: -1, GlobalRate: 0.3},
				{RawRate: 1.5, SampleSize: 1, GlobalRate: 0.3},
				{RawRate: 0.5, SampleSize: 1, GlobalRate: -0.1},
				{RawRate: math.NaN(), SampleSize: 1, GlobalRate: 0.3},
			} {
				_, err := s.Score(ctx, in)
				So(errors.Is(err, scoring.ErrInvalidInput), ShouldBeTrue)
			}
		})

		Convey("A cancelled context is honored", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			_, err := s.Score(cctx, scoring.Input{RawRate: 0.5, SampleSize: 1, GlobalRate: 0.3})
			So(errors.Is(err, context.Canceled), ShouldBeTrue)
		})
	})

	Convey("Non-positive prior strengths are ignored by the option", t, func() {
		So(scoring.NewBayesianScorer(scoring.WithPriorStrength(0)).PriorStrength(), ShouldEqual, 10)
		So(scoring.NewBayesianScorer(scoring.WithPriorStrength(25)).PriorStrength(), ShouldEqual, 25)
		_, err := scoring.Smooth(scoring.Input{RawRate: 0.1, SampleSize: 1, GlobalRate: 0.1}, 0)
		So(errors.Is(err, scoring.ErrInvalidInput), ShouldBeTrue)
	})

	Convey("Non-finite prior strengths are rejected", t, func() {
		in := scoring.Input{RawRate: 0.1, SampleSize: 1, GlobalRate: 0.3}
		for _, m := range []float64{math.Inf(1), math.Inf(-1), math.NaN()} {
			_, err := scoring.Smooth(in, m)
			So(errors.Is(err, scoring.ErrInvalidInput), ShouldBeTrue)
		}
		_, err := scoring.Simulate(0.3, math.Inf(1), scoring.DefaultScenarios())
		So(errors.Is(err, scoring.ErrInvalidInput), ShouldBeTrue)
	})
}

func TestShrinkageProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(7)) //nolint:gosec // deterministic property sampling
	s := scoring.NewBayesianScorer()
	ctx := context.Background()

	for i := 0; i < 2000; i++ {
		in := scoring.Input{RawRate: rng.Float64(), SampleSize: rng.Intn(500), GlobalRate: rng.Float64()}
		r, err := s.Score(ctx, in)
		if err != nil {
			t.Fatalf("score %+v: %v", in, err)
		}
		lo, hi := math.Min(in.RawRate, in.GlobalRate), math.Max(in.RawRate, in.GlobalRate)
		if r.Score < lo || r.Score > hi {
			t.Fatalf("score %v escapes [%v,%v] for %+v", r.Score, lo, hi, in)
		}
		if r.Confidence < 0 || r.Confidence >= 1 {
			t.Fatalf("confidence %v outside [0,1) for %+v", r.Confidence, in)
		}

		more := in
		more.SampleSize++
		r2, _ := s.Score(ctx, more)
		if r2.Confidence <= r.Confidence {
			t.Fatalf("confidence did not grow with sample size: %v -> %v", r.Confidence, r2.Confidence)
		}
		if math.Abs(r2.Score-in.RawRate) > math.Abs(r.Score-in.RawRate)+1e-12 {
			t.Fatalf("score moved away from raw rate as sample size grew for %+v", in)
		}
	}
}

func TestScoreSegment(t *testing.T) {
	ctx := context.Background()
	prior := model.GlobalPrior{InterestRate: 0.5, BookingRate: 0.3, CompletionRate: 0.1, SampleSize: 1000}

	Convey("Given an aggregated segment", t, func() {
		seg := model.Segment{
			Key:             model.SegmentKey{HospitalID: 9, Period: model.PeriodLast30d},
			LeadsSent:       100,
			LeadsInterested: 30,
			LeadsBooked:     40,
			LeadsCompleted:  12,
		}

		Convey("The headline score uses the booking signal", func() {
			st, err := scoring.ScoreSegment(ctx, scoring.NewBayesianScorer(), seg, prior, prior.CalculatedAt)
			So(err, ShouldBeNil)
			So(round4(st.BayesianScore), ShouldEqual, 0.3909)
			So(round4(st.ConfidenceLevel), ShouldEqual, 0.9091)
			So(st.SampleSize, ShouldEqual, 100)
			So(st.BookingRate, ShouldEqual, 0.4)
			So(st.InterestRate, ShouldEqual, 0.3)
			So(st.CompletionRate, ShouldEqual, 0.12)
		})

		Convey("Empty or inconsistent segments are rejected", func() {
			empty := seg
			empty.LeadsSent, empty.LeadsInterested, empty.LeadsBooked, empty.LeadsCompleted = 0, 0, 0, 0
			_, err := scoring.ScoreSegment(ctx, scoring.NewBayesianScorer(), empty, prior, prior.CalculatedAt)
			So(errors.Is(err, scoring.ErrInvalidInput), ShouldBeTrue)

			bad := seg
			bad.LeadsBooked = 101
			_, err = scoring.ScoreSegment(ctx, scoring.NewBayesianScorer(), bad, prior, prior.CalculatedAt)
			So(errors.Is(err, scoring.ErrInvalidInput), ShouldBeTrue)
		})
	})
}

func TestSimulate(t *testing.T) {
	Convey("The default scenarios show small samples pulled toward the prior", t, func() {
		out, err := scoring.Simulate(0.3, 10, scoring.DefaultScenarios())
		So(err, ShouldBeNil)
		So(out, ShouldHaveLength, 4)
		So(round4(out[0].Score), ShouldEqual, 0.4167)
		So(round4(out[1].Score), ShouldEqual, 0.55)
		So(round4(out[2].Score), ShouldEqual, 0.3909)
		So(round4(out[3].Score), ShouldEqual, 0.1333)
		So(out[0].RawRate, ShouldEqual, 1)
	})
}
