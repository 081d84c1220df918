package recommend_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/medrank/internal/adapters/repository"
	"github.com/okian/medrank/internal/domain/model"
	"github.com/okian/medrank/internal/domain/recommend"
	"github.com/okian/medrank/internal/domain/scoring"
)

var (
	at    = time.Date(2026, 7, 1, 2, 0, 0, 0, time.UTC)
	prior = model.GlobalPrior{BookingRate: 0.30, InterestRate: 0.2, CompletionRate: 0.1, SampleSize: 1000, Version: 1}
)

type keyOpt func(*model.SegmentKey)

func withTreatment(id int64) keyOpt {
	return func(k *model.SegmentKey) { k.TreatmentID = sql.NullInt64{Int64: id, Valid: true} }
}

func withCountry(c string) keyOpt {
	return func(k *model.SegmentKey) { k.Country = sql.NullString{String: c, Valid: true} }
}

func stat(hospital int64, period model.Period, booked, sent int, opts ...keyOpt) model.PerformanceStat {
	k := model.SegmentKey{HospitalID: hospital, Period: period}
	for _, o := range opts {
		o(&k)
	}
	st, err := scoring.ScoreSegment(context.Background(), scoring.NewBayesianScorer(),
		model.Segment{Key: k, LeadsSent: sent, LeadsBooked: booked}, prior, at)
	if err != nil {
		panic(err)
	}
	return st
}

func round4(v float64) float64 { return math.Round(v*1e4) / 1e4 }

func load(store *repository.MemoryStore, stats ...model.PerformanceStat) {
	byPeriod := map[model.Period][]model.PerformanceStat{}
	for _, st := range stats {
		byPeriod[st.Key.Period] = append(byPeriod[st.Key.Period], st)
	}
	for p, rows := range byPeriod {
		if err := store.ReplacePeriod(context.Background(), p, rows); err != nil {
			panic(err)
		}
	}
}

func TestRecommend(t *testing.T) {
	ctx := context.Background()

	Convey("Given the three hospitals of the worked example", t, func() {
		store := repository.NewMemoryStore()
		load(store,
			stat(3, model.PeriodLast30d, 1, 20),
			stat(1, model.PeriodLast30d, 2, 2),
			stat(2, model.PeriodLast30d, 40, 100),
			// A stronger treatment-specific row must not leak into the overall answer.
			stat(4, model.PeriodLast30d, 50, 50, withTreatment(9)),
			// Other periods are never consulted.
			stat(5, model.PeriodAllTime, 90, 100),
		)
		eng := recommend.New(store)

		Convey("The overall ranking is A > B > C with the expected scores", func() {
			rec, err := eng.Recommend(ctx, recommend.Query{})
			So(err, ShouldBeNil)
			So(rec.HasData, ShouldBeTrue)
			So(rec.Period, ShouldEqual, model.PeriodLast30d)
			So(rec.Results, ShouldHaveLength, 3)

			a, b, c := rec.Results[0], rec.Results[1], rec.Results[2]
			So(a.Key.HospitalID, ShouldEqual, int64(1))
			So(b.Key.HospitalID, ShouldEqual, int64(2))
			So(c.Key.HospitalID, ShouldEqual, int64(3))

			So(round4(a.BayesianScore), ShouldEqual, 0.4167)
			So(round4(b.BayesianScore), ShouldEqual, 0.3909)
			So(round4(c.BayesianScore), ShouldEqual, 0.1333)
			So(round4(a.ConfidenceLevel), ShouldEqual, 0.1667)
			So(round4(b.ConfidenceLevel), ShouldEqual, 0.9091)
			So(round4(c.ConfidenceLevel), ShouldEqual, 0.6667)

			So([]int{a.Rank, b.Rank, c.Rank}, ShouldResemble, []int{1, 2, 3})
			So(a.Tier, ShouldEqual, model.TierConsiderable)
			So(b.Tier, ShouldEqual, model.TierConsiderable)
			So(c.Tier, ShouldEqual, model.TierConsiderable)
		})

		Convey("The limit trims the tail", func() {
			rec, err := eng.Recommend(ctx, recommend.Query{Limit: 2})
			So(err, ShouldBeNil)
			So(rec.Results, ShouldHaveLength, 2)
			So(rec.Matched, ShouldEqual, 3)
		})

		Convey("Post-filters drop rows but keep HasData", func() {
			minScore := 0.9
			rec, err := eng.Recommend(ctx, recommend.Query{MinScore: &minScore})
			So(err, ShouldBeNil)
			So(rec.Results, ShouldBeEmpty)
			So(rec.HasData, ShouldBeTrue)

			minN := 50
			rec, err = eng.Recommend(ctx, recommend.Query{MinSampleSize: &minN})
			So(err, ShouldBeNil)
			So(rec.Results, ShouldHaveLength, 1)
			So(rec.Results[0].Key.HospitalID, ShouldEqual, int64(2))
		})

		Convey("A treatment filter resolves only its exact slice", func() {
			tid := int64(9)
			rec, err := eng.Recommend(ctx, recommend.Query{Filter: model.Filter{TreatmentID: &tid}})
			So(err, ShouldBeNil)
			So(rec.Results, ShouldHaveLength, 1)
			So(rec.Results[0].Key.HospitalID, ShouldEqual, int64(4))
		})

		Convey("An unmaterialized combination has no data", func() {
			tid, kr := int64(9), "KR"
			rec, err := eng.Recommend(ctx, recommend.Query{Filter: model.Filter{TreatmentID: &tid, Country: &kr}})
			So(err, ShouldBeNil)
			So(rec.Results, ShouldBeEmpty)
			So(rec.HasData, ShouldBeFalse)
		})
	})

	Convey("Given an empty store", t, func() {
		rec, err := recommend.New(repository.NewMemoryStore()).Recommend(ctx, recommend.Query{})
		So(err, ShouldBeNil)
		So(rec.Results, ShouldBeEmpty)
		So(rec.HasData, ShouldBeFalse)
	})

	Convey("Given a failing reader", t, func() {
		boom := errors.New("db down")
		_, err := recommend.New(failingReader{boom}).Recommend(ctx, recommend.Query{})
		So(errors.Is(err, boom), ShouldBeTrue)
	})
}

type failingReader struct{ err error }

func (f failingReader) Find(context.Context, model.Period, model.Filter) ([]model.PerformanceStat, error) {
	return nil, f.err
}

func (f failingReader) Hospital(context.Context, int64) ([]model.PerformanceStat, error) {
	return nil, f.err
}

func TestRank(t *testing.T) {
	Convey("Ties break on confidence, sample size and hospital id", t, func() {
		base := model.PerformanceStat{BayesianScore: 0.5, ConfidenceLevel: 0.5, SampleSize: 10}
		mk := func(id int64, conf float64, n int) model.PerformanceStat {
			s := base
			s.Key = model.SegmentKey{HospitalID: id, Period: model.PeriodLast30d}
			s.ConfidenceLevel, s.SampleSize = conf, n
			return s
		}
		ranked := recommend.Rank([]model.PerformanceStat{
			mk(4, 0.5, 10), mk(3, 0.5, 10), mk(2, 0.5, 20), mk(1, 0.9, 1),
		})
		ids := make([]int64, 0, len(ranked))
		for _, r := range ranked {
			ids = append(ids, r.Key.HospitalID)
		}
		So(ids, ShouldResemble, []int64{1, 2, 3, 4})
	})

	Convey("Duplicate hospitals keep their best row", t, func() {
		lo := model.PerformanceStat{Key: model.SegmentKey{HospitalID: 7}, BayesianScore: 0.2}
		hi := model.PerformanceStat{Key: model.SegmentKey{HospitalID: 7}, BayesianScore: 0.8}
		ranked := recommend.Rank([]model.PerformanceStat{lo, hi})
		So(ranked, ShouldHaveLength, 1)
		So(ranked[0].BayesianScore, ShouldEqual, 0.8)
	})

	Convey("Ranking is a total order regardless of input order", t, func() {
		var rows []model.PerformanceStat
		for i := int64(1); i <= 20; i++ {
			rows = append(rows, model.PerformanceStat{
				Key:           model.SegmentKey{HospitalID: i},
				BayesianScore: float64(i%4) / 4,
				SampleSize:    int(i % 3),
			})
		}
		forward := recommend.Rank(rows)
		reversed := make([]model.PerformanceStat, len(rows))
		for i := range rows {
			reversed[len(rows)-1-i] = rows[i]
		}
		So(recommend.Rank(reversed), ShouldResemble, forward)
	})
}

func TestTiersAndGrades(t *testing.T) {
	tiers := []struct {
		score float64
		n     int
		want  model.Tier
	}{
		{0.75, 10, model.TierStronglyRecommended},
		{0.75, 9, model.TierRecommended},
		{0.55, 5, model.TierRecommended},
		{0.55, 4, model.TierConsiderable},
		{0.30, 0, model.TierConsiderable},
		{0.10, 3, model.TierConsiderable},
		{0.29, 2, model.TierInsufficientData},
	}
	for _, tc := range tiers {
		t.Run(fmt.Sprintf("%.2f/%d", tc.score, tc.n), func(t *testing.T) {
			if got := recommend.TierFor(tc.score, tc.n); got != tc.want {
				t.Errorf("TierFor(%v, %d) = %s, want %s", tc.score, tc.n, got, tc.want)
			}
		})
	}

	grades := map[float64]model.Grade{
		0.7: model.GradeExcellent, 0.69: model.GradeGood, 0.5: model.GradeGood,
		0.3: model.GradeAverage, 0.29: model.GradeBelowAverage,
	}
	for score, want := range grades {
		if got := recommend.GradeFor(score); got != want {
			t.Errorf("GradeFor(%v) = %s, want %s", score, got, want)
		}
	}
}

func TestShowAndDashboard(t *testing.T) {
	ctx := context.Background()

	Convey("Given a hospital with rows in several periods", t, func() {
		store := repository.NewMemoryStore()
		load(store,
			stat(1, model.PeriodLast30d, 9, 10),
			stat(1, model.PeriodLast30d, 3, 4, withCountry("KR")),
			stat(1, model.PeriodAllTime, 20, 40),
			stat(2, model.PeriodLast30d, 1, 10),
			stat(3, model.PeriodAllTime, 1, 1),
		)
		eng := recommend.New(store)

		Convey("Show groups rows and grades the last_30d overall row", func() {
			card, err := eng.Show(ctx, 1)
			So(err, ShouldBeNil)
			So(card.Headline, ShouldNotBeNil)
			So(card.Headline.Key.Dimension(), ShouldEqual, model.DimensionOverall)
			So(card.Grade, ShouldEqual, model.GradeGood)
			So(card.Periods[model.PeriodLast30d], ShouldHaveLength, 2)
			So(card.Periods[model.PeriodAllTime], ShouldHaveLength, 1)
		})

		Convey("A hospital with only all_time rows has no headline", func() {
			card, err := eng.Show(ctx, 3)
			So(err, ShouldBeNil)
			So(card.Headline, ShouldBeNil)
			So(card.Grade, ShouldEqual, model.Grade(""))
		})

		Convey("Unknown hospitals are not found", func() {
			_, err := eng.Show(ctx, 99)
			So(errors.Is(err, recommend.ErrHospitalNotFound), ShouldBeTrue)
		})

		Convey("The dashboard ranks only overall rows of the period", func() {
			d, err := eng.Dashboard(ctx, model.PeriodLast30d)
			So(err, ShouldBeNil)
			So(d.Hospitals, ShouldHaveLength, 2)
			So(d.Hospitals[0].Key.HospitalID, ShouldEqual, int64(1))
			So(d.Hospitals[1].Key.HospitalID, ShouldEqual, int64(2))
		})

		Convey("Unknown periods are rejected", func() {
			_, err := eng.Dashboard(ctx, model.Period("yesterday"))
			So(err, ShouldNotBeNil)
		})
	})
}

func TestLimit(t *testing.T) {
	Convey("Limits default and cap", t, func() {
		eng := recommend.New(repository.NewMemoryStore(), recommend.WithLimits(5, 20))
		So(eng.Limit(0), ShouldEqual, 5)
		So(eng.Limit(-3), ShouldEqual, 5)
		So(eng.Limit(7), ShouldEqual, 7)
		So(eng.Limit(100), ShouldEqual, 20)
	})
}
