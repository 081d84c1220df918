package aggregate_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/medrank/internal/adapters/eventlog"
	"github.com/okian/medrank/internal/domain/aggregate"
	"github.com/okian/medrank/internal/domain/model"
)

var now = time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

type eventOpt func(*model.RawOutcomeEvent)

func treatment(id int64) eventOpt {
	return func(e *model.RawOutcomeEvent) { e.TreatmentID = sql.NullInt64{Int64: id, Valid: true} }
}

func country(c string) eventOpt {
	return func(e *model.RawOutcomeEvent) { e.Country = sql.NullString{String: c, Valid: true} }
}

func respondedAfter(d time.Duration) eventOpt {
	return func(e *model.RawOutcomeEvent) { e.FirstResponseAt = sql.NullTime{Time: e.SentAt.Add(d), Valid: true} }
}

var nextID int64

func ev(hospital int64, status model.ResponseStatus, age time.Duration, opts ...eventOpt) model.RawOutcomeEvent {
	nextID++
	e := model.RawOutcomeEvent{ID: nextID, HospitalID: hospital, SentAt: now.Add(-age), Status: status}
	for _, o := range opts {
		o(&e)
	}
	return e
}

func find(res aggregate.Result, k model.SegmentKey) (model.Segment, bool) {
	for _, s := range res.Segments {
		if s.Key == k {
			return s, true
		}
	}
	return model.Segment{}, false
}

const day = 24 * time.Hour

func TestAggregate(t *testing.T) {
	ctx := context.Background()

	Convey("Given a log with two hospitals", t, func() {
		src := eventlog.NewMemory(
			ev(1, model.StatusBooked, 1*day, treatment(7), country("KR"), respondedAfter(30*time.Minute)),
			ev(1, model.StatusCompleted, 2*day, treatment(7), respondedAfter(90*time.Minute)),
			ev(1, model.StatusInterested, 3*day, country("US")),
			ev(1, model.StatusPending, 45*day, treatment(8)),
			ev(2, model.StatusNotInterested, 5*day),
		)
		agg := aggregate.New(src)

		Convey("When aggregating last_30d", func() {
			res, err := agg.Aggregate(ctx, model.PeriodLast30d, now)
			So(err, ShouldBeNil)
			So(res.Scanned, ShouldEqual, 4)
			So(res.Failures, ShouldBeEmpty)

			Convey("The overall slice counts every lead of the hospital", func() {
				s, ok := find(res, model.SegmentKey{HospitalID: 1, Period: model.PeriodLast30d})
				So(ok, ShouldBeTrue)
				So(s.LeadsSent, ShouldEqual, 3)
				So(s.LeadsInterested, ShouldEqual, 1)
				So(s.LeadsBooked, ShouldEqual, 2)
				So(s.LeadsCompleted, ShouldEqual, 1)
				So(s.AvgFirstResponseMinutes.Float64, ShouldEqual, 60)
			})

			Convey("Dimension slices only count events carrying the dimension", func() {
				s, ok := find(res, model.SegmentKey{HospitalID: 1, Period: model.PeriodLast30d, TreatmentID: sql.NullInt64{Int64: 7, Valid: true}})
				So(ok, ShouldBeTrue)
				So(s.LeadsSent, ShouldEqual, 2)

				s, ok = find(res, model.SegmentKey{HospitalID: 1, Period: model.PeriodLast30d, Country: sql.NullString{String: "US", Valid: true}})
				So(ok, ShouldBeTrue)
				So(s.LeadsSent, ShouldEqual, 1)
				So(s.AvgFirstResponseMinutes.Valid, ShouldBeFalse)
			})

			Convey("No rows exist for combinations without events", func() {
				_, ok := find(res, model.SegmentKey{HospitalID: 1, Period: model.PeriodLast30d, TreatmentID: sql.NullInt64{Int64: 8, Valid: true}})
				So(ok, ShouldBeFalse)
				for _, s := range res.Segments {
					So(s.LeadsSent, ShouldBeGreaterThan, 0)
				}
			})

			Convey("Segments come out in key order", func() {
				for i := 1; i < len(res.Segments); i++ {
					So(res.Segments[i].Key.Less(res.Segments[i-1].Key), ShouldBeFalse)
				}
			})
		})

		Convey("When aggregating all_time the older event is included", func() {
			res, err := agg.Aggregate(ctx, model.PeriodAllTime, now)
			So(err, ShouldBeNil)
			s, ok := find(res, model.SegmentKey{HospitalID: 1, Period: model.PeriodAllTime, TreatmentID: sql.NullInt64{Int64: 8, Valid: true}})
			So(ok, ShouldBeTrue)
			So(s.LeadsSent, ShouldEqual, 1)
		})

		Convey("Aggregating twice gives the same segments", func() {
			a, _ := agg.Aggregate(ctx, model.PeriodLast90d, now)
			b, _ := agg.Aggregate(ctx, model.PeriodLast90d, now)
			So(a.Segments, ShouldResemble, b.Segments)
		})
	})

	Convey("Given a log with a malformed event", t, func() {
		src := eventlog.NewMemory(
			ev(1, model.StatusBooked, day, treatment(7)),
			ev(1, "lost", day, country("KR")),
			ev(2, model.StatusBooked, day),
			ev(0, model.StatusBooked, day),
		)
		res, err := aggregate.New(src).Aggregate(ctx, model.PeriodLast30d, now)
		So(err, ShouldBeNil)

		Convey("Only the segments it falls in are skipped", func() {
			So(res.Failures, ShouldHaveLength, 2)
			for _, f := range res.Failures {
				So(errors.Is(f, aggregate.ErrPartialAggregation), ShouldBeTrue)
				So(f.Key.HospitalID, ShouldEqual, 1)
			}
			_, ok := find(res, model.SegmentKey{HospitalID: 1, Period: model.PeriodLast30d})
			So(ok, ShouldBeFalse)
			_, ok = find(res, model.SegmentKey{HospitalID: 1, Period: model.PeriodLast30d, TreatmentID: sql.NullInt64{Int64: 7, Valid: true}})
			So(ok, ShouldBeTrue)
			_, ok = find(res, model.SegmentKey{HospitalID: 2, Period: model.PeriodLast30d})
			So(ok, ShouldBeTrue)
		})

		Convey("Events without a hospital are dropped and counted", func() {
			So(res.Dropped, ShouldEqual, 1)
		})
	})

	Convey("Given events with blank or padded dimension values", t, func() {
		language := func(l string) eventOpt {
			return func(e *model.RawOutcomeEvent) { e.Language = sql.NullString{String: l, Valid: true} }
		}
		src := eventlog.NewMemory(
			ev(1, model.StatusBooked, day, country("")),
			ev(1, model.StatusPending, day, language("   "), treatment(0)),
			ev(1, model.StatusBooked, day, country(" KR ")),
			ev(1, model.StatusPending, day, country("KR"), treatment(-1)),
		)
		res, err := aggregate.New(src).Aggregate(ctx, model.PeriodLast30d, now)
		So(err, ShouldBeNil)

		Convey("Blank values fold into the overall row only", func() {
			So(res.Failures, ShouldBeEmpty)
			overall, ok := find(res, model.SegmentKey{HospitalID: 1, Period: model.PeriodLast30d})
			So(ok, ShouldBeTrue)
			So(overall.LeadsSent, ShouldEqual, 4)
			So(res.Segments, ShouldHaveLength, 2)
			for _, s := range res.Segments {
				So(s.Key.Check(), ShouldBeNil)
			}
		})

		Convey("Padded values share a segment with the trimmed spelling", func() {
			kr, ok := find(res, model.SegmentKey{HospitalID: 1, Period: model.PeriodLast30d, Country: sql.NullString{String: "KR", Valid: true}})
			So(ok, ShouldBeTrue)
			So(kr.LeadsSent, ShouldEqual, 2)
			So(kr.LeadsBooked, ShouldEqual, 1)
		})
	})

	Convey("A failing source fails the pass", t, func() {
		src := eventlog.NewMemory()
		src.FailWith(errors.New("connection reset"))
		_, err := aggregate.New(src).Aggregate(ctx, model.PeriodAllTime, now)
		So(err, ShouldNotBeNil)
	})

	Convey("A cancelled context fails the pass", t, func() {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		src := eventlog.NewMemory(ev(1, model.StatusBooked, day))
		_, err := aggregate.New(src).Aggregate(cctx, model.PeriodAllTime, now)
		So(errors.Is(err, context.Canceled), ShouldBeTrue)
	})

	Convey("An unknown period is rejected", t, func() {
		_, err := aggregate.New(eventlog.NewMemory()).Aggregate(ctx, "last_7d", now)
		So(err, ShouldNotBeNil)
	})
}
