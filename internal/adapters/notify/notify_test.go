package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/medrank/internal/domain/model"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafka(t *testing.T) {
	Convey("Given a kafka notifier over a fake writer", t, func() {
		w := &fakeWriter{}
		k := &Kafka{w: w}
		at := time.Date(2026, 7, 1, 2, 0, 0, 0, time.UTC)
		e := SnapshotRefreshed{RunID: "run-1", Period: model.PeriodLast30d, Segments: 12, PriorVersion: 3, BookingRate: 0.3, CompletedAt: at}

		Convey("The message is keyed by period and typed", func() {
			So(k.Notify(context.Background(), e), ShouldBeNil)
			So(w.msgs, ShouldHaveLength, 1)
			So(string(w.msgs[0].Key), ShouldEqual, "last_30d")
			So(string(w.msgs[0].Headers[0].Value), ShouldEqual, EventSnapshotRefreshed)

			var got map[string]any
			So(json.Unmarshal(w.msgs[0].Value, &got), ShouldBeNil)
			So(got["type"], ShouldEqual, EventSnapshotRefreshed)
			So(got["run_id"], ShouldEqual, "run-1")
			So(got["period"], ShouldEqual, "last_30d")
			So(got["segments"], ShouldEqual, 12.0)
			So(got["prior_version"], ShouldEqual, 3.0)
		})

		Convey("Writer errors are wrapped", func() {
			boom := errors.New("broker down")
			w.err = boom
			err := k.Notify(context.Background(), e)
			So(errors.Is(err, boom), ShouldBeTrue)
		})

		Convey("Close closes the writer", func() {
			So(k.Close(), ShouldBeNil)
			So(w.closed, ShouldBeTrue)
		})
	})
}

func TestRecorder(t *testing.T) {
	Convey("Recorder keeps events until told to fail", t, func() {
		r := &Recorder{}
		So(r.Notify(context.Background(), SnapshotRefreshed{Period: model.PeriodAllTime}), ShouldBeNil)
		r.FailWith(errors.New("down"))
		So(r.Notify(context.Background(), SnapshotRefreshed{}), ShouldNotBeNil)
		So(r.Events(), ShouldHaveLength, 1)
		So(Nop{}.Notify(context.Background(), SnapshotRefreshed{}), ShouldBeNil)
	})
}
