package logger

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/goccy/go-json"
	. "github.com/smartystreets/goconvey/convey"
)

func TestInit(t *testing.T) {
	Convey("Given the global logger", t, func() {
		Convey("When initialized with defaults", func() {
			So(Init(), ShouldBeNil)
			So(Get(), ShouldNotBeNil)
			So(Sync(), ShouldBeNil)
		})

		Convey("When initialized with an unknown format", func() {
			err := Init(WithFormat("xml"))
			So(err, ShouldNotBeNil)
		})
	})
}

func TestJSONOutput(t *testing.T) {
	Convey("Given a JSON logger writing to a buffer", t, func() {
		var buf bytes.Buffer
		So(Init(WithFormat(FormatJSON), WithOutput(&buf)), ShouldBeNil)

		Convey("Fields and component name are emitted", func() {
			Named("refresh").Info(context.Background(), "period refreshed",
				String("period", "last_30d"), Int("segments", 3), Error(errors.New("boom")))

			var line map[string]any
			So(json.Unmarshal(buf.Bytes(), &line), ShouldBeNil)
			So(line["msg"], ShouldEqual, "period refreshed")
			So(line["component"], ShouldEqual, "refresh")
			So(line["period"], ShouldEqual, "last_30d")
			So(line["segments"], ShouldEqual, 3.0)
			So(line["source"], ShouldContainSubstring, "logger_test.go")
		})

		Convey("Debug is suppressed until the level is lowered", func() {
			Get().Debug(context.Background(), "hidden")
			So(buf.Len(), ShouldEqual, 0)

			So(SetLevelString("debug"), ShouldBeNil)
			Get().Debug(context.Background(), "visible")
			So(buf.String(), ShouldContainSubstring, "visible")
		})
	})
}

func TestSetLevelString(t *testing.T) {
	cases := map[string]bool{
		"debug": true, "INFO": true, "": true, "warning": true, "error": true, "trace": false,
	}
	for in, ok := range cases {
		err := SetLevelString(in)
		if ok && err != nil {
			t.Errorf("SetLevelString(%q) unexpected error: %v", in, err)
		}
		if !ok && err == nil {
			t.Errorf("SetLevelString(%q) expected error", in)
		}
	}
}

func TestNopAndSlog(t *testing.T) {
	Convey("Nop never panics and Slog is always usable", t, func() {
		So(func() { Nop().Named("x").Error(context.Background(), "dropped") }, ShouldNotPanic)
		So(Slog(), ShouldNotBeNil)
	})
}
