package validation

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

type sample struct {
	Backend string `koanf:"store_backend" validate:"oneof=memory bolt postgres"`
	Limit   int    `query:"limit" validate:"gte=1,lte=50"`
	Name    string `json:"name" validate:"required"`
}

func TestStruct(t *testing.T) {
	Convey("Given the shared validator", t, func() {
		Convey("A valid struct passes", func() {
			So(Struct(sample{Backend: "bolt", Limit: 5, Name: "x"}), ShouldBeNil)
		})

		Convey("Every failing field is reported by its external key", func() {
			err := Struct(sample{Backend: "mysql", Limit: 0})
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "store_backend must be one of: memory bolt postgres")
			So(err.Error(), ShouldContainSubstring, "limit must be at least 1")
			So(err.Error(), ShouldContainSubstring, "name is required")
		})

		Convey("The instance is shared", func() {
			So(Get(), ShouldEqual, Get())
		})
	})
}
