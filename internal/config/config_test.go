package config_test

import (
	"errors"
	"testing"
	"time"

	"github.com/okian/medrank/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.PriorStrength, convey.ShouldEqual, 10)
			convey.So(cfg.PriorPolicy, convey.ShouldEqual, config.PriorPolicyRecompute)
			convey.So(cfg.Periods, convey.ShouldResemble, []string{"last_30d", "last_90d", "all_time"})
			convey.So(cfg.DefaultRecommendLimit, convey.ShouldEqual, 5)
			convey.So(cfg.RefreshCron, convey.ShouldEqual, "0 2 * * *")
			convey.So(cfg.StoreBackend, convey.ShouldEqual, config.BackendMemory)
			convey.So(cfg.LockBackend, convey.ShouldEqual, config.BackendLocal)
		})

		convey.Convey("And the defaults validate", func() {
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given a default config", t, func() {
		cfg := config.New()

		convey.Convey("A non-positive prior strength is rejected", func() {
			cfg.PriorStrength = 0
			err := cfg.Validate()
			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			convey.So(err.Error(), convey.ShouldContainSubstring, "prior_strength")
		})

		convey.Convey("Unknown periods are rejected", func() {
			cfg.Periods = []string{"last_30d", "yesterday"}
			convey.So(cfg.Validate(), convey.ShouldNotBeNil)
		})

		convey.Convey("A postgres store without a DSN is rejected", func() {
			cfg.StoreBackend = config.BackendPostgres
			err := cfg.Validate()
			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			convey.So(err.Error(), convey.ShouldContainSubstring, "postgres_dsn")

			cfg.PostgresDSN = "postgres://localhost/medrank"
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})

		convey.Convey("An unknown refresh time zone is rejected", func() {
			cfg.RefreshTimezone = "Nowhere/Special"
			err := cfg.Validate()
			convey.So(err, convey.ShouldNotBeNil)
			convey.So(err.Error(), convey.ShouldContainSubstring, "refresh_timezone")
		})

		convey.Convey("A max limit below the default limit is rejected", func() {
			cfg.MaxRecommendLimit = 2
			convey.So(cfg.Validate(), convey.ShouldNotBeNil)
		})

		convey.Convey("The redis lease must outlive a refresh", func() {
			cfg.LockTTL = time.Minute
			convey.So(cfg.Validate(), convey.ShouldNotBeNil)
		})

		convey.Convey("Kafka brokers need a topic", func() {
			cfg.KafkaBrokers = []string{"localhost:9092"}
			cfg.KafkaTopic = ""
			convey.So(cfg.Validate(), convey.ShouldNotBeNil)
		})
	})
}
