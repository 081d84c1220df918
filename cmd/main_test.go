package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/medrank/internal/adapters/lock"
	"github.com/okian/medrank/internal/adapters/notify"
	"github.com/okian/medrank/internal/adapters/repository"
	service "github.com/okian/medrank/internal/app"
	"github.com/okian/medrank/internal/config"
	"github.com/okian/medrank/internal/domain/model"
	"github.com/okian/medrank/pkg/logger"
)

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("MEDRANK_ADDR", ":8080")
	t.Setenv("MEDRANK_QUEUE_SIZE", "64")
	t.Setenv("MEDRANK_WORKER_COUNT", "4")
	t.Setenv("MEDRANK_PERIODS", "last_30d,all_time")

	convey.Convey("Given configuration in the environment", t, func() {
		cfg, err := config.Load(context.Background())
		convey.So(err, convey.ShouldBeNil)
		convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
		convey.So(cfg.QueueSize, convey.ShouldEqual, 64)
		convey.So(cfg.WorkerCount, convey.ShouldEqual, 4)

		convey.Convey("Then the periods parse in order", func() {
			ps, err := parsePeriods(cfg.Periods)
			convey.So(err, convey.ShouldBeNil)
			convey.So(ps, convey.ShouldResemble, []model.Period{model.PeriodLast30d, model.PeriodAllTime})
		})
	})
}

func TestOpenBackends(t *testing.T) {
	ctx := context.Background()

	convey.Convey("Given the default configuration", t, func() {
		cfg := config.New()
		b, err := openBackends(ctx, cfg, logger.Nop())
		convey.So(err, convey.ShouldBeNil)
		defer b.close()

		convey.Convey("Then in-process backends are selected", func() {
			_, isMemory := b.store.(*repository.MemoryStore)
			_, isLocal := b.locker.(*lock.Local)
			_, isNop := b.notifier.(notify.Nop)
			convey.So(isMemory, convey.ShouldBeTrue)
			convey.So(isLocal, convey.ShouldBeTrue)
			convey.So(isNop, convey.ShouldBeTrue)
			convey.So(b.events, convey.ShouldNotBeNil)
			convey.So(b.pool, convey.ShouldBeNil)
		})

		convey.Convey("And the service builds from them", func() {
			opts, err := serviceOptions(cfg, b, logger.Nop())
			convey.So(err, convey.ShouldBeNil)
			svc := service.New(opts...)
			defer svc.Stop()
			convey.So(svc.Periods(), convey.ShouldResemble, model.Periods())
		})
	})

	convey.Convey("Given the bolt store", t, func() {
		cfg := config.New()
		cfg.StoreBackend = config.BackendBolt
		cfg.BoltPath = filepath.Join(t.TempDir(), "medrank.db")

		b, err := openBackends(ctx, cfg, logger.Nop())
		convey.So(err, convey.ShouldBeNil)
		defer b.close()
		defer b.store.Close()

		_, isBolt := b.store.(*repository.BoltStore)
		convey.So(isBolt, convey.ShouldBeTrue)
	})

	convey.Convey("Given an unreachable postgres", t, func() {
		cfg := config.New()
		cfg.LockBackend = config.BackendPostgres
		cfg.PostgresDSN = "postgres://nobody@127.0.0.1:1/none?sslmode=disable&connect_timeout=1"

		var err error
		convey.So(func() { _, err = openBackends(ctx, cfg, logger.Nop()) }, convey.ShouldNotPanic)
		convey.So(err, convey.ShouldNotBeNil)
	})

	convey.Convey("Given a bolt path that cannot be opened", t, func() {
		dir := t.TempDir()
		blocker := filepath.Join(dir, "file")
		convey.So(os.WriteFile(blocker, []byte("x"), 0o600), convey.ShouldBeNil)

		cfg := config.New()
		cfg.StoreBackend = config.BackendBolt
		cfg.BoltPath = filepath.Join(blocker, "medrank.db")

		var err error
		convey.So(func() { _, err = openBackends(ctx, cfg, logger.Nop()) }, convey.ShouldNotPanic)
		convey.So(err, convey.ShouldNotBeNil)
		convey.So(err.Error(), convey.ShouldContainSubstring, "open bolt store")
	})

	convey.Convey("Given an unreachable redis after a bolt store was opened", t, func() {
		cfg := config.New()
		cfg.StoreBackend = config.BackendBolt
		cfg.BoltPath = filepath.Join(t.TempDir(), "medrank.db")
		cfg.LockBackend = config.BackendRedis
		cfg.RedisAddr = "127.0.0.1:1"

		var err error
		convey.So(func() { _, err = openBackends(ctx, cfg, logger.Nop()) }, convey.ShouldNotPanic)
		convey.So(err, convey.ShouldNotBeNil)

		// the failed start must have released the bolt file lock
		store, oerr := repository.OpenBolt(cfg.BoltPath)
		convey.So(oerr, convey.ShouldBeNil)
		convey.So(store.Close(), convey.ShouldBeNil)
	})
}

func TestServiceOptionsRejectUnknownPeriod(t *testing.T) {
	cfg := config.New()
	cfg.Periods = []string{"last_7d"}
	if _, err := serviceOptions(cfg, &backends{}, logger.Nop()); err == nil {
		t.Fatal("expected an error for an unknown period")
	}
}

func TestRouter(t *testing.T) {
	convey.Convey("Given the assembled router", t, func() {
		svc := service.New()
		defer svc.Stop()
		h := newRouter(svc, logger.Nop())

		for _, path := range []string{"/healthz", "/openapi.yaml", "/api-docs", "/", "/dashboard", "/stats"} {
			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
			convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
		}

		convey.Convey("Then the prior is missing until a refresh", func() {
			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/prior", nil))
			convey.So(w.Code, convey.ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestScheduler(t *testing.T) {
	convey.Convey("Given the scheduler factory", t, func() {
		svc := service.New()
		defer svc.Stop()

		convey.Convey("A valid cron spec builds", func() {
			cfg := config.New()
			s, err := newScheduler(cfg, svc, logger.Nop())
			convey.So(err, convey.ShouldBeNil)
			convey.So(s.String(), convey.ShouldEqual, "refresh-schedule")
		})

		convey.Convey("An unknown time zone fails", func() {
			cfg := config.New()
			cfg.RefreshTimezone = "Mars/Olympus_Mons"
			_, err := newScheduler(cfg, svc, logger.Nop())
			convey.So(err, convey.ShouldNotBeNil)
		})

		convey.Convey("A broken cron spec fails", func() {
			cfg := config.New()
			cfg.RefreshCron = "every night"
			_, err := newScheduler(cfg, svc, logger.Nop())
			convey.So(err, convey.ShouldNotBeNil)
		})
	})
}

func TestMetricsUpdaters(t *testing.T) {
	convey.Convey("Metric updaters never panic", t, func() {
		svc := service.New()
		defer svc.Stop()

		convey.So(updateSystemMetrics, convey.ShouldNotPanic)
		convey.So(func() { updateServiceMetrics(context.Background(), svc) }, convey.ShouldNotPanic)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		convey.So(func() { startSystemMetricsUpdater(ctx) }, convey.ShouldNotPanic)
		convey.So(func() { startServiceMetricsUpdater(ctx, svc) }, convey.ShouldNotPanic)
	})
}
