package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/okian/medrank/internal/adapters/http/api"
	"github.com/okian/medrank/internal/adapters/http/site"
	"github.com/okian/medrank/internal/adapters/http/swagger"
	"github.com/okian/medrank/internal/adapters/schedule"
	service "github.com/okian/medrank/internal/app"
	"github.com/okian/medrank/internal/config"
	"github.com/okian/medrank/internal/supervisor"
	"github.com/okian/medrank/pkg/logger"
	"github.com/okian/medrank/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout       = 10 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 30 * time.Second
)

func main() {
	if err := run(); err != nil {
		os.Stderr.WriteString("medrank: " + err.Error() + "\n")
		os.Exit(1)
	}
}

func run() error {
	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Defaults -> optional file -> env.
	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.WithFormat(cfg.LogFormat)); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Get()

	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	b, err := openBackends(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer b.close()

	opts, err := serviceOptions(cfg, b, log)
	if err != nil {
		return err
	}
	svc := service.New(opts...)
	defer svc.Stop()

	tree := supervisor.New(logger.Slog(), supervisor.TreeConfig{ShutdownTimeout: shutdownTimeout})
	tree.AddRefreshService(svc)

	switch {
	case cfg.RefreshCron != "":
		sched, err := newScheduler(cfg, svc, log)
		if err != nil {
			return err
		}
		tree.AddRefreshService(sched)
	case cfg.RefreshOnStart:
		// The queue is buffered, so the request waits for the workers.
		if _, err := svc.EnqueueRefresh(ctx, "startup"); err != nil {
			return err
		}
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newRouter(svc, log),
		ReadTimeout:       readTimeout,
		WriteTimeout:      cfg.RefreshTimeout + readTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	tree.AddAPIService(supervisor.NewHTTPService(srv, shutdownTimeout))

	go startSystemMetricsUpdater(ctx)
	go startServiceMetricsUpdater(ctx, svc)

	log.Info(ctx, "medrank starting", logger.String("addr", cfg.Addr))
	err = tree.Serve(ctx)
	if report, rerr := tree.UnstoppedServiceReport(); rerr == nil && len(report) > 0 {
		log.Warn(context.Background(), "services did not stop in time", logger.Int("count", len(report)))
	}
	log.Info(context.Background(), "medrank stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func newRouter(svc *service.Service, log logger.Logger) http.Handler {
	return api.NewServer(svc,
		api.WithLogger(log.Named("http")),
		api.WithMount(swagger.New()),
		api.WithMount(site.New()),
	).Routes()
}

// newScheduler builds the nightly refresh trigger.
func newScheduler(cfg *config.Config, svc *service.Service, log logger.Logger) (*schedule.Scheduler, error) {
	loc, err := time.LoadLocation(cfg.RefreshTimezone)
	if err != nil {
		return nil, fmt.Errorf("refresh timezone: %w", err)
	}
	return schedule.New(cfg.RefreshCron, svc,
		schedule.WithRunOnStart(cfg.RefreshOnStart),
		schedule.WithLocation(loc),
		schedule.WithPeriods(svc.Periods()...),
		schedule.WithLogger(log.Named("schedule")))
}

// startSystemMetricsUpdater updates process metrics until ctx is done.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(metrics.SampleInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// startServiceMetricsUpdater refreshes gauges derived from service stats.
func startServiceMetricsUpdater(ctx context.Context, svc *service.Service) {
	ticker := time.NewTicker(metrics.SampleInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateServiceMetrics(ctx, svc)
		}
	}
}

func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
}

func updateServiceMetrics(ctx context.Context, svc *service.Service) {
	st, err := svc.GetStats(ctx)
	if err != nil {
		return
	}
	metrics.UpdateQueueSize(st.QueueLength)
	for _, p := range st.Periods {
		metrics.UpdateStoreRows(p.Period.String(), p.Rows)
	}
}
