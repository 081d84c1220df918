// Package schedule triggers periodic full refreshes from a cron expression.
package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/okian/medrank/internal/domain/model"
	"github.com/okian/medrank/pkg/logger"
)

const stopTimeout = 10 * time.Second

// Enqueuer accepts async refresh requests.
type Enqueuer interface {
	EnqueueRefresh(ctx context.Context, reason string, periods ...model.Period) (string, error)
}

// Scheduler enqueues a refresh on every cron tick. It runs as a supervised
// service.
type Scheduler struct {
	spec     string
	schedule cron.Schedule
	target   Enqueuer
	periods  []model.Period
	location *time.Location
	onStart  bool
	started  sync.Once
	log      logger.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithRunOnStart enqueues one refresh as soon as the scheduler first starts.
func WithRunOnStart(on bool) Option {
	return func(s *Scheduler) { s.onStart = on }
}

// WithPeriods limits scheduled refreshes to the given periods.
func WithPeriods(ps ...model.Period) Option {
	return func(s *Scheduler) { s.periods = ps }
}

// WithLocation sets the time zone the expression is evaluated in.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.location = loc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}

// New parses spec (standard five-field cron or a descriptor such as
// "@daily") and returns a scheduler feeding target.
func New(spec string, target Enqueuer, opts ...Option) (*Scheduler, error) {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parse refresh schedule %q: %w", spec, err)
	}
	s := &Scheduler{spec: spec, schedule: sched, target: target, location: time.UTC, log: logger.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Next returns the first activation after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t.In(s.location))
}

// Serve implements suture.Service.
func (s *Scheduler) Serve(ctx context.Context) error {
	c := cron.New(
		cron.WithLocation(s.location),
		cron.WithLogger(cronLogger{s.log}),
		cron.WithChain(cron.Recover(cronLogger{s.log})),
	)
	c.Schedule(s.schedule, cron.FuncJob(func() { s.trigger(ctx, "cron") }))

	s.started.Do(func() {
		if s.onStart {
			s.trigger(ctx, "startup")
		}
	})

	c.Start()
	s.log.Info(ctx, "refresh schedule started",
		logger.String("spec", s.spec),
		logger.Time("next", s.Next(time.Now())))

	<-ctx.Done()
	stopped := c.Stop()
	select {
	case <-stopped.Done():
	case <-time.After(stopTimeout):
		s.log.Warn(context.Background(), "scheduled job still running at shutdown")
	}
	return ctx.Err()
}

// String names the scheduler in supervisor logs.
func (s *Scheduler) String() string { return "refresh-schedule" }

func (s *Scheduler) trigger(ctx context.Context, reason string) {
	id, err := s.target.EnqueueRefresh(ctx, reason, s.periods...)
	if err != nil {
		s.log.Error(ctx, "scheduled refresh not queued", logger.String("reason", reason), logger.Error(err))
		return
	}
	s.log.Info(ctx, "scheduled refresh queued", logger.String("reason", reason), logger.String("request_id", id))
}

// cronLogger routes cron's own messages through our logger.
type cronLogger struct{ l logger.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(context.Background(), msg, fields(keysAndValues)...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(context.Background(), msg, append(fields(keysAndValues), logger.Error(err))...)
}

func fields(kv []any) []logger.Field {
	out := make([]logger.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logger.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
