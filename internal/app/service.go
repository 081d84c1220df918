// Package service wires the scoring pipeline and exposes the operations the
// HTTP API and the scheduler call.
package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/medrank/internal/adapters/eventlog"
	"github.com/okian/medrank/internal/adapters/lock"
	"github.com/okian/medrank/internal/adapters/mq/queue"
	"github.com/okian/medrank/internal/adapters/mq/worker"
	"github.com/okian/medrank/internal/adapters/notify"
	"github.com/okian/medrank/internal/adapters/repository"
	"github.com/okian/medrank/internal/domain/aggregate"
	"github.com/okian/medrank/internal/domain/dedupe"
	"github.com/okian/medrank/internal/domain/model"
	"github.com/okian/medrank/internal/domain/prior"
	"github.com/okian/medrank/internal/domain/recommend"
	"github.com/okian/medrank/internal/domain/scoring"
	"github.com/okian/medrank/pkg/logger"
	"github.com/okian/medrank/pkg/metrics"
)

// defaultSimulationRate is used when no prior has been computed yet.
const defaultSimulationRate = 0.3

// Service owns the refresh pipeline, the async refresh queue and the read
// engine.
type Service struct {
	mu sync.RWMutex

	// Core components
	events   eventlog.Source
	store    repository.Store
	locker   lock.Locker
	notifier notify.Notifier
	priors   *prior.Estimator
	scorer   *scoring.BayesianScorer
	refresh  *Orchestrator
	engine   *recommend.Engine
	queue    *queue.InMemoryQueue
	pool     *worker.Pool
	pending  dedupe.Deduper

	// Configuration
	priorStrength  float64
	priorPolicy    prior.Policy
	priorMaxAge    time.Duration
	periods        []model.Period
	workerCount    int
	queueSize      int
	defaultLimit   int
	maxLimit       int
	refreshTimeout time.Duration
	now            func() time.Time

	// State
	stopped bool

	// Logging
	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithEventSource sets where raw outcome events are read from.
func WithEventSource(src eventlog.Source) Option {
	return func(s *Service) {
		if src != nil {
			s.events = src
		}
	}
}

// WithStore sets the stats store.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithLocker sets the per-period refresh lock.
func WithLocker(l lock.Locker) Option {
	return func(s *Service) {
		if l != nil {
			s.locker = l
		}
	}
}

// WithSnapshotNotifier sets where finished refreshes are announced.
func WithSnapshotNotifier(n notify.Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithPriorStrength sets m, the number of virtual prior observations.
func WithPriorStrength(m float64) Option {
	return func(s *Service) {
		if m > 0 {
			s.priorStrength = m
		}
	}
}

// WithPriorPolicy sets whether each pass recomputes the prior or reuses a
// stored one younger than maxAge.
func WithPriorPolicy(p prior.Policy, maxAge time.Duration) Option {
	return func(s *Service) {
		s.priorPolicy = p
		s.priorMaxAge = maxAge
	}
}

// WithPeriods sets the periods a full refresh covers.
func WithPeriods(ps ...model.Period) Option {
	return func(s *Service) {
		if len(ps) > 0 {
			s.periods = ps
		}
	}
}

// WithWorkerCount sets the number of refresh workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the maximum number of pending async refreshes.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithRecommendLimits sets the default and maximum recommendation size.
func WithRecommendLimits(def, maxLimit int) Option {
	return func(s *Service) {
		s.defaultLimit = def
		s.maxLimit = maxLimit
	}
}

// WithRefreshTimeout bounds one queued refresh.
func WithRefreshTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.refreshTimeout = d
		}
	}
}

// WithClock overrides time.Now for every component.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a Service. Without options it runs entirely in memory.
func New(opts ...Option) *Service {
	s := &Service{
		events:         eventlog.NewMemory(),
		store:          repository.NewMemoryStore(),
		locker:         lock.NewLocal(),
		notifier:       notify.Nop{},
		priorStrength:  scoring.DefaultPriorStrength,
		priorPolicy:    prior.PolicyRecompute,
		priorMaxAge:    24 * time.Hour,
		periods:        model.Periods(),
		workerCount:    1,
		queueSize:      16,
		defaultLimit:   5,
		maxLimit:       50,
		refreshTimeout: 10 * time.Minute,
		now:            time.Now,
		logger:         logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.scorer = scoring.NewBayesianScorer(scoring.WithPriorStrength(s.priorStrength))
	s.priors = prior.New(s.events, s.store,
		prior.WithLogger(s.logger.Named("prior")),
		prior.WithClock(s.now),
		prior.WithPolicy(s.priorPolicy, s.priorMaxAge),
	)
	agg := aggregate.New(s.events, aggregate.WithLogger(s.logger.Named("aggregate")))
	s.refresh = NewOrchestrator(s.priors, agg, s.scorer, s.store,
		WithOrchestratorLocker(s.locker),
		WithOrchestratorNotifier(s.notifier),
		WithOrchestratorPeriods(s.periods...),
		WithOrchestratorClock(s.now),
		WithOrchestratorLogger(s.logger.Named("refresh")),
	)
	s.engine = recommend.New(s.store,
		recommend.WithLimits(s.defaultLimit, s.maxLimit),
		recommend.WithLogger(s.logger.Named("recommend")),
	)
	s.queue = queue.NewInMemoryQueue(queue.WithCapacity(s.queueSize))
	s.pending = dedupe.NewInMemoryDeduper()
	s.pool = worker.NewPool(s.workerCount, s.queue, s,
		worker.WithLogger(s.logger),
		worker.WithJobTimeout(s.refreshTimeout),
	)
	return s
}

// Serve runs the refresh workers until ctx is canceled.
func (s *Service) Serve(ctx context.Context) error {
	s.logger.Info(ctx, "refresh workers started",
		logger.Int("workers", s.pool.Size()),
		logger.Int("queueSize", s.queue.Capacity()),
	)
	err := s.pool.Serve(ctx)
	s.logger.Info(context.Background(), "refresh workers stopped")
	return err
}

// String names the service in supervisor logs.
func (s *Service) String() string { return "refresh-service" }

// Stop closes the queue, the notifier and the store. It is idempotent.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true

	ctx := context.Background()
	if err := s.queue.Close(); err != nil {
		s.logger.Error(ctx, "close refresh queue", logger.Error(err))
	}
	if err := s.notifier.Close(); err != nil {
		s.logger.Error(ctx, "close notifier", logger.Error(err))
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error(ctx, "close stats store", logger.Error(err))
	}
	s.logger.Info(ctx, "service stopped")
}

// Refresh rebuilds the given periods, or every configured period, now.
func (s *Service) Refresh(ctx context.Context, periods ...model.Period) ([]Report, error) {
	if len(periods) == 1 {
		rep, err := s.refresh.Refresh(ctx, periods[0])
		if err != nil {
			return nil, err
		}
		return []Report{rep}, nil
	}
	return s.refresh.RefreshAll(ctx, periods...)
}

// EnqueueRefresh queues an async refresh and returns its request id. A
// request for the same periods that is still waiting in the queue absorbs it.
func (s *Service) EnqueueRefresh(ctx context.Context, reason string, periods ...model.Period) (string, error) {
	for _, p := range periods {
		if !p.Valid() {
			return "", fmt.Errorf("refresh: unknown period %q", p)
		}
	}
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return "", ErrNotStarted
	}

	key := s.pendingKey(periods)
	if s.pending.SeenAndRecord(ctx, key) {
		return "", fmt.Errorf("%w: %s", ErrRefreshPending, key)
	}
	req := queue.Request{ID: uuid.NewString(), Periods: periods, Reason: reason, RequestedAt: s.now()}
	if !s.queue.Enqueue(ctx, req) {
		s.pending.Unrecord(ctx, key)
		return "", ErrQueueFull
	}
	s.logger.Debug(ctx, "refresh queued",
		logger.String("request_id", req.ID),
		logger.String("reason", reason),
		logger.String("periods", key))
	return req.ID, nil
}

// HandleRefresh runs a queued request; it makes Service a worker.Handler.
// The pending mark is cleared first so requests arriving mid-run queue again.
func (s *Service) HandleRefresh(ctx context.Context, r queue.Request) error {
	s.pending.Unrecord(ctx, s.pendingKey(r.Periods))
	_, err := s.refresh.RefreshAll(ctx, r.Periods...)
	return err
}

// pendingKey names a period set independent of order; empty means all.
func (s *Service) pendingKey(periods []model.Period) string {
	if len(periods) == 0 {
		periods = s.periods
	}
	names := make([]string, 0, len(periods))
	for _, p := range periods {
		names = append(names, p.String())
	}
	slices.Sort(names)
	return strings.Join(slices.Compact(names), ",")
}

// Recommend ranks hospitals for a filter.
func (s *Service) Recommend(ctx context.Context, q recommend.Query) (recommend.Recommendation, error) {
	return s.engine.Recommend(ctx, q)
}

// Hospital returns a hospital's performance card.
func (s *Service) Hospital(ctx context.Context, id int64) (recommend.Card, error) {
	return s.engine.Show(ctx, id)
}

// Dashboard ranks every hospital's overall row for period.
func (s *Service) Dashboard(ctx context.Context, period model.Period) (recommend.Dashboard, error) {
	return s.engine.Dashboard(ctx, period)
}

// Prior returns the stored global prior.
func (s *Service) Prior(ctx context.Context) (model.GlobalPrior, error) {
	return s.priors.Current(ctx)
}

// RecomputePrior recomputes and stores the global prior.
func (s *Service) RecomputePrior(ctx context.Context) (model.GlobalPrior, error) {
	return s.priors.Recompute(ctx)
}

// Simulate shows how shrinkage treats the default scenarios. A nil globalRate
// means the stored prior's booking rate; a nil m means the configured strength.
func (s *Service) Simulate(ctx context.Context, globalRate, m *float64) ([]scoring.Outcome, error) {
	strength := s.scorer.PriorStrength()
	if m != nil {
		strength = *m
	}
	rate := defaultSimulationRate
	if globalRate != nil {
		rate = *globalRate
	} else {
		p, err := s.priors.Current(ctx)
		switch {
		case err == nil:
			rate = p.BookingRate
		case !errors.Is(err, prior.ErrNoPrior):
			return nil, err
		}
	}
	return scoring.Simulate(rate, strength, scoring.DefaultScenarios())
}

// Stats describes the service for monitoring.
type Stats struct {
	Periods       []repository.PeriodSummary
	Prior         *model.GlobalPrior
	QueueLength   int
	QueueCapacity int
	Workers       int
	PriorStrength float64
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) (Stats, error) {
	summaries, err := s.store.Summary(ctx)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{
		Periods:       summaries,
		QueueLength:   s.queue.Len(),
		QueueCapacity: s.queue.Capacity(),
		Workers:       s.pool.Size(),
		PriorStrength: s.scorer.PriorStrength(),
	}
	p, err := s.priors.Current(ctx)
	switch {
	case err == nil:
		st.Prior = &p
	case !errors.Is(err, prior.ErrNoPrior):
		return Stats{}, err
	}
	metrics.UpdateWorkerCount(st.Workers)
	return st, nil
}

// Periods returns the periods a full refresh covers.
func (s *Service) Periods() []model.Period {
	return append([]model.Period(nil), s.periods...)
}

var _ worker.Handler = (*Service)(nil)
