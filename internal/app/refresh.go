package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/medrank/internal/adapters/lock"
	"github.com/okian/medrank/internal/adapters/notify"
	"github.com/okian/medrank/internal/domain/aggregate"
	"github.com/okian/medrank/internal/domain/model"
	"github.com/okian/medrank/internal/domain/prior"
	"github.com/okian/medrank/internal/domain/scoring"
	"github.com/okian/medrank/pkg/logger"
	"github.com/okian/medrank/pkg/metrics"
)

// PriorResolver yields the prior for a refresh pass.
type PriorResolver interface {
	Resolve(ctx context.Context) (model.GlobalPrior, error)
	Current(ctx context.Context) (model.GlobalPrior, error)
}

// Aggregator groups a period's events into segments.
type Aggregator interface {
	Aggregate(ctx context.Context, p model.Period, now time.Time) (aggregate.Result, error)
}

// SnapshotWriter swaps in a period's rows.
type SnapshotWriter interface {
	ReplacePeriod(ctx context.Context, period model.Period, stats []model.PerformanceStat) error
}

// Report summarizes one committed period refresh.
type Report struct {
	RunID       string
	Period      model.Period
	Prior       model.GlobalPrior
	Scanned     int
	Segments    int
	Failures    []aggregate.SegmentError
	Dropped     int
	Duration    time.Duration
	CompletedAt time.Time
}

// Orchestrator runs prior, aggregation, scoring and the snapshot swap for a
// period. The previous snapshot stays visible until the swap commits.
type Orchestrator struct {
	priors   PriorResolver
	agg      Aggregator
	scorer   scoring.Scorer
	store    SnapshotWriter
	locker   lock.Locker
	notifier notify.Notifier
	periods  []model.Period
	now      func() time.Time
	log      logger.Logger
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithOrchestratorLocker sets the lock that keeps one refresh per period.
func WithOrchestratorLocker(l lock.Locker) OrchestratorOption {
	return func(o *Orchestrator) {
		if l != nil {
			o.locker = l
		}
	}
}

// WithOrchestratorNotifier sets where snapshot events are published.
func WithOrchestratorNotifier(n notify.Notifier) OrchestratorOption {
	return func(o *Orchestrator) {
		if n != nil {
			o.notifier = n
		}
	}
}

// WithOrchestratorPeriods sets the periods RefreshAll covers when none are named.
func WithOrchestratorPeriods(ps ...model.Period) OrchestratorOption {
	return func(o *Orchestrator) {
		if len(ps) > 0 {
			o.periods = ps
		}
	}
}

// WithOrchestratorClock overrides time.Now.
func WithOrchestratorClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithOrchestratorLogger sets the logger.
func WithOrchestratorLogger(l logger.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if l != nil {
			o.log = l
		}
	}
}

// NewOrchestrator wires the refresh pipeline.
func NewOrchestrator(priors PriorResolver, agg Aggregator, scorer scoring.Scorer, store SnapshotWriter, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		priors:   priors,
		agg:      agg,
		scorer:   scorer,
		store:    store,
		locker:   lock.NewLocal(),
		notifier: notify.Nop{},
		periods:  model.Periods(),
		now:      time.Now,
		log:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Refresh rebuilds one period. A second concurrent call for the same period
// fails with ErrRefreshInProgress.
func (o *Orchestrator) Refresh(ctx context.Context, p model.Period) (Report, error) {
	if !p.Valid() {
		return Report{}, fmt.Errorf("refresh: unknown period %q", p)
	}
	release, err := o.acquire(ctx, p)
	if err != nil {
		return Report{}, err
	}
	defer o.releaseLock(ctx, p, release)

	pr, err := o.resolvePrior(ctx)
	if err != nil {
		metrics.RecordRefresh(p.String(), "failed", 0)
		return Report{}, err
	}
	return o.run(ctx, uuid.NewString(), p, pr)
}

// RefreshAll resolves one prior and refreshes every period concurrently with
// it. Reports for committed periods are returned alongside the joined errors of
// the ones that failed.
func (o *Orchestrator) RefreshAll(ctx context.Context, periods ...model.Period) ([]Report, error) {
	if len(periods) == 0 {
		periods = o.periods
	}
	for _, p := range periods {
		if !p.Valid() {
			return nil, fmt.Errorf("refresh: unknown period %q", p)
		}
	}

	pr, err := o.resolvePrior(ctx)
	if err != nil {
		for _, p := range periods {
			metrics.RecordRefresh(p.String(), "failed", 0)
		}
		return nil, err
	}

	runID := uuid.NewString()
	var (
		wg      sync.WaitGroup
		reports = make([]Report, len(periods))
		errs    = make([]error, len(periods))
	)
	for i, p := range periods {
		wg.Add(1)
		go func(i int, p model.Period) {
			defer wg.Done()
			release, err := o.acquire(ctx, p)
			if err != nil {
				errs[i] = err
				return
			}
			defer o.releaseLock(ctx, p, release)
			reports[i], errs[i] = o.run(ctx, runID, p, pr)
		}(i, p)
	}
	wg.Wait()

	out := make([]Report, 0, len(periods))
	for i, p := range periods {
		if errs[i] == nil {
			out = append(out, reports[i])
			continue
		}
		errs[i] = &PeriodError{Period: p, Err: errs[i]}
	}
	return out, errors.Join(errs...)
}

func lockKey(p model.Period) string { return "refresh:" + p.String() }

func (o *Orchestrator) acquire(ctx context.Context, p model.Period) (lock.Release, error) {
	release, err := o.locker.TryLock(ctx, lockKey(p))
	if errors.Is(err, lock.ErrLocked) {
		metrics.RecordRefresh(p.String(), "busy", 0)
		o.log.Warn(ctx, "refresh rejected: already running", logger.String("period", p.String()))
		return nil, fmt.Errorf("%w: %s", ErrRefreshInProgress, p)
	}
	if err != nil {
		metrics.RecordRefresh(p.String(), "failed", 0)
		return nil, fmt.Errorf("lock %s: %w", p, err)
	}
	return release, nil
}

func (o *Orchestrator) releaseLock(ctx context.Context, p model.Period, release lock.Release) {
	// The pass context may already be canceled; unlocking must still happen.
	if err := release(context.WithoutCancel(ctx)); err != nil {
		o.log.Error(ctx, "release refresh lock", logger.String("period", p.String()), logger.Error(err))
	}
}

// resolvePrior falls back to the stored prior when the log is momentarily
// empty, so a refresh keeps scoring against the last known baseline.
func (o *Orchestrator) resolvePrior(ctx context.Context) (model.GlobalPrior, error) {
	pr, err := o.priors.Resolve(ctx)
	if err == nil {
		return pr, nil
	}
	if !errors.Is(err, prior.ErrInsufficientData) {
		return model.GlobalPrior{}, fmt.Errorf("resolve prior: %w", err)
	}
	stored, cerr := o.priors.Current(ctx)
	if cerr != nil {
		return model.GlobalPrior{}, fmt.Errorf("resolve prior: %w", err)
	}
	o.log.Warn(ctx, "no events for prior; using stored prior", logger.Int64("version", stored.Version))
	return stored, nil
}

func (o *Orchestrator) run(ctx context.Context, runID string, p model.Period, pr model.GlobalPrior) (Report, error) {
	start := time.Now()
	metrics.SetRefreshInProgress(p.String(), true)
	defer metrics.SetRefreshInProgress(p.String(), false)

	fail := func(err error) (Report, error) {
		outcome := "failed"
		if ctx.Err() != nil {
			outcome = "aborted"
		}
		metrics.RecordRefresh(p.String(), outcome, time.Since(start))
		o.log.Error(ctx, "refresh failed",
			logger.String("run_id", runID),
			logger.String("period", p.String()),
			logger.String("outcome", outcome),
			logger.Error(err))
		return Report{}, err
	}

	now := o.now().UTC()
	res, err := o.agg.Aggregate(ctx, p, now)
	if err != nil {
		return fail(err)
	}

	stats := make([]model.PerformanceStat, 0, len(res.Segments))
	failures := res.Failures
	var scoreFailures int
	for _, seg := range res.Segments {
		st, err := scoring.ScoreSegment(ctx, o.scorer, seg, pr, now)
		if err != nil {
			if ctx.Err() != nil {
				return fail(ctx.Err())
			}
			scoreFailures++
			failures = append(failures, aggregate.SegmentError{Key: seg.Key, Err: err})
			o.log.Warn(ctx, "segment not scored", logger.String("segment", seg.Key.String()), logger.Error(err))
			continue
		}
		stats = append(stats, st)
	}

	if err := ctx.Err(); err != nil {
		return fail(err)
	}
	if err := o.store.ReplacePeriod(ctx, p, stats); err != nil {
		return fail(fmt.Errorf("replace %s: %w", p, err))
	}

	rep := Report{
		RunID:       runID,
		Period:      p,
		Prior:       pr,
		Scanned:     res.Scanned,
		Segments:    len(stats),
		Failures:    failures,
		Dropped:     res.Dropped,
		Duration:    time.Since(start),
		CompletedAt: now,
	}
	o.record(rep, stats, len(res.Failures), scoreFailures)
	o.publish(ctx, rep)

	o.log.Info(ctx, "period refreshed",
		logger.String("run_id", runID),
		logger.String("period", p.String()),
		logger.Int("segments", rep.Segments),
		logger.Int("failures", len(failures)),
		logger.Int("dropped", rep.Dropped),
		logger.Int64("prior_version", pr.Version),
		logger.Duration("took", rep.Duration))
	return rep, nil
}

func (o *Orchestrator) record(rep Report, stats []model.PerformanceStat, aggFailures, scoreFailures int) {
	period := rep.Period.String()
	byDim := make(map[model.Dimension]int, len(model.Dimensions()))
	for _, d := range model.Dimensions() {
		byDim[d] = 0
	}
	for _, st := range stats {
		byDim[st.Key.Dimension()]++
	}
	for d, n := range byDim {
		metrics.UpdateSegmentsScored(period, string(d), n)
	}
	metrics.RecordSegmentFailures(period, "aggregate", aggFailures)
	metrics.RecordSegmentFailures(period, "score", scoreFailures)
	metrics.RecordEventsScanned(period, rep.Scanned, rep.Dropped)
	metrics.RecordRefresh(period, "success", rep.Duration)
}

func (o *Orchestrator) publish(ctx context.Context, rep Report) {
	err := o.notifier.Notify(ctx, notify.SnapshotRefreshed{
		Type:         notify.EventSnapshotRefreshed,
		RunID:        rep.RunID,
		Period:       rep.Period,
		Segments:     rep.Segments,
		Failures:     len(rep.Failures),
		Dropped:      rep.Dropped,
		PriorVersion: rep.Prior.Version,
		BookingRate:  rep.Prior.BookingRate,
		CompletedAt:  rep.CompletedAt,
	})
	if err != nil {
		metrics.RecordNotificationFailure()
		o.log.Warn(ctx, "snapshot notification failed", logger.String("period", rep.Period.String()), logger.Error(err))
	}
}

var _ PriorResolver = (*prior.Estimator)(nil)
