// Package prior estimates the platform-wide conversion rates every segment
// score is shrunk toward.
package prior

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/medrank/internal/domain/model"
	"github.com/okian/medrank/pkg/logger"
	"github.com/okian/medrank/pkg/metrics"
)

// Source streams raw outcome events sent at or after since.
type Source interface {
	Scan(ctx context.Context, since time.Time, fn func(model.RawOutcomeEvent) error) error
}

// Store persists the singleton prior.
type Store interface {
	// Prior returns the stored prior; ok is false when none was ever saved.
	Prior(ctx context.Context) (p model.GlobalPrior, ok bool, err error)
	// SavePrior upserts the singleton and returns it with its new version.
	SavePrior(ctx context.Context, p model.GlobalPrior) (model.GlobalPrior, error)
}

// Policy decides how a refresh pass obtains its prior.
type Policy string

const (
	// PolicyRecompute recomputes the prior at the start of every pass.
	PolicyRecompute Policy = "recompute"
	// PolicyReuse keeps a stored prior younger than the max age.
	PolicyReuse Policy = "reuse"
)

// Estimator recomputes and serves the global prior.
type Estimator struct {
	src    Source
	store  Store
	log    logger.Logger
	now    func() time.Time
	policy Policy
	maxAge time.Duration
}

// Option configures an Estimator.
type Option func(*Estimator)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Estimator) {
		if l != nil {
			e.log = l
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Estimator) {
		if now != nil {
			e.now = now
		}
	}
}

// WithPolicy sets how Resolve obtains a prior. maxAge only matters for PolicyReuse.
func WithPolicy(p Policy, maxAge time.Duration) Option {
	return func(e *Estimator) {
		if p == PolicyRecompute || p == PolicyReuse {
			e.policy = p
		}
		if maxAge > 0 {
			e.maxAge = maxAge
		}
	}
}

// New creates an Estimator reading events from src and persisting to store.
func New(src Source, store Store, opts ...Option) *Estimator {
	e := &Estimator{
		src:    src,
		store:  store,
		log:    logger.Nop(),
		now:    time.Now,
		policy: PolicyRecompute,
		maxAge: 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Tally accumulates status counts for a prior.
type Tally struct {
	Total      int
	Interested int
	Booked     int
	Completed  int
}

// Add counts one event. Pending leads count toward the total.
func (t *Tally) Add(s model.ResponseStatus) {
	t.Total++
	if s.IsInterested() {
		t.Interested++
	}
	if s.IsBooked() {
		t.Booked++
	}
	if s.IsCompleted() {
		t.Completed++
	}
}

// Prior turns the counts into rates. An empty tally has no prior.
func (t Tally) Prior(at time.Time) (model.GlobalPrior, error) {
	if t.Total == 0 {
		return model.GlobalPrior{}, ErrInsufficientData
	}
	n := float64(t.Total)
	return model.GlobalPrior{
		InterestRate:   float64(t.Interested) / n,
		BookingRate:    float64(t.Booked) / n,
		CompletionRate: float64(t.Completed) / n,
		SampleSize:     t.Total,
		CalculatedAt:   at,
	}, nil
}

// Recompute scans every event ever sent and upserts the prior. With no events
// it returns ErrInsufficientData and leaves the stored prior untouched.
func (e *Estimator) Recompute(ctx context.Context) (model.GlobalPrior, error) {
	var (
		tally   Tally
		skipped int
	)
	err := e.src.Scan(ctx, time.Time{}, func(ev model.RawOutcomeEvent) error {
		// Rates depend on status alone; timestamp anomalies still count.
		if !ev.Status.Valid() {
			skipped++
			return nil
		}
		tally.Add(ev.Status)
		return nil
	})
	if err != nil {
		return model.GlobalPrior{}, fmt.Errorf("scan events for prior: %w", err)
	}
	if skipped > 0 {
		e.log.Warn(ctx, "events with unknown status excluded from prior", logger.Int("skipped", skipped))
	}

	p, err := tally.Prior(e.now().UTC())
	if err != nil {
		e.log.Warn(ctx, "global prior not recomputed: no events")
		return model.GlobalPrior{}, err
	}

	saved, err := e.store.SavePrior(ctx, p)
	if err != nil {
		return model.GlobalPrior{}, fmt.Errorf("save prior: %w", err)
	}
	metrics.UpdateGlobalPrior(saved.InterestRate, saved.BookingRate, saved.CompletionRate, saved.SampleSize)
	e.log.Info(ctx, "global prior recomputed",
		logger.Int("sample_size", saved.SampleSize),
		logger.Float64("booking_rate", saved.BookingRate),
		logger.Int64("version", saved.Version))
	return saved, nil
}

// Current returns the stored prior, or ErrNoPrior.
func (e *Estimator) Current(ctx context.Context) (model.GlobalPrior, error) {
	p, ok, err := e.store.Prior(ctx)
	if err != nil {
		return model.GlobalPrior{}, fmt.Errorf("load prior: %w", err)
	}
	if !ok {
		return model.GlobalPrior{}, ErrNoPrior
	}
	return p, nil
}

// Resolve returns the prior a refresh pass should use, following the policy.
// The returned value is a snapshot; callers must not re-read it mid-pass.
func (e *Estimator) Resolve(ctx context.Context) (model.GlobalPrior, error) {
	if e.policy == PolicyReuse {
		p, ok, err := e.store.Prior(ctx)
		if err != nil {
			return model.GlobalPrior{}, fmt.Errorf("load prior: %w", err)
		}
		if ok && e.now().Sub(p.CalculatedAt) < e.maxAge {
			e.log.Debug(ctx, "reusing stored prior", logger.Int64("version", p.Version))
			return p, nil
		}
	}
	return e.Recompute(ctx)
}
