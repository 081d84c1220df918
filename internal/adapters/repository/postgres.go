package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/okian/medrank/internal/domain/model"
	"github.com/okian/medrank/pkg/logger"
	"github.com/okian/medrank/pkg/metrics"
)

const backendPostgres = "postgres"

const statColumns = `hospital_id, treatment_id, country, language, period,
       leads_sent, leads_interested, leads_booked, leads_completed,
       interest_rate, booking_rate, completion_rate, avg_first_response_minutes,
       bayesian_score, confidence_level, sample_size, computed_at`

var copyColumns = []string{
	"hospital_id", "treatment_id", "country", "language", "period",
	"leads_sent", "leads_interested", "leads_booked", "leads_completed",
	"interest_rate", "booking_rate", "completion_rate", "avg_first_response_minutes",
	"bayesian_score", "confidence_level", "sample_size", "computed_at",
}

const (
	findSQL = `SELECT ` + statColumns + `
  FROM hospital_performance_stats
 WHERE period = $1
   AND treatment_id IS NOT DISTINCT FROM $2
   AND country IS NOT DISTINCT FROM $3
   AND language IS NOT DISTINCT FROM $4`

	hospitalSQL = `SELECT ` + statColumns + `
  FROM hospital_performance_stats
 WHERE hospital_id = $1`

	summarySQL = `SELECT period, COUNT(*), COUNT(DISTINCT hospital_id), MAX(computed_at)
  FROM hospital_performance_stats
 GROUP BY period`

	priorSQL = `SELECT global_interest_rate, global_booking_rate, global_completion_rate,
       sample_size, last_calculated_at, version
  FROM hospital_performance_global_avg
 WHERE id = 1`

	savePriorSQL = `INSERT INTO hospital_performance_global_avg
       (id, global_interest_rate, global_booking_rate, global_completion_rate, sample_size, last_calculated_at, version)
VALUES (1, $1, $2, $3, $4, $5, 1)
ON CONFLICT (id) DO UPDATE SET
       global_interest_rate   = EXCLUDED.global_interest_rate,
       global_booking_rate    = EXCLUDED.global_booking_rate,
       global_completion_rate = EXCLUDED.global_completion_rate,
       sample_size            = EXCLUDED.sample_size,
       last_calculated_at     = EXCLUDED.last_calculated_at,
       version                = hospital_performance_global_avg.version + 1
RETURNING version`
)

// PostgresStore keeps stats in hospital_performance_stats. Reads pass through a
// circuit breaker so a failing database degrades to fast ErrQuery responses.
type PostgresStore struct {
	pool    *pgxpool.Pool
	breaker *gobreaker.CircuitBreaker[any]
	log     logger.Logger
}

// PostgresOption configures a PostgresStore.
type PostgresOption func(*postgresConfig)

type postgresConfig struct {
	maxFailures uint32
	openTimeout time.Duration
	log         logger.Logger
}

// WithBreaker sets how many consecutive read failures open the breaker and how
// long it stays open.
func WithBreaker(maxFailures uint32, openTimeout time.Duration) PostgresOption {
	return func(c *postgresConfig) {
		if maxFailures > 0 {
			c.maxFailures = maxFailures
		}
		if openTimeout > 0 {
			c.openTimeout = openTimeout
		}
	}
}

// WithPostgresLogger sets the logger for breaker state changes.
func WithPostgresLogger(l logger.Logger) PostgresOption {
	return func(c *postgresConfig) {
		if l != nil {
			c.log = l
		}
	}
}

// NewPostgresStore wraps an existing pool.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) *PostgresStore {
	cfg := postgresConfig{maxFailures: 5, openTimeout: 30 * time.Second, log: logger.Nop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &PostgresStore{pool: pool, log: cfg.log}
	s.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "stats-store",
		MaxRequests: 1,
		Timeout:     cfg.openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.maxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.log.Warn(context.Background(), "circuit breaker state changed",
				logger.String("breaker", name), logger.String("from", from.String()), logger.String("to", to.String()))
		},
	})
	return s
}

// ReplacePeriod implements Store with DELETE + COPY in one transaction.
func (s *PostgresStore) ReplacePeriod(ctx context.Context, period model.Period, stats []model.PerformanceStat) error {
	start := time.Now()
	if err := checkSnapshot(period, stats); err != nil {
		return err
	}
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM hospital_performance_stats WHERE period = $1`, string(period)); err != nil {
			return fmt.Errorf("clear %s: %w", period, err)
		}
		_, err := tx.CopyFrom(ctx, pgx.Identifier{"hospital_performance_stats"}, copyColumns,
			pgx.CopyFromSlice(len(stats), func(i int) ([]any, error) {
				r := toRecord(stats[i])
				return []any{
					r.HospitalID, r.TreatmentID, r.Country, r.Language, r.Period,
					r.LeadsSent, r.LeadsInterested, r.LeadsBooked, r.LeadsCompleted,
					r.InterestRate, r.BookingRate, r.CompletionRate, r.AvgFirstResp,
					r.BayesianScore, r.ConfidenceLevel, r.SampleSize, r.ComputedAt,
				}, nil
			}))
		if err != nil {
			return fmt.Errorf("copy %s rows: %w", period, err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("replace %s: %w", period, err)
	}
	metrics.UpdateStoreRows(period.String(), len(stats))
	metrics.RecordStoreWriteLatency(backendPostgres, msSince(start))
	return nil
}

func (s *PostgresStore) read(fn func() (any, error)) (any, error) {
	start := time.Now()
	v, err := s.breaker.Execute(fn)
	metrics.RecordStoreQueryLatency(backendPostgres, msSince(start))
	if err != nil {
		metrics.RecordStoreQueryError(backendPostgres)
		return nil, fmt.Errorf("%w: %v", ErrQuery, err)
	}
	return v, nil
}

func (s *PostgresStore) queryStats(ctx context.Context, sql string, args ...any) ([]model.PerformanceStat, error) {
	v, err := s.read(func() (any, error) {
		rows, err := s.pool.Query(ctx, sql, args...)
		if err != nil {
			return nil, err
		}
		return pgx.CollectRows(rows, scanStat)
	})
	if err != nil {
		return nil, err
	}
	out := v.([]model.PerformanceStat)
	sortByKey(out)
	return out, nil
}

func scanStat(row pgx.CollectableRow) (model.PerformanceStat, error) {
	var r statRecord
	err := row.Scan(
		&r.HospitalID, &r.TreatmentID, &r.Country, &r.Language, &r.Period,
		&r.LeadsSent, &r.LeadsInterested, &r.LeadsBooked, &r.LeadsCompleted,
		&r.InterestRate, &r.BookingRate, &r.CompletionRate, &r.AvgFirstResp,
		&r.BayesianScore, &r.ConfidenceLevel, &r.SampleSize, &r.ComputedAt,
	)
	return r.stat(), err
}

// Find implements Store.
func (s *PostgresStore) Find(ctx context.Context, period model.Period, filter model.Filter) ([]model.PerformanceStat, error) {
	return s.queryStats(ctx, findSQL, string(period), filter.TreatmentID, filter.Country, filter.Language)
}

// Hospital implements Store.
func (s *PostgresStore) Hospital(ctx context.Context, hospitalID int64) ([]model.PerformanceStat, error) {
	return s.queryStats(ctx, hospitalSQL, hospitalID)
}

// Summary implements Store.
func (s *PostgresStore) Summary(ctx context.Context) ([]PeriodSummary, error) {
	v, err := s.read(func() (any, error) {
		rows, err := s.pool.Query(ctx, summarySQL)
		if err != nil {
			return nil, err
		}
		return pgx.CollectRows(rows, func(row pgx.CollectableRow) (PeriodSummary, error) {
			var (
				sum    PeriodSummary
				period string
			)
			err := row.Scan(&period, &sum.Rows, &sum.Hospitals, &sum.ComputedAt)
			sum.Period = model.Period(period)
			return sum, err
		})
	})
	if err != nil {
		return nil, err
	}
	found := make(map[model.Period]PeriodSummary)
	for _, sum := range v.([]PeriodSummary) {
		found[sum.Period] = sum
	}
	out := make([]PeriodSummary, 0, len(model.Periods()))
	for _, p := range model.Periods() {
		sum, ok := found[p]
		if !ok {
			sum = PeriodSummary{Period: p}
		}
		out = append(out, sum)
	}
	return out, nil
}

// Prior implements Store.
func (s *PostgresStore) Prior(ctx context.Context) (model.GlobalPrior, bool, error) {
	v, err := s.read(func() (any, error) {
		var r priorRecord
		err := s.pool.QueryRow(ctx, priorSQL).Scan(
			&r.InterestRate, &r.BookingRate, &r.CompletionRate, &r.SampleSize, &r.CalculatedAt, &r.Version)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return r, nil
	})
	if err != nil {
		return model.GlobalPrior{}, false, err
	}
	r, ok := v.(priorRecord)
	if !ok {
		return model.GlobalPrior{}, false, nil
	}
	return r.prior(), true, nil
}

// SavePrior implements Store.
func (s *PostgresStore) SavePrior(ctx context.Context, p model.GlobalPrior) (model.GlobalPrior, error) {
	err := s.pool.QueryRow(ctx, savePriorSQL,
		p.InterestRate, p.BookingRate, p.CompletionRate, p.SampleSize, p.CalculatedAt).Scan(&p.Version)
	if err != nil {
		return model.GlobalPrior{}, fmt.Errorf("save prior: %w", err)
	}
	return p, nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

var _ Store = (*PostgresStore)(nil)
