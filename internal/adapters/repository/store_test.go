package repository

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/okian/medrank/internal/domain/model"
)

var computed = time.Date(2026, 7, 1, 2, 0, 0, 0, time.UTC)

func stat(hospital int64, p model.Period, score float64, dims ...func(*model.SegmentKey)) model.PerformanceStat {
	k := model.SegmentKey{HospitalID: hospital, Period: p}
	for _, d := range dims {
		d(&k)
	}
	return model.PerformanceStat{
		Key: k, LeadsSent: 10, LeadsBooked: 4, BookingRate: 0.4,
		BayesianScore: score, ConfidenceLevel: 0.5, SampleSize: 10, ComputedAt: computed,
	}
}

func withTreatment(id int64) func(*model.SegmentKey) {
	return func(k *model.SegmentKey) { k.TreatmentID = sql.NullInt64{Int64: id, Valid: true} }
}

func withLanguage(l string) func(*model.SegmentKey) {
	return func(k *model.SegmentKey) { k.Language = sql.NullString{String: l, Valid: true} }
}

// runStoreContract exercises the behaviour every backend must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("replace then find with exact filters", func(t *testing.T) {
		s := newStore(t)
		rows := []model.PerformanceStat{
			stat(1, model.PeriodLast30d, 0.5),
			stat(2, model.PeriodLast30d, 0.6),
			stat(1, model.PeriodLast30d, 0.7, withTreatment(3)),
			stat(1, model.PeriodLast30d, 0.2, withLanguage("ko")),
		}
		require.NoError(t, s.ReplacePeriod(ctx, model.PeriodLast30d, rows))

		overall, err := s.Find(ctx, model.PeriodLast30d, model.Filter{})
		require.NoError(t, err)
		require.Len(t, overall, 2)
		for _, r := range overall {
			require.Equal(t, model.DimensionOverall, r.Key.Dimension())
		}

		tid := int64(3)
		byTreatment, err := s.Find(ctx, model.PeriodLast30d, model.Filter{TreatmentID: &tid})
		require.NoError(t, err)
		require.Len(t, byTreatment, 1)
		require.Equal(t, 0.7, byTreatment[0].BayesianScore)
		require.True(t, computed.Equal(byTreatment[0].ComputedAt))

		lang := "ko"
		both, err := s.Find(ctx, model.PeriodLast30d, model.Filter{TreatmentID: &tid, Language: &lang})
		require.NoError(t, err)
		require.Empty(t, both)

		none, err := s.Find(ctx, model.PeriodLast90d, model.Filter{})
		require.NoError(t, err)
		require.Empty(t, none)
	})

	t.Run("replace swaps only the named period", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.ReplacePeriod(ctx, model.PeriodLast30d, []model.PerformanceStat{stat(1, model.PeriodLast30d, 0.5)}))
		require.NoError(t, s.ReplacePeriod(ctx, model.PeriodAllTime, []model.PerformanceStat{stat(1, model.PeriodAllTime, 0.4)}))
		require.NoError(t, s.ReplacePeriod(ctx, model.PeriodLast30d, []model.PerformanceStat{stat(2, model.PeriodLast30d, 0.9)}))

		recent, err := s.Find(ctx, model.PeriodLast30d, model.Filter{})
		require.NoError(t, err)
		require.Len(t, recent, 1)
		require.EqualValues(t, 2, recent[0].Key.HospitalID)

		all, err := s.Find(ctx, model.PeriodAllTime, model.Filter{})
		require.NoError(t, err)
		require.Len(t, all, 1)

		h1, err := s.Hospital(ctx, 1)
		require.NoError(t, err)
		require.Len(t, h1, 1)
		require.Equal(t, model.PeriodAllTime, h1[0].Key.Period)

		sum, err := s.Summary(ctx)
		require.NoError(t, err)
		require.Len(t, sum, 3)
		for _, ps := range sum {
			switch ps.Period {
			case model.PeriodLast30d, model.PeriodAllTime:
				require.Equal(t, 1, ps.Rows)
			default:
				require.Zero(t, ps.Rows)
			}
		}
	})

	t.Run("invalid snapshots are rejected and the old one kept", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.ReplacePeriod(ctx, model.PeriodLast30d, []model.PerformanceStat{stat(1, model.PeriodLast30d, 0.5)}))

		err := s.ReplacePeriod(ctx, model.PeriodLast30d, []model.PerformanceStat{stat(1, model.PeriodLast90d, 0.5)})
		require.ErrorIs(t, err, ErrInvalidSnapshot)

		dup := stat(2, model.PeriodLast30d, 0.1)
		err = s.ReplacePeriod(ctx, model.PeriodLast30d, []model.PerformanceStat{dup, dup})
		require.ErrorIs(t, err, ErrInvalidSnapshot)

		blank := stat(2, model.PeriodLast30d, 0.1, withLanguage(""))
		err = s.ReplacePeriod(ctx, model.PeriodLast30d, []model.PerformanceStat{stat(2, model.PeriodLast30d, 0.2), blank})
		require.ErrorIs(t, err, ErrInvalidSnapshot)

		rows, err := s.Find(ctx, model.PeriodLast30d, model.Filter{})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		require.EqualValues(t, 1, rows[0].Key.HospitalID)
	})

	t.Run("prior is a versioned singleton", func(t *testing.T) {
		s := newStore(t)
		_, ok, err := s.Prior(ctx)
		require.NoError(t, err)
		require.False(t, ok)

		p1, err := s.SavePrior(ctx, model.GlobalPrior{BookingRate: 0.3, SampleSize: 100, CalculatedAt: computed})
		require.NoError(t, err)
		require.EqualValues(t, 1, p1.Version)

		p2, err := s.SavePrior(ctx, model.GlobalPrior{BookingRate: 0.25, SampleSize: 120, CalculatedAt: computed.Add(time.Hour)})
		require.NoError(t, err)
		require.EqualValues(t, 2, p2.Version)

		got, ok, err := s.Prior(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, 0.25, got.BookingRate)
		require.Equal(t, 120, got.SampleSize)
		require.EqualValues(t, 2, got.Version)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		s := NewMemoryStore()
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestMemoryStoreReadersSeeWholeSnapshots(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	gen := func(score float64) []model.PerformanceStat {
		out := make([]model.PerformanceStat, 0, 50)
		for h := int64(1); h <= 50; h++ {
			out = append(out, stat(h, model.PeriodLast30d, score))
		}
		return out
	}
	require.NoError(t, s.ReplacePeriod(ctx, model.PeriodLast30d, gen(0.1)))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_ = s.ReplacePeriod(ctx, model.PeriodLast30d, gen(float64(i%2)))
		}
		close(stop)
	}()

	for {
		select {
		case <-stop:
			wg.Wait()
			return
		default:
		}
		rows, err := s.Find(ctx, model.PeriodLast30d, model.Filter{})
		require.NoError(t, err)
		require.Len(t, rows, 50)
		for _, r := range rows {
			if r.BayesianScore != rows[0].BayesianScore {
				t.Fatalf("observed a mixed snapshot")
			}
		}
	}
}

func TestMemoryStoreClosed(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Close())
	require.ErrorIs(t, s.ReplacePeriod(context.Background(), model.PeriodLast30d, nil), ErrClosed)
}

func TestBoltStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		s, err := OpenBolt(filepath.Join(t.TempDir(), "stats.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestBoltStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "stats.db")

	s, err := OpenBolt(path)
	require.NoError(t, err)
	require.NoError(t, s.ReplacePeriod(ctx, model.PeriodLast90d, []model.PerformanceStat{stat(4, model.PeriodLast90d, 0.45, withLanguage("en"))}))
	require.NoError(t, s.Close())

	s, err = OpenBolt(path)
	require.NoError(t, err)
	defer s.Close()

	rows, err := s.Hospital(ctx, 4)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "en", rows[0].Key.Language.String)
	require.False(t, rows[0].Key.TreatmentID.Valid)
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("MEDRANK_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("MEDRANK_TEST_POSTGRES_DSN not set")
	}
	require.NoError(t, Migrate(dsn))

	runStoreContract(t, func(t *testing.T) Store {
		ctx := context.Background()
		pool, err := pgxpool.New(ctx, dsn)
		require.NoError(t, err)
		_, err = pool.Exec(ctx, `TRUNCATE hospital_performance_stats; DELETE FROM hospital_performance_global_avg`)
		require.NoError(t, err)
		s := NewPostgresStore(pool)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestRowKeyGroupsHospitals(t *testing.T) {
	a := rowKey(model.SegmentKey{HospitalID: 1, Period: model.PeriodLast30d, Country: sql.NullString{String: "ZZ", Valid: true}})
	b := rowKey(model.SegmentKey{HospitalID: 2, Period: model.PeriodLast30d})
	require.True(t, string(a) < string(b))
}
