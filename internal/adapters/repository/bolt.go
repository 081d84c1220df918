package repository

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"go.etcd.io/bbolt"

	"github.com/okian/medrank/internal/domain/model"
	"github.com/okian/medrank/pkg/metrics"
)

const backendBolt = "bolt"

var (
	bucketStats   = []byte("stats")
	bucketSummary = []byte("summary")
	bucketPrior   = []byte("prior")
	keyPrior      = []byte("global")
)

// BoltStore persists stats in a single bbolt file. Each period is a nested
// bucket under "stats" that is dropped and rebuilt inside one write
// transaction.
type BoltStore struct {
	db *bbolt.DB
}

// OpenBolt opens or creates the database at path.
func OpenBolt(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout:      1 * time.Second,
		FreelistType: bbolt.FreelistArrayType,
	})
	if err != nil {
		return nil, fmt.Errorf("open bolt store: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketStats, bucketSummary, bucketPrior} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init bolt buckets: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// ReplacePeriod implements Store.
func (s *BoltStore) ReplacePeriod(ctx context.Context, period model.Period, stats []model.PerformanceStat) error {
	start := time.Now()
	if err := checkSnapshot(period, stats); err != nil {
		return err
	}
	sum := summarize(period, stats)
	sumBytes, err := json.Marshal(sum)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		root := tx.Bucket(bucketStats)
		name := []byte(period)
		if root.Bucket(name) != nil {
			if err := root.DeleteBucket(name); err != nil {
				return err
			}
		}
		b, err := root.CreateBucket(name)
		if err != nil {
			return err
		}
		for i, st := range stats {
			if i%512 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			v, err := encodeStat(st)
			if err != nil {
				return fmt.Errorf("encode %s: %w", st.Key, err)
			}
			if err := b.Put(rowKey(st.Key), v); err != nil {
				return err
			}
		}
		return tx.Bucket(bucketSummary).Put(name, sumBytes)
	})
	if err != nil {
		return fmt.Errorf("replace %s: %w", period, err)
	}
	metrics.UpdateStoreRows(period.String(), len(stats))
	metrics.RecordStoreWriteLatency(backendBolt, msSince(start))
	return nil
}

func (s *BoltStore) view(fn func(tx *bbolt.Tx) error) error {
	start := time.Now()
	err := s.db.View(fn)
	metrics.RecordStoreQueryLatency(backendBolt, msSince(start))
	if err != nil {
		metrics.RecordStoreQueryError(backendBolt)
		return fmt.Errorf("%w: %v", ErrQuery, err)
	}
	return nil
}

// Find implements Store.
func (s *BoltStore) Find(_ context.Context, period model.Period, filter model.Filter) ([]model.PerformanceStat, error) {
	var out []model.PerformanceStat
	err := s.view(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketStats).Bucket([]byte(period))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			st, err := decodeStat(v)
			if err != nil {
				return err
			}
			if filter.Matches(st.Key) {
				out = append(out, st)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortByKey(out)
	return out, nil
}

// Hospital implements Store.
func (s *BoltStore) Hospital(_ context.Context, hospitalID int64) ([]model.PerformanceStat, error) {
	prefix := hospitalPrefix(hospitalID)
	var out []model.PerformanceStat
	err := s.view(func(tx *bbolt.Tx) error {
		root := tx.Bucket(bucketStats)
		for _, p := range model.Periods() {
			b := root.Bucket([]byte(p))
			if b == nil {
				continue
			}
			c := b.Cursor()
			for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
				st, err := decodeStat(v)
				if err != nil {
					return err
				}
				out = append(out, st)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortByKey(out)
	return out, nil
}

// Summary implements Store.
func (s *BoltStore) Summary(_ context.Context) ([]PeriodSummary, error) {
	out := make([]PeriodSummary, 0, len(model.Periods()))
	err := s.view(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSummary)
		for _, p := range model.Periods() {
			sum := PeriodSummary{Period: p}
			if v := b.Get([]byte(p)); v != nil {
				if err := json.Unmarshal(v, &sum); err != nil {
					return err
				}
			}
			out = append(out, sum)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Prior implements Store.
func (s *BoltStore) Prior(_ context.Context) (model.GlobalPrior, bool, error) {
	var (
		rec priorRecord
		ok  bool
	)
	err := s.view(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketPrior).Get(keyPrior)
		if v == nil {
			return nil
		}
		ok = true
		return json.Unmarshal(v, &rec)
	})
	if err != nil || !ok {
		return model.GlobalPrior{}, false, err
	}
	return rec.prior(), true, nil
}

// SavePrior implements Store.
func (s *BoltStore) SavePrior(_ context.Context, p model.GlobalPrior) (model.GlobalPrior, error) {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketPrior)
		p.Version = 1
		if v := b.Get(keyPrior); v != nil {
			var cur priorRecord
			if err := json.Unmarshal(v, &cur); err != nil {
				return err
			}
			p.Version = cur.Version + 1
		}
		enc, err := json.Marshal(toPriorRecord(p))
		if err != nil {
			return err
		}
		return b.Put(keyPrior, enc)
	})
	if err != nil {
		return model.GlobalPrior{}, fmt.Errorf("save prior: %w", err)
	}
	return p, nil
}

// Close implements Store.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func toPriorRecord(p model.GlobalPrior) priorRecord {
	return priorRecord{
		InterestRate:   p.InterestRate,
		BookingRate:    p.BookingRate,
		CompletionRate: p.CompletionRate,
		SampleSize:     p.SampleSize,
		CalculatedAt:   p.CalculatedAt,
		Version:        p.Version,
	}
}

func (r priorRecord) prior() model.GlobalPrior {
	return model.GlobalPrior{
		InterestRate:   r.InterestRate,
		BookingRate:    r.BookingRate,
		CompletionRate: r.CompletionRate,
		SampleSize:     r.SampleSize,
		CalculatedAt:   r.CalculatedAt,
		Version:        r.Version,
	}
}

var _ Store = (*BoltStore)(nil)
