package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/medrank/internal/domain/model"
	"github.com/okian/medrank/pkg/metrics"
)

const backendMemory = "memory"

// snapshot is an immutable view of one period.
type snapshot struct {
	rows       []model.PerformanceStat
	byHospital map[int64][]int
	summary    PeriodSummary
}

func newSnapshot(period model.Period, stats []model.PerformanceStat) *snapshot {
	rows := make([]model.PerformanceStat, len(stats))
	copy(rows, stats)
	sortByKey(rows)
	s := &snapshot{rows: rows, byHospital: make(map[int64][]int), summary: summarize(period, rows)}
	for i, st := range rows {
		s.byHospital[st.Key.HospitalID] = append(s.byHospital[st.Key.HospitalID], i)
	}
	return s
}

// MemoryStore keeps one atomically swapped snapshot per period.
type MemoryStore struct {
	periods map[model.Period]*atomic.Pointer[snapshot]

	priorMu sync.Mutex
	prior   atomic.Pointer[model.GlobalPrior]
	closed  atomic.Bool
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{periods: make(map[model.Period]*atomic.Pointer[snapshot])}
	for _, p := range model.Periods() {
		ptr := &atomic.Pointer[snapshot]{}
		ptr.Store(newSnapshot(p, nil))
		s.periods[p] = ptr
	}
	return s
}

// ReplacePeriod implements Store. The new snapshot is fully built before the
// pointer swap.
func (s *MemoryStore) ReplacePeriod(ctx context.Context, period model.Period, stats []model.PerformanceStat) error {
	start := time.Now()
	if s.closed.Load() {
		return ErrClosed
	}
	if err := checkSnapshot(period, stats); err != nil {
		return err
	}
	next := newSnapshot(period, stats)
	if err := ctx.Err(); err != nil {
		return err
	}
	s.periods[period].Store(next)

	metrics.UpdateStoreRows(period.String(), len(next.rows))
	metrics.RecordStoreWriteLatency(backendMemory, msSince(start))
	return nil
}

// Find implements Store.
func (s *MemoryStore) Find(_ context.Context, period model.Period, filter model.Filter) ([]model.PerformanceStat, error) {
	start := time.Now()
	defer func() { metrics.RecordStoreQueryLatency(backendMemory, msSince(start)) }()

	ptr, ok := s.periods[period]
	if !ok {
		return nil, nil
	}
	snap := ptr.Load()
	var out []model.PerformanceStat
	for _, st := range snap.rows {
		if filter.Matches(st.Key) {
			out = append(out, st)
		}
	}
	return out, nil
}

// Hospital implements Store.
func (s *MemoryStore) Hospital(_ context.Context, hospitalID int64) ([]model.PerformanceStat, error) {
	var out []model.PerformanceStat
	for _, p := range model.Periods() {
		snap := s.periods[p].Load()
		for _, i := range snap.byHospital[hospitalID] {
			out = append(out, snap.rows[i])
		}
	}
	sortByKey(out)
	return out, nil
}

// Summary implements Store.
func (s *MemoryStore) Summary(_ context.Context) ([]PeriodSummary, error) {
	out := make([]PeriodSummary, 0, len(s.periods))
	for _, p := range model.Periods() {
		out = append(out, s.periods[p].Load().summary)
	}
	return out, nil
}

// Prior implements Store.
func (s *MemoryStore) Prior(_ context.Context) (model.GlobalPrior, bool, error) {
	p := s.prior.Load()
	if p == nil {
		return model.GlobalPrior{}, false, nil
	}
	return *p, true, nil
}

// SavePrior implements Store.
func (s *MemoryStore) SavePrior(_ context.Context, p model.GlobalPrior) (model.GlobalPrior, error) {
	if s.closed.Load() {
		return model.GlobalPrior{}, ErrClosed
	}
	s.priorMu.Lock()
	defer s.priorMu.Unlock()
	p.Version = 1
	if cur := s.prior.Load(); cur != nil {
		p.Version = cur.Version + 1
	}
	s.prior.Store(&p)
	return p, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.closed.Store(true)
	return nil
}

var _ Store = (*MemoryStore)(nil)
