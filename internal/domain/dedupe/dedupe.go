// Package dedupe tracks keys of work that is already pending so repeated
// requests for the same work coalesce into one.
package dedupe

import (
	"context"
	"sync"
	"sync/atomic"
)

// Deduper records pending keys.
type Deduper interface {
	// SeenAndRecord atomically checks if key is pending and records it if not.
	// Returns true if key was already pending.
	SeenAndRecord(ctx context.Context, key string) bool

	// Unrecord releases key once its work starts or could not be queued.
	Unrecord(ctx context.Context, key string)

	Size() int64
}

type entry struct {
	key string
	seq uint64
}

// inMemoryDeduper keeps keys in a map. In bounded mode the oldest live key
// is evicted first; order may hold stale entries for unrecorded keys, which
// are skipped on eviction and dropped on compaction.
type inMemoryDeduper struct {
	mu      sync.Mutex
	seen    map[string]uint64
	order   []entry
	seq     uint64
	maxSize int
	size    atomic.Int64
}

// NewInMemoryDeduper creates a new in-memory deduper.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{maxSize: defaultMaxSize}
	for _, opt := range opts {
		opt(d)
	}
	d.seen = make(map[string]uint64)
	return d
}

func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[key]; ok {
		return true
	}
	if d.maxSize > 0 && len(d.seen) >= d.maxSize {
		d.evictOldest()
	}
	d.seq++
	d.seen[key] = d.seq
	if d.maxSize > 0 {
		d.order = append(d.order, entry{key: key, seq: d.seq})
	}
	d.size.Add(1)
	return false
}

func (d *inMemoryDeduper) Unrecord(_ context.Context, key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[key]; !ok {
		return
	}
	delete(d.seen, key)
	d.size.Add(-1)
	if d.maxSize > 0 && len(d.order) > 2*d.maxSize {
		d.compact()
	}
}

// evictOldest drops the oldest live key. Caller holds mu.
func (d *inMemoryDeduper) evictOldest() {
	for len(d.order) > 0 {
		e := d.order[0]
		d.order = d.order[1:]
		if seq, ok := d.seen[e.key]; ok && seq == e.seq {
			delete(d.seen, e.key)
			d.size.Add(-1)
			return
		}
	}
}

// compact removes stale order entries. Caller holds mu.
func (d *inMemoryDeduper) compact() {
	live := make([]entry, 0, len(d.seen))
	for _, e := range d.order {
		if seq, ok := d.seen[e.key]; ok && seq == e.seq {
			live = append(live, e)
		}
	}
	d.order = live
}

// Size returns the number of pending keys.
func (d *inMemoryDeduper) Size() int64 {
	return d.size.Load()
}
