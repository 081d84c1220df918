package lock

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres uses session-level advisory locks. Each held lock pins one pool
// connection until released, so a crashed holder frees its lock when the
// session ends.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates an advisory-lock locker on pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// AdvisoryKey maps a lock key to the int64 space pg advisory locks use.
func AdvisoryKey(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte("medrank:" + key))
	return int64(h.Sum64())
}

// TryLock implements Locker.
func (p *Postgres) TryLock(ctx context.Context, key string) (Release, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire lock connection: %w", err)
	}
	id := AdvisoryKey(key)

	var acquired bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, id).Scan(&acquired); err != nil {
		conn.Release()
		return nil, fmt.Errorf("try advisory lock %s: %w", key, err)
	}
	if !acquired {
		conn.Release()
		return nil, ErrLocked
	}

	var (
		once sync.Once
		rerr error
	)
	return func(ctx context.Context) error {
		once.Do(func() {
			defer conn.Release()
			if _, err := conn.Exec(ctx, `SELECT pg_advisory_unlock($1)`, id); err != nil {
				rerr = fmt.Errorf("advisory unlock %s: %w", key, err)
			}
		})
		return rerr
	}, nil
}

var _ Locker = (*Postgres)(nil)
