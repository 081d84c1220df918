package lock_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/medrank/internal/adapters/lock"
)

func lockerContract(l lock.Locker) {
	ctx := context.Background()
	key := "refresh:test:" + time.Now().Format(time.RFC3339Nano)

	Convey("A second TryLock on a held key fails fast", func() {
		release, err := l.TryLock(ctx, key)
		So(err, ShouldBeNil)
		defer release(ctx)

		_, err = l.TryLock(ctx, key)
		So(errors.Is(err, lock.ErrLocked), ShouldBeTrue)
	})

	Convey("Different keys do not contend", func() {
		r1, err := l.TryLock(ctx, key+":a")
		So(err, ShouldBeNil)
		defer r1(ctx)
		r2, err := l.TryLock(ctx, key+":b")
		So(err, ShouldBeNil)
		defer r2(ctx)
	})

	Convey("Releasing frees the key and is idempotent", func() {
		release, err := l.TryLock(ctx, key)
		So(err, ShouldBeNil)
		So(release(ctx), ShouldBeNil)
		So(release(ctx), ShouldBeNil)

		again, err := l.TryLock(ctx, key)
		So(err, ShouldBeNil)
		So(again(ctx), ShouldBeNil)
	})
}

func TestLocal(t *testing.T) {
	Convey("Given a local locker", t, func() {
		l := lock.NewLocal()
		lockerContract(l)

		Convey("Exactly one of many concurrent callers wins", func() {
			var (
				wins atomic.Int32
				wg   sync.WaitGroup
				hold = make(chan struct{})
			)
			for i := 0; i < 16; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					release, err := l.TryLock(context.Background(), "period:last_30d")
					if err != nil {
						return
					}
					wins.Add(1)
					<-hold
					_ = release(context.Background())
				}()
			}
			time.Sleep(50 * time.Millisecond)
			So(l.Held("period:last_30d"), ShouldBeTrue)
			close(hold)
			wg.Wait()

			So(wins.Load(), ShouldEqual, int32(1))
			So(l.Held("period:last_30d"), ShouldBeFalse)
		})

		Convey("A canceled context is rejected", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			_, err := l.TryLock(ctx, "k")
			So(errors.Is(err, context.Canceled), ShouldBeTrue)
		})
	})
}

func TestAdvisoryKey(t *testing.T) {
	Convey("Advisory keys are stable and distinct", t, func() {
		So(lock.AdvisoryKey("period:last_30d"), ShouldEqual, lock.AdvisoryKey("period:last_30d"))
		So(lock.AdvisoryKey("period:last_30d"), ShouldNotEqual, lock.AdvisoryKey("period:last_90d"))
	})
}

func TestPostgres(t *testing.T) {
	dsn := os.Getenv("MEDRANK_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("MEDRANK_TEST_POSTGRES_DSN not set")
	}
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer pool.Close()

	Convey("Given a postgres advisory locker", t, func() {
		lockerContract(lock.NewPostgres(pool))
	})
}

func TestRedis(t *testing.T) {
	addr := os.Getenv("MEDRANK_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("MEDRANK_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	Convey("Given a redis locker", t, func() {
		lockerContract(lock.NewRedis(client, time.Minute))
	})
}
