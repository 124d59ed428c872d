package redislock_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/leave-ledger/generic"
	"github.com/warp/leave-ledger/store/redislock"
)

// setupLocker connects to a local Redis (DB 15) or skips.
func setupLocker(t *testing.T, opts ...redislock.Option) (*redislock.Locker, *redis.Client) {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})
	t.Cleanup(func() { client.Close() })

	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skip("Skipping test: Redis not available")
	}

	opts = append([]redislock.Option{redislock.WithPrefix("test:" + uuid.NewString() + ":")}, opts...)
	return redislock.New(client, opts...), client
}

var _ generic.Locker = (*redislock.Locker)(nil)

func TestLocker_MutualExclusion(t *testing.T) {
	locker, _ := setupLocker(t, redislock.WithRetryDelay(time.Millisecond))
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		inside  int32
		maxSeen int32
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(ctx, "employee:1")
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			if n > atomic.LoadInt32(&maxSeen) {
				atomic.StoreInt32(&maxSeen, n)
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxSeen)
}

func TestLocker_ContextCancelledWhileWaiting(t *testing.T) {
	locker, _ := setupLocker(t)

	unlock, err := locker.Lock(context.Background(), "employee:2")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, "employee:2")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLocker_ExpiredLockIsNotReleasedByOldHolder(t *testing.T) {
	locker, _ := setupLocker(t, redislock.WithTTL(50*time.Millisecond), redislock.WithRetryDelay(5*time.Millisecond))
	ctx := context.Background()

	stale, err := locker.Lock(ctx, "employee:3")
	require.NoError(t, err)
	time.Sleep(80 * time.Millisecond)

	fresh, err := locker.Lock(ctx, "employee:3")
	require.NoError(t, err)
	stale() // must not delete the new holder's key

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(short, "employee:3")
	assert.ErrorIs(t, err, context.DeadlineExceeded, "fresh holder still owns the key")

	fresh()
}
