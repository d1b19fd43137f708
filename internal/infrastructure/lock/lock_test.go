package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestDistributedLock_TryLockAndUnlock(t *testing.T) {
	client, mr := newRedis(t)
	ctx := context.Background()

	a := NewDistributedLock(client, "k", "owner-a", time.Minute)
	b := NewDistributedLock(client, "k", "owner-b", time.Minute)

	ok, err := a.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	t.Run("unlock by non-owner keeps the lock", func(t *testing.T) {
		require.NoError(t, b.Unlock(ctx))
		got, err := mr.Get("k")
		require.NoError(t, err)
		assert.Equal(t, "owner-a", got)
	})

	require.NoError(t, a.Unlock(ctx))
	assert.False(t, mr.Exists("k"))

	ok, err = b.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDistributedLock_LockGivesUp(t *testing.T) {
	client, _ := newRedis(t)
	ctx := context.Background()

	holder := NewDistributedLock(client, "k", "holder", time.Minute)
	ok, err := holder.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	waiter := NewDistributedLock(client, "k", "waiter", time.Minute)
	err = waiter.Lock(ctx, time.Millisecond, 3)
	assert.ErrorIs(t, err, ErrLockFailed)
}

func runLockerMutualExclusion(t *testing.T, l Locker) {
	ctx := context.Background()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
		counter int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(ctx, "ledger")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			counter++
			inside--
			mu.Unlock()
			release()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Equal(t, 20, counter)
}

func TestLocalLocker(t *testing.T) {
	runLockerMutualExclusion(t, NewLocalLocker())

	t.Run("respects ctx while waiting", func(t *testing.T) {
		l := NewLocalLocker()
		release, err := l.Acquire(context.Background(), "k")
		require.NoError(t, err)
		defer release()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		_, err = l.Acquire(ctx, "k")
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("different keys do not block each other", func(t *testing.T) {
		l := NewLocalLocker()
		r1, err := l.Acquire(context.Background(), "roster")
		require.NoError(t, err)
		defer r1()
		r2, err := l.Acquire(context.Background(), "ledger")
		require.NoError(t, err)
		r2()
	})

	t.Run("double release is harmless", func(t *testing.T) {
		l := NewLocalLocker()
		release, err := l.Acquire(context.Background(), "k")
		require.NoError(t, err)
		release()
		release()
		again, err := l.Acquire(context.Background(), "k")
		require.NoError(t, err)
		again()
	})
}

func TestRedisLocker(t *testing.T) {
	client, mr := newRedis(t)
	l := NewRedisLocker(client, "test:", time.Minute, time.Millisecond, 5000)
	runLockerMutualExclusion(t, l)
	assert.False(t, mr.Exists("test:lock:ledger"))
}
