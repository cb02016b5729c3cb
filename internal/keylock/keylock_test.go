package keylock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNormalizeSortsAndDeduplicates(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, normalize([]string{"c", "a", "b", "a"}))
}

func TestMemoryExcludesSameKey(t *testing.T) {
	locker := NewMemory(16)
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, []string{"r1"})
	require.NoError(t, err)

	timeout, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(timeout, []string{"r1"})
	assert.ErrorIs(t, err, ErrLockTimeout)

	unlock()
	unlock()

	unlock, err = locker.Lock(ctx, []string{"r1"})
	require.NoError(t, err)
	unlock()
}

func TestMemoryOverlappingSetsDoNotDeadlock(t *testing.T) {
	locker := NewMemory(4)
	var counter int64
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		keys := []string{"a", "b", "c", "d", "e"}
		if i%2 == 0 {
			keys = []string{"e", "d", "c", "b", "a"}
		}
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			unlock, err := locker.Lock(ctx, keys)
			if !assert.NoError(t, err) {
				return
			}
			atomic.AddInt64(&counter, 1)
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(50), counter)
}

func newRedisLocker(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	locker, err := NewRedis(client, time.Second, zap.NewNop())
	require.NoError(t, err)
	return locker, srv
}

func TestRedisLockAndRelease(t *testing.T) {
	locker, srv := newRedisLocker(t)
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, []string{"r2", "r1"})
	require.NoError(t, err)
	assert.True(t, srv.Exists(keyPrefix+"r1"))
	assert.True(t, srv.Exists(keyPrefix+"r2"))

	timeout, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(timeout, []string{"r2"})
	assert.ErrorIs(t, err, ErrLockTimeout)

	unlock()
	assert.False(t, srv.Exists(keyPrefix+"r1"))
	assert.False(t, srv.Exists(keyPrefix+"r2"))
}

func TestRedisReleaseKeepsForeignToken(t *testing.T) {
	locker, srv := newRedisLocker(t)

	unlock, err := locker.Lock(context.Background(), []string{"r1"})
	require.NoError(t, err)

	require.NoError(t, srv.Set(keyPrefix+"r1", "someone-else"))
	unlock()

	got, err := srv.Get(keyPrefix + "r1")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestRedisPartialAcquireRollsBack(t *testing.T) {
	locker, srv := newRedisLocker(t)
	require.NoError(t, srv.Set(keyPrefix+"r2", "held"))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := locker.Lock(ctx, []string{"r1", "r2"})
	assert.ErrorIs(t, err, ErrLockTimeout)
	assert.False(t, srv.Exists(keyPrefix+"r1"))
}

func TestNewRedisRequiresClient(t *testing.T) {
	_, err := NewRedis(nil, time.Second, nil)
	assert.Error(t, err)
}
