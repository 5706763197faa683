package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisLocker(t *testing.T, ttl time.Duration) (Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	l, err := New(Config{Driver: DriverRedis, TTL: ttl, Redis: &RedisConfig{Addr: mr.Addr()}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l, mr
}

// assertMutualExclusion 并发进入临界区时任意时刻最多一个持有者
func assertMutualExclusion(t *testing.T, l Locker) {
	t.Helper()
	var inside, maxInside, total atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "k")
			if !assert.NoError(t, err) {
				return
			}
			n := inside.Add(1)
			for {
				m := maxInside.Load()
				if n <= m || maxInside.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			total.Add(1)
			inside.Add(-1)
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside.Load())
	assert.Equal(t, int32(16), total.Load())
}

func TestLocal_MutualExclusion(t *testing.T) {
	assertMutualExclusion(t, NewLocal())
}

func TestLocal_DifferentKeysDoNotBlock(t *testing.T) {
	l := NewLocal()
	unlockA, err := l.Lock(context.Background(), "a")
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := l.Lock(ctx, "b")
	require.NoError(t, err)
	unlockB()
}

func TestLocal_ContextCancelAndCleanup(t *testing.T) {
	l := NewLocal().(*localLocker)
	unlock, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock() // 幂等
	assert.Equal(t, 0, l.size())
}

func TestRedis_MutualExclusion(t *testing.T) {
	l, _ := newRedisLocker(t, 5*time.Second)
	assertMutualExclusion(t, l)
}

func TestRedis_ReleaseOnlyOwnLock(t *testing.T) {
	l, mr := newRedisLocker(t, 50*time.Millisecond)

	unlock, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, mr.Exists("licence:lock:k"))

	// 锁过期后被另一个持有者拿到
	mr.FastForward(100 * time.Millisecond)
	unlock2, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)
	owner, err := mr.Get("licence:lock:k")
	require.NoError(t, err)

	// 旧持有者释放不会删掉新持有者的锁
	unlock()
	current, err := mr.Get("licence:lock:k")
	require.NoError(t, err)
	assert.Equal(t, owner, current)

	unlock2()
	assert.False(t, mr.Exists("licence:lock:k"))
}

func TestRedis_ContextCancel(t *testing.T) {
	l, _ := newRedisLocker(t, 5*time.Second)
	unlock, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNew(t *testing.T) {
	l, err := New(Config{})
	require.NoError(t, err)
	assert.NoError(t, l.Close())

	_, err = New(Config{Driver: DriverRedis})
	assert.Error(t, err)

	_, err = New(Config{Driver: "zookeeper"})
	assert.Error(t, err)
}
