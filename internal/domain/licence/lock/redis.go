package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultLockTTL   = 10 * time.Second
	minRetryInterval = 5 * time.Millisecond
	maxRetryInterval = 100 * time.Millisecond
	releaseTimeout   = 2 * time.Second
)

// 只删除自己持有的锁
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type redisLocker struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedis constructs a redis-backed locker usable across instances.
// The lock expires after TTL so a crashed holder cannot block a key forever.
func NewRedis(cfg Config) (Locker, error) {
	if cfg.Redis == nil {
		return nil, fmt.Errorf("redis configuration missing")
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis address required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	prefix := cfg.Redis.Prefix
	if prefix == "" {
		prefix = "licence:lock:"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &redisLocker{client: client, ttl: ttl, prefix: prefix}, nil
}

func (l *redisLocker) Lock(ctx context.Context, key string) (func(), error) {
	name := l.prefix + key
	token := uuid.NewString()
	wait := minRetryInterval

	for {
		ok, err := l.client.SetNX(ctx, name, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis lock %s: %w", key, err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		if wait *= 2; wait > maxRetryInterval {
			wait = maxRetryInterval
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// 调用方的 ctx 可能已取消，释放使用独立超时
			rctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()
			_ = releaseScript.Run(rctx, l.client, []string{name}, token).Err()
		})
	}, nil
}

func (l *redisLocker) Close() error {
	return l.client.Close()
}
