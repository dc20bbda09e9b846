package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultLockTTL bounds how long a crashed holder can keep a session locked.
// A live holder renews the lease every third of the TTL, so a turn may run
// longer than this.
const DefaultLockTTL = 2 * time.Minute

// releaseScript deletes the key only if it still carries our token.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`

// extendScript resets the key's expiry only if it still carries our token.
const extendScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0`

// RedisClient is the subset of the Redis client used by RedisLocker.
type RedisClient interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *goredis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *goredis.Cmd
}

// RedisLocker is a try-lock shared by every process using the same Redis.
// Locks expire after TTL so a crashed holder cannot wedge a session; while
// held, a background renewal keeps the lease alive until unlock.
type RedisLocker struct {
	rdb    RedisClient
	prefix string
	ttl    time.Duration
	log    *zap.Logger
}

// NewRedisLocker creates a locker storing keys under prefix.
func NewRedisLocker(rdb RedisClient, prefix string, ttl time.Duration, log *zap.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	if prefix == "" {
		prefix = "dojo:lock:session:"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisLocker{rdb: rdb, prefix: prefix, ttl: ttl, log: log}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string) (func(), error) {
	k := l.prefix + key
	token := uuid.New().String()

	ok, err := l.rdb.SetNX(ctx, k, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire session lock: %w", err)
	}
	if !ok {
		return nil, ErrBusy
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.renew(ctx, k, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			// Release even if the turn's context was cancelled.
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := l.rdb.Eval(ctx, releaseScript, []string{k}, token).Err(); err != nil {
				l.log.Warn("release session lock failed", zap.String("key", k), zap.Error(err))
			}
		})
	}, nil
}

// renew extends the lease every third of the TTL until stop closes, the
// turn's context ends or the key no longer carries token.
func (l *RedisLocker) renew(ctx context.Context, key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	every := max(l.ttl/3, time.Millisecond)
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		rctx, cancel := context.WithTimeout(context.Background(), every)
		n, err := l.rdb.Eval(rctx, extendScript, []string{key}, token, l.ttl.Milliseconds()).Int64()
		cancel()
		switch {
		case err != nil:
			// The lease is still valid for the rest of the TTL; try again.
			l.log.Warn("extend session lock failed", zap.String("key", key), zap.Error(err))
		case n == 0:
			l.log.Warn("session lock lost before release", zap.String("key", key))
			return
		}
	}
}
