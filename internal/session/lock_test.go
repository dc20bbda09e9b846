package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMemoryLockerFailFast(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	unlock, err := l.TryLock(ctx, "s1")
	require.NoError(t, err)

	_, err = l.TryLock(ctx, "s1")
	assert.ErrorIs(t, err, ErrBusy)

	other, err := l.TryLock(ctx, "s2")
	require.NoError(t, err)
	other()

	unlock()
	unlock() // idempotent
	assert.False(t, l.Held("s1"))

	again, err := l.TryLock(ctx, "s1")
	require.NoError(t, err)
	again()
}

func TestMemoryLockerSingleWinner(t *testing.T) {
	l := NewMemoryLocker()
	var wins, busy atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := l.TryLock(context.Background(), "s1")
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, ErrBusy):
				busy.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()
	assert.EqualValues(t, 1, wins.Load())
	assert.EqualValues(t, 15, busy.Load())
}

// fakeRedis emulates SET NX and the compare-and-delete and
// compare-and-expire scripts.
type fakeRedis struct {
	mu      sync.Mutex
	keys    map[string]string
	ttl     time.Duration
	extends map[string]int
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{keys: map[string]string{}, extends: map[string]int{}}
}

func (f *fakeRedis) SetNX(_ context.Context, key string, value any, exp time.Duration) *goredis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ttl = exp
	if _, ok := f.keys[key]; ok {
		return goredis.NewBoolResult(false, nil)
	}
	f.keys[key] = value.(string)
	return goredis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Eval(_ context.Context, script string, keys []string, args ...any) *goredis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.keys[keys[0]] != args[0].(string) {
		return goredis.NewCmdResult(int64(0), nil)
	}
	switch script {
	case releaseScript:
		delete(f.keys, keys[0])
	case extendScript:
		f.ttl = time.Duration(args[1].(int64)) * time.Millisecond
		f.extends[keys[0]]++
	}
	return goredis.NewCmdResult(int64(1), nil)
}

func (f *fakeRedis) get(key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.keys[key]
	return v, ok
}

func (f *fakeRedis) set(key, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys[key] = value
}

func (f *fakeRedis) extended(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.extends[key]
}

func TestRedisLocker(t *testing.T) {
	rdb := newFakeRedis()
	l := NewRedisLocker(rdb, "", 0, nil)
	ctx := context.Background()

	unlock, err := l.TryLock(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, DefaultLockTTL, rdb.ttl)
	_, held := rdb.get("dojo:lock:session:s1")
	assert.True(t, held)

	_, err = l.TryLock(ctx, "s1")
	assert.ErrorIs(t, err, ErrBusy)

	unlock()
	unlock()
	_, held = rdb.get("dojo:lock:session:s1")
	assert.False(t, held)
}

func TestRedisLockerDoesNotReleaseForeignLock(t *testing.T) {
	rdb := newFakeRedis()
	l := NewRedisLocker(rdb, "p:", time.Second, nil)

	unlock, err := l.TryLock(context.Background(), "s1")
	require.NoError(t, err)

	// Lock expired and was taken by someone else.
	rdb.set("p:s1", "other-token")
	unlock()
	v, _ := rdb.get("p:s1")
	assert.Equal(t, "other-token", v)
}

func TestRedisLockerRenewsLeaseUntilUnlock(t *testing.T) {
	defer goleak.VerifyNone(t)

	rdb := newFakeRedis()
	l := NewRedisLocker(rdb, "p:", 30*time.Millisecond, nil)

	unlock, err := l.TryLock(context.Background(), "s1")
	require.NoError(t, err)

	// A turn outliving several TTLs keeps its lease.
	require.Eventually(t, func() bool { return rdb.extended("p:s1") >= 3 }, 2*time.Second, 5*time.Millisecond)
	rdb.mu.Lock()
	assert.Equal(t, 30*time.Millisecond, rdb.ttl)
	rdb.mu.Unlock()

	unlock()
	after := rdb.extended("p:s1")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, rdb.extended("p:s1"))
	_, held := rdb.get("p:s1")
	assert.False(t, held)
}

func TestRedisLockerStopsRenewingLostLease(t *testing.T) {
	defer goleak.VerifyNone(t)

	rdb := newFakeRedis()
	l := NewRedisLocker(rdb, "p:", 15*time.Millisecond, nil)

	unlock, err := l.TryLock(context.Background(), "s1")
	require.NoError(t, err)
	rdb.set("p:s1", "other-token")

	time.Sleep(40 * time.Millisecond)
	assert.Zero(t, rdb.extended("p:s1"))

	unlock()
	v, _ := rdb.get("p:s1")
	assert.Equal(t, "other-token", v)
}

func TestRedisLockerStopsRenewingWhenTurnEnds(t *testing.T) {
	defer goleak.VerifyNone(t)

	rdb := newFakeRedis()
	l := NewRedisLocker(rdb, "p:", 15*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	unlock, err := l.TryLock(ctx, "s1")
	require.NoError(t, err)
	cancel()

	// unlock waits for the renewal goroutine, then still releases.
	unlock()
	_, held := rdb.get("p:s1")
	assert.False(t, held)
}
