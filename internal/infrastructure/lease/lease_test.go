package lease

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalExclusive(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	release, err := l.Acquire(ctx, "writer", time.Minute)
	require.NoError(t, err)

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(short, "writer", time.Minute)
	assert.ErrorIs(t, err, ErrNotAcquired)

	other, err := l.Acquire(ctx, "other", time.Minute)
	require.NoError(t, err, "different names never block each other")
	other()

	release()
	release()

	again, err := l.Acquire(ctx, "writer", time.Minute)
	require.NoError(t, err)
	again()
}

func TestLocalSerializesWriters(t *testing.T) {
	l := NewLocal()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(context.Background(), "writer", time.Minute)
			if err != nil {
				t.Error(err)
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
			inside--
			mu.Unlock()
			release()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
}

type fakeStore struct {
	mu      sync.Mutex
	held    map[string]string
	ttls    map[string]time.Duration
	failSet error
	evals   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{held: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeStore) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSet != nil {
		return redis.NewBoolResult(false, f.failSet)
	}
	if _, taken := f.held[key]; taken {
		return redis.NewBoolResult(false, nil)
	}
	f.held[key] = value.(string)
	f.ttls[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func (f *fakeStore) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evals++
	if f.held[keys[0]] == args[0] {
		delete(f.held, keys[0])
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(int64(0), nil)
}

func TestRedisLease(t *testing.T) {
	store := newFakeStore()
	r := newRedis(store, "")
	r.retryEvery = 5 * time.Millisecond
	ctx := context.Background()

	release, err := r.Acquire(ctx, "writer", 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, store.ttls["swingrun:lease:writer"])

	short, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	_, err = r.Acquire(short, "writer", time.Second)
	assert.ErrorIs(t, err, ErrNotAcquired)

	release()
	release()
	assert.Equal(t, 1, store.evals)
	assert.Empty(t, store.held)

	again, err := r.Acquire(ctx, "writer", 0)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, store.ttls["swingrun:lease:writer"])
	again()
}

func TestRedisLeaseReleaseKeepsForeignToken(t *testing.T) {
	store := newFakeStore()
	r := newRedis(store, "p:")
	release, err := r.Acquire(context.Background(), "writer", time.Second)
	require.NoError(t, err)

	// lease expired and another process took it
	store.held["p:writer"] = "someone-else"
	release()
	assert.Equal(t, "someone-else", store.held["p:writer"])
}

func TestRedisLeaseBackendError(t *testing.T) {
	store := newFakeStore()
	store.failSet = errors.New("connection refused")
	r := newRedis(store, "")

	_, err := r.Acquire(context.Background(), "writer", time.Second)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotAcquired)
	assert.Contains(t, err.Error(), "connection refused")
}
