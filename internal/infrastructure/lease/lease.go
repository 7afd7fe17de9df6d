// Package lease provides the single-writer lock held by an evaluation pass
// while it writes positions and exit events.
package lease

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// ErrNotAcquired is returned when the lease could not be taken before ctx ended
var ErrNotAcquired = errors.New("lease not acquired")

// Locker grants named, exclusive leases. release is idempotent.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (release func(), err error)
}

// Local is an in-process Locker for single-instance runs
type Local struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewLocal creates an in-process locker
func NewLocal() *Local {
	return &Local{slots: make(map[string]chan struct{})}
}

func (l *Local) slot(name string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[name]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[name] = ch
	}
	return ch
}

// Acquire blocks until the named lease is free or ctx is done. ttl is not
// enforced in-process; the holder must call release.
func (l *Local) Acquire(ctx context.Context, name string, ttl time.Duration) (func(), error) {
	ch := l.slot(name)
	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("lease %s: %w: %v", name, ErrNotAcquired, ctx.Err())
	}

	var once sync.Once
	return func() { once.Do(func() { <-ch }) }, nil
}

// redisStore is the subset of *redis.Client the locker needs
type redisStore interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// releaseScript deletes the key only while it still holds our token
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`

// Redis is a Locker shared between processes, built on SET NX PX. The lease
// expires after ttl even if the holder dies without releasing.
type Redis struct {
	store      redisStore
	prefix     string
	retryEvery time.Duration
}

// NewRedis creates a locker on a go-redis v9 client
func NewRedis(client *redis.Client, prefix string) *Redis {
	return newRedis(client, prefix)
}

// NewRedisFromAddr connects to addr
func NewRedisFromAddr(addr, password string, db int, prefix string) *Redis {
	return NewRedis(redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}), prefix)
}

func newRedis(store redisStore, prefix string) *Redis {
	if prefix == "" {
		prefix = "swingrun:lease:"
	}
	return &Redis{store: store, prefix: prefix, retryEvery: 250 * time.Millisecond}
}

// Acquire polls SET NX until the lease is taken or ctx is done
func (r *Redis) Acquire(ctx context.Context, name string, ttl time.Duration) (func(), error) {
	if ttl <= 0 {
		ttl = time.Minute
	}
	key := r.prefix + name
	token := uuid.NewString()

	for {
		ok, err := r.store.SetNX(ctx, key, token, ttl).Result()
		if err != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("lease %s: %w", name, err)
		}
		if ok {
			log.Debug().Str("lease", name).Str("token", token).Dur("ttl", ttl).Msg("Lease acquired")
			return r.releaser(key, token), nil
		}

		timer := time.NewTimer(r.retryEvery)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("lease %s: %w: %v", name, ErrNotAcquired, ctx.Err())
		}
	}
}

func (r *Redis) releaser(key, token string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := r.store.Eval(ctx, releaseScript, []string{key}, token).Err(); err != nil {
				log.Warn().Err(err).Str("key", key).Msg("Lease release failed, it will expire on its own")
			}
		})
	}
}
