// Package redislock implements generic.Locker on Redis, for when several
// server instances must serialize balance operations on the same employee.
//
// A lock is a key set with NX and a TTL. Its value is a random token, and
// release deletes the key only if the token still matches, so an instance
// whose lock expired cannot release someone else's.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultTTL        = 10 * time.Second
	DefaultRetryDelay = 25 * time.Millisecond
	defaultPrefix     = "leave-ledger:lock:"
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker is a Redis-backed generic.Locker.
type Locker struct {
	client     redis.UniversalClient
	prefix     string
	ttl        time.Duration
	retryDelay time.Duration
}

type Option func(*Locker)

// WithTTL bounds how long a crashed holder can keep a key.
func WithTTL(ttl time.Duration) Option {
	return func(l *Locker) { l.ttl = ttl }
}

func WithRetryDelay(d time.Duration) Option {
	return func(l *Locker) { l.retryDelay = d }
}

func WithPrefix(prefix string) Option {
	return func(l *Locker) { l.prefix = prefix }
}

func New(client redis.UniversalClient, opts ...Option) *Locker {
	l := &Locker{
		client:     client,
		prefix:     defaultPrefix,
		ttl:        DefaultTTL,
		retryDelay: DefaultRetryDelay,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Lock polls until the key is acquired or ctx is done.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := l.prefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.retryDelay)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			return l.releaser(redisKey, token), nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *Locker) releaser(redisKey, token string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			// the caller's ctx may already be cancelled; release anyway
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = releaseScript.Run(ctx, l.client, []string{redisKey}, token).Err()
		})
	}
}
