package redisad

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/mikolaj2268/review-radar/internal/domain"
)

// releaseScript deletes the lock only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// refreshScript extends the TTL only if the lock still holds our token.
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Locker is a cross-process sync lock: SET NX with a TTL, refreshed while
// held so long syncs keep it. The lease's Lost channel closes when the key
// no longer holds our token, or when refreshes kept failing for a full TTL.
type Locker struct {
	c   *redis.Client
	ttl time.Duration
}

func NewLocker(c *redis.Client, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Locker{c: c, ttl: ttl}
}

func (l *Locker) Acquire(ctx context.Context, key string) (domain.Lease, error) {
	k := keyPrefix + "lock:sync:" + key
	token := uuid.NewString()
	ok, err := l.c.SetNX(ctx, k, token, l.ttl).Result()
	if err != nil {
		return domain.Lease{}, fmt.Errorf("redis lock %s: %w", key, err)
	}
	if !ok {
		return domain.Lease{}, domain.ErrSyncInProgress
	}

	stop := make(chan struct{})
	lost := make(chan struct{})
	go l.refresh(k, token, stop, lost)

	var once sync.Once
	release := func() {
		once.Do(func() {
			close(stop)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, l.c, []string{k}, token).Err(); err != nil {
				log.Warn().Err(err).Str("key", k).Msg("redis lock release failed")
			}
		})
	}
	return domain.Lease{Release: release, Lost: lost}, nil
}

func (l *Locker) refresh(key, token string, stop <-chan struct{}, lost chan<- struct{}) {
	t := time.NewTicker(l.ttl / 3)
	defer t.Stop()
	lastOK := time.Now()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			n, err := refreshScript.Run(ctx, l.c, []string{key}, token, l.ttl.Milliseconds()).Int()
			cancel()
			switch {
			case err == nil && n == 1:
				lastOK = time.Now()
				continue
			case err == nil:
				log.Error().Str("key", key).Msg("redis lock taken over, stopping sync")
			case time.Since(lastOK) < l.ttl:
				log.Warn().Err(err).Str("key", key).Msg("redis lock refresh failed")
				continue
			default:
				log.Error().Err(err).Str("key", key).Dur("ttl", l.ttl).Msg("redis lock expired while unreachable, stopping sync")
			}
			close(lost)
			return
		}
	}
}
