package admission

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only if the caller still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// refreshScript extends the lock only if the caller still owns it.
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

const releaseTimeout = 2 * time.Second

// RedisGate shares the in-flight slot across replicas through a Redis lock.
// The holder renews the lock every ttl/3 until release, so the TTL only
// bounds how long a crashed holder can block the service.
type RedisGate struct {
	client       *redis.Client
	key          string
	ttl          time.Duration
	refreshEvery time.Duration
}

func NewRedisGate(client *redis.Client, key string, ttl time.Duration) *RedisGate {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	refresh := ttl / 3
	if refresh <= 0 {
		refresh = ttl
	}
	return &RedisGate{client: client, key: key, ttl: ttl, refreshEvery: refresh}
}

func (g *RedisGate) Acquire(ctx context.Context) (func(), error) {
	token := uuid.NewString()
	ok, err := g.client.SetNX(ctx, g.key, token, g.ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrBusy
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go g.keepAlive(token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			// The request context may already be cancelled; release on a fresh one.
			rctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()
			if err := releaseScript.Run(rctx, g.client, []string{g.key}, token).Err(); err != nil {
				slog.Warn("admission release failed", "key", g.key, "error", err)
			}
		})
	}, nil
}

func (g *RedisGate) keepAlive(token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(g.refreshEvery)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		owned, err := refreshScript.Run(ctx, g.client, []string{g.key}, token, g.ttl.Milliseconds()).Int()
		cancel()
		switch {
		case errors.Is(err, redis.ErrClosed):
			return
		case err != nil:
			slog.Warn("admission refresh failed", "key", g.key, "error", err)
		case owned == 0:
			slog.Warn("admission lock lost before release", "key", g.key)
			return
		}
	}
}
