package pickup

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/widedata/platform/pkg/common/config"
)

// InFlightGuard tracks records whose dispatch is waiting for a reply. A record
// that cannot be acquired is skipped for the current cycle; it is picked again
// on a later tick once the earlier dispatch has finished.
type InFlightGuard interface {
	Acquire(ctx context.Context, id int64) (bool, error)
	Release(ctx context.Context, id int64) error
}

// NoopGuard admits every dispatch. This keeps the at-least-once behaviour where
// overlapping cycles may send the same record twice.
type NoopGuard struct{}

func (NoopGuard) Acquire(context.Context, int64) (bool, error) { return true, nil }
func (NoopGuard) Release(context.Context, int64) error         { return nil }

// MemoryGuard deduplicates within one process.
type MemoryGuard struct {
	mu  sync.Mutex
	ids map[int64]struct{}
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{ids: make(map[int64]struct{})}
}

func (g *MemoryGuard) Acquire(_ context.Context, id int64) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.ids[id]; busy {
		return false, nil
	}
	g.ids[id] = struct{}{}
	return true, nil
}

func (g *MemoryGuard) Release(_ context.Context, id int64) error {
	g.mu.Lock()
	delete(g.ids, id)
	g.mu.Unlock()
	return nil
}

func (g *MemoryGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.ids)
}

// RedisGuard deduplicates across every instance sharing the Redis database.
// Keys expire after ttl so a crashed instance cannot pin a record forever.
type RedisGuard struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

func NewRedisGuard(client redis.Cmdable, prefix string, ttl time.Duration) *RedisGuard {
	if prefix == "" {
		prefix = "pickup:inflight:"
	}
	return &RedisGuard{client: client, prefix: prefix, ttl: ttl}
}

func (g *RedisGuard) key(id int64) string {
	return g.prefix + strconv.FormatInt(id, 10)
}

func (g *RedisGuard) Acquire(ctx context.Context, id int64) (bool, error) {
	ok, err := g.client.SetNX(ctx, g.key(id), time.Now().UTC().Format(time.RFC3339), g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %s: %w", g.key(id), err)
	}
	return ok, nil
}

func (g *RedisGuard) Release(ctx context.Context, id int64) error {
	if err := g.client.Del(ctx, g.key(id)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", g.key(id), err)
	}
	return nil
}

// NewGuard builds the guard selected by mode. client is only used for
// config.InFlightRedis.
func NewGuard(mode string, client redis.Cmdable, ttl time.Duration) (InFlightGuard, error) {
	switch mode {
	case "", config.InFlightNone:
		return NoopGuard{}, nil
	case config.InFlightMemory:
		return NewMemoryGuard(), nil
	case config.InFlightRedis:
		if client == nil {
			return nil, fmt.Errorf("inflight mode %q requires a redis client", mode)
		}
		return NewRedisGuard(client, "", ttl), nil
	default:
		return nil, fmt.Errorf("unknown inflight mode %q", mode)
	}
}
