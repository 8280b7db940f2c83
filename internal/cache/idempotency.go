package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const maxKeyLength = 200

// Entry is a completed edit response kept for replay.
type Entry struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
	EditID string          `json:"edit_id,omitempty"`
}

// IdempotencyCache stores finished edit responses keyed by the client's
// Idempotency-Key so a retried upload does not reach a provider twice.
type IdempotencyCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewIdempotencyCache(client *redis.Client, ttl time.Duration) *IdempotencyCache {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &IdempotencyCache{client: client, ttl: ttl}
}

// Enabled reports whether the cache is backed by Redis.
func (c *IdempotencyCache) Enabled() bool {
	return c != nil && c.client != nil
}

func (c *IdempotencyCache) Get(ctx context.Context, key string) (Entry, bool) {
	key = normalizeKey(key)
	if !c.Enabled() || key == "" {
		return Entry{}, false
	}
	data, err := c.client.Get(ctx, c.prefixed(key)).Bytes()
	if err != nil {
		if err != redis.Nil {
			slog.Warn("idempotency lookup failed", "error", err)
		}
		return Entry{}, false
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil || len(entry.Body) == 0 {
		return Entry{}, false
	}
	return entry, true
}

func (c *IdempotencyCache) Set(ctx context.Context, key string, entry Entry) {
	key = normalizeKey(key)
	if !c.Enabled() || key == "" || len(entry.Body) == 0 {
		return
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.prefixed(key), data, c.ttl).Err(); err != nil {
		slog.Warn("idempotency store failed", "error", err)
	}
}

func (c *IdempotencyCache) prefixed(key string) string {
	return "edit-idem:" + key
}

func normalizeKey(key string) string {
	key = strings.TrimSpace(key)
	if len(key) > maxKeyLength {
		return ""
	}
	return key
}
