package redisclient

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ncecere/carving_editor/internal/config"
)

// New constructs a Redis client, or returns nil when no URL is configured.
// Redis is optional: it backs the shared admission gate and idempotent replay.
func New(cfg config.RedisConfig) *redis.Client {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		// ParseURL rejects bare host:port values; treat them as an address.
		opts = &redis.Options{
			Addr: url,
		}
	}

	if cfg.DB != 0 {
		opts.DB = cfg.DB
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}

	client := redis.NewClient(opts)
	client.AddHook(&disableMaintNotifications{})
	return client
}

// Ping verifies connectivity to Redis with a short timeout. A nil client is
// treated as healthy since Redis is not configured.
func Ping(ctx context.Context, client *redis.Client) error {
	if client == nil {
		return nil
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := client.Ping(timeoutCtx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// disableMaintNotifications drops the CLIENT MAINT_NOTIFICATIONS handshake,
// which servers without maintenance notification support reject.
type disableMaintNotifications struct{}

func (h *disableMaintNotifications) DialHook(next redis.DialHook) redis.DialHook { return next }

func (h *disableMaintNotifications) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if isMaintNotification(cmd) {
			return nil
		}
		return next(ctx, cmd)
	}
}

func (h *disableMaintNotifications) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		filtered := cmds[:0]
		for _, cmd := range cmds {
			if !isMaintNotification(cmd) {
				filtered = append(filtered, cmd)
			}
		}
		return next(ctx, filtered)
	}
}

func isMaintNotification(cmd redis.Cmder) bool {
	if !strings.EqualFold(cmd.FullName(), "client") || len(cmd.Args()) < 2 {
		return false
	}
	name, ok := cmd.Args()[1].(string)
	return ok && strings.EqualFold(name, "maint_notifications")
}
