package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/ncecere/carving_editor/internal/admission"
	"github.com/ncecere/carving_editor/internal/cache"
	"github.com/ncecere/carving_editor/internal/config"
	"github.com/ncecere/carving_editor/internal/observability"
	"github.com/ncecere/carving_editor/internal/providers"
	"github.com/ncecere/carving_editor/internal/redisclient"
	"github.com/ncecere/carving_editor/internal/services/archive"
	"github.com/ncecere/carving_editor/internal/storage/blob"
)

// Container aggregates runtime dependencies for handlers and services.
type Container struct {
	Config        *config.Config
	Redis         *redis.Client
	Factory       *providers.Factory
	Providers     providers.Set
	Gate          admission.Gate
	Idempotency   *cache.IdempotencyCache
	Archive       *archive.Service
	Observability *observability.Provider
}

// NewContainer builds a dependency container. redisClient may be nil when
// neither the Redis gate nor idempotent replay is enabled.
func NewContainer(ctx context.Context, cfg *config.Config, redisClient *redis.Client) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	factory := providers.NewFactory(cfg)
	set, err := factory.BuildSet(ctx)
	if err != nil {
		return nil, fmt.Errorf("init providers: %w", err)
	}

	gate, err := newGate(cfg.Admission, redisClient)
	if err != nil {
		return nil, err
	}

	var idem *cache.IdempotencyCache
	if cfg.Idempotency.Enabled {
		if redisClient == nil {
			return nil, fmt.Errorf("idempotency requires redis")
		}
		idem = cache.NewIdempotencyCache(redisClient, cfg.Idempotency.TTL)
	}

	var archiveSvc *archive.Service
	if cfg.Archive.Enabled {
		store, err := blob.New(ctx, cfg.Archive)
		if err != nil {
			return nil, fmt.Errorf("init archive store: %w", err)
		}
		archiveSvc = archive.NewService(store)
	}

	obsProvider, err := observability.Setup(ctx, cfg.Observability)
	if err != nil {
		return nil, fmt.Errorf("setup observability: %w", err)
	}

	fallback := ""
	if set.Fallback != nil {
		fallback = set.Fallback.Name()
	}
	slog.Info("providers resolved",
		"primary", set.Primary.Name(),
		"fallback", fallback,
		"admission", cfg.Admission.Backend,
		"idempotency", idem != nil,
		"archive", archiveSvc != nil,
	)

	return &Container{
		Config:        cfg,
		Redis:         redisClient,
		Factory:       factory,
		Providers:     set,
		Gate:          gate,
		Idempotency:   idem,
		Archive:       archiveSvc,
		Observability: obsProvider,
	}, nil
}

func newGate(cfg config.AdmissionConfig, client *redis.Client) (admission.Gate, error) {
	switch cfg.Backend {
	case "redis":
		if client == nil {
			return nil, fmt.Errorf("admission backend redis requires redis")
		}
		return admission.NewRedisGate(client, cfg.Key, cfg.TTL), nil
	default:
		return admission.NewMemoryGate(), nil
	}
}

// CheckDependencies pings optional backing services.
func (c *Container) CheckDependencies(ctx context.Context) error {
	if c == nil {
		return errors.New("container not initialised")
	}
	return redisclient.Ping(ctx, c.Redis)
}

// Close releases resources held by the container.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	if err := c.Observability.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
