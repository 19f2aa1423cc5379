package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/spec-kit/itsm-sla/internal/domain"
)

const keyPrefix = "itsm-sla:config:"

// ConfigSource is the authoritative store behind the cache.
type ConfigSource interface {
	FindByKey(ctx context.Context, key domain.ConfigKey) (*domain.SlaConfiguration, error)
}

// ConfigCache serves SLA configuration lookups with a TTL. Entries live in redis when a
// client is given and in process memory otherwise. "No rule" results are cached too.
type ConfigCache struct {
	source ConfigSource
	redis  *redis.Client
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time

	group singleflight.Group
	mu    sync.RWMutex
	local map[domain.ConfigKey]localEntry

	// generation is bumped by Invalidate; a fill started under an older one is not stored.
	generation map[domain.ConfigKey]uint64
}

type localEntry struct {
	config    *domain.SlaConfiguration
	expiresAt time.Time
}

// cachedConfig is the redis representation. Config is nil when no rule exists.
type cachedConfig struct {
	Config *domain.SlaConfiguration `json:"config"`
}

// NewConfigCache wraps source. A non-positive ttl disables caching.
func NewConfigCache(source ConfigSource, client *redis.Client, ttl time.Duration, logger *zap.Logger) *ConfigCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConfigCache{
		source: source,
		redis:  client,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
		local:  make(map[domain.ConfigKey]localEntry),

		generation: make(map[domain.ConfigKey]uint64),
	}
}

// FindConfig returns the rule for key, or nil when there is none.
func (c *ConfigCache) FindConfig(ctx context.Context, key domain.ConfigKey) (*domain.SlaConfiguration, error) {
	if c.ttl <= 0 {
		return c.load(ctx, key)
	}
	if config, ok := c.get(ctx, key); ok {
		return config, nil
	}

	v, err, _ := c.group.Do(key.String(), func() (interface{}, error) {
		c.mu.RLock()
		gen := c.generation[key]
		c.mu.RUnlock()

		config, err := c.load(ctx, key)
		if err != nil {
			return nil, err
		}
		c.set(ctx, key, config, gen)
		return config, nil
	})
	if err != nil {
		return nil, err
	}
	config, _ := v.(*domain.SlaConfiguration)
	return clone(config), nil
}

// Invalidate drops key so the next lookup reads the store.
func (c *ConfigCache) Invalidate(ctx context.Context, key domain.ConfigKey) {
	c.group.Forget(key.String())
	c.mu.Lock()
	c.generation[key]++
	delete(c.local, key)
	c.mu.Unlock()
	if c.redis != nil {
		if err := c.redis.Del(ctx, keyPrefix+key.String()).Err(); err != nil {
			c.logger.Warn("invalidate sla config cache", zap.String("key", key.String()), zap.Error(err))
		}
	}
}

func (c *ConfigCache) load(ctx context.Context, key domain.ConfigKey) (*domain.SlaConfiguration, error) {
	config, err := c.source.FindByKey(ctx, key)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return config, err
}

func (c *ConfigCache) get(ctx context.Context, key domain.ConfigKey) (*domain.SlaConfiguration, bool) {
	if c.redis == nil {
		c.mu.RLock()
		entry, ok := c.local[key]
		c.mu.RUnlock()
		if !ok || !c.now().Before(entry.expiresAt) {
			return nil, false
		}
		return clone(entry.config), true
	}

	raw, err := c.redis.Get(ctx, keyPrefix+key.String()).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("read sla config cache", zap.String("key", key.String()), zap.Error(err))
		}
		return nil, false
	}
	var cached cachedConfig
	if err := json.Unmarshal(raw, &cached); err != nil {
		c.logger.Warn("decode sla config cache", zap.String("key", key.String()), zap.Error(err))
		return nil, false
	}
	return cached.Config, true
}

// set stores config unless key was invalidated after the fill read generation gen. The check
// and the write share the lock Invalidate bumps under, so a stale fill either lands before
// the invalidation's delete or not at all.
func (c *ConfigCache) set(ctx context.Context, key domain.ConfigKey, config *domain.SlaConfiguration, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation[key] != gen {
		c.logger.Debug("drop sla config fill invalidated mid-flight", zap.String("key", key.String()))
		return
	}
	if c.redis == nil {
		c.local[key] = localEntry{config: clone(config), expiresAt: c.now().Add(c.ttl)}
		return
	}

	raw, err := json.Marshal(cachedConfig{Config: config})
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, keyPrefix+key.String(), raw, c.ttl).Err(); err != nil {
		c.logger.Warn("write sla config cache", zap.String("key", key.String()), zap.Error(err))
	}
}

func clone(config *domain.SlaConfiguration) *domain.SlaConfiguration {
	if config == nil {
		return nil
	}
	out := *config
	if config.EscalationTimeMinutes != nil {
		minutes := *config.EscalationTimeMinutes
		out.EscalationTimeMinutes = &minutes
	}
	return &out
}
