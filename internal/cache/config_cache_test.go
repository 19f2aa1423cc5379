package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/itsm-sla/internal/domain"
	"github.com/spec-kit/itsm-sla/internal/repository"
)

type countingSource struct {
	inner *repository.MemorySlaConfigRepository
	calls atomic.Int32
	delay time.Duration
}

func (s *countingSource) FindByKey(ctx context.Context, key domain.ConfigKey) (*domain.SlaConfiguration, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	return s.inner.FindByKey(ctx, key)
}

var billingKey = domain.ConfigKey{ProductID: "crm", ModuleID: "billing", IssueName: "invoice-missing"}

func seededSource(t *testing.T) *countingSource {
	t.Helper()
	repo := repository.NewMemorySlaConfigRepository()
	require.NoError(t, repo.Create(context.Background(), &domain.SlaConfiguration{
		ProductID:             billingKey.ProductID,
		ModuleID:              billingKey.ModuleID,
		IssueName:             billingKey.IssueName,
		PriorityLevel:         domain.PriorityP1,
		ResponseTimeMinutes:   60,
		ResolutionTimeMinutes: 240,
		IsActive:              true,
	}))
	return &countingSource{inner: repo}
}

func TestConfigCacheServesFromLocalUntilExpiry(t *testing.T) {
	ctx := context.Background()
	source := seededSource(t)
	cache := NewConfigCache(source, nil, time.Minute, nil)
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		cfg, err := cache.FindConfig(ctx, billingKey)
		require.NoError(t, err)
		require.NotNil(t, cfg)
		assert.Equal(t, 60, cfg.ResponseTimeMinutes)
	}
	assert.Equal(t, int32(1), source.calls.Load())

	now = now.Add(time.Minute)
	_, err := cache.FindConfig(ctx, billingKey)
	require.NoError(t, err)
	assert.Equal(t, int32(2), source.calls.Load())
}

func TestConfigCacheCachesMissingRule(t *testing.T) {
	ctx := context.Background()
	source := seededSource(t)
	cache := NewConfigCache(source, nil, time.Minute, nil)
	unknown := domain.ConfigKey{ProductID: "crm", ModuleID: "billing", IssueName: "other"}

	for i := 0; i < 2; i++ {
		cfg, err := cache.FindConfig(ctx, unknown)
		require.NoError(t, err)
		assert.Nil(t, cfg)
	}
	assert.Equal(t, int32(1), source.calls.Load())
}

func TestConfigCacheInvalidate(t *testing.T) {
	ctx := context.Background()
	source := seededSource(t)
	cache := NewConfigCache(source, nil, time.Hour, nil)

	cfg, err := cache.FindConfig(ctx, billingKey)
	require.NoError(t, err)
	cfg.ResponseTimeMinutes = 5
	require.NoError(t, source.inner.Update(ctx, cfg))

	stale, err := cache.FindConfig(ctx, billingKey)
	require.NoError(t, err)
	assert.Equal(t, 60, stale.ResponseTimeMinutes)

	cache.Invalidate(ctx, billingKey)
	fresh, err := cache.FindConfig(ctx, billingKey)
	require.NoError(t, err)
	assert.Equal(t, 5, fresh.ResponseTimeMinutes)
}

func TestConfigCacheCollapsesConcurrentMisses(t *testing.T) {
	source := seededSource(t)
	source.delay = 50 * time.Millisecond
	cache := NewConfigCache(source, nil, time.Minute, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cfg, err := cache.FindConfig(context.Background(), billingKey)
			assert.NoError(t, err)
			assert.NotNil(t, cfg)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), source.calls.Load())
}

func TestConfigCacheDisabledPassesThrough(t *testing.T) {
	source := seededSource(t)
	cache := NewConfigCache(source, nil, 0, nil)
	for i := 0; i < 3; i++ {
		_, err := cache.FindConfig(context.Background(), billingKey)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), source.calls.Load())
}

func TestConfigCacheFallsBackWhenRedisIsDown(t *testing.T) {
	source := seededSource(t)
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		MaxRetries:  -1,
		DialTimeout: 100 * time.Millisecond,
	})
	defer client.Close()
	cache := NewConfigCache(source, client, time.Minute, nil)

	cfg, err := cache.FindConfig(context.Background(), billingKey)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, domain.PriorityP1, cfg.PriorityLevel)
}

// gatedSource holds its first lookup until release is closed.
type gatedSource struct {
	inner   *repository.MemorySlaConfigRepository
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *gatedSource) FindByKey(ctx context.Context, key domain.ConfigKey) (*domain.SlaConfiguration, error) {
	cfg, err := s.inner.FindByKey(ctx, key)
	first := false
	s.once.Do(func() { first = true })
	if first {
		close(s.entered)
		<-s.release
	}
	return cfg, err
}

func TestConfigCacheDropsFillInvalidatedMidFlight(t *testing.T) {
	ctx := context.Background()
	source := &gatedSource{
		inner:   seededSource(t).inner,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	cache := NewConfigCache(source, nil, time.Hour, nil)

	done := make(chan *domain.SlaConfiguration)
	go func() {
		cfg, err := cache.FindConfig(ctx, billingKey)
		assert.NoError(t, err)
		done <- cfg
	}()
	<-source.entered

	current, err := source.inner.FindByKey(ctx, billingKey)
	require.NoError(t, err)
	current.ResponseTimeMinutes = 5
	require.NoError(t, source.inner.Update(ctx, current))
	cache.Invalidate(ctx, billingKey)
	close(source.release)

	inFlight := <-done
	require.NotNil(t, inFlight)
	assert.Equal(t, 60, inFlight.ResponseTimeMinutes, "the fill read the row before the update")

	fresh, err := cache.FindConfig(ctx, billingKey)
	require.NoError(t, err)
	assert.Equal(t, 5, fresh.ResponseTimeMinutes)
}
