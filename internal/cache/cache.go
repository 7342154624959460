package cache

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"fuelerp/backend/internal/domain"
)

// DashboardCache stores rendered overflow dashboards. Only read paths consult
// it; writes call Delete for the affected station key.
type DashboardCache interface {
	Get(ctx context.Context, key string) (*domain.OverflowDashboard, bool, error)
	Set(ctx context.Context, key string, value *domain.OverflowDashboard, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type NoopDashboardCache struct{}

func (NoopDashboardCache) Get(_ context.Context, _ string) (*domain.OverflowDashboard, bool, error) {
	return nil, false, nil
}

func (NoopDashboardCache) Set(_ context.Context, _ string, _ *domain.OverflowDashboard, _ time.Duration) error {
	return nil
}

func (NoopDashboardCache) Delete(_ context.Context, _ string) error {
	return nil
}

// LocalDashboardCache is the in-process fallback used when no Redis address
// is configured.
type LocalDashboardCache struct {
	items *ttlcache.Cache[string, domain.OverflowDashboard]
}

func NewLocalDashboardCache(ttl time.Duration) *LocalDashboardCache {
	items := ttlcache.New(
		ttlcache.WithTTL[string, domain.OverflowDashboard](ttl),
		ttlcache.WithDisableTouchOnHit[string, domain.OverflowDashboard](),
	)
	go items.Start()
	return &LocalDashboardCache{items: items}
}

func (c *LocalDashboardCache) Close() error {
	c.items.Stop()
	return nil
}

func (c *LocalDashboardCache) Get(_ context.Context, key string) (*domain.OverflowDashboard, bool, error) {
	item := c.items.Get(key)
	if item == nil || item.IsExpired() {
		return nil, false, nil
	}
	value := item.Value()
	return &value, true, nil
}

func (c *LocalDashboardCache) Set(_ context.Context, key string, value *domain.OverflowDashboard, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	c.items.Set(key, *value, ttl)
	return nil
}

func (c *LocalDashboardCache) Delete(_ context.Context, key string) error {
	c.items.Delete(key)
	return nil
}
