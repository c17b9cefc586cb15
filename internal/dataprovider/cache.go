package dataprovider

import (
	"context"
	"slices"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/mohammed-shakir/vulnerability-map/internal/core/model"
	"github.com/mohammed-shakir/vulnerability-map/internal/core/observability"
)

// catalogCache keeps upstream catalogs for a while. Fallback catalogs are never
// stored so the next lookup retries the data service.
type catalogCache struct {
	boundaries *expirable.LRU[string, []model.BoundaryOption]
	indicators *expirable.LRU[string, []model.IndicatorOption]
}

func newCatalogCache(size int, ttl time.Duration) *catalogCache {
	if size <= 0 {
		size = 8
	}
	return &catalogCache{
		boundaries: expirable.NewLRU[string, []model.BoundaryOption](size, nil, ttl),
		indicators: expirable.NewLRU[string, []model.IndicatorOption](size, nil, ttl),
	}
}

// cachedCatalog serves key from c when present, otherwise calls fetch and stores a successful result.
func cachedCatalog[T any](ctx context.Context, c *expirable.LRU[string, []T], catalog, key string, fetch func(context.Context) ([]T, error)) ([]T, error) {
	if c == nil {
		return fetch(ctx)
	}
	if v, ok := c.Get(key); ok {
		observability.IncCatalogCache(catalog, true)
		return slices.Clone(v), nil
	}
	observability.IncCatalogCache(catalog, false)
	v, err := fetch(ctx)
	if err != nil {
		return nil, err
	}
	c.Add(key, slices.Clone(v))
	return v, nil
}
