// Package dataprovider fetches catalogs and region data from the data service.
// Every public call is fail-soft: upstream problems are logged and replaced by
// built-in catalogs or a synthetic region fixture.
package dataprovider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/mohammed-shakir/vulnerability-map/internal/core/model"
	"github.com/mohammed-shakir/vulnerability-map/internal/core/observability"
)

const (
	boundariesPath = "/boundaries"
	indicatorsPath = "/indicators"
	featuresPath   = "/vulnerability-data"

	maxBodyBytes = 64 << 20
)

type Provider struct {
	logger  *slog.Logger
	client  *http.Client
	baseURL string
	cache   *catalogCache
	rnd     func() float64
	newID   func() string
}

type Option func(*Provider)

// WithCatalogCache keeps successful catalog responses for ttl.
func WithCatalogCache(size int, ttl time.Duration) Option {
	return func(p *Provider) { p.cache = newCatalogCache(size, ttl) }
}

// WithRandom replaces the source used for placeholder scores and fixture population/area.
func WithRandom(f func() float64) Option {
	return func(p *Provider) {
		if f != nil {
			p.rnd = f
		}
	}
}

func New(logger *slog.Logger, client *http.Client, baseURL string, opts ...Option) *Provider {
	if client == nil {
		client = http.DefaultClient
	}
	p := &Provider{
		logger:  logger,
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		rnd:     rand.Float64,
		newID:   func() string { return "region-" + uuid.NewString() },
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// ListBoundaries returns the boundary catalog, or the built-in one when the service fails.
func (p *Provider) ListBoundaries(ctx context.Context) []model.BoundaryOption {
	var c *expirable.LRU[string, []model.BoundaryOption]
	if p.cache != nil {
		c = p.cache.boundaries
	}
	opts, err := cachedCatalog(ctx, c, "boundaries", p.baseURL, func(ctx context.Context) ([]model.BoundaryOption, error) {
		return fetchCatalog(ctx, p, boundariesPath, "boundaries", func(o model.BoundaryOption) (model.BoundaryOption, bool) {
			if strings.TrimSpace(o.ID) == "" {
				return o, false
			}
			if o.Name == "" {
				o.Name = o.ID
			}
			return o, true
		})
	})
	if err != nil {
		p.logger.WarnContext(ctx, "boundary catalog unavailable; using built-in catalog", "err", err)
		observability.IncFetch("boundaries", true)
		return DefaultBoundaries()
	}
	observability.IncFetch("boundaries", false)
	return opts
}

// ListIndicators returns the indicator catalog, or the built-in one when the service fails.
func (p *Provider) ListIndicators(ctx context.Context) []model.IndicatorOption {
	var c *expirable.LRU[string, []model.IndicatorOption]
	if p.cache != nil {
		c = p.cache.indicators
	}
	opts, err := cachedCatalog(ctx, c, "indicators", p.baseURL, func(ctx context.Context) ([]model.IndicatorOption, error) {
		return fetchCatalog(ctx, p, indicatorsPath, "indicators", func(o model.IndicatorOption) (model.IndicatorOption, bool) {
			if strings.TrimSpace(o.ID) == "" {
				return o, false
			}
			if o.Name == "" {
				o.Name = o.ID
			}
			return o, true
		})
	})
	if err != nil {
		p.logger.WarnContext(ctx, "indicator catalog unavailable; using built-in catalog", "err", err)
		observability.IncFetch("indicators", true)
		return DefaultIndicators()
	}
	observability.IncFetch("indicators", false)
	return opts
}

// FetchRegionData returns normalized regions for the pair. It never fails: any
// transport, status or decoding problem yields FallbackCollection.
func (p *Provider) FetchRegionData(ctx context.Context, boundaryID, indicatorID string) (out model.RegionCollection) {
	req := model.RenderRequest{BoundaryID: boundaryID, IndicatorID: indicatorID}

	defer func() {
		if rec := recover(); rec != nil {
			p.logger.ErrorContext(ctx, "panic while normalizing region data; using fallback fixture", "err", rec)
			observability.IncFetch("features", true)
			out = FallbackCollection(req, p.rnd)
		}
	}()

	coll, err := p.fetchRegionData(ctx, req)
	if err != nil {
		p.logger.WarnContext(ctx, "region data unavailable; using fallback fixture",
			"boundary", boundaryID, "indicator", indicatorID, "err", err)
		observability.IncFetch("features", true)
		return FallbackCollection(req, p.rnd)
	}
	observability.IncFetch("features", false)
	p.logger.DebugContext(ctx, "region data loaded",
		"boundary", boundaryID, "indicator", indicatorID, "features", coll.Len())
	return coll
}

func (p *Provider) fetchRegionData(ctx context.Context, req model.RenderRequest) (model.RegionCollection, error) {
	q := url.Values{}
	q.Set("boundary", req.BoundaryID)
	q.Set("indicator", req.IndicatorID)

	body, err := p.get(ctx, "features", featuresPath, q)
	if err != nil {
		return model.RegionCollection{}, err
	}
	return p.decodeCollection(ctx, body, req)
}

// get performs one GET against the data service and returns the body of a 2xx answer.
func (p *Provider) get(ctx context.Context, endpoint, path string, q url.Values) ([]byte, error) {
	u := p.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	observability.ObserveUpstreamLatency(endpoint, time.Since(start).Seconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return nil, fmt.Errorf("%w %d: %s", ErrUpstreamStatus, resp.StatusCode, strings.TrimSpace(string(b)))
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return b, nil
}

// fetchCatalog accepts a bare JSON array or an object wrapping it under wrapKey or "data".
// An empty result counts as a failure.
func fetchCatalog[T any](ctx context.Context, p *Provider, path, wrapKey string, keep func(T) (T, bool)) ([]T, error) {
	body, err := p.get(ctx, wrapKey, path, nil)
	if err != nil {
		return nil, err
	}

	var items []T
	if err := json.Unmarshal(body, &items); err != nil {
		var wrapped map[string]json.RawMessage
		if err := json.Unmarshal(body, &wrapped); err != nil {
			return nil, fmt.Errorf("decode %s: %w", wrapKey, err)
		}
		raw, ok := wrapped[wrapKey]
		if !ok {
			raw, ok = wrapped["data"]
		}
		if !ok {
			return nil, fmt.Errorf("%w: no %q array", ErrUnexpectedShape, wrapKey)
		}
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("decode %s: %w", wrapKey, err)
		}
	}

	out := make([]T, 0, len(items))
	for _, it := range items {
		if v, ok := keep(it); ok {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: empty %s catalog", ErrUnexpectedShape, wrapKey)
	}
	return out, nil
}
