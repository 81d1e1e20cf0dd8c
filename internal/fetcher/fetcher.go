// Package fetcher acquires tiles from a provider catalog through a bounded,
// rate-limited, cached worker pool.
package fetcher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/veldtlabs/veldt/internal/metrics"
	"github.com/veldtlabs/veldt/internal/provider"
	"github.com/veldtlabs/veldt/pkg/types"
)

// Failure records one scene that could not be fetched. Failures are
// isolated: a bad scene never aborts its siblings.
type Failure struct {
	SceneID string
	Err     error
}

// Result is the outcome of fetching one region window.
type Result struct {
	Tiles     []*types.Tile
	CacheHits int
	Failures  []Failure
}

// Fetcher retrieves tiles for region windows. Fetches across independent
// (region, timestamp) pairs run in parallel up to the configured
// concurrency; requests beyond the limit block rather than fail. Each
// fetch produces an independent Tile with no shared mutable state.
type Fetcher struct {
	catalog provider.Catalog
	cache   Cache
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	cfg     types.FetchConfig
	logger  *slog.Logger
}

// New creates a Fetcher. cache may be nil to disable caching.
func New(catalog provider.Catalog, cache Cache, cfg types.FetchConfig, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		catalog: catalog,
		cache:   cache,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "catalog",
			Timeout: 30 * time.Second,
			// An empty search result is a valid provider answer, not a
			// failure worth opening the circuit for.
			IsSuccessful: func(err error) bool {
				var noData *types.NoDataError
				return err == nil || errors.As(err, &noData)
			},
		}),
		cfg:    cfg,
		logger: logger,
	}
}

// FetchWindow produces the tiles covering a region and time window. A
// provider report of zero observations yields an empty result plus a
// warning, not an error: absence of data is an expected boundary
// condition. Per-scene failures are collected in Result.Failures.
//
// FetchWindow returns an error only for catalog search failure or context
// cancellation. A cancelled batch discards in-flight tiles; the cache is
// never left with a partial entry.
func (f *Fetcher) FetchWindow(ctx context.Context, region types.Region, window types.TimeWindow) (*Result, error) {
	scenes, err := f.search(ctx, region, window)
	if err != nil {
		var noData *types.NoDataError
		if errors.As(err, &noData) {
			f.logger.Warn("provider reported no observations",
				"region", region.Name,
				"start", window.Start,
				"end", window.End,
			)
			return &Result{}, nil
		}
		return nil, err
	}

	result := &Result{Tiles: make([]*types.Tile, 0, len(scenes))}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.cfg.Concurrency)

	for _, scene := range scenes {
		scene := scene
		g.Go(func() error {
			tile, cached, err := f.fetchScene(gctx, scene)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				if gctx.Err() != nil {
					return gctx.Err()
				}
				metrics.TileFetchFailures.Add(1)
				result.Failures = append(result.Failures, Failure{SceneID: scene.ID, Err: err})
				f.logger.Error("scene fetch failed", "scene", scene.ID, "error", err)
			case cached:
				metrics.TileCacheHits.Add(1)
				result.CacheHits++
				result.Tiles = append(result.Tiles, tile)
			default:
				metrics.TilesFetched.Add(1)
				result.Tiles = append(result.Tiles, tile)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

func (f *Fetcher) search(ctx context.Context, region types.Region, window types.TimeWindow) ([]provider.Scene, error) {
	var scenes []provider.Scene
	err := f.withRetry(ctx, func() error {
		out, err := f.breaker.Execute(func() (interface{}, error) {
			if err := f.limiter.Wait(ctx); err != nil {
				return nil, err
			}
			return f.catalog.Search(ctx, region, window)
		})
		if err != nil {
			return err
		}
		scenes = out.([]provider.Scene)
		return nil
	})
	return scenes, err
}

func (f *Fetcher) fetchScene(ctx context.Context, scene provider.Scene) (tile *types.Tile, cached bool, err error) {
	if f.cache != nil {
		if t, hit, err := f.cache.Get(ctx, scene.Region, scene.Timestamp); err == nil && hit {
			return t, true, nil
		}
	}

	err = f.withRetry(ctx, func() error {
		out, err := f.breaker.Execute(func() (interface{}, error) {
			if err := f.limiter.Wait(ctx); err != nil {
				return nil, err
			}
			return f.catalog.FetchTile(ctx, scene)
		})
		if err != nil {
			return err
		}
		tile = out.(*types.Tile)
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if f.cache != nil {
		if err := f.cache.Put(ctx, tile); err != nil && ctx.Err() == nil {
			// Cache writes are best-effort.
			f.logger.Warn("caching tile failed", "scene", scene.ID, "error", err)
		}
	}
	return tile, false, nil
}

// withRetry runs fn, retrying transient RetrievalErrors with exponential
// backoff up to the configured attempt count. Permanent errors, an open
// circuit, and cancellation surface immediately.
func (f *Fetcher) withRetry(ctx context.Context, fn func() error) error {
	backoff := f.cfg.RetryBaseBackoff
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		var retrieval *types.RetrievalError
		if !errors.As(err, &retrieval) {
			return err
		}
		if attempt >= f.cfg.RetryMaxAttempts {
			return err
		}

		metrics.TileFetchRetries.Add(1)
		f.logger.Warn("transient retrieval failure, retrying",
			"attempt", attempt+1,
			"backoff", backoff,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}
