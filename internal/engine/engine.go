// Package engine orchestrates the ingestion pipeline: fetch, annotate,
// compute, assemble, decide, emit.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/veldtlabs/veldt/internal/artifact"
	"github.com/veldtlabs/veldt/internal/fetcher"
	"github.com/veldtlabs/veldt/internal/index"
	"github.com/veldtlabs/veldt/internal/metrics"
	"github.com/veldtlabs/veldt/internal/policy"
	"github.com/veldtlabs/veldt/internal/quality"
	"github.com/veldtlabs/veldt/internal/series"
	"github.com/veldtlabs/veldt/pkg/types"
)

// Params collects the collaborators an Engine needs.
type Params struct {
	Fetcher   *fetcher.Fetcher
	Annotator *quality.Annotator
	Registry  *index.Registry
	Assembler *series.Assembler
	Policy    *policy.Engine
	Store     artifact.Store
	Tracker   *metrics.Tracker
	AlertFn   func(types.Alert)
	// Indexes restricts which registry formulas run; empty means all.
	Indexes []string
	Logger  *slog.Logger
}

// Engine drives full and incremental extraction runs. The unit of isolation
// is one (region, index) pair: a failing pair lands in the run summary and
// never aborts its siblings.
type Engine struct {
	p Params
}

// New creates an Engine.
func New(p Params) *Engine {
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	return &Engine{p: p}
}

func (e *Engine) indexNames() []string {
	if len(e.p.Indexes) > 0 {
		return e.p.Indexes
	}
	return e.p.Registry.Names()
}

// Extract runs the pipeline for every configured region over one window and
// returns the aggregate run summary. Only cancellation aborts the run: a
// region whose catalog search fails is recorded as failed pairs in the
// summary and its siblings keep running.
func (e *Engine) Extract(ctx context.Context, regions []types.Region, window types.TimeWindow) (*types.RunSummary, error) {
	summary := &types.RunSummary{
		RunID:     ulid.Make().String(),
		StartedAt: time.Now(),
		Window:    window,
	}
	e.p.Logger.Info("extraction run starting",
		"run", summary.RunID,
		"regions", len(regions),
		"indexes", e.indexNames(),
		"start", window.Start,
		"end", window.End,
	)

	for _, region := range regions {
		if err := e.runRegion(ctx, region, window, summary); err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			e.failRegion(summary, region, err)
		}
	}

	e.finish(ctx, summary)
	return summary, nil
}

// Update resumes each region from the day after its last emitted artifact
// entry, mirroring the incremental update flow of the export scripts.
// Regions with no prior artifact are skipped with a warning; regions
// already current are skipped silently. The summary window is the envelope
// of every resumed region's window.
func (e *Engine) Update(ctx context.Context, regions []types.Region, now time.Time) (*types.RunSummary, error) {
	summary := &types.RunSummary{
		RunID:     ulid.Make().String(),
		StartedAt: time.Now(),
	}

	for _, region := range regions {
		start, ok, err := e.resumePoint(ctx, region)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			e.failRegion(summary, region, err)
			continue
		}
		if !ok {
			e.p.Logger.Warn("no prior artifact for region, run a full extract first", "region", region.Name)
			continue
		}
		if !start.Before(now) {
			e.p.Logger.Info("region is up to date", "region", region.Name)
			continue
		}

		window := types.TimeWindow{Start: start, End: now}
		widenWindow(summary, window)
		if err := e.runRegion(ctx, region, window, summary); err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			e.failRegion(summary, region, err)
		}
	}

	e.finish(ctx, summary)
	return summary, nil
}

// failRegion records a terminal failure for every pair of a region. Sibling
// regions keep running; the unit of isolation is the (region, index) pair.
func (e *Engine) failRegion(summary *types.RunSummary, region types.Region, err error) {
	e.p.Logger.Error("region failed", "region", region.Name, "error", err)
	for _, indexName := range e.indexNames() {
		pair := types.PairKey{Region: region.Name, Index: indexName}
		summary.Pairs = append(summary.Pairs, types.PairResult{Pair: pair, Err: err.Error()})
		metrics.PairsFailed.Add(1)
		if e.p.AlertFn != nil {
			e.p.AlertFn(types.Alert{
				Level:     types.AlertLevelError,
				Kind:      types.AlertPairFailed,
				Region:    pair.Region,
				Index:     pair.Index,
				Message:   err.Error(),
				Timestamp: time.Now(),
			})
		}
	}
}

// widenWindow grows the summary window to the envelope of every per-region
// window processed so far.
func widenWindow(summary *types.RunSummary, w types.TimeWindow) {
	if summary.Window.Start.IsZero() || w.Start.Before(summary.Window.Start) {
		summary.Window.Start = w.Start
	}
	if w.End.After(summary.Window.End) {
		summary.Window.End = w.End
	}
}

// resumePoint finds the earliest continuation timestamp across a region's
// pairs: the day after the oldest pair's last entry.
func (e *Engine) resumePoint(ctx context.Context, region types.Region) (time.Time, bool, error) {
	var start time.Time
	found := false

	for _, indexName := range e.indexNames() {
		keys, err := e.p.Store.List(ctx, artifact.PairPrefix(region.Name, indexName))
		if err != nil {
			return time.Time{}, false, fmt.Errorf("listing artifacts for %s/%s: %w", region.Name, indexName, err)
		}
		if len(keys) == 0 {
			continue
		}
		data, err := e.p.Store.Get(ctx, keys[len(keys)-1])
		if err != nil {
			return time.Time{}, false, fmt.Errorf("reading artifact %s: %w", keys[len(keys)-1], err)
		}
		ts, err := artifact.Decode(data)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("decoding artifact %s: %w", keys[len(keys)-1], err)
		}
		last := ts.LastTimestamp()
		if last.IsZero() {
			continue
		}
		next := last.Add(24 * time.Hour)
		if !found || next.Before(start) {
			start = next
			found = true
		}
	}
	return start, found, nil
}

// runRegion fetches and annotates a region's tiles once, then fans out over
// its index pairs.
func (e *Engine) runRegion(ctx context.Context, region types.Region, window types.TimeWindow, summary *types.RunSummary) error {
	fetched, err := e.p.Fetcher.FetchWindow(ctx, region, window)
	if err != nil {
		return fmt.Errorf("fetching window for region %s: %w", region.Name, err)
	}

	summary.TilesFetched += len(fetched.Tiles)
	summary.TilesCached += fetched.CacheHits
	summary.TilesFailed += len(fetched.Failures)

	// Quality annotation happens exactly once per tile; downstream stages
	// only read the precomputed flags and masks.
	flags := make(map[string]types.QualityFlag, len(fetched.Tiles))
	masks := make(map[string][]bool, len(fetched.Tiles))
	for _, tile := range fetched.Tiles {
		flags[tile.SceneID] = e.p.Annotator.Annotate(tile)
		masks[tile.SceneID] = e.p.Annotator.CloudMask(tile)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)

	for _, indexName := range e.indexNames() {
		indexName := indexName
		g.Go(func() error {
			result := e.runPair(gctx, region, indexName, window, fetched.Tiles, flags, masks)
			mu.Lock()
			summary.Pairs = append(summary.Pairs, result)
			mu.Unlock()
			return gctx.Err()
		})
	}

	return g.Wait()
}

// runPair computes, assembles, decisions, and emits one (region, index)
// series. All failures are folded into the PairResult.
func (e *Engine) runPair(ctx context.Context, region types.Region, indexName string, window types.TimeWindow,
	tiles []*types.Tile, flags map[string]types.QualityFlag, masks map[string][]bool) types.PairResult {

	pair := types.PairKey{Region: region.Name, Index: indexName}
	result := types.PairResult{Pair: pair}

	fail := func(err error) types.PairResult {
		result.Err = err.Error()
		metrics.PairsFailed.Add(1)
		e.p.Logger.Error("pair failed", "region", pair.Region, "index", pair.Index, "error", err)
		if e.p.AlertFn != nil {
			e.p.AlertFn(types.Alert{
				Level:     types.AlertLevelError,
				Kind:      types.AlertPairFailed,
				Region:    pair.Region,
				Index:     pair.Index,
				Message:   err.Error(),
				Timestamp: time.Now(),
			})
		}
		return result
	}

	formula, err := e.p.Registry.Get(indexName)
	if err != nil {
		return fail(err)
	}

	points := make([]series.Point, 0, len(tiles))
	for _, tile := range tiles {
		iv, err := formula.Compute(tile, masks[tile.SceneID])
		if err != nil {
			// Fatal for this (tile, index) computation only; other
			// tiles and sibling indices continue.
			result.TilesSkipped++
			e.p.Logger.Error("index computation failed",
				"region", pair.Region,
				"index", pair.Index,
				"scene", tile.SceneID,
				"error", err,
			)
			continue
		}
		points = append(points, series.Point{Value: iv, Quality: flags[tile.SceneID]})
	}

	ts, err := e.p.Assembler.Assemble(pair.Region, pair.Index, points)
	if err != nil {
		return fail(err)
	}

	pol := e.p.Policy.Apply(ts)
	result.Entries = len(ts.Entries)
	result.Kept = pol.Kept
	result.Dropped = pol.Dropped
	result.Interpolated = pol.Interpolated
	result.Flagged = pol.Flagged

	metrics.EntriesKept.Add(int64(pol.Kept))
	metrics.EntriesDropped.Add(int64(pol.Dropped))
	metrics.EntriesInterpolated.Add(int64(pol.Interpolated))
	metrics.EntriesFlagged.Add(int64(pol.Flagged))
	metrics.CoverageGapsDetected.Add(int64(pol.CoverageGaps))

	data, err := artifact.Encode(ts)
	if err != nil {
		return fail(fmt.Errorf("encoding artifact: %w", err))
	}
	if err := e.p.Store.Put(ctx, artifact.Key(pair.Region, pair.Index, window), data); err != nil {
		return fail(fmt.Errorf("storing artifact: %w", err))
	}

	e.p.Logger.Info("pair complete",
		"region", pair.Region,
		"index", pair.Index,
		"entries", result.Entries,
		"kept", result.Kept,
		"interpolated", result.Interpolated,
		"dropped", result.Dropped,
		"flagged", result.Flagged,
		"tilesSkipped", result.TilesSkipped,
	)
	return result
}

func (e *Engine) finish(ctx context.Context, summary *types.RunSummary) {
	summary.FinishedAt = time.Now()
	e.p.Tracker.RecordRun(ctx, summary)

	dropped, interpolated, flagged := summary.QualityFractions()
	e.p.Logger.Info("run finished",
		"run", summary.RunID,
		"pairs", len(summary.Pairs),
		"failedPairs", len(summary.FailedPairs()),
		"tilesFetched", summary.TilesFetched,
		"cacheHits", summary.TilesCached,
		"fractionDropped", dropped,
		"fractionInterpolated", interpolated,
		"fractionFlagged", flagged,
	)
}
