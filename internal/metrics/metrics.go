// Package metrics exposes runtime counters via expvar and publishes per-run
// quality metrics to the experiment-tracking sink.
package metrics

import "expvar"

var (
	TilesFetched         = expvar.NewInt("tiles_fetched")
	TileCacheHits        = expvar.NewInt("tile_cache_hits")
	TileFetchRetries     = expvar.NewInt("tile_fetch_retries")
	TileFetchFailures    = expvar.NewInt("tile_fetch_failures")
	TilesDiscarded       = expvar.NewInt("tiles_discarded")
	EntriesKept          = expvar.NewInt("entries_kept")
	EntriesDropped       = expvar.NewInt("entries_dropped")
	EntriesInterpolated  = expvar.NewInt("entries_interpolated")
	EntriesFlagged       = expvar.NewInt("entries_flagged")
	CoverageGapsDetected = expvar.NewInt("coverage_gaps_detected")
	PairsFailed          = expvar.NewInt("pairs_failed")
	AlertsDispatched     = expvar.NewInt("alerts_dispatched")
	AlertsFailed         = expvar.NewInt("alerts_failed")
)
