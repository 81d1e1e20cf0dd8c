// Package commands implements the CLI subcommands for the veldt binary.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/veldtlabs/veldt/internal/alert"
	"github.com/veldtlabs/veldt/internal/artifact"
	"github.com/veldtlabs/veldt/internal/engine"
	"github.com/veldtlabs/veldt/internal/fetcher"
	"github.com/veldtlabs/veldt/internal/index"
	"github.com/veldtlabs/veldt/internal/metrics"
	"github.com/veldtlabs/veldt/internal/policy"
	"github.com/veldtlabs/veldt/internal/provider"
	"github.com/veldtlabs/veldt/internal/quality"
	"github.com/veldtlabs/veldt/internal/series"
	"github.com/veldtlabs/veldt/pkg/types"
)

// buildEngine wires the full pipeline from project configuration.
// cleanup flushes the experiment-tracking exporter.
func buildEngine(ctx context.Context, cfg *types.ProjectConfig) (*engine.Engine, func(), error) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	registry := index.NewRegistry()
	for _, dir := range cfg.IndexDirs {
		if err := registry.LoadDir(dir); err != nil {
			return nil, nil, fmt.Errorf("loading index formulas from %s: %w", dir, err)
		}
	}

	dispatcher, err := alert.NewDispatcher(cfg.Alerts, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("building alert sinks: %w", err)
	}
	alertFn := dispatcher.AlertFunc()

	cache, err := fetcher.NewCache(cfg.Fetch.Cache)
	if err != nil {
		return nil, nil, fmt.Errorf("building tile cache: %w", err)
	}

	store, err := artifact.NewStore(cfg.Artifact)
	if err != nil {
		return nil, nil, fmt.Errorf("building artifact store: %w", err)
	}

	tracker, err := metrics.NewTracker(ctx, cfg.Metrics.OTLPEndpoint)
	if err != nil {
		return nil, nil, fmt.Errorf("building metrics tracker: %w", err)
	}

	annotator := quality.NewAnnotator(cfg.Provider.SceneClassBand, cfg.Quality)

	eng := engine.New(engine.Params{
		Fetcher:   fetcher.New(provider.NewHTTPCatalog(cfg.Provider), cache, cfg.Fetch, logger),
		Annotator: annotator,
		Registry:  registry,
		Assembler: series.NewAssembler(logger, alertFn),
		Policy:    policy.NewEngine(cfg.Policy, cfg.Quality, logger, alertFn),
		Store:     store,
		Tracker:   tracker,
		AlertFn:   alertFn,
		Indexes:   cfg.Indexes,
		Logger:    logger,
	})

	cleanup := func() {
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = tracker.Shutdown(sctx)
	}
	return eng, cleanup, nil
}

// parseWindow parses --start/--end date flags into a TimeWindow. The end
// date is exclusive at day resolution.
func parseWindow(start, end string) (types.TimeWindow, error) {
	var w types.TimeWindow
	s, err := time.Parse("2006-01-02", start)
	if err != nil {
		return w, fmt.Errorf("parsing --start: %w", err)
	}
	e, err := time.Parse("2006-01-02", end)
	if err != nil {
		return w, fmt.Errorf("parsing --end: %w", err)
	}
	if !s.Before(e) {
		return w, fmt.Errorf("--start must be before --end")
	}
	w.Start, w.End = s, e
	return w, nil
}
