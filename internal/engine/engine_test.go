package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veldtlabs/veldt/internal/artifact"
	"github.com/veldtlabs/veldt/internal/fetcher"
	"github.com/veldtlabs/veldt/internal/index"
	"github.com/veldtlabs/veldt/internal/policy"
	"github.com/veldtlabs/veldt/internal/quality"
	"github.com/veldtlabs/veldt/internal/series"
	"github.com/veldtlabs/veldt/internal/testutil"
	"github.com/veldtlabs/veldt/pkg/types"
)

type alertRecorder struct {
	mu     sync.Mutex
	alerts []types.Alert
}

func (r *alertRecorder) record(a types.Alert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
}

func (r *alertRecorder) byKind(kind types.AlertKind) []types.Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	var hits []types.Alert
	for _, a := range r.alerts {
		if a.Kind == kind {
			hits = append(hits, a)
		}
	}
	return hits
}

type harness struct {
	catalog *testutil.MockCatalog
	store   *artifact.FileStore
	alerts  *alertRecorder
	engine  *Engine
}

func newHarness(t *testing.T, indexes []string) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	thresholds := testutil.Thresholds()

	catalog := testutil.NewMockCatalog()
	store, err := artifact.NewFileStore(t.TempDir())
	require.NoError(t, err)

	registry := index.NewRegistry()
	for _, f := range index.DefaultFormulas() {
		require.NoError(t, registry.Register(f))
	}

	alerts := &alertRecorder{}
	policyCfg := types.PolicyConfig{
		GapInterpolationWindow: 2,
		CoverageGapRunLength:   4,
		DriftWindow:            5,
		DriftZScoreThreshold:   3.0,
	}
	fetchCfg := types.FetchConfig{
		Concurrency:      4,
		RatePerSecond:    1000,
		RetryMaxAttempts: 1,
		RetryBaseBackoff: time.Millisecond,
	}

	eng := New(Params{
		Fetcher:   fetcher.New(catalog, nil, fetchCfg, logger),
		Annotator: quality.NewAnnotator("scl", thresholds),
		Registry:  registry,
		Assembler: series.NewAssembler(logger, alerts.record),
		Policy:    policy.NewEngine(policyCfg, thresholds, logger, alerts.record),
		Store:     store,
		AlertFn:   alerts.record,
		Indexes:   indexes,
		Logger:    logger,
	})
	return &harness{catalog: catalog, store: store, alerts: alerts, engine: eng}
}

func engineRegion() types.Region {
	return types.Region{Name: "aoi-1", BBox: [4]float64{10, 50, 11, 51}, CRS: "EPSG:4326"}
}

func engineWindow() types.TimeWindow {
	return types.TimeWindow{
		Start: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC),
	}
}

func allBands() map[string]float64 {
	return map[string]float64{
		"blue": 0.1, "red": 0.2, "nir": 0.8, "swir16": 0.3, "swir22": 0.25,
	}
}

func pairResult(t *testing.T, summary *types.RunSummary, indexName string) types.PairResult {
	t.Helper()
	for _, p := range summary.Pairs {
		if p.Pair.Index == indexName {
			return p
		}
	}
	t.Fatalf("no pair result for index %s", indexName)
	return types.PairResult{}
}

func TestExtract_EmitsArtifactPerPair(t *testing.T) {
	h := newHarness(t, []string{"ndvi", "ndmi"})
	window := engineWindow()
	for i := 0; i < 3; i++ {
		ts := window.Start.AddDate(0, 0, i*5)
		h.catalog.AddTile(testutil.NewTile("scene-"+string(rune('a'+i)), "aoi-1", ts, 4, 4, allBands()))
	}

	summary, err := h.engine.Extract(context.Background(), []types.Region{engineRegion()}, window)
	require.NoError(t, err)

	require.Len(t, summary.Pairs, 2)
	assert.Empty(t, summary.FailedPairs())
	assert.Equal(t, 3, summary.TilesFetched)

	ndvi := pairResult(t, summary, "ndvi")
	assert.Equal(t, 3, ndvi.Entries)
	assert.Equal(t, 3, ndvi.Kept)

	data, err := h.store.Get(context.Background(), artifact.Key("aoi-1", "ndvi", window))
	require.NoError(t, err)
	decoded, err := artifact.Decode(data)
	require.NoError(t, err)
	require.Len(t, decoded.Entries, 3)
	assert.InDelta(t, 0.6, decoded.Entries[0].Value, 1e-9)
	assert.Equal(t, types.DecisionKeep, decoded.Entries[0].Decision)
}

func TestExtract_MissingBand_FailsOnlyDependentPairs(t *testing.T) {
	h := newHarness(t, nil)
	window := engineWindow()
	bands := allBands()
	delete(bands, "nir")
	h.catalog.AddTile(testutil.NewTile("scene-a", "aoi-1", window.Start, 4, 4, bands))

	summary, err := h.engine.Extract(context.Background(), []types.Region{engineRegion()}, window)
	require.NoError(t, err)

	// Every default index reads nir, so each pair fails, but the run
	// itself and its per-pair accounting survive.
	require.Len(t, summary.Pairs, 4)
	assert.Len(t, summary.FailedPairs(), 4)
	assert.Len(t, h.alerts.byKind(types.AlertPairFailed), 4)
}

func TestExtract_BandMissingForOneIndex_SiblingsComplete(t *testing.T) {
	h := newHarness(t, []string{"ndvi", "ndmi"})
	window := engineWindow()
	bands := allBands()
	delete(bands, "swir16")
	h.catalog.AddTile(testutil.NewTile("scene-a", "aoi-1", window.Start, 4, 4, bands))

	summary, err := h.engine.Extract(context.Background(), []types.Region{engineRegion()}, window)
	require.NoError(t, err)
	require.Len(t, summary.Pairs, 2)

	ndvi := pairResult(t, summary, "ndvi")
	assert.Empty(t, ndvi.Err)
	assert.Equal(t, 1, ndvi.Kept)

	ndmi := pairResult(t, summary, "ndmi")
	assert.NotEmpty(t, ndmi.Err)
}

func TestExtract_RepeatedRun_IdenticalArtifact(t *testing.T) {
	h := newHarness(t, []string{"ndvi"})
	window := engineWindow()
	for i := 0; i < 4; i++ {
		ts := window.Start.AddDate(0, 0, i*3)
		h.catalog.AddTile(testutil.NewTile("scene-"+string(rune('a'+i)), "aoi-1", ts, 4, 4, allBands()))
	}
	ctx := context.Background()
	regions := []types.Region{engineRegion()}

	_, err := h.engine.Extract(ctx, regions, window)
	require.NoError(t, err)
	first, err := h.store.Get(ctx, artifact.Key("aoi-1", "ndvi", window))
	require.NoError(t, err)

	_, err = h.engine.Extract(ctx, regions, window)
	require.NoError(t, err)
	second, err := h.store.Get(ctx, artifact.Key("aoi-1", "ndvi", window))
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestExtract_EmptyWindow_PairFailsWithEmptyWindowError(t *testing.T) {
	h := newHarness(t, []string{"ndvi"})

	summary, err := h.engine.Extract(context.Background(), []types.Region{engineRegion()}, engineWindow())
	require.NoError(t, err)

	require.Len(t, summary.Pairs, 1)
	assert.Contains(t, summary.Pairs[0].Err, "empty window")
}

func TestExtract_RegionSearchFailure_SiblingRegionsContinue(t *testing.T) {
	h := newHarness(t, []string{"ndvi", "ndmi"})
	window := engineWindow()
	h.catalog.AddTile(testutil.NewTile("scene-a", "aoi-1", window.Start, 4, 4, allBands()))
	h.catalog.SetRegionSearchErr("aoi-2", errors.New("provider outage"))

	regions := []types.Region{
		engineRegion(),
		{Name: "aoi-2", BBox: [4]float64{12, 50, 13, 51}, CRS: "EPSG:4326"},
	}
	summary, err := h.engine.Extract(context.Background(), regions, window)
	require.NoError(t, err)
	require.NotNil(t, summary)

	// Two indexes across two regions: the healthy region's pairs
	// complete, the failing region contributes one failed result per
	// index.
	require.Len(t, summary.Pairs, 4)
	failed := summary.FailedPairs()
	require.Len(t, failed, 2)
	for _, p := range summary.Pairs {
		if p.Err == "" {
			continue
		}
		assert.Equal(t, "aoi-2", p.Pair.Region)
		assert.Contains(t, p.Err, "provider outage")
	}
	assert.Len(t, h.alerts.byKind(types.AlertPairFailed), 2)

	data, err := h.store.Get(context.Background(), artifact.Key("aoi-1", "ndvi", window))
	require.NoError(t, err)
	decoded, err := artifact.Decode(data)
	require.NoError(t, err)
	assert.Len(t, decoded.Entries, 1)
}

func TestExtract_Cancelled_AbortsRun(t *testing.T) {
	h := newHarness(t, []string{"ndvi"})
	window := engineWindow()
	h.catalog.AddTile(testutil.NewTile("scene-a", "aoi-1", window.Start, 4, 4, allBands()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := h.engine.Extract(ctx, []types.Region{engineRegion()}, window)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, summary)
}

func TestExtract_TileComputeFailure_CountedAsSkipped(t *testing.T) {
	h := newHarness(t, []string{"ndvi"})
	window := engineWindow()
	h.catalog.AddTile(testutil.NewTile("scene-a", "aoi-1", window.Start, 4, 4, allBands()))
	h.catalog.AddTile(testutil.NewTile("scene-b", "aoi-1", window.Start.AddDate(0, 0, 5), 4, 4, allBands()))

	bands := allBands()
	delete(bands, "nir")
	h.catalog.AddTile(testutil.NewTile("scene-c", "aoi-1", window.Start.AddDate(0, 0, 10), 4, 4, bands))

	summary, err := h.engine.Extract(context.Background(), []types.Region{engineRegion()}, window)
	require.NoError(t, err)

	ndvi := pairResult(t, summary, "ndvi")
	assert.Empty(t, ndvi.Err)
	assert.Equal(t, 2, ndvi.Entries)
	assert.Equal(t, 1, ndvi.TilesSkipped)
}

func TestUpdate_ResumesFromDayAfterLastEntry(t *testing.T) {
	h := newHarness(t, []string{"ndvi"})
	window := engineWindow()
	h.catalog.AddTile(testutil.NewTile("scene-a", "aoi-1", window.Start, 4, 4, allBands()))
	h.catalog.AddTile(testutil.NewTile("scene-b", "aoi-1", window.Start.AddDate(0, 0, 10), 4, 4, allBands()))

	ctx := context.Background()
	regions := []types.Region{engineRegion()}
	_, err := h.engine.Extract(ctx, regions, window)
	require.NoError(t, err)

	// A new observation lands after the extracted window.
	later := window.Start.AddDate(0, 0, 20)
	h.catalog.AddTile(testutil.NewTile("scene-c", "aoi-1", later, 4, 4, allBands()))

	now := later.AddDate(0, 0, 1)
	summary, err := h.engine.Update(ctx, regions, now)
	require.NoError(t, err)

	require.Len(t, summary.Pairs, 1)
	assert.Equal(t, 1, summary.Pairs[0].Entries)

	wantStart := window.Start.AddDate(0, 0, 10).Add(24 * time.Hour)
	assert.True(t, summary.Window.Start.Equal(wantStart),
		"resume point %s, want %s", summary.Window.Start, wantStart)

	data, err := h.store.Get(ctx, artifact.Key("aoi-1", "ndvi", types.TimeWindow{Start: wantStart, End: now}))
	require.NoError(t, err)
	decoded, err := artifact.Decode(data)
	require.NoError(t, err)
	require.Len(t, decoded.Entries, 1)
	assert.True(t, decoded.Entries[0].Timestamp.Equal(later))
}

func TestUpdate_MultiRegion_WindowCoversEveryResumedRegion(t *testing.T) {
	h := newHarness(t, []string{"ndvi"})
	window := engineWindow()
	h.catalog.AddTile(testutil.NewTile("scene-a", "aoi-1", window.Start, 4, 4, allBands()))
	h.catalog.AddTile(testutil.NewTile("scene-b", "aoi-1", window.Start.AddDate(0, 0, 10), 4, 4, allBands()))
	h.catalog.AddTile(testutil.NewTile("scene-c", "aoi-2", window.Start, 4, 4, allBands()))
	h.catalog.AddTile(testutil.NewTile("scene-d", "aoi-2", window.Start.AddDate(0, 0, 4), 4, 4, allBands()))

	ctx := context.Background()
	regions := []types.Region{
		engineRegion(),
		{Name: "aoi-2", BBox: [4]float64{12, 50, 13, 51}, CRS: "EPSG:4326"},
	}
	_, err := h.engine.Extract(ctx, regions, window)
	require.NoError(t, err)

	h.catalog.AddTile(testutil.NewTile("scene-e", "aoi-1", window.Start.AddDate(0, 0, 20), 4, 4, allBands()))
	h.catalog.AddTile(testutil.NewTile("scene-f", "aoi-2", window.Start.AddDate(0, 0, 15), 4, 4, allBands()))

	now := window.Start.AddDate(0, 0, 30)
	summary, err := h.engine.Update(ctx, regions, now)
	require.NoError(t, err)

	// aoi-2 resumes earliest, so the summary window starts at its
	// resume point and runs through now for both regions.
	wantStart := window.Start.AddDate(0, 0, 4).Add(24 * time.Hour)
	assert.True(t, summary.Window.Start.Equal(wantStart),
		"window start %s, want %s", summary.Window.Start, wantStart)
	assert.True(t, summary.Window.End.Equal(now),
		"window end %s, want %s", summary.Window.End, now)
}

func TestUpdate_NoPriorArtifact_RegionSkipped(t *testing.T) {
	h := newHarness(t, []string{"ndvi"})
	h.catalog.AddTile(testutil.NewTile("scene-a", "aoi-1", engineWindow().Start, 4, 4, allBands()))

	summary, err := h.engine.Update(context.Background(), []types.Region{engineRegion()}, time.Now().UTC())
	require.NoError(t, err)

	assert.Empty(t, summary.Pairs)
	assert.Zero(t, summary.TilesFetched)
}

func TestUpdate_RegionAlreadyCurrent_Skipped(t *testing.T) {
	h := newHarness(t, []string{"ndvi"})
	window := engineWindow()
	h.catalog.AddTile(testutil.NewTile("scene-a", "aoi-1", window.Start, 4, 4, allBands()))

	ctx := context.Background()
	regions := []types.Region{engineRegion()}
	_, err := h.engine.Extract(ctx, regions, window)
	require.NoError(t, err)
	fetchesAfterExtract := h.catalog.FetchCalls()

	now := window.Start.Add(12 * time.Hour)
	summary, err := h.engine.Update(ctx, regions, now)
	require.NoError(t, err)

	assert.Empty(t, summary.Pairs)
	assert.Equal(t, fetchesAfterExtract, h.catalog.FetchCalls())
}
