package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veldtlabs/veldt/internal/testutil"
	"github.com/veldtlabs/veldt/pkg/types"
)

func policyConfig() types.PolicyConfig {
	return types.PolicyConfig{
		GapInterpolationWindow: 2,
		CoverageGapRunLength:   4,
		DriftWindow:            5,
		DriftZScoreThreshold:   3.0,
	}
}

// seriesOf builds a daily series where good marks entries clearing the
// quality thresholds.
func seriesOf(values []float64, good []bool) *types.TimeSeries {
	ts := &types.TimeSeries{Region: "aoi-1", Index: "ndvi"}
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, v := range values {
		flag := types.QualityFlag{CloudFraction: 0.1, ValidPixelFraction: 0.9}
		if !good[i] {
			flag = types.QualityFlag{CloudFraction: 0.1, ValidPixelFraction: 0.1}
		}
		ts.Append(types.SeriesEntry{
			Timestamp: base.AddDate(0, 0, i),
			Value:     v,
			Quality:   flag,
			Decision:  types.DecisionUnevaluated,
		})
	}
	return ts
}

func TestApply_GoodEntriesKept_SeriesFrozen(t *testing.T) {
	e := NewEngine(policyConfig(), testutil.Thresholds(), nil, nil)
	ts := seriesOf([]float64{0.5, 0.5, 0.5}, []bool{true, true, true})

	sum := e.Apply(ts)

	assert.Equal(t, 3, sum.Kept)
	assert.True(t, ts.Frozen())
	for _, entry := range ts.Entries {
		assert.Equal(t, types.DecisionKeep, entry.Decision)
		assert.NotEqual(t, types.DecisionUnevaluated, entry.Decision)
	}
}

func TestApply_LowEntryWithNeighbors_Interpolated(t *testing.T) {
	e := NewEngine(policyConfig(), testutil.Thresholds(), nil, nil)
	ts := seriesOf([]float64{0.4, 0.0, 0.6}, []bool{true, false, true})

	sum := e.Apply(ts)

	assert.Equal(t, 2, sum.Kept)
	assert.Equal(t, 1, sum.Interpolated)
	assert.Equal(t, types.DecisionInterpolate, ts.Entries[1].Decision)
	assert.InDelta(t, 0.5, ts.Entries[1].Value, 1e-9, "linear midpoint of neighbors")
}

func TestApply_LowEntryWithoutNeighbors_Dropped(t *testing.T) {
	e := NewEngine(policyConfig(), testutil.Thresholds(), nil, nil)
	// Neighbors beyond the window of 2 on the left, none on the right.
	ts := seriesOf([]float64{0.4, 0.0, 0.0, 0.0}, []bool{true, false, false, false})

	sum := e.Apply(ts)

	assert.Equal(t, 1, sum.Kept)
	assert.Zero(t, sum.Interpolated)
	assert.Equal(t, 3, sum.Dropped)
}

func TestApply_SustainedDropRun_SingleCoverageGapWarning(t *testing.T) {
	var alerts []types.Alert
	e := NewEngine(policyConfig(), testutil.Thresholds(), nil,
		func(a types.Alert) { alerts = append(alerts, a) })

	// Five consecutive low entries with no acceptable neighbor inside the
	// interpolation window: all five drop, one warning for the run.
	ts := seriesOf(
		[]float64{0, 0, 0, 0, 0},
		[]bool{false, false, false, false, false},
	)

	sum := e.Apply(ts)

	assert.Equal(t, 5, sum.Dropped)
	assert.Equal(t, 1, sum.CoverageGaps)

	var gaps []types.Alert
	for _, a := range alerts {
		if a.Kind == types.AlertCoverageGap {
			gaps = append(gaps, a)
		}
	}
	require.Len(t, gaps, 1, "one warning per run, not per entry")
	assert.Equal(t, types.AlertLevelWarning, gaps[0].Level)
}

func TestApply_ShortDropRun_NoWarning(t *testing.T) {
	var alerts []types.Alert
	e := NewEngine(policyConfig(), testutil.Thresholds(), nil,
		func(a types.Alert) { alerts = append(alerts, a) })

	// Three drops, below the configured run length of four.
	ts := seriesOf(
		[]float64{0.5, 0, 0, 0},
		[]bool{true, false, false, false},
	)

	sum := e.Apply(ts)

	assert.Equal(t, 3, sum.Dropped)
	assert.Zero(t, sum.CoverageGaps)
	for _, a := range alerts {
		assert.NotEqual(t, types.AlertCoverageGap, a.Kind)
	}
}

func TestApply_DriftBeyondZScore_FlaggedNotAltered(t *testing.T) {
	e := NewEngine(policyConfig(), testutil.Thresholds(), nil, nil)

	values := []float64{0.50, 0.52, 0.48, 0.51, 0.49, 0.95}
	good := []bool{true, true, true, true, true, true}
	ts := seriesOf(values, good)

	sum := e.Apply(ts)

	assert.Equal(t, 1, sum.Flagged)
	last := ts.Entries[len(ts.Entries)-1]
	assert.Equal(t, types.DecisionFlag, last.Decision)
	assert.InDelta(t, 0.95, last.Value, 1e-9, "flag must not alter the value")
	assert.Equal(t, 5, sum.Kept)
}

func TestApply_StableSeries_NothingFlagged(t *testing.T) {
	e := NewEngine(policyConfig(), testutil.Thresholds(), nil, nil)
	ts := seriesOf(
		[]float64{0.50, 0.52, 0.48, 0.51, 0.49, 0.50},
		[]bool{true, true, true, true, true, true},
	)

	sum := e.Apply(ts)

	assert.Zero(t, sum.Flagged)
	assert.Equal(t, 6, sum.Kept)
}

func TestApply_EveryEntryLeavesUnevaluated(t *testing.T) {
	e := NewEngine(policyConfig(), testutil.Thresholds(), nil, nil)
	ts := seriesOf(
		[]float64{0.5, 0, 0.5, 0, 0, 0, 0, 0.5},
		[]bool{true, false, true, false, false, false, false, true},
	)

	sum := e.Apply(ts)

	total := sum.Kept + sum.Interpolated + sum.Dropped + sum.Flagged
	assert.Equal(t, len(ts.Entries), total)
	for _, entry := range ts.Entries {
		assert.NotEqual(t, types.DecisionUnevaluated, entry.Decision)
	}
}
