// Package policy walks assembled time series and decisions every entry
// according to the configured gap and drift rules.
package policy

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/veldtlabs/veldt/internal/quality"
	"github.com/veldtlabs/veldt/pkg/types"
)

// Summary counts the decisions applied to one series.
type Summary struct {
	Kept         int
	Interpolated int
	Dropped      int
	Flagged      int
	CoverageGaps int
}

// Engine applies one terminal PolicyDecision per entry. The walk is an
// index-addressed pass over the entry array; no entry re-enters the
// unevaluated state and the series is frozen on return.
type Engine struct {
	cfg        types.PolicyConfig
	thresholds types.QualityThresholds
	logger     *slog.Logger
	alertFn    func(types.Alert)
}

// NewEngine creates a policy engine. alertFn may be nil; warnings are then
// only logged.
func NewEngine(cfg types.PolicyConfig, thresholds types.QualityThresholds, logger *slog.Logger, alertFn func(types.Alert)) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{cfg: cfg, thresholds: thresholds, logger: logger, alertFn: alertFn}
}

// Apply decisions every entry of ts and freezes it.
//
// Rules, in order:
//  1. Entries clearing the quality thresholds are kept.
//  2. A low-quality entry is interpolated linearly when an acceptable
//     neighbor exists within the interpolation window on both sides;
//     otherwise it is dropped.
//  3. A run of at least CoverageGapRunLength consecutive drops emits one
//     coverage-gap warning for the whole run, not one per entry.
//  4. Kept entries whose value deviates from the rolling mean by more than
//     the z-score threshold are tagged for review. The value is untouched.
func (e *Engine) Apply(ts *types.TimeSeries) Summary {
	n := len(ts.Entries)
	ok := make([]bool, n)
	for i, entry := range ts.Entries {
		ok[i] = quality.Acceptable(entry.Quality, e.thresholds)
	}

	var sum Summary
	for i := range ts.Entries {
		if ok[i] {
			ts.Entries[i].Decision = types.DecisionKeep
			sum.Kept++
			continue
		}
		prev, next := e.nearestNeighbors(ok, i)
		if prev >= 0 && next >= 0 {
			ts.Entries[i].Value = lerp(ts.Entries[prev], ts.Entries[next], ts.Entries[i].Timestamp)
			ts.Entries[i].Decision = types.DecisionInterpolate
			sum.Interpolated++
		} else {
			ts.Entries[i].Decision = types.DecisionDrop
			sum.Dropped++
		}
	}

	sum.CoverageGaps = e.warnCoverageGaps(ts)
	sum.Flagged = e.flagDrift(ts)
	sum.Kept -= sum.Flagged

	ts.Freeze()
	return sum
}

// nearestNeighbors returns the indices of the closest acceptable entries
// within the interpolation window on each side of i, or -1.
func (e *Engine) nearestNeighbors(ok []bool, i int) (prev, next int) {
	prev, next = -1, -1
	w := e.cfg.GapInterpolationWindow
	for j := i - 1; j >= 0 && j >= i-w; j-- {
		if ok[j] {
			prev = j
			break
		}
	}
	for j := i + 1; j < len(ok) && j <= i+w; j++ {
		if ok[j] {
			next = j
			break
		}
	}
	return prev, next
}

// lerp interpolates linearly in time between two entries.
func lerp(a, b types.SeriesEntry, at time.Time) float64 {
	span := b.Timestamp.Sub(a.Timestamp)
	if span <= 0 {
		return a.Value
	}
	frac := float64(at.Sub(a.Timestamp)) / float64(span)
	return a.Value + frac*(b.Value-a.Value)
}

// warnCoverageGaps finds sustained runs of drop decisions and emits one
// warning per run. Returns the number of runs warned.
func (e *Engine) warnCoverageGaps(ts *types.TimeSeries) int {
	var gaps int
	runStart := -1
	flush := func(end int) {
		if runStart < 0 {
			return
		}
		length := end - runStart
		if length >= e.cfg.CoverageGapRunLength {
			gaps++
			e.warnGap(ts, runStart, end-1, length)
		}
		runStart = -1
	}

	for i, entry := range ts.Entries {
		if entry.Decision == types.DecisionDrop {
			if runStart < 0 {
				runStart = i
			}
			continue
		}
		flush(i)
	}
	flush(len(ts.Entries))
	return gaps
}

func (e *Engine) warnGap(ts *types.TimeSeries, first, last, length int) {
	from := ts.Entries[first].Timestamp
	to := ts.Entries[last].Timestamp
	e.logger.Warn("coverage gap",
		"region", ts.Region,
		"index", ts.Index,
		"entries", length,
		"from", from,
		"to", to,
	)
	if e.alertFn != nil {
		e.alertFn(types.Alert{
			Level:  types.AlertLevelWarning,
			Kind:   types.AlertCoverageGap,
			Region: ts.Region,
			Index:  ts.Index,
			Message: fmt.Sprintf("%d consecutive entries dropped between %s and %s",
				length, from.Format(time.RFC3339), to.Format(time.RFC3339)),
			Details: map[string]interface{}{
				"entries": length,
				"from":    from.Format(time.RFC3339),
				"to":      to.Format(time.RFC3339),
			},
			Timestamp: time.Now(),
		})
	}
}

// flagDrift tags kept entries whose value shifts beyond the configured
// z-score against the rolling window of preceding usable values. Returns
// the number of entries flagged.
func (e *Engine) flagDrift(ts *types.TimeSeries) int {
	var flagged int
	window := make([]float64, 0, e.cfg.DriftWindow)

	for i := range ts.Entries {
		entry := &ts.Entries[i]
		usable := entry.Decision == types.DecisionKeep || entry.Decision == types.DecisionInterpolate
		if !usable || math.IsNaN(entry.Value) {
			continue
		}

		if len(window) >= 2 && entry.Decision == types.DecisionKeep {
			mean, err1 := stats.Mean(window)
			sd, err2 := stats.StandardDeviationSample(window)
			if err1 == nil && err2 == nil && sd > 0 {
				z := math.Abs(entry.Value-mean) / sd
				if z > e.cfg.DriftZScoreThreshold {
					entry.Decision = types.DecisionFlag
					flagged++
					e.reportDrift(ts, entry, z)
				}
			}
		}

		window = append(window, entry.Value)
		if len(window) > e.cfg.DriftWindow {
			window = window[1:]
		}
	}
	return flagged
}

func (e *Engine) reportDrift(ts *types.TimeSeries, entry *types.SeriesEntry, z float64) {
	e.logger.Info("drift flagged for review",
		"region", ts.Region,
		"index", ts.Index,
		"timestamp", entry.Timestamp,
		"value", entry.Value,
		"zscore", z,
	)
	if e.alertFn != nil {
		e.alertFn(types.Alert{
			Level:  types.AlertLevelInfo,
			Kind:   types.AlertDriftDetected,
			Region: ts.Region,
			Index:  ts.Index,
			Message: fmt.Sprintf("value %.4f at %s deviates %.2f sigma from rolling mean",
				entry.Value, entry.Timestamp.Format(time.RFC3339), z),
			Timestamp: time.Now(),
		})
	}
}
