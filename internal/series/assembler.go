// Package series assembles per-(region, index) observations into ordered
// time series.
package series

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/veldtlabs/veldt/internal/metrics"
	"github.com/veldtlabs/veldt/pkg/types"
)

// Point is one annotated observation entering assembly.
type Point struct {
	Value   types.IndexValue
	Quality types.QualityFlag
}

// Assembler builds TimeSeries from annotated index values. A per-pair
// exclusive section prevents two concurrent assemblies over the same
// (region, index) pair; distinct pairs assemble in parallel.
type Assembler struct {
	logger  *slog.Logger
	alertFn func(types.Alert)

	mu    sync.Mutex
	locks map[types.PairKey]*sync.Mutex
}

// NewAssembler creates an Assembler. alertFn may be nil; discards are then
// only logged.
func NewAssembler(logger *slog.Logger, alertFn func(types.Alert)) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		logger:  logger,
		alertFn: alertFn,
		locks:   make(map[types.PairKey]*sync.Mutex),
	}
}

func (a *Assembler) pairLock(key types.PairKey) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.locks[key]
	if !ok {
		l = &sync.Mutex{}
		a.locks[key] = l
	}
	return l
}

// Assemble sorts the points of one (region, index) pair by timestamp
// ascending and produces a TimeSeries. When two points share a nominal pass
// timestamp, the one with the higher valid-pixel fraction wins and the
// discard is logged. Zero remaining entries is a *types.EmptyWindowError.
//
// The returned series is append-only for the caller until frozen by the
// policy engine; every entry starts unevaluated.
func (a *Assembler) Assemble(region, indexName string, points []Point) (*types.TimeSeries, error) {
	key := types.PairKey{Region: region, Index: indexName}
	l := a.pairLock(key)
	l.Lock()
	defer l.Unlock()

	sorted := make([]Point, len(points))
	copy(sorted, points)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Value.Timestamp.Before(sorted[j].Value.Timestamp)
	})

	ts := &types.TimeSeries{Region: region, Index: indexName}
	for _, p := range sorted {
		n := len(ts.Entries)
		if n > 0 && ts.Entries[n-1].Timestamp.Equal(p.Value.Timestamp) {
			kept, discarded := resolveDuplicate(ts.Entries[n-1], entryOf(p))
			ts.Entries[n-1] = kept
			a.reportDiscard(key, p.Value.Timestamp, kept, discarded)
			continue
		}
		ts.Append(entryOf(p))
	}

	if len(ts.Entries) == 0 {
		return nil, &types.EmptyWindowError{Region: region, Index: indexName}
	}
	return ts, nil
}

func entryOf(p Point) types.SeriesEntry {
	return types.SeriesEntry{
		Timestamp: p.Value.Timestamp,
		Value:     p.Value.Value,
		Quality:   p.Quality,
		Decision:  types.DecisionUnevaluated,
	}
}

// resolveDuplicate keeps the entry with the higher valid-pixel fraction.
func resolveDuplicate(a, b types.SeriesEntry) (kept, discarded types.SeriesEntry) {
	if b.Quality.ValidPixelFraction > a.Quality.ValidPixelFraction {
		return b, a
	}
	return a, b
}

func (a *Assembler) reportDiscard(key types.PairKey, at time.Time, kept, discarded types.SeriesEntry) {
	metrics.TilesDiscarded.Add(1)
	a.logger.Warn("duplicate timestamp: discarding lower-quality entry",
		"region", key.Region,
		"index", key.Index,
		"timestamp", at,
		"keptValidFraction", kept.Quality.ValidPixelFraction,
		"discardedValidFraction", discarded.Quality.ValidPixelFraction,
	)
	if a.alertFn != nil {
		a.alertFn(types.Alert{
			Level:  types.AlertLevelInfo,
			Kind:   types.AlertDuplicateDiscarded,
			Region: key.Region,
			Index:  key.Index,
			Message: fmt.Sprintf("discarded duplicate at %s (valid %.2f vs kept %.2f)",
				at.Format(time.RFC3339),
				discarded.Quality.ValidPixelFraction,
				kept.Quality.ValidPixelFraction),
			Timestamp: time.Now(),
		})
	}
}
