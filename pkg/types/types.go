// Package types defines the public domain types for the veldt ingestion pipeline.
package types

import (
	"fmt"
	"math"
	"time"

	"gopkg.in/yaml.v3"
)

// Region is an area of interest: a named bounding box in a coordinate
// reference system. BBox is [minLon, minLat, maxLon, maxLat].
type Region struct {
	Name string     `yaml:"name" json:"name"`
	BBox [4]float64 `yaml:"bbox" json:"bbox"`
	CRS  string     `yaml:"crs,omitempty" json:"crs,omitempty"` // defaults to EPSG:4326
}

// metersPerDegree is the approximate length of one degree of latitude.
const metersPerDegree = 111_320.0

// RegionFromPoint builds a square Region buffering a WGS84 point by the
// given radius in meters. Longitude extent is corrected for latitude.
func RegionFromPoint(name string, lat, lon, radiusMeters float64) Region {
	dLat := radiusMeters / metersPerDegree
	dLon := radiusMeters / (metersPerDegree * math.Cos(lat*math.Pi/180))
	return Region{
		Name: name,
		BBox: [4]float64{lon - dLon, lat - dLat, lon + dLon, lat + dLat},
		CRS:  "EPSG:4326",
	}
}

// UnmarshalYAML accepts a region as either an explicit bbox or a WGS84
// point plus a radius in meters, which buffers into a square bbox.
func (r *Region) UnmarshalYAML(value *yaml.Node) error {
	type raw struct {
		Name         string    `yaml:"name"`
		BBox         []float64 `yaml:"bbox"`
		CRS          string    `yaml:"crs"`
		Lat          float64   `yaml:"lat"`
		Lon          float64   `yaml:"lon"`
		RadiusMeters float64   `yaml:"radiusMeters"`
	}
	var v raw
	if err := value.Decode(&v); err != nil {
		return err
	}

	switch {
	case len(v.BBox) == 4:
		r.Name = v.Name
		copy(r.BBox[:], v.BBox)
		r.CRS = v.CRS
	case len(v.BBox) == 0 && v.RadiusMeters > 0:
		*r = RegionFromPoint(v.Name, v.Lat, v.Lon, v.RadiusMeters)
	case len(v.BBox) == 0:
		// Leave the bbox zero; config validation rejects it with a
		// clearer message than a parse error here.
		r.Name = v.Name
		r.CRS = v.CRS
	default:
		return fmt.Errorf("region %q: bbox must have 4 elements [minLon, minLat, maxLon, maxLat]", v.Name)
	}
	return nil
}

// TimeWindow is a half-open acquisition interval [Start, End).
type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the window.
func (w TimeWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Tile is one raw multi-band raster acquisition for a region and timestamp.
// Bands are row-major float64 grids of Width*Height pixels; NaN marks nodata.
// A Tile is immutable once fetched.
type Tile struct {
	SceneID   string               `json:"sceneId"`
	Region    string               `json:"region"`
	Timestamp time.Time            `json:"timestamp"`
	Width     int                  `json:"width"`
	Height    int                  `json:"height"`
	Bands     map[string][]float64 `json:"bands"`
	// CloudCover is the provider-reported scene cloud percentage (0-100),
	// advisory only; quality annotation recomputes cloud fraction per pixel.
	CloudCover float64 `json:"cloudCover"`
}

// Band returns the named band grid, or nil when absent.
func (t *Tile) Band(name string) []float64 {
	if t == nil || t.Bands == nil {
		return nil
	}
	return t.Bands[name]
}

// QualityFlag is the per-tile quality assessment. Derived from a Tile exactly
// once and never mutated afterwards.
type QualityFlag struct {
	CloudFraction      float64 `json:"cloudFraction"`
	ValidPixelFraction float64 `json:"validPixelFraction"`
	Gap                bool    `json:"gap"`
}

// IndexValue is the scalar result of applying a named spectral formula to a
// Tile's bands, averaged over valid pixels.
type IndexValue struct {
	Index     string    `json:"index"`
	Region    string    `json:"region"`
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// PolicyDecision is the terminal outcome the policy engine assigns to a
// series entry. Entries start unevaluated and never re-enter that state.
type PolicyDecision string

const (
	DecisionUnevaluated PolicyDecision = "UNEVALUATED"
	DecisionKeep        PolicyDecision = "KEEP"
	DecisionInterpolate PolicyDecision = "INTERPOLATE"
	DecisionDrop        PolicyDecision = "DROP"
	DecisionFlag        PolicyDecision = "FLAG"
)

// SeriesEntry is one (timestamp, value, quality, decision) tuple of a
// TimeSeries.
type SeriesEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Value     float64        `json:"value"`
	Quality   QualityFlag    `json:"quality"`
	Decision  PolicyDecision `json:"decision"`
}

// TimeSeries is the ordered per-(region, index) sequence of entries.
// Entries are strictly increasing in timestamp with no duplicates. The
// sequence is append-only during assembly and frozen once the policy engine
// has decisioned every entry.
type TimeSeries struct {
	Region  string        `json:"region"`
	Index   string        `json:"index"`
	Entries []SeriesEntry `json:"entries"`

	frozen bool
}

// Freeze marks the series immutable. Append panics afterwards; freezing is a
// programming-error boundary, not a runtime condition.
func (ts *TimeSeries) Freeze() { ts.frozen = true }

// Frozen reports whether the series has been frozen.
func (ts *TimeSeries) Frozen() bool { return ts.frozen }

// Append adds an entry to an unfrozen series.
func (ts *TimeSeries) Append(e SeriesEntry) {
	if ts.frozen {
		panic("append to frozen time series")
	}
	ts.Entries = append(ts.Entries, e)
}

// LastTimestamp returns the timestamp of the final entry, or the zero time
// for an empty series.
func (ts *TimeSeries) LastTimestamp() time.Time {
	if len(ts.Entries) == 0 {
		return time.Time{}
	}
	return ts.Entries[len(ts.Entries)-1].Timestamp
}

// PairKey identifies the unit of isolation: one (region, index) pair.
type PairKey struct {
	Region string `json:"region"`
	Index  string `json:"index"`
}

// PairResult records the outcome of one (region, index) pair within a run.
// Err is empty for pairs that produced a series.
type PairResult struct {
	Pair         PairKey `json:"pair"`
	Entries      int     `json:"entries"`
	Kept         int     `json:"kept"`
	Dropped      int     `json:"dropped"`
	Interpolated int     `json:"interpolated"`
	Flagged      int     `json:"flagged"`
	// TilesSkipped counts tiles whose index computation failed (for
	// example a missing band) while the pair as a whole survived.
	TilesSkipped int    `json:"tilesSkipped,omitempty"`
	Err          string `json:"error,omitempty"`
}

// RunSummary aggregates one pipeline run. Per-pair failures are isolated
// here rather than aborting sibling pairs.
type RunSummary struct {
	RunID        string       `json:"runId"`
	StartedAt    time.Time    `json:"startedAt"`
	FinishedAt   time.Time    `json:"finishedAt"`
	Window       TimeWindow   `json:"window"`
	Pairs        []PairResult `json:"pairs"`
	TilesFetched int          `json:"tilesFetched"`
	TilesCached  int          `json:"tilesCached"`
	TilesFailed  int          `json:"tilesFailed"`
}

// FailedPairs returns the pairs that did not produce a series.
func (s *RunSummary) FailedPairs() []PairKey {
	var failed []PairKey
	for _, p := range s.Pairs {
		if p.Err != "" {
			failed = append(failed, p.Pair)
		}
	}
	return failed
}

// QualityFractions returns the dropped/interpolated/flagged fractions across
// all decisioned entries of the run, for the experiment-tracking sink.
func (s *RunSummary) QualityFractions() (dropped, interpolated, flagged float64) {
	var total, d, i, f int
	for _, p := range s.Pairs {
		total += p.Entries
		d += p.Dropped
		i += p.Interpolated
		f += p.Flagged
	}
	if total == 0 {
		return 0, 0, 0
	}
	n := float64(total)
	return float64(d) / n, float64(i) / n, float64(f) / n
}
