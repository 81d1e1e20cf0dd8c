package testutil

import (
	"time"

	"github.com/veldtlabs/veldt/pkg/types"
)

// Scene classification values used throughout the tests: class 4 is clear
// vegetation, class 9 is high-probability cloud (Sentinel-2 SCL numbering).
const (
	SCLClear = 4
	SCLCloud = 9
)

// UniformBand returns a w*h grid filled with v.
func UniformBand(w, h int, v float64) []float64 {
	b := make([]float64, w*h)
	for i := range b {
		b[i] = v
	}
	return b
}

// SCLBand returns a w*h classification grid where the leading cloudFraction
// of pixels is cloud and the rest is clear.
func SCLBand(w, h int, cloudFraction float64) []float64 {
	b := make([]float64, w*h)
	cloudy := int(cloudFraction * float64(len(b)))
	for i := range b {
		if i < cloudy {
			b[i] = SCLCloud
		} else {
			b[i] = SCLClear
		}
	}
	return b
}

// NewTile builds a tile with uniform band fills.
func NewTile(sceneID, region string, ts time.Time, w, h int, bands map[string]float64) *types.Tile {
	tile := &types.Tile{
		SceneID:   sceneID,
		Region:    region,
		Timestamp: ts,
		Width:     w,
		Height:    h,
		Bands:     make(map[string][]float64, len(bands)+1),
	}
	for name, v := range bands {
		tile.Bands[name] = UniformBand(w, h, v)
	}
	tile.Bands["scl"] = SCLBand(w, h, 0)
	return tile
}

// Thresholds returns quality thresholds usable by most tests.
func Thresholds() types.QualityThresholds {
	return types.QualityThresholds{
		CloudFractionCeiling: 0.3,
		ValidPixelFloor:      0.5,
		CloudClasses:         []int{3, 8, SCLCloud, 10},
	}
}
