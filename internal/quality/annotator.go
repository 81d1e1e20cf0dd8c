// Package quality computes per-tile quality flags from scene classification
// data. Annotation is a pure function of the tile bytes and the configured
// thresholds: identical input always yields an identical flag.
package quality

import (
	"math"

	"github.com/veldtlabs/veldt/pkg/types"
)

// Annotator derives QualityFlags from Tiles. It holds only configuration and
// is safe for concurrent use.
type Annotator struct {
	sceneClassBand string
	cloudClasses   map[int]bool
	thresholds     types.QualityThresholds
}

// NewAnnotator creates an Annotator for the given classification band and
// thresholds.
func NewAnnotator(sceneClassBand string, thresholds types.QualityThresholds) *Annotator {
	classes := make(map[int]bool, len(thresholds.CloudClasses))
	for _, c := range thresholds.CloudClasses {
		classes[c] = true
	}
	return &Annotator{
		sceneClassBand: sceneClassBand,
		cloudClasses:   classes,
		thresholds:     thresholds,
	}
}

// Annotate computes the quality flag for a tile. It never fails: an absent
// or empty classification band is reported as 100% invalid with the gap
// indicator set, not as an error.
//
// A pixel is nodata when its classification value is NaN or zero (zero is
// the provider fill value). A non-nodata pixel is cloud when its class is in
// the configured cloud class set. CloudFraction is cloud pixels over
// non-nodata pixels; ValidPixelFraction is non-nodata, non-cloud pixels over
// all pixels.
func (a *Annotator) Annotate(tile *types.Tile) types.QualityFlag {
	scl := tile.Band(a.sceneClassBand)
	if len(scl) == 0 {
		return types.QualityFlag{CloudFraction: 0, ValidPixelFraction: 0, Gap: true}
	}

	var nodata, cloud int
	for _, v := range scl {
		if math.IsNaN(v) || v == 0 {
			nodata++
			continue
		}
		if a.cloudClasses[int(v)] {
			cloud++
		}
	}

	total := len(scl)
	observed := total - nodata

	flag := types.QualityFlag{
		ValidPixelFraction: float64(observed-cloud) / float64(total),
	}
	if observed > 0 {
		flag.CloudFraction = float64(cloud) / float64(observed)
	}
	flag.Gap = flag.ValidPixelFraction == 0
	return flag
}

// Acceptable reports whether a flag clears both configured thresholds.
func (a *Annotator) Acceptable(flag types.QualityFlag) bool {
	return Acceptable(flag, a.thresholds)
}

// Acceptable reports whether a flag clears the given thresholds: cloud
// fraction at or under the ceiling and valid-pixel fraction at or over the
// floor.
func Acceptable(flag types.QualityFlag, t types.QualityThresholds) bool {
	if flag.Gap {
		return false
	}
	return flag.CloudFraction <= t.CloudFractionCeiling &&
		flag.ValidPixelFraction >= t.ValidPixelFloor
}

// CloudMask returns a per-pixel mask for a tile: true where the pixel is
// unusable (nodata or cloud). Index computation skips masked pixels. When no
// classification band is present the mask is nil; the tile's flag carries
// the gap indicator and policy drops the entry downstream.
func (a *Annotator) CloudMask(tile *types.Tile) []bool {
	scl := tile.Band(a.sceneClassBand)
	if len(scl) == 0 {
		return nil
	}
	mask := make([]bool, len(scl))
	for i, v := range scl {
		mask[i] = math.IsNaN(v) || v == 0 || a.cloudClasses[int(v)]
	}
	return mask
}
