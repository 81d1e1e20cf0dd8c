// Package index implements the open, configuration-driven spectral index
// registry and formula evaluation over tile bands.
package index

import (
	"fmt"
	"math"

	"github.com/veldtlabs/veldt/pkg/types"
)

// FormulaType is the tagged variant of a band combination rule. Formulas are
// declarative data, not executable code, so the registry stays serializable
// and safely extensible.
type FormulaType string

const (
	// FormulaRatio is sum(plus) / sum(minus).
	FormulaRatio FormulaType = "ratio"
	// FormulaNormalizedDifference is
	// (sum(plus) - sum(minus)) / (sum(plus) + sum(minus)).
	FormulaNormalizedDifference FormulaType = "normalized-difference"
	// FormulaLinearCombination is sum(coefficient * band) + offset.
	FormulaLinearCombination FormulaType = "linear-combination"
)

// Term is one weighted band of a linear combination.
type Term struct {
	Band        string  `yaml:"band" json:"band"`
	Coefficient float64 `yaml:"coefficient" json:"coefficient"`
}

// Formula is a named, declarative band combination rule.
type Formula struct {
	Name        string      `yaml:"name" json:"name"`
	Description string      `yaml:"description,omitempty" json:"description,omitempty"`
	Type        FormulaType `yaml:"type" json:"type"`

	// Plus and Minus are the band sums forming the two operands of ratio
	// and normalized-difference formulas.
	Plus  []string `yaml:"plus,omitempty" json:"plus,omitempty"`
	Minus []string `yaml:"minus,omitempty" json:"minus,omitempty"`

	// Terms and Offset define a linear combination.
	Terms  []Term  `yaml:"terms,omitempty" json:"terms,omitempty"`
	Offset float64 `yaml:"offset,omitempty" json:"offset,omitempty"`
}

// RequiredBands returns every band the formula reads.
func (f *Formula) RequiredBands() []string {
	seen := make(map[string]bool)
	var bands []string
	add := func(b string) {
		if !seen[b] {
			seen[b] = true
			bands = append(bands, b)
		}
	}
	for _, b := range f.Plus {
		add(b)
	}
	for _, b := range f.Minus {
		add(b)
	}
	for _, t := range f.Terms {
		add(t.Band)
	}
	return bands
}

// Validate checks a formula for structural completeness.
func (f *Formula) Validate() error {
	if f.Name == "" {
		return fmt.Errorf("formula name is required")
	}
	switch f.Type {
	case FormulaRatio, FormulaNormalizedDifference:
		if len(f.Plus) == 0 || len(f.Minus) == 0 {
			return fmt.Errorf("formula %q: %s needs plus and minus bands", f.Name, f.Type)
		}
		if len(f.Terms) > 0 {
			return fmt.Errorf("formula %q: terms are only valid for linear-combination", f.Name)
		}
	case FormulaLinearCombination:
		if len(f.Terms) == 0 {
			return fmt.Errorf("formula %q: linear-combination needs at least one term", f.Name)
		}
		if len(f.Plus) > 0 || len(f.Minus) > 0 {
			return fmt.Errorf("formula %q: plus/minus are only valid for ratio and normalized-difference", f.Name)
		}
	default:
		return fmt.Errorf("formula %q: unknown type %q", f.Name, f.Type)
	}
	return nil
}

// Compute applies the formula to a tile and returns the scalar IndexValue:
// the per-pixel formula result averaged over usable pixels. mask marks
// pixels to skip (cloud or nodata); a nil mask with a non-nil tile skips
// nothing. Pixels where any operand band is NaN, or where a denominator is
// zero, are skipped as well.
//
// A band required by the formula but absent from the tile is a
// *types.MissingBandError: downstream series would otherwise contain
// undetectable holes.
func (f *Formula) Compute(tile *types.Tile, mask []bool) (types.IndexValue, error) {
	iv := types.IndexValue{
		Index:     f.Name,
		Region:    tile.Region,
		Timestamp: tile.Timestamp,
	}

	npix := tile.Width * tile.Height
	bands := make(map[string][]float64, len(f.RequiredBands()))
	for _, name := range f.RequiredBands() {
		b := tile.Band(name)
		if b == nil {
			return iv, &types.MissingBandError{Index: f.Name, Band: name, SceneID: tile.SceneID}
		}
		if len(b) != npix {
			return iv, fmt.Errorf("band %s of scene %s: %d pixels, tile is %dx%d",
				name, tile.SceneID, len(b), tile.Width, tile.Height)
		}
		bands[name] = b
	}

	var sum float64
	var count int
	for i := 0; i < npix; i++ {
		if mask != nil && mask[i] {
			continue
		}
		v, ok := f.pixel(bands, i)
		if !ok {
			continue
		}
		sum += v
		count++
	}

	if count == 0 {
		iv.Value = math.NaN()
		return iv, nil
	}
	iv.Value = sum / float64(count)
	return iv, nil
}

// pixel evaluates the formula at one pixel. ok is false when the pixel must
// be skipped (NaN operand or zero denominator).
func (f *Formula) pixel(bands map[string][]float64, i int) (float64, bool) {
	switch f.Type {
	case FormulaRatio:
		num, ok := sumAt(bands, f.Plus, i)
		if !ok {
			return 0, false
		}
		den, ok := sumAt(bands, f.Minus, i)
		if !ok || den == 0 {
			return 0, false
		}
		return num / den, true
	case FormulaNormalizedDifference:
		a, ok := sumAt(bands, f.Plus, i)
		if !ok {
			return 0, false
		}
		b, ok := sumAt(bands, f.Minus, i)
		if !ok {
			return 0, false
		}
		den := a + b
		if den == 0 {
			return 0, false
		}
		return (a - b) / den, true
	case FormulaLinearCombination:
		v := f.Offset
		for _, t := range f.Terms {
			x := bands[t.Band][i]
			if math.IsNaN(x) {
				return 0, false
			}
			v += t.Coefficient * x
		}
		return v, true
	}
	return 0, false
}

func sumAt(bands map[string][]float64, names []string, i int) (float64, bool) {
	var s float64
	for _, name := range names {
		v := bands[name][i]
		if math.IsNaN(v) {
			return 0, false
		}
		s += v
	}
	return s, true
}
