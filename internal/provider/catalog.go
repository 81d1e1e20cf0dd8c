// Package provider isolates catalog-specific protocol details behind the
// Catalog interface. The rest of the pipeline only sees Scenes and Tiles.
package provider

import (
	"context"
	"time"

	"github.com/veldtlabs/veldt/pkg/types"
)

// Scene is one catalog search hit: an acquisition the provider can serve
// for a region and timestamp, before any band data is transferred.
type Scene struct {
	ID        string
	Region    string
	Timestamp time.Time
	// CloudCover is the provider-reported scene cloud percentage (0-100).
	CloudCover float64
	// Assets maps band name to the asset location serving that band.
	Assets map[string]string
}

// Catalog is the provider query interface. Search returns the scenes
// matching a region and window; re-querying the same window yields the same
// or a superset of scenes. FetchTile transfers the band data for one scene.
//
// Search returns *types.NoDataError when the provider reports zero matching
// observations, and *types.RetrievalError for transient failures. FetchTile
// returns *types.RetrievalError for transient failures.
type Catalog interface {
	Search(ctx context.Context, region types.Region, window types.TimeWindow) ([]Scene, error)
	FetchTile(ctx context.Context, scene Scene) (*types.Tile, error)
}
