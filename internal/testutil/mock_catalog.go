// Package testutil provides in-memory fakes and helpers for pipeline tests.
package testutil

import (
	"context"
	"sync"

	"github.com/veldtlabs/veldt/internal/provider"
	"github.com/veldtlabs/veldt/pkg/types"
)

// MockCatalog is an in-memory Catalog with scriptable failures.
type MockCatalog struct {
	mu         sync.Mutex
	tiles      map[string]*types.Tile
	scenes     []provider.Scene
	searchErr  error
	searchErrs map[string]error
	// fetchErrs queues errors per scene ID; each FetchTile call pops one.
	fetchErrs   map[string][]error
	searchCalls int
	fetchCalls  int
}

// NewMockCatalog creates an empty mock catalog.
func NewMockCatalog() *MockCatalog {
	return &MockCatalog{
		tiles:      make(map[string]*types.Tile),
		fetchErrs:  make(map[string][]error),
		searchErrs: make(map[string]error),
	}
}

// AddTile registers a tile and a matching scene.
func (m *MockCatalog) AddTile(tile *types.Tile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tiles[tile.SceneID] = tile

	assets := make(map[string]string, len(tile.Bands))
	for band := range tile.Bands {
		assets[band] = "mock://" + tile.SceneID + "/" + band
	}
	m.scenes = append(m.scenes, provider.Scene{
		ID:         tile.SceneID,
		Region:     tile.Region,
		Timestamp:  tile.Timestamp,
		CloudCover: tile.CloudCover,
		Assets:     assets,
	})
}

// SetSearchErr makes every Search call return err.
func (m *MockCatalog) SetSearchErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searchErr = err
}

// SetRegionSearchErr makes Search fail for one region while others still
// resolve.
func (m *MockCatalog) SetRegionSearchErr(region string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searchErrs[region] = err
}

// QueueFetchErr queues an error for the next FetchTile call of a scene.
func (m *MockCatalog) QueueFetchErr(sceneID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchErrs[sceneID] = append(m.fetchErrs[sceneID], err)
}

// Search returns the registered scenes matching region and window.
func (m *MockCatalog) Search(_ context.Context, region types.Region, window types.TimeWindow) ([]provider.Scene, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searchCalls++

	if m.searchErr != nil {
		return nil, m.searchErr
	}
	if err := m.searchErrs[region.Name]; err != nil {
		return nil, err
	}

	var hits []provider.Scene
	for _, s := range m.scenes {
		if s.Region == region.Name && window.Contains(s.Timestamp) {
			hits = append(hits, s)
		}
	}
	if len(hits) == 0 {
		return nil, &types.NoDataError{Region: region.Name, Window: window}
	}
	return hits, nil
}

// FetchTile returns the registered tile, or the next queued error.
func (m *MockCatalog) FetchTile(_ context.Context, scene provider.Scene) (*types.Tile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchCalls++

	if queue := m.fetchErrs[scene.ID]; len(queue) > 0 {
		err := queue[0]
		m.fetchErrs[scene.ID] = queue[1:]
		return nil, err
	}

	tile, ok := m.tiles[scene.ID]
	if !ok {
		return nil, &types.RetrievalError{SceneID: scene.ID, Err: context.Canceled}
	}
	return tile, nil
}

// SearchCalls returns how many times Search ran.
func (m *MockCatalog) SearchCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.searchCalls
}

// FetchCalls returns how many times FetchTile ran.
func (m *MockCatalog) FetchCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetchCalls
}
