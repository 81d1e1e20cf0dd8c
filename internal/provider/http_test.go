package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veldtlabs/veldt/pkg/types"
)

func catalogConfig(url string) types.ProviderConfig {
	return types.ProviderConfig{
		APIURL:         url,
		Collections:    []string{"sentinel-2-l2a"},
		Bands:          []string{"red", "nir", "scl"},
		SceneClassBand: "scl",
	}
}

func searchInputs() (types.Region, types.TimeWindow) {
	region := types.Region{Name: "aoi-1", BBox: [4]float64{10, 50, 11, 51}}
	window := types.TimeWindow{
		Start: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC),
	}
	return region, window
}

func TestSearch_MapsFeaturesToScenes(t *testing.T) {
	var gotReq searchRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/search", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		_, _ = w.Write([]byte(`{
			"features": [{
				"id": "S2A_20240605",
				"properties": {"datetime": "2024-06-05T10:30:00Z", "eo:cloud_cover": 12.5},
				"assets": {
					"red": {"href": "/assets/red.json"},
					"nir": {"href": "https://cdn.example.com/nir.json"}
				}
			}]
		}`))
	}))
	defer srv.Close()

	catalog := NewHTTPCatalog(catalogConfig(srv.URL))
	region, window := searchInputs()

	scenes, err := catalog.Search(context.Background(), region, window)
	require.NoError(t, err)

	assert.Equal(t, []string{"sentinel-2-l2a"}, gotReq.Collections)
	assert.Equal(t, region.BBox, gotReq.BBox)
	assert.Equal(t, "2024-06-01T00:00:00Z/2024-07-01T00:00:00Z", gotReq.Datetime)

	require.Len(t, scenes, 1)
	s := scenes[0]
	assert.Equal(t, "S2A_20240605", s.ID)
	assert.Equal(t, "aoi-1", s.Region)
	assert.Equal(t, 12.5, s.CloudCover)
	assert.Equal(t, "/assets/red.json", s.Assets["red"])
	assert.Equal(t, "https://cdn.example.com/nir.json", s.Assets["nir"])
}

func TestSearch_ZeroFeatures_NoDataError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"features": []}`))
	}))
	defer srv.Close()

	catalog := NewHTTPCatalog(catalogConfig(srv.URL))
	region, window := searchInputs()

	_, err := catalog.Search(context.Background(), region, window)

	var noData *types.NoDataError
	require.ErrorAs(t, err, &noData)
	assert.Equal(t, "aoi-1", noData.Region)
}

func TestSearch_ServerError_Transient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}))
	defer srv.Close()

	catalog := NewHTTPCatalog(catalogConfig(srv.URL))
	region, window := searchInputs()

	_, err := catalog.Search(context.Background(), region, window)

	var retrieval *types.RetrievalError
	require.ErrorAs(t, err, &retrieval)
}

func TestSearch_ClientError_Permanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad bbox", http.StatusBadRequest)
	}))
	defer srv.Close()

	catalog := NewHTTPCatalog(catalogConfig(srv.URL))
	region, window := searchInputs()

	_, err := catalog.Search(context.Background(), region, window)
	require.Error(t, err)

	var retrieval *types.RetrievalError
	assert.False(t, errors.As(err, &retrieval), "4xx must not be retried as transient")
	assert.Contains(t, err.Error(), "status 400")
}

func TestFetchTile_DownloadsConfiguredBands(t *testing.T) {
	asset := bandAsset{Width: 2, Height: 2, Values: []float64{0.1, 0.2, 0.3, 0.4}}
	mux := http.NewServeMux()
	mux.HandleFunc("/assets/", func(w http.ResponseWriter, _ *http.Request) {
		require.NoError(t, json.NewEncoder(w).Encode(asset))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	catalog := NewHTTPCatalog(catalogConfig(srv.URL))
	scene := Scene{
		ID:        "S2A_20240605",
		Region:    "aoi-1",
		Timestamp: time.Date(2024, 6, 5, 10, 30, 0, 0, time.UTC),
		Assets: map[string]string{
			"red": "/assets/red.json",
			"nir": "/assets/nir.json",
			"scl": "/assets/scl.json",
			// Not in the configured band list; must not be fetched.
			"thermal": "/assets/thermal.json",
		},
	}

	tile, err := catalog.FetchTile(context.Background(), scene)
	require.NoError(t, err)

	assert.Equal(t, 2, tile.Width)
	assert.Equal(t, 2, tile.Height)
	assert.Len(t, tile.Bands, 3)
	assert.Equal(t, asset.Values, tile.Bands["red"])
	assert.NotContains(t, tile.Bands, "thermal")
}

func TestFetchTile_AbsentAsset_SkippedNotFatal(t *testing.T) {
	asset := bandAsset{Width: 1, Height: 1, Values: []float64{0.5}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		require.NoError(t, json.NewEncoder(w).Encode(asset))
	}))
	defer srv.Close()

	catalog := NewHTTPCatalog(catalogConfig(srv.URL))
	scene := Scene{
		ID:     "S2A_20240605",
		Region: "aoi-1",
		Assets: map[string]string{"red": "/assets/red.json"},
	}

	tile, err := catalog.FetchTile(context.Background(), scene)
	require.NoError(t, err)

	assert.Contains(t, tile.Bands, "red")
	assert.NotContains(t, tile.Bands, "nir")
}

func TestFetchTile_GridSizeMismatch_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"width": 2, "height": 2, "values": [0.1]}`))
	}))
	defer srv.Close()

	catalog := NewHTTPCatalog(catalogConfig(srv.URL))
	scene := Scene{ID: "S2A_20240605", Assets: map[string]string{"red": "/assets/red.json"}}

	_, err := catalog.FetchTile(context.Background(), scene)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2x2")
}

func TestDo_BearerTokenFromEnv(t *testing.T) {
	t.Setenv("VELDT_CATALOG_TOKEN", "secret-token")

	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"features": [{"id": "x", "properties": {"datetime": "2024-06-05T10:30:00Z"}, "assets": {}}]}`))
	}))
	defer srv.Close()

	cfg := catalogConfig(srv.URL)
	cfg.AuthTokenEnv = "VELDT_CATALOG_TOKEN"
	catalog := NewHTTPCatalog(cfg)
	region, window := searchInputs()

	_, err := catalog.Search(context.Background(), region, window)
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret-token", gotAuth)
}
