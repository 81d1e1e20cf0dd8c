package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/veldtlabs/veldt/pkg/types"
)

// HTTPCatalog queries a STAC-style JSON-over-HTTP catalog.
type HTTPCatalog struct {
	client      *http.Client
	baseURL     string
	collections []string
	bands       []string
	token       string
}

// HTTPCatalogOption configures an HTTPCatalog.
type HTTPCatalogOption func(*HTTPCatalog)

// WithHTTPClient sets a custom HTTP client (useful for testing).
func WithHTTPClient(c *http.Client) HTTPCatalogOption {
	return func(h *HTTPCatalog) { h.client = c }
}

// NewHTTPCatalog creates a catalog client from provider configuration.
// When cfg.AuthTokenEnv is set, the named environment variable supplies a
// bearer token for every request.
func NewHTTPCatalog(cfg types.ProviderConfig, opts ...HTTPCatalogOption) *HTTPCatalog {
	h := &HTTPCatalog{
		client:      &http.Client{Timeout: 60 * time.Second},
		baseURL:     strings.TrimRight(cfg.APIURL, "/"),
		collections: cfg.Collections,
		bands:       cfg.Bands,
	}
	if cfg.AuthTokenEnv != "" {
		h.token = os.Getenv(cfg.AuthTokenEnv)
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// searchRequest is the catalog search payload.
type searchRequest struct {
	Collections []string   `json:"collections"`
	BBox        [4]float64 `json:"bbox"`
	Datetime    string     `json:"datetime"`
}

type searchResponse struct {
	Features []struct {
		ID         string `json:"id"`
		Properties struct {
			Datetime   time.Time `json:"datetime"`
			CloudCover float64   `json:"eo:cloud_cover"`
		} `json:"properties"`
		Assets map[string]struct {
			HRef string `json:"href"`
		} `json:"assets"`
	} `json:"features"`
}

// Search posts a search to the catalog and maps hits to Scenes.
func (h *HTTPCatalog) Search(ctx context.Context, region types.Region, window types.TimeWindow) ([]Scene, error) {
	body, err := json.Marshal(searchRequest{
		Collections: h.collections,
		BBox:        region.BBox,
		Datetime: fmt.Sprintf("%s/%s",
			window.Start.UTC().Format(time.RFC3339),
			window.End.UTC().Format(time.RFC3339)),
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling search request: %w", err)
	}

	respBody, err := h.do(ctx, http.MethodPost, h.baseURL+"/search", body)
	if err != nil {
		return nil, err
	}

	var resp searchResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}

	if len(resp.Features) == 0 {
		return nil, &types.NoDataError{Region: region.Name, Window: window}
	}

	scenes := make([]Scene, 0, len(resp.Features))
	for _, f := range resp.Features {
		s := Scene{
			ID:         f.ID,
			Region:     region.Name,
			Timestamp:  f.Properties.Datetime,
			CloudCover: f.Properties.CloudCover,
			Assets:     make(map[string]string, len(f.Assets)),
		}
		for band, asset := range f.Assets {
			s.Assets[band] = asset.HRef
		}
		scenes = append(scenes, s)
	}
	return scenes, nil
}

// bandAsset is the transfer format for one band grid.
type bandAsset struct {
	Width  int       `json:"width"`
	Height int       `json:"height"`
	Values []float64 `json:"values"`
}

// FetchTile downloads every configured band asset of a scene and builds an
// immutable Tile.
func (h *HTTPCatalog) FetchTile(ctx context.Context, scene Scene) (*types.Tile, error) {
	tile := &types.Tile{
		SceneID:    scene.ID,
		Region:     scene.Region,
		Timestamp:  scene.Timestamp,
		Bands:      make(map[string][]float64, len(h.bands)),
		CloudCover: scene.CloudCover,
	}

	for _, band := range h.bands {
		href, ok := scene.Assets[band]
		if !ok {
			// Absent assets surface downstream as missing bands or
			// zero valid pixels; transfer itself is not the place
			// to fail.
			continue
		}
		url := href
		if !strings.HasPrefix(href, "http://") && !strings.HasPrefix(href, "https://") {
			url = h.baseURL + "/" + strings.TrimLeft(href, "/")
		}
		body, err := h.do(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		var asset bandAsset
		if err := json.Unmarshal(body, &asset); err != nil {
			return nil, fmt.Errorf("decoding band %s of scene %s: %w", band, scene.ID, err)
		}
		if len(asset.Values) != asset.Width*asset.Height {
			return nil, fmt.Errorf("band %s of scene %s: %d values for %dx%d grid",
				band, scene.ID, len(asset.Values), asset.Width, asset.Height)
		}
		tile.Width = asset.Width
		tile.Height = asset.Height
		tile.Bands[band] = asset.Values
	}

	return tile, nil
}

// do performs one catalog request, classifying failures: network errors and
// 5xx are transient RetrievalErrors, 4xx are permanent.
func (h *HTTPCatalog) do(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &types.RetrievalError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &types.RetrievalError{Err: err}
	}

	if resp.StatusCode >= 500 {
		return nil, &types.RetrievalError{
			Err: fmt.Errorf("catalog status %d: %s", resp.StatusCode, truncate(respBody)),
		}
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("catalog rejected request: status %d: %s", resp.StatusCode, truncate(respBody))
	}
	return respBody, nil
}

func truncate(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
