// Package config handles loading and validation of veldt.yaml project configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/veldtlabs/veldt/pkg/types"
)

// Load reads and parses veldt.yaml from the given directory.
func Load(dir string) (*types.ProjectConfig, error) {
	path := filepath.Join(dir, "veldt.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg types.ProjectConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Validate checks a project config for completeness. Every numeric threshold
// is required input: the pipeline refuses to guess quality or policy
// defaults.
func Validate(cfg *types.ProjectConfig) error {
	if cfg.Provider.APIURL == "" {
		return fmt.Errorf("provider.apiUrl is required")
	}
	if len(cfg.Provider.Collections) == 0 {
		return fmt.Errorf("at least one provider collection is required")
	}
	if len(cfg.Provider.Bands) == 0 {
		return fmt.Errorf("provider.bands is required")
	}
	if cfg.Provider.SceneClassBand == "" {
		return fmt.Errorf("provider.sceneClassBand is required")
	}
	if len(cfg.Regions) == 0 {
		return fmt.Errorf("at least one region is required")
	}
	for i, r := range cfg.Regions {
		if r.Name == "" {
			return fmt.Errorf("regions[%d]: name is required", i)
		}
		if r.BBox[0] >= r.BBox[2] || r.BBox[1] >= r.BBox[3] {
			return fmt.Errorf("region %q: bbox must be [minLon, minLat, maxLon, maxLat]", r.Name)
		}
	}
	if len(cfg.IndexDirs) == 0 {
		return fmt.Errorf("at least one indexDir is required")
	}

	q := cfg.Quality
	if q.CloudFractionCeiling <= 0 || q.CloudFractionCeiling > 1 {
		return fmt.Errorf("quality.cloudFractionCeiling must be in (0, 1]")
	}
	if q.ValidPixelFloor <= 0 || q.ValidPixelFloor > 1 {
		return fmt.Errorf("quality.validPixelFloor must be in (0, 1]")
	}
	if len(q.CloudClasses) == 0 {
		return fmt.Errorf("quality.cloudClasses is required")
	}

	p := cfg.Policy
	if p.GapInterpolationWindow <= 0 {
		return fmt.Errorf("policy.gapInterpolationWindow must be positive")
	}
	if p.CoverageGapRunLength <= 0 {
		return fmt.Errorf("policy.coverageGapRunLength must be positive")
	}
	if p.DriftWindow <= 1 {
		return fmt.Errorf("policy.driftWindow must be greater than 1")
	}
	if p.DriftZScoreThreshold <= 0 {
		return fmt.Errorf("policy.driftZScoreThreshold must be positive")
	}

	f := cfg.Fetch
	if f.Concurrency <= 0 {
		return fmt.Errorf("fetch.concurrency must be positive")
	}
	if f.RatePerSecond <= 0 {
		return fmt.Errorf("fetch.ratePerSecond must be positive")
	}
	if f.RetryMaxAttempts < 0 {
		return fmt.Errorf("fetch.retryMaxAttempts must not be negative")
	}
	if f.RetryMaxAttempts > 0 && f.RetryBaseBackoff <= 0 {
		return fmt.Errorf("fetch.retryBaseBackoff is required when retries are enabled")
	}
	switch f.Cache.Type {
	case types.CacheNone, "":
	case types.CacheLocal:
		if f.Cache.Dir == "" {
			return fmt.Errorf("fetch.cache.dir is required for local cache")
		}
	case types.CacheS3:
		if f.Cache.Bucket == "" {
			return fmt.Errorf("fetch.cache.bucket is required for s3 cache")
		}
	default:
		return fmt.Errorf("unknown cache type %q", f.Cache.Type)
	}

	switch cfg.Artifact.Type {
	case types.ArtifactFile:
		if cfg.Artifact.Dir == "" {
			return fmt.Errorf("artifact.dir is required for file artifacts")
		}
	case types.ArtifactS3:
		if cfg.Artifact.Bucket == "" {
			return fmt.Errorf("artifact.bucket is required for s3 artifacts")
		}
	default:
		return fmt.Errorf("unknown artifact type %q", cfg.Artifact.Type)
	}

	for i, a := range cfg.Alerts {
		switch a.Type {
		case types.AlertConsole:
		case types.AlertWebhook:
			if a.URL == "" {
				return fmt.Errorf("alerts[%d]: webhook URL required", i)
			}
		case types.AlertFile:
			if a.Path == "" {
				return fmt.Errorf("alerts[%d]: file path required", i)
			}
		default:
			return fmt.Errorf("alerts[%d]: unknown alert type %q", i, a.Type)
		}
	}

	return nil
}
