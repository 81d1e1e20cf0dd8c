package types

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// ProjectConfig is the parsed veldt.yaml project configuration.
type ProjectConfig struct {
	Provider ProviderConfig `yaml:"provider"`
	Regions  []Region       `yaml:"regions"`

	// IndexDirs are directories of index formula YAML files.
	IndexDirs []string `yaml:"indexDirs"`
	// Indexes optionally restricts which registered formulas run.
	// Empty means every formula in the registry.
	Indexes []string `yaml:"indexes,omitempty"`

	Quality  QualityThresholds `yaml:"quality"`
	Policy   PolicyConfig      `yaml:"policy"`
	Fetch    FetchConfig       `yaml:"fetch"`
	Artifact ArtifactConfig    `yaml:"artifact"`
	Alerts   []AlertConfig     `yaml:"alerts,omitempty"`
	Metrics  MetricsConfig     `yaml:"metrics,omitempty"`
}

// ProviderConfig describes the catalog endpoint to query. Provider-specific
// protocol details stay inside the provider package.
type ProviderConfig struct {
	APIURL      string   `yaml:"apiUrl"`
	Collections []string `yaml:"collections"`
	// Bands lists the band assets to fetch per scene, including the scene
	// classification band.
	Bands []string `yaml:"bands"`
	// SceneClassBand names the classification band used for cloud and
	// nodata masking (e.g. "scl" or "Fmask").
	SceneClassBand string `yaml:"sceneClassBand"`
	// AuthTokenEnv names the environment variable holding the bearer
	// token, when the catalog requires one.
	AuthTokenEnv string `yaml:"authTokenEnv,omitempty"`
}

// QualityThresholds hold the per-tile quality assessment inputs. All are
// required configuration: the source material defines no defaults.
type QualityThresholds struct {
	// CloudFractionCeiling marks a tile low-quality when the pixel cloud
	// fraction exceeds it.
	CloudFractionCeiling float64 `yaml:"cloudFractionCeiling"`
	// ValidPixelFloor marks a tile low-quality when its valid-pixel
	// fraction falls below it.
	ValidPixelFloor float64 `yaml:"validPixelFloor"`
	// CloudClasses are the scene classification values masked as cloud,
	// shadow, or otherwise unusable.
	CloudClasses []int `yaml:"cloudClasses"`
}

// PolicyConfig configures the gap/drift policy engine.
type PolicyConfig struct {
	// GapInterpolationWindow is the neighbor search distance, in series
	// steps, for interpolating a low-quality entry.
	GapInterpolationWindow int `yaml:"gapInterpolationWindow"`
	// CoverageGapRunLength is the number of consecutive drops that emits
	// a single coverage-gap warning for the run of drops.
	CoverageGapRunLength int `yaml:"coverageGapRunLength"`
	// DriftWindow is the rolling window size, in entries, for the
	// mean/variance drift check.
	DriftWindow int `yaml:"driftWindow"`
	// DriftZScoreThreshold flags entries whose value deviates from the
	// rolling mean by more than this many standard deviations.
	DriftZScoreThreshold float64 `yaml:"driftZScoreThreshold"`
}

// CacheType selects the tile cache backend.
type CacheType string

const (
	CacheNone  CacheType = "none"
	CacheLocal CacheType = "local"
	CacheS3    CacheType = "s3"
)

// CacheConfig configures the tile cache keyed by (region, timestamp).
type CacheConfig struct {
	Type   CacheType `yaml:"type"`
	Dir    string    `yaml:"dir,omitempty"`
	Bucket string    `yaml:"bucket,omitempty"`
	Prefix string    `yaml:"prefix,omitempty"`
}

// FetchConfig bounds concurrent tile acquisition.
type FetchConfig struct {
	// Concurrency caps outstanding fetches; requests beyond it block.
	Concurrency int `yaml:"concurrency"`
	// RatePerSecond limits catalog request rate.
	RatePerSecond float64 `yaml:"ratePerSecond"`
	// RetryMaxAttempts bounds retries of transient retrieval failures
	// before they surface as fatal for the scene.
	RetryMaxAttempts int `yaml:"retryMaxAttempts"`
	// RetryBaseBackoff is the first retry delay; it doubles per attempt.
	RetryBaseBackoff time.Duration `yaml:"retryBaseBackoff"`

	Cache CacheConfig `yaml:"cache"`
}

// UnmarshalYAML accepts the backoff as a duration string ("500ms", "2s").
func (f *FetchConfig) UnmarshalYAML(value *yaml.Node) error {
	type raw struct {
		Concurrency      int         `yaml:"concurrency"`
		RatePerSecond    float64     `yaml:"ratePerSecond"`
		RetryMaxAttempts int         `yaml:"retryMaxAttempts"`
		RetryBaseBackoff string      `yaml:"retryBaseBackoff"`
		Cache            CacheConfig `yaml:"cache"`
	}
	var r raw
	if err := value.Decode(&r); err != nil {
		return err
	}
	f.Concurrency = r.Concurrency
	f.RatePerSecond = r.RatePerSecond
	f.RetryMaxAttempts = r.RetryMaxAttempts
	f.Cache = r.Cache
	if r.RetryBaseBackoff != "" {
		d, err := time.ParseDuration(r.RetryBaseBackoff)
		if err != nil {
			return fmt.Errorf("parsing fetch.retryBaseBackoff: %w", err)
		}
		f.RetryBaseBackoff = d
	}
	return nil
}

// ArtifactType selects the emitted artifact backend.
type ArtifactType string

const (
	ArtifactFile ArtifactType = "file"
	ArtifactS3   ArtifactType = "s3"
)

// ArtifactConfig configures where assembled series documents are written.
type ArtifactConfig struct {
	Type   ArtifactType `yaml:"type"`
	Dir    string       `yaml:"dir,omitempty"`
	Bucket string       `yaml:"bucket,omitempty"`
	Prefix string       `yaml:"prefix,omitempty"`
}

// MetricsConfig configures the experiment-tracking sink.
type MetricsConfig struct {
	// OTLPEndpoint is the gRPC collector endpoint; empty disables the
	// exporter and run metrics stay in-process only.
	OTLPEndpoint string `yaml:"otlpEndpoint,omitempty"`
}
