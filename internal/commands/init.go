package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/veldtlabs/veldt/internal/index"
)

// NewInitCmd creates the init command.
func NewInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init [project-name]",
		Short: "Initialize a new veldt project",
		Long:  "Creates project scaffolding: veldt.yaml and the stock index formulas.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(args[0])
		},
	}
}

func runInit(projectName string) error {
	bold := color.New(color.Bold)
	_, _ = bold.Printf("Initializing veldt project: %s\n", projectName)

	indexDir := filepath.Join(projectName, "indexes")
	if err := os.MkdirAll(indexDir, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", indexDir, err)
	}

	configPath := filepath.Join(projectName, "veldt.yaml")
	configContent := `provider:
  apiUrl: https://earth-search.aws.element84.com/v1
  collections:
    - sentinel-2-l2a
  bands: [blue, red, nir, swir16, swir22, scl]
  sceneClassBand: scl
regions:
  - name: example-aoi
    bbox: [36.25, 33.48, 36.31, 33.54]
    crs: EPSG:4326
indexDirs:
  - ./indexes
quality:
  cloudFractionCeiling: 0.3
  validPixelFloor: 0.5
  # SCL classes masked as unusable: cloud shadow, cloud medium/high
  # probability, thin cirrus
  cloudClasses: [3, 8, 9, 10]
policy:
  gapInterpolationWindow: 3
  coverageGapRunLength: 4
  driftWindow: 8
  driftZScoreThreshold: 3.0
fetch:
  concurrency: 4
  ratePerSecond: 5
  retryMaxAttempts: 3
  retryBaseBackoff: 2s
  cache:
    type: local
    dir: ./cache
artifact:
  type: file
  dir: ./artifacts
alerts:
  - type: console
`
	if err := os.WriteFile(configPath, []byte(configContent), 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	for _, f := range index.DefaultFormulas() {
		data, err := yaml.Marshal(f)
		if err != nil {
			return fmt.Errorf("encoding formula %s: %w", f.Name, err)
		}
		path := filepath.Join(indexDir, f.Name+".yaml")
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("writing formula %s: %w", f.Name, err)
		}
	}

	green := color.New(color.FgGreen)
	_, _ = green.Println("Project created.")
	fmt.Println("Next steps:")
	fmt.Printf("  cd %s\n", projectName)
	fmt.Println("  veldt extract --start 2024-01-01 --end 2024-02-01")
	return nil
}
