package index

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Registry manages index formulas loaded from YAML files. The formula set
// is open: new indices are added by dropping a file into a configured
// directory, not by changing code.
type Registry struct {
	formulas map[string]*Formula
}

// NewRegistry creates a new empty formula registry.
func NewRegistry() *Registry {
	return &Registry{formulas: make(map[string]*Formula)}
}

// LoadDir loads all YAML formula files from a directory.
func (r *Registry) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading index dir %s: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		path := filepath.Join(dir, name)
		if err := r.LoadFile(path); err != nil {
			return fmt.Errorf("loading formula %s: %w", path, err)
		}
	}
	return nil
}

// LoadFile loads a single formula YAML file.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading file: %w", err)
	}

	var f Formula
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}

	return r.Register(&f)
}

// Register adds a formula directly to the registry.
func (r *Registry) Register(f *Formula) error {
	if err := f.Validate(); err != nil {
		return err
	}
	r.formulas[f.Name] = f
	return nil
}

// Get returns a formula by name.
func (r *Registry) Get(name string) (*Formula, error) {
	f, ok := r.formulas[name]
	if !ok {
		return nil, fmt.Errorf("index formula %q not found", name)
	}
	return f, nil
}

// Names returns the registered formula names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.formulas))
	for name := range r.formulas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns all registered formulas, ordered by name.
func (r *Registry) List() []*Formula {
	formulas := make([]*Formula, 0, len(r.formulas))
	for _, name := range r.Names() {
		formulas = append(formulas, r.formulas[name])
	}
	return formulas
}

// DefaultFormulas returns the stock vegetation, moisture, burn, and bare
// soil indices. Band names follow the Sentinel-2 L2A asset naming.
func DefaultFormulas() []*Formula {
	return []*Formula{
		{
			Name:        "ndvi",
			Description: "Normalized Difference Vegetation Index",
			Type:        FormulaNormalizedDifference,
			Plus:        []string{"nir"},
			Minus:       []string{"red"},
		},
		{
			Name:        "ndmi",
			Description: "Normalized Difference Moisture Index",
			Type:        FormulaNormalizedDifference,
			Plus:        []string{"nir"},
			Minus:       []string{"swir16"},
		},
		{
			Name:        "nbr",
			Description: "Normalized Burn Ratio",
			Type:        FormulaNormalizedDifference,
			Plus:        []string{"nir"},
			Minus:       []string{"swir22"},
		},
		{
			Name:        "bsi",
			Description: "Bare Soil Index",
			Type:        FormulaNormalizedDifference,
			Plus:        []string{"swir16", "red"},
			Minus:       []string{"nir", "blue"},
		},
	}
}
