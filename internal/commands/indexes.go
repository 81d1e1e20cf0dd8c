package commands

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/veldtlabs/veldt/internal/config"
	"github.com/veldtlabs/veldt/internal/index"
)

// NewIndexesCmd creates the indexes command.
func NewIndexesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "indexes",
		Short: "List the registered spectral index formulas",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndexes()
		},
	}
}

func runIndexes() error {
	cfg, err := config.Load(".")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	registry := index.NewRegistry()
	for _, dir := range cfg.IndexDirs {
		if err := registry.LoadDir(dir); err != nil {
			return fmt.Errorf("loading index formulas from %s: %w", dir, err)
		}
	}

	bold := color.New(color.Bold)
	for _, f := range registry.List() {
		_, _ = bold.Printf("%s", f.Name)
		fmt.Printf("  (%s)  bands: %s", f.Type, strings.Join(f.RequiredBands(), ", "))
		if f.Description != "" {
			fmt.Printf("  %s", f.Description)
		}
		fmt.Println()
	}
	return nil
}
