package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/veldtlabs/veldt/internal/commands"
)

var version = "dev"

func main() {
	// Provider credentials and endpoints may live in a .env file.
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "veldt",
		Short: "Quality-aware satellite index time series extraction",
		Long: `Veldt turns a raw satellite data cube into quality-annotated,
analysis-ready index time series. It fetches tiles for configured regions,
annotates per-tile quality, computes spectral indices, assembles ordered
series, and applies gap and drift policies before emitting artifacts.`,
		Version: version,
	}

	root.AddCommand(
		commands.NewInitCmd(),
		commands.NewExtractCmd(),
		commands.NewUpdateCmd(),
		commands.NewIndexesCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
