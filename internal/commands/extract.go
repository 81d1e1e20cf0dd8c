package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/veldtlabs/veldt/internal/config"
	"github.com/veldtlabs/veldt/pkg/types"
)

// NewExtractCmd creates the extract command.
func NewExtractCmd() *cobra.Command {
	var start, end, region string

	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Extract quality-annotated index time series for a time window",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExtract(start, end, region)
		},
	}

	cmd.Flags().StringVar(&start, "start", "", "window start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "window end date (YYYY-MM-DD), exclusive")
	cmd.Flags().StringVar(&region, "region", "", "restrict the run to one configured region")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func runExtract(start, end, regionName string) error {
	cfg, err := config.Load(".")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	window, err := parseWindow(start, end)
	if err != nil {
		return err
	}

	regions, err := selectRegions(cfg, regionName)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	eng, cleanup, err := buildEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	summary, err := eng.Extract(ctx, regions, window)
	if err != nil {
		return fmt.Errorf("extraction failed: %w", err)
	}

	printSummary(summary)
	return nil
}

func selectRegions(cfg *types.ProjectConfig, name string) ([]types.Region, error) {
	if name == "" {
		return cfg.Regions, nil
	}
	for _, r := range cfg.Regions {
		if r.Name == name {
			return []types.Region{r}, nil
		}
	}
	return nil, fmt.Errorf("region %q not found in veldt.yaml", name)
}

func printSummary(summary *types.RunSummary) {
	bold := color.New(color.Bold)
	_, _ = bold.Printf("Run %s\n", summary.RunID)
	fmt.Printf("  tiles: %d fetched, %d cache hits, %d failed\n",
		summary.TilesFetched, summary.TilesCached, summary.TilesFailed)

	for _, p := range summary.Pairs {
		if p.Err != "" {
			fmt.Printf("  %s %s/%s: %s\n", color.RedString("FAIL"), p.Pair.Region, p.Pair.Index, p.Err)
			continue
		}
		fmt.Printf("  %s %s/%s: %d entries (%d kept, %d interpolated, %d dropped, %d flagged)",
			color.GreenString("OK"), p.Pair.Region, p.Pair.Index,
			p.Entries, p.Kept, p.Interpolated, p.Dropped, p.Flagged)
		if p.TilesSkipped > 0 {
			fmt.Printf(", %d tiles skipped", p.TilesSkipped)
		}
		fmt.Println()
	}

	if failed := summary.FailedPairs(); len(failed) > 0 {
		fmt.Printf("%s %d of %d pairs failed\n",
			color.YellowString("partial:"), len(failed), len(summary.Pairs))
	}
}
