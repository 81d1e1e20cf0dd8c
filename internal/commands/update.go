package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/veldtlabs/veldt/internal/config"
)

// NewUpdateCmd creates the update command.
func NewUpdateCmd() *cobra.Command {
	var region string

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Extend existing time series with fresh observations",
		Long: `Resumes each region from the day after its last emitted artifact
entry and extracts up to the current date. Regions without a prior
artifact are skipped; run extract first.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpdate(region)
		},
	}

	cmd.Flags().StringVar(&region, "region", "", "restrict the update to one configured region")
	return cmd
}

func runUpdate(regionName string) error {
	cfg, err := config.Load(".")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
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

	summary, err := eng.Update(ctx, regions, time.Now().UTC().Truncate(24*time.Hour))
	if err != nil {
		return fmt.Errorf("update failed: %w", err)
	}

	printSummary(summary)
	return nil
}
