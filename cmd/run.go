package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/brensch/lscollection/internal/orchestrator"
	"github.com/brensch/lscollection/internal/processor"
)

// runCmd represents the combined harvest, combine and summarise command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full harvest, combine and summarise workflow",
	Long: `Performs the complete pipeline:
1. Collects processing log paths from --list-file and/or --walk.
2. Harvests them concurrently into one partial store per partition.
3. Combines the partials into the canonical store, re-checking products.
4. Summarises completeness per sensor and month.
Failed partitions are reported but do not stop the run; re-run them with
'harvest --only' followed by 'combine' and 'summarise'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := getLogger()
		cfg := getConfig()
		deps := getDeps()
		runID := newRunID()
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		logger.Info("Starting combined run workflow...", "run_id", runID)
		workflow := func(ctx context.Context, progress chan<- processor.ProcessProgress) error {
			return orchestrator.RunCombinedWorkflow(ctx, cfg, deps, runID, progress)
		}
		var err error
		if showProgress {
			err = runWithProgress(ctx, "Run", 0, workflow)
		} else {
			err = workflow(ctx, nil)
		}
		if err != nil {
			logger.Error("Combined workflow completed with errors", "error", err)
			return fmt.Errorf("run workflow failed: %w", err)
		}

		logger.Info("Combined workflow completed successfully.")
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&resume, "resume", false, "Skip partitions already harvested from the same inputs")
	runCmd.Flags().BoolVar(&showProgress, "progress", false, "Show an interactive progress view")
}
