package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"

	"github.com/spf13/cobra"

	"github.com/brensch/lscollection/internal/orchestrator"
	"github.com/brensch/lscollection/internal/processor"
	"github.com/brensch/lscollection/internal/util"
)

var (
	showProgress bool
	saveList     string
)

// harvestCmd scatters the processing logs over the workers and writes one
// partial store per partition.
var harvestCmd = &cobra.Command{
	Use:   "harvest",
	Short: "Harvest processing logs into per-partition partial stores",
	Long: `Reads lpgs_out.xml paths from --list-file and/or the level1 directories
(--walk), scatters them over --workers partitions and harvests each partition
into its own partial store. Partitions run --parallel at a time.
Use --only to re-run selected partitions and --resume to skip partitions
already harvested from the same inputs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := getLogger()
		cfg := getConfig()
		deps := getDeps()
		runID := newRunID()
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		paths, err := orchestrator.CollectInputs(ctx, cfg, logger)
		if err != nil {
			return err
		}
		if saveList != "" {
			if err := writeList(saveList, paths); err != nil {
				return err
			}
			logger.Info("Saved input list.", slog.String("file", saveList), slog.Int("paths", len(paths)))
		}

		var report orchestrator.HarvestReport
		harvest := func(ctx context.Context, progress chan<- processor.ProcessProgress) error {
			var err error
			report, err = orchestrator.RunHarvest(ctx, cfg, deps, runID, paths, progress)
			return err
		}
		if showProgress {
			err = runWithProgress(ctx, "Harvest", len(paths), harvest)
		} else {
			err = harvest(ctx, nil)
		}
		if err != nil {
			return fmt.Errorf("harvest failed: %w", err)
		}

		logger.Info("Harvest finished.",
			slog.String("run_id", runID),
			slog.Int("inputs", report.Inputs),
			slog.Int("written", len(report.Written)),
			slog.Int("skipped", len(report.Skipped)),
			slog.Int("failed", len(report.Failed)))
		if len(report.Failed) > 0 {
			failed := make([]int, 0, len(report.Failed))
			for i := range report.Failed {
				failed = append(failed, i)
			}
			sort.Ints(failed)
			for _, i := range failed {
				logger.Error("Partition failed.", slog.Int("partition", i), "error", report.Failed[i])
			}
			return fmt.Errorf("%d of %d partitions failed; re-run them with --only", len(report.Failed), cfg.NumWorkers)
		}
		return nil
	},
}

func init() {
	harvestCmd.Flags().IntSliceVar(&onlyPartitions, "only", nil, "Harvest only these partition indices")
	harvestCmd.Flags().BoolVar(&resume, "resume", false, "Skip partitions already harvested from the same inputs")
	harvestCmd.Flags().BoolVar(&showProgress, "progress", false, "Show an interactive progress view")
	harvestCmd.Flags().StringVar(&saveList, "save-list", "", "Write the collected input paths to this file, usable as --list-file later")
}

// writeList stores the harvested inputs so a later run can use the same
// partitioning without walking the archive again.
func writeList(path string, paths []string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create list file %s: %w", path, err)
	}
	if err := util.WritePathList(f, paths); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
