package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/brensch/lscollection/internal/orchestrator"
)

// combineCmd merges the partial stores into the canonical store.
var combineCmd = &cobra.Command{
	Use:   "combine",
	Short: "Merge the partial stores of --workers partitions into the canonical store",
	Long: `Reads partial stores 0..workers-1, skipping absent ones with a warning,
re-checks product existence for every predicted scene and replaces the
canonical DuckDB store with the merged dataset.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := getLogger()
		cfg := getConfig()
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		ds, err := orchestrator.RunCombine(ctx, cfg, getDeps(), newRunID())
		if err != nil {
			return fmt.Errorf("combine failed: %w", err)
		}
		logger.Info("Canonical store written.",
			slog.String("path", cfg.CanonicalPath()),
			slog.Int("sys_products", len(ds.SysProducts)),
			slog.Int("oth_and_children_products", len(ds.OthAndChildren)),
			slog.Int("partials_present", len(ds.Present)),
			slog.Int("partials_missing", len(ds.Missing)))
		return nil
	},
}
