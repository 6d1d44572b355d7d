package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/brensch/lscollection/internal/orchestrator"
)

// summariseCmd builds the monthly completeness summary.
var summariseCmd = &cobra.Command{
	Use:     "summarise",
	Aliases: []string{"summarize", "analyse"},
	Short:   "Summarise the canonical store into monthly completeness per sensor",
	Long: `Groups the canonical dataset by pass, buckets passes by calendar month per
sensor and writes the monthly counts and completeness ratios to the summary
DuckDB store and to one <sensor>.csv per sensor in --output-dir.
Use --pq-denominator and --include-system to choose the summary variant.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := getLogger()
		cfg := getConfig()
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		summary, err := orchestrator.RunSummarise(ctx, cfg, getDeps(), newRunID())
		if err != nil {
			return fmt.Errorf("summarise failed: %w", err)
		}
		for _, ms := range summary.Sensors {
			logger.Info("Sensor summarised.", slog.String("sensor", ms.Sensor), slog.Int("months", len(ms.Buckets)))
		}
		logger.Info("Summary written.", slog.String("path", cfg.SummaryPath()), slog.Int("passes", summary.Passes), slog.Int("excluded_rows", summary.ExcludedRows))
		return nil
	},
}
