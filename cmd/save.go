package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/brensch/lscollection/internal/orchestrator"
	"github.com/brensch/lscollection/internal/saver"
)

var (
	exportFormat string
	exportDir    string
)

// exportCmd writes the store tables to flat files.
var exportCmd = &cobra.Command{
	Use:     "export",
	Aliases: []string{"save"},
	Short:   "Export the canonical and summary tables to Parquet or CSV files",
	Long: `Copies every table of the canonical and summary DuckDB stores into one
file per table in --dir (default --output-dir). A store that has not been
written yet is skipped with a warning.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := getLogger()
		cfg := getConfig()

		format, err := saver.ParseFormat(exportFormat)
		if err != nil {
			return err
		}
		dir := exportDir
		if dir == "" {
			dir = cfg.OutputDir
		}

		logger.Info("Starting table export...", slog.String("output_dir", dir), slog.String("format", string(format)))
		files, err := orchestrator.RunExport(cmd.Context(), cfg, getDeps(), newRunID(), dir, format)
		if err != nil {
			return fmt.Errorf("export failed: %w", err)
		}
		logger.Info("Table export completed.", slog.Int("files", len(files)))
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", string(saver.FormatParquet), "Output format (parquet or csv)")
	exportCmd.Flags().StringVar(&exportDir, "dir", "", "Directory for the exported files (default --output-dir)")
}
