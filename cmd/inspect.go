package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/brensch/lscollection/internal/inspector"
	"github.com/brensch/lscollection/internal/store"
)

// inspectCmd reports what the stores currently hold.
var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Show tables, row counts and schemas of the stores and the partial manifests",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := getConfig()
		report, err := inspector.Inspect(cmd.Context(), cfg, store.New(bucket, cfg.Layout), dbConn, getLogger())
		if err != nil {
			return err
		}
		inspector.Print(os.Stdout, report)
		return report.Err()
	},
}
