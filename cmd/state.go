package cmd

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/brensch/lscollection/internal/db"
)

var (
	stateLimit       int
	stateFilterEvent string
	stateRun         string
	stateLatest      bool
	stateFailed      bool
)

// stateCmd represents the command to view the run event log
var stateCmd = &cobra.Command{
	Use:   "state [subject-type]",
	Short: "View the run event log",
	Long: `Queries the DuckDB event log and displays the most recent events.
Specify 'partition', 'combine', 'summary' or 'export' as an optional argument
to filter by subject type. --latest restricts the output to the most recent
harvest run; --failed prints the partitions of that run that failed, ready
for 'harvest --only'.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := getLogger()
		ctx := cmd.Context()

		subjectTypeFilter := ""
		if len(args) > 0 {
			switch t := strings.ToLower(args[0]); t {
			case db.SubjectPartition, db.SubjectCombine, db.SubjectSummary, db.SubjectExport:
				subjectTypeFilter = t
			case "partitions":
				subjectTypeFilter = db.SubjectPartition
			default:
				return fmt.Errorf("invalid subject type filter: %s (use partition, combine, summary or export)", args[0])
			}
		}

		runFilter := stateRun
		if stateLatest || stateFailed {
			latest, found, err := db.GetLatestRunID(ctx, dbConn)
			if err != nil {
				return err
			}
			if !found {
				fmt.Fprintln(os.Stdout, "No harvest run recorded yet.")
				return nil
			}
			runFilter = latest
		}

		if stateFailed {
			failed, err := db.GetSubjectsWithEvent(ctx, dbConn, runFilter, db.SubjectPartition, db.EventError, logger)
			if err != nil {
				return err
			}
			indices := partitionIndices(failed, getConfig().Layout.PartialPrefix+"-")
			if len(indices) == 0 {
				fmt.Fprintf(os.Stdout, "Run %s has no failed partitions.\n", runFilter)
				return nil
			}
			parts := make([]string, len(indices))
			for i, v := range indices {
				parts[i] = strconv.Itoa(v)
			}
			fmt.Fprintf(os.Stdout, "--only %s\n", strings.Join(parts, ","))
			return nil
		}

		logger.Debug("Querying database event log", "type_filter", subjectTypeFilter, "event_filter", stateFilterEvent, "run_filter", runFilter, "limit", stateLimit)
		if err := db.DisplayEventHistory(ctx, dbConn, os.Stdout, subjectTypeFilter, stateFilterEvent, runFilter, stateLimit); err != nil {
			logger.Error("Failed to display state history", "error", err)
			return err
		}
		return nil
	},
}

// partitionIndices maps partial store names back to their indices.
func partitionIndices(subjects map[string]bool, prefix string) []int {
	var indices []int
	for s := range subjects {
		rest, ok := strings.CutPrefix(s, prefix)
		if !ok {
			continue
		}
		i, err := strconv.Atoi(rest)
		if err != nil {
			continue
		}
		indices = append(indices, i)
	}
	sort.Ints(indices)
	return indices
}

func init() {
	stateCmd.Flags().IntVarP(&stateLimit, "limit", "n", 50, "Limit the number of log records displayed")
	stateCmd.Flags().StringVarP(&stateFilterEvent, "event", "e", "", "Filter records by event (e.g. harvest_end, skip_harvest, error)")
	stateCmd.Flags().StringVar(&stateRun, "run", "", "Filter records by run id")
	stateCmd.Flags().BoolVar(&stateLatest, "latest", false, "Only show the most recent harvest run")
	stateCmd.Flags().BoolVar(&stateFailed, "failed", false, "Print the failed partitions of the most recent harvest run")
}
