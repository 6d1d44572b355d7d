package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/brensch/lscollection/internal/analyser"
	"github.com/brensch/lscollection/internal/config"
	"github.com/brensch/lscollection/internal/db"
	"github.com/brensch/lscollection/internal/harvest"
	"github.com/brensch/lscollection/internal/processor"
	"github.com/brensch/lscollection/internal/saver"
)

// RunCombine merges the partials of cfg.NumWorkers partitions and replaces
// the canonical store with the result.
func RunCombine(ctx context.Context, cfg config.Config, deps Deps, runID string) (harvest.Dataset, error) {
	start := time.Now()
	path := cfg.CanonicalPath()

	ds, err := Combine(ctx, deps.Store, cfg.NumWorkers, deps.Prober, deps.Metrics, deps.Logger)
	if err != nil {
		logEvent(ctx, deps, db.Event{RunID: runID, Subject: path, SubjectType: db.SubjectCombine, Event: db.EventError, Message: err.Error()})
		return harvest.Dataset{}, err
	}
	if err := WriteCanonical(ctx, path, ds, deps.Logger); err != nil {
		logEvent(ctx, deps, db.Event{RunID: runID, Subject: path, SubjectType: db.SubjectCombine, Event: db.EventError, Message: err.Error()})
		return harvest.Dataset{}, err
	}

	rows := int64(len(ds.SysProducts) + len(ds.OthAndChildren))
	d := time.Since(start)
	msg := fmt.Sprintf("present=%d missing=%d", len(ds.Present), len(ds.Missing))
	if len(ds.Missing) > 0 {
		msg += fmt.Sprintf(" missing_partitions=%s", joinInts(ds.Missing))
	}
	logEvent(ctx, deps, db.Event{RunID: runID, Subject: path, SubjectType: db.SubjectCombine, Event: db.EventCombineEnd, OutputPath: path, RowCount: &rows, Duration: &d, Message: msg})
	return ds, nil
}

// RunSummarise reads the canonical store, writes the monthly summary store and
// exports one CSV per sensor into cfg.OutputDir.
func RunSummarise(ctx context.Context, cfg config.Config, deps Deps, runID string) (analyser.Summary, error) {
	start := time.Now()
	path := cfg.SummaryPath()
	fail := func(err error) (analyser.Summary, error) {
		logEvent(ctx, deps, db.Event{RunID: runID, Subject: path, SubjectType: db.SubjectSummary, Event: db.EventError, Message: err.Error()})
		return analyser.Summary{}, err
	}

	ds, err := ReadCanonical(ctx, cfg.CanonicalPath())
	if err != nil {
		return fail(err)
	}
	opts := analyser.Options{PQDenominator: cfg.PQDenominator, IncludeSystem: cfg.IncludeSystem}
	summary := analyser.Summarise(ds, opts)
	if summary.ExcludedRows > 0 {
		deps.Logger.Warn("Rows with invalid pass ids left out of the summary.", slog.Int("rows", summary.ExcludedRows))
	}

	tables, err := analyser.WriteSummary(ctx, path, summary, opts, deps.Logger)
	if err != nil {
		return fail(err)
	}
	targets := make([]saver.Target, len(summary.Sensors))
	for i, ms := range summary.Sensors {
		deps.Metrics.SummaryBuckets.WithLabelValues(ms.Sensor).Set(float64(len(ms.Buckets)))
		targets[i] = saver.Target{Table: tables[i], Path: filepath.Join(cfg.OutputDir, strings.ToLower(ms.Sensor)+".csv")}
	}
	if err := saver.ExportTables(ctx, path, targets, saver.FormatCSV, deps.Logger); err != nil {
		return fail(fmt.Errorf("export monthly spreadsheets: %w", err))
	}

	rows := int64(summary.Passes)
	d := time.Since(start)
	logEvent(ctx, deps, db.Event{
		RunID:       runID,
		Subject:     path,
		SubjectType: db.SubjectSummary,
		Event:       db.EventSummaryEnd,
		OutputPath:  path,
		RowCount:    &rows,
		Duration:    &d,
		Message:     fmt.Sprintf("sensors=%d pq_denominator=%s excluded_rows=%d", len(summary.Sensors), opts.PQDenominator, summary.ExcludedRows),
	})
	return summary, nil
}

// RunExport writes every table of the canonical and summary stores to
// outputDir in format. A store that does not exist yet is skipped.
func RunExport(ctx context.Context, cfg config.Config, deps Deps, runID, outputDir string, format saver.Format) ([]string, error) {
	var written []string
	var errs []error
	for _, path := range []string{cfg.CanonicalPath(), cfg.SummaryPath()} {
		l := deps.Logger.With(slog.String("store", path))
		start := time.Now()
		files, err := saver.SaveTables(ctx, path, outputDir, format, l)
		if err != nil {
			l.Error("Export failed.", "error", err)
			logEvent(ctx, deps, db.Event{RunID: runID, Subject: path, SubjectType: db.SubjectExport, Event: db.EventError, Message: err.Error()})
			errs = append(errs, err)
			continue
		}
		n := int64(len(files))
		d := time.Since(start)
		logEvent(ctx, deps, db.Event{RunID: runID, Subject: path, SubjectType: db.SubjectExport, Event: db.EventExportEnd, OutputPath: outputDir, RowCount: &n, Duration: &d, Message: string(format)})
		written = append(written, files...)
	}
	if len(written) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if len(errs) > 0 {
		deps.Logger.Warn("Some stores could not be exported.", "error", errors.Join(errs...))
	}
	return written, nil
}

// RunCombinedWorkflow harvests, combines and summarises in one invocation.
func RunCombinedWorkflow(ctx context.Context, cfg config.Config, deps Deps, runID string, progressChan chan<- processor.ProcessProgress) error {
	logger := deps.Logger.With(slog.String("run_id", runID))
	logger.Info("Starting combined workflow...")

	// --- Phase 1: Collect inputs ---
	paths, err := CollectInputs(ctx, cfg, logger)
	if err != nil {
		if progressChan != nil {
			close(progressChan)
		}
		return err
	}

	// --- Phase 2: Harvest ---
	report, err := RunHarvest(ctx, cfg, deps, runID, paths, progressChan)
	if err != nil {
		return err
	}

	// --- Phase 3: Combine ---
	if _, err := RunCombine(ctx, cfg, deps, runID); err != nil {
		return err
	}

	// --- Phase 4: Summarise ---
	if _, err := RunSummarise(ctx, cfg, deps, runID); err != nil {
		return err
	}

	if len(report.Failed) > 0 {
		failed := make([]int, 0, len(report.Failed))
		for i := range report.Failed {
			failed = append(failed, i)
		}
		sort.Ints(failed)
		logger.Warn("Workflow finished with failed partitions; re-run them with --only.", slog.String("partitions", joinInts(failed)))
		return nil
	}
	logger.Info("Combined workflow finished.")
	return nil
}

func joinInts(ints []int) string {
	parts := make([]string, len(ints))
	for i, v := range ints {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, ",")
}
