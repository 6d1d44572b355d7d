package orchestrator

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/brensch/lscollection/internal/config"
	"github.com/brensch/lscollection/internal/db"
	"github.com/brensch/lscollection/internal/metrics"
	"github.com/brensch/lscollection/internal/processor"
	"github.com/brensch/lscollection/internal/products"
	"github.com/brensch/lscollection/internal/store"
	"github.com/brensch/lscollection/internal/util"
)

// ErrNoInput is returned when neither a list file nor a walk produced paths.
var ErrNoInput = errors.New("no processing logs to harvest")

// Deps are the collaborators shared by every phase. DB may be nil, in which
// case no run events are recorded.
type Deps struct {
	DB      *sql.DB
	Store   *store.Store
	Prober  products.Prober
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// HarvestReport summarises one harvest phase.
type HarvestReport struct {
	RunID   string
	Inputs  int
	Written []int
	Skipped []int
	Failed  map[int]error
}

// CollectInputs gathers the processing log paths from the list file, the
// configured level1 directories, or both. List file paths keep their file
// order, duplicates included, and walked paths follow in lexical order.
func CollectInputs(ctx context.Context, cfg config.Config, logger *slog.Logger) ([]string, error) {
	var paths []string
	if cfg.ListFile != "" {
		listed, err := util.ReadPathListFile(cfg.ListFile)
		if err != nil {
			return nil, err
		}
		logger.Info("Read path list.", slog.String("file", cfg.ListFile), slog.Int("paths", len(listed)))
		paths = append(paths, listed...)
	}
	if cfg.Walk {
		found, err := util.FindLogs(ctx, cfg.Layout.SensorDirs(), cfg.Layout.LogFilename, logger)
		if err != nil {
			return nil, err
		}
		paths = append(paths, found...)
	}
	if len(paths) == 0 {
		return nil, ErrNoInput
	}
	return paths, nil
}

// Fingerprint identifies the inputs of one partition.
func Fingerprint(paths []string) string {
	h := sha256.New()
	for _, p := range paths {
		h.Write([]byte(p))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// RunHarvest scatters paths into cfg.NumWorkers partitions and harvests the
// selected ones concurrently, writing one partial per partition. A failed
// partition is logged and reported but does not stop the others. The error is
// non-nil only on cancellation or when nothing at all was written.
// progressChan, if not nil, is closed before RunHarvest returns.
func RunHarvest(ctx context.Context, cfg config.Config, deps Deps, runID string, paths []string, progressChan chan<- processor.ProcessProgress) (HarvestReport, error) {
	if progressChan != nil {
		defer close(progressChan)
	}
	logger := deps.Logger.With(slog.String("run_id", runID))
	report := HarvestReport{RunID: runID, Inputs: len(paths), Failed: make(map[int]error)}

	// --- Phase 1: Partition ---
	blocks, err := Scatter(paths, cfg.NumWorkers)
	if err != nil {
		return report, err
	}
	indices := uniqueInts(cfg.Only)
	if len(indices) == 0 {
		indices = make([]int, len(blocks))
		for i := range blocks {
			indices[i] = i
		}
	}
	logger.Info("Partitioned inputs.", slog.Int("paths", len(paths)), slog.Int("partitions", len(blocks)), slog.Int("selected", len(indices)))

	// --- Phase 2: Resume check ---
	fingerprints := make(map[int]string, len(indices))
	for _, i := range indices {
		fingerprints[i] = Fingerprint(blocks[i])
	}
	todo := indices
	if cfg.Resume && deps.DB != nil {
		todo = skipHarvested(ctx, cfg, deps, logger, runID, indices, fingerprints, &report)
	}

	// --- Phase 3: Harvest ---
	worker := processor.NewWorker(cfg.Layout, deps.Prober, deps.Metrics, deps.Logger)
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Concurrency())

	for _, i := range todo {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			err := harvestPartition(gctx, cfg, deps, worker, runID, i, blocks[i], fingerprints[i], progressChan)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed[i] = err
				return nil
			}
			report.Written = append(report.Written, i)
			return nil
		})
	}
	g.Wait()
	sort.Ints(report.Written)

	// --- Phase 4: Consolidate ---
	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("harvest cancelled: %w", err)
	}
	for i, ferr := range report.Failed {
		logger.Error("Partition failed.", slog.Int("partition", i), "error", ferr)
	}
	if len(todo) > 0 && len(report.Written) == 0 {
		errs := make([]error, 0, len(report.Failed))
		for _, ferr := range report.Failed {
			errs = append(errs, ferr)
		}
		return report, fmt.Errorf("no partial was written: %w", errors.Join(errs...))
	}
	logger.Info("Harvest complete.",
		slog.Int("written", len(report.Written)),
		slog.Int("skipped", len(report.Skipped)),
		slog.Int("failed", len(report.Failed)),
	)
	return report, nil
}

// skipHarvested drops partitions whose inputs were already harvested and
// whose stored partial was built from those same inputs.
func skipHarvested(ctx context.Context, cfg config.Config, deps Deps, logger *slog.Logger, runID string, indices []int, fingerprints map[int]string, report *HarvestReport) []int {
	var todo []int
	for _, i := range indices {
		name := cfg.Layout.PartialName(i)
		done, err := db.GetCompletionStatusBatch(ctx, deps.DB, []string{name}, db.SubjectPartition, db.EventHarvestEnd, fingerprints[i])
		if err != nil {
			logger.Warn("Resume check failed, harvesting partition.", slog.Int("partition", i), "error", err)
			todo = append(todo, i)
			continue
		}
		if !done[name] {
			todo = append(todo, i)
			continue
		}
		m, err := deps.Store.Manifest(ctx, i)
		if err != nil {
			logger.Info("Partial missing despite completed harvest, harvesting again.", slog.Int("partition", i), "error", err)
			todo = append(todo, i)
			continue
		}
		if m.Fingerprint != fingerprints[i] {
			logger.Info("Partial was rewritten from other inputs, harvesting again.", slog.Int("partition", i), slog.String("partial_run_id", m.RunID))
			todo = append(todo, i)
			continue
		}
		report.Skipped = append(report.Skipped, i)
		logEvent(ctx, deps, db.Event{RunID: runID, Subject: name, SubjectType: db.SubjectPartition, Event: db.EventSkipHarvest, Fingerprint: fingerprints[i]})
	}
	if len(report.Skipped) > 0 {
		logger.Info("Skipping partitions already harvested.", slog.Any("partitions", report.Skipped))
	}
	return todo
}

// harvestPartition harvests one block and writes its partial. Panics in the
// worker are converted to errors so one bad log cannot take down the run.
func harvestPartition(ctx context.Context, cfg config.Config, deps Deps, worker *processor.Worker, runID string, index int, paths []string, fingerprint string, progressChan chan<- processor.ProcessProgress) (err error) {
	name := cfg.Layout.PartialName(index)
	start := time.Now()
	outcome := "written"

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("partition %d panicked: %v", index, r)
		}
		d := time.Since(start)
		if err != nil {
			outcome = "failed"
			logEvent(ctx, deps, db.Event{RunID: runID, Subject: name, SubjectType: db.SubjectPartition, Event: db.EventError, Fingerprint: fingerprint, Message: err.Error(), Duration: &d})
			if progressChan != nil {
				select {
				case progressChan <- processor.ProcessProgress{Partition: index, TotalEntries: len(paths), Complete: true, Err: err, ElapsedTime: d}:
				case <-ctx.Done():
				}
			}
		}
		deps.Metrics.PartitionDuration.WithLabelValues(outcome).Observe(d.Seconds())
	}()

	logEvent(ctx, deps, db.Event{RunID: runID, Subject: name, SubjectType: db.SubjectPartition, Event: db.EventHarvestStart, Fingerprint: fingerprint})

	res, err := worker.HarvestPartition(ctx, index, runID, paths, progressChan)
	if err != nil {
		return fmt.Errorf("partition %d: %w", index, err)
	}
	res.Fingerprint = fingerprint
	manifest, err := deps.Store.Write(ctx, res)
	if err != nil {
		return fmt.Errorf("partition %d: %w", index, err)
	}

	rows := int64(res.Rows())
	d := time.Since(start)
	logEvent(ctx, deps, db.Event{
		RunID:       runID,
		Subject:     name,
		SubjectType: db.SubjectPartition,
		Event:       db.EventHarvestEnd,
		OutputPath:  name,
		Fingerprint: fingerprint,
		RowCount:    &rows,
		Duration:    &d,
		Message:     tableSummary(manifest),
	})
	return nil
}

// uniqueInts drops repeated values, keeping the first occurrence.
func uniqueInts(ints []int) []int {
	seen := make(map[int]bool, len(ints))
	out := make([]int, 0, len(ints))
	for _, v := range ints {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

func tableSummary(m store.Manifest) string {
	parts := make([]string, 0, len(store.Tables))
	for _, t := range store.Tables {
		parts = append(parts, fmt.Sprintf("%s=%d", t, m.Tables[t].RowCount))
	}
	return strings.Join(parts, " ")
}

// logEvent records e if an event log is configured. Failures are logged, never
// returned.
func logEvent(ctx context.Context, deps Deps, e db.Event) {
	if deps.DB == nil {
		return
	}
	if err := db.LogEvent(context.WithoutCancel(ctx), deps.DB, e); err != nil {
		deps.Logger.Warn("Failed to record run event.", "event", e.Event, "subject", e.Subject, "error", err)
	}
}
