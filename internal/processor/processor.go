package processor

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/brensch/lscollection/internal/config"
	"github.com/brensch/lscollection/internal/harvest"
	"github.com/brensch/lscollection/internal/lpgs"
	"github.com/brensch/lscollection/internal/metrics"
	"github.com/brensch/lscollection/internal/products"
)

// ProcessProgress tracks one partition's harvest.
type ProcessProgress struct {
	Partition        int           // Worker index
	TotalEntries     int           // Paths in the partition
	EntriesProcessed int           // Paths visited so far
	CurrentFile      string        // Path being processed
	Complete         bool          // True once the partition finished
	Err              error         // Error for the partition
	ElapsedTime      time.Duration // Time taken so far
}

// progressEvery limits progress messages on large partitions.
const progressEvery = 250

// Worker harvests partitions. It holds no per-partition state, so one Worker
// can serve many goroutines.
type Worker struct {
	layout    config.Layout
	predictor *products.Predictor
	prober    products.Prober
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewWorker builds a worker for layout. prober is consulted once per predicted
// product; its answer is advisory until the partials are combined.
func NewWorker(layout config.Layout, prober products.Prober, m *metrics.Metrics, logger *slog.Logger) *Worker {
	return &Worker{
		layout:    layout,
		predictor: products.NewPredictor(layout.Products),
		prober:    prober,
		metrics:   m,
		logger:    logger,
	}
}

// HarvestPartition visits every path of one partition and returns the rows it
// produced. Malformed logs are logged and skipped. The only error returned is
// context cancellation, in which case the partition must be discarded.
// progressChan may be nil.
func (w *Worker) HarvestPartition(ctx context.Context, index int, runID string, paths []string, progressChan chan<- ProcessProgress) (harvest.PartialResult, error) {
	l := w.logger.With(slog.Int("partition", index), slog.Int("entries", len(paths)))
	l.Info("Harvesting partition.")
	start := time.Now()

	res := harvest.PartialResult{Index: index, RunID: runID}
	report := func(i int, path string, done bool) {
		if progressChan == nil {
			return
		}
		select {
		case progressChan <- ProcessProgress{
			Partition:        index,
			TotalEntries:     len(paths),
			EntriesProcessed: i,
			CurrentFile:      path,
			Complete:         done,
			ElapsedTime:      time.Since(start),
		}:
		case <-ctx.Done():
		}
	}
	report(0, "", false)

	for i, path := range paths {
		if err := ctx.Err(); err != nil {
			l.Warn("Partition cancelled.", slog.Int("processed", i))
			return harvest.PartialResult{}, err
		}
		w.harvestOne(l, path, &res)
		if (i+1)%progressEvery == 0 {
			report(i+1, path, false)
		}
	}

	l.Info("Partition harvested.",
		slog.Int("sys_products", len(res.SysProducts)),
		slog.Int("oth_and_children", len(res.OthAndChildren)),
		slog.Int("failures", len(res.Failures)),
		slog.Int("packagetmp", len(res.PackageTemp)),
		slog.Duration("duration", time.Since(start)),
	)
	report(len(paths), "", true)
	return res, nil
}

// harvestOne files a single path into one of the result bags.
func (w *Worker) harvestOne(l *slog.Logger, path string, res *harvest.PartialResult) {
	switch {
	case strings.Contains(path, w.layout.FailureMarker):
		w.metrics.LogsSeen.WithLabelValues("failure").Inc()
		res.Failures = append(res.Failures, path)
		return
	case strings.Contains(path, w.layout.StagingMarker):
		w.metrics.LogsSeen.WithLabelValues("packagetmp").Inc()
		res.PackageTemp = append(res.PackageTemp, path)
		return
	}

	rec, err := lpgs.ParseFile(path)
	if err != nil {
		w.metrics.LogsSeen.WithLabelValues("parse_error").Inc()
		l.Warn("Skipping unreadable log.", "path", path, "error", err)
		return
	}
	w.metrics.LogsSeen.WithLabelValues("parsed").Inc()

	entry := harvest.Entry{Record: rec}
	if entry.Pass, err = lpgs.ParsePassID(rec.PassID); err != nil {
		w.metrics.InvalidPassIDs.Inc()
		l.Warn("Keeping record with invalid pass id.", "path", path, "error", err)
	}

	if lpgs.Classify(rec.Level1Name, w.layout.SystemMarker) == lpgs.ClassSystem {
		w.metrics.Records.WithLabelValues(string(lpgs.ClassSystem)).Inc()
		res.SysProducts = append(res.SysProducts, entry)
		return
	}
	w.metrics.Records.WithLabelValues(string(lpgs.ClassOther)).Inc()

	ref, err := w.predictor.Predict(rec.Level1Name)
	if err != nil {
		// ErrNoPrediction: the record is kept without product paths
		w.metrics.Predictions.WithLabelValues("none").Inc()
		l.Debug("No product prediction.", "level1_name", rec.Level1Name, "reason", err)
	} else {
		w.metrics.Predictions.WithLabelValues("predicted").Inc()
		entry.Predicted = true
		entry.Products = products.Probe(w.prober, ref)
		CountHits(w.metrics, entry.Products, "harvest")
	}
	res.OthAndChildren = append(res.OthAndChildren, entry)
}

// CountHits adds the products present in ref to the probe hit counters.
func CountHits(m *metrics.Metrics, ref products.Reference, phase string) {
	if ref.NBARExists {
		m.ProbeHits.WithLabelValues("nbar", phase).Inc()
	}
	if ref.NBARTExists {
		m.ProbeHits.WithLabelValues("nbart", phase).Inc()
	}
	if ref.PQExists {
		m.ProbeHits.WithLabelValues("pq", phase).Inc()
	}
}
