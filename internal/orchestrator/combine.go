package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/brensch/lscollection/internal/harvest"
	"github.com/brensch/lscollection/internal/metrics"
	"github.com/brensch/lscollection/internal/processor"
	"github.com/brensch/lscollection/internal/products"
	"github.com/brensch/lscollection/internal/store"
)

// ErrNoPartials is returned when none of the expected partials could be read.
var ErrNoPartials = errors.New("no partial results present")

// Combine reads partials 0..n-1 in index order and merges them. Missing or
// corrupt partials are logged and listed in Dataset.Missing. Every predicted
// product of the other records is probed again, so the flags reflect the
// filesystem at merge time rather than at harvest time. Combine never writes
// to the partial store and may be repeated.
func Combine(ctx context.Context, st *store.Store, n int, prober products.Prober, m *metrics.Metrics, logger *slog.Logger) (harvest.Dataset, error) {
	var ds harvest.Dataset

	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return harvest.Dataset{}, err
		}
		res, err := st.Read(ctx, i)
		if err != nil {
			var missing *store.MissingPartialError
			if !errors.As(err, &missing) {
				return harvest.Dataset{}, fmt.Errorf("read partial %d: %w", i, err)
			}
			logger.Warn("Partial result missing, continuing without it.", slog.Int("partition", i), "error", err)
			ds.Missing = append(ds.Missing, i)
			continue
		}
		ds.Present = append(ds.Present, i)
		ds.SysProducts = append(ds.SysProducts, res.SysProducts...)
		ds.OthAndChildren = append(ds.OthAndChildren, res.OthAndChildren...)
	}
	m.PartialsMissing.Set(float64(len(ds.Missing)))

	if len(ds.Present) == 0 {
		return harvest.Dataset{}, fmt.Errorf("%w: expected %d", ErrNoPartials, n)
	}

	for i := range ds.OthAndChildren {
		if i%progressEvery == 0 {
			if err := ctx.Err(); err != nil {
				return harvest.Dataset{}, err
			}
		}
		e := &ds.OthAndChildren[i]
		if !e.Predicted {
			e.Products.NBARExists, e.Products.NBARTExists, e.Products.PQExists = false, false, false
			continue
		}
		e.Products = products.Probe(prober, e.Products)
		processor.CountHits(m, e.Products, "combine")
	}

	logger.Info("Combined partial results.",
		slog.Int("present", len(ds.Present)),
		slog.Int("missing", len(ds.Missing)),
		slog.Int("sys_products", len(ds.SysProducts)),
		slog.Int("oth_and_children", len(ds.OthAndChildren)),
	)
	return ds, nil
}

const progressEvery = 1000
