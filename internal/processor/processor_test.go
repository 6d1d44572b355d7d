package processor

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/lscollection/internal/config"
	"github.com/brensch/lscollection/internal/metrics"
	"github.com/brensch/lscollection/internal/products"
)

// --- Log Capturing Handler ---

type capturingHandler struct {
	mu      *sync.Mutex
	records *[]slog.Record
	next    slog.Handler
}

func newCapturingHandler() *capturingHandler {
	return &capturingHandler{mu: &sync.Mutex{}, records: &[]slog.Record{}, next: slog.NewTextHandler(io.Discard, nil)}
}

func (h *capturingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *capturingHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	*h.records = append(*h.records, r.Clone())
	h.mu.Unlock()
	return nil
}

func (h *capturingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &capturingHandler{mu: h.mu, records: h.records, next: h.next.WithAttrs(attrs)}
}

func (h *capturingHandler) WithGroup(name string) slog.Handler {
	return &capturingHandler{mu: h.mu, records: h.records, next: h.next.WithGroup(name)}
}

func (h *capturingHandler) messages(minLevel slog.Level) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, r := range *h.records {
		if r.Level >= minLevel {
			out = append(out, r.Message)
		}
	}
	return out
}

// --- Fixtures ---

const logTemplate = `<LpgsOut>
  <LandsatProcessingRequest id="%PASS%">
    <WorkingFolder>/work/%NAME%/run/tmp</WorkingFolder>
  </LandsatProcessingRequest>
  <L0RpProcessing success="1" fail="0"/>
  <L1Processing success="1" fail="0" L1G="0" L1Gt="0" L1T="1"/>
</LpgsOut>`

// writeLog creates <root>/<level1>/lpgs/lpgs_out.xml and returns its path.
func writeLog(t *testing.T, root, level1, passID, body string) string {
	t.Helper()
	dir := filepath.Join(root, level1, "lpgs")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	if body == "" {
		body = strings.NewReplacer("%PASS%", passID, "%NAME%", "pass-"+passID).Replace(logTemplate)
	}
	path := filepath.Join(dir, "lpgs_out.xml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestHarvestPartitionFilesEveryBag(t *testing.T) {
	root := t.TempDir()
	other := writeLog(t, root, "LS5_TM_L1T_P123_GA01-09_090_085_19910115", "LS5-19910115", "")
	system := writeLog(t, root, "LS5_TM_SYS_P123_GA01-09_091_085_19910115", "LS5-19910115", "")
	badPass := writeLog(t, root, "LS7_ETM_L1T_P123_GA01-09_092_085_20000101", "LS7-2000", "")
	noName := writeLog(t, root, "odd_name_with_many_parts_093_085_x", "LS7-20000101", "")
	broken := writeLog(t, root, "LS7_ETM_L1T_P123_GA01-09_094_085_20000101", "", "<LpgsOut>")
	failure := filepath.Join(root, "failure", "x", "lpgs_out.xml")
	staging := filepath.Join(root, "packagetmp", "y", "lpgs_out.xml")

	handler := newCapturingHandler()
	m := metrics.New()
	nbarOnly := products.ProberFunc(func(p string) bool { return strings.Contains(p, "/nbar/") })
	w := NewWorker(config.DefaultLayout(), nbarOnly, m, slog.New(handler))

	progress := make(chan ProcessProgress, 10)
	res, err := w.HarvestPartition(context.Background(), 3, "run-x",
		[]string{other, failure, system, staging, badPass, noName, broken}, progress)
	require.NoError(t, err)
	close(progress)

	assert.Equal(t, 3, res.Index)
	assert.Equal(t, "run-x", res.RunID)
	assert.Equal(t, []string{failure}, res.Failures)
	assert.Equal(t, []string{staging}, res.PackageTemp)

	require.Len(t, res.SysProducts, 1)
	assert.Equal(t, filepath.Dir(filepath.Dir(system)), res.SysProducts[0].Level1Name)
	assert.False(t, res.SysProducts[0].Predicted)

	require.Len(t, res.OthAndChildren, 3)
	first := res.OthAndChildren[0]
	assert.True(t, first.Predicted)
	assert.True(t, first.Pass.Valid)
	assert.Equal(t, "LS5", first.Pass.Sensor)
	assert.Equal(t, "pass-LS5-19910115", first.PassName)
	assert.Contains(t, first.Products.NBARPath, "NBAR_P54_GANBAR01-09_090_085_19910115")
	assert.True(t, first.Products.NBARExists)
	assert.False(t, first.Products.NBARTExists)
	assert.False(t, first.Products.PQExists)

	// invalid pass id keeps the raw record
	assert.Equal(t, "LS7-2000", res.OthAndChildren[1].PassID)
	assert.False(t, res.OthAndChildren[1].Pass.Valid)
	assert.True(t, res.OthAndChildren[1].Predicted)

	// names outside the grammar carry no products
	assert.False(t, res.OthAndChildren[2].Predicted)
	assert.Empty(t, res.OthAndChildren[2].Products.NBARPath)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.LogsSeen.WithLabelValues("parse_error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.InvalidPassIDs))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProbeHits.WithLabelValues("nbar", "harvest")))
	assert.Contains(t, handler.messages(slog.LevelWarn), "Skipping unreadable log.")

	var updates []ProcessProgress
	for p := range progress {
		updates = append(updates, p)
	}
	require.NotEmpty(t, updates)
	last := updates[len(updates)-1]
	assert.True(t, last.Complete)
	assert.Equal(t, 7, last.EntriesProcessed)
}

func TestHarvestPartitionCancelled(t *testing.T) {
	root := t.TempDir()
	path := writeLog(t, root, "LS5_TM_L1T_P123_GA01-09_090_085_19910115", "LS5-19910115", "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := NewWorker(config.DefaultLayout(), products.OSProber{}, metrics.New(), slog.New(newCapturingHandler()))
	_, err := w.HarvestPartition(ctx, 0, "run", []string{path}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHarvestEmptyPartition(t *testing.T) {
	w := NewWorker(config.DefaultLayout(), products.OSProber{}, metrics.New(), slog.New(newCapturingHandler()))
	res, err := w.HarvestPartition(context.Background(), 1, "run", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Rows())
	assert.Equal(t, 1, res.Index)
}
