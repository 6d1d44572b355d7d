package analyser

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/lscollection/internal/config"
	"github.com/brensch/lscollection/internal/harvest"
	"github.com/brensch/lscollection/internal/lpgs"
	"github.com/brensch/lscollection/internal/products"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// entry builds a row of pass name with counters l0s/l0f/l1s/l1f and L1T=l1t.
func entry(passName, sensor string, date time.Time, l0s, l0f, l1s, l1f, l1t int64, nbar, nbart, pq bool) harvest.Entry {
	return harvest.Entry{
		Record: lpgs.Record{
			PassName:  passName,
			PassID:    sensor + "-" + date.Format(lpgs.DateLayout),
			L0Success: l0s, L0Fail: l0f,
			L1Success: l1s, L1Fail: l1f,
			L1T: l1t,
		},
		Pass:      lpgs.Pass{Sensor: sensor, Date: date, Valid: true},
		Predicted: true,
		Products:  products.Reference{NBARExists: nbar, NBARTExists: nbart, PQExists: pq},
	}
}

func TestPercent(t *testing.T) {
	assert.Equal(t, Ratio{Value: 50, Valid: true}, Percent(1, 2))
	assert.Equal(t, Ratio{}, Percent(0, 0))
	assert.False(t, Percent(5, 0).Valid)
	assert.Equal(t, "undefined", Percent(1, 0).String())
	assert.Equal(t, "150", Percent(3, 2).String())
	assert.Nil(t, Percent(1, 0).Nullable())
	assert.Equal(t, 100.0, Percent(2, 2).Nullable())
}

func TestSummariseGroupsPasses(t *testing.T) {
	ds := harvest.Dataset{
		OthAndChildren: []harvest.Entry{
			// one pass with two children repeating the same counters
			entry("p1", "LS5", day(1991, 1, 15), 2, 0, 2, 0, 2, true, true, true),
			entry("p1", "LS5", day(1991, 1, 15), 2, 0, 2, 0, 2, true, false, false),
			entry("p2", "LS5", day(1991, 3, 2), 1, 1, 1, 0, 1, false, false, false),
			entry("p3", "LS7", day(2000, 1, 1), 1, 0, 1, 0, 1, true, true, true),
			{Record: lpgs.Record{PassName: "junk", PassID: "garbage", L0Success: 9}},
		},
		SysProducts: []harvest.Entry{
			entry("p1", "LS5", day(1991, 1, 15), 7, 7, 7, 7, 7, true, true, true),
			entry("p4", "LS5", day(1991, 1, 20), 1, 0, 1, 0, 0, true, true, true),
		},
	}

	s := Summarise(ds, DefaultOptions())
	assert.Equal(t, 1, s.ExcludedRows)
	assert.Equal(t, 4, s.Passes)
	require.Len(t, s.Sensors, 2)
	assert.Equal(t, "LS5", s.Sensors[0].Sensor)
	assert.Equal(t, "LS7", s.Sensors[1].Sensor)

	ls5 := s.Sensors[0].Buckets
	require.Len(t, ls5, 3, "January to March inclusive")
	assert.Equal(t, day(1991, 1, 1), ls5[0].Month)
	assert.Equal(t, day(1991, 2, 1), ls5[1].Month)
	assert.Equal(t, day(1991, 3, 1), ls5[2].Month)

	jan := ls5[0]
	// p1 counters once (from its first, other, row) plus p4 from the system bag
	assert.Equal(t, 2, jan.Passes)
	assert.Equal(t, int64(3), jan.L0Success)
	assert.Equal(t, int64(2), jan.L1T)
	// products summed across p1's rows; system rows contribute none
	assert.Equal(t, int64(2), jan.NBAR)
	assert.Equal(t, int64(1), jan.NBART)
	assert.Equal(t, int64(1), jan.PQ)
	assert.Equal(t, Ratio{Value: 100, Valid: true}, jan.NBARCompleteness)
	assert.Equal(t, Ratio{Value: 50, Valid: true}, jan.PQCompleteness)
	assert.True(t, jan.OtherPercent.Valid)
	assert.InDelta(t, 200.0/3.0, jan.OtherPercent.Value, 1e-9)

	feb := ls5[1]
	assert.Equal(t, 0, feb.Passes)
	assert.Equal(t, Counters{}, feb.Counters)
	for _, r := range []Ratio{feb.L0Completeness, feb.L1Completeness, feb.NBARCompleteness, feb.NBARTCompleteness, feb.PQCompleteness, feb.OtherPercent} {
		assert.False(t, r.Valid)
	}

	mar := ls5[2]
	assert.Equal(t, Ratio{Value: 50, Valid: true}, mar.L0Completeness)
	assert.Equal(t, Ratio{Value: 0, Valid: true}, mar.NBARCompleteness)
	assert.False(t, mar.PQCompleteness.Valid, "pq over zero nbar is undefined")
}

func TestSummarisePQDenominator(t *testing.T) {
	ds := harvest.Dataset{OthAndChildren: []harvest.Entry{
		entry("p1", "LS8", day(2014, 6, 3), 1, 0, 1, 0, 4, true, false, true),
	}}

	plain := Summarise(ds, Options{PQDenominator: config.PQDenominatorNBAR}).Sensors[0].Buckets[0]
	assert.Equal(t, Ratio{Value: 100, Valid: true}, plain.PQCompleteness)

	roi := Summarise(ds, Options{PQDenominator: config.PQDenominatorL1}).Sensors[0].Buckets[0]
	assert.Equal(t, Ratio{Value: 25, Valid: true}, roi.PQCompleteness)
	assert.Equal(t, Ratio{Value: 100, Valid: true}, roi.PQRelative)
}

func TestSummariseExcludeSystem(t *testing.T) {
	ds := harvest.Dataset{
		SysProducts: []harvest.Entry{entry("s1", "LS5", day(1991, 1, 1), 1, 0, 1, 0, 1, false, false, false)},
	}
	s := Summarise(ds, Options{PQDenominator: config.PQDenominatorNBAR, IncludeSystem: false})
	assert.Empty(t, s.Sensors)
	assert.Zero(t, s.Passes)
}

func TestZeroDenominatorBucket(t *testing.T) {
	ds := harvest.Dataset{OthAndChildren: []harvest.Entry{
		entry("p1", "LS5", day(1991, 1, 1), 0, 0, 0, 0, 0, false, false, false),
	}}
	b := Summarise(ds, DefaultOptions()).Sensors[0].Buckets[0]
	assert.False(t, b.L0Completeness.Valid)
	assert.Equal(t, "undefined", b.L0Completeness.String())
}

func TestTableName(t *testing.T) {
	assert.Equal(t, "monthly_ls5", TableName("LS5"))
	assert.Equal(t, "monthly_ls_8", TableName("LS 8"))
}

func TestSummaryStoreRoundTrip(t *testing.T) {
	ds := harvest.Dataset{OthAndChildren: []harvest.Entry{
		entry("p1", "LS5", day(1991, 1, 15), 1, 0, 1, 0, 1, true, true, false),
		entry("p2", "LS5", day(1991, 3, 2), 0, 0, 0, 0, 0, false, false, false),
	}}
	opts := DefaultOptions()
	s := Summarise(ds, opts)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	path := filepath.Join(t.TempDir(), "collection-monthly-counts.duckdb")

	tables, err := WriteSummary(context.Background(), path, s, opts, logger)
	require.NoError(t, err)
	assert.Equal(t, []string{"monthly_ls5"}, tables)

	got, err := ReadMonthly(context.Background(), path, "LS5")
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, b := range got {
		want := s.Sensors[0].Buckets[i]
		assert.True(t, want.Month.Equal(b.Month))
		assert.Equal(t, want.Passes, b.Passes)
		assert.Equal(t, want.Counters, b.Counters)
		assert.Equal(t, want.L0Completeness, b.L0Completeness)
		assert.Equal(t, want.PQCompleteness, b.PQCompleteness)
		assert.Equal(t, want.OtherPercent, b.OtherPercent)
	}
	assert.False(t, got[1].L0Completeness.Valid)
	assert.False(t, got[2].L0Completeness.Valid)
}

func TestWriteSummaryRejectsCollidingSensors(t *testing.T) {
	ds := harvest.Dataset{OthAndChildren: []harvest.Entry{
		entry("p1", "LS5", day(1991, 1, 15), 1, 0, 1, 0, 1, true, true, false),
		entry("p2", "ls5", day(1991, 1, 16), 1, 0, 1, 0, 1, true, true, false),
	}}
	opts := DefaultOptions()
	s := Summarise(ds, opts)
	require.Len(t, s.Sensors, 2)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	path := filepath.Join(t.TempDir(), "collection-monthly-counts.duckdb")

	_, err := WriteSummary(context.Background(), path, s, opts, logger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monthly_ls5")
	assert.NoFileExists(t, path)
}
