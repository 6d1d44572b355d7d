package analyser

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/brensch/lscollection/internal/db"
)

// TableOptions holds the options a summary store was built with.
const TableOptions = "summary_options"

const monthlyColumnsSQL = `
    month                     DATE NOT NULL,
    passes                    BIGINT NOT NULL,
    l0_success                BIGINT NOT NULL,
    l0_fail                   BIGINT NOT NULL,
    l1_success                BIGINT NOT NULL,
    l1_fail                   BIGINT NOT NULL,
    l1_l1g                    BIGINT NOT NULL,
    l1_l1gt                   BIGINT NOT NULL,
    l1_l1t                    BIGINT NOT NULL,
    nbar                      BIGINT NOT NULL,
    nbart                     BIGINT NOT NULL,
    pq                        BIGINT NOT NULL,
    l0_completeness           DOUBLE,   -- NULL when undefined
    l1_completeness           DOUBLE,
    nbar_completeness         DOUBLE,
    nbart_completeness        DOUBLE,
    pq_completeness           DOUBLE,
    pq_completeness_relative  DOUBLE,
    oth_percent               DOUBLE`

// TableName is the summary table of sensor, e.g. monthly_ls5 for LS5.
func TableName(sensor string) string {
	var b strings.Builder
	b.WriteString("monthly_")
	for _, r := range strings.ToLower(sensor) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// WriteSummary replaces the summary store at dbPath with one table per sensor
// and returns the table names in sensor order.
func WriteSummary(ctx context.Context, dbPath string, s Summary, opts Options, logger *slog.Logger) ([]string, error) {
	owners := make(map[string]string, len(s.Sensors))
	for _, ms := range s.Sensors {
		table := TableName(ms.Sensor)
		if other, ok := owners[table]; ok {
			return nil, fmt.Errorf("sensors %q and %q both map to table %s", other, ms.Sensor, table)
		}
		owners[table] = ms.Sensor
	}

	tables := make([]string, 0, len(s.Sensors))
	err := db.Replace(ctx, dbPath, func(conn *sql.DB) error {
		for _, ms := range s.Sensors {
			table := TableName(ms.Sensor)
			if _, err := conn.ExecContext(ctx, fmt.Sprintf(`CREATE OR REPLACE TABLE %s (%s);`, table, monthlyColumnsSQL)); err != nil {
				return fmt.Errorf("failed to create %s: %w", table, err)
			}
			if err := db.AppendRows(ctx, conn, table, bucketValues(ms.Buckets)); err != nil {
				return err
			}
			tables = append(tables, table)
			logger.Debug("Wrote monthly summary.", slog.String("sensor", ms.Sensor), slog.String("table", table), slog.Int("months", len(ms.Buckets)))
		}

		optionsSQL := fmt.Sprintf(`CREATE OR REPLACE TABLE %s (
    pq_denominator VARCHAR, include_system BOOLEAN, passes BIGINT, excluded_rows BIGINT, created_at TIMESTAMP);`, TableOptions)
		if _, err := conn.ExecContext(ctx, optionsSQL); err != nil {
			return fmt.Errorf("failed to create %s: %w", TableOptions, err)
		}
		_, err := conn.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s VALUES (?, ?, ?, ?, ?)`, TableOptions),
			opts.PQDenominator, opts.IncludeSystem, int64(s.Passes), int64(s.ExcludedRows), time.Now().UTC())
		if err != nil {
			return fmt.Errorf("failed to record summary options: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("write summary store %s: %w", dbPath, err)
	}
	logger.Info("Summary store written.", slog.String("store", dbPath), slog.Int("sensors", len(tables)), slog.Int("passes", s.Passes))
	return tables, nil
}

func bucketValues(buckets []Bucket) [][]driver.Value {
	rows := make([][]driver.Value, 0, len(buckets))
	for _, b := range buckets {
		rows = append(rows, []driver.Value{
			b.Month, int64(b.Passes),
			b.L0Success, b.L0Fail, b.L1Success, b.L1Fail,
			b.L1G, b.L1Gt, b.L1T,
			b.NBAR, b.NBART, b.PQ,
			b.L0Completeness.Nullable(),
			b.L1Completeness.Nullable(),
			b.NBARCompleteness.Nullable(),
			b.NBARTCompleteness.Nullable(),
			b.PQCompleteness.Nullable(),
			b.PQRelative.Nullable(),
			b.OtherPercent.Nullable(),
		})
	}
	return rows
}

// ReadMonthly loads the summary table of sensor from the store at dbPath.
func ReadMonthly(ctx context.Context, dbPath, sensor string) ([]Bucket, error) {
	conn, err := db.Open(dbPath)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	table := TableName(sensor)
	rows, err := conn.QueryContext(ctx, fmt.Sprintf(`SELECT * FROM %s ORDER BY month`, table))
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}
	defer rows.Close()

	var buckets []Bucket
	for rows.Next() {
		var b Bucket
		var passes int64
		ratios := make([]sql.NullFloat64, 7)
		dest := []any{&b.Month, &passes,
			&b.L0Success, &b.L0Fail, &b.L1Success, &b.L1Fail,
			&b.L1G, &b.L1Gt, &b.L1T, &b.NBAR, &b.NBART, &b.PQ}
		for i := range ratios {
			dest = append(dest, &ratios[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", table, err)
		}
		b.Month = b.Month.UTC()
		b.Passes = int(passes)
		targets := []*Ratio{&b.L0Completeness, &b.L1Completeness, &b.NBARCompleteness,
			&b.NBARTCompleteness, &b.PQCompleteness, &b.PQRelative, &b.OtherPercent}
		for i, r := range ratios {
			*targets[i] = Ratio{Value: r.Float64, Valid: r.Valid}
		}
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}
