package orchestrator

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/brensch/lscollection/internal/db"
	"github.com/brensch/lscollection/internal/harvest"
	"github.com/brensch/lscollection/internal/lpgs"
	"github.com/brensch/lscollection/internal/store"
)

// TablePartials records which partials went into the canonical store.
const TablePartials = "combine_partials"

const recordColumnsSQL = `
    level1_name      VARCHAR NOT NULL,
    wrs_path         BIGINT,
    wrs_row          BIGINT,
    pass_id          VARCHAR,
    pass_name        VARCHAR,
    l0_success       BIGINT,
    l0_fail          BIGINT,
    l1_success       BIGINT,
    l1_fail          BIGINT,
    l1_l1g           BIGINT,
    l1_l1gt          BIGINT,
    l1_l1t           BIGINT,
    sensor           VARCHAR,           -- NULL when the pass id is invalid
    acquisition_date DATE,              -- NULL when the pass id is invalid
    pass_valid       BOOLEAN NOT NULL`

const productColumnsSQL = `,
    predicted        BOOLEAN NOT NULL,
    nbar_name        VARCHAR,
    nbart_name       VARCHAR,
    pq_name          VARCHAR,
    nbar_exists      BOOLEAN NOT NULL,
    nbart_exists     BOOLEAN NOT NULL,
    pq_exists        BOOLEAN NOT NULL`

var canonicalSchemaSQL = fmt.Sprintf(`
CREATE OR REPLACE TABLE %s (%s
);
CREATE OR REPLACE TABLE %s (%s%s
);
CREATE OR REPLACE TABLE %s (
    partition_index INTEGER NOT NULL,
    present         BOOLEAN NOT NULL
);
`, store.TableSysProducts, recordColumnsSQL,
	store.TableOthAndChildren, recordColumnsSQL, productColumnsSQL,
	TablePartials)

const recordSelectSQL = `level1_name, wrs_path, wrs_row, pass_id, pass_name,
    l0_success, l0_fail, l1_success, l1_fail, l1_l1g, l1_l1gt, l1_l1t,
    sensor, acquisition_date, pass_valid`

// WriteCanonical replaces the canonical store at dbPath with ds. Readers never
// see a half written store and a failed write keeps the previous one.
func WriteCanonical(ctx context.Context, dbPath string, ds harvest.Dataset, logger *slog.Logger) error {
	start := time.Now()
	err := db.Replace(ctx, dbPath, func(conn *sql.DB) error {
		if _, err := conn.ExecContext(ctx, canonicalSchemaSQL); err != nil {
			return fmt.Errorf("failed to create canonical tables: %w", err)
		}
		if err := db.AppendRows(ctx, conn, store.TableSysProducts, recordValues(ds.SysProducts, false)); err != nil {
			return err
		}
		if err := db.AppendRows(ctx, conn, store.TableOthAndChildren, recordValues(ds.OthAndChildren, true)); err != nil {
			return err
		}
		partials := make([][]driver.Value, 0, len(ds.Present)+len(ds.Missing))
		for _, i := range ds.Present {
			partials = append(partials, []driver.Value{int32(i), true})
		}
		for _, i := range ds.Missing {
			partials = append(partials, []driver.Value{int32(i), false})
		}
		return db.AppendRows(ctx, conn, TablePartials, partials)
	})
	if err != nil {
		return fmt.Errorf("write canonical store %s: %w", dbPath, err)
	}

	logger.Info("Canonical store written.",
		slog.String("store", dbPath),
		slog.Int(store.TableSysProducts, len(ds.SysProducts)),
		slog.Int(store.TableOthAndChildren, len(ds.OthAndChildren)),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

func recordValues(entries []harvest.Entry, withProducts bool) [][]driver.Value {
	rows := make([][]driver.Value, 0, len(entries))
	for _, e := range entries {
		var sensor, date driver.Value
		if e.Pass.Valid {
			sensor, date = e.Pass.Sensor, e.Pass.Date
		}
		row := []driver.Value{
			e.Level1Name, e.Path, e.Row, e.PassID, e.PassName,
			e.L0Success, e.L0Fail, e.L1Success, e.L1Fail, e.L1G, e.L1Gt, e.L1T,
			sensor, date, e.Pass.Valid,
		}
		if withProducts {
			row = append(row,
				e.Predicted,
				nullString(e.Products.NBARPath),
				nullString(e.Products.NBARTPath),
				nullString(e.Products.PQPath),
				e.Products.NBARExists,
				e.Products.NBARTExists,
				e.Products.PQExists,
			)
		}
		rows = append(rows, row)
	}
	return rows
}

func nullString(s string) driver.Value {
	if s == "" {
		return nil
	}
	return s
}

// ReadCanonical loads the canonical store written by WriteCanonical.
func ReadCanonical(ctx context.Context, dbPath string) (harvest.Dataset, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return harvest.Dataset{}, fmt.Errorf("canonical store %s: %w", dbPath, err)
	}
	conn, err := db.Open(dbPath)
	if err != nil {
		return harvest.Dataset{}, err
	}
	defer conn.Close()

	var ds harvest.Dataset
	if ds.SysProducts, err = readEntries(ctx, conn, store.TableSysProducts, false); err != nil {
		return harvest.Dataset{}, err
	}
	if ds.OthAndChildren, err = readEntries(ctx, conn, store.TableOthAndChildren, true); err != nil {
		return harvest.Dataset{}, err
	}

	rows, err := conn.QueryContext(ctx, fmt.Sprintf(`SELECT partition_index, present FROM %s ORDER BY partition_index`, TablePartials))
	if err != nil {
		return harvest.Dataset{}, fmt.Errorf("failed to query %s: %w", TablePartials, err)
	}
	defer rows.Close()
	for rows.Next() {
		var i int
		var present bool
		if err := rows.Scan(&i, &present); err != nil {
			return harvest.Dataset{}, fmt.Errorf("failed to scan %s row: %w", TablePartials, err)
		}
		if present {
			ds.Present = append(ds.Present, i)
		} else {
			ds.Missing = append(ds.Missing, i)
		}
	}
	return ds, rows.Err()
}

func readEntries(ctx context.Context, conn *sql.DB, table string, withProducts bool) ([]harvest.Entry, error) {
	query := "SELECT " + recordSelectSQL
	if withProducts {
		query += ", predicted, nbar_name, nbart_name, pq_name, nbar_exists, nbart_exists, pq_exists"
	}
	// rowid keeps append order
	query += fmt.Sprintf(" FROM %s ORDER BY rowid", table)

	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}
	defer rows.Close()

	var entries []harvest.Entry
	for rows.Next() {
		var e harvest.Entry
		var sensor sql.NullString
		var date sql.NullTime
		var nbar, nbart, pq sql.NullString
		dest := []any{
			&e.Level1Name, &e.Path, &e.Row, &e.PassID, &e.PassName,
			&e.L0Success, &e.L0Fail, &e.L1Success, &e.L1Fail, &e.L1G, &e.L1Gt, &e.L1T,
			&sensor, &date, &e.Pass.Valid,
		}
		if withProducts {
			dest = append(dest, &e.Predicted, &nbar, &nbart, &pq,
				&e.Products.NBARExists, &e.Products.NBARTExists, &e.Products.PQExists)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", table, err)
		}
		if e.Pass.Valid {
			if !sensor.Valid || !date.Valid {
				return nil, errors.New(table + ": valid pass without sensor or date")
			}
			e.Pass.Sensor, e.Pass.Date = sensor.String, date.Time.UTC()
		} else {
			e.Pass = lpgs.Pass{}
		}
		e.Products.NBARPath, e.Products.NBARTPath, e.Products.PQPath = nbar.String, nbart.String, pq.String
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s: %w", table, err)
	}
	return entries, nil
}
