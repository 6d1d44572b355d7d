package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"os"

	"github.com/marcboeker/go-duckdb"
)

// Open opens a DuckDB file through a connector, so statements and appenders
// obtained from the returned handle share one database instance.
func Open(path string) (*sql.DB, error) {
	connector, err := duckdb.NewConnector(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create duckdb connector for %s: %w", path, err)
	}
	return sql.OpenDB(connector), nil
}

// AppendRows bulk loads rows into an existing table using the DuckDB
// appender. Each row must match the table's column order.
func AppendRows(ctx context.Context, conn *sql.DB, table string, rows [][]driver.Value) error {
	c, err := conn.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection for %s: %w", table, err)
	}
	defer c.Close()

	return c.Raw(func(raw any) error {
		dc, ok := raw.(driver.Conn)
		if !ok {
			return fmt.Errorf("unexpected driver connection %T", raw)
		}
		appender, err := duckdb.NewAppenderFromConn(dc, "", table)
		if err != nil {
			return fmt.Errorf("failed to create appender for %s: %w", table, err)
		}
		for i, row := range rows {
			if err := ctx.Err(); err != nil {
				appender.Close()
				return err
			}
			if err := appender.AppendRow(row...); err != nil {
				appender.Close()
				return fmt.Errorf("failed to append row %d to %s: %w", i, table, err)
			}
		}
		// Close flushes
		if err := appender.Close(); err != nil {
			return fmt.Errorf("failed to flush appender for %s: %w", table, err)
		}
		return nil
	})
}

// CountRows returns the number of rows in table.
func CountRows(ctx context.Context, conn *sql.DB, table string) (int64, error) {
	var n int64
	if err := conn.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM "%s"`, table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count rows in %s: %w", table, err)
	}
	return n, nil
}

// Replace builds a new DuckDB file beside path using build and renames it over
// path once build succeeded and the file is closed. A failed build leaves any
// existing file at path untouched.
func Replace(ctx context.Context, path string, build func(conn *sql.DB) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tmpPath := path + ".tmp"
	removeDatabase(tmpPath)

	conn, err := Open(tmpPath)
	if err != nil {
		return err
	}
	if err := build(conn); err != nil {
		conn.Close()
		removeDatabase(tmpPath)
		return err
	}
	if err := conn.Close(); err != nil {
		removeDatabase(tmpPath)
		return fmt.Errorf("failed to close %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		removeDatabase(tmpPath)
		return fmt.Errorf("failed to move %s into place: %w", path, err)
	}
	os.Remove(path + ".wal")
	return nil
}

func removeDatabase(path string) {
	os.Remove(path)
	os.Remove(path + ".wal")
}
