package saver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/brensch/lscollection/internal/db"
)

// Format is an export file format understood by DuckDB's COPY.
type Format string

const (
	FormatParquet Format = "parquet"
	FormatCSV     Format = "csv"
)

// ParseFormat validates a user supplied format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatParquet, FormatCSV:
		return f, nil
	default:
		return "", fmt.Errorf("unknown export format %q (want %s or %s)", s, FormatParquet, FormatCSV)
	}
}

func (f Format) copyOptions() string {
	if f == FormatCSV {
		return "FORMAT CSV, HEADER"
	}
	return "FORMAT PARQUET"
}

// Target is one table to export and the file it goes to.
type Target struct {
	Table string
	Path  string
}

// Targets maps every table to <outputDir>/<table>.<format>.
func Targets(tables []string, outputDir string, format Format) []Target {
	targets := make([]Target, 0, len(tables))
	for _, t := range tables {
		safe := strings.ReplaceAll(strings.ReplaceAll(t, `"`, ""), "/", "_")
		targets = append(targets, Target{Table: t, Path: filepath.Join(outputDir, safe+"."+string(format))})
	}
	return targets
}

// ListTables returns the user tables of the open database.
func ListTables(ctx context.Context, conn *sql.DB) ([]string, error) {
	rows, err := conn.QueryContext(ctx, `PRAGMA show_tables;`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tables: %w", err)
	}
	defer rows.Close()

	var tableNames []string
	for rows.Next() {
		var tableName string
		if err := rows.Scan(&tableName); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tableNames = append(tableNames, tableName)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tables: %w", err)
	}
	return tableNames, nil
}

// SaveTables exports every table of the DuckDB file at dbPath into outputDir
// and returns the files written.
func SaveTables(ctx context.Context, dbPath, outputDir string, format Format, logger *slog.Logger) ([]string, error) {
	conn, err := openExisting(ctx, dbPath)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	tableNames, err := ListTables(ctx, conn)
	if err != nil {
		return nil, err
	}
	if len(tableNames) == 0 {
		logger.Info("No user tables found in the database to save.", slog.String("db", dbPath))
		return nil, nil
	}
	logger.Info("Found tables to save.", slog.Int("count", len(tableNames)))

	targets := Targets(tableNames, outputDir, format)
	if err := export(ctx, conn, targets, format, logger); err != nil {
		return nil, err
	}
	paths := make([]string, len(targets))
	for i, t := range targets {
		paths[i] = t.Path
	}
	return paths, nil
}

// ExportTables writes each target table of the DuckDB file at dbPath to its
// file.
func ExportTables(ctx context.Context, dbPath string, targets []Target, format Format, logger *slog.Logger) error {
	conn, err := openExisting(ctx, dbPath)
	if err != nil {
		return err
	}
	defer conn.Close()
	return export(ctx, conn, targets, format, logger)
}

func openExisting(ctx context.Context, dbPath string) (*sql.DB, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("database %s: %w", dbPath, err)
	}
	conn, err := db.Open(dbPath)
	if err != nil {
		return nil, err
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping duckdb (%s): %w", dbPath, err)
	}
	return conn, nil
}

// export runs one COPY per target concurrently and joins the failures.
func export(ctx context.Context, conn *sql.DB, targets []Target, format Format, logger *slog.Logger) error {
	var wg sync.WaitGroup
	var saveErrorsMu sync.Mutex
	var saveErrors []error

	for _, target := range targets {
		if err := ctx.Err(); err != nil {
			logger.Warn("Context cancelled before saving all tables.", "error", err)
			saveErrorsMu.Lock()
			saveErrors = append(saveErrors, err)
			saveErrorsMu.Unlock()
			break
		}
		if err := os.MkdirAll(filepath.Dir(target.Path), 0755); err != nil {
			saveErrorsMu.Lock()
			saveErrors = append(saveErrors, fmt.Errorf("failed to create output directory for %s: %w", target.Path, err))
			saveErrorsMu.Unlock()
			break
		}

		wg.Add(1)
		go func(t Target) {
			defer wg.Done()
			l := logger.With(slog.String("table", t.Table), slog.String("format", string(format)))

			duckdbFilePath := strings.ReplaceAll(t.Path, `\`, `/`) // DuckDB needs forward slashes
			quotedTableName := fmt.Sprintf(`"%s"`, strings.ReplaceAll(t.Table, `"`, `""`))
			copySQL := fmt.Sprintf(`COPY %s TO '%s' (%s);`,
				quotedTableName,
				strings.ReplaceAll(duckdbFilePath, "'", "''"),
				format.copyOptions(),
			)

			if _, err := conn.ExecContext(ctx, copySQL); err != nil {
				l.Error("Failed to save table.", "error", err)
				saveErrorsMu.Lock()
				saveErrors = append(saveErrors, fmt.Errorf("save %s: %w", t.Table, err))
				saveErrorsMu.Unlock()
				return
			}
			l.Info("Saved table.", slog.String("output_path", t.Path))
		}(target)
	}
	wg.Wait()

	saveErrorsMu.Lock()
	defer saveErrorsMu.Unlock()
	return errors.Join(saveErrors...)
}
