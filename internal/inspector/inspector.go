package inspector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/brensch/lscollection/internal/config"
	"github.com/brensch/lscollection/internal/db"
	"github.com/brensch/lscollection/internal/saver"
	"github.com/brensch/lscollection/internal/store"
)

// Column is one row of a DESCRIBE result.
type Column struct {
	Name string
	Type string
	Null string
}

// TableReport summarises one table of a DuckDB store.
type TableReport struct {
	Name    string
	Rows    int64
	Columns []Column
	Err     error
}

// StoreReport summarises one DuckDB store. Missing is set when the file does
// not exist yet.
type StoreReport struct {
	Path    string
	Missing bool
	Tables  []TableReport
	Err     error
}

// PartialReport summarises the manifest of one partial store. LastEvent is
// empty when no state database was given or it holds nothing for the partial.
type PartialReport struct {
	Index       int
	RunID       string
	CreatedAt   time.Time
	Rows        map[string]int64
	LastEvent   string
	LastEventAt time.Time
	Err         error
}

// Report is everything Inspect found.
type Report struct {
	Stores   []StoreReport
	Partials []PartialReport
}

// Err joins every per table and per partial error of the report.
func (r Report) Err() error {
	var errs []error
	for _, s := range r.Stores {
		errs = append(errs, s.Err)
		for _, t := range s.Tables {
			errs = append(errs, t.Err)
		}
	}
	for _, p := range r.Partials {
		errs = append(errs, p.Err)
	}
	return errors.Join(errs...)
}

// Inspect reports the canonical and summary stores of cfg and every partial
// found in st, with the latest state event of each partial.
// st and state may be nil.
func Inspect(ctx context.Context, cfg config.Config, st *store.Store, state *sql.DB, logger *slog.Logger) (Report, error) {
	logger.Info("--- Starting Store Inspection ---")
	var report Report
	for _, path := range []string{cfg.CanonicalPath(), cfg.SummaryPath()} {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		sr := inspectStore(ctx, path, logger.With(slog.String("store", path)))
		report.Stores = append(report.Stores, sr)
	}

	if st != nil {
		indices, err := st.Indices(ctx)
		if err != nil {
			return report, fmt.Errorf("list partials: %w", err)
		}
		for _, i := range indices {
			pr := PartialReport{Index: i}
			m, err := st.Manifest(ctx, i)
			if err != nil {
				pr.Err = err
				logger.Warn("Unreadable partial manifest.", slog.Int("partition", i), "error", err)
			} else {
				pr.RunID = m.RunID
				pr.CreatedAt = m.CreatedAt
				pr.Rows = make(map[string]int64, len(m.Tables))
				for name, info := range m.Tables {
					pr.Rows[name] = info.RowCount
				}
			}
			if state != nil {
				event, at, _, found, err := db.GetLatestEvent(ctx, state, cfg.Layout.PartialName(i), db.SubjectPartition)
				switch {
				case err != nil:
					logger.Warn("Failed reading partition state.", slog.Int("partition", i), "error", err)
				case found:
					pr.LastEvent, pr.LastEventAt = event, at
				}
			}
			report.Partials = append(report.Partials, pr)
		}
	}
	logger.Info("--- Store Inspection Finished ---", slog.Int("stores", len(report.Stores)), slog.Int("partials", len(report.Partials)))
	return report, nil
}

func inspectStore(ctx context.Context, path string, l *slog.Logger) StoreReport {
	sr := StoreReport{Path: path}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			sr.Missing = true
			l.Info("Store not written yet.")
			return sr
		}
		sr.Err = err
		return sr
	}

	conn, err := db.Open(path)
	if err != nil {
		sr.Err = err
		return sr
	}
	defer conn.Close()

	names, err := saver.ListTables(ctx, conn)
	if err != nil {
		sr.Err = err
		return sr
	}
	sort.Strings(names)
	for _, name := range names {
		tr := TableReport{Name: name}
		tr.Rows, tr.Err = db.CountRows(ctx, conn, name)
		if tr.Err == nil {
			tr.Columns, tr.Err = describe(ctx, conn, name)
		}
		if tr.Err != nil {
			l.Error("Failed inspecting table.", slog.String("table", name), "error", tr.Err)
		} else {
			l.Debug("Inspected table.", slog.String("table", name), slog.Int64("rows", tr.Rows))
		}
		sr.Tables = append(sr.Tables, tr)
	}
	return sr
}

func describe(ctx context.Context, conn *sql.DB, table string) ([]Column, error) {
	rows, err := conn.QueryContext(ctx, fmt.Sprintf(`DESCRIBE "%s";`, table))
	if err != nil {
		return nil, fmt.Errorf("describe %s: %w", table, err)
	}
	defer rows.Close()
	var cols []Column
	for rows.Next() {
		var colName, colType, nullVal, keyVal, defaultVal, extraVal sql.NullString
		if err := rows.Scan(&colName, &colType, &nullVal, &keyVal, &defaultVal, &extraVal); err != nil {
			return nil, fmt.Errorf("scan schema row for %s: %w", table, err)
		}
		cols = append(cols, Column{Name: colName.String, Type: colType.String, Null: nullVal.String})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schema rows for %s: %w", table, err)
	}
	return cols, nil
}

// Print writes a human readable rendition of r.
func Print(w io.Writer, r Report) {
	for _, s := range r.Stores {
		fmt.Fprintf(w, "\n=== Store: %s ===\n", s.Path)
		switch {
		case s.Missing:
			fmt.Fprintln(w, "    (not written yet)")
			continue
		case s.Err != nil:
			fmt.Fprintf(w, "    ERROR: %v\n", s.Err)
			continue
		case len(s.Tables) == 0:
			fmt.Fprintln(w, "    (no tables)")
			continue
		}
		fmt.Fprintf(w, "%-40s | %-12s | %s\n", "Table", "Rows", "Errors")
		fmt.Fprintln(w, strings.Repeat("-", 80))
		for _, t := range s.Tables {
			errStr := ""
			if t.Err != nil {
				errStr = t.Err.Error()
			}
			fmt.Fprintf(w, "%-40s | %-12d | %s\n", t.Name, t.Rows, errStr)
		}
		for _, t := range s.Tables {
			if len(t.Columns) == 0 {
				continue
			}
			fmt.Fprintf(w, "\n  Schema of %s:\n", t.Name)
			fmt.Fprintf(w, "  %-30s | %-20s | %s\n", "Column Name", "Column Type", "Null")
			for _, c := range t.Columns {
				fmt.Fprintf(w, "  %-30s | %-20s | %s\n", c.Name, c.Type, c.Null)
			}
		}
	}

	fmt.Fprintln(w, "\n=== Partials ===")
	if len(r.Partials) == 0 {
		fmt.Fprintln(w, "    (none)")
		return
	}
	fmt.Fprintf(w, "%-10s | %-36s | %-25s | %-14s | %s\n", "Partition", "Run", "Created (UTC)", "Last event", "Rows")
	fmt.Fprintln(w, strings.Repeat("-", 127))
	for _, p := range r.Partials {
		if p.Err != nil {
			fmt.Fprintf(w, "%-10d | ERROR: %v\n", p.Index, p.Err)
			continue
		}
		tables := make([]string, 0, len(p.Rows))
		for name := range p.Rows {
			tables = append(tables, name)
		}
		sort.Strings(tables)
		counts := make([]string, len(tables))
		for i, name := range tables {
			counts[i] = fmt.Sprintf("%s=%d", name, p.Rows[name])
		}
		last := "-"
		if p.LastEvent != "" {
			last = p.LastEvent
		}
		fmt.Fprintf(w, "%-10d | %-36s | %-25s | %-14s | %s\n", p.Index, p.RunID, p.CreatedAt.UTC().Format(time.RFC3339), last, strings.Join(counts, " "))
	}
}
