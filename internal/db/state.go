package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb" // Driver
)

// Constants for event types
const (
	EventHarvestStart = "harvest_start"
	EventHarvestEnd   = "harvest_end"
	EventSkipHarvest  = "skip_harvest"
	EventCombineEnd   = "combine_end"
	EventSummaryEnd   = "summary_end"
	EventExportEnd    = "export_end"
	EventError        = "error"
)

// Constants for subject types
const (
	SubjectPartition = "partition"
	SubjectCombine   = "combine"
	SubjectSummary   = "summary"
	SubjectExport    = "export"
)

// Schema SQL
const schemaSequenceSQL = `CREATE SEQUENCE IF NOT EXISTS run_event_log_id_seq;`
const schemaTableSQL = `
CREATE TABLE IF NOT EXISTS run_event_log (
    log_id          BIGINT PRIMARY KEY DEFAULT nextval('run_event_log_id_seq'),
    run_id          VARCHAR NOT NULL,
    subject         VARCHAR NOT NULL,      -- partial store name, canonical or summary store path
    subject_type    VARCHAR NOT NULL,      -- 'partition', 'combine', 'summary', 'export'
    event           VARCHAR NOT NULL,
    event_timestamp TIMESTAMP NOT NULL,
    output_path     VARCHAR,
    message         VARCHAR,
    fingerprint     VARCHAR,               -- sha256 of the partition's input paths
    row_count       BIGINT,
    duration_ms     BIGINT
);
CREATE INDEX IF NOT EXISTS idx_run_event_log_subject ON run_event_log (subject, subject_type);
CREATE INDEX IF NOT EXISTS idx_run_event_log_event_time ON run_event_log (event, event_timestamp);
`

// InitializeSchema creates the sequence and tables in the correct order.
func InitializeSchema(db *sql.DB) error {
	// 1. Create Sequence First
	_, err := db.Exec(schemaSequenceSQL)
	if err != nil && !strings.Contains(strings.ToLower(err.Error()), "already exists") {
		return fmt.Errorf("failed to execute sequence setup: %w", err)
	}
	// 2. Create Table and Indices
	_, err = db.Exec(schemaTableSQL)
	if err != nil && !strings.Contains(strings.ToLower(err.Error()), "already exists") {
		return fmt.Errorf("failed to execute table/index setup: %w", err)
	}
	return nil
}

// Event is one row of the run event log. Empty strings and a nil Duration or
// RowCount are stored as NULL.
type Event struct {
	RunID       string
	Subject     string
	SubjectType string
	Event       string
	OutputPath  string
	Message     string
	Fingerprint string
	RowCount    *int64
	Duration    *time.Duration
}

// LogEvent inserts a new event record into the log.
func LogEvent(ctx context.Context, db *sql.DB, e Event) error {
	query := `
        INSERT INTO run_event_log (run_id, subject, subject_type, event, event_timestamp, output_path, message, fingerprint, row_count, duration_ms)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
    `
	var durationMs, rowCount sql.NullInt64
	if e.Duration != nil {
		durationMs = sql.NullInt64{Int64: e.Duration.Milliseconds(), Valid: true}
	}
	if e.RowCount != nil {
		rowCount = sql.NullInt64{Int64: *e.RowCount, Valid: true}
	}

	_, err := db.ExecContext(ctx, query,
		e.RunID,
		e.Subject,
		e.SubjectType,
		e.Event,
		time.Now().UTC(),
		sql.NullString{String: e.OutputPath, Valid: e.OutputPath != ""},
		sql.NullString{String: e.Message, Valid: e.Message != ""},
		sql.NullString{String: e.Fingerprint, Valid: e.Fingerprint != ""},
		rowCount,
		durationMs,
	)
	if err != nil {
		return fmt.Errorf("failed to log event '%s' for '%s': %w", e.Event, e.Subject, err)
	}
	return nil
}

// GetLatestEvent retrieves the most recent event record for a subject.
func GetLatestEvent(ctx context.Context, db *sql.DB, subject, subjectType string) (event string, timestamp time.Time, message string, found bool, err error) {
	query := `
        SELECT event, event_timestamp, message
        FROM run_event_log
        WHERE subject = ? AND subject_type = ?
        ORDER BY event_timestamp DESC, log_id DESC
        LIMIT 1;
    `
	var msg sql.NullString
	row := db.QueryRowContext(ctx, query, subject, subjectType)
	err = row.Scan(&event, &timestamp, &msg)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", time.Time{}, "", false, nil // Not found, no error
		}
		return "", time.Time{}, "", false, fmt.Errorf("failed query latest event for '%s' (%s): %w", subject, subjectType, err)
	}
	return event, timestamp, msg.String, true, nil
}

// GetCompletionStatusBatch reports which subjects have a completion event
// recorded with the given fingerprint, using a temporary table join.
// The key of the returned map is the subject.
func GetCompletionStatusBatch(ctx context.Context, db *sql.DB, subjects []string, subjectType, completionEvent, fingerprint string) (map[string]bool, error) {
	completed := make(map[string]bool)
	if len(subjects) == 0 {
		return completed, nil
	}

	// Use a transaction for the multi-step temp table process
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction for batch check: %w", err)
	}
	defer tx.Rollback() // Rollback is safe even after commit

	// 1. Create a temporary table
	tempTableName := fmt.Sprintf("temp_subjects_to_check_%d", time.Now().UnixNano())
	if _, err = tx.ExecContext(ctx, fmt.Sprintf(`CREATE TEMP TABLE %s (subject TEXT PRIMARY KEY);`, tempTableName)); err != nil {
		return nil, fmt.Errorf("failed to create temp table %s: %w", tempTableName, err)
	}

	// 2. Insert subjects into the temporary table
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`INSERT INTO %s (subject) VALUES (?)`, tempTableName))
	if err != nil {
		return nil, fmt.Errorf("failed to prepare insert statement for temp table %s: %w", tempTableName, err)
	}
	for _, s := range subjects {
		if err := ctx.Err(); err != nil {
			stmt.Close()
			return nil, err
		}
		if _, err := stmt.ExecContext(ctx, s); err != nil {
			stmt.Close()
			return nil, fmt.Errorf("failed to insert subject '%s' into temp table %s: %w", s, tempTableName, err)
		}
	}
	if err = stmt.Close(); err != nil {
		return nil, fmt.Errorf("failed to close insert statement for %s: %w", tempTableName, err)
	}

	// 3. Query the log joining with the temporary table
	query := fmt.Sprintf(`
        SELECT DISTINCT el.subject
        FROM run_event_log el
        JOIN %s t ON el.subject = t.subject
        WHERE el.subject_type = ?
          AND el.event = ?
          AND el.fingerprint = ?;
    `, tempTableName)
	rows, err := tx.QueryContext(ctx, query, subjectType, completionEvent, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("failed batch query status joining temp table %s (event=%s, type=%s): %w", tempTableName, completionEvent, subjectType, err)
	}
	for rows.Next() {
		var subject string
		if err := rows.Scan(&subject); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed scanning batch status row: %w", err)
		}
		completed[subject] = true
	}
	if err = rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error iterating batch status results: %w", err)
	}
	rows.Close()

	// 4. Commit the transaction
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction for batch check: %w", err)
	}
	return completed, nil
}

// DisplayEventHistory writes the most recent events as a table to w.
func DisplayEventHistory(ctx context.Context, db *sql.DB, w io.Writer, subjectTypeFilter, eventFilter, runFilter string, limit int) error {
	query := `
        SELECT run_id, subject, subject_type, event, event_timestamp, message, row_count, duration_ms, output_path
        FROM run_event_log
    `
	conditions := []string{}
	args := []any{}
	argCounter := 1 // Start with $1 for positional args

	if subjectTypeFilter != "" {
		conditions = append(conditions, fmt.Sprintf("subject_type = $%d", argCounter))
		args = append(args, subjectTypeFilter)
		argCounter++
	}
	if eventFilter != "" {
		conditions = append(conditions, fmt.Sprintf("event = $%d", argCounter))
		args = append(args, eventFilter)
		argCounter++
	}
	if runFilter != "" {
		conditions = append(conditions, fmt.Sprintf("run_id = $%d", argCounter))
		args = append(args, runFilter)
		argCounter++
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY event_timestamp DESC, log_id DESC LIMIT $%d", argCounter)
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to query event log: %w \n Query: %s \n Args: %v", err, query, args)
	}
	defer rows.Close()

	fmt.Fprintf(w, "--- Run Event History (Limit %d) ---\n", limit)
	fmt.Fprintf(w, "%-8s | %-32s | %-9s | %-13s | %-25s | %-8s | %-10s | %s\n", "Run", "Subject", "Type", "Event", "Timestamp (UTC)", "Rows", "DurationMS", "Message/Details")
	fmt.Fprintln(w, strings.Repeat("-", 150))

	count := 0
	for rows.Next() {
		var runID, subject, subjectType, event string
		var timestamp time.Time
		var message, outputPath sql.NullString
		var rowCount, durationMs sql.NullInt64
		if err := rows.Scan(&runID, &subject, &subjectType, &event, &timestamp, &message, &rowCount, &durationMs, &outputPath); err != nil {
			return fmt.Errorf("failed to scan event log row: %w", err)
		}

		rowStr, durationStr := "", ""
		if rowCount.Valid {
			rowStr = fmt.Sprintf("%d", rowCount.Int64)
		}
		if durationMs.Valid {
			durationStr = fmt.Sprintf("%d", durationMs.Int64)
		}
		details := message.String
		if outputPath.Valid && outputPath.String != "" {
			details += fmt.Sprintf(" (Output: %s)", outputPath.String)
		}
		if len(runID) > 8 {
			runID = runID[:8]
		}

		fmt.Fprintf(w, "%-8s | %-32s | %-9s | %-13s | %-25s | %-8s | %-10s | %s\n",
			runID, subject, subjectType, event, timestamp.Format(time.RFC3339), rowStr, durationStr, details)
		count++
	}
	if err = rows.Err(); err != nil {
		return fmt.Errorf("error iterating event log rows: %w", err)
	}
	fmt.Fprintf(w, "Displayed %d records.\n", count)
	return nil
}
