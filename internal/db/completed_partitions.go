package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
)

// GetLatestRunID returns the run id of the most recent harvest_start event.
func GetLatestRunID(ctx context.Context, db *sql.DB) (runID string, found bool, err error) {
	query := `
		SELECT run_id
		FROM run_event_log
		WHERE event = ?
		ORDER BY event_timestamp DESC, log_id DESC
		LIMIT 1;
	`
	err = db.QueryRowContext(ctx, query, EventHarvestStart).Scan(&runID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("query latest run id: %w", err)
	}
	return runID, true, nil
}

// GetSubjectsWithEvent returns the subjects of subjectType that recorded event
// during runID. Keys of the map are subjects for fast lookups.
func GetSubjectsWithEvent(ctx context.Context, db *sql.DB, runID, subjectType, event string, logger *slog.Logger) (map[string]bool, error) {
	logger.Debug("Querying subjects with event.", "run_id", runID, "subject_type", subjectType, "event", event)
	subjects := make(map[string]bool)

	query := `
		SELECT DISTINCT subject
		FROM run_event_log
		WHERE run_id = ? AND subject_type = ? AND event = ?;
	`
	rows, err := db.QueryContext(ctx, query, runID, subjectType, event)
	if err != nil {
		return nil, fmt.Errorf("query subjects with %s: %w", event, err)
	}
	defer rows.Close()

	var scanErrors error // Accumulate scan errors
	for rows.Next() {
		var subject string
		if err := rows.Scan(&subject); err != nil {
			scanErrors = errors.Join(scanErrors, fmt.Errorf("scan subject: %w", err))
			continue
		}
		subjects[subject] = true
	}
	if err := rows.Err(); err != nil {
		scanErrors = errors.Join(scanErrors, fmt.Errorf("iterate subjects: %w", err))
	}

	logger.Debug("Found subjects with event.", slog.Int("count", len(subjects)))
	return subjects, scanErrors
}
