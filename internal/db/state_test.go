package db

import (
	"bytes"
	"context"
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := sql.Open("duckdb", filepath.Join(t.TempDir(), "state.duckdb"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, InitializeSchema(conn))
	// a second initialisation is a no-op
	require.NoError(t, InitializeSchema(conn))
	return conn
}

func TestLogAndQueryEvents(t *testing.T) {
	ctx := context.Background()
	conn := openTestDB(t)

	rows := int64(12)
	d := 1500 * time.Millisecond
	require.NoError(t, LogEvent(ctx, conn, Event{RunID: "run-a", Subject: "collection-completeness-0", SubjectType: SubjectPartition, Event: EventHarvestStart}))
	require.NoError(t, LogEvent(ctx, conn, Event{RunID: "run-a", Subject: "collection-completeness-0", SubjectType: SubjectPartition, Event: EventHarvestEnd, Fingerprint: "abc", RowCount: &rows, Duration: &d}))
	require.NoError(t, LogEvent(ctx, conn, Event{RunID: "run-a", Subject: "collection-completeness-1", SubjectType: SubjectPartition, Event: EventError, Fingerprint: "def", Message: "boom"}))

	event, _, _, found, err := GetLatestEvent(ctx, conn, "collection-completeness-0", SubjectPartition)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, EventHarvestEnd, event)

	_, _, _, found, err = GetLatestEvent(ctx, conn, "collection-completeness-9", SubjectPartition)
	require.NoError(t, err)
	assert.False(t, found)

	done, err := GetCompletionStatusBatch(ctx, conn,
		[]string{"collection-completeness-0", "collection-completeness-1"}, SubjectPartition, EventHarvestEnd, "abc")
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"collection-completeness-0": true}, done)

	// a different fingerprint means different inputs
	done, err = GetCompletionStatusBatch(ctx, conn, []string{"collection-completeness-0"}, SubjectPartition, EventHarvestEnd, "zzz")
	require.NoError(t, err)
	assert.Empty(t, done)

	runID, found, err := GetLatestRunID(ctx, conn)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "run-a", runID)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	failed, err := GetSubjectsWithEvent(ctx, conn, "run-a", SubjectPartition, EventError, logger)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"collection-completeness-1": true}, failed)

	var out bytes.Buffer
	require.NoError(t, DisplayEventHistory(ctx, conn, &out, SubjectPartition, "", "", 10))
	assert.Contains(t, out.String(), "Displayed 3 records.")
	assert.Contains(t, out.String(), "boom")

	out.Reset()
	require.NoError(t, DisplayEventHistory(ctx, conn, &out, "", EventError, "run-a", 10))
	assert.Contains(t, out.String(), "Displayed 1 records.")
}

func TestLatestRunIDEmpty(t *testing.T) {
	_, found, err := GetLatestRunID(context.Background(), openTestDB(t))
	require.NoError(t, err)
	assert.False(t, found)
}
