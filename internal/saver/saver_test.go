package saver

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/lscollection/internal/db"
)

func TestParseFormat(t *testing.T) {
	for _, tc := range []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"parquet", FormatParquet, false},
		{"CSV", FormatCSV, false},
		{"xlsx", "", true},
	} {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseFormat(tc.in)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestTargets(t *testing.T) {
	targets := Targets([]string{"monthly_ls5", `we"ird/name`}, "/out", FormatCSV)
	assert.Equal(t, []Target{
		{Table: "monthly_ls5", Path: filepath.Join("/out", "monthly_ls5.csv")},
		{Table: `we"ird/name`, Path: filepath.Join("/out", "weird_name.csv")},
	}, targets)
}

func TestSaveTables(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "store.duckdb")

	require.NoError(t, db.Replace(ctx, dbPath, func(conn *sql.DB) error {
		if _, err := conn.ExecContext(ctx, `CREATE TABLE a (x BIGINT, y VARCHAR);`); err != nil {
			return err
		}
		if _, err := conn.ExecContext(ctx, `CREATE TABLE b (z DOUBLE);`); err != nil {
			return err
		}
		_, err := conn.ExecContext(ctx, `INSERT INTO a VALUES (1, 'one'), (2, NULL);`)
		return err
	}))

	out := filepath.Join(dir, "out")
	files, err := SaveTables(ctx, dbPath, out, FormatCSV, logger)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{filepath.Join(out, "a.csv"), filepath.Join(out, "b.csv")}, files)

	data, err := os.ReadFile(filepath.Join(out, "a.csv"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "x,y", lines[0])
	assert.Equal(t, "1,one", lines[1])
	assert.Equal(t, "2,", lines[2])

	files, err = SaveTables(ctx, dbPath, out, FormatParquet, logger)
	require.NoError(t, err)
	for _, f := range files {
		assert.FileExists(t, f)
	}
}

func TestSaveTablesMissingDatabase(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	_, err := SaveTables(context.Background(), filepath.Join(t.TempDir(), "absent.duckdb"), t.TempDir(), FormatCSV, logger)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
