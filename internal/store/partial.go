package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"github.com/brensch/lscollection/internal/config"
	"github.com/brensch/lscollection/internal/harvest"
)

// Table names inside a partial store.
const (
	TableSysProducts    = "sys_products"
	TableOthAndChildren = "oth_and_children_products"
	TableFailures       = "lpgs_fails"
	TablePackageTemp    = "packagetmp"
)

// Tables lists the partial tables in the order they are written.
var Tables = []string{TableSysProducts, TableOthAndChildren, TableFailures, TablePackageTemp}

const manifestFile = "_manifest.json"

// Manifest describes a complete partial store. It is written after every
// table, so a partial without one is treated as absent.
type Manifest struct {
	Index       int                  `json:"index"`
	RunID       string               `json:"run_id"`
	Fingerprint string               `json:"fingerprint,omitempty"`
	Tables      map[string]TableInfo `json:"tables"`
	CreatedAt   time.Time            `json:"created_at"`
}

// TableInfo describes one table file of a partial store.
type TableInfo struct {
	File     string `json:"file"`
	Checksum string `json:"checksum"`
	RowCount int64  `json:"row_count"`
	ByteSize int64  `json:"byte_size"`
}

// MissingPartialError reports a partial store that is absent or unusable.
type MissingPartialError struct {
	Index int
	Cause error
}

func (e *MissingPartialError) Error() string {
	return fmt.Sprintf("partial %d missing: %v", e.Index, e.Cause)
}

func (e *MissingPartialError) Unwrap() error { return e.Cause }

// ErrNoManifest is the cause of a MissingPartialError when the manifest was
// never written.
var ErrNoManifest = errors.New("no manifest")

// Store reads and writes per-worker partial stores in a bucket.
type Store struct {
	bucket *blob.Bucket
	layout config.Layout
}

// New returns a store over bucket. The bucket is owned by the caller.
func New(bucket *blob.Bucket, layout config.Layout) *Store {
	return &Store{bucket: bucket, layout: layout}
}

func (s *Store) key(index int, file string) string {
	return s.layout.PartialName(index) + "/" + file
}

// Write persists one partial result, replacing any earlier partial with the
// same index. The previous manifest is removed first so an interrupted
// rewrite reads back as missing rather than mixed.
func (s *Store) Write(ctx context.Context, res harvest.PartialResult) (Manifest, error) {
	if err := s.bucket.Delete(ctx, s.key(res.Index, manifestFile)); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
		return Manifest{}, fmt.Errorf("remove stale manifest for partial %d: %w", res.Index, err)
	}

	encoded := make(map[string][]byte, len(Tables))
	counts := map[string]int{
		TableSysProducts:    len(res.SysProducts),
		TableOthAndChildren: len(res.OthAndChildren),
		TableFailures:       len(res.Failures),
		TablePackageTemp:    len(res.PackageTemp),
	}
	var err error
	if encoded[TableSysProducts], err = encodeEntries(res.SysProducts); err != nil {
		return Manifest{}, fmt.Errorf("encode %s: %w", TableSysProducts, err)
	}
	if encoded[TableOthAndChildren], err = encodeEntries(res.OthAndChildren); err != nil {
		return Manifest{}, fmt.Errorf("encode %s: %w", TableOthAndChildren, err)
	}
	if encoded[TableFailures], err = encodeFailures(res.Failures); err != nil {
		return Manifest{}, fmt.Errorf("encode %s: %w", TableFailures, err)
	}
	if encoded[TablePackageTemp], err = encodePackageTemp(res.PackageTemp); err != nil {
		return Manifest{}, fmt.Errorf("encode %s: %w", TablePackageTemp, err)
	}

	m := Manifest{
		Index:     res.Index,
		RunID:       res.RunID,
		Fingerprint: res.Fingerprint,
		Tables:      make(map[string]TableInfo, len(Tables)),
		CreatedAt:   time.Now().UTC(),
	}
	for _, table := range Tables {
		data := encoded[table]
		file := table + ".parquet"
		if err := s.bucket.WriteAll(ctx, s.key(res.Index, file), data, nil); err != nil {
			return Manifest{}, fmt.Errorf("write %s for partial %d: %w", file, res.Index, err)
		}
		sum := sha256.Sum256(data)
		m.Tables[table] = TableInfo{
			File:     file,
			Checksum: hex.EncodeToString(sum[:]),
			RowCount: int64(counts[table]),
			ByteSize: int64(len(data)),
		}
	}

	body, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return Manifest{}, fmt.Errorf("marshal manifest: %w", err)
	}
	if err := s.bucket.WriteAll(ctx, s.key(res.Index, manifestFile), body, nil); err != nil {
		return Manifest{}, fmt.Errorf("write manifest for partial %d: %w", res.Index, err)
	}
	return m, nil
}

// Manifest reads the manifest of partial index. Absence is reported as a
// MissingPartialError wrapping ErrNoManifest.
func (s *Store) Manifest(ctx context.Context, index int) (Manifest, error) {
	body, err := s.bucket.ReadAll(ctx, s.key(index, manifestFile))
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return Manifest{}, &MissingPartialError{Index: index, Cause: ErrNoManifest}
		}
		return Manifest{}, &MissingPartialError{Index: index, Cause: err}
	}
	var m Manifest
	if err := json.Unmarshal(body, &m); err != nil {
		return Manifest{}, &MissingPartialError{Index: index, Cause: fmt.Errorf("decode manifest: %w", err)}
	}
	if m.Index != index {
		return Manifest{}, &MissingPartialError{Index: index, Cause: fmt.Errorf("manifest is for partial %d", m.Index)}
	}
	return m, nil
}

// Read loads partial index, verifying every table against its manifest
// checksum. Any problem is returned as a MissingPartialError.
func (s *Store) Read(ctx context.Context, index int) (harvest.PartialResult, error) {
	m, err := s.Manifest(ctx, index)
	if err != nil {
		return harvest.PartialResult{}, err
	}
	res := harvest.PartialResult{Index: index, RunID: m.RunID, Fingerprint: m.Fingerprint}
	for _, table := range Tables {
		data, err := s.readTable(ctx, index, m, table)
		if err != nil {
			return harvest.PartialResult{}, &MissingPartialError{Index: index, Cause: err}
		}
		switch table {
		case TableSysProducts:
			res.SysProducts, err = decodeEntries(data)
		case TableOthAndChildren:
			res.OthAndChildren, err = decodeEntries(data)
		case TableFailures:
			res.Failures, err = decodeFailures(data)
		case TablePackageTemp:
			res.PackageTemp, err = decodePackageTemp(data)
		}
		if err != nil {
			return harvest.PartialResult{}, &MissingPartialError{Index: index, Cause: fmt.Errorf("decode %s: %w", table, err)}
		}
	}
	return res, nil
}

func (s *Store) readTable(ctx context.Context, index int, m Manifest, table string) ([]byte, error) {
	info, ok := m.Tables[table]
	if !ok {
		return nil, fmt.Errorf("manifest has no %s table", table)
	}
	data, err := s.bucket.ReadAll(ctx, s.key(index, info.File))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", info.File, err)
	}
	sum := sha256.Sum256(data)
	if got := hex.EncodeToString(sum[:]); got != info.Checksum {
		return nil, fmt.Errorf("%s checksum mismatch: manifest %s, file %s", info.File, info.Checksum, got)
	}
	return data, nil
}

// Indices lists the partial indices that have a manifest, ascending.
func (s *Store) Indices(ctx context.Context) ([]int, error) {
	prefix := s.layout.PartialPrefix + "-"
	iter := s.bucket.List(&blob.ListOptions{Prefix: prefix})
	var indices []int
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		rest, ok := strings.CutSuffix(strings.TrimPrefix(obj.Key, prefix), "/"+manifestFile)
		if !ok {
			continue
		}
		i, err := strconv.Atoi(rest)
		if err != nil {
			continue
		}
		indices = append(indices, i)
	}
	sort.Ints(indices)
	return indices, nil
}
