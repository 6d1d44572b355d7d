package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// Default summary ratio denominator for pq completeness.
	PQDenominatorNBAR = "nbar"
	PQDenominatorL1   = "l1"
)

var (
	// Default number of workers (partitions), often set to CPU count.
	DefaultNumWorkers = runtime.NumCPU()
)

// Config holds application settings for a single invocation.
type Config struct {
	ListFile      string // newline delimited list of lpgs_out.xml paths
	Walk          bool   // walk Layout.Level1Dir for each sensor
	OutputDir     string // canonical and summary stores
	StoreURL      string // bucket holding the partial stores, defaults to OutputDir
	DbPath        string // run event log
	NumWorkers    int    // number of partitions
	Parallel      int    // partitions harvested at once, <1 means NumWorkers
	Only          []int  // harvest only these partition indices
	Resume        bool   // skip partitions already harvested from the same inputs
	PQDenominator string
	IncludeSystem bool
	MetricsFile   string
	Layout        Layout
}

// Concurrency returns the number of partitions processed at once.
func (c Config) Concurrency() int {
	if c.Parallel < 1 || c.Parallel > c.NumWorkers {
		return c.NumWorkers
	}
	return c.Parallel
}

// CanonicalPath is the DuckDB file holding the combined dataset.
func (c Config) CanonicalPath() string {
	return filepath.Join(c.OutputDir, c.Layout.CanonicalStore)
}

// SummaryPath is the DuckDB file holding the monthly summaries.
func (c Config) SummaryPath() string {
	return filepath.Join(c.OutputDir, c.Layout.SummaryStore)
}

// Validate checks the settings that every command depends on.
func (c Config) Validate() error {
	var errs []error
	if c.NumWorkers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.NumWorkers))
	}
	switch c.PQDenominator {
	case PQDenominatorNBAR, PQDenominatorL1:
	default:
		errs = append(errs, fmt.Errorf("unknown pq denominator %q (want %s or %s)", c.PQDenominator, PQDenominatorNBAR, PQDenominatorL1))
	}
	for _, i := range c.Only {
		if i < 0 || i >= c.NumWorkers {
			errs = append(errs, fmt.Errorf("partition %d out of range [0,%d)", i, c.NumWorkers))
		}
	}
	if err := c.Layout.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ProductKind describes one derived product and where it is published.
type ProductKind struct {
	Type     string `yaml:"type"`     // product type segment, e.g. NBAR
	ID       string `yaml:"id"`       // product id segment, e.g. P54
	Code     string `yaml:"code"`     // product code following GA, e.g. NBAR01
	Template string `yaml:"template"` // {sensor} {year} {month} {scene}
}

// Products groups the three derived product kinds.
type Products struct {
	NBAR  ProductKind `yaml:"nbar"`
	NBART ProductKind `yaml:"nbart"`
	PQ    ProductKind `yaml:"pq"`
}

// Layout is the archive layout the harvester reads from and writes to.
// It is passed by value and never modified after loading.
type Layout struct {
	Level1Dir     string   `yaml:"level1_dir"` // {sensor} placeholder
	Sensors       []string `yaml:"sensors"`
	LogFilename   string   `yaml:"log_filename"`
	SystemMarker  string   `yaml:"system_marker"`
	FailureMarker string   `yaml:"failure_marker"`
	StagingMarker string   `yaml:"staging_marker"`
	Products      Products `yaml:"products"`

	PartialPrefix  string `yaml:"partial_prefix"`
	CanonicalStore string `yaml:"canonical_store"`
	SummaryStore   string `yaml:"summary_store"`
}

// DefaultLayout matches the production reprocessing archive.
func DefaultLayout() Layout {
	return Layout{
		Level1Dir:     "/g/data/v10/reprocess/{sensor}/level1",
		Sensors:       []string{"ls5", "ls7", "ls8"},
		LogFilename:   "lpgs_out.xml",
		SystemMarker:  "SYS",
		FailureMarker: "failure",
		StagingMarker: "packagetmp",
		Products: Products{
			NBAR: ProductKind{
				Type:     "NBAR",
				ID:       "P54",
				Code:     "NBAR01",
				Template: "/g/data/rs0/scenes/nbar-scenes-tmp/{sensor}/{year}/{month}/output/nbar/{scene}/ga-metadata.yaml",
			},
			NBART: ProductKind{
				Type:     "NBART",
				ID:       "P54",
				Code:     "NBART01",
				Template: "/g/data/rs0/scenes/nbar-scenes-tmp/{sensor}/{year}/{month}/output/nbart/{scene}/ga-metadata.yaml",
			},
			PQ: ProductKind{
				Type:     "PQ",
				ID:       "P55",
				Code:     "PQ01",
				Template: "/g/data/rs0/scenes/pq-scenes-tmp/{sensor}/{year}/{month}/output/pqa/{scene}/ga-metadata.yaml",
			},
		},
		PartialPrefix:  "collection-completeness",
		CanonicalStore: "collection-completeness.duckdb",
		SummaryStore:   "collection-monthly-counts.duckdb",
	}
}

// LoadLayout reads a YAML layout file over the defaults. Keys absent from
// the file keep their default value. An empty path returns the defaults.
func LoadLayout(path string) (Layout, error) {
	layout := DefaultLayout()
	if path == "" {
		return layout, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Layout{}, fmt.Errorf("read layout %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &layout); err != nil {
		return Layout{}, fmt.Errorf("parse layout %s: %w", path, err)
	}
	// copy so the caller's slice is never shared with the decoder
	layout.Sensors = append([]string(nil), layout.Sensors...)
	return layout, layout.Validate()
}

// Validate reports missing layout fields.
func (l Layout) Validate() error {
	var errs []error
	required := []struct{ key, value string }{
		{"log_filename", l.LogFilename},
		{"system_marker", l.SystemMarker},
		{"failure_marker", l.FailureMarker},
		{"staging_marker", l.StagingMarker},
		{"partial_prefix", l.PartialPrefix},
		{"canonical_store", l.CanonicalStore},
		{"summary_store", l.SummaryStore},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			errs = append(errs, fmt.Errorf("layout: %s is empty", r.key))
		}
	}
	kinds := []struct {
		name string
		kind ProductKind
	}{{"nbar", l.Products.NBAR}, {"nbart", l.Products.NBART}, {"pq", l.Products.PQ}}
	for _, k := range kinds {
		if k.kind.Type == "" || k.kind.ID == "" || k.kind.Code == "" {
			errs = append(errs, fmt.Errorf("layout: product %s needs type, id and code", k.name))
		}
		if !strings.Contains(k.kind.Template, "{scene}") {
			errs = append(errs, fmt.Errorf("layout: product %s template has no {scene} placeholder", k.name))
		}
	}
	return errors.Join(errs...)
}

// SensorDirs expands Level1Dir for every configured sensor.
func (l Layout) SensorDirs() []string {
	dirs := make([]string, 0, len(l.Sensors))
	for _, s := range l.Sensors {
		dirs = append(dirs, strings.ReplaceAll(l.Level1Dir, "{sensor}", s))
	}
	return dirs
}

// PartialName is the store key prefix for a worker's partial result.
func (l Layout) PartialName(index int) string {
	return fmt.Sprintf("%s-%d", l.PartialPrefix, index)
}
