package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadLayoutOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "layout.yaml")
	body := `
level1_dir: /data/{sensor}/level1
sensors: [ls7]
products:
  pq:
    type: PQ
    id: P55
    code: PQ01
    template: /pq/{sensor}/{year}/{month}/{scene}
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	layout, err := LoadLayout(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"/data/ls7/level1"}, layout.SensorDirs())
	assert.Equal(t, "/pq/{sensor}/{year}/{month}/{scene}", layout.Products.PQ.Template)
	// untouched keys keep their defaults
	assert.Equal(t, DefaultLayout().Products.NBAR, layout.Products.NBAR)
	assert.Equal(t, "lpgs_out.xml", layout.LogFilename)
	assert.Equal(t, "SYS", layout.SystemMarker)
}

func TestLoadLayoutRejectsBrokenTemplate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "layout.yaml")
	require.NoError(t, os.WriteFile(path, []byte("products:\n  nbar:\n    template: /no/scene\n"), 0o644))

	_, err := LoadLayout(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nbar")
}

func TestLoadLayoutEmptyPath(t *testing.T) {
	layout, err := LoadLayout("")
	require.NoError(t, err)
	assert.Equal(t, DefaultLayout(), layout)
}

func TestConfigValidate(t *testing.T) {
	base := Config{NumWorkers: 4, PQDenominator: PQDenominatorNBAR, Layout: DefaultLayout()}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero workers", func(c *Config) { c.NumWorkers = 0 }},
		{"bad denominator", func(c *Config) { c.PQDenominator = "pq" }},
		{"only out of range", func(c *Config) { c.Only = []int{4} }},
		{"empty marker", func(c *Config) { c.Layout.SystemMarker = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLayoutValidateErrorOrder(t *testing.T) {
	err := Layout{}.Validate()
	require.Error(t, err)
	lines := strings.Split(err.Error(), "\n")
	require.Len(t, lines, 13)
	assert.Equal(t, "layout: log_filename is empty", lines[0])
	assert.Equal(t, "layout: summary_store is empty", lines[6])
	assert.Equal(t, "layout: product nbar needs type, id and code", lines[7])
	assert.Equal(t, "layout: product pq template has no {scene} placeholder", lines[12])

	for range 5 {
		assert.Equal(t, err.Error(), Layout{}.Validate().Error())
	}
}

func TestConcurrency(t *testing.T) {
	assert.Equal(t, 4, Config{NumWorkers: 4}.Concurrency())
	assert.Equal(t, 2, Config{NumWorkers: 4, Parallel: 2}.Concurrency())
	assert.Equal(t, 4, Config{NumWorkers: 4, Parallel: 9}.Concurrency())
}

func TestPartialName(t *testing.T) {
	assert.Equal(t, "collection-completeness-3", DefaultLayout().PartialName(3))
}
