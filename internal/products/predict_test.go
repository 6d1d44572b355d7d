package products

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/lscollection/internal/config"
)

const scenarioLevel1 = "/g/data/v10/reprocess/ls5/level1/1991/01/LS5_TM_L1T_P123_GA01-09_090_085_19910115"

func TestPredictScenario(t *testing.T) {
	p := NewPredictor(config.DefaultLayout().Products)

	ref, err := p.Predict(scenarioLevel1)
	require.NoError(t, err)

	assert.Equal(t,
		"/g/data/rs0/scenes/nbar-scenes-tmp/ls5/1991/01/output/nbar/LS5_TM_NBAR_P54_GANBAR01-09_090_085_19910115/ga-metadata.yaml",
		ref.NBARPath)
	assert.Contains(t, ref.NBARPath, "NBAR_P54_GANBAR01-09_090_085_19910115")
	assert.Equal(t,
		"/g/data/rs0/scenes/nbar-scenes-tmp/ls5/1991/01/output/nbart/LS5_TM_NBART_P54_GANBART01-09_090_085_19910115/ga-metadata.yaml",
		ref.NBARTPath)
	assert.Equal(t,
		"/g/data/rs0/scenes/pq-scenes-tmp/ls5/1991/01/output/pqa/LS5_TM_PQ_P55_GAPQ01-09_090_085_19910115/ga-metadata.yaml",
		ref.PQPath)
	assert.False(t, ref.NBARExists || ref.NBARTExists || ref.PQExists)
}

func TestParseNameGroups(t *testing.T) {
	name, err := ParseName("LS8_OLITIRS_OTH_P51_GALPGS01-032_101_078_20140302")
	require.NoError(t, err)
	assert.Equal(t, "LS8", name.Spacecraft)
	assert.Equal(t, "OLITIRS", name.Sensor)
	assert.Equal(t, "OTH", name.Type)
	assert.Equal(t, "P51", name.ProductID)
	assert.Equal(t, "LPGS01", name.Code)
	assert.Equal(t, "032", name.Station)
	assert.Equal(t, "101", name.Path)
	assert.Equal(t, "078", name.Row)
	assert.Equal(t, "20140302", name.Date.Format("20060102"))
}

func TestPredictNoPrediction(t *testing.T) {
	p := NewPredictor(config.DefaultLayout().Products)
	tests := []string{
		"/data/not-a-product",
		"/data/XX5_TM_L1T_P123_GA01-09_090_085_19910115",
		// grammar only matches at the start of the base name
		"/data/prefix_LS5_TM_L1T_P123_GA01-09_090_085_19910115",
		// month 13
		"/data/LS5_TM_L1T_P123_GA01-09_090_085_19911315",
	}
	for _, name := range tests {
		t.Run(filepath.Base(name), func(t *testing.T) {
			_, err := p.Predict(name)
			assert.True(t, errors.Is(err, ErrNoPrediction), "got %v", err)
		})
	}
}

func TestPredictInjective(t *testing.T) {
	p := NewPredictor(config.DefaultLayout().Products)
	seen := map[string]string{}
	for _, station := range []string{"09", "10"} {
		for _, path := range []string{"090", "091"} {
			for _, row := range []string{"085", "086"} {
				for _, date := range []string{"19910115", "19910116", "19920115"} {
					name := fmt.Sprintf("/l1/LS5_TM_L1T_P123_GA01-%s_%s_%s_%s", station, path, row, date)
					ref, err := p.Predict(name)
					require.NoError(t, err)
					for _, out := range []string{ref.NBARPath, ref.NBARTPath, ref.PQPath} {
						prev, dup := seen[out]
						require.False(t, dup, "%s and %s both predict %s", prev, name, out)
						seen[out] = name
					}
					again, err := p.Predict(name)
					require.NoError(t, err)
					assert.Equal(t, ref, again)
				}
			}
		}
	}
	assert.Len(t, seen, 2*2*2*3*3)
}

func TestProbe(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "nbar.yaml")
	require.NoError(t, os.WriteFile(present, []byte("x"), 0o644))

	ref := Reference{NBARPath: present, NBARTPath: filepath.Join(dir, "missing.yaml"), PQExists: true}
	got := Probe(OSProber{}, ref)
	assert.True(t, got.NBARExists)
	assert.False(t, got.NBARTExists)
	// empty path is never present, stale flag is discarded
	assert.False(t, got.PQExists)

	all := Probe(ProberFunc(func(string) bool { return true }), ref)
	assert.True(t, all.NBARExists && all.NBARTExists && all.PQExists)
}
