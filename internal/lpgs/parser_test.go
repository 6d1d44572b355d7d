package lpgs

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleLog = `<?xml version="1.0"?>
<LpgsOut>
  <LandsatProcessingRequest id="LS5-19910115">
    <Job>
      <WorkingFolder>/scratch/work/LS5_19910115_PASS/run/tmp</WorkingFolder>
    </Job>
  </LandsatProcessingRequest>
  <L0RpProcessing success="1" fail="0"/>
  <L1Processing success="1" fail="0" L1G="0" L1Gt="0" L1T="1"/>
</LpgsOut>`

const level1Dir = "/g/data/v10/reprocess/ls5/level1/1991/01/LS5_TM_L1T_P123_GA01-09_090_085_19910115"

func logPath() string {
	return filepath.Join(level1Dir, "lpgs", "lpgs_out.xml")
}

func TestParseScenario(t *testing.T) {
	rec, err := Parse(strings.NewReader(sampleLog), logPath())
	require.NoError(t, err)

	assert.Equal(t, Record{
		Level1Name: level1Dir,
		Path:       90,
		Row:        85,
		PassID:     "LS5-19910115",
		PassName:   "LS5_19910115_PASS",
		L0Success:  1,
		L1Success:  1,
		L1T:        1,
	}, rec)

	pass, err := ParsePassID(rec.PassID)
	require.NoError(t, err)
	assert.Equal(t, "LS5", pass.Sensor)
	assert.Equal(t, time.Date(1991, 1, 15, 0, 0, 0, 0, time.UTC), pass.Date)
	assert.Equal(t, ClassOther, Classify(rec.Level1Name, "SYS"))
}

func TestParseCounterFallbackToChildElement(t *testing.T) {
	doc := `<LpgsOut>
  <LandsatProcessingRequest id="LS7-20000301"><WorkingFolder>/w/a/b/c</WorkingFolder></LandsatProcessingRequest>
  <L0RpProcessing><success>3</success><fail>2</fail></L0RpProcessing>
  <L1Processing success="3" fail="0" L1G="1" L1Gt="1"><L1T>1</L1T></L1Processing>
</LpgsOut>`
	rec, err := Parse(strings.NewReader(doc), logPath())
	require.NoError(t, err)
	assert.EqualValues(t, 3, rec.L0Success)
	assert.EqualValues(t, 2, rec.L0Fail)
	assert.EqualValues(t, 1, rec.L1T)
	assert.Equal(t, "a", rec.PassName)
}

func TestParseLastWorkingFolderWins(t *testing.T) {
	doc := `<LpgsOut>
  <LandsatProcessingRequest id="LS7-20000301">
    <WorkingFolder>/first/x/y/z</WorkingFolder>
    <Nested><WorkingFolder>/second/pass/y/z</WorkingFolder></Nested>
  </LandsatProcessingRequest>
  <L0RpProcessing success="1" fail="0"/>
  <L1Processing success="1" fail="0" L1G="0" L1Gt="0" L1T="1"/>
</LpgsOut>`
	rec, err := Parse(strings.NewReader(doc), logPath())
	require.NoError(t, err)
	assert.Equal(t, "pass", rec.PassName)
}

func TestParseRepeatedElementLastWins(t *testing.T) {
	doc := `<LpgsOut>
  <LandsatProcessingRequest id="LS5-19910115"><WorkingFolder>/w/old/b/c</WorkingFolder></LandsatProcessingRequest>
  <LandsatProcessingRequest id="LS7-20000301"><WorkingFolder>/w/new/b/c</WorkingFolder></LandsatProcessingRequest>
  <L0RpProcessing success="0" fail="1"/>
  <L0RpProcessing success="1" fail="0"/>
  <L1Processing success="0" fail="1" L1G="0" L1Gt="0" L1T="0"/>
  <L1Processing success="1" fail="0" L1G="0" L1Gt="0" L1T="1"/>
</LpgsOut>`
	rec, err := Parse(strings.NewReader(doc), logPath())
	require.NoError(t, err)
	assert.Equal(t, "LS7-20000301", rec.PassID)
	assert.Equal(t, "new", rec.PassName)
	assert.EqualValues(t, 1, rec.L0Success)
	assert.EqualValues(t, 0, rec.L0Fail)
	assert.EqualValues(t, 1, rec.L1Success)
	assert.EqualValues(t, 0, rec.L1Fail)
	assert.EqualValues(t, 1, rec.L1T)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		path string
	}{
		{"not xml", "this is not xml", logPath()},
		{"missing request", `<r><L0RpProcessing success="1" fail="0"/><L1Processing success="1" fail="0" L1G="0" L1Gt="0" L1T="1"/></r>`, logPath()},
		{"missing l1", `<r><LandsatProcessingRequest id="LS5-19910115"><WorkingFolder>/a/b/c</WorkingFolder></LandsatProcessingRequest><L0RpProcessing success="1" fail="0"/></r>`, logPath()},
		{"negative counter", strings.Replace(sampleLog, `fail="0"/>`, `fail="-1"/>`, 1), logPath()},
		{"non numeric counter", strings.Replace(sampleLog, `L1T="1"`, `L1T="one"`, 1), logPath()},
		{"short level1 name", sampleLog, "/data/LS5_TM/lpgs/lpgs_out.xml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.doc), tt.path)
			require.Error(t, err)
			var perr *ParseError
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, tt.path, perr.Path)
		})
	}
}

func TestParseFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "LS5_TM_L1T_P123_GA01-09_090_085_19910115", "lpgs")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, "lpgs_out.xml")
	require.NoError(t, os.WriteFile(path, []byte(sampleLog), 0o644))

	rec, err := ParseFile(path)
	require.NoError(t, err)
	assert.EqualValues(t, 90, rec.Path)

	_, err = ParseFile(filepath.Join(dir, "missing.xml"))
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
