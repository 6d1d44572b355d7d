package lpgs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePassID(t *testing.T) {
	tests := []struct {
		id     string
		sensor string
		date   string
		valid  bool
	}{
		{"LS5-19910115", "LS5", "19910115", true},
		{"LS8-20160401-extra", "LS8", "20160401", true},
		{"LS7-2000030", "", "", false},
		{"LS7-200003011", "", "", false},
		{"LS7-20000230", "", "", false},
		{"LS7-2000O301", "", "", false},
		{"LS7", "", "", false},
		{"-20000301", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			pass, err := ParsePassID(tt.id)
			if !tt.valid {
				var ierr *InvalidPassIDError
				require.ErrorAs(t, err, &ierr)
				assert.Equal(t, tt.id, ierr.PassID)
				assert.Equal(t, Pass{}, pass)
				return
			}
			require.NoError(t, err)
			assert.True(t, pass.Valid)
			assert.Equal(t, tt.sensor, pass.Sensor)
			assert.Equal(t, tt.date, pass.Date.Format(DateLayout))
		})
	}
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ClassSystem, Classify("/l1/LS5_TM_SYS_P123_GA01-09_090_085_19910115", "SYS"))
	assert.Equal(t, ClassOther, Classify("/l1/LS5_TM_L1T_P123_GA01-09_090_085_19910115", "SYS"))
	// substring containment only, case sensitive
	assert.Equal(t, ClassOther, Classify("/l1/sys/LS5_TM_L1T", "SYS"))
}
