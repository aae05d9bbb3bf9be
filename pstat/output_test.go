package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/itohio/gopstat/pkg/voltammogram"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputName(t *testing.T) {
	tests := []struct {
		path   string
		i      int
		repeat int
		want   string
	}{
		{"out.csv", 0, 1, "out.csv"},
		{"out.csv", 0, 3, "out_001.csv"},
		{"data/run.csv", 11, 20, "data/run_012.csv"},
		{"noext", 1, 2, "noext_002"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, outputName(tt.path, tt.i, tt.repeat))
	}
}

func TestWriteRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swv.csv")
	records := []voltammogram.Record{
		{Index: 0, Current: 0.5, Volts: -0.2, ElapsedMillis: 0},
		{Index: 1, Current: 0.75, Volts: -0.195, ElapsedMillis: 38},
	}

	require.NoError(t, writeRecords(path, records))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	got, err := voltammogram.ReadCSV(f)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[1].Index)
	assert.InDelta(t, -0.195, got[1].Volts, 1e-6)
	assert.Equal(t, uint32(38), got[1].ElapsedMillis)
}

func TestWriteRecords_BadPath(t *testing.T) {
	err := writeRecords(filepath.Join(t.TempDir(), "missing", "swv.csv"), nil)
	assert.Error(t, err)
}

func TestCurrentUnit(t *testing.T) {
	assert.Equal(t, "nA", currentUnit(0))
	assert.Equal(t, "µA", currentUnit(7))
}
