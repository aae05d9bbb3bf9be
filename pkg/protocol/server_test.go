package protocol

import (
	"context"
	"strings"
	"testing"

	"github.com/itohio/gopstat/pkg/sim"
	"github.com/itohio/gopstat/pkg/swv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSimEngine(t *testing.T) *swv.Engine {
	t.Helper()
	cfg := swv.DefaultConfig()
	p := sim.New(cfg, nil, 4095)
	eng, err := swv.New(cfg, p.Hardware(sim.NewClock(0)))
	require.NoError(t, err)
	return eng
}

func serve(t *testing.T, eng *swv.Engine, input string) []string {
	t.Helper()
	var out strings.Builder
	require.NoError(t, Serve(context.Background(), eng, strings.NewReader(input), &out))
	return strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
}

func TestServe_Commands(t *testing.T) {
	eng := newSimEngine(t)

	lines := serve(t, eng, "PING\r\n\nGAIN 3\nAVG 4\nDEBUG 0\nBIAS 2\nCLEAR\n")
	assert.Equal(t, []string{"OK pong", "OK GAIN 3", "OK AVG 4", "OK DEBUG 0", "OK BIAS 2", "OK"}, lines)
	assert.Equal(t, uint8(3), eng.Gain())
	assert.Equal(t, 4, eng.Averaging())
	assert.Equal(t, uint8(2), eng.Bias().Range)
}

func TestServe_Sweep(t *testing.T) {
	eng := newSimEngine(t)

	lines := serve(t, eng, "SWV 7,0,20,25,10,25,1\nDUMP\n")
	require.Len(t, lines, 8)
	assert.Equal(t, "DONE 3", lines[3])
	assert.Equal(t, lines[:4], lines[4:])

	for i, line := range lines[:3] {
		resp, err := ParseResponse(line)
		require.NoError(t, err)
		assert.Equal(t, RecordLine, resp.Kind)
		assert.Equal(t, i, resp.Record.Index)
		assert.InDelta(t, float32(i)*0.01, resp.Record.Volts, 1e-6)
	}
}

func TestServe_Errors(t *testing.T) {
	eng := newSimEngine(t)

	lines := serve(t, eng, "SWV 7,0,20,25,10,0,1\nFOO\nGAIN 9\nAVG 0\nSWV 7,700,900,20,50,25,1\n")
	require.Len(t, lines, 9)
	assert.True(t, strings.HasPrefix(lines[0], "ERR swv: invalid frequency"), lines[0])
	assert.Equal(t, "DONE 0", lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "ERR protocol: unknown command"), lines[2])
	assert.True(t, strings.HasPrefix(lines[3], "ERR swv: invalid gain"), lines[3])
	assert.True(t, strings.HasPrefix(lines[4], "ERR swv: averaging"), lines[4])

	// A sweep failing midway reports the error, then the valid prefix.
	assert.Equal(t, "ERR swv: no bias range reaches potential: 820 mV", lines[5])
	assert.Equal(t, "DONE 2", lines[8])
}

func TestServe_Cancelled(t *testing.T) {
	eng := newSimEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out strings.Builder
	err := Serve(ctx, eng, strings.NewReader("PING\n"), &out)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, out.String())
}
