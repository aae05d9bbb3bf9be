package sim

import (
	"context"
	"testing"

	"github.com/chewxy/math32"
	"github.com/itohio/gopstat/pkg/config"
	"github.com/itohio/gopstat/pkg/swv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietCell() *config.SimConfig {
	return &config.SimConfig{
		FormalMillivolts:  0,
		LimitingMicroamps: 2,
		WidthMillivolts:   25.7,
	}
}

func newEngine(t *testing.T, cell *config.SimConfig) (*swv.Engine, *Potentiostat, *Clock) {
	t.Helper()
	cfg := swv.DefaultConfig()
	p := New(cfg, cell, 4095)
	clock := NewClock(0)
	eng, err := swv.New(cfg, p.Hardware(clock))
	require.NoError(t, err)
	return eng, p, clock
}

func TestClock(t *testing.T) {
	c := NewClock(^uint32(0) - 1)
	c.Delay(3)
	assert.Equal(t, uint32(1), c.Millis())
	c.Advance(10)
	assert.Equal(t, uint32(11), c.Millis())
}

func TestPotentiostat_Limits(t *testing.T) {
	p := New(swv.DefaultConfig(), nil, 0)

	assert.ErrorIs(t, p.PowerUp(8), errGain)
	assert.ErrorIs(t, p.SetGain(8), errGain)
	assert.ErrorIs(t, p.SetBias(14), errBias)
	assert.ErrorIs(t, p.WriteCode(256), errCode)
	assert.False(t, p.Powered())

	require.NoError(t, p.PowerUp(7))
	assert.True(t, p.Powered())
	require.NoError(t, p.Disable())
	assert.False(t, p.Powered())
}

func TestPotentiostat_BiasFollowsSettings(t *testing.T) {
	p := New(swv.DefaultConfig(), quietCell(), 4095)
	require.NoError(t, p.PowerUp(7))

	// 2500 mV through the 8 % range.
	require.NoError(t, p.SetBias(5))
	require.NoError(t, p.WriteCode(193))
	want := float32(193) * 3300 / 255 * 0.08
	assert.InDelta(t, want, p.BiasMillivolts(), 1e-3)

	require.NoError(t, p.SetBiasSign(false))
	assert.InDelta(t, -want, p.BiasMillivolts(), 1e-3)

	require.NoError(t, p.SetBias(0))
	assert.Zero(t, p.BiasMillivolts())
}

func TestPotentiostat_EngineRecoversCellCurrent(t *testing.T) {
	eng, p, _ := newEngine(t, quietCell())
	require.NoError(t, eng.SetGain(7))

	for _, mv := range []int16{-150, -40, 0, 30, 120} {
		got, err := eng.BiasAndSample(mv, 1)
		require.NoError(t, err)

		want := p.CellMicroamps(p.BiasMillivolts())
		// The engine assumes the requested DAC output; one DAC step
		// moves the internal zero by 6.5 mV, about 18 nA at 350 kΩ.
		assert.InDelta(t, want, got, 0.025, "mv=%d", mv)
	}
}

func TestPotentiostat_OpenGainReportsNanoamps(t *testing.T) {
	eng, p, _ := newEngine(t, &config.SimConfig{LimitingMicroamps: 0.5, WidthMillivolts: 25.7})
	require.NoError(t, eng.SetGain(0))

	got, err := eng.BiasAndSample(100, 1)
	require.NoError(t, err)
	want := p.CellMicroamps(p.BiasMillivolts()) * 1000
	assert.InDelta(t, want, got, 10)
}

func TestSweep_PeakAtFormalPotential(t *testing.T) {
	tests := []struct {
		name       string
		start, end int16
		formal     float32
	}{
		{name: "forward", start: 0, end: 300, formal: 150},
		{name: "backward", start: 300, end: 0, formal: 150},
		{name: "shifted", start: 50, end: 350, formal: 230},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cell := quietCell()
			cell.FormalMillivolts = tt.formal
			eng, p, clock := newEngine(t, cell)

			err := eng.Run(context.Background(), swv.SweepParameters{
				Gain:            7,
				StartMillivolts: tt.start,
				EndMillivolts:   tt.end,
				PulseMillivolts: 25,
				StepMillivolts:  5,
				FrequencyHz:     25,
				ResetOutput:     true,
			})
			require.NoError(t, err)
			require.Equal(t, 61, eng.Buffer().Len())

			var peakV int16
			var peakI float32
			for _, s := range eng.Buffer().All() {
				if math32.Abs(s.Current) > math32.Abs(peakI) {
					peakI, peakV = s.Current, s.Voltage
				}
			}

			// The 8-bit DAC step shifts the internal zero by up to 6.5 mV.
			assert.InDelta(t, float64(tt.formal), float64(peakV), 15)
			assert.Positive(t, peakI)
			// 2 µA · (σ(25/25.7) - σ(-25/25.7))
			assert.InDelta(t, 0.903, float64(peakI), 0.05)

			assert.Equal(t, 61*2, p.Strobes())
			assert.Equal(t, uint32(61*2*19), clock.Millis())
			assert.Equal(t, swv.Idle, eng.State())
			assert.Zero(t, p.BiasMillivolts())
		})
	}
}

func TestSweep_InjectedFault(t *testing.T) {
	eng, p, _ := newEngine(t, nil)
	p.FailReadAt(7)

	err := eng.Run(context.Background(), swv.SweepParameters{
		Gain: 7, StartMillivolts: -100, EndMillivolts: 100, PulseMillivolts: 25, StepMillivolts: 10, FrequencyHz: 50,
	})
	assert.ErrorIs(t, err, errFault)
	assert.Equal(t, 3, eng.Buffer().Len())
	assert.Zero(t, p.BiasMillivolts())
}

func TestConversionTime(t *testing.T) {
	cell := quietCell()
	cell.ConversionMillis = 2
	eng, p, clock := newEngine(t, cell)
	p.UseClock(clock)

	require.NoError(t, eng.SetAveraging(4))
	_, err := eng.BiasAndSample(50, 1)
	require.NoError(t, err)
	// 1 ms strobe, then four 2 ms conversions.
	assert.Equal(t, uint32(9), clock.Millis())
}
