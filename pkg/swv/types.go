// Package swv drives a potentiostat front end through square-wave voltammetry
// sweeps: it maps requested bias potentials onto DAC codes and attenuation
// ranges, samples the transimpedance output, converts it to current and
// stores the differential voltammogram.
package swv

import (
	"fmt"
	"math"
)

// Polarity is the sign of the bias applied by the front end.
type Polarity int8

const (
	Negative Polarity = -1
	Zero     Polarity = 0
	Positive Polarity = 1
)

// PolarityOf returns the polarity needed to apply mv.
func PolarityOf(mv int16) Polarity {
	switch {
	case mv < 0:
		return Negative
	case mv > 0:
		return Positive
	default:
		return Zero
	}
}

func (p Polarity) String() string {
	switch p {
	case Negative:
		return "negative"
	case Positive:
		return "positive"
	default:
		return "zero"
	}
}

// BiasConfiguration is the bias range and polarity last applied to the front end.
type BiasConfiguration struct {
	Range    uint8
	Polarity Polarity
}

// DacSetting is a resolved DAC output and attenuation range approximating a
// requested bias potential.
type DacSetting struct {
	Millivolts float32 // DAC output voltage (mV)
	Range      uint8   // Index into the bias table, 0 = bias off
	Code       uint16  // DAC code for Millivolts
}

// Off reports whether the setting disables the bias.
func (s DacSetting) Off() bool {
	return s.Range == 0
}

// Calibration is the two-point linear model mapping averaged ADC counts onto
// the front end output voltage.
type Calibration struct {
	Offset float32 `yaml:"offset"` // a
	Slope  float32 `yaml:"slope"`  // b
}

// DefaultCalibration holds the factory coefficients of the reference board.
var DefaultCalibration = Calibration{Offset: -146.63, Slope: 7.64}

// Transimpedance is the feedback configuration of the TIA stage: either the
// open (external, no internal resistor) configuration or an internal resistor.
type Transimpedance struct {
	open bool
	ohms float32
}

// OpenCircuit is the gain selector 0 configuration.
func OpenCircuit() Transimpedance {
	return Transimpedance{open: true}
}

// Resistor is a configuration using an internal feedback resistor.
func Resistor(ohms float32) Transimpedance {
	return Transimpedance{ohms: ohms}
}

// Open reports whether t is the open configuration.
func (t Transimpedance) Open() bool {
	return t.open
}

// Ohms returns the feedback resistance, 0 for the open configuration.
func (t Transimpedance) Ohms() float32 {
	return t.ohms
}

// Current converts the TIA output minus the internal zero (mV) into current.
// The open configuration assumes 1 MΩ and reports nA; resistors report µA.
func (t Transimpedance) Current(deltaMillivolts float32) float32 {
	volts := deltaMillivolts / 1000
	if t.open {
		return (volts / 1e6) * 1e9
	}
	return (volts / t.ohms) * 1e6
}

func (t Transimpedance) String() string {
	if t.open {
		return "open"
	}
	return fmt.Sprintf("%gΩ", t.ohms)
}

// GainTable lists the internal feedback resistors for selectors 1..len.
// Selector 0 is the open configuration and has no table entry.
type GainTable []float32

// DefaultGains are the LMP91000 TIA feedback resistors.
var DefaultGains = GainTable{2750, 3500, 7000, 14000, 35000, 120000, 350000}

// Lookup resolves a gain selector.
func (g GainTable) Lookup(selector uint8) (Transimpedance, error) {
	if selector == 0 {
		return OpenCircuit(), nil
	}
	if int(selector) > len(g) {
		return Transimpedance{}, fmt.Errorf("%w: selector %d, table has %d entries", ErrInvalidGain, selector, len(g))
	}
	ohms := g[selector-1]
	if ohms <= 0 {
		return Transimpedance{}, fmt.Errorf("%w: selector %d has no resistance", ErrInvalidGain, selector)
	}
	return Resistor(ohms), nil
}

// BiasTable lists the attenuation between DAC output and applied bias for
// each range index. Index 0 is bias off.
type BiasTable []float32

// DefaultBiasRanges are the LMP91000 internal bias steps as a fraction of the reference.
var DefaultBiasRanges = BiasTable{0, 0.01, 0.02, 0.04, 0.06, 0.08, 0.10, 0.12, 0.14, 0.16, 0.18, 0.20, 0.22, 0.24}

// SweepParameters describe a single SWV sweep.
type SweepParameters struct {
	Gain            uint8
	StartMillivolts int16
	EndMillivolts   int16
	PulseMillivolts int16 // Square wave amplitude
	StepMillivolts  int16 // Staircase increment
	FrequencyHz     float64
	ResetOutput     bool // Zero the DAC and bias after the sweep
}

// Normalized returns p with step and pulse amplitude as magnitudes.
func (p SweepParameters) Normalized() SweepParameters {
	p.StepMillivolts = abs16(p.StepMillivolts)
	p.PulseMillivolts = abs16(p.PulseMillivolts)
	return p
}

// Forward reports whether the sweep ascends.
func (p SweepParameters) Forward() bool {
	return p.StartMillivolts < p.EndMillivolts
}

// Points returns the number of steps of the sweep, both endpoints included.
// It returns 0 when the step is zero.
func (p SweepParameters) Points() int {
	step := int(abs16(p.StepMillivolts))
	if step == 0 {
		return 0
	}
	span := int(p.EndMillivolts) - int(p.StartMillivolts)
	if span < 0 {
		span = -span
	}
	return (span+step-1)/step + 1
}

// DwellMillis returns the half period wait between samples:
// round(1000 / 2f) - 1, at least 1 ms.
func (p SweepParameters) DwellMillis() (uint32, error) {
	f := p.FrequencyHz
	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return 0, fmt.Errorf("%w: %g Hz", ErrInvalidFrequency, f)
	}
	d := math.Round(1000/(2*f)) - 1
	if d > math.MaxUint32 {
		return 0, fmt.Errorf("%w: %g Hz is too slow", ErrInvalidFrequency, f)
	}
	if d < 1 {
		d = 1
	}
	return uint32(d), nil
}

func abs16(v int16) int16 {
	if v < 0 {
		if v == math.MinInt16 {
			return math.MaxInt16
		}
		return -v
	}
	return v
}
