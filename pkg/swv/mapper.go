package swv

import (
	"github.com/chewxy/math32"
)

const (
	// minControllable is the smallest bias magnitude (mV) the ranges can produce.
	minControllable = 15
	// offThreshold is the magnitude (mV) at or below which the bias is switched off.
	offThreshold = 7.5
)

// Mapper resolves bias potentials into DAC settings.
type Mapper struct {
	ranges    BiasTable
	supply    float32 // DAC rail (mV)
	neutral   float32 // DAC output used while the bias is off (mV)
	tolerance float32
	fullScale uint16
}

// NewMapper creates a mapper from the analog part of cfg.
func NewMapper(cfg Config) *Mapper {
	return &Mapper{
		ranges:    cfg.BiasRanges,
		supply:    cfg.SupplyMillivolts,
		neutral:   cfg.NeutralMillivolts,
		tolerance: cfg.Tolerance,
		fullScale: cfg.DacFullScale,
	}
}

// Resolve finds the DAC output and bias range for the requested potential.
// Only the magnitude of mv is mapped; its sign selects the polarity elsewhere.
//
// Ranges are tried in ascending order starting at index 1 and each is tried
// once; the first range whose DAC output fits under the supply rail and lands
// within tolerance wins. A *RangeError is returned when none does.
func (m *Mapper) Resolve(mv int16) (DacSetting, error) {
	magnitude := math32.Abs(float32(mv))

	if magnitude < minControllable {
		if magnitude <= offThreshold {
			return DacSetting{Millivolts: m.neutral, Range: 0, Code: m.Code(m.neutral)}, nil
		}
		magnitude = minControllable
	}

	for i := 1; i < len(m.ranges); i++ {
		attenuation := m.ranges[i]
		if attenuation <= 0 {
			continue
		}
		dac := math32.Floor(magnitude/attenuation + 0.5)
		if dac > m.supply {
			continue
		}
		if math32.Abs(dac*attenuation-magnitude) <= m.tolerance*magnitude {
			return DacSetting{Millivolts: dac, Range: uint8(i), Code: m.Code(dac)}, nil
		}
	}

	return DacSetting{}, &RangeError{Millivolts: int(mv)}
}

// Code converts a DAC output voltage (mV) into a DAC code.
func (m *Mapper) Code(mv float32) uint16 {
	if mv <= 0 || m.supply <= 0 {
		return 0
	}
	code := mv * float32(m.fullScale) / m.supply
	if code >= float32(m.fullScale) {
		return m.fullScale
	}
	return uint16(code)
}

// Applied returns the bias potential (mV, magnitude) a setting produces.
func (m *Mapper) Applied(s DacSetting) float32 {
	if int(s.Range) >= len(m.ranges) {
		return 0
	}
	return s.Millivolts * m.ranges[s.Range]
}

// MaxMillivolts is the largest bias magnitude any range can reach.
func (m *Mapper) MaxMillivolts() float32 {
	var peak float32
	for _, attenuation := range m.ranges {
		peak = math32.Max(peak, attenuation*m.supply)
	}
	return peak
}
