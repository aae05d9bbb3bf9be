package hostio

import (
	"fmt"

	"github.com/chewxy/math32"
	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/physic"
)

// Sampler is an analog input returning calibrated potentials, such as an
// ads1x15 pin.
type Sampler interface {
	Read() (analog.Sample, error)
}

// ADC turns sampled potentials back into raw counts on the engine scale so
// the engine calibration applies unchanged.
type ADC struct {
	pin       Sampler
	supply    physic.ElectricPotential
	fullScale uint16
}

// NewADC wraps pin. Potentials between 0 and supplyMillivolts map onto
// 0..fullScale counts.
func NewADC(pin Sampler, supplyMillivolts float32, fullScale uint16) *ADC {
	return &ADC{
		pin:       pin,
		supply:    physic.ElectricPotential(supplyMillivolts * float32(physic.MilliVolt)),
		fullScale: fullScale,
	}
}

// ReadRaw samples the input once.
func (a *ADC) ReadRaw() (uint16, error) {
	s, err := a.pin.Read()
	if err != nil {
		return 0, fmt.Errorf("adc: read: %w", err)
	}
	if s.V <= 0 {
		return 0, nil
	}
	if s.V >= a.supply {
		return a.fullScale, nil
	}
	counts := math32.Round(float32(s.V) / float32(a.supply) * float32(a.fullScale))
	return uint16(counts), nil
}
