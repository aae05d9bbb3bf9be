// Package sim simulates a potentiostat and an electrochemical cell so the
// SWV engine can run without hardware.
package sim

import (
	"errors"
	"fmt"
	"sync"

	"github.com/chewxy/math32"
	"github.com/itohio/gopstat/pkg/config"
	"github.com/itohio/gopstat/pkg/swv"
)

// openOhms is the feedback resistance assumed for gain selector 0.
const openOhms = 1e6

var (
	errGain  = errors.New("sim: gain selector out of range")
	errBias  = errors.New("sim: bias index out of range")
	errCode  = errors.New("sim: DAC code out of range")
	errFault = errors.New("sim: injected fault")
)

// Potentiostat simulates the front end, DAC, ADC and strobe LED of a
// potentiostat wired to a single redox couple.
type Potentiostat struct {
	mu sync.Mutex

	eng    swv.Config
	cell   config.SimConfig
	adcMax uint16
	clock  *Clock

	powered  bool
	gain     uint8
	bias     uint8
	positive bool
	code     uint16
	reads    uint64
	strobes  int
	led      bool
	failRead uint64 // 1-based ADC read that fails, 0 = never
}

// Ensure Potentiostat implements the engine hardware interfaces.
var (
	_ swv.FrontEnd     = (*Potentiostat)(nil)
	_ swv.AnalogOutput = (*Potentiostat)(nil)
	_ swv.AnalogInput  = (*Potentiostat)(nil)
	_ swv.Indicator    = (*Potentiostat)(nil)
)

// New creates a simulated potentiostat using the engine constants eng.
// A nil cell uses the default simulated cell.
func New(eng swv.Config, cell *config.SimConfig, adcFullScale uint16) *Potentiostat {
	if cell == nil {
		def := config.Default().Sim
		cell = &def
	}
	if adcFullScale == 0 {
		adcFullScale = 4095
	}
	return &Potentiostat{
		eng:      eng,
		cell:     *cell,
		adcMax:   adcFullScale,
		positive: true,
	}
}

// UseClock makes every ADC read advance c by the configured conversion time.
func (p *Potentiostat) UseClock(c *Clock) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clock = c
}

// Hardware returns p wired as engine hardware with the given clock.
func (p *Potentiostat) Hardware(clock swv.Clock) swv.Hardware {
	return swv.Hardware{
		FrontEnd:  p,
		Output:    p,
		Input:     p,
		Clock:     clock,
		Indicator: p,
	}
}

// FailReadAt makes the n-th ADC read from now fail. 0 disables the fault.
func (p *Potentiostat) FailReadAt(n uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n == 0 {
		p.failRead = 0
		return
	}
	p.failRead = p.reads + n
}

// PowerUp simulates the front end initialization sequence.
func (p *Potentiostat) PowerUp(gain uint8) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if int(gain) > len(p.eng.Gains) {
		return fmt.Errorf("%w: %d", errGain, gain)
	}
	p.powered = true
	p.gain = gain
	p.bias = 0
	p.positive = true
	return nil
}

// SetGain selects the TIA gain.
func (p *Potentiostat) SetGain(gain uint8) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if int(gain) > len(p.eng.Gains) {
		return fmt.Errorf("%w: %d", errGain, gain)
	}
	p.gain = gain
	return nil
}

// SetBias selects the bias range.
func (p *Potentiostat) SetBias(index uint8) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if int(index) >= len(p.eng.BiasRanges) {
		return fmt.Errorf("%w: %d", errBias, index)
	}
	p.bias = index
	return nil
}

// SetBiasSign selects the bias polarity.
func (p *Potentiostat) SetBiasSign(positive bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.positive = positive
	return nil
}

// Disable powers the front end down.
func (p *Potentiostat) Disable() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.powered = false
	return nil
}

// WriteCode sets the DAC output.
func (p *Potentiostat) WriteCode(code uint16) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if code > p.eng.DacFullScale {
		return fmt.Errorf("%w: %d", errCode, code)
	}
	p.code = code
	return nil
}

// Set drives the strobe LED.
func (p *Potentiostat) Set(on bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if on && !p.led {
		p.strobes++
	}
	p.led = on
	return nil
}

// Strobes returns the number of LED pulses seen.
func (p *Potentiostat) Strobes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.strobes
}

// Powered reports whether the front end is initialized and not disabled.
func (p *Potentiostat) Powered() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.powered
}

// ReadRaw samples the TIA output through the inverse of the engine
// calibration.
func (p *Potentiostat) ReadRaw() (uint16, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.reads++
	if p.failRead != 0 && p.reads >= p.failRead {
		return 0, fmt.Errorf("%w at read %d", errFault, p.reads)
	}
	if p.clock != nil && p.cell.ConversionMillis > 0 {
		p.clock.Delay(p.cell.ConversionMillis)
	}

	vout := p.outputMillivolts()
	return p.counts(vout), nil
}

// BiasMillivolts returns the potential applied to the cell.
func (p *Potentiostat) BiasMillivolts() float32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.biasMillivolts()
}

// CellMicroamps returns the noiseless cell current at e mV.
func (p *Potentiostat) CellMicroamps(e float32) float32 {
	x := (e - p.cell.FormalMillivolts) / p.cell.WidthMillivolts
	faradaic := p.cell.LimitingMicroamps / (1 + math32.Exp(-x))
	background := p.cell.BackgroundMicroamps * e / 1000
	return faradaic + background
}

func (p *Potentiostat) dacMillivolts() float32 {
	return float32(p.code) * p.eng.SupplyMillivolts / float32(p.eng.DacFullScale)
}

func (p *Potentiostat) biasMillivolts() float32 {
	if int(p.bias) >= len(p.eng.BiasRanges) {
		return 0
	}
	e := p.dacMillivolts() * p.eng.BiasRanges[p.bias]
	if !p.positive {
		e = -e
	}
	return e
}

func (p *Potentiostat) feedbackOhms() float32 {
	if p.gain == 0 || int(p.gain) > len(p.eng.Gains) {
		return openOhms
	}
	return p.eng.Gains[p.gain-1]
}

// outputMillivolts is the TIA output: the internal zero at half the DAC
// output plus the cell current across the feedback resistor.
func (p *Potentiostat) outputMillivolts() float32 {
	vzero := p.dacMillivolts() * 0.5
	if !p.powered {
		return vzero
	}
	i := p.CellMicroamps(p.biasMillivolts())
	if p.cell.NoiseMicroamps != 0 {
		i += p.cell.NoiseMicroamps * math32.Sin(float32(p.reads)*1.7)
	}
	// µA across Ω gives µV.
	vout := vzero + i*p.feedbackOhms()/1000
	return math32.Max(0, math32.Min(vout, p.eng.SupplyMillivolts))
}

// counts inverts v1 = k/(2b)·raw − a/(2b)·k.
func (p *Potentiostat) counts(voutMillivolts float32) uint16 {
	k := (p.eng.SupplyMillivolts / 1000) / float32(p.eng.DacFullScale)
	c := p.eng.Calibration
	raw := (voutMillivolts/1000)/k*2*c.Slope + c.Offset
	raw = math32.Round(raw)
	if raw < 0 {
		return 0
	}
	if raw > float32(p.adcMax) {
		return p.adcMax
	}
	return uint16(raw)
}
