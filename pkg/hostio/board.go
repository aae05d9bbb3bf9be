// Package hostio wires potentiostat hardware attached to a Linux host
// (Raspberry Pi and similar) through periph: the LMP91000 front end, an
// MCP4725 DAC and an ADS1115 ADC sharing one I2C bus, plus optional GPIO
// pins for the strobe LED and the front end enable.
package hostio

import (
	"fmt"
	"log"

	"github.com/itohio/gopstat/pkg/config"
	"github.com/itohio/gopstat/pkg/lmp91000"
	"github.com/itohio/gopstat/pkg/swv"
	"go.uber.org/multierr"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/ads1x15"
	"periph.io/x/host/v3"
)

// ADCRate is the ADS1115 data rate used for single shot reads.
const ADCRate = 860 * physic.Hertz

var adcChannels = []ads1x15.Channel{
	ads1x15.Channel0,
	ads1x15.Channel1,
	ads1x15.Channel2,
	ads1x15.Channel3,
}

// Board is the set of devices behind one potentiostat.
type Board struct {
	bus    i2c.BusCloser
	fe     *lmp91000.Dev
	dac    *DAC
	adc    *ADC
	led    *LED       // nil without a strobe pin
	enable gpio.PinIO // nil without an enable pin
}

// Open initializes periph and the devices described by cfg.
func Open(cfg *config.Config) (*Board, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("hostio: periph init: %w", err)
	}

	hc := cfg.Host
	if hc.ADCChannel < 0 || hc.ADCChannel >= len(adcChannels) {
		return nil, fmt.Errorf("hostio: invalid ADC channel %d", hc.ADCChannel)
	}

	bus, err := i2creg.Open(hc.I2CBus)
	if err != nil {
		return nil, fmt.Errorf("hostio: open I2C bus %q: %w", hc.I2CBus, err)
	}
	b := &Board{bus: bus}

	if hc.EnablePin != "" {
		if b.enable, err = outputPin(hc.EnablePin); err != nil {
			return nil, b.fail(err)
		}
		// MENB is active low.
		log.Printf("Enabling front end on %s", hc.EnablePin)
	}

	b.fe = lmp91000.New(bus, hc.FrontEndAddress)
	ready, err := b.fe.Ready()
	if err != nil {
		return nil, b.fail(err)
	}
	if !ready {
		return nil, b.fail(fmt.Errorf("hostio: %s not ready", b.fe))
	}

	b.dac = NewDAC(bus, hc.DACAddress, cfg.Analog.DacFullScale)

	ads, err := ads1x15.NewADS1115(bus, &ads1x15.Opts{I2cAddress: hc.ADCAddress})
	if err != nil {
		return nil, b.fail(fmt.Errorf("hostio: ads1115: %w", err))
	}
	supply := physic.ElectricPotential(cfg.Analog.SupplyMillivolts * float32(physic.MilliVolt))
	pin, err := ads.PinForChannel(adcChannels[hc.ADCChannel], supply, ADCRate, ads1x15.BestQuality)
	if err != nil {
		return nil, b.fail(fmt.Errorf("hostio: ads1115 channel %d: %w", hc.ADCChannel, err))
	}
	b.adc = NewADC(pin, cfg.Analog.SupplyMillivolts, cfg.Analog.AdcFullScale)

	if hc.StrobePin != "" {
		p, err := outputPin(hc.StrobePin)
		if err != nil {
			return nil, b.fail(err)
		}
		b.led = NewLED(p)
	}

	return b, nil
}

// Hardware returns the engine collaborators backed by the board.
func (b *Board) Hardware(clock swv.Clock) swv.Hardware {
	hw := swv.Hardware{
		FrontEnd: b.fe,
		Output:   b.dac,
		Input:    b.adc,
		Clock:    clock,
	}
	if b.led != nil {
		hw.Indicator = b.led
	}
	return hw
}

// FrontEnd returns the LMP91000 driver.
func (b *Board) FrontEnd() *lmp91000.Dev {
	return b.fe
}

// Close powers the DAC down, disables the front end and releases the bus.
func (b *Board) Close() error {
	var err error
	if b.dac != nil {
		err = multierr.Append(err, b.dac.PowerDown(PowerDown500K))
	}
	if b.led != nil {
		err = multierr.Append(err, b.led.Set(false))
	}
	if b.enable != nil {
		err = multierr.Append(err, b.enable.Out(gpio.High))
	}
	return multierr.Append(err, b.bus.Close())
}

// fail releases what Open acquired so far.
func (b *Board) fail(cause error) error {
	return multierr.Append(cause, b.Close())
}
