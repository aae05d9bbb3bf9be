package hostio

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
)

var errPin = errors.New("hostio: unknown pin")

// LED is a GPIO driven strobe indicator.
type LED struct {
	pin gpio.PinOut
}

// NewLED drives pin.
func NewLED(pin gpio.PinOut) *LED {
	return &LED{pin: pin}
}

// Set turns the LED on or off.
func (l *LED) Set(on bool) error {
	return l.pin.Out(gpio.Level(on))
}

// outputPin looks up a pin by name and drives it low.
func outputPin(name string) (gpio.PinIO, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("%w: %s", errPin, name)
	}
	if err := p.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("hostio: %s: %w", name, err)
	}
	return p, nil
}
