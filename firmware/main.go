//go:build tinygo

//go:generate tinygo flash -target=xiao

package main

import (
	"context"
	"machine"
	"time"

	"github.com/itohio/gopstat/pkg/lmp91000"
	"github.com/itohio/gopstat/pkg/protocol"
	"github.com/itohio/gopstat/pkg/swv"
)

// dac adapts DAC0 to swv.AnalogOutput.
type dac struct {
	d machine.DAC
}

func (o dac) WriteCode(code uint16) error {
	return o.d.Set(code << DAC_SHIFT)
}

// adc adapts the sampling pin to swv.AnalogInput.
type adc struct {
	a machine.ADC
}

func (i adc) ReadRaw() (uint16, error) {
	return i.a.Get() >> ADC_SHIFT, nil
}

// led adapts the strobe LED to swv.Indicator.
type led struct {
	pin machine.Pin
}

func (l led) Set(on bool) error {
	l.pin.Set(on != LED_ACTIVE_LOW)
	return nil
}

// serialReader blocks until the host sends something. bufio.Scanner gives up
// on readers that keep returning nothing.
type serialReader struct {
	s machine.Serialer
}

func (r serialReader) Read(p []byte) (int, error) {
	for r.s.Buffered() == 0 {
		time.Sleep(time.Millisecond)
	}
	n := 0
	for n < len(p) && r.s.Buffered() > 0 {
		c, err := r.s.ReadByte()
		if err != nil {
			return n, err
		}
		p[n] = c
		n++
	}
	return n, nil
}

func main() {
	serial := machine.Serial
	serial.Configure(machine.UARTConfig{BaudRate: UART_BAUD_RATE})

	i2c := machine.I2C0
	if err := i2c.Configure(machine.I2CConfig{
		Frequency: I2C_FREQUENCY,
		SDA:       PIN_I2C_SDA,
		SCL:       PIN_I2C_SCL,
	}); err != nil {
		println("i2c:", err.Error())
	}

	fe := lmp91000.New(i2c, LMP91000_ADDRESS)
	waitReady(fe)

	machine.DAC0.Configure(machine.DACConfig{})

	PIN_ADC.Configure(machine.PinConfig{Mode: machine.PinInput})
	sampler := machine.ADC{Pin: PIN_ADC}
	sampler.Configure(machine.ADCConfig{
		Reference:  ADC_REFERENCE_MV,
		Resolution: ADC_RESOLUTION,
	})

	PIN_LED.Configure(machine.PinConfig{Mode: machine.PinOutput})
	strobe := led{pin: PIN_LED}
	strobe.Set(false)

	cfg := swv.DefaultConfig()
	cfg.Capacity = BUFFER_CAPACITY
	eng, err := swv.New(cfg, swv.Hardware{
		FrontEnd:  fe,
		Output:    dac{d: machine.DAC0},
		Input:     adc{a: sampler},
		Clock:     swv.NewSystemClock(),
		Indicator: strobe,
	})
	if err != nil {
		for {
			println("engine:", err.Error())
			time.Sleep(time.Second)
		}
	}

	in := serialReader{s: serial}
	for {
		if err := protocol.Serve(context.Background(), eng, in, serial); err != nil {
			println("serve:", err.Error())
		}
	}
}

func waitReady(fe *lmp91000.Dev) {
	for range LMP91000_READY_TRY {
		if ok, err := fe.Ready(); err == nil && ok {
			return
		}
		time.Sleep(LMP91000_READY_MS * time.Millisecond)
	}
	println("lmp91000: not ready")
}
