package hostio

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3/i2c"
)

// DefaultDACAddress is the default I2C address of the MCP4725.
const DefaultDACAddress uint16 = 0x60

const (
	dacMaxCount = 1<<12 - 1 // 12-bit D/A
	pdShift     = 4
)

var errCode = errors.New("mcp4725: code out of range")

// PowerDown is the MCP4725 power down mode. The non normal modes tie the
// output to ground through the named resistor.
type PowerDown byte

const (
	PowerDownNormal PowerDown = iota
	PowerDown1K
	PowerDown100K
	PowerDown500K
)

// DAC is an MCP4725 accepting codes on the engine scale.
//
// Codes are rescaled from 0..fullScale onto the 12-bit range and written
// with the two byte fast write command, which leaves the EEPROM untouched.
type DAC struct {
	d         i2c.Dev
	fullScale uint16
}

// NewDAC returns a DAC at addr. fullScale is the largest engine code.
func NewDAC(bus i2c.Bus, addr uint16, fullScale uint16) *DAC {
	if fullScale == 0 {
		fullScale = dacMaxCount
	}
	return &DAC{d: i2c.Dev{Bus: bus, Addr: addr}, fullScale: fullScale}
}

func (d *DAC) String() string {
	return fmt.Sprintf("MCP4725{%s}", &d.d)
}

// Count returns the 12-bit count for an engine code.
func (d *DAC) Count(code uint16) uint16 {
	fs := uint32(d.fullScale)
	return uint16((uint32(code)*dacMaxCount + fs/2) / fs)
}

// WriteCode sets the output.
func (d *DAC) WriteCode(code uint16) error {
	if code > d.fullScale {
		return fmt.Errorf("%w: %d", errCode, code)
	}
	return d.fastWrite(PowerDownNormal, d.Count(code))
}

// PowerDown zeroes the output and switches the DAC into mode.
func (d *DAC) PowerDown(mode PowerDown) error {
	return d.fastWrite(mode, 0)
}

func (d *DAC) fastWrite(mode PowerDown, count uint16) error {
	w := []byte{byte(mode)<<pdShift | byte(count>>8)&0x0F, byte(count)}
	if err := d.d.Tx(w, nil); err != nil {
		return fmt.Errorf("mcp4725: write: %w", err)
	}
	return nil
}
