// Package lmp91000 drives the TI LMP91000 configurable sensor AFE over I2C.
//
// The driver shadows the TIACN, REFCN and MODECN registers so every setter
// is a single register write.
package lmp91000

import (
	"errors"
	"fmt"
)

// DefaultAddress is the fixed I2C address of the LMP91000.
const DefaultAddress uint16 = 0x48

const (
	regStatus = 0x00
	regLock   = 0x01
	regTIACN  = 0x10
	regREFCN  = 0x11
	regMODECN = 0x12

	statusReady = 0x01
	lockWrite   = 0x00 // TIACN and REFCN writable
	lockRead    = 0x01

	tiaGainMask  = 0x1C
	tiaGainShift = 2
	rloadMask    = 0x03

	refSourceExt  = 0x80
	intZMask      = 0x60
	intZShift     = 5
	biasSignPos   = 0x10
	biasMask      = 0x0F
	fetShort      = 0x80
	opModeMask    = 0x07
	opModeSleep   = 0x00
	opModeStandby = 0x02
	opModeThree   = 0x03
)

// Register values after a power-on reset.
const (
	resetTIACN  = 0x03
	resetREFCN  = 0x20
	resetMODECN = 0x00
)

// MaxGain is the largest TIA gain selector. 0 is the external resistor.
const MaxGain = 7

// MaxBias is the largest internal bias selector (24 % of the reference).
const MaxBias = 13

// Load is the RLoad selector.
type Load uint8

const (
	Load10 Load = iota
	Load33
	Load50
	Load100
)

// InternalZero is the internal zero selector as a fraction of the reference.
type InternalZero uint8

const (
	Zero20 InternalZero = iota
	Zero50
	Zero67
	ZeroBypass
)

var (
	errGain = errors.New("lmp91000: gain selector out of range")
	errBias = errors.New("lmp91000: bias selector out of range")
)

// Bus is the I2C transaction used by the driver. periph.io i2c.Bus and
// TinyGo machine.I2C both satisfy it.
type Bus interface {
	Tx(addr uint16, w, r []byte) error
}

// Dev is an LMP91000 on an I2C bus.
type Dev struct {
	bus  Bus
	addr uint16

	tiacn    byte
	refcn    byte
	modecn   byte
	unlocked bool
}

// New returns a driver for the chip at addr. A zero addr selects
// DefaultAddress. The shadow registers start at the reset values.
func New(bus Bus, addr uint16) *Dev {
	if addr == 0 {
		addr = DefaultAddress
	}
	return &Dev{
		bus:    bus,
		addr:   addr,
		tiacn:  resetTIACN,
		refcn:  resetREFCN,
		modecn: resetMODECN,
	}
}

func (d *Dev) String() string {
	return fmt.Sprintf("LMP91000{%#x}", d.addr)
}

// Ready reports whether the chip accepts configuration.
func (d *Dev) Ready() (bool, error) {
	v, err := d.read(regStatus)
	if err != nil {
		return false, err
	}
	return v&statusReady != 0, nil
}

// Sync reloads the shadow registers from the chip.
func (d *Dev) Sync() error {
	var err error
	if d.tiacn, err = d.read(regTIACN); err != nil {
		return err
	}
	if d.refcn, err = d.read(regREFCN); err != nil {
		return err
	}
	if d.modecn, err = d.read(regMODECN); err != nil {
		return err
	}
	lock, err := d.read(regLock)
	if err != nil {
		return err
	}
	d.unlocked = lock&lockRead == 0
	return nil
}

// PowerUp runs the initialization sequence: FET short off, gain, lowest load,
// external reference, 50 % internal zero, three-lead mode, bias 0 and
// positive polarity.
func (d *Dev) PowerUp(gain uint8) error {
	steps := []func() error{
		func() error { return d.SetFETShort(false) },
		func() error { return d.SetGain(gain) },
		func() error { return d.SetLoad(Load10) },
		func() error { return d.SetExternalReference(true) },
		func() error { return d.SetInternalZero(Zero50) },
		d.SetThreeLead,
		func() error { return d.SetBias(0) },
		func() error { return d.SetBiasSign(true) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

// SetGain selects the TIA feedback resistor.
func (d *Dev) SetGain(gain uint8) error {
	if gain > MaxGain {
		return fmt.Errorf("%w: %d", errGain, gain)
	}
	return d.writeTIACN(d.tiacn&^tiaGainMask | gain<<tiaGainShift)
}

// SetLoad selects the load resistor.
func (d *Dev) SetLoad(l Load) error {
	return d.writeTIACN(d.tiacn&^rloadMask | byte(l)&rloadMask)
}

// SetExternalReference selects the reference source.
func (d *Dev) SetExternalReference(external bool) error {
	v := d.refcn &^ refSourceExt
	if external {
		v |= refSourceExt
	}
	return d.writeREFCN(v)
}

// SetInternalZero selects the internal zero.
func (d *Dev) SetInternalZero(z InternalZero) error {
	return d.writeREFCN(d.refcn&^intZMask | byte(z)<<intZShift&intZMask)
}

// SetBias selects the internal bias as a fraction of the reference.
// 0 disables the bias.
func (d *Dev) SetBias(index uint8) error {
	if index > MaxBias {
		return fmt.Errorf("%w: %d", errBias, index)
	}
	return d.writeREFCN(d.refcn&^biasMask | index)
}

// SetBiasSign selects the bias polarity.
func (d *Dev) SetBiasSign(positive bool) error {
	v := d.refcn &^ biasSignPos
	if positive {
		v |= biasSignPos
	}
	return d.writeREFCN(v)
}

// SetFETShort enables or disables the shorting FET.
func (d *Dev) SetFETShort(on bool) error {
	v := d.modecn &^ fetShort
	if on {
		v |= fetShort
	}
	return d.write(regMODECN, v, &d.modecn)
}

// SetThreeLead selects three-lead amperometric cell mode.
func (d *Dev) SetThreeLead() error {
	return d.setMode(opModeThree)
}

// Standby keeps the reference running with the TIA off.
func (d *Dev) Standby() error {
	return d.setMode(opModeStandby)
}

// Disable puts the chip in deep sleep.
func (d *Dev) Disable() error {
	return d.setMode(opModeSleep)
}

// Registers returns the shadow TIACN, REFCN and MODECN values.
func (d *Dev) Registers() (tiacn, refcn, modecn byte) {
	return d.tiacn, d.refcn, d.modecn
}

func (d *Dev) setMode(mode byte) error {
	return d.write(regMODECN, d.modecn&^opModeMask|mode, &d.modecn)
}

func (d *Dev) writeTIACN(v byte) error {
	if err := d.unlock(); err != nil {
		return err
	}
	return d.write(regTIACN, v, &d.tiacn)
}

func (d *Dev) writeREFCN(v byte) error {
	if err := d.unlock(); err != nil {
		return err
	}
	return d.write(regREFCN, v, &d.refcn)
}

func (d *Dev) unlock() error {
	if d.unlocked {
		return nil
	}
	if err := d.bus.Tx(d.addr, []byte{regLock, lockWrite}, nil); err != nil {
		return fmt.Errorf("lmp91000: write LOCK: %w", err)
	}
	d.unlocked = true
	return nil
}

// write stores v into reg and updates the shadow on success.
func (d *Dev) write(reg, v byte, shadow *byte) error {
	if err := d.bus.Tx(d.addr, []byte{reg, v}, nil); err != nil {
		return fmt.Errorf("lmp91000: write %s: %w", regName(reg), err)
	}
	*shadow = v
	return nil
}

func (d *Dev) read(reg byte) (byte, error) {
	var r [1]byte
	if err := d.bus.Tx(d.addr, []byte{reg}, r[:]); err != nil {
		return 0, fmt.Errorf("lmp91000: read %s: %w", regName(reg), err)
	}
	return r[0], nil
}

func regName(reg byte) string {
	switch reg {
	case regStatus:
		return "STATUS"
	case regLock:
		return "LOCK"
	case regTIACN:
		return "TIACN"
	case regREFCN:
		return "REFCN"
	case regMODECN:
		return "MODECN"
	default:
		return fmt.Sprintf("reg %#02x", reg)
	}
}
