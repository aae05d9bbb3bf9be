package swv

import "time"

// FrontEnd is the bias/gain chip of the potentiostat.
type FrontEnd interface {
	// PowerUp runs the fixed initialization sequence with the given gain:
	// FET short off, gain, load, external reference, internal zero,
	// three-lead mode, bias range 0, positive polarity.
	PowerUp(gain uint8) error
	SetGain(gain uint8) error
	SetBias(index uint8) error
	SetBiasSign(positive bool) error
	Disable() error
}

// AnalogOutput is the DAC feeding the front end reference.
type AnalogOutput interface {
	WriteCode(code uint16) error
}

// AnalogInput is the ADC sampling the front end output.
type AnalogInput interface {
	ReadRaw() (uint16, error)
}

// Indicator is an optional visible strobe emitted for each sample.
type Indicator interface {
	Set(on bool) error
}

// Clock is a monotonic millisecond clock. Millis wraps at 2^32.
type Clock interface {
	Millis() uint32
	Delay(ms uint32)
}

// Hardware bundles the collaborators an Engine drives.
type Hardware struct {
	FrontEnd  FrontEnd
	Output    AnalogOutput
	Input     AnalogInput
	Clock     Clock
	Indicator Indicator // optional
}

// SystemClock is a Clock backed by the runtime monotonic clock.
type SystemClock struct {
	start time.Time
}

// NewSystemClock returns a clock counting from now.
func NewSystemClock() *SystemClock {
	return &SystemClock{start: time.Now()}
}

// Millis returns milliseconds since the clock was created, modulo 2^32.
func (c *SystemClock) Millis() uint32 {
	return uint32(time.Since(c.start).Milliseconds())
}

// Delay blocks for ms milliseconds.
func (c *SystemClock) Delay(ms uint32) {
	time.Sleep(time.Duration(ms) * time.Millisecond)
}
