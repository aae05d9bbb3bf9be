package swv

import (
	"errors"
	"fmt"
	"sync"
)

var errBus = errors.New("bus nack")

// fakeFrontEnd records every call as a string.
type fakeFrontEnd struct {
	mu       sync.Mutex
	calls    []string
	gain     uint8
	bias     uint8
	positive bool
	failOn   string
}

func (f *fakeFrontEnd) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	if f.failOn != "" && f.failOn == call {
		return errBus
	}
	return nil
}

func (f *fakeFrontEnd) PowerUp(gain uint8) error {
	if err := f.record(fmt.Sprintf("powerup %d", gain)); err != nil {
		return err
	}
	f.gain, f.bias, f.positive = gain, 0, true
	return nil
}

func (f *fakeFrontEnd) SetGain(gain uint8) error {
	f.gain = gain
	return f.record(fmt.Sprintf("gain %d", gain))
}

func (f *fakeFrontEnd) SetBias(index uint8) error {
	if err := f.record(fmt.Sprintf("bias %d", index)); err != nil {
		return err
	}
	f.bias = index
	return nil
}

func (f *fakeFrontEnd) SetBiasSign(positive bool) error {
	f.positive = positive
	if positive {
		return f.record("sign +")
	}
	return f.record("sign -")
}

func (f *fakeFrontEnd) Disable() error {
	return f.record("disable")
}

func (f *fakeFrontEnd) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// fakeDAC records written codes.
type fakeDAC struct {
	codes []uint16
	err   error
}

func (d *fakeDAC) WriteCode(code uint16) error {
	if d.err != nil {
		return d.err
	}
	d.codes = append(d.codes, code)
	return nil
}

func (d *fakeDAC) Last() uint16 {
	if len(d.codes) == 0 {
		return 0
	}
	return d.codes[len(d.codes)-1]
}

// fakeADC returns a scripted sequence of readings, repeating the last one.
// A non-nil hook runs before every read.
type fakeADC struct {
	readings []uint16
	reads    int
	failAt   int // 1-based read that fails, 0 = never
	hook     func(read int)
}

func (a *fakeADC) ReadRaw() (uint16, error) {
	a.reads++
	if a.hook != nil {
		a.hook(a.reads)
	}
	if a.failAt > 0 && a.reads >= a.failAt {
		return 0, errBus
	}
	if len(a.readings) == 0 {
		return 2048, nil
	}
	i := min(a.reads-1, len(a.readings)-1)
	return a.readings[i], nil
}

// fakeClock only advances when asked to delay.
type fakeClock struct {
	mu  sync.Mutex
	now uint32
}

func (c *fakeClock) Millis() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Delay(ms uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += ms
}

// fakeIndicator records on/off transitions with the clock reading.
type fakeIndicator struct {
	clock *fakeClock
	edges []string
}

func (i *fakeIndicator) Set(on bool) error {
	i.edges = append(i.edges, fmt.Sprintf("%v@%d", on, i.clock.Millis()))
	return nil
}

type rig struct {
	fe    *fakeFrontEnd
	dac   *fakeDAC
	adc   *fakeADC
	clock *fakeClock
	eng   *Engine
}

func newRig(cfg Config) (*rig, error) {
	r := &rig{
		fe:    &fakeFrontEnd{},
		dac:   &fakeDAC{},
		adc:   &fakeADC{},
		clock: &fakeClock{now: 1000},
	}
	eng, err := New(cfg, Hardware{
		FrontEnd: r.fe,
		Output:   r.dac,
		Input:    r.adc,
		Clock:    r.clock,
	})
	if err != nil {
		return nil, err
	}
	r.eng = eng
	return r, nil
}
