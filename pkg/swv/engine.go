package swv

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"sync/atomic"

	"github.com/itohio/gopstat/pkg/voltammogram"
	"go.uber.org/multierr"
)

// State is the sequencer state of an Engine.
type State int32

const (
	Idle State = iota
	Initializing
	SamplingForward
	SamplingBackward
	Finalizing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Initializing:
		return "initializing"
	case SamplingForward:
		return "sampling forward"
	case SamplingBackward:
		return "sampling backward"
	case Finalizing:
		return "finalizing"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Config holds the device constants of an Engine.
type Config struct {
	SupplyMillivolts  float32 // DAC rail and calibration reference (mV)
	DacFullScale      uint16  // DAC code at SupplyMillivolts
	NeutralMillivolts float32 // DAC output while the bias is off (mV)
	Tolerance         float32 // Relative error accepted by the mapper
	StrobeThreshold   uint32  // Dwell (ms) above which the long strobe is used
	Calibration       Calibration
	Gains             GainTable
	BiasRanges        BiasTable
	Averaging         int // ADC reads averaged per sample
	Capacity          int // Voltammogram buffer capacity
	Debug             bool
}

// DefaultConfig returns the constants of the reference board.
func DefaultConfig() Config {
	return Config{
		SupplyMillivolts:  3300,
		DacFullScale:      255,
		NeutralMillivolts: 1500,
		Tolerance:         0.008,
		StrobeThreshold:   10,
		Calibration:       DefaultCalibration,
		Gains:             DefaultGains,
		BiasRanges:        DefaultBiasRanges,
		Averaging:         1,
		Capacity:          voltammogram.DefaultCapacity,
	}
}

func (c Config) validate() error {
	if c.SupplyMillivolts <= 0 {
		return fmt.Errorf("swv: supply must be positive, got %g mV", c.SupplyMillivolts)
	}
	if c.DacFullScale == 0 {
		return fmt.Errorf("swv: DAC full scale must be positive")
	}
	if c.Calibration.Slope == 0 {
		return fmt.Errorf("swv: calibration slope must not be zero")
	}
	if len(c.BiasRanges) < 2 {
		return fmt.Errorf("swv: bias table needs at least one range besides 0")
	}
	if c.Averaging < 1 {
		return ErrInvalidAveraging
	}
	return nil
}

// Engine runs SWV sweeps on a potentiostat. It owns the bias state,
// calibration, gain table and voltammogram buffer; nothing is shared between
// engines.
//
// An Engine runs one sweep at a time. Run and the setters return ErrBusy
// while a sweep is in progress.
type Engine struct {
	cfg    Config
	hw     Hardware
	mapper *Mapper
	buf    *voltammogram.Buffer

	mu    sync.Mutex
	state atomic.Int32

	gain          uint8
	transimp      Transimpedance
	bias          BiasConfiguration
	dacMillivolts float32
	averaging     int
	lastSample    uint32
	debug         bool
}

// New creates an engine driving hw. The engine starts on the largest gain in
// cfg.Gains. The front end itself is only programmed by Run or SetGain.
func New(cfg Config, hw Hardware) (*Engine, error) {
	if hw.FrontEnd == nil || hw.Output == nil || hw.Input == nil {
		return nil, fmt.Errorf("swv: front end, analog output and analog input are required")
	}
	if hw.Clock == nil {
		hw.Clock = NewSystemClock()
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	gain, transimp := defaultGain(cfg.Gains)
	return &Engine{
		cfg:       cfg,
		hw:        hw,
		mapper:    NewMapper(cfg),
		buf:       voltammogram.New(cfg.Capacity),
		gain:      gain,
		transimp:  transimp,
		bias:      BiasConfiguration{Polarity: Positive},
		averaging: cfg.Averaging,
		debug:     cfg.Debug,
	}, nil
}

// defaultGain picks the highest usable selector, falling back to open
// circuit when the table has no valid entry.
func defaultGain(g GainTable) (uint8, Transimpedance) {
	for sel := min(len(g), math.MaxUint8); sel > 0; sel-- {
		if t, err := g.Lookup(uint8(sel)); err == nil {
			return uint8(sel), t
		}
	}
	return 0, OpenCircuit()
}

// State returns the current sequencer state. Safe to call during a sweep.
func (e *Engine) State() State {
	return State(e.state.Load())
}

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
}

// Buffer returns the voltammogram of the last sweep. Consumers must treat it
// as read-only.
func (e *Engine) Buffer() *voltammogram.Buffer {
	return e.buf
}

// Mapper returns the voltage mapper of the engine.
func (e *Engine) Mapper() *Mapper {
	return e.mapper
}

// Validate checks p against the engine configuration without touching hardware.
// It returns the resolved gain and dwell time.
func (e *Engine) Validate(p SweepParameters) (Transimpedance, uint32, error) {
	p = p.Normalized()

	dwell, err := p.DwellMillis()
	if err != nil {
		return Transimpedance{}, 0, err
	}
	if p.StepMillivolts < 1 {
		return Transimpedance{}, 0, ErrInvalidStep
	}
	gain, err := e.cfg.Gains.Lookup(p.Gain)
	if err != nil {
		return Transimpedance{}, 0, err
	}
	if points := p.Points(); points > e.buf.Cap() {
		return Transimpedance{}, 0, fmt.Errorf("%w: %d points, capacity %d", ErrBufferOverflow, points, e.buf.Cap())
	}
	return gain, dwell, nil
}

// Run performs a sweep with p and stores the voltammogram in Buffer.
//
// Configuration errors are returned before any hardware access. Failures
// during the sweep force the outputs to zero and leave the buffer holding the
// points recorded so far. ctx is checked between steps.
func (e *Engine) Run(ctx context.Context, p SweepParameters) error {
	if !e.mu.TryLock() {
		return ErrBusy
	}
	defer e.mu.Unlock()

	p = p.Normalized()
	gain, dwell, err := e.Validate(p)
	if err != nil {
		return err
	}

	e.setState(Initializing)
	defer e.setState(Idle)

	e.buf.Reset()
	if err := e.powerUp(p.Gain, gain); err != nil {
		return e.abort(err)
	}
	e.lastSample = e.hw.Clock.Millis()

	if e.debug {
		log.Printf("swv: sweep %d..%d mV step %d pulse %d at %g Hz (dwell %d ms, gain %s)",
			p.StartMillivolts, p.EndMillivolts, p.StepMillivolts, p.PulseMillivolts, p.FrequencyHz, dwell, gain)
	}

	if p.Forward() {
		e.setState(SamplingForward)
	} else {
		e.setState(SamplingBackward)
	}
	if err := e.sweep(ctx, p, dwell); err != nil {
		return e.abort(err)
	}

	e.setState(Finalizing)
	if p.ResetOutput {
		if err := e.zeroOutputs(); err != nil {
			return err
		}
	}

	if e.debug {
		log.Printf("swv: sweep complete, %d points", e.buf.Len())
	}
	return nil
}

// sweep walks the staircase from start to end. The final step is clamped to
// end so both endpoints are sampled.
func (e *Engine) sweep(ctx context.Context, p SweepParameters, dwell uint32) error {
	start, end := int(p.StartMillivolts), int(p.EndMillivolts)
	step := int(p.StepMillivolts)
	if !p.Forward() {
		step = -step
	}
	pulse := int(p.PulseMillivolts)

	for j := start; ; {
		if err := ctx.Err(); err != nil {
			return err
		}

		forward, err := e.sampleAt(j+pulse, dwell)
		if err != nil {
			return err
		}
		backward, err := e.sampleAt(j-pulse, dwell)
		if err != nil {
			return err
		}

		err = e.buf.Append(voltammogram.Sample{
			Voltage:   int16(j),
			Current:   forward - backward,
			Timestamp: e.hw.Clock.Millis(),
		})
		if err != nil {
			return err
		}
		if e.debug {
			log.Printf("swv: EOL %d mV", j)
		}

		if j == end {
			return nil
		}
		j += step
		if (step > 0 && j > end) || (step < 0 && j < end) {
			j = end
		}
	}
}

func (e *Engine) sampleAt(mv int, dwell uint32) (float32, error) {
	if mv < math.MinInt16 || mv > math.MaxInt16 {
		return 0, &RangeError{Millivolts: mv}
	}
	return e.biasAndSample(int16(mv), dwell)
}

// abort forces the outputs to zero after a failed sweep.
func (e *Engine) abort(cause error) error {
	e.setState(Finalizing)
	if e.debug {
		log.Printf("swv: sweep aborted after %d points: %v", e.buf.Len(), cause)
	}
	return multierr.Append(cause, e.zeroOutputs())
}

// powerUp initializes the front end and zeroes the outputs.
func (e *Engine) powerUp(selector uint8, gain Transimpedance) error {
	if err := e.hw.FrontEnd.PowerUp(selector); err != nil {
		return hardwareError("power up", err)
	}
	e.gain = selector
	e.transimp = gain
	e.bias = BiasConfiguration{Range: 0, Polarity: Positive}
	if err := e.zeroOutputs(); err != nil {
		return err
	}
	if e.debug {
		log.Printf("swv: front end initialized with gain %d (%s)", selector, gain)
	}
	return nil
}

// zeroOutputs writes DAC code 0 and selects bias range 0.
func (e *Engine) zeroOutputs() error {
	var err error
	if werr := e.hw.Output.WriteCode(0); werr != nil {
		err = multierr.Append(err, hardwareError("zero DAC", werr))
	} else {
		e.dacMillivolts = 0
	}
	if berr := e.hw.FrontEnd.SetBias(0); berr != nil {
		err = multierr.Append(err, hardwareError("zero bias", berr))
	} else {
		e.bias.Range = 0
	}
	return err
}

// SetGain re-initializes the front end with a new gain selector.
func (e *Engine) SetGain(selector uint8) error {
	gain, err := e.cfg.Gains.Lookup(selector)
	if err != nil {
		return err
	}
	if !e.mu.TryLock() {
		return ErrBusy
	}
	defer e.mu.Unlock()

	return e.powerUp(selector, gain)
}

// Gain returns the active gain selector.
func (e *Engine) Gain() uint8 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gain
}

// SetBiasRange selects a bias range directly.
func (e *Engine) SetBiasRange(index uint8) error {
	if int(index) >= len(e.cfg.BiasRanges) {
		return fmt.Errorf("%w: %d", ErrInvalidRange, index)
	}
	if !e.mu.TryLock() {
		return ErrBusy
	}
	defer e.mu.Unlock()

	if err := e.hw.FrontEnd.SetBias(index); err != nil {
		return hardwareError("set bias", err)
	}
	e.bias.Range = index
	return nil
}

// Bias returns the last applied bias configuration.
func (e *Engine) Bias() BiasConfiguration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bias
}

// DacMillivolts returns the last applied DAC output (mV).
func (e *Engine) DacMillivolts() float32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dacMillivolts
}

// SetAveraging sets the number of ADC reads averaged per sample.
func (e *Engine) SetAveraging(n int) error {
	if n < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidAveraging, n)
	}
	if !e.mu.TryLock() {
		return ErrBusy
	}
	defer e.mu.Unlock()

	e.averaging = n
	return nil
}

// Averaging returns the number of ADC reads averaged per sample.
func (e *Engine) Averaging() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.averaging
}

// SetDebug toggles per-sample logging.
func (e *Engine) SetDebug(on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.debug = on
	if on {
		log.Printf("swv: debug enabled")
	}
}

// ClearBuffer discards the stored voltammogram.
func (e *Engine) ClearBuffer() error {
	if !e.mu.TryLock() {
		return ErrBusy
	}
	defer e.mu.Unlock()

	e.buf.Reset()
	return nil
}

// Shutdown zeroes the outputs and disables the front end.
func (e *Engine) Shutdown() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	err := e.zeroOutputs()
	if derr := e.hw.FrontEnd.Disable(); derr != nil {
		err = multierr.Append(err, hardwareError("disable", derr))
	}
	return err
}
