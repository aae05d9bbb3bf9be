package swv

import (
	"fmt"
	"log"
)

const (
	longStrobeMillis  = 10
	shortStrobeMillis = 1
)

// BiasAndSample applies mv, waits until dwell ms have passed since the
// previous sample and returns the calibrated current.
func (e *Engine) BiasAndSample(mv int16, dwell uint32) (float32, error) {
	if !e.mu.TryLock() {
		return 0, ErrBusy
	}
	defer e.mu.Unlock()

	return e.biasAndSample(mv, dwell)
}

func (e *Engine) biasAndSample(mv int16, dwell uint32) (float32, error) {
	if pol := PolarityOf(mv); pol != Zero {
		if err := e.hw.FrontEnd.SetBiasSign(pol == Positive); err != nil {
			return 0, hardwareError("set polarity", err)
		}
		e.bias.Polarity = pol
	}

	setting, err := e.mapper.Resolve(mv)
	if err != nil {
		return 0, err
	}
	if err := e.apply(setting); err != nil {
		return 0, err
	}

	e.strobe(dwell)
	e.waitSinceLastSample(dwell)

	raw, err := e.readAverage()
	if err != nil {
		return 0, err
	}

	vout := e.cfg.Calibration.Millivolts(raw, e.cfg.SupplyMillivolts, e.cfg.DacFullScale)
	current := Current(vout, e.dacMillivolts, e.transimp)

	if e.debug {
		log.Printf("swv: %d\tDesired V: %d\tSet V: %.2f\tDAC: %.0f\tADC: %.1f\tVout: %.2f\tZero: %.2f\tI: %.4f",
			e.hw.Clock.Millis(), mv, e.mapper.Applied(setting), setting.Millivolts, raw, vout, e.dacMillivolts*0.5, current)
	}

	e.lastSample = e.hw.Clock.Millis()
	return current, nil
}

// apply selects the bias range, then writes the DAC code.
func (e *Engine) apply(s DacSetting) error {
	if err := e.hw.FrontEnd.SetBias(s.Range); err != nil {
		return hardwareError("set bias", err)
	}
	e.bias.Range = s.Range

	if err := e.hw.Output.WriteCode(s.Code); err != nil {
		return hardwareError("write DAC", err)
	}
	e.dacMillivolts = s.Millivolts
	return nil
}

// strobe pulses the indicator; longer dwells get a longer pulse.
func (e *Engine) strobe(dwell uint32) {
	if e.hw.Indicator == nil {
		return
	}
	width := uint32(shortStrobeMillis)
	if dwell > e.cfg.StrobeThreshold {
		width = longStrobeMillis
	}

	if err := e.hw.Indicator.Set(true); err != nil {
		if e.debug {
			log.Printf("swv: indicator: %v", err)
		}
		return
	}
	e.hw.Clock.Delay(width)
	if err := e.hw.Indicator.Set(false); err != nil && e.debug {
		log.Printf("swv: indicator: %v", err)
	}
}

// waitSinceLastSample blocks until dwell ms have elapsed since the previous
// sample. Elapsed time is computed modulo 2^32.
func (e *Engine) waitSinceLastSample(dwell uint32) {
	for {
		elapsed := e.hw.Clock.Millis() - e.lastSample
		if elapsed >= dwell {
			return
		}
		e.hw.Clock.Delay(dwell - elapsed)
	}
}

// readAverage averages the configured number of ADC reads.
func (e *Engine) readAverage() (float32, error) {
	n := max(e.averaging, 1)

	var sum float32
	for i := range n {
		raw, err := e.hw.Input.ReadRaw()
		if err != nil {
			return 0, hardwareError(fmt.Sprintf("read ADC (%d/%d)", i+1, n), err)
		}
		sum += float32(raw)
	}
	return sum / float32(n), nil
}

// Millivolts converts averaged ADC counts into the front end output voltage:
//
//	v1 = k/(2b)·raw − a/(2b)·k, k = supply/fullScale
func (c Calibration) Millivolts(raw, supplyMillivolts float32, fullScale uint16) float32 {
	k := (supplyMillivolts / 1000) / float32(fullScale)
	twoB := 2 * c.Slope
	v1 := k*(1/twoB)*raw - (c.Offset/twoB)*k
	return v1 * 1000
}

// Current converts the front end output into current. The internal zero of
// the front end sits at half of the DAC output that was just applied.
func Current(voutMillivolts, dacMillivolts float32, gain Transimpedance) float32 {
	vzero := dacMillivolts * 0.5
	return gain.Current(voutMillivolts - vzero)
}

// Convert is the pure conversion from averaged counts to current for the
// engine's calibration and analog constants.
func (e *Engine) Convert(raw, dacMillivolts float32, gain Transimpedance) float32 {
	vout := e.cfg.Calibration.Millivolts(raw, e.cfg.SupplyMillivolts, e.cfg.DacFullScale)
	return Current(vout, dacMillivolts, gain)
}
