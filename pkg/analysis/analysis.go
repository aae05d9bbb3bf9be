// Package analysis extracts the peak of a voltammogram and turns it into a
// concentration through a linear calibration line.
package analysis

import (
	"errors"
	"sync"

	"github.com/itohio/gopstat/pkg/voltammogram"
)

// ErrEmpty is returned when a voltammogram has no records.
var ErrEmpty = errors.New("analysis: empty voltammogram")

// Line is a calibration line: current (µA) = Slope * concentration + Intercept.
type Line struct {
	Slope     float64
	Intercept float64
}

// Concentration inverts the line for a peak current in µA.
func (l Line) Concentration(microamps float64) float64 {
	if l.Slope == 0 {
		return 0
	}
	return (microamps - l.Intercept) / l.Slope
}

// Result is the analysis of one voltammogram.
type Result struct {
	Peak          voltammogram.Record
	PeakMicroamps float64
	Concentration float64
}

// Peak returns the record with the largest current. Ties keep the first.
func Peak(records []voltammogram.Record) (voltammogram.Record, bool) {
	if len(records) == 0 {
		return voltammogram.Record{}, false
	}
	peak := records[0]
	for _, r := range records[1:] {
		if r.Current > peak.Current {
			peak = r
		}
	}
	return peak, true
}

// Microamps returns a record current in µA. The open gain configuration
// reports nA.
func Microamps(current float32, gain uint8) float64 {
	if gain == 0 {
		return float64(current) / 1000
	}
	return float64(current)
}

// Analyze finds the peak of records taken with gain and applies line.
func Analyze(records []voltammogram.Record, gain uint8, line Line) (Result, error) {
	peak, ok := Peak(records)
	if !ok {
		return Result{}, ErrEmpty
	}
	ua := Microamps(peak.Current, gain)
	return Result{
		Peak:          peak,
		PeakMicroamps: ua,
		Concentration: line.Concentration(ua),
	}, nil
}

// Tracker keeps the results of successive sweeps.
type Tracker struct {
	line Line

	mu      sync.RWMutex
	history []Result

	cbMu      sync.RWMutex
	callbacks []func(latest Result, history []Result)
}

// NewTracker creates a tracker applying line.
func NewTracker(line Line) *Tracker {
	return &Tracker{line: line}
}

// Add analyzes a voltammogram, appends it to the history and notifies the
// registered callbacks.
func (t *Tracker) Add(records []voltammogram.Record, gain uint8) (Result, error) {
	res, err := Analyze(records, gain, t.line)
	if err != nil {
		return Result{}, err
	}

	t.mu.Lock()
	t.history = append(t.history, res)
	history := make([]Result, len(t.history))
	copy(history, t.history)
	t.mu.Unlock()

	t.cbMu.RLock()
	callbacks := make([]func(Result, []Result), len(t.callbacks))
	copy(callbacks, t.callbacks)
	t.cbMu.RUnlock()

	for _, cb := range callbacks {
		cb(res, history)
	}
	return res, nil
}

// History returns a copy of all results, oldest first.
func (t *Tracker) History() []Result {
	t.mu.RLock()
	defer t.mu.RUnlock()

	history := make([]Result, len(t.history))
	copy(history, t.history)
	return history
}

// OnUpdate registers a callback invoked after every Add.
func (t *Tracker) OnUpdate(cb func(latest Result, history []Result)) {
	t.cbMu.Lock()
	defer t.cbMu.Unlock()
	t.callbacks = append(t.callbacks, cb)
}
