package swv

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidFrequency is returned for non-positive or non-finite frequencies.
	ErrInvalidFrequency = errors.New("swv: invalid frequency")
	// ErrInvalidStep is returned for a zero step increment.
	ErrInvalidStep = errors.New("swv: step must be at least 1 mV")
	// ErrInvalidGain is returned for a gain selector outside the gain table.
	ErrInvalidGain = errors.New("swv: invalid gain selector")
	// ErrInvalidRange is returned for a bias range index outside the bias table.
	ErrInvalidRange = errors.New("swv: invalid bias range")
	// ErrInvalidAveraging is returned for an averaging count below 1.
	ErrInvalidAveraging = errors.New("swv: averaging must be at least 1")
	// ErrBufferOverflow is returned when a sweep has more points than the buffer holds.
	ErrBufferOverflow = errors.New("swv: sweep exceeds buffer capacity")
	// ErrRangeNotFound is returned when no bias range reaches the requested potential.
	ErrRangeNotFound = errors.New("swv: no bias range reaches potential")
	// ErrBusy is returned when a sweep or setting change is requested during a sweep.
	ErrBusy = errors.New("swv: sweep in progress")
)

// RangeError reports a potential the mapper could not resolve.
type RangeError struct {
	Millivolts int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%v: %d mV", ErrRangeNotFound, e.Millivolts)
}

func (e *RangeError) Unwrap() error {
	return ErrRangeNotFound
}

// HardwareError reports a failed front end, DAC or ADC transaction.
type HardwareError struct {
	Op  string
	Err error
}

func (e *HardwareError) Error() string {
	return fmt.Sprintf("swv: %s: %v", e.Op, e.Err)
}

func (e *HardwareError) Unwrap() error {
	return e.Err
}

func hardwareError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &HardwareError{Op: op, Err: err}
}
