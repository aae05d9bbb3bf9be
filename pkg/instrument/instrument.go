// Package instrument exposes a potentiostat as a single sweep-oriented
// interface, whether the engine runs in process or on the firmware.
package instrument

import (
	"context"
	"errors"

	"github.com/itohio/gopstat/pkg/swv"
	"github.com/itohio/gopstat/pkg/voltammogram"
)

var (
	// ErrNotConnected is returned by operations on a closed instrument.
	ErrNotConnected = errors.New("instrument: not connected")
	// ErrAlreadyConnected is returned by a second Connect.
	ErrAlreadyConnected = errors.New("instrument: already connected")
)

// Instrument defines the interface for potentiostats (local, simulated or
// remote).
type Instrument interface {
	Connect() error
	Close() error
	// Sweep runs one SWV sweep and returns its voltammogram. On failure the
	// valid prefix is returned together with the error.
	Sweep(ctx context.Context, p swv.SweepParameters) ([]voltammogram.Record, error)
	SetAveraging(n int) error
	IsConnected() bool
}

// Ensure Local implements Instrument.
var _ Instrument = (*Local)(nil)

// Ensure Serial implements Instrument.
var _ Instrument = (*Serial)(nil)
