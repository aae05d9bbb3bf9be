package instrument

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/itohio/gopstat/pkg/swv"
	"github.com/itohio/gopstat/pkg/voltammogram"
	"go.uber.org/multierr"
)

// Local runs the engine in process.
type Local struct {
	eng    *swv.Engine
	closer io.Closer // releases the hardware, may be nil

	mu        sync.RWMutex
	connected bool
}

// NewLocal wraps eng. closer, if not nil, is closed after the engine shuts
// the front end down.
func NewLocal(eng *swv.Engine, closer io.Closer) *Local {
	return &Local{eng: eng, closer: closer}
}

// Engine returns the wrapped engine.
func (l *Local) Engine() *swv.Engine {
	return l.eng
}

// Connect marks the instrument ready.
func (l *Local) Connect() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.connected {
		return ErrAlreadyConnected
	}
	l.connected = true
	return nil
}

// Close zeroes the outputs, disables the front end and releases the hardware.
func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.connected {
		return nil
	}
	l.connected = false

	err := l.eng.Shutdown()
	if l.closer != nil {
		err = multierr.Append(err, l.closer.Close())
	}
	return err
}

// Sweep runs p on the engine.
func (l *Local) Sweep(ctx context.Context, p swv.SweepParameters) ([]voltammogram.Record, error) {
	if !l.IsConnected() {
		return nil, ErrNotConnected
	}
	// Rejected sweeps leave an older voltammogram in the buffer.
	if _, _, err := l.eng.Validate(p); err != nil {
		return nil, err
	}
	err := l.eng.Run(ctx, p)
	if errors.Is(err, swv.ErrBusy) {
		return nil, err
	}
	return voltammogram.Collect(l.eng.Buffer().Records()), err
}

// SetAveraging sets the number of ADC reads per sample.
func (l *Local) SetAveraging(n int) error {
	if !l.IsConnected() {
		return ErrNotConnected
	}
	return l.eng.SetAveraging(n)
}

// IsConnected returns whether the instrument is connected.
func (l *Local) IsConnected() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.connected
}
