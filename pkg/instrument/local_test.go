package instrument

import (
	"context"
	"errors"
	"testing"

	"github.com/itohio/gopstat/pkg/swv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingCloser struct {
	closed int
	err    error
}

func (c *countingCloser) Close() error {
	c.closed++
	return c.err
}

func shortSweep() swv.SweepParameters {
	return swv.SweepParameters{
		Gain:            7,
		StartMillivolts: 0,
		EndMillivolts:   20,
		PulseMillivolts: 25,
		StepMillivolts:  10,
		FrequencyHz:     25,
		ResetOutput:     true,
	}
}

func TestLocal_NotConnected(t *testing.T) {
	l, _, err := NewMock(nil)
	require.NoError(t, err)

	assert.False(t, l.IsConnected())
	_, err = l.Sweep(context.Background(), shortSweep())
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, l.SetAveraging(2), ErrNotConnected)
	assert.NoError(t, l.Close())
}

func TestLocal_ConnectTwice(t *testing.T) {
	l, _, err := NewMock(nil)
	require.NoError(t, err)

	require.NoError(t, l.Connect())
	assert.ErrorIs(t, l.Connect(), ErrAlreadyConnected)
	assert.True(t, l.IsConnected())
}

func TestLocal_Sweep(t *testing.T) {
	l, _, err := NewMock(nil)
	require.NoError(t, err)
	require.NoError(t, l.Connect())

	records, err := l.Sweep(context.Background(), shortSweep())
	require.NoError(t, err)
	require.Len(t, records, 3)
	for i, r := range records {
		assert.Equal(t, i, r.Index)
		assert.InDelta(t, float32(i)*0.01, r.Volts, 1e-6)
	}
	assert.Equal(t, uint32(0), records[0].ElapsedMillis)
	assert.Equal(t, swv.Idle, l.Engine().State())
}

func TestLocal_RejectedSweepKeepsBuffer(t *testing.T) {
	l, _, err := NewMock(nil)
	require.NoError(t, err)
	require.NoError(t, l.Connect())

	_, err = l.Sweep(context.Background(), shortSweep())
	require.NoError(t, err)

	bad := shortSweep()
	bad.FrequencyHz = 0
	records, err := l.Sweep(context.Background(), bad)
	assert.Error(t, err)
	assert.Nil(t, records)
	assert.Equal(t, 3, l.Engine().Buffer().Len())
}

func TestLocal_SweepFailureReturnsPrefix(t *testing.T) {
	l, _, err := NewMock(nil)
	require.NoError(t, err)
	require.NoError(t, l.Connect())

	p := shortSweep()
	p.StartMillivolts = 700
	p.EndMillivolts = 900
	p.PulseMillivolts = 20
	p.StepMillivolts = 50

	records, err := l.Sweep(context.Background(), p)
	var rangeErr *swv.RangeError
	assert.True(t, errors.As(err, &rangeErr), "%v", err)
	assert.Len(t, records, 2)
}

func TestLocal_SetAveraging(t *testing.T) {
	l, _, err := NewMock(nil)
	require.NoError(t, err)
	require.NoError(t, l.Connect())

	require.NoError(t, l.SetAveraging(8))
	assert.Equal(t, 8, l.Engine().Averaging())
	assert.Error(t, l.SetAveraging(0))
}

func TestLocal_Close(t *testing.T) {
	l, pot, err := NewMock(nil)
	require.NoError(t, err)
	require.NoError(t, l.Connect())

	_, err = l.Sweep(context.Background(), shortSweep())
	require.NoError(t, err)
	assert.True(t, pot.Powered())

	require.NoError(t, l.Close())
	assert.False(t, pot.Powered())
	assert.False(t, l.IsConnected())
	assert.NoError(t, l.Close())
}

func TestLocal_CloseReleasesHardware(t *testing.T) {
	mock, _, err := NewMock(nil)
	require.NoError(t, err)

	closer := &countingCloser{err: errors.New("bus busy")}
	l := NewLocal(mock.Engine(), closer)
	require.NoError(t, l.Connect())

	err = l.Close()
	assert.EqualError(t, err, "bus busy")
	assert.Equal(t, 1, closer.closed)

	require.NoError(t, l.Close())
	assert.Equal(t, 1, closer.closed)
}
