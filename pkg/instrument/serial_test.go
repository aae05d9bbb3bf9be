package instrument

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/itohio/gopstat/pkg/config"
	"github.com/itohio/gopstat/pkg/protocol"
	"github.com/itohio/gopstat/pkg/sim"
	"github.com/itohio/gopstat/pkg/swv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// firmware answers on one end of a pipe the way the device does. Sweeps are
// instant.
func firmware(t *testing.T) (*swv.Engine, Opener) {
	t.Helper()
	return firmwareWith(t, sim.NewClock(0))
}

// firmwareWith runs the device engine on clock.
func firmwareWith(t *testing.T, clock swv.Clock) (*swv.Engine, Opener) {
	t.Helper()
	cfg := swv.DefaultConfig()
	pot := sim.New(cfg, nil, 4095)
	eng, err := swv.New(cfg, pot.Hardware(clock))
	require.NoError(t, err)

	open := func(port string, baudRate int) (io.ReadWriteCloser, error) {
		host, dev := net.Pipe()
		go func() {
			defer dev.Close()
			_ = protocol.Serve(context.Background(), eng, dev, dev)
		}()
		return host, nil
	}
	return eng, open
}

func connected(t *testing.T) (*Serial, *swv.Engine) {
	t.Helper()
	eng, open := firmware(t)
	s := NewSerialWith(config.SerialConfig{Port: "sim", Timeout: 2 * time.Second}, open)
	require.NoError(t, s.Connect())
	t.Cleanup(func() { s.Close() })
	return s, eng
}

func TestNewSerial_Defaults(t *testing.T) {
	s := NewSerial(config.SerialConfig{Port: "/dev/ttyACM0"})
	assert.Equal(t, DefaultBaudRate, s.baudRate)
	assert.Equal(t, 10*time.Second, s.timeout)
	assert.False(t, s.IsConnected())
}

func TestSerial_NotConnected(t *testing.T) {
	_, open := firmware(t)
	s := NewSerialWith(config.SerialConfig{Port: "sim"}, open)

	_, err := s.Sweep(context.Background(), shortSweep())
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, s.SetAveraging(2), ErrNotConnected)
	assert.NoError(t, s.Close())
}

func TestSerial_Connect(t *testing.T) {
	s, _ := connected(t)
	assert.True(t, s.IsConnected())
	assert.ErrorIs(t, s.Connect(), ErrAlreadyConnected)

	require.NoError(t, s.Close())
	assert.False(t, s.IsConnected())
}

func TestSerial_Sweep(t *testing.T) {
	s, eng := connected(t)

	records, err := s.Sweep(context.Background(), shortSweep())
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, 3, eng.Buffer().Len())
	for i, r := range records {
		assert.Equal(t, i, r.Index)
		assert.InDelta(t, float32(i)*0.01, r.Volts, 1e-6)
	}
	assert.Equal(t, uint32(38), records[1].ElapsedMillis)

	dumped, err := s.Dump(context.Background())
	require.NoError(t, err)
	assert.Equal(t, records, dumped)
}

func TestSerial_SweepRejected(t *testing.T) {
	s, _ := connected(t)

	p := shortSweep()
	p.FrequencyHz = 0
	records, err := s.Sweep(context.Background(), p)

	var devErr *DeviceError
	require.True(t, errors.As(err, &devErr), "%v", err)
	assert.Contains(t, devErr.Text, "invalid frequency")
	assert.Empty(t, records)
}

func TestSerial_SweepFailureReturnsPrefix(t *testing.T) {
	s, _ := connected(t)

	p := shortSweep()
	p.StartMillivolts = 700
	p.EndMillivolts = 900
	p.PulseMillivolts = 20
	p.StepMillivolts = 50

	records, err := s.Sweep(context.Background(), p)
	var devErr *DeviceError
	require.True(t, errors.As(err, &devErr), "%v", err)
	assert.Equal(t, "swv: no bias range reaches potential: 820 mV", devErr.Text)
	assert.Len(t, records, 2)
}

func TestSerial_Settings(t *testing.T) {
	s, eng := connected(t)

	require.NoError(t, s.SetAveraging(4))
	assert.Equal(t, 4, eng.Averaging())
	require.NoError(t, s.SetGain(3))
	assert.Equal(t, uint8(3), eng.Gain())
	require.NoError(t, s.SetDebug(false))

	var devErr *DeviceError
	assert.True(t, errors.As(s.SetAveraging(0), &devErr))
	assert.True(t, errors.As(s.SetGain(9), &devErr))
}

func TestSerial_OpenRetries(t *testing.T) {
	_, open := firmware(t)
	attempts := 0
	flaky := func(port string, baudRate int) (io.ReadWriteCloser, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("no such device")
		}
		return open(port, baudRate)
	}

	s := NewSerialWith(config.SerialConfig{Port: "sim", Timeout: time.Second, OpenWait: 5 * time.Second}, flaky)
	require.NoError(t, s.Connect())
	defer s.Close()
	assert.Equal(t, 3, attempts)
}

func TestSerial_OpenFailsOnceWithoutWait(t *testing.T) {
	attempts := 0
	broken := func(port string, baudRate int) (io.ReadWriteCloser, error) {
		attempts++
		return nil, errors.New("no such device")
	}

	s := NewSerialWith(config.SerialConfig{Port: "sim", Timeout: time.Second}, broken)
	err := s.Connect()
	assert.ErrorContains(t, err, "no such device")
	assert.Equal(t, 1, attempts)
	assert.False(t, s.IsConnected())
}

func TestSerial_SilentDevice(t *testing.T) {
	silent := func(port string, baudRate int) (io.ReadWriteCloser, error) {
		host, dev := net.Pipe()
		go func() {
			defer dev.Close()
			_, _ = io.Copy(io.Discard, dev)
		}()
		return host, nil
	}

	s := NewSerialWith(config.SerialConfig{Port: "sim", Timeout: 50 * time.Millisecond}, silent)
	err := s.Connect()
	assert.ErrorIs(t, err, ErrTimeout)
	assert.False(t, s.IsConnected())
}

func TestSerial_SkipsNoise(t *testing.T) {
	chatty := func(port string, baudRate int) (io.ReadWriteCloser, error) {
		host, dev := net.Pipe()
		go func() {
			defer dev.Close()
			buf := make([]byte, 64)
			if _, err := dev.Read(buf); err != nil {
				return
			}
			_, _ = io.WriteString(dev, "debug: raw=2048\nOK pong\n")
			_, _ = io.Copy(io.Discard, dev)
		}()
		return host, nil
	}

	s := NewSerialWith(config.SerialConfig{Port: "sim", Timeout: time.Second}, chatty)
	require.NoError(t, s.Connect())
	assert.NoError(t, s.Close())
}

func TestSerial_SweepCancelled(t *testing.T) {
	s, _ := connected(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Sweep(ctx, shortSweep())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSweepDuration(t *testing.T) {
	p := shortSweep()
	p.EndMillivolts = 70
	p.FrequencyHz = 10
	assert.Equal(t, 784*time.Millisecond, SweepDuration(p))

	def := config.Default().SweepParameters()
	assert.Equal(t, 81*2*19*time.Millisecond, SweepDuration(def))

	p.FrequencyHz = 0
	assert.Zero(t, SweepDuration(p))
}

func TestSerial_SweepLongerThanTimeout(t *testing.T) {
	_, open := firmwareWith(t, swv.NewSystemClock())
	s := NewSerialWith(config.SerialConfig{Port: "sim", Timeout: 250 * time.Millisecond}, open)
	require.NoError(t, s.Connect())
	defer s.Close()

	// About 800 ms without a line from the device.
	p := shortSweep()
	p.EndMillivolts = 70
	p.FrequencyHz = 10

	records, err := s.Sweep(context.Background(), p)
	require.NoError(t, err)
	assert.Len(t, records, 8)
}

func TestSerial_ResyncAfterAbandonedSweep(t *testing.T) {
	_, open := firmwareWith(t, swv.NewSystemClock())
	s := NewSerialWith(config.SerialConfig{Port: "sim", Timeout: 250 * time.Millisecond}, open)
	require.NoError(t, s.Connect())
	defer s.Close()

	slow := shortSweep()
	slow.EndMillivolts = 40
	slow.FrequencyHz = 10

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := s.Sweep(ctx, slow)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The device finishes the abandoned sweep first; its records must not
	// leak into the next result.
	next := shortSweep()
	next.StartMillivolts = 100
	next.EndMillivolts = 110
	records, err := s.Sweep(context.Background(), next)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.InDelta(t, 0.1, records[0].Volts, 1e-6)
	assert.InDelta(t, 0.11, records[1].Volts, 1e-6)

	require.NoError(t, s.SetAveraging(2))
}

func TestSerial_OutOfSync(t *testing.T) {
	// Answers PING, then never finishes anything.
	stuck := func(port string, baudRate int) (io.ReadWriteCloser, error) {
		host, dev := net.Pipe()
		go func() {
			defer dev.Close()
			scanner := bufio.NewScanner(dev)
			for scanner.Scan() {
				if scanner.Text() == "PING" {
					if _, err := io.WriteString(dev, "OK pong\n"); err != nil {
						return
					}
				}
			}
		}()
		return host, nil
	}

	s := NewSerialWith(config.SerialConfig{Port: "sim", Timeout: 50 * time.Millisecond}, stuck)
	require.NoError(t, s.Connect())
	defer s.Close()

	_, err := s.Sweep(context.Background(), shortSweep())
	assert.ErrorIs(t, err, ErrTimeout)

	assert.ErrorIs(t, s.SetAveraging(2), ErrOutOfSync)
	_, err = s.Sweep(context.Background(), shortSweep())
	assert.ErrorIs(t, err, ErrOutOfSync)
}
