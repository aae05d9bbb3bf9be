package instrument

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/itohio/gopstat/pkg/config"
	"github.com/itohio/gopstat/pkg/protocol"
	"github.com/itohio/gopstat/pkg/swv"
	"github.com/itohio/gopstat/pkg/voltammogram"
	"go.bug.st/serial"
	"go.uber.org/multierr"
)

const (
	// DefaultBaudRate is the standard baud rate for XIAO SAMD21.
	DefaultBaudRate = 115200
	// DefaultBufferSize is the default size of the received lines buffer.
	DefaultBufferSize = 256
)

var (
	// ErrTimeout is returned when the firmware stays silent for longer than
	// expected.
	ErrTimeout = errors.New("instrument: timeout waiting for device")
	// ErrOutOfSync is returned when the answer to an abandoned command never
	// arrives, so replies can no longer be matched to commands.
	ErrOutOfSync = errors.New("instrument: link out of sync")
)

// DeviceError is an ERR line reported by the firmware.
type DeviceError struct {
	Text string
}

func (e *DeviceError) Error() string {
	return "device: " + e.Text
}

// Opener opens the link to the firmware.
type Opener func(port string, baudRate int) (io.ReadWriteCloser, error)

// Serial represents a connection to the potentiostat firmware.
type Serial struct {
	port     string
	baudRate int
	timeout  time.Duration
	openWait time.Duration
	open     Opener

	mu        sync.RWMutex
	cmdMu     sync.Mutex // one command exchange at a time
	conn      io.ReadWriteCloser
	lines     chan string
	ctx       context.Context
	cancel    context.CancelFunc
	connected bool

	// Set when a command was abandoned before its terminator arrived. Guarded
	// by cmdMu.
	stale *pending
}

// pending is the terminator of an abandoned command still owed by the device.
type pending struct {
	kind  protocol.ResponseKind // DoneLine or OKLine (OK or ERR)
	until time.Time             // When the device should have answered
}

// NewSerial creates a firmware link from the serial configuration.
func NewSerial(cfg config.SerialConfig) *Serial {
	return NewSerialWith(cfg, OpenPort)
}

// NewSerialWith creates a firmware link using open to reach the device.
func NewSerialWith(cfg config.SerialConfig, open Opener) *Serial {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Serial{
		port:     cfg.Port,
		baudRate: cfg.BaudRate,
		timeout:  cfg.Timeout,
		openWait: cfg.OpenWait,
		open:     open,
	}
}

// OpenPort opens a serial port with go.bug.st/serial.
func OpenPort(port string, baudRate int) (io.ReadWriteCloser, error) {
	p, err := serial.Open(port, &serial.Mode{BaudRate: baudRate})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Ports returns a list of available serial ports.
func Ports() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	return ports, nil
}

// Connect opens the port, retrying with exponential backoff while the board
// enumerates, and checks that the firmware answers PING.
func (s *Serial) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return ErrAlreadyConnected
	}

	var conn io.ReadWriteCloser
	op := func() error {
		var err error
		conn, err = s.open(s.port, s.baudRate)
		return err
	}
	var policy backoff.BackOff = &backoff.StopBackOff{}
	if s.openWait > 0 {
		policy = &backoff.ExponentialBackOff{
			InitialInterval:     25 * time.Millisecond,
			RandomizationFactor: 0.,
			Multiplier:          2.,
			MaxInterval:         1 * time.Second,
			MaxElapsedTime:      s.openWait,
			Clock:               backoff.SystemClock}
	}
	if err := backoff.Retry(op, policy); err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", s.port, err)
	}

	s.conn = conn
	s.stale = nil
	s.lines = make(chan string, DefaultBufferSize)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	go s.readLines(s.ctx, conn, s.lines)

	if _, err := s.exchange(s.ctx, conn, protocol.Command{Kind: protocol.Ping}); err != nil {
		s.cancel()
		conn.Close()
		s.conn = nil
		return fmt.Errorf("device on %s did not answer: %w", s.port, err)
	}

	s.connected = true
	return nil
}

// Close closes the connection and stops reading lines.
func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return nil
	}

	s.cancel()

	var err error
	if s.conn != nil {
		err = s.conn.Close()
		s.conn = nil
	}
	s.connected = false
	return err
}

// IsConnected returns whether the device is currently connected.
func (s *Serial) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// Sweep asks the firmware to run p and collects the streamed voltammogram.
func (s *Serial) Sweep(ctx context.Context, p swv.SweepParameters) ([]voltammogram.Record, error) {
	if !s.IsConnected() {
		return nil, ErrNotConnected
	}
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	if err := s.resync(ctx); err != nil {
		return nil, err
	}
	// The firmware answers only once the sweep is complete.
	wait := SweepDuration(p) + s.timeout
	if err := s.send(s.link(), protocol.Command{Kind: protocol.Sweep, Sweep: p}); err != nil {
		return nil, err
	}
	return s.collect(ctx, wait)
}

// SweepDuration estimates how long the firmware needs to run p: two dwells
// per point. Invalid parameters are rejected at once and take no time.
func SweepDuration(p swv.SweepParameters) time.Duration {
	dwell, err := p.Normalized().DwellMillis()
	if err != nil {
		return 0
	}
	return time.Duration(p.Points()) * 2 * time.Duration(dwell) * time.Millisecond
}

// Dump fetches the voltammogram stored on the device.
func (s *Serial) Dump(ctx context.Context) ([]voltammogram.Record, error) {
	if !s.IsConnected() {
		return nil, ErrNotConnected
	}
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	if err := s.resync(ctx); err != nil {
		return nil, err
	}
	if err := s.send(s.link(), protocol.Command{Kind: protocol.Dump}); err != nil {
		return nil, err
	}
	return s.collect(ctx, s.timeout)
}

// SetAveraging sets the number of ADC reads per sample on the device.
func (s *Serial) SetAveraging(n int) error {
	return s.command(protocol.Command{Kind: protocol.Average, Value: n})
}

// SetGain re-initializes the device front end with a gain selector.
func (s *Serial) SetGain(gain uint8) error {
	return s.command(protocol.Command{Kind: protocol.Gain, Value: int(gain)})
}

// SetDebug toggles per-sample logging on the device.
func (s *Serial) SetDebug(on bool) error {
	cmd := protocol.Command{Kind: protocol.Debug}
	if on {
		cmd.Value = 1
	}
	return s.command(cmd)
}

func (s *Serial) command(cmd protocol.Command) error {
	if !s.IsConnected() {
		return ErrNotConnected
	}
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	ctx := context.Background()
	if err := s.resync(ctx); err != nil {
		return err
	}
	_, err := s.exchange(ctx, s.link(), cmd)
	return err
}

// exchange sends cmd and waits for its OK or ERR.
func (s *Serial) exchange(ctx context.Context, w io.Writer, cmd protocol.Command) (string, error) {
	if err := s.send(w, cmd); err != nil {
		return "", err
	}
	for {
		resp, err := s.next(ctx, s.timeout)
		if err != nil {
			s.abandon(err, protocol.OKLine, time.Now())
			return "", err
		}
		switch resp.Kind {
		case protocol.OKLine:
			return resp.Text, nil
		case protocol.ErrLine:
			return "", &DeviceError{Text: resp.Text}
		default:
			log.Printf("Ignoring unexpected line while waiting for %s", cmd.Kind)
		}
	}
}

// collect reads records until DONE. The first line may take up to wait,
// later lines the configured timeout. An ERR line before DONE is returned
// with the records that follow it.
func (s *Serial) collect(ctx context.Context, wait time.Duration) ([]voltammogram.Record, error) {
	var records []voltammogram.Record
	var devErr error
	due := time.Now().Add(wait)
	for {
		resp, err := s.next(ctx, wait)
		if err != nil {
			s.abandon(err, protocol.DoneLine, due)
			return records, multierr.Combine(devErr, err)
		}
		wait = s.timeout
		switch resp.Kind {
		case protocol.RecordLine:
			records = append(records, resp.Record)
		case protocol.ErrLine:
			devErr = &DeviceError{Text: resp.Text}
		case protocol.DoneLine:
			if resp.Count != len(records) {
				return records, multierr.Combine(devErr, fmt.Errorf("instrument: device sent %d records, announced %d", len(records), resp.Count))
			}
			return records, devErr
		case protocol.OKLine:
			log.Printf("Ignoring unexpected OK while collecting records")
		}
	}
}

func (s *Serial) link() io.Writer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.conn == nil {
		return nil
	}
	return s.conn
}

func (s *Serial) send(w io.Writer, cmd protocol.Command) error {
	if w == nil {
		return ErrNotConnected
	}
	if _, err := io.WriteString(w, cmd.String()+"\n"); err != nil {
		return fmt.Errorf("failed to send %s command: %w", cmd.Kind, err)
	}
	return nil
}

// abandon remembers that the terminator of the current command is still owed
// after the wait for it was cut short. due is when the device is expected to
// have finished the command.
func (s *Serial) abandon(err error, kind protocol.ResponseKind, due time.Time) {
	if !errors.Is(err, ErrTimeout) && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return
	}
	s.stale = &pending{kind: kind, until: due.Add(s.timeout)}
}

// resync discards what the device still sends for an abandoned command, up
// to and including its terminator.
func (s *Serial) resync(ctx context.Context) error {
	if s.stale == nil {
		return nil
	}
	for {
		wait := time.Until(s.stale.until)
		if wait < s.timeout {
			wait = s.timeout
		}
		resp, err := s.next(ctx, wait)
		if err != nil {
			if errors.Is(err, ErrTimeout) {
				return ErrOutOfSync
			}
			return err
		}
		switch {
		case s.stale.kind == protocol.DoneLine && resp.Kind == protocol.DoneLine,
			s.stale.kind == protocol.OKLine && (resp.Kind == protocol.OKLine || resp.Kind == protocol.ErrLine):
			s.stale = nil
			return nil
		}
		log.Printf("Discarding stale line from abandoned command")
	}
}

// next returns the next parsable line, waiting at most wait for it.
func (s *Serial) next(ctx context.Context, wait time.Duration) (protocol.Response, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return protocol.Response{}, err
		}
		select {
		case <-ctx.Done():
			return protocol.Response{}, ctx.Err()
		case <-timer.C:
			return protocol.Response{}, ErrTimeout
		case line, ok := <-s.lines:
			if !ok {
				return protocol.Response{}, fmt.Errorf("instrument: connection closed: %w", io.EOF)
			}
			resp, err := protocol.ParseResponse(line)
			if err != nil {
				// Firmware debug output shares the link.
				log.Printf("Failed to parse line '%s': %v", line, err)
				continue
			}
			return resp, nil
		}
	}
}

// readLines reads lines from the port until it is closed.
func (s *Serial) readLines(ctx context.Context, conn io.Reader, lines chan<- string) {
	defer close(lines)
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Panic in readLines: %v", r)
		}
	}()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		select {
		case lines <- line:
		case <-ctx.Done():
			return
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		log.Printf("Error reading from serial port: %v", err)
	}
}
