// Package protocol implements the ASCII line protocol between the host and
// the potentiostat firmware.
//
// Host to device:
//
//	SWV gain,start,end,pulse,step,freq,reset
//	GAIN n | BIAS n | AVG n | DEBUG 0|1 | DUMP | CLEAR | PING
//
// Device to host:
//
//	index,current,volts,ms   one voltammogram record
//	OK [text]
//	ERR text
//	DONE n                   end of a record stream
package protocol

import (
	"errors"
	"fmt"
	"iter"
	"strconv"
	"strings"

	"github.com/itohio/gopstat/pkg/swv"
	"github.com/itohio/gopstat/pkg/voltammogram"
)

// Kind identifies a host command.
type Kind string

const (
	Sweep   Kind = "SWV"
	Gain    Kind = "GAIN"
	Bias    Kind = "BIAS"
	Average Kind = "AVG"
	Debug   Kind = "DEBUG"
	Dump    Kind = "DUMP"
	Clear   Kind = "CLEAR"
	Ping    Kind = "PING"
)

// ErrUnknownCommand is returned for an unrecognized command keyword.
var ErrUnknownCommand = errors.New("protocol: unknown command")

// Command is a parsed host command.
type Command struct {
	Kind  Kind
	Sweep swv.SweepParameters // Sweep only
	Value int                 // GAIN, BIAS, AVG, DEBUG
}

// String formats c as a protocol line without the terminator.
func (c Command) String() string {
	switch c.Kind {
	case Sweep:
		p := c.Sweep
		return fmt.Sprintf("%s %d,%d,%d,%d,%d,%s,%d", Sweep,
			p.Gain, p.StartMillivolts, p.EndMillivolts, p.PulseMillivolts, p.StepMillivolts,
			strconv.FormatFloat(p.FrequencyHz, 'g', -1, 64), boolInt(p.ResetOutput))
	case Gain, Bias, Average, Debug:
		return string(c.Kind) + " " + strconv.Itoa(c.Value)
	default:
		return string(c.Kind)
	}
}

// ParseCommand parses a host command line.
// Format: KEYWORD [args], keywords are case insensitive.
func ParseCommand(line string) (Command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Command{}, fmt.Errorf("protocol: empty command")
	}
	keyword, args, _ := strings.Cut(line, " ")
	kind := Kind(strings.ToUpper(keyword))
	args = strings.TrimSpace(args)

	switch kind {
	case Sweep:
		p, err := parseSweep(args)
		if err != nil {
			return Command{}, err
		}
		return Command{Kind: Sweep, Sweep: p}, nil
	case Gain, Bias, Average, Debug:
		v, err := strconv.Atoi(args)
		if err != nil {
			return Command{}, fmt.Errorf("protocol: invalid %s value %q: %w", kind, args, err)
		}
		if v < 0 || (kind != Average && v > 255) {
			return Command{}, fmt.Errorf("protocol: %s value out of range: %d", kind, v)
		}
		return Command{Kind: kind, Value: v}, nil
	case Dump, Clear, Ping:
		if args != "" {
			return Command{}, fmt.Errorf("protocol: %s takes no arguments", kind)
		}
		return Command{Kind: kind}, nil
	default:
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, keyword)
	}
}

func parseSweep(args string) (swv.SweepParameters, error) {
	parts := strings.Split(args, ",")
	if len(parts) != 7 {
		return swv.SweepParameters{}, fmt.Errorf("protocol: invalid SWV format: expected 7 comma-separated values, got %d", len(parts))
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	gain, err := strconv.ParseUint(parts[0], 10, 8)
	if err != nil {
		return swv.SweepParameters{}, fmt.Errorf("protocol: invalid gain: %w", err)
	}

	var mv [4]int16
	names := [4]string{"start", "end", "pulse", "step"}
	for i := range mv {
		v, err := strconv.ParseInt(parts[i+1], 10, 16)
		if err != nil {
			return swv.SweepParameters{}, fmt.Errorf("protocol: invalid %s: %w", names[i], err)
		}
		mv[i] = int16(v)
	}

	freq, err := strconv.ParseFloat(parts[5], 64)
	if err != nil {
		return swv.SweepParameters{}, fmt.Errorf("protocol: invalid frequency: %w", err)
	}

	var reset bool
	switch parts[6] {
	case "0":
	case "1":
		reset = true
	default:
		return swv.SweepParameters{}, fmt.Errorf("protocol: invalid reset flag %q", parts[6])
	}

	return swv.SweepParameters{
		Gain:            uint8(gain),
		StartMillivolts: mv[0],
		EndMillivolts:   mv[1],
		PulseMillivolts: mv[2],
		StepMillivolts:  mv[3],
		FrequencyHz:     freq,
		ResetOutput:     reset,
	}, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ResponseKind identifies a device line.
type ResponseKind int

const (
	RecordLine ResponseKind = iota
	OKLine
	ErrLine
	DoneLine
)

// Response is a parsed device line.
type Response struct {
	Kind   ResponseKind
	Record voltammogram.Record // RecordLine
	Text   string              // OKLine, ErrLine
	Count  int                 // DoneLine
}

// FormatRecord formats a voltammogram record line.
// Format: index,current,volts,ms with volts to 3 decimals.
func FormatRecord(r voltammogram.Record) string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(r.Index))
	b.WriteByte(',')
	b.WriteString(strconv.FormatFloat(float64(r.Current), 'g', -1, 32))
	b.WriteByte(',')
	b.WriteString(strconv.FormatFloat(float64(r.Volts), 'f', 3, 32))
	b.WriteByte(',')
	b.WriteString(strconv.FormatUint(uint64(r.ElapsedMillis), 10))
	return b.String()
}

// OK formats an acknowledgement.
func OK(text string) string {
	if text == "" {
		return "OK"
	}
	return "OK " + text
}

// Err formats an error line. Newlines in err are flattened.
func Err(err error) string {
	return "ERR " + strings.ReplaceAll(err.Error(), "\n", "; ")
}

// Done formats the end of a record stream.
func Done(n int) string {
	return "DONE " + strconv.Itoa(n)
}

// Lines yields every record line followed by the DONE line.
func Lines(records iter.Seq[voltammogram.Record]) iter.Seq[string] {
	return func(yield func(string) bool) {
		n := 0
		for r := range records {
			if !yield(FormatRecord(r)) {
				return
			}
			n++
		}
		yield(Done(n))
	}
}

// ParseResponse parses a device line.
func ParseResponse(line string) (Response, error) {
	line = strings.TrimSpace(line)
	switch {
	case line == "OK":
		return Response{Kind: OKLine}, nil
	case strings.HasPrefix(line, "OK "):
		return Response{Kind: OKLine, Text: strings.TrimSpace(line[3:])}, nil
	case strings.HasPrefix(line, "ERR"):
		return Response{Kind: ErrLine, Text: strings.TrimSpace(line[3:])}, nil
	case strings.HasPrefix(line, "DONE"):
		n, err := strconv.Atoi(strings.TrimSpace(line[4:]))
		if err != nil {
			return Response{}, fmt.Errorf("protocol: invalid DONE count: %w", err)
		}
		return Response{Kind: DoneLine, Count: n}, nil
	}

	r, err := parseRecord(line)
	if err != nil {
		return Response{}, err
	}
	return Response{Kind: RecordLine, Record: r}, nil
}

// parseRecord parses a record line.
// Format: index,current,volts,ms
// Example: 12,-0.4871,0.055,912
func parseRecord(line string) (voltammogram.Record, error) {
	parts := strings.Split(line, ",")
	if len(parts) != 4 {
		return voltammogram.Record{}, fmt.Errorf("protocol: invalid record format: expected 4 comma-separated values, got %d", len(parts))
	}

	index, err := strconv.Atoi(parts[0])
	if err != nil {
		return voltammogram.Record{}, fmt.Errorf("protocol: invalid index: %w", err)
	}
	if index < 0 {
		return voltammogram.Record{}, fmt.Errorf("protocol: negative index: %d", index)
	}

	current, err := strconv.ParseFloat(parts[1], 32)
	if err != nil {
		return voltammogram.Record{}, fmt.Errorf("protocol: invalid current: %w", err)
	}

	volts, err := strconv.ParseFloat(parts[2], 32)
	if err != nil {
		return voltammogram.Record{}, fmt.Errorf("protocol: invalid volts: %w", err)
	}

	ms, err := strconv.ParseUint(parts[3], 10, 32)
	if err != nil {
		return voltammogram.Record{}, fmt.Errorf("protocol: invalid time: %w", err)
	}

	return voltammogram.Record{
		Index:         index,
		Current:       float32(current),
		Volts:         float32(volts),
		ElapsedMillis: uint32(ms),
	}, nil
}
