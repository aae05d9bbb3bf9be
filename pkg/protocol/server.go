package protocol

import (
	"bufio"
	"context"
	"io"

	"github.com/itohio/gopstat/pkg/swv"
	"github.com/itohio/gopstat/pkg/voltammogram"
)

// Device is the engine surface driven by host commands. *swv.Engine
// implements it.
type Device interface {
	Validate(p swv.SweepParameters) (swv.Transimpedance, uint32, error)
	Run(ctx context.Context, p swv.SweepParameters) error
	Buffer() *voltammogram.Buffer
	SetGain(selector uint8) error
	SetBiasRange(index uint8) error
	SetAveraging(n int) error
	SetDebug(on bool)
	ClearBuffer() error
}

var _ Device = (*swv.Engine)(nil)

// Serve reads commands from r and answers on w until r is exhausted or ctx
// is done. Malformed lines are answered with ERR and do not stop the loop.
func Serve(ctx context.Context, dev Device, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Text()
		if len(line) == 0 || line == "\r" {
			continue
		}
		if err := Handle(ctx, dev, line, w); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// Handle executes one command line. Only write errors are returned; command
// failures are reported to the host as ERR lines.
func Handle(ctx context.Context, dev Device, line string, w io.Writer) error {
	cmd, err := ParseCommand(line)
	if err != nil {
		return writeLine(w, Err(err))
	}

	switch cmd.Kind {
	case Sweep:
		if _, _, err := dev.Validate(cmd.Sweep); err != nil {
			if werr := writeLine(w, Err(err)); werr != nil {
				return werr
			}
			return writeLine(w, Done(0))
		}
		if err := dev.Run(ctx, cmd.Sweep); err != nil {
			if werr := writeLine(w, Err(err)); werr != nil {
				return werr
			}
		}
		return stream(w, dev.Buffer())
	case Dump:
		return stream(w, dev.Buffer())
	case Gain:
		return reply(w, dev.SetGain(uint8(cmd.Value)), cmd.String())
	case Bias:
		return reply(w, dev.SetBiasRange(uint8(cmd.Value)), cmd.String())
	case Average:
		return reply(w, dev.SetAveraging(cmd.Value), cmd.String())
	case Debug:
		dev.SetDebug(cmd.Value != 0)
		return reply(w, nil, cmd.String())
	case Clear:
		return reply(w, dev.ClearBuffer(), "")
	case Ping:
		return reply(w, nil, "pong")
	}
	return writeLine(w, Err(ErrUnknownCommand))
}

func reply(w io.Writer, err error, text string) error {
	if err != nil {
		return writeLine(w, Err(err))
	}
	return writeLine(w, OK(text))
}

func stream(w io.Writer, buf *voltammogram.Buffer) error {
	for line := range Lines(buf.Records()) {
		if err := writeLine(w, line); err != nil {
			return err
		}
	}
	return nil
}

func writeLine(w io.Writer, line string) error {
	_, err := io.WriteString(w, line+"\n")
	return err
}
