package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/itohio/gopstat/pkg/analysis"
	"github.com/itohio/gopstat/pkg/config"
	"github.com/itohio/gopstat/pkg/hostio"
	"github.com/itohio/gopstat/pkg/instrument"
	"github.com/itohio/gopstat/pkg/swv"
	"github.com/pterm/pterm"
)

func main() {
	var (
		portFlag           = flag.String("p", "", "Serial port override (e.g., COM3 or /dev/ttyACM0)")
		configFlag         = flag.String("config", "config.yaml", "Configuration file path")
		mockFlag           = flag.Bool("mock", false, "Use simulated potentiostat instead of serial port")
		hostFlag           = flag.Bool("host", false, "Drive potentiostat wired to this host's I2C bus")
		averageSamplesFlag = flag.Int("average-samples", -1, "Number of ADC reads averaged per sample (overrides config)")
		outputFlag         = flag.String("o", "", "Write the voltammogram to this CSV file")
		debugFlag          = flag.Bool("debug", false, "Log every sample")
		listFlag           = flag.Bool("list", false, "List serial ports and exit")
		repeatFlag         = flag.Int("repeat", 1, "Number of sweeps to run")
		intervalFlag       = flag.Duration("interval", 0, "Pause between repeated sweeps")
		saveConfigFlag     = flag.Bool("save-config", false, "Write the effective configuration back to -config")
	)
	flag.Parse()

	if *listFlag {
		if err := listPorts(); err != nil {
			log.Fatal(err)
		}
		return
	}

	// Load configuration
	cfg, err := config.Load(*configFlag)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Override serial port if provided via command line
	if *portFlag != "" {
		cfg.Serial.Port = *portFlag
	}

	// Override average samples if provided via command line
	if *averageSamplesFlag >= 0 {
		cfg.Acquisition.AverageSamples = *averageSamplesFlag
	}
	if *debugFlag {
		cfg.Acquisition.Debug = true
	}

	if *saveConfigFlag {
		if err := cfg.Save(*configFlag); err != nil {
			log.Fatalf("Failed to save configuration: %v", err)
		}
		pterm.Success.Printf("Configuration saved to %s\n", *configFlag)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	inst, err := openInstrument(cfg, *mockFlag, *hostFlag)
	if err != nil {
		log.Fatalf("Failed to create instrument: %v", err)
	}

	if err := run(ctx, cfg, inst, *repeatFlag, *intervalFlag, *outputFlag); err != nil {
		pterm.Error.Printf("%v\n", err)
		os.Exit(1)
	}
}

func openInstrument(cfg *config.Config, mock, onHost bool) (instrument.Instrument, error) {
	switch {
	case mock:
		l, _, err := instrument.NewMock(cfg)
		if err != nil {
			return nil, err
		}
		l.Engine().SetDebug(cfg.Acquisition.Debug)
		return l, nil
	case onHost:
		board, err := hostio.Open(cfg)
		if err != nil {
			return nil, err
		}
		eng, err := swv.New(cfg.EngineConfig(), board.Hardware(swv.NewSystemClock()))
		if err != nil {
			board.Close()
			return nil, err
		}
		eng.SetDebug(cfg.Acquisition.Debug)
		return instrument.NewLocal(eng, board), nil
	}
	if cfg.Serial.Port == "" {
		return nil, errors.New("no serial port configured, use -p or -mock")
	}
	return instrument.NewSerial(cfg.Serial), nil
}

func run(ctx context.Context, cfg *config.Config, inst instrument.Instrument, repeat int, interval time.Duration, output string) error {
	spinner, _ := pterm.DefaultSpinner.Start("Connecting...")
	if err := inst.Connect(); err != nil {
		spinner.Fail("Connection failed")
		return err
	}
	defer func() {
		if err := inst.Close(); err != nil {
			log.Printf("Error closing instrument: %v", err)
		}
	}()
	spinner.Success("Connected")

	if err := inst.SetAveraging(cfg.Acquisition.AverageSamples); err != nil {
		return fmt.Errorf("failed to set averaging: %w", err)
	}
	if s, ok := inst.(*instrument.Serial); ok && cfg.Acquisition.Debug {
		if err := s.SetDebug(true); err != nil {
			return fmt.Errorf("failed to enable debug: %w", err)
		}
	}

	p := cfg.SweepParameters()
	tracker := analysis.NewTracker(analysis.Line{Slope: cfg.Analysis.Slope, Intercept: cfg.Analysis.Intercept})
	tracker.OnUpdate(func(latest analysis.Result, history []analysis.Result) {
		printResult(latest, len(history))
	})

	if repeat < 1 {
		repeat = 1
	}
	for i := range repeat {
		if i > 0 && interval > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(interval):
			}
		}

		spinner, _ := pterm.DefaultSpinner.Start(fmt.Sprintf("Sweeping %d..%d mV, step %d mV, %.1f Hz...",
			p.StartMillivolts, p.EndMillivolts, p.StepMillivolts, p.FrequencyHz))
		records, err := inst.Sweep(ctx, p)
		if err != nil {
			spinner.Fail(fmt.Sprintf("Sweep failed after %d points", len(records)))
			if len(records) > 0 && output != "" {
				if werr := writeRecords(outputName(output, i, repeat), records); werr != nil {
					log.Printf("Failed to save partial voltammogram: %v", werr)
				}
			}
			return err
		}
		spinner.Success(fmt.Sprintf("Sweep complete: %d points", len(records)))

		renderRecords(records, cfg.Acquisition.MaxPoints, p.Gain)

		if output != "" {
			name := outputName(output, i, repeat)
			if err := writeRecords(name, records); err != nil {
				return err
			}
			pterm.Success.Printf("Voltammogram saved to %s\n", name)
		}

		if _, err := tracker.Add(records, p.Gain); err != nil {
			pterm.Warning.Printf("Analysis skipped: %v\n", err)
		}
	}

	if repeat > 1 {
		renderHistory(tracker.History())
	}
	return nil
}

func listPorts() error {
	ports, err := instrument.Ports()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		pterm.Info.Println("No serial ports found")
		return nil
	}
	data := pterm.TableData{{"Port"}}
	for _, p := range ports {
		data = append(data, []string{p})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}
