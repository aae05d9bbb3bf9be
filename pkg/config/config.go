package config

import (
	"fmt"
	"os"
	"time"

	"github.com/itohio/gopstat/pkg/swv"
	"github.com/itohio/gopstat/pkg/voltammogram"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Serial      SerialConfig      `yaml:"serial"`
	Host        HostConfig        `yaml:"host"`
	Analog      AnalogConfig      `yaml:"analog"`
	Calibration swv.Calibration   `yaml:"calibration"`
	FrontEnd    FrontEndConfig    `yaml:"frontend"`
	Acquisition AcquisitionConfig `yaml:"acquisition"`
	Sweep       SweepConfig       `yaml:"sweep"`
	Sim         SimConfig         `yaml:"sim"`
	Analysis    AnalysisConfig    `yaml:"analysis"`
}

// SerialConfig contains the firmware link configuration.
type SerialConfig struct {
	Port     string        `yaml:"port"`
	BaudRate int           `yaml:"baud_rate"`
	Timeout  time.Duration `yaml:"timeout"`      // Silence tolerated while a sweep runs
	OpenWait time.Duration `yaml:"open_timeout"` // Total time spent retrying the port open
}

// HostConfig describes potentiostat hardware wired directly to a Linux host.
type HostConfig struct {
	I2CBus          string `yaml:"i2c_bus"` // "" selects the first bus
	FrontEndAddress uint16 `yaml:"frontend_address"`
	DACAddress      uint16 `yaml:"dac_address"`
	ADCAddress      uint16 `yaml:"adc_address"`
	ADCChannel      int    `yaml:"adc_channel"`
	StrobePin       string `yaml:"strobe_pin"` // Optional
	EnablePin       string `yaml:"enable_pin"` // Optional, drives the front end MENB
}

// AnalogConfig contains the DAC/ADC constants.
type AnalogConfig struct {
	SupplyMillivolts  float32 `yaml:"supply_mv"`
	DacFullScale      uint16  `yaml:"dac_full_scale"`
	AdcFullScale      uint16  `yaml:"adc_full_scale"`
	NeutralMillivolts float32 `yaml:"neutral_mv"` // DAC output while the bias is off
	Tolerance         float32 `yaml:"tolerance"`
}

// FrontEndConfig contains the gain and bias tables.
type FrontEndConfig struct {
	Gains           []float32 `yaml:"gains"`       // Feedback resistors for selectors 1..N (Ω)
	BiasRanges      []float32 `yaml:"bias_ranges"` // Attenuation per bias index, index 0 = off
	StrobeThreshold uint32    `yaml:"strobe_threshold_ms"`
}

// AcquisitionConfig contains sampling parameters.
type AcquisitionConfig struct {
	AverageSamples int  `yaml:"average_samples"` // ADC reads averaged per sample
	Capacity       int  `yaml:"capacity"`        // Voltammogram buffer size
	MaxPoints      int  `yaml:"max_points"`      // Points shown in the terminal table, 0 = all
	Debug          bool `yaml:"debug"`
}

// SweepConfig contains the default sweep.
type SweepConfig struct {
	Gain        uint8   `yaml:"gain"`
	Start       int16   `yaml:"start_mv"`
	End         int16   `yaml:"end_mv"`
	Pulse       int16   `yaml:"pulse_mv"`
	Step        int16   `yaml:"step_mv"`
	FrequencyHz float64 `yaml:"frequency_hz"`
	ResetOutput bool    `yaml:"reset_output"`
}

// SimConfig contains the simulated cell configuration.
type SimConfig struct {
	FormalMillivolts    float32 `yaml:"formal_mv"`     // Redox formal potential
	LimitingMicroamps   float32 `yaml:"limiting_ua"`   // Faradaic plateau current
	WidthMillivolts     float32 `yaml:"width_mv"`      // Nernstian slope (RT/nF)
	BackgroundMicroamps float32 `yaml:"background_ua"` // Capacitive background per volt of bias
	NoiseMicroamps      float32 `yaml:"noise_ua"`      // Deterministic noise amplitude
	ConversionMillis    uint32  `yaml:"conversion_ms"` // Fake clock time per ADC read
	RealTime            bool    `yaml:"real_time"`     // Use the system clock instead of the fake one
}

// AnalysisConfig contains the concentration calibration line.
type AnalysisConfig struct {
	Slope     float64 `yaml:"slope"`     // µA per concentration unit
	Intercept float64 `yaml:"intercept"` // µA
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	eng := swv.DefaultConfig()
	return &Config{
		Serial: SerialConfig{
			Port:     "/dev/ttyACM0", // XIAO SAMD21 USB CDC, "COM3" style names on Windows
			BaudRate: 115200,
			Timeout:  10 * time.Second,
			OpenWait: 5 * time.Second,
		},
		Host: HostConfig{
			FrontEndAddress: 0x48,
			DACAddress:      0x60,
			ADCAddress:      0x49,
			ADCChannel:      0,
		},
		Analog: AnalogConfig{
			SupplyMillivolts:  eng.SupplyMillivolts,
			DacFullScale:      eng.DacFullScale,
			AdcFullScale:      4095,
			NeutralMillivolts: eng.NeutralMillivolts,
			Tolerance:         eng.Tolerance,
		},
		Calibration: swv.DefaultCalibration,
		FrontEnd: FrontEndConfig{
			Gains:           append([]float32(nil), swv.DefaultGains...),
			BiasRanges:      append([]float32(nil), swv.DefaultBiasRanges...),
			StrobeThreshold: eng.StrobeThreshold,
		},
		Acquisition: AcquisitionConfig{
			AverageSamples: 1,
			Capacity:       voltammogram.DefaultCapacity,
			MaxPoints:      40,
		},
		Sweep: SweepConfig{
			Gain:        7,
			Start:       -200,
			End:         200,
			Pulse:       25,
			Step:        5,
			FrequencyHz: 25,
			ResetOutput: true,
		},
		Sim: SimConfig{
			FormalMillivolts:    0,
			LimitingMicroamps:   2,
			WidthMillivolts:     25.7,
			BackgroundMicroamps: 0.05,
			NoiseMicroamps:      0.002,
			ConversionMillis:    0,
		},
		Analysis: AnalysisConfig{
			Slope:     10.268,
			Intercept: 1.1028,
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			// File doesn't exist, return defaults
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// EngineConfig converts the analog, front end and acquisition sections.
func (c *Config) EngineConfig() swv.Config {
	return swv.Config{
		SupplyMillivolts:  c.Analog.SupplyMillivolts,
		DacFullScale:      c.Analog.DacFullScale,
		NeutralMillivolts: c.Analog.NeutralMillivolts,
		Tolerance:         c.Analog.Tolerance,
		StrobeThreshold:   c.FrontEnd.StrobeThreshold,
		Calibration:       c.Calibration,
		Gains:             swv.GainTable(c.FrontEnd.Gains),
		BiasRanges:        swv.BiasTable(c.FrontEnd.BiasRanges),
		Averaging:         c.Acquisition.AverageSamples,
		Capacity:          c.Acquisition.Capacity,
		Debug:             c.Acquisition.Debug,
	}
}

// SweepParameters converts the sweep section.
func (c *Config) SweepParameters() swv.SweepParameters {
	return swv.SweepParameters{
		Gain:            c.Sweep.Gain,
		StartMillivolts: c.Sweep.Start,
		EndMillivolts:   c.Sweep.End,
		PulseMillivolts: c.Sweep.Pulse,
		StepMillivolts:  c.Sweep.Step,
		FrequencyHz:     c.Sweep.FrequencyHz,
		ResetOutput:     c.Sweep.ResetOutput,
	}
}

// ensureDefaults ensures that all required fields have default values if missing.
// Sweep endpoints, gain 0 and the reset flag are legitimate zero values and
// are left alone.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Serial.Port == "" {
		c.Serial.Port = def.Serial.Port
	}
	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = def.Serial.BaudRate
	}
	if c.Serial.Timeout == 0 {
		c.Serial.Timeout = def.Serial.Timeout
	}
	if c.Serial.OpenWait == 0 {
		c.Serial.OpenWait = def.Serial.OpenWait
	}

	if c.Host.FrontEndAddress == 0 {
		c.Host.FrontEndAddress = def.Host.FrontEndAddress
	}
	if c.Host.DACAddress == 0 {
		c.Host.DACAddress = def.Host.DACAddress
	}
	if c.Host.ADCAddress == 0 {
		c.Host.ADCAddress = def.Host.ADCAddress
	}

	if c.Analog.SupplyMillivolts == 0 {
		c.Analog.SupplyMillivolts = def.Analog.SupplyMillivolts
	}
	if c.Analog.DacFullScale == 0 {
		c.Analog.DacFullScale = def.Analog.DacFullScale
	}
	if c.Analog.AdcFullScale == 0 {
		c.Analog.AdcFullScale = def.Analog.AdcFullScale
	}
	if c.Analog.NeutralMillivolts == 0 {
		c.Analog.NeutralMillivolts = def.Analog.NeutralMillivolts
	}
	if c.Analog.Tolerance == 0 {
		c.Analog.Tolerance = def.Analog.Tolerance
	}

	if c.Calibration.Slope == 0 {
		c.Calibration = def.Calibration
	}

	if len(c.FrontEnd.Gains) == 0 {
		c.FrontEnd.Gains = def.FrontEnd.Gains
	}
	if len(c.FrontEnd.BiasRanges) == 0 {
		c.FrontEnd.BiasRanges = def.FrontEnd.BiasRanges
	}
	if c.FrontEnd.StrobeThreshold == 0 {
		c.FrontEnd.StrobeThreshold = def.FrontEnd.StrobeThreshold
	}

	if c.Acquisition.AverageSamples == 0 {
		c.Acquisition.AverageSamples = def.Acquisition.AverageSamples
	}
	if c.Acquisition.Capacity == 0 {
		c.Acquisition.Capacity = def.Acquisition.Capacity
	}

	if c.Sweep.Step == 0 {
		c.Sweep.Step = def.Sweep.Step
	}
	if c.Sweep.FrequencyHz == 0 {
		c.Sweep.FrequencyHz = def.Sweep.FrequencyHz
	}

	if c.Sim.WidthMillivolts == 0 {
		c.Sim.WidthMillivolts = def.Sim.WidthMillivolts
	}

	if c.Analysis.Slope == 0 {
		c.Analysis.Slope = def.Analysis.Slope
	}
}
