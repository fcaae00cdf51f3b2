package config

import (
	"os"
	"time"

	"github.com/ansel1/merry"
	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/itohio/muxscan/pkg/scan"
)

// MaxBanks is the largest multiplexer tree accepted by Validate.
const MaxBanks = 8

// ErrInvalid is the root of every validation error.
var ErrInvalid = merry.New("invalid configuration")

// Config represents the application configuration.
type Config struct {
	Serial  SerialConfig  `yaml:"serial"`
	Scan    ScanConfig    `yaml:"scan"`
	Monitor MonitorConfig `yaml:"monitor"`
	Journal JournalConfig `yaml:"journal"`
	Web     WebConfig     `yaml:"web"`
	Mock    MockConfig    `yaml:"mock"`
}

// SerialConfig contains serial port configuration.
type SerialConfig struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
}

// ScanConfig mirrors the controller configuration of the scanner board.
type ScanConfig struct {
	Banks               int           `yaml:"banks"`
	ChannelPeriod       time.Duration `yaml:"channel_period"`
	SettleFraction      float64       `yaml:"settle_fraction"`
	CyclePeriod         time.Duration `yaml:"cycle_period"` // 0 = passes back to back
	PollTimeout         time.Duration `yaml:"poll_timeout"`
	AverageSamples      int           `yaml:"average_samples"`
	SampleGap           time.Duration `yaml:"sample_gap"`
	VRef                float64       `yaml:"vref"`
	ChipSelectActiveLow bool          `yaml:"chip_select_active_low"`
	EnableActiveLow     bool          `yaml:"enable_active_low"`
	DischargeActiveLow  bool          `yaml:"discharge_active_low"`
	IdleChannel         uint8         `yaml:"idle_channel"`
	FaultThreshold      int           `yaml:"fault_threshold"`
	TemperaturePerPass  bool          `yaml:"temperature_per_pass"`
	AutoStart           bool          `yaml:"auto_start"`
	PassMarkers         bool          `yaml:"pass_markers"`
	MaxPasses           int           `yaml:"max_passes"` // 0 = unbounded
}

// MonitorConfig controls open-joint detection on the host.
type MonitorConfig struct {
	Threshold      float64 `yaml:"threshold"`       // volts; readings below it are open
	MinConsecutive int     `yaml:"min_consecutive"` // passes below threshold before an alert opens
	WindowPasses   int     `yaml:"window_passes"`   // passes retained per channel
	AveragePasses  int     `yaml:"average_passes"`  // rolling average length (0 = disabled)
}

// JournalConfig contains the SQLite journal settings.
type JournalConfig struct {
	Path     string `yaml:"path"` // empty disables the journal
	RawLines bool   `yaml:"raw_lines"`
}

// WebConfig contains the read-only live view settings.
type WebConfig struct {
	Listen  string        `yaml:"listen"`  // e.g. ":8000"; empty disables the view
	Refresh time.Duration `yaml:"refresh"` // page reload interval
}

// Channel addresses one input, 1-based as on the wire.
type Channel struct {
	Mux     int `yaml:"mux"`
	Channel int `yaml:"channel"`
}

// MockConfig contains mock device configuration.
type MockConfig struct {
	BaseVoltage        float64       `yaml:"base_voltage"`        // reading of a sound joint (V)
	NoiseLevel         float64       `yaml:"noise_level"`         // peak noise (V)
	OpenChannels       []Channel     `yaml:"open_channels"`       // joints that read near 0 V
	AmbientTemperature float64       `yaml:"ambient_temperature"` // °C
	ChannelPeriod      time.Duration `yaml:"channel_period"`      // overrides scan.channel_period
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	sc := scan.DefaultConfig()
	return &Config{
		Serial: SerialConfig{
			Port: "/dev/ttyACM0", // "COM3" on Windows
			Baud: 115200,
		},
		Scan: ScanConfig{
			Banks:               sc.Banks,
			ChannelPeriod:       sc.ChannelPeriod,
			SettleFraction:      sc.SettleFraction,
			PollTimeout:         sc.PollTimeout,
			AverageSamples:      sc.Sampler.Samples,
			SampleGap:           sc.Sampler.SampleGap,
			VRef:                sc.Sampler.VRef,
			ChipSelectActiveLow: sc.Mux.ChipSelectActiveLow,
			EnableActiveLow:     sc.Mux.EnableActiveLow,
			IdleChannel:         sc.Mux.IdleChannel,
			FaultThreshold:      sc.FaultThreshold,
			AutoStart:           sc.AutoStart,
		},
		Monitor: MonitorConfig{
			Threshold:      0.5,
			MinConsecutive: 1,
			WindowPasses:   100,
		},
		Journal: JournalConfig{
			Path: "muxscan.sqlite",
		},
		Web: WebConfig{
			Refresh: 3 * time.Second,
		},
		Mock: MockConfig{
			BaseVoltage:        1.2,
			NoiseLevel:         0.01,
			AmbientTemperature: 27,
			ChannelPeriod:      2 * time.Millisecond,
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
			return cfg, nil
		}
		return nil, merry.Prepend(err, "failed to read config file")
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, merry.Prepend(err, "failed to parse config file")
	}

	cfg.ensureDefaults()

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return merry.Prepend(err, "failed to marshal config")
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return merry.Prepend(err, "failed to write config file")
	}

	return nil
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Serial.Port == "" {
		c.Serial.Port = def.Serial.Port
	}
	if c.Serial.Baud == 0 {
		c.Serial.Baud = def.Serial.Baud
	}

	if c.Scan.Banks == 0 {
		c.Scan.Banks = def.Scan.Banks
	}
	if c.Scan.ChannelPeriod == 0 {
		c.Scan.ChannelPeriod = def.Scan.ChannelPeriod
	}
	if c.Scan.SettleFraction == 0 {
		c.Scan.SettleFraction = def.Scan.SettleFraction
	}
	if c.Scan.AverageSamples == 0 {
		c.Scan.AverageSamples = def.Scan.AverageSamples
	}
	if c.Scan.VRef == 0 {
		c.Scan.VRef = def.Scan.VRef
	}
	if c.Scan.FaultThreshold == 0 {
		c.Scan.FaultThreshold = def.Scan.FaultThreshold
	}

	if c.Monitor.MinConsecutive == 0 {
		c.Monitor.MinConsecutive = def.Monitor.MinConsecutive
	}
	if c.Monitor.WindowPasses == 0 {
		c.Monitor.WindowPasses = def.Monitor.WindowPasses
	}

	if c.Web.Refresh == 0 {
		c.Web.Refresh = def.Web.Refresh
	}

	if c.Mock.ChannelPeriod == 0 {
		c.Mock.ChannelPeriod = def.Mock.ChannelPeriod
	}
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs *multierror.Error
	add := func(format string, args ...interface{}) {
		errs = multierror.Append(errs, merry.WithMessagef(ErrInvalid, format, args...))
	}

	if c.Serial.Baud <= 0 {
		add("serial.baud must be > 0, got %d", c.Serial.Baud)
	}

	s := c.Scan
	if s.Banks < 1 || s.Banks > MaxBanks {
		add("scan.banks must be in 1..%d, got %d", MaxBanks, s.Banks)
	}
	if s.ChannelPeriod <= 0 {
		add("scan.channel_period must be > 0, got %v", s.ChannelPeriod)
	}
	if s.SettleFraction <= 0 || s.SettleFraction > 1 {
		add("scan.settle_fraction must be in (0, 1], got %v", s.SettleFraction)
	}
	if s.CyclePeriod < 0 || s.PollTimeout < 0 || s.SampleGap < 0 {
		add("scan durations must not be negative")
	}
	if s.AverageSamples < 1 {
		add("scan.average_samples must be >= 1, got %d", s.AverageSamples)
	}
	if s.VRef <= 0 {
		add("scan.vref must be > 0, got %v", s.VRef)
	}
	if s.FaultThreshold < 1 {
		add("scan.fault_threshold must be >= 1, got %d", s.FaultThreshold)
	}
	if s.MaxPasses < 0 {
		add("scan.max_passes must be >= 0, got %d", s.MaxPasses)
	}

	m := c.Monitor
	if m.Threshold < 0 || (s.VRef > 0 && m.Threshold >= s.VRef) {
		add("monitor.threshold must be in [0, vref), got %v", m.Threshold)
	}
	if m.MinConsecutive < 1 {
		add("monitor.min_consecutive must be >= 1, got %d", m.MinConsecutive)
	}
	if m.WindowPasses < 1 {
		add("monitor.window_passes must be >= 1, got %d", m.WindowPasses)
	}
	if m.AveragePasses < 0 {
		add("monitor.average_passes must be >= 0, got %d", m.AveragePasses)
	}

	if c.Web.Refresh < time.Second {
		add("web.refresh must be >= 1s, got %v", c.Web.Refresh)
	}

	for _, ch := range c.Mock.OpenChannels {
		if ch.Mux < 1 || ch.Mux > s.Banks || ch.Channel < 1 || ch.Channel > scan.ChannelsPerBank {
			add("mock.open_channels: mux %d channel %d out of range", ch.Mux, ch.Channel)
		}
	}
	if c.Mock.NoiseLevel < 0 {
		add("mock.noise_level must be >= 0, got %v", c.Mock.NoiseLevel)
	}

	return errs.ErrorOrNil()
}

// Controller converts the scan section into a controller configuration.
func (s ScanConfig) Controller() scan.Config {
	return scan.Config{
		Banks:              s.Banks,
		ChannelPeriod:      s.ChannelPeriod,
		SettleFraction:     s.SettleFraction,
		CyclePeriod:        s.CyclePeriod,
		PollTimeout:        s.PollTimeout,
		FaultThreshold:     s.FaultThreshold,
		TemperaturePerPass: s.TemperaturePerPass,
		AutoStart:          s.AutoStart,
		PassMarkers:        s.PassMarkers,
		MaxPasses:          s.MaxPasses,
		Mux: scan.MuxConfig{
			ChipSelectActiveLow: s.ChipSelectActiveLow,
			EnableActiveLow:     s.EnableActiveLow,
			IdleChannel:         s.IdleChannel,
		},
		Sampler: scan.SamplerConfig{
			Samples:            s.AverageSamples,
			SampleGap:          s.SampleGap,
			VRef:               s.VRef,
			DischargeActiveLow: s.DischargeActiveLow,
		},
	}
}
