// Package scan implements the multiplexer scan controller: a cooperative,
// single-goroutine loop that walks every channel of every bank, samples it,
// streams one telemetry line per channel and services host commands between
// channels.
//
// All hardware is reached through the interfaces in hardware.go so the same
// controller runs on the microcontroller and against simulated hardware.
package scan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/itohio/muxscan/pkg/telemetry"
)

// State is the run state of the controller.
type State int

const (
	StateIdle State = iota
	StateRunning
	StatePaused
	StateFault
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateFault:
		return "fault"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ErrStopped is returned by Step once the controller has shut down.
var ErrStopped = errors.New("controller stopped")

// Cursor is the (bank, channel) position of the scan, both 0-based.
type Cursor struct {
	Bank    int
	Channel int
}

// Next returns the cursor that follows c in row-major order over banks
// banks, and whether the move left the bank or completed the pass.
func (c Cursor) Next(banks int) (next Cursor, bankDone, passDone bool) {
	next = Cursor{Bank: c.Bank, Channel: c.Channel + 1}
	if next.Channel < ChannelsPerBank {
		return next, false, false
	}
	next.Channel = 0
	next.Bank++
	if next.Bank < banks {
		return next, true, false
	}
	next.Bank = 0
	return next, true, true
}

// Config holds the scan timing and behavior.
type Config struct {
	Banks              int
	ChannelPeriod      time.Duration // total time spent on one channel
	SettleFraction     float64       // share of ChannelPeriod spent settling, the rest discharging
	CyclePeriod        time.Duration // target duration of one pass, 0 = back to back
	PollTimeout        time.Duration // bounded wait for a host command between channels
	FaultThreshold     int           // consecutive addressing failures that stop sampling
	TemperaturePerPass bool          // read the sensor once per pass instead of per channel
	AutoStart          bool          // start Running; otherwise wait for START
	PassMarkers        bool          // emit pass header and separator lines
	MaxPasses          int           // stop with EOF after this many passes, 0 = unbounded

	Mux     MuxConfig
	Sampler SamplerConfig
}

// DefaultConfig returns the configuration of the reference board.
func DefaultConfig() Config {
	return Config{
		Banks:          2,
		ChannelPeriod:  50 * time.Millisecond,
		SettleFraction: 0.9,
		PollTimeout:    time.Millisecond,
		FaultThreshold: 3,
		AutoStart:      true,
		Mux:            DefaultMuxConfig(),
		Sampler:        DefaultSamplerConfig(),
	}
}

// Hardware groups the board resources the controller drives.
type Hardware struct {
	Expander      Expander
	Strobe        Line
	ChipSelects   []Line // one per bank
	OutputEnables []Line // one per bank
	Discharge     Line   // optional
	Signal        ADC
	Sensor        ADC
	Transport     Transport
}

// Controller is the scan state machine. It is not safe for concurrent use;
// Run or Step must be called from a single goroutine.
type Controller struct {
	cfg   Config
	clock Clock

	mux      *MuxDriver
	sampler  *Sampler
	commands *CommandReader
	emitter  *Emitter

	settle    time.Duration
	discharge time.Duration

	state        State
	cursor       Cursor
	resetPending bool

	passOpen    bool
	pass        int // passes started
	completed   int // passes completed
	passStart   time.Time
	nextPass    time.Time // zero when not waiting between passes
	temperature float64   // pass temperature when TemperaturePerPass

	failures int
	fault    error
}

// New wires a controller to hw. clock may be nil for the system clock.
func New(cfg Config, hw Hardware, clock Clock) (*Controller, error) {
	if clock == nil {
		clock = SystemClock{}
	}
	if hw.Transport == nil {
		return nil, errors.New("scan: transport is required")
	}
	if cfg.Banks < 1 || cfg.Banks > len(hw.ChipSelects) || cfg.Banks > len(hw.OutputEnables) {
		return nil, fmt.Errorf("scan: %d banks configured, %d chip-selects and %d output-enables wired",
			cfg.Banks, len(hw.ChipSelects), len(hw.OutputEnables))
	}
	if cfg.ChannelPeriod <= 0 {
		return nil, errors.New("scan: channel period must be > 0")
	}
	if cfg.SettleFraction <= 0 || cfg.SettleFraction > 1 {
		return nil, fmt.Errorf("scan: settle fraction %v must be in (0, 1]", cfg.SettleFraction)
	}
	if cfg.FaultThreshold < 1 {
		cfg.FaultThreshold = 1
	}

	mux, err := NewMuxDriver(hw.Expander, hw.Strobe, hw.ChipSelects[:cfg.Banks], hw.OutputEnables[:cfg.Banks], cfg.Mux)
	if err != nil {
		return nil, err
	}
	sampler, err := NewSampler(hw.Signal, hw.Sensor, hw.Discharge, clock, cfg.Sampler)
	if err != nil {
		return nil, err
	}

	settle := time.Duration(float64(cfg.ChannelPeriod) * cfg.SettleFraction)
	c := &Controller{
		cfg:       cfg,
		clock:     clock,
		mux:       mux,
		sampler:   sampler,
		commands:  NewCommandReader(hw.Transport, clock),
		emitter:   NewEmitter(hw.Transport),
		settle:    settle,
		discharge: cfg.ChannelPeriod - settle,
		state:     StateIdle,
	}
	if cfg.AutoStart {
		c.state = StateRunning
	}
	return c, nil
}

// State returns the current run state.
func (c *Controller) State() State { return c.state }

// Cursor returns the next (bank, channel) to be sampled.
func (c *Controller) Cursor() Cursor { return c.cursor }

// Passes returns the number of completed passes.
func (c *Controller) Passes() int { return c.completed }

// Err returns the fault that stopped sampling, if any.
func (c *Controller) Err() error { return c.fault }

// Mux exposes the driver for diagnostics.
func (c *Controller) Mux() *MuxDriver { return c.mux }

// Run steps the controller until ctx is cancelled or it stops by itself.
// On cancellation every bank is disabled and EOF is sent.
func (c *Controller) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			c.Shutdown()
			return ctx.Err()
		default:
		}
		if err := c.Step(); errors.Is(err, ErrStopped) {
			return nil
		}
	}
}

// Shutdown disables every bank and terminates the stream with EOF.
func (c *Controller) Shutdown() {
	if c.state == StateStopped {
		return
	}
	_ = c.mux.DisableAll()
	_ = c.emitter.EOF()
	c.state = StateStopped
}

// Step performs one unit of work: a command poll and, while Running, at
// most one channel visit. It returns the fault error on the step that
// enters Fault and ErrStopped once stopped.
func (c *Controller) Step() error {
	if c.state == StateStopped {
		return ErrStopped
	}

	if cmd := c.commands.Poll(c.pollTimeout()); cmd != CommandNone {
		c.dispatch(cmd)
	}
	if c.state != StateRunning {
		return nil
	}

	if c.resetPending {
		c.restart()
	}

	if !c.nextPass.IsZero() {
		if c.clock.Now().Before(c.nextPass) {
			return nil
		}
		c.nextPass = time.Time{}
	}

	if !c.passOpen {
		c.beginPass()
	}
	return c.visit()
}

func (c *Controller) pollTimeout() time.Duration {
	timeout := c.cfg.PollTimeout
	if c.state == StateRunning && !c.nextPass.IsZero() {
		remaining := c.nextPass.Sub(c.clock.Now())
		if timeout <= 0 || remaining < timeout {
			timeout = remaining
		}
		return timeout
	}
	if c.state != StateRunning && timeout <= 0 {
		timeout = pollInterval
	}
	return timeout
}

// dispatch applies a host command to the run state.
func (c *Controller) dispatch(cmd Command) {
	switch c.state {
	case StateIdle:
		if cmd == CommandStart {
			c.resetPending = true
			c.state = StateRunning
		}
	case StateRunning:
		if cmd == CommandPause {
			_ = c.emitter.PauseConfirmed()
			c.state = StatePaused
		}
	case StatePaused:
		switch cmd {
		case CommandResume:
			c.state = StateRunning
		case CommandStart:
			c.resetPending = true
			c.state = StateRunning
		}
	case StateFault:
		_ = c.emitter.Fault(c.fault.Error())
	}
}

// restart consumes a reset request.
func (c *Controller) restart() {
	c.resetPending = false
	c.cursor = Cursor{}
	c.passOpen = false
	c.nextPass = time.Time{}
	c.failures = 0
	_ = c.mux.DisableAll()
}

func (c *Controller) beginPass() {
	c.pass++
	c.passOpen = true
	c.passStart = c.clock.Now()
	if c.cfg.PassMarkers {
		_ = c.emitter.PassHeader(c.pass)
	}
	if c.cfg.TemperaturePerPass {
		c.temperature = c.sampler.ToTemperature(c.sampler.ReadTemperatureRaw())
	}
}

func (c *Controller) readTemperature() float64 {
	if c.cfg.TemperaturePerPass {
		return c.temperature
	}
	return c.sampler.ToTemperature(c.sampler.ReadTemperatureRaw())
}

// visit samples the channel under the cursor and advances it.
func (c *Controller) visit() error {
	bank, channel := c.cursor.Bank, c.cursor.Channel
	rec := telemetry.Record{Bank: bank, Channel: channel}

	if err := c.mux.Select(bank, channel); err != nil {
		if errors.Is(err, ErrOutOfRange) {
			return c.enterFault(err)
		}
		c.failures++
		if c.failures >= c.cfg.FaultThreshold {
			return c.enterFault(err)
		}
		// Keep the pass cadence; report the channel with the sentinel voltage.
		c.clock.Sleep(c.cfg.ChannelPeriod)
		rec.Temperature = c.readTemperature()
		rec.Voltage = telemetry.InvalidVoltage
	} else {
		c.failures = 0
		c.sampler.Discharge(c.discharge)
		if err := c.mux.SetOutputEnable(bank, true); err != nil {
			return c.enterFault(err)
		}
		c.clock.Sleep(c.settle)
		rec.Temperature = c.readTemperature()
		rec.Voltage = c.sampler.ToVoltage(c.sampler.ReadRaw())
		_ = c.mux.SetOutputEnable(bank, false)
	}

	_ = c.emitter.Record(rec)
	return c.advance()
}

func (c *Controller) advance() error {
	next, bankDone, passDone := c.cursor.Next(c.cfg.Banks)
	c.cursor = next

	if bankDone {
		if err := c.mux.DisableAll(); err != nil {
			c.failures++
			if c.failures >= c.cfg.FaultThreshold {
				return c.enterFault(err)
			}
		}
	}
	if passDone {
		c.endPass()
	}
	return nil
}

func (c *Controller) endPass() {
	c.completed++
	c.passOpen = false
	if c.cfg.PassMarkers {
		_ = c.emitter.PassSeparator()
	}
	if c.cfg.MaxPasses > 0 && c.completed >= c.cfg.MaxPasses {
		c.Shutdown()
		return
	}
	if c.cfg.CyclePeriod > 0 {
		next := c.passStart.Add(c.cfg.CyclePeriod)
		if next.After(c.clock.Now()) {
			c.nextPass = next
		}
	}
}

func (c *Controller) enterFault(err error) error {
	c.fault = err
	c.state = StateFault
	_ = c.mux.DisableAll()
	_ = c.emitter.Fault(err.Error())
	return err
}
