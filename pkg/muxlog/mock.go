package muxlog

import (
	"context"
	"io"
	"math/rand"
	"sync"

	"github.com/ansel1/merry"
	"github.com/powerman/structlog"

	"github.com/itohio/muxscan/pkg/config"
	"github.com/itohio/muxscan/pkg/scan"
	"github.com/itohio/muxscan/pkg/sim"
	"github.com/itohio/muxscan/pkg/telemetry"
)

// openJointVoltage is what an open (cracked) joint reads: the discharged
// sample-and-hold floor.
const openJointVoltage = 0.002

// Mock runs the real scan controller against simulated hardware and
// exposes its telemetry like a serial scanner.
type Mock struct {
	cfg  *config.MockConfig
	scan config.ScanConfig
	log  *structlog.Logger

	messages chan Message

	mu        sync.RWMutex
	cancel    context.CancelFunc
	connected bool
	closed    bool
	board     *sim.Board
	transport *sim.Transport
	pw        *io.PipeWriter
	runDone   chan struct{}
	readDone  chan struct{}
	open      map[[2]int]bool
	rnd       *rand.Rand
}

// NewMock creates a mocked scanner. sc describes the simulated board; its
// channel period is replaced by cfg.ChannelPeriod when set.
func NewMock(cfg *config.MockConfig, sc config.ScanConfig) *Mock {
	def := config.Default()
	if cfg == nil {
		cfg = &def.Mock
	}
	if sc.Banks == 0 {
		sc = def.Scan
	}

	open := make(map[[2]int]bool, len(cfg.OpenChannels))
	for _, ch := range cfg.OpenChannels {
		open[[2]int{ch.Mux - 1, ch.Channel - 1}] = true
	}

	return &Mock{
		cfg:      cfg,
		scan:     sc,
		log:      structlog.New(structlog.KeyUnit, "mock"),
		messages: make(chan Message, DefaultBufferSize),
		open:     open,
		rnd:      rand.New(rand.NewSource(1)),
	}
}

// Connect builds the simulated board and starts the controller.
func (m *Mock) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed.Here()
	}
	if m.connected {
		return ErrAlreadyConnected.Here()
	}

	cfg := m.scan.Controller()
	if m.cfg.ChannelPeriod > 0 {
		cfg.ChannelPeriod = m.cfg.ChannelPeriod
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = scan.DefaultConfig().PollTimeout
	}

	board := sim.NewBoard(cfg.Banks, m.source)
	board.ChipSelectActiveLow = cfg.Mux.ChipSelectActiveLow
	board.EnableActiveLow = cfg.Mux.EnableActiveLow
	board.SetSensorVoltage(sensorVoltage(m.cfg.AmbientTemperature))

	pr, pw := io.Pipe()
	transport := sim.NewTransport(pw)

	ctrl, err := scan.New(cfg, scan.Hardware{
		Expander:      board.Expander,
		Strobe:        board.Strobe,
		ChipSelects:   lines(board.ChipSelects),
		OutputEnables: lines(board.OutputEnables),
		Discharge:     board.Discharge,
		Signal:        board.Signal,
		Sensor:        board.Sensor,
		Transport:     transport,
	}, scan.SystemClock{})
	if err != nil {
		return merry.Prepend(err, "failed to build mock scanner")
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.board = board
	m.transport = transport
	m.pw = pw
	m.runDone = make(chan struct{})
	m.readDone = make(chan struct{})
	m.connected = true

	go func() {
		defer close(m.runDone)
		err := ctrl.Run(ctx)
		m.log.Debug("controller stopped", "state", ctrl.State(), "passes", ctrl.Passes(), "err", err)
	}()
	go func() {
		defer close(m.readDone)
		readMessages(m.log, pr, m.messages)
		// Keep the controller unblocked after EOF.
		_, _ = io.Copy(io.Discard, pr)
	}()

	m.log.Info("connected", "banks", cfg.Banks, "period", cfg.ChannelPeriod)
	return nil
}

// Close stops the controller, which emits EOF, then closes the messages channel.
// A closed mock cannot be connected again.
func (m *Mock) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	if !m.connected {
		m.mu.Unlock()
		close(m.messages)
		return nil
	}
	m.connected = false
	cancel, runDone, readDone, pw := m.cancel, m.runDone, m.readDone, m.pw
	m.mu.Unlock()

	cancel()
	<-runDone
	_ = pw.Close()
	<-readDone
	close(m.messages)
	return nil
}

// Messages returns the channel of received lines.
func (m *Mock) Messages() <-chan Message {
	return m.messages
}

// Send queues a command for the simulated scanner.
func (m *Mock) Send(cmd string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.connected {
		return ErrNotConnected.Here()
	}
	if telemetry.ParseCommand(cmd) == "" {
		return merry.Prependf(ErrUnknownCommand.Here(), "%q", cmd)
	}
	m.transport.Send(cmd + "\n")
	return nil
}

// IsConnected returns whether the device is currently connected.
func (m *Mock) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// Board exposes the simulated hardware.
func (m *Mock) Board() *sim.Board {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.board
}

// source is the analog model of the board under test. It runs on the
// controller goroutine only.
func (m *Mock) source(bank, channel int) float64 {
	noise := (m.rnd.Float64()*2 - 1) * m.cfg.NoiseLevel
	if m.open[[2]int{bank, channel}] {
		v := openJointVoltage + noise
		if v < 0 {
			v = 0
		}
		return v
	}
	return m.cfg.BaseVoltage + noise
}

// sensorVoltage inverts the onboard sensor transfer function.
func sensorVoltage(celsius float64) float64 {
	return sim.SensorRoomVoltage - (celsius-27)*0.001721
}

func lines(pins []*sim.Pin) []scan.Line {
	out := make([]scan.Line, len(pins))
	for i, p := range pins {
		out[i] = p
	}
	return out
}
