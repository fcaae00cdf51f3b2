package muxlog

import (
	"strings"
	"sync"

	"github.com/ansel1/merry"
	"github.com/powerman/structlog"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"github.com/itohio/muxscan/pkg/telemetry"
)

const (
	// DefaultBaudRate is the UART rate of the scanner firmware.
	DefaultBaudRate = 115200
	// DefaultBufferSize is the default size of the messages channel buffer.
	DefaultBufferSize = 256

	// picoVID is the USB vendor ID of Raspberry Pi RP2040 boards.
	picoVID = "2E8A"
)

var (
	ErrNotConnected     = merry.New("not connected")
	ErrAlreadyConnected = merry.New("already connected")
	ErrClosed           = merry.New("device closed")
	ErrUnknownCommand   = merry.New("unknown command")
)

// Port represents a serial port.
type Port struct {
	Name        string
	Description string
	Pico        bool // USB VID matches an RP2040 board
}

// Serial is a connection to the scanner over a serial port.
type Serial struct {
	port     string
	baudRate int
	bufSize  int
	log      *structlog.Logger

	mu        sync.RWMutex
	conn      serial.Port
	messages  chan Message
	readDone  chan struct{}
	connected bool
	closed    bool // messages is closed, the device cannot reconnect
}

// New creates a new Serial instance with the specified port, baud rate, and buffer size.
func New(port string, baudRate int, bufSize int) *Serial {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	if bufSize == 0 {
		bufSize = DefaultBufferSize
	}

	return &Serial{
		port:     port,
		baudRate: baudRate,
		bufSize:  bufSize,
		log:      structlog.New(structlog.KeyUnit, "serial", "port", port),
		messages: make(chan Message, bufSize),
	}
}

// Ports returns the available serial ports, RP2040 boards first.
func Ports() ([]Port, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		names, err := serial.GetPortsList()
		if err != nil {
			return nil, merry.Prepend(err, "failed to list serial ports")
		}
		result := make([]Port, 0, len(names))
		for _, name := range names {
			result = append(result, Port{Name: name, Description: name})
		}
		return result, nil
	}

	var pico, other []Port
	for _, d := range details {
		p := Port{Name: d.Name, Description: d.Name}
		if d.IsUSB {
			if d.Product != "" {
				p.Description = d.Product
			}
			p.Pico = strings.EqualFold(d.VID, picoVID)
		}
		if p.Pico {
			pico = append(pico, p)
		} else {
			other = append(other, p)
		}
	}
	return append(pico, other...), nil
}

// Connect opens the serial port (8N1) and starts reading lines.
func (d *Serial) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed.Here()
	}
	if d.connected {
		return ErrAlreadyConnected.Here()
	}

	mode := &serial.Mode{
		BaudRate: d.baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(d.port, mode)
	if err != nil {
		return merry.Prependf(err, "failed to open serial port %s", d.port)
	}

	d.conn = port
	d.connected = true
	d.readDone = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		readMessages(d.log, port, d.messages)
		d.log.Debug("reader stopped")
	}(d.readDone)

	d.log.Info("connected", "baud", d.baudRate)
	return nil
}

// Close closes the port, waits for the reader and closes the messages channel.
// A closed device cannot be connected again.
func (d *Serial) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true
	if !d.connected {
		close(d.messages)
		return nil
	}

	var err error
	if d.conn != nil {
		err = d.conn.Close()
		d.conn = nil
	}
	<-d.readDone

	d.connected = false
	close(d.messages)

	return merry.Prepend(err, "failed to close serial port")
}

// Messages returns the channel of received lines.
func (d *Serial) Messages() <-chan Message {
	return d.messages
}

// Send writes a newline-terminated command to the scanner.
func (d *Serial) Send(cmd string) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.connected {
		return ErrNotConnected.Here()
	}
	if telemetry.ParseCommand(cmd) == "" {
		return merry.Prependf(ErrUnknownCommand.Here(), "%q", cmd)
	}

	if _, err := d.conn.Write([]byte(cmd + "\n")); err != nil {
		return merry.Prependf(err, "failed to send %s", cmd)
	}
	d.log.Debug("sent", "cmd", cmd)
	return nil
}

// IsConnected returns whether the device is currently connected.
func (d *Serial) IsConnected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.connected
}
