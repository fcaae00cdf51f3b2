package scan

import (
	"bytes"
	"time"

	"github.com/itohio/muxscan/pkg/telemetry"
)

// Command is a host request recognized by the controller.
type Command int

const (
	CommandNone Command = iota
	CommandStart
	CommandPause
	CommandResume
)

func (c Command) String() string {
	switch c {
	case CommandStart:
		return telemetry.CmdStart
	case CommandPause:
		return telemetry.CmdPause
	case CommandResume:
		return telemetry.CmdResume
	default:
		return "NONE"
	}
}

const (
	commandBufferSize = 16
	pollInterval      = 100 * time.Microsecond
)

// CommandReader assembles newline-terminated tokens from the transport
// without blocking the scan loop.
type CommandReader struct {
	transport Transport
	clock     Clock

	buf      [commandBufferSize]byte
	pos      int
	overflow bool // discard until the next newline
}

// NewCommandReader creates a reader over transport.
func NewCommandReader(transport Transport, clock Clock) *CommandReader {
	if clock == nil {
		clock = SystemClock{}
	}
	return &CommandReader{transport: transport, clock: clock}
}

// Poll returns the first complete command received within timeout. With a
// zero timeout only the bytes already buffered are examined. Unrecognized
// tokens are dropped and polling continues until the deadline.
func (r *CommandReader) Poll(timeout time.Duration) Command {
	deadline := r.clock.Now().Add(timeout)
	for {
		if cmd := r.drain(); cmd != CommandNone {
			return cmd
		}
		if timeout <= 0 || !r.clock.Now().Before(deadline) {
			return CommandNone
		}
		wait := pollInterval
		if remaining := deadline.Sub(r.clock.Now()); remaining < wait {
			wait = remaining
		}
		r.clock.Sleep(wait)
	}
}

// drain consumes buffered bytes up to the first recognized command.
func (r *CommandReader) drain() Command {
	for r.transport.Buffered() > 0 {
		b, err := r.transport.ReadByte()
		if err != nil {
			return CommandNone
		}

		if b == '\n' || b == '\r' {
			cmd := CommandNone
			if !r.overflow && r.pos > 0 {
				cmd = parseCommand(bytes.TrimRight(r.buf[:r.pos], " \t"))
			}
			r.pos = 0
			r.overflow = false
			if cmd != CommandNone {
				return cmd
			}
			continue
		}

		if r.pos == 0 && (b == ' ' || b == '\t') {
			continue
		}

		if r.overflow {
			continue
		}
		if r.pos == len(r.buf) {
			r.overflow = true
			r.pos = 0
			continue
		}
		r.buf[r.pos] = b
		r.pos++
	}
	return CommandNone
}

func parseCommand(token []byte) Command {
	switch string(token) {
	case telemetry.CmdStart, telemetry.CmdReset:
		return CommandStart
	case telemetry.CmdPause:
		return CommandPause
	case telemetry.CmdResume:
		return CommandResume
	}
	return CommandNone
}
