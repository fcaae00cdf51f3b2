package scan

import (
	"github.com/itohio/muxscan/pkg/telemetry"
)

// Emitter writes telemetry lines to the transport. Each line is built in a
// fixed buffer and handed to the transport in a single Write.
type Emitter struct {
	transport Transport
	buf       [telemetry.MaxLineLength]byte
	lines     int
}

// NewEmitter creates an emitter over transport.
func NewEmitter(transport Transport) *Emitter {
	return &Emitter{transport: transport}
}

// Record emits one sample.
func (e *Emitter) Record(r telemetry.Record) error {
	return e.write(telemetry.AppendRecord(e.buf[:0], r))
}

// PauseConfirmed acknowledges a PAUSE command.
func (e *Emitter) PauseConfirmed() error {
	return e.write(telemetry.AppendLine(e.buf[:0], telemetry.PauseConfirmed))
}

// EOF terminates the session.
func (e *Emitter) EOF() error {
	return e.write(telemetry.AppendLine(e.buf[:0], telemetry.EOF))
}

// Fault reports an unrecoverable condition.
func (e *Emitter) Fault(reason string) error {
	if limit := len(e.buf) - len(telemetry.FaultPrefix) - 3; len(reason) > limit {
		reason = reason[:limit]
	}
	return e.write(telemetry.AppendFault(e.buf[:0], reason))
}

// PassHeader marks the start of pass n.
func (e *Emitter) PassHeader(n int) error {
	return e.write(telemetry.AppendPassHeader(e.buf[:0], n))
}

// PassSeparator marks the end of a pass.
func (e *Emitter) PassSeparator() error {
	return e.write(telemetry.AppendLine(e.buf[:0], telemetry.PassSeparator))
}

// Lines returns the number of lines written.
func (e *Emitter) Lines() int {
	return e.lines
}

func (e *Emitter) write(line []byte) error {
	if _, err := e.transport.Write(line); err != nil {
		return err
	}
	e.lines++
	return nil
}
