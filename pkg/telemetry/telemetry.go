// Package telemetry implements the line-oriented wire format spoken between
// the scanner firmware and the host.
//
// Telemetry line (one per channel visit, CRLF terminated):
//
//	Mux: 1 Channel: 1 Temperature: 27.12345 Voltage: 1.2345
//
// Bank and channel are 1-based on the wire and 0-based in Record.
// The package allocates nothing on the formatting path so it can run on
// the microcontroller.
package telemetry

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Field tags.
const (
	TagMux         = "Mux:"
	TagChannel     = "Channel:"
	TagTemperature = "Temperature:"
	TagVoltage     = "Voltage:"
)

// Control lines.
const (
	PauseConfirmed = "Pause confirmed"
	EOF            = "EOF"
	FaultPrefix    = "Fault:"
	PassPrefix     = "Cycles Number:"
	PassSeparator  = "------------------------"
)

// Host commands.
const (
	CmdStart  = "START"
	CmdReset  = "RESET"
	CmdPause  = "PAUSE"
	CmdResume = "RESUME"
)

const (
	// ChannelsPerBank is the number of inputs on one multiplexer.
	ChannelsPerBank = 32

	// TemperaturePrecision and VoltagePrecision are the decimal places on the wire.
	TemperaturePrecision = 5
	VoltagePrecision     = 4

	// InvalidVoltage marks a record whose channel could not be addressed.
	InvalidVoltage = -1.0

	// MaxLineLength bounds a formatted telemetry line including CRLF.
	MaxLineLength = 96
)

var crlf = []byte("\r\n")

// ErrNotTelemetry is returned by Parse when a line lacks one of the four tags.
var ErrNotTelemetry = errors.New("not a telemetry line")

// Record is one sample of one (bank, channel) pair.
type Record struct {
	Bank        int     // 0-based
	Channel     int     // 0-based
	Temperature float64 // °C
	Voltage     float64 // V
}

// Valid reports whether the record carries a real voltage reading.
func (r Record) Valid() bool {
	return r.Voltage != InvalidVoltage
}

// AppendRecord appends the wire form of r, including CRLF, to dst.
func AppendRecord(dst []byte, r Record) []byte {
	dst = append(dst, TagMux...)
	dst = append(dst, ' ')
	dst = strconv.AppendInt(dst, int64(r.Bank+1), 10)
	dst = append(dst, ' ')
	dst = append(dst, TagChannel...)
	dst = append(dst, ' ')
	dst = strconv.AppendInt(dst, int64(r.Channel+1), 10)
	dst = append(dst, ' ')
	dst = append(dst, TagTemperature...)
	dst = append(dst, ' ')
	dst = strconv.AppendFloat(dst, r.Temperature, 'f', TemperaturePrecision, 64)
	dst = append(dst, ' ')
	dst = append(dst, TagVoltage...)
	dst = append(dst, ' ')
	dst = strconv.AppendFloat(dst, r.Voltage, 'f', VoltagePrecision, 64)
	return append(dst, crlf...)
}

// AppendLine appends a control line terminated by CRLF.
func AppendLine(dst []byte, line string) []byte {
	dst = append(dst, line...)
	return append(dst, crlf...)
}

// AppendPassHeader appends the marker that precedes pass n.
func AppendPassHeader(dst []byte, n int) []byte {
	dst = append(dst, PassPrefix...)
	dst = append(dst, ' ')
	dst = strconv.AppendInt(dst, int64(n), 10)
	return append(dst, crlf...)
}

// AppendFault appends a fault report.
func AppendFault(dst []byte, reason string) []byte {
	dst = append(dst, FaultPrefix...)
	dst = append(dst, ' ')
	dst = append(dst, reason...)
	return append(dst, crlf...)
}

// Format returns the wire form of r without the line terminator.
func Format(r Record) string {
	var buf [MaxLineLength]byte
	b := AppendRecord(buf[:0], r)
	return string(b[:len(b)-len(crlf)])
}

// Parse parses a telemetry line. Fields may appear in any order and be
// separated by any amount of whitespace; other tokens are ignored.
func Parse(line string) (Record, error) {
	fields := strings.Fields(line)

	var (
		r    Record
		seen int
	)
	for i := 0; i < len(fields)-1; i++ {
		value := fields[i+1]
		switch fields[i] {
		case TagMux:
			n, err := strconv.Atoi(value)
			if err != nil {
				return Record{}, fmt.Errorf("invalid mux %q: %w", value, err)
			}
			if n < 1 {
				return Record{}, fmt.Errorf("mux out of range: %d", n)
			}
			r.Bank = n - 1
			seen |= 1
		case TagChannel:
			n, err := strconv.Atoi(value)
			if err != nil {
				return Record{}, fmt.Errorf("invalid channel %q: %w", value, err)
			}
			if n < 1 || n > ChannelsPerBank {
				return Record{}, fmt.Errorf("channel out of range: %d", n)
			}
			r.Channel = n - 1
			seen |= 2
		case TagTemperature:
			v, err := parseFinite(strings.TrimSuffix(value, "°C"))
			if err != nil {
				return Record{}, fmt.Errorf("invalid temperature %q: %w", value, err)
			}
			r.Temperature = v
			seen |= 4
		case TagVoltage:
			v, err := parseFinite(strings.TrimSuffix(value, "V"))
			if err != nil {
				return Record{}, fmt.Errorf("invalid voltage %q: %w", value, err)
			}
			r.Voltage = v
			seen |= 8
		default:
			continue
		}
		i++
	}

	if seen != 15 {
		return Record{}, ErrNotTelemetry
	}
	return r, nil
}

// errNotFinite rejects NaN and infinities, which strconv accepts.
var errNotFinite = errors.New("not a finite number")

func parseFinite(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errNotFinite
	}
	return v, nil
}

// Kind classifies a received line.
type Kind int

const (
	KindOther Kind = iota
	KindTelemetry
	KindPauseConfirmed
	KindEOF
	KindFault
	KindPassHeader
	KindSeparator
)

func (k Kind) String() string {
	switch k {
	case KindTelemetry:
		return "telemetry"
	case KindPauseConfirmed:
		return "pause-confirmed"
	case KindEOF:
		return "eof"
	case KindFault:
		return "fault"
	case KindPassHeader:
		return "pass-header"
	case KindSeparator:
		return "separator"
	default:
		return "other"
	}
}

// Classify reports what kind of line this is. A line carrying all four
// telemetry tags is KindTelemetry even if its values do not parse.
func Classify(line string) Kind {
	line = strings.TrimSpace(line)
	switch {
	case line == PauseConfirmed:
		return KindPauseConfirmed
	case line == EOF:
		return KindEOF
	case strings.HasPrefix(line, FaultPrefix):
		return KindFault
	case strings.HasPrefix(line, PassPrefix):
		return KindPassHeader
	case line == PassSeparator:
		return KindSeparator
	case strings.Contains(line, TagMux) &&
		strings.Contains(line, TagChannel) &&
		strings.Contains(line, TagTemperature) &&
		strings.Contains(line, TagVoltage):
		return KindTelemetry
	}
	return KindOther
}

// ParsePassHeader returns the pass number of a "Cycles Number:" line.
func ParsePassHeader(line string) (int, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, PassPrefix) {
		return 0, fmt.Errorf("not a pass header: %q", line)
	}
	n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, PassPrefix)))
	if err != nil {
		return 0, fmt.Errorf("invalid pass number: %w", err)
	}
	return n, nil
}

// FaultReason returns the text following "Fault:".
func FaultReason(line string) string {
	return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), FaultPrefix))
}

// ParseCommand maps a host token to its canonical command. RESET is an
// alias of START. Unknown tokens return "".
func ParseCommand(token string) string {
	switch strings.TrimSpace(token) {
	case CmdStart, CmdReset:
		return CmdStart
	case CmdPause:
		return CmdPause
	case CmdResume:
		return CmdResume
	}
	return ""
}
