package sample

import (
	"time"

	"github.com/powerman/structlog"

	"github.com/itohio/muxscan/pkg/muxlog"
	"github.com/itohio/muxscan/pkg/telemetry"
)

// DefaultBufferSize is the output buffer of converters.
const DefaultBufferSize = 256

var log = structlog.New(structlog.KeyUnit, "sample")

// Reading is one channel measurement assigned to a scan pass.
type Reading struct {
	Timestamp   time.Time
	Pass        int // 1-based
	Bank        int // 0-based
	Channel     int // 0-based
	Temperature float64
	Voltage     float64
	Valid       bool // false when the scanner could not address the channel
}

// Index returns the row-major position of the channel within a pass.
func (r Reading) Index() int {
	return r.Bank*telemetry.ChannelsPerBank + r.Channel
}

// Converter is a function type that converts a Message channel to a Reading channel.
type Converter func(in <-chan muxlog.Message) <-chan Reading

// NewConverter creates a converter that turns telemetry messages into
// readings. Pass numbers follow "Cycles Number:" headers when the scanner
// emits them; otherwise a new pass starts whenever the scan position wraps
// back (end of pass or a restart).
func NewConverter(bufSize int) Converter {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}

	return func(in <-chan muxlog.Message) <-chan Reading {
		out := make(chan Reading, bufSize)

		go func() {
			defer close(out)

			var passes passTracker
			for msg := range in {
				switch msg.Kind {
				case telemetry.KindPassHeader:
					passes.header(msg.Pass)
					continue
				case telemetry.KindFault:
					log.PrintErr("scanner fault", "reason", telemetry.FaultReason(msg.Line))
					continue
				case telemetry.KindTelemetry:
				case telemetry.KindEOF:
					continue
				default:
					if msg.Err != nil {
						log.Printf("Skipping malformed line %q: %v", msg.Line, msg.Err)
					}
					continue
				}

				r := convert(msg)
				r.Pass = passes.record(r.Index())

				select {
				case out <- r:
				case <-time.After(time.Second):
					log.Printf("Converter output channel full, dropping reading")
				}
			}
		}()

		return out
	}
}

func convert(msg muxlog.Message) Reading {
	return Reading{
		Timestamp:   msg.Time,
		Bank:        msg.Record.Bank,
		Channel:     msg.Record.Channel,
		Temperature: msg.Record.Temperature,
		Voltage:     msg.Record.Voltage,
		Valid:       msg.Record.Valid(),
	}
}

// passTracker numbers passes from headers or scan-position wrap-around.
type passTracker struct {
	pass    int
	last    int
	pending bool // a header set pass for the next record
}

func (p *passTracker) header(n int) {
	p.pass = n
	p.pending = true
}

func (p *passTracker) record(index int) int {
	switch {
	case p.pending:
		p.pending = false
	case p.pass == 0:
		p.pass = 1
	case index <= p.last:
		p.pass++
	}
	p.last = index
	return p.pass
}
