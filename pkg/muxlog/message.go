package muxlog

import (
	"bufio"
	"io"
	"strings"
	"time"

	"github.com/ansel1/merry"
	"github.com/powerman/structlog"

	"github.com/itohio/muxscan/pkg/telemetry"
)

// Message is one line received from the scanner.
type Message struct {
	Time   time.Time
	Kind   telemetry.Kind
	Line   string
	Record telemetry.Record // set for KindTelemetry
	Pass   int              // set for KindPassHeader
	Err    error            // parse error for KindOther, transport error for KindEOF
}

// transportFailTimeout bounds the wait to deliver a transport failure.
const transportFailTimeout = time.Second

// Valid reports whether the message is a well-formed telemetry record.
func (m Message) Valid() bool {
	return m.Kind == telemetry.KindTelemetry && m.Err == nil
}

// Failed reports whether the message ends the stream because the transport
// failed rather than because the scanner finished.
func (m Message) Failed() bool {
	return m.Kind == telemetry.KindEOF && m.Err != nil
}

// ParseLine classifies a received line. Lines that look like telemetry but
// fail to parse are returned as KindOther with Err set.
func ParseLine(line string, ts time.Time) Message {
	line = strings.TrimSpace(line)
	msg := Message{Time: ts, Line: line, Kind: telemetry.Classify(line)}

	switch msg.Kind {
	case telemetry.KindTelemetry:
		msg.Record, msg.Err = telemetry.Parse(line)
	case telemetry.KindPassHeader:
		msg.Pass, msg.Err = telemetry.ParsePassHeader(line)
	}
	if msg.Err != nil {
		msg.Kind = telemetry.KindOther
	}
	return msg
}

// readMessages scans r line by line and publishes every non-empty line on
// out until r fails or the scanner reports EOF. It never blocks on out: a
// full channel drops the message. A read error is published as a failed
// KindEOF message so consumers stop waiting for the scanner.
func readMessages(log *structlog.Logger, r io.Reader, out chan<- Message) {
	defer func() {
		if p := recover(); p != nil {
			log.PrintErr("panic in reader", "panic", p)
		}
	}()

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		msg := ParseLine(line, time.Now())
		if msg.Err != nil {
			log.Printf("malformed line %q: %v", line, msg.Err)
		}

		select {
		case out <- msg:
		default:
			log.Printf("messages channel full, dropping %q", line)
		}

		if msg.Kind == telemetry.KindEOF {
			return
		}
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		log.PrintErr("read failed", "err", err)
		msg := Message{
			Time: time.Now(),
			Kind: telemetry.KindEOF,
			Err:  merry.Prepend(err, "transport failed"),
		}
		select {
		case out <- msg:
		case <-time.After(transportFailTimeout):
			log.Printf("messages channel full, dropping transport failure")
		}
	}
}
