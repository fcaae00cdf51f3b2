package main

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/itohio/muxscan/pkg/config"
	"github.com/itohio/muxscan/pkg/journal"
	"github.com/itohio/muxscan/pkg/monitor"
	"github.com/itohio/muxscan/pkg/muxlog"
	"github.com/itohio/muxscan/pkg/sample"
	"github.com/itohio/muxscan/pkg/telemetry"
)

const chainBufferSize = 500

// scanChain tracks the components of the reading chain for graceful shutdown.
type scanChain struct {
	device         muxlog.Device
	journal        *journal.Journal
	sessionID      int64
	monitor        *monitor.Monitor
	eof            chan struct{} // closed when the scanner sends EOF or the transport fails
	err            error         // transport failure, valid once eof is closed
	monitorRoutine chan struct{} // closed when the monitor goroutine exits
}

// newScanChain wires device messages through the converters into the monitor
// and, when configured, the journal.
func newScanChain(ctx context.Context, cfg *config.Config, device muxlog.Device, source string) (*scanChain, error) {
	chain := &scanChain{
		device:         device,
		monitor:        monitor.New(cfg.Monitor),
		eof:            make(chan struct{}),
		monitorRoutine: make(chan struct{}),
	}

	if cfg.Journal.Path != "" {
		j, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			return nil, err
		}
		id, err := j.NewSession(ctx, source, cfg.Scan.Banks)
		if err != nil {
			_ = j.Close()
			return nil, err
		}
		chain.journal = j
		chain.sessionID = id
		log.Info("journal session", "path", cfg.Journal.Path, "session", id)
	}

	chain.monitor.OnUpdate(func(pass int, table []monitor.ChannelState, alerts []monitor.Alert) {
		active := 0
		for _, a := range alerts {
			if !a.Active {
				continue
			}
			active++
			chain.saveAlert(a)
		}
		log.Info("pass complete", "pass", pass, "channels", len(table), "open", active)
	})
	chain.monitor.OnAlert(chain.saveAlert)

	messages := chain.watch(device.Messages(), cfg.Journal.RawLines)

	readings := sample.NewConverter(chainBufferSize)(messages)
	if cfg.Monitor.AveragePasses > 0 {
		readings = sample.NewAveragingConverter(cfg.Monitor.AveragePasses, chainBufferSize)(readings)
	}
	if chain.journal != nil {
		readings = chain.journal.NewRecorder(context.Background(), chain.sessionID, chainBufferSize)(readings)
	}

	go func() {
		defer close(chain.monitorRoutine)
		chain.monitor.ProcessReadings(readings)
	}()

	return chain, nil
}

func (c *scanChain) saveAlert(a monitor.Alert) {
	if c.journal == nil {
		return
	}
	if err := c.journal.SaveAlert(context.Background(), c.sessionID, a); err != nil {
		log.PrintErr("failed to save alert", "err", err)
	}
}

// watch forwards messages, records raw lines and signals EOF. Malformed
// lines and transport failures are always recorded.
func (c *scanChain) watch(in <-chan muxlog.Message, rawLines bool) <-chan muxlog.Message {
	out := make(chan muxlog.Message, chainBufferSize)

	go func() {
		defer close(out)
		seenEOF := false
		for msg := range in {
			if c.journal != nil && (rawLines || msg.Err != nil) {
				if err := c.journal.SaveRawLine(context.Background(), c.sessionID, msg); err != nil {
					log.PrintErr("failed to save raw line", "err", err)
				}
			}

			switch msg.Kind {
			case telemetry.KindEOF:
				if msg.Failed() {
					log.PrintErr("scanner connection lost", "err", msg.Err)
				}
				if !seenEOF {
					seenEOF = true
					if msg.Failed() {
						c.err = msg.Err
					}
					close(c.eof)
				}
			case telemetry.KindPauseConfirmed:
				log.Info("scanner paused")
			}

			select {
			case out <- msg:
			case <-time.After(time.Second):
				log.Printf("Message channel full, dropping %q", msg.Line)
			}
		}
	}()

	return out
}

// close gracefully closes the chain.
// Waits for all goroutines to finish and channels to drain, and returns the
// device and journal close errors.
func (c *scanChain) close() error {
	var result error
	if c.device != nil {
		if err := c.device.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}

	<-c.monitorRoutine

	for _, a := range c.monitor.Alerts() {
		if a.Active {
			log.Info("open joint", "mux", a.Bank+1, "channel", a.Channel+1, "since_pass", a.StartPass, "min_voltage", a.MinVoltage)
		}
	}

	if c.journal != nil {
		if err := c.journal.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result
}
