package main

import (
	"bufio"
	"io"
	"strings"

	"github.com/itohio/muxscan/pkg/monitor"
	"github.com/itohio/muxscan/pkg/muxlog"
)

// Operator commands read from stdin.
const (
	cmdStart  = "start"
	cmdReset  = "reset"
	cmdPause  = "pause"
	cmdResume = "resume"
	cmdStatus = "status"
	cmdQuit   = "quit"
)

// readCommands delivers trimmed, lower-cased lines from r until it closes.
func readCommands(r io.Reader) <-chan string {
	out := make(chan string)

	go func() {
		defer close(out)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			cmd := strings.ToLower(strings.TrimSpace(scanner.Text()))
			if cmd == "" {
				continue
			}
			out <- cmd
		}
	}()

	return out
}

// handleCommand executes one operator command and reports whether to quit.
func handleCommand(cmd string, device muxlog.Device, m monitor.PassMonitor) bool {
	var err error
	switch cmd {
	case cmdStart, cmdReset:
		err = muxlog.Start(device)
	case cmdPause:
		err = muxlog.Pause(device)
	case cmdResume:
		err = muxlog.Resume(device)
	case cmdStatus:
		printStatus(m)
	case cmdQuit, "exit", "q":
		return true
	default:
		log.Printf("Unknown command %q (start, pause, resume, status, quit)", cmd)
	}
	if err != nil {
		log.PrintErr("command failed", "cmd", cmd, "err", err)
	}
	return false
}

func printStatus(m monitor.PassMonitor) {
	table := m.Table()
	faults := 0
	for _, st := range table {
		faults += st.Fault
	}
	log.Info("status", "pass", m.Pass(), "channels", len(table), "faults", faults)
	for _, a := range m.Alerts() {
		log.Info("alert", "mux", a.Bank+1, "channel", a.Channel+1,
			"passes", a.Passes(), "min_voltage", a.MinVoltage, "active", a.Active)
	}
}
