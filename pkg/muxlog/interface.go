package muxlog

import "github.com/itohio/muxscan/pkg/telemetry"

// Device defines the interface for scanner connections (real or mocked).
type Device interface {
	Connect() error
	Close() error
	Messages() <-chan Message
	Send(cmd string) error
	IsConnected() bool
}

// Ensure Serial implements Device.
var _ Device = (*Serial)(nil)

// Ensure Mock implements Device.
var _ Device = (*Mock)(nil)

// Start begins a scan, or restarts it from the first channel when paused.
func Start(d Device) error { return d.Send(telemetry.CmdStart) }

// Pause halts the scan; the device answers "Pause confirmed".
func Pause(d Device) error { return d.Send(telemetry.CmdPause) }

// Resume continues a paused scan at the channel where it stopped.
func Resume(d Device) error { return d.Send(telemetry.CmdResume) }
