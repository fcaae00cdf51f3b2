//go:build rp2040

package main

import (
	"machine"

	"tinygo.org/x/drivers/mcp23017"
)

// portA is the low byte of the MCP23017 pin set.
const portA mcp23017.Pins = 0x00FF

// expander drives the multiplexer address lines through MCP23017 port A.
type expander struct {
	dev *mcp23017.Device
}

func newExpander(bus *machine.I2C, addr uint8) (*expander, error) {
	dev, err := mcp23017.NewI2C(bus, addr)
	if err != nil {
		return nil, err
	}
	if err := dev.SetModes([]mcp23017.PinMode{mcp23017.Output}); err != nil {
		return nil, err
	}
	return &expander{dev: dev}, nil
}

func (e *expander) WriteOutputs(value uint8) error {
	return e.dev.SetPins(mcp23017.Pins(value), portA)
}

func (e *expander) ReadOutputs() (uint8, error) {
	pins, err := e.dev.GetPins()
	if err != nil {
		return 0, err
	}
	return uint8(pins & portA), nil
}

// tempSensor reports the RP2040 internal sensor as raw 16-bit counts on the
// scale the sampler converts from.
type tempSensor struct{}

func (tempSensor) Get() uint16 {
	celsius := float64(machine.ReadTemperature()) / 1000
	v := 0.706 - (celsius-27)*0.001721
	raw := v / 3.3 * 65535
	switch {
	case raw < 0:
		return 0
	case raw > 65535:
		return 65535
	}
	return uint16(raw)
}
