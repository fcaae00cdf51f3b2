//go:build rp2040

package main

import "machine"

const (
	// Multiplexer tree
	NUM_BANKS      = 2
	CHANNEL_PERIOD = 50 // Time spent on one channel in milliseconds
	FAULT_LIMIT    = 3  // Consecutive expander failures before the scan faults

	// MCP23017 expander on I2C1, port A drives the 5-bit channel address
	EXPANDER_ADDR = 0x20
	I2C_FREQUENCY = 400 * machine.KHz

	PIN_SCL = machine.GP3
	PIN_SDA = machine.GP2

	// ADC pins
	PIN_SIGNAL_ADC = machine.ADC1 // GP27

	// Address latch strobe and ground-assist discharge
	PIN_STROBE    = machine.GP4
	PIN_DISCHARGE = machine.GP5

	// Serial configuration
	// Line format: "Mux: 1 Channel: 32 Temperature: 27.00000 Voltage: 3.3000\r\n" = ~60 bytes
	// 20 lines/sec * 60 bytes/line = 1,200 bytes/sec, well under the 11,520 bytes/sec of 115200 8N1
	UART_BAUD_RATE = 115200
	PIN_UART_TX    = machine.GP0
	PIN_UART_RX    = machine.GP1
)

// Chip-select and output-enable lines, one per bank.
var (
	PIN_CHIP_SELECTS   = [...]machine.Pin{machine.GP6, machine.GP7, machine.GP8, machine.GP9, machine.GP10, machine.GP11, machine.GP12, machine.GP13}
	PIN_OUTPUT_ENABLES = [...]machine.Pin{machine.GP14, machine.GP15, machine.GP16, machine.GP17, machine.GP18, machine.GP19, machine.GP20, machine.GP21}
)
