//go:build rp2040

//go:generate tinygo flash -target=pico

package main

import (
	"context"
	"machine"
	"time"

	"github.com/itohio/muxscan/pkg/scan"
	"github.com/itohio/muxscan/pkg/telemetry"
)

var uart = machine.UART0

func main() {
	uart.Configure(machine.UARTConfig{
		BaudRate: UART_BAUD_RATE,
		TX:       PIN_UART_TX,
		RX:       PIN_UART_RX,
	})

	PIN_STROBE.Configure(machine.PinConfig{Mode: machine.PinOutput})
	PIN_DISCHARGE.Configure(machine.PinConfig{Mode: machine.PinOutput})

	selects := make([]scan.Line, NUM_BANKS)
	enables := make([]scan.Line, NUM_BANKS)
	for i := range NUM_BANKS {
		PIN_CHIP_SELECTS[i].Configure(machine.PinConfig{Mode: machine.PinOutput})
		PIN_OUTPUT_ENABLES[i].Configure(machine.PinConfig{Mode: machine.PinOutput})
		selects[i] = PIN_CHIP_SELECTS[i]
		enables[i] = PIN_OUTPUT_ENABLES[i]
	}

	machine.InitADC()
	signal := machine.ADC{Pin: PIN_SIGNAL_ADC}
	signal.Configure(machine.ADCConfig{})

	machine.I2C1.Configure(machine.I2CConfig{
		SCL:       PIN_SCL,
		SDA:       PIN_SDA,
		Frequency: I2C_FREQUENCY,
	})
	exp, err := newExpander(machine.I2C1, EXPANDER_ADDR)
	if err != nil {
		halt("expander: " + err.Error())
	}

	cfg := scan.DefaultConfig()
	cfg.Banks = NUM_BANKS
	cfg.ChannelPeriod = CHANNEL_PERIOD * time.Millisecond
	cfg.FaultThreshold = FAULT_LIMIT

	ctrl, err := scan.New(cfg, scan.Hardware{
		Expander:      exp,
		Strobe:        PIN_STROBE,
		ChipSelects:   selects,
		OutputEnables: enables,
		Discharge:     PIN_DISCHARGE,
		Signal:        signal,
		Sensor:        tempSensor{},
		Transport:     uart,
	}, scan.SystemClock{})
	if err != nil {
		halt(err.Error())
	}

	if err := ctrl.Run(context.Background()); err != nil {
		halt(err.Error())
	}
	park()
}

// halt reports a fault to the host and parks the core.
func halt(reason string) {
	uart.Write(telemetry.AppendFault(nil, reason))
	park()
}

func park() {
	for {
		time.Sleep(time.Second)
	}
}
