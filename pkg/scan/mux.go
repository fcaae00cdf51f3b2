package scan

import (
	"errors"
	"fmt"
)

// ChannelsPerBank is the number of inputs on one multiplexer.
const ChannelsPerBank = 32

// DefaultIdleChannel is written to the expander while no bank is selected.
const DefaultIdleChannel = 0xFF

var (
	// ErrOutOfRange is returned for a bank or channel outside the configured tree.
	ErrOutOfRange = errors.New("bank or channel out of range")
	// ErrBus wraps expander write failures.
	ErrBus = errors.New("expander bus error")
)

// MuxConfig holds the polarity conventions of the multiplexer board.
type MuxConfig struct {
	ChipSelectActiveLow bool
	EnableActiveLow     bool
	IdleChannel         uint8
}

// DefaultMuxConfig returns active-low chip-select and output-enable with
// the 0xFF idle address.
func DefaultMuxConfig() MuxConfig {
	return MuxConfig{
		ChipSelectActiveLow: true,
		EnableActiveLow:     true,
		IdleChannel:         DefaultIdleChannel,
	}
}

// MuxDriver addresses one channel on one bank of the multiplexer tree.
//
// The channel address is shared by all banks and latched by the expander on
// the rising edge of the strobe line. Each bank has its own chip-select and
// output-enable line; at most one chip-select is active at any time.
type MuxDriver struct {
	cfg      MuxConfig
	exp      Expander
	strobe   Line
	selects  []Line
	enables  []Line
	selected int // -1 when every bank is disabled
	enabled  bool
}

// NewMuxDriver creates a driver for len(selects) banks. enables must have the
// same length; the same Line may be passed for several banks when the board
// shares one output-enable. The driver starts with every bank disabled.
func NewMuxDriver(exp Expander, strobe Line, selects, enables []Line, cfg MuxConfig) (*MuxDriver, error) {
	if exp == nil || strobe == nil {
		return nil, errors.New("mux: expander and strobe line are required")
	}
	if len(selects) == 0 {
		return nil, errors.New("mux: at least one bank is required")
	}
	if len(enables) != len(selects) {
		return nil, fmt.Errorf("mux: %d chip-selects but %d output-enables", len(selects), len(enables))
	}

	m := &MuxDriver{
		cfg:      cfg,
		exp:      exp,
		strobe:   strobe,
		selects:  selects,
		enables:  enables,
		selected: -1,
	}
	strobe.High()
	if err := m.DisableAll(); err != nil {
		return nil, err
	}
	return m, nil
}

// Banks returns the number of banks driven.
func (m *MuxDriver) Banks() int {
	return len(m.selects)
}

// Selected returns the bank whose chip-select is active, or -1.
func (m *MuxDriver) Selected() int {
	return m.selected
}

// Enabled reports whether the selected bank's output is enabled.
func (m *MuxDriver) Enabled() bool {
	return m.enabled
}

func (m *MuxDriver) check(bank, channel int) error {
	if bank < 0 || bank >= len(m.selects) || channel < 0 || channel >= ChannelsPerBank {
		return fmt.Errorf("mux %d channel %d: %w", bank, channel, ErrOutOfRange)
	}
	return nil
}

// Select latches channel into the address register and makes bank the only
// bank with an active chip-select. The bank's output is left disabled.
func (m *MuxDriver) Select(bank, channel int) error {
	if err := m.check(bank, channel); err != nil {
		return err
	}

	// Output must not be live while the address changes.
	m.disableOutputs()

	if err := m.latch(uint8(channel)); err != nil {
		return err
	}

	for i, cs := range m.selects {
		if i != bank {
			drive(cs, false, m.cfg.ChipSelectActiveLow)
		}
	}
	drive(m.selects[bank], true, m.cfg.ChipSelectActiveLow)
	m.selected = bank
	return nil
}

// SetOutputEnable drives the output-enable line of bank. Enabling is only
// allowed for the currently selected bank.
func (m *MuxDriver) SetOutputEnable(bank int, on bool) error {
	if err := m.check(bank, 0); err != nil {
		return err
	}
	if on && bank != m.selected {
		return fmt.Errorf("mux %d: output enable on unselected bank: %w", bank, ErrOutOfRange)
	}
	drive(m.enables[bank], on, m.cfg.EnableActiveLow)
	m.enabled = on
	return nil
}

// DisableAll releases every output-enable and chip-select and parks the
// address register on the idle channel. Lines are released before the
// expander write so a bus failure still leaves every bank disabled.
func (m *MuxDriver) DisableAll() error {
	m.disableOutputs()
	for _, cs := range m.selects {
		drive(cs, false, m.cfg.ChipSelectActiveLow)
	}
	m.selected = -1
	return m.latch(m.cfg.IdleChannel)
}

func (m *MuxDriver) disableOutputs() {
	for _, oe := range m.enables {
		drive(oe, false, m.cfg.EnableActiveLow)
	}
	m.enabled = false
}

// latch writes value while the strobe is low; the expander latches on the
// rising edge.
func (m *MuxDriver) latch(value uint8) error {
	m.strobe.Low()
	err := m.exp.WriteOutputs(value)
	m.strobe.High()
	if err != nil {
		return fmt.Errorf("write address 0x%02X: %w: %v", value, ErrBus, err)
	}
	return nil
}
