package scan

import (
	"testing"

	"github.com/itohio/muxscan/pkg/sim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pinLines(pins []*sim.Pin) []Line {
	out := make([]Line, len(pins))
	for i, p := range pins {
		out[i] = p
	}
	return out
}

func newTestMux(t *testing.T, board *sim.Board, cfg MuxConfig) *MuxDriver {
	t.Helper()
	m, err := NewMuxDriver(board.Expander, board.Strobe, pinLines(board.ChipSelects), pinLines(board.OutputEnables), cfg)
	require.NoError(t, err)
	return m
}

func TestNewMuxDriver_StartsDisabled(t *testing.T) {
	board := sim.NewBoard(4, sim.Ramp)
	m := newTestMux(t, board, DefaultMuxConfig())

	assert.Equal(t, 4, m.Banks())
	assert.Equal(t, -1, m.Selected())
	assert.Empty(t, board.ActiveBanks())

	reg, err := board.Expander.ReadOutputs()
	require.NoError(t, err)
	assert.Equal(t, uint8(DefaultIdleChannel), reg)
	assert.Equal(t, uint8(DefaultIdleChannel), board.Expander.Latched())
}

func TestNewMuxDriver_Validation(t *testing.T) {
	board := sim.NewBoard(2, sim.Ramp)

	_, err := NewMuxDriver(nil, board.Strobe, pinLines(board.ChipSelects), pinLines(board.OutputEnables), DefaultMuxConfig())
	assert.Error(t, err)

	_, err = NewMuxDriver(board.Expander, board.Strobe, nil, nil, DefaultMuxConfig())
	assert.Error(t, err)

	_, err = NewMuxDriver(board.Expander, board.Strobe, pinLines(board.ChipSelects), pinLines(board.OutputEnables[:1]), DefaultMuxConfig())
	assert.Error(t, err)
}

// Active-low chip-select and output-enable, as on the reference board.
func TestMuxDriver_SelectReadBack(t *testing.T) {
	for _, banks := range []int{1, 2, 8} {
		board := sim.NewBoard(banks, sim.Ramp)
		m := newTestMux(t, board, DefaultMuxConfig())

		for bank := 0; bank < banks; bank++ {
			for channel := 0; channel < ChannelsPerBank; channel++ {
				require.NoError(t, m.Select(bank, channel))

				reg, err := board.Expander.ReadOutputs()
				require.NoError(t, err)
				assert.Equal(t, uint8(channel), reg)
				assert.Equal(t, uint8(channel), board.Expander.Latched(), "latched on strobe rising edge")
				assert.Equal(t, []int{bank}, board.ActiveBanks(), "exactly one chip-select active")
				assert.Equal(t, bank, m.Selected())
			}
		}
	}
}

func TestMuxDriver_SelectOutOfRange(t *testing.T) {
	board := sim.NewBoard(2, sim.Ramp)
	m := newTestMux(t, board, DefaultMuxConfig())
	require.NoError(t, m.Select(1, 3))
	writes := len(board.Expander.Writes())

	tests := []struct {
		name          string
		bank, channel int
	}{
		{"negative bank", -1, 0},
		{"bank past end", 2, 0},
		{"negative channel", 0, -1},
		{"channel past end", 0, 32},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.Select(tt.bank, tt.channel)
			assert.ErrorIs(t, err, ErrOutOfRange)
			assert.Len(t, board.Expander.Writes(), writes, "no hardware write on rejected select")
			assert.Equal(t, []int{1}, board.ActiveBanks())
		})
	}
}

func TestMuxDriver_OutputEnable(t *testing.T) {
	board := sim.NewBoard(2, sim.Ramp)
	m := newTestMux(t, board, DefaultMuxConfig())

	// Enabling an unselected bank is refused.
	assert.ErrorIs(t, m.SetOutputEnable(0, true), ErrOutOfRange)
	assert.False(t, board.Enabled(0))

	require.NoError(t, m.Select(0, 4))
	require.NoError(t, m.SetOutputEnable(0, true))
	assert.True(t, board.Enabled(0))
	assert.True(t, m.Enabled())
	assert.False(t, board.OutputEnables[0].Level(), "active low")

	// Re-selecting releases the output before the address changes.
	require.NoError(t, m.Select(0, 5))
	assert.False(t, board.Enabled(0))
	assert.False(t, m.Enabled())

	require.NoError(t, m.SetOutputEnable(0, true))
	require.NoError(t, m.SetOutputEnable(0, false))
	assert.False(t, board.Enabled(0))
}

func TestMuxDriver_DisableAll(t *testing.T) {
	board := sim.NewBoard(3, sim.Ramp)
	m := newTestMux(t, board, DefaultMuxConfig())

	require.NoError(t, m.Select(2, 31))
	require.NoError(t, m.SetOutputEnable(2, true))
	require.NoError(t, m.DisableAll())

	assert.Empty(t, board.ActiveBanks())
	assert.False(t, board.Enabled(2))
	assert.Equal(t, -1, m.Selected())
	assert.Equal(t, uint8(DefaultIdleChannel), board.Expander.Latched())
}

func TestMuxDriver_BankSwitchNeverOverlaps(t *testing.T) {
	board := sim.NewBoard(2, sim.Ramp)
	m := newTestMux(t, board, DefaultMuxConfig())

	maxActive := 0
	for _, cs := range board.ChipSelects {
		cs.OnChange(func(bool) {
			if n := len(board.ActiveBanks()); n > maxActive {
				maxActive = n
			}
		})
	}

	for pass := 0; pass < 2; pass++ {
		for bank := 0; bank < 2; bank++ {
			for channel := 0; channel < ChannelsPerBank; channel++ {
				require.NoError(t, m.Select(bank, channel))
			}
		}
	}
	assert.Equal(t, 1, maxActive)
}

// Active-high polarity and a zero idle address, as used by some board revisions.
func TestMuxDriver_ActiveHighPolarity(t *testing.T) {
	board := sim.NewBoard(2, sim.Ramp)
	board.ChipSelectActiveLow = false
	board.EnableActiveLow = false
	cfg := MuxConfig{IdleChannel: 0}
	m := newTestMux(t, board, cfg)

	assert.Empty(t, board.ActiveBanks())
	require.NoError(t, m.Select(1, 7))
	assert.Equal(t, []int{1}, board.ActiveBanks())
	assert.True(t, board.ChipSelects[1].Level())
	assert.False(t, board.ChipSelects[0].Level())

	require.NoError(t, m.SetOutputEnable(1, true))
	assert.True(t, board.OutputEnables[1].Level())

	require.NoError(t, m.DisableAll())
	assert.Equal(t, uint8(0), board.Expander.Latched())
}

func TestMuxDriver_BusError(t *testing.T) {
	board := sim.NewBoard(2, sim.Ramp)
	m := newTestMux(t, board, DefaultMuxConfig())

	board.Expander.Fail(1)
	err := m.Select(0, 1)
	assert.ErrorIs(t, err, ErrBus)
	assert.True(t, board.Strobe.Level(), "strobe released after failed write")

	require.NoError(t, m.Select(0, 1))
	assert.Equal(t, uint8(1), board.Expander.Latched())
}
