package scan

import (
	"errors"
	"strings"
	"testing"

	"github.com/itohio/muxscan/pkg/sim"
	"github.com/itohio/muxscan/pkg/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitter_Lines(t *testing.T) {
	tr := sim.NewTransport(nil)
	e := NewEmitter(tr)

	require.NoError(t, e.PassHeader(3))
	require.NoError(t, e.Record(telemetry.Record{Bank: 1, Channel: 31, Temperature: 27, Voltage: 1.25}))
	require.NoError(t, e.PassSeparator())
	require.NoError(t, e.PauseConfirmed())
	require.NoError(t, e.Fault("expander bus error"))
	require.NoError(t, e.EOF())

	lines := tr.Lines()
	require.Len(t, lines, 6)
	assert.Equal(t, 6, e.Lines())
	assert.Equal(t, telemetry.KindPassHeader, telemetry.Classify(lines[0]))
	assert.Equal(t, telemetry.Format(telemetry.Record{Bank: 1, Channel: 31, Temperature: 27, Voltage: 1.25}), lines[1])
	assert.Equal(t, telemetry.PassSeparator, lines[2])
	assert.Equal(t, telemetry.PauseConfirmed, lines[3])
	assert.Equal(t, "expander bus error", telemetry.FaultReason(lines[4]))
	assert.Equal(t, telemetry.EOF, lines[5])
	assert.True(t, strings.HasSuffix(tr.Output(), "\r\n"))
}

func TestEmitter_FaultTruncated(t *testing.T) {
	tr := sim.NewTransport(nil)
	e := NewEmitter(tr)

	require.NoError(t, e.Fault(strings.Repeat("x", 500)))

	out := tr.Output()
	assert.LessOrEqual(t, len(out), telemetry.MaxLineLength)
	assert.True(t, strings.HasSuffix(out, "\r\n"))
	assert.Equal(t, telemetry.KindFault, telemetry.Classify(tr.Lines()[0]))
}

type brokenTransport struct{ sim.Transport }

var errBroken = errors.New("broken")

func (*brokenTransport) Write([]byte) (int, error) { return 0, errBroken }

func TestEmitter_WriteError(t *testing.T) {
	e := NewEmitter(&brokenTransport{})

	assert.ErrorIs(t, e.EOF(), errBroken)
	assert.Equal(t, 0, e.Lines())
}
