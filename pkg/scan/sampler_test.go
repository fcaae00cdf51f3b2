package scan

import (
	"testing"
	"time"

	"github.com/itohio/muxscan/pkg/sim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdcToVoltage(t *testing.T) {
	tests := []struct {
		name string
		raw  uint16
		vref float64
		want float64
	}{
		{"zero", 0, 3.3, 0.0},
		{"full scale", 65535, 3.3, 3.3},
		{"half", 32768, 3.3, 1.65},
		{"other reference", 65535, 5.0, 5.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, AdcToVoltage(tt.raw, tt.vref), 0.001)
		})
	}
}

func TestAdcToTemperature(t *testing.T) {
	// 0.706 V is 27 °C.
	counts := 0.706 / 3.3 * 65535
	raw := uint16(counts)
	assert.InDelta(t, 27.0, AdcToTemperature(raw), 0.05)

	// One volt above the reference point.
	counts = 1.706 / 3.3 * 65535
	assert.InDelta(t, 27-(1.706-0.706)/0.001721, AdcToTemperature(uint16(counts)), 0.05)
}

func TestAdcToTemperature_MonotonicallyDecreasing(t *testing.T) {
	prev := AdcToTemperature(0)
	for raw := 1; raw <= 65535; raw++ {
		cur := AdcToTemperature(uint16(raw))
		if !assert.Less(t, cur, prev, "raw=%d", raw) {
			return
		}
		prev = cur
	}
}

type seqADC struct {
	values []uint16
	i      int
}

func (a *seqADC) Get() uint16 {
	v := a.values[a.i%len(a.values)]
	a.i++
	return v
}

func TestSampler_AveragesRawCounts(t *testing.T) {
	clock := sim.NewClock(time.Unix(0, 0))
	signal := &seqADC{values: []uint16{100, 200, 301}}
	cfg := DefaultSamplerConfig()
	cfg.Samples = 3
	cfg.SampleGap = time.Millisecond

	s, err := NewSampler(signal, &seqADC{values: []uint16{0}}, nil, clock, cfg)
	require.NoError(t, err)

	assert.Equal(t, uint16(200), s.ReadRaw(), "integer mean of raw counts")
	assert.Equal(t, 3, signal.i)
	assert.Equal(t, 2*time.Millisecond, clock.Slept(), "gap between reads only")
}

func TestSampler_SingleRead(t *testing.T) {
	clock := sim.NewClock(time.Unix(0, 0))
	signal := &seqADC{values: []uint16{1234}}
	sensor := &seqADC{values: []uint16{4321}}

	s, err := NewSampler(signal, sensor, nil, clock, SamplerConfig{})
	require.NoError(t, err)

	assert.Equal(t, uint16(1234), s.ReadRaw())
	assert.Equal(t, uint16(4321), s.ReadTemperatureRaw())
	assert.Equal(t, time.Duration(0), clock.Slept())
	assert.InDelta(t, AdcToVoltage(1234, DefaultVRef), s.ToVoltage(1234), 1e-12, "zero VRef defaults to 3.3 V")
}

func TestSampler_Discharge(t *testing.T) {
	clock := sim.NewClock(time.Unix(0, 0))
	line := sim.NewPin(true)

	s, err := NewSampler(&seqADC{values: []uint16{0}}, &seqADC{values: []uint16{0}}, line, clock, DefaultSamplerConfig())
	require.NoError(t, err)
	assert.False(t, line.Level(), "released on construction")

	s.Discharge(5 * time.Millisecond)
	assert.Equal(t, 1, line.Rises())
	assert.False(t, line.Level())
	assert.Equal(t, 5*time.Millisecond, clock.Slept())
}

func TestSampler_DischargeActiveLow(t *testing.T) {
	clock := sim.NewClock(time.Unix(0, 0))
	line := sim.NewPin(false)
	cfg := DefaultSamplerConfig()
	cfg.DischargeActiveLow = true

	s, err := NewSampler(&seqADC{values: []uint16{0}}, &seqADC{values: []uint16{0}}, line, clock, cfg)
	require.NoError(t, err)
	assert.True(t, line.Level())

	s.Discharge(time.Millisecond)
	assert.Equal(t, 1, line.Falls())
	assert.True(t, line.Level())
}

func TestNewSampler_RequiresADCs(t *testing.T) {
	_, err := NewSampler(nil, &seqADC{values: []uint16{0}}, nil, nil, DefaultSamplerConfig())
	assert.Error(t, err)
}
