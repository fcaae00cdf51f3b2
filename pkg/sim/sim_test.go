package sim

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPin_Transitions(t *testing.T) {
	p := NewPin(true)

	var seen []bool
	p.OnChange(func(high bool) { seen = append(seen, high) })

	p.High()
	p.Low()
	p.Low()
	p.High()

	assert.True(t, p.Level())
	assert.Equal(t, 1, p.Rises())
	assert.Equal(t, 1, p.Falls())
	assert.Equal(t, []bool{false, true}, seen, "callback only on change")
}

func TestExpander(t *testing.T) {
	var e Expander

	require.NoError(t, e.WriteOutputs(5))
	v, err := e.ReadOutputs()
	require.NoError(t, err)
	assert.Equal(t, uint8(5), v)
	assert.Equal(t, uint8(0), e.Latched(), "not latched until strobed")

	e.Latch()
	assert.Equal(t, uint8(5), e.Latched())

	e.Fail(2)
	assert.ErrorIs(t, e.WriteOutputs(6), ErrBus)
	assert.ErrorIs(t, e.WriteOutputs(7), ErrBus)
	require.NoError(t, e.WriteOutputs(8))
	assert.Equal(t, []uint8{5, 8}, e.Writes())

	e.Fail(-1)
	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, e.WriteOutputs(9), ErrBus)
	}
	v, _ = e.ReadOutputs()
	assert.Equal(t, uint8(8), v, "failed writes leave the register")
}

func TestCounts(t *testing.T) {
	tests := []struct {
		name string
		v    float64
		want uint16
	}{
		{"zero", 0, 0},
		{"negative clamps", -1, 0},
		{"full scale", VRef, 65535},
		{"over range clamps", 5, 65535},
		{"half scale rounds", VRef / 2, 32768},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Counts(tt.v, VRef))
		})
	}
}

func TestADC(t *testing.T) {
	var a ADC
	assert.Equal(t, uint16(0), a.Get())

	a.Read = func() uint16 { return 1234 }
	assert.Equal(t, uint16(1234), a.Get())
}

func TestClock(t *testing.T) {
	start := time.Unix(1000, 0)
	c := NewClock(start)

	c.Sleep(50 * time.Millisecond)
	c.Sleep(0)
	c.Sleep(-time.Second)
	c.Sleep(25 * time.Millisecond)

	assert.Equal(t, start.Add(75*time.Millisecond), c.Now())
	assert.Equal(t, 75*time.Millisecond, c.Slept())
}
