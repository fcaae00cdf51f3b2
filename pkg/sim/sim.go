// Package sim provides simulated scanner hardware: GPIO lines, an I/O
// expander, ADCs, a serial transport and a manual clock. A Board wires them
// together so the signal ADC reads the channel actually addressed by the
// expander on the bank whose chip-select and output-enable are active.
package sim

import (
	"errors"
	"sync"
	"time"
)

// Pin is a simulated digital output.
type Pin struct {
	mu       sync.Mutex
	level    bool
	rises    int
	falls    int
	onChange func(high bool)
}

// NewPin returns a pin at the given initial level.
func NewPin(high bool) *Pin {
	return &Pin{level: high}
}

func (p *Pin) High() { p.set(true) }
func (p *Pin) Low()  { p.set(false) }

func (p *Pin) set(high bool) {
	p.mu.Lock()
	changed := p.level != high
	p.level = high
	if changed {
		if high {
			p.rises++
		} else {
			p.falls++
		}
	}
	cb := p.onChange
	p.mu.Unlock()

	if changed && cb != nil {
		cb(high)
	}
}

// Level returns true when the pin is high.
func (p *Pin) Level() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

// Rises returns the number of low-to-high transitions.
func (p *Pin) Rises() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rises
}

// Falls returns the number of high-to-low transitions.
func (p *Pin) Falls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.falls
}

// OnChange registers a callback invoked after every level change.
func (p *Pin) OnChange(cb func(high bool)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onChange = cb
}

// ErrBus is returned by a failing expander.
var ErrBus = errors.New("sim: i2c nack")

// Expander is a simulated 8-bit output port. Writes land in the output
// register; Latch copies it to the multiplexer address.
type Expander struct {
	mu       sync.Mutex
	register uint8
	latched  uint8
	writes   []uint8
	failures int // remaining writes to fail, negative fails forever
}

// WriteOutputs stores value in the output register.
func (e *Expander) WriteOutputs(value uint8) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failures != 0 {
		if e.failures > 0 {
			e.failures--
		}
		return ErrBus
	}
	e.register = value
	e.writes = append(e.writes, value)
	return nil
}

// ReadOutputs reads back the output register.
func (e *Expander) ReadOutputs() (uint8, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.register, nil
}

// Latch copies the output register to the address lines.
func (e *Expander) Latch() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.latched = e.register
}

// Latched returns the address currently presented to the multiplexers.
func (e *Expander) Latched() uint8 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.latched
}

// Writes returns every successfully written value.
func (e *Expander) Writes() []uint8 {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]uint8, len(e.writes))
	copy(out, e.writes)
	return out
}

// Fail makes the next n writes fail. A negative n fails every write.
func (e *Expander) Fail(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures = n
}

// ADC is a simulated analog input.
type ADC struct {
	Read func() uint16
}

func (a *ADC) Get() uint16 {
	if a.Read == nil {
		return 0
	}
	return a.Read()
}

// Counts converts volts to a 16-bit count against vref, clamped to range.
func Counts(v, vref float64) uint16 {
	x := v / vref * 65535
	switch {
	case x <= 0:
		return 0
	case x >= 65535:
		return 65535
	}
	return uint16(x + 0.5)
}

// Clock is a manual clock: Sleep advances Now without blocking.
type Clock struct {
	mu    sync.Mutex
	now   time.Time
	slept time.Duration
}

// NewClock returns a clock starting at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.slept += d
}

// Slept returns the total time slept.
func (c *Clock) Slept() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slept
}
