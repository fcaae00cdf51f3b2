package sim

import "sync"

const (
	// VRef is the simulated ADC reference.
	VRef = 3.3
	// SensorRoomVoltage is the sensor output at 27 °C.
	SensorRoomVoltage = 0.706
)

// Source returns the analog voltage present on one input.
type Source func(bank, channel int) float64

// Board is a simulated multiplexer tree. The signal ADC reads Source for the
// latched address of the single bank whose chip-select and output-enable
// are active; it reads 0 V when no bank qualifies.
type Board struct {
	Expander      *Expander
	Strobe        *Pin
	ChipSelects   []*Pin
	OutputEnables []*Pin
	Discharge     *Pin
	Signal        *ADC
	Sensor        *ADC

	ChipSelectActiveLow bool
	EnableActiveLow     bool

	mu            sync.Mutex
	source        Source
	sensorVoltage float64
	contention    int
	enablePulses  int
	samples       int
}

// NewBoard creates a board with banks multiplexers, active-low chip-select
// and output-enable, every line at its inactive level.
func NewBoard(banks int, source Source) *Board {
	b := &Board{
		Expander:            &Expander{},
		Strobe:              NewPin(true),
		Discharge:           NewPin(false),
		ChipSelectActiveLow: true,
		EnableActiveLow:     true,
		source:              source,
		sensorVoltage:       SensorRoomVoltage,
	}
	b.Strobe.OnChange(func(high bool) {
		if high {
			b.Expander.Latch()
		}
	})
	for i := 0; i < banks; i++ {
		b.ChipSelects = append(b.ChipSelects, NewPin(true))
		oe := NewPin(true)
		oe.OnChange(func(high bool) {
			if high != b.EnableActiveLow {
				b.mu.Lock()
				b.enablePulses++
				b.mu.Unlock()
			}
		})
		b.OutputEnables = append(b.OutputEnables, oe)
	}
	b.Signal = &ADC{Read: b.readSignal}
	b.Sensor = &ADC{Read: b.readSensor}
	return b
}

// SetSource replaces the analog source.
func (b *Board) SetSource(source Source) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.source = source
}

// SetSensorVoltage sets the temperature sensor output.
func (b *Board) SetSensorVoltage(v float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sensorVoltage = v
}

// ActiveBanks returns the banks whose chip-select is at its active level.
func (b *Board) ActiveBanks() []int {
	var active []int
	for i, cs := range b.ChipSelects {
		if cs.Level() != b.ChipSelectActiveLow {
			active = append(active, i)
		}
	}
	return active
}

// Enabled reports whether the output-enable of bank is active.
func (b *Board) Enabled(bank int) bool {
	return b.OutputEnables[bank].Level() != b.EnableActiveLow
}

// Contention returns the number of signal reads taken while more than one
// chip-select was active.
func (b *Board) Contention() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.contention
}

// EnablePulses returns the number of output-enable activations.
func (b *Board) EnablePulses() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.enablePulses
}

// Samples returns the number of signal ADC reads.
func (b *Board) Samples() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.samples
}

func (b *Board) readSignal() uint16 {
	active := b.ActiveBanks()
	channel := int(b.Expander.Latched())

	b.mu.Lock()
	defer b.mu.Unlock()
	b.samples++
	if len(active) > 1 {
		b.contention++
		return 0
	}
	if len(active) == 0 || b.source == nil || channel >= 32 {
		return 0
	}
	bank := active[0]
	if b.OutputEnables[bank].Level() == b.EnableActiveLow {
		return 0
	}
	return Counts(b.source(bank, channel), VRef)
}

func (b *Board) readSensor() uint16 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Counts(b.sensorVoltage, VRef)
}

// Ramp is a Source whose voltage rises with the global channel index, so
// every input reads a distinct value.
func Ramp(bank, channel int) float64 {
	return float64(bank*32+channel+1) * 0.01
}
