package scan

import "time"

// Line is a digital output. machine.Pin satisfies it.
type Line interface {
	High()
	Low()
}

// ADC is a 16-bit analog input. machine.ADC satisfies it.
type ADC interface {
	Get() uint16
}

// Expander is the parallel output port driving the multiplexer address lines.
type Expander interface {
	WriteOutputs(value uint8) error
	ReadOutputs() (uint8, error)
}

// Transport is the serial link to the host. *machine.UART satisfies it.
type Transport interface {
	Buffered() int
	ReadByte() (byte, error)
	Write(p []byte) (int, error)
}

// Clock provides time to the controller so it can be driven deterministically.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time        { return time.Now() }
func (SystemClock) Sleep(d time.Duration) { time.Sleep(d) }

// drive sets l to the active or inactive level for the given polarity.
func drive(l Line, active, activeLow bool) {
	if active != activeLow {
		l.High()
	} else {
		l.Low()
	}
}
