package scan

import (
	"errors"
	"time"
)

const (
	// FullScale is the maximum raw count of a 16-bit ADC read.
	FullScale = 65535
	// DefaultVRef is the ADC reference voltage.
	DefaultVRef = 3.3

	// Onboard temperature sensor calibration: 27 °C at 0.706 V, -1.721 mV/°C.
	sensorRefTemp    = 27.0
	sensorRefVoltage = 0.706
	sensorSlope      = 0.001721
)

// SamplerConfig controls ADC averaging and scaling.
type SamplerConfig struct {
	Samples            int           // raw reads averaged per sample, minimum 1
	SampleGap          time.Duration // delay between averaged reads
	VRef               float64
	DischargeActiveLow bool
}

// DefaultSamplerConfig returns single reads against a 3.3 V reference.
func DefaultSamplerConfig() SamplerConfig {
	return SamplerConfig{
		Samples:   1,
		SampleGap: 100 * time.Microsecond,
		VRef:      DefaultVRef,
	}
}

// Sampler reads the multiplexed signal, the temperature sensor and drives
// the discharge line of the sample-and-hold front end.
type Sampler struct {
	cfg       SamplerConfig
	signal    ADC
	sensor    ADC
	discharge Line
	clock     Clock
}

// NewSampler creates a sampler. discharge may be nil on boards without a
// ground-assist line.
func NewSampler(signal, sensor ADC, discharge Line, clock Clock, cfg SamplerConfig) (*Sampler, error) {
	if signal == nil || sensor == nil {
		return nil, errors.New("sampler: signal and sensor ADC are required")
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if cfg.Samples < 1 {
		cfg.Samples = 1
	}
	if cfg.VRef <= 0 {
		cfg.VRef = DefaultVRef
	}

	s := &Sampler{
		cfg:       cfg,
		signal:    signal,
		sensor:    sensor,
		discharge: discharge,
		clock:     clock,
	}
	if discharge != nil {
		drive(discharge, false, cfg.DischargeActiveLow)
	}
	return s, nil
}

// ReadRaw returns the mean raw count of the selected channel.
func (s *Sampler) ReadRaw() uint16 {
	return s.average(s.signal)
}

// ReadTemperatureRaw returns the mean raw count of the temperature sensor.
func (s *Sampler) ReadTemperatureRaw() uint16 {
	return s.average(s.sensor)
}

// average takes the arithmetic mean of raw counts, not of converted values.
func (s *Sampler) average(adc ADC) uint16 {
	if s.cfg.Samples == 1 {
		return adc.Get()
	}
	var sum uint32
	for i := 0; i < s.cfg.Samples; i++ {
		if i > 0 && s.cfg.SampleGap > 0 {
			s.clock.Sleep(s.cfg.SampleGap)
		}
		sum += uint32(adc.Get())
	}
	return uint16(sum / uint32(s.cfg.Samples))
}

// ToVoltage converts a raw count with the sampler's reference.
func (s *Sampler) ToVoltage(raw uint16) float64 {
	return AdcToVoltage(raw, s.cfg.VRef)
}

// ToTemperature converts a raw sensor count to °C.
func (s *Sampler) ToTemperature(raw uint16) float64 {
	return sensorTemperature(s.ToVoltage(raw))
}

// Discharge holds the ground-assist line active for d, then releases it.
func (s *Sampler) Discharge(d time.Duration) {
	if s.discharge == nil {
		s.clock.Sleep(d)
		return
	}
	drive(s.discharge, true, s.cfg.DischargeActiveLow)
	s.clock.Sleep(d)
	drive(s.discharge, false, s.cfg.DischargeActiveLow)
}

// AdcToVoltage converts a 16-bit count to volts.
func AdcToVoltage(raw uint16, vref float64) float64 {
	return float64(raw) / FullScale * vref
}

// AdcToTemperature converts a 16-bit sensor count to °C using a 3.3 V reference.
func AdcToTemperature(raw uint16) float64 {
	return sensorTemperature(AdcToVoltage(raw, DefaultVRef))
}

func sensorTemperature(v float64) float64 {
	return sensorRefTemp - (v-sensorRefVoltage)/sensorSlope
}
