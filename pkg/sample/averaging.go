package sample

import (
	"time"
)

// NewAveragingConverter creates a converter that replaces each valid reading
// with the mean of the last windowSize valid readings of the same channel.
// Readings with the sentinel voltage pass through unchanged and do not enter
// the window.
func NewAveragingConverter(windowSize int, bufSize int) func(in <-chan Reading) <-chan Reading {
	if windowSize <= 0 {
		windowSize = 1 // No averaging if invalid
	}
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}

	return func(in <-chan Reading) <-chan Reading {
		out := make(chan Reading, bufSize)

		go func() {
			defer close(out)

			windows := make(map[int]*window)
			for r := range in {
				if r.Valid {
					w, ok := windows[r.Index()]
					if !ok {
						w = newWindow(windowSize)
						windows[r.Index()] = w
					}
					w.push(r.Voltage, r.Temperature)
					r.Voltage, r.Temperature = w.mean()
				}

				select {
				case out <- r:
				case <-time.After(time.Second):
					log.Printf("Averaging converter output channel full")
				}
			}
		}()

		return out
	}
}

// window is a fixed-size ring of voltage and temperature values.
type window struct {
	voltage     []float64
	temperature []float64
	pos         int
	n           int
}

func newWindow(size int) *window {
	return &window{
		voltage:     make([]float64, size),
		temperature: make([]float64, size),
	}
}

func (w *window) push(v, t float64) {
	w.voltage[w.pos] = v
	w.temperature[w.pos] = t
	w.pos = (w.pos + 1) % len(w.voltage)
	if w.n < len(w.voltage) {
		w.n++
	}
}

func (w *window) mean() (v, t float64) {
	for i := 0; i < w.n; i++ {
		v += w.voltage[i]
		t += w.temperature[i]
	}
	n := float64(w.n)
	return v / n, t / n
}
