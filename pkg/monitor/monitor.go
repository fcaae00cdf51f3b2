package monitor

import (
	"sort"
	"sync"
	"time"

	"github.com/powerman/structlog"

	"github.com/itohio/muxscan/pkg/config"
	"github.com/itohio/muxscan/pkg/sample"
)

var log = structlog.New(structlog.KeyUnit, "monitor")

// Alert represents a channel that read below the open-joint threshold for
// one or more consecutive passes.
type Alert struct {
	Bank       int // 0-based
	Channel    int // 0-based
	StartPass  int
	EndPass    int
	StartTime  time.Time
	EndTime    time.Time
	MinVoltage float64
	Active     bool // still below threshold at the latest pass
}

// Passes returns how many passes the alert spans.
func (a Alert) Passes() int {
	return a.EndPass - a.StartPass + 1
}

// ChannelState is the latest known state of one channel.
type ChannelState struct {
	Last  sample.Reading
	Below int // consecutive passes below threshold
	Count int // readings seen
	Fault int // sentinel readings seen
}

// PassMonitor tracks scan passes and flags open joints.
type PassMonitor interface {
	// ProcessReadings processes readings from the input channel.
	// Should be run in a goroutine.
	ProcessReadings(input <-chan sample.Reading)

	// Table returns the latest state of every channel seen, ordered by bank and channel.
	Table() []ChannelState

	// History returns the retained readings of one channel, oldest first.
	History(bank, channel int) []sample.Reading

	// Alerts returns active alerts and alerts closed within the window.
	Alerts() []Alert

	// Pass returns the number of the latest pass seen.
	Pass() int

	// OnUpdate registers a callback invoked after each completed pass.
	OnUpdate(callback func(pass int, table []ChannelState, alerts []Alert))

	// OnAlert registers a callback invoked when an alert opens or closes.
	OnAlert(callback func(alert Alert))
}

// Monitor implements PassMonitor.
type Monitor struct {
	mu sync.RWMutex

	threshold      float64
	minConsecutive int
	windowPasses   int

	pass     int
	states   map[int]*ChannelState
	history  map[int][]sample.Reading
	pending  map[int]*Alert // run of low readings not yet long enough, or the open alert
	alerts   []Alert
	shutdown bool

	updateCallbacks []func(pass int, table []ChannelState, alerts []Alert)
	alertCallbacks  []func(alert Alert)
}

var _ PassMonitor = (*Monitor)(nil)

// New creates a new pass monitor.
func New(cfg config.MonitorConfig) *Monitor {
	if cfg.MinConsecutive <= 0 {
		cfg.MinConsecutive = 1
	}
	if cfg.WindowPasses <= 0 {
		cfg.WindowPasses = 1
	}
	return &Monitor{
		threshold:      cfg.Threshold,
		minConsecutive: cfg.MinConsecutive,
		windowPasses:   cfg.WindowPasses,
		states:         make(map[int]*ChannelState),
		history:        make(map[int][]sample.Reading),
		pending:        make(map[int]*Alert),
	}
}

// ProcessReadings processes readings from the input channel until it closes.
// A pass is complete when the first reading of the next pass arrives, or when
// the input closes.
func (m *Monitor) ProcessReadings(input <-chan sample.Reading) {
	for r := range input {
		m.mu.RLock()
		prev := m.pass
		m.mu.RUnlock()

		if prev != 0 && r.Pass != prev {
			m.notifyUpdate()
		}

		for _, a := range m.processReading(r) {
			m.notifyAlert(a)
		}
	}

	m.mu.RLock()
	seen := m.pass != 0
	m.mu.RUnlock()
	if seen {
		m.notifyUpdate()
	}

	m.mu.Lock()
	m.shutdown = true
	m.mu.Unlock()
}

// ResetShutdown clears the shutdown flag so a new input channel can be processed.
func (m *Monitor) ResetShutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdown = false
}

// processReading updates the table and returns alerts that opened or closed.
func (m *Monitor) processReading(r sample.Reading) []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case r.Pass > m.pass:
		m.pass = r.Pass
		m.trimWindow()
	case r.Pass < m.pass:
		// pass numbering restarted
		m.pass = r.Pass
		m.history = make(map[int][]sample.Reading)
		m.trimWindow()
	}

	idx := r.Index()
	st, ok := m.states[idx]
	if !ok {
		st = &ChannelState{}
		m.states[idx] = st
	}
	st.Last = r
	st.Count++

	m.history[idx] = append(m.history[idx], r)

	if !r.Valid {
		st.Fault++
		return nil
	}

	return m.updateAlerts(idx, st, r)
}

// updateAlerts runs the threshold rule for one valid reading.
func (m *Monitor) updateAlerts(idx int, st *ChannelState, r sample.Reading) []Alert {
	run := m.pending[idx]

	if r.Voltage >= m.threshold {
		st.Below = 0
		delete(m.pending, idx)
		if run == nil || !run.Active {
			return nil
		}
		run.Active = false
		m.replaceAlert(*run)
		log.Info("channel recovered", "bank", r.Bank+1, "channel", r.Channel+1, "passes", run.Passes())
		return []Alert{*run}
	}

	st.Below++
	if run == nil {
		run = &Alert{
			Bank:       r.Bank,
			Channel:    r.Channel,
			StartPass:  r.Pass,
			StartTime:  r.Timestamp,
			MinVoltage: r.Voltage,
		}
		m.pending[idx] = run
	}
	run.EndPass = r.Pass
	run.EndTime = r.Timestamp
	if r.Voltage < run.MinVoltage {
		run.MinVoltage = r.Voltage
	}

	switch {
	case run.Active:
		m.replaceAlert(*run)
		return nil
	case st.Below >= m.minConsecutive:
		run.Active = true
		m.alerts = append(m.alerts, *run)
		log.Info("open joint", "bank", r.Bank+1, "channel", r.Channel+1, "voltage", r.Voltage, "pass", r.Pass)
		return []Alert{*run}
	}
	return nil
}

// replaceAlert overwrites the stored alert with the same channel and start pass.
func (m *Monitor) replaceAlert(a Alert) {
	for i := len(m.alerts) - 1; i >= 0; i-- {
		if m.alerts[i].Bank == a.Bank && m.alerts[i].Channel == a.Channel && m.alerts[i].StartPass == a.StartPass {
			m.alerts[i] = a
			return
		}
	}
}

// trimWindow drops readings and closed alerts older than the pass window.
// Must be called with the lock held.
func (m *Monitor) trimWindow() {
	oldest := m.pass - m.windowPasses + 1

	for idx, h := range m.history {
		cut := 0
		for cut < len(h) && h[cut].Pass < oldest {
			cut++
		}
		if cut > 0 {
			m.history[idx] = append(h[:0:0], h[cut:]...)
		}
	}

	kept := m.alerts[:0]
	for _, a := range m.alerts {
		if a.Active || a.EndPass >= oldest {
			kept = append(kept, a)
		}
	}
	m.alerts = kept
}

// Table returns the latest state of every channel seen.
func (m *Monitor) Table() []ChannelState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.table()
}

func (m *Monitor) table() []ChannelState {
	keys := make([]int, 0, len(m.states))
	for k := range m.states {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	result := make([]ChannelState, len(keys))
	for i, k := range keys {
		result[i] = *m.states[k]
	}
	return result
}

// History returns the retained readings of one channel.
func (m *Monitor) History(bank, channel int) []sample.Reading {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h := m.history[sample.Reading{Bank: bank, Channel: channel}.Index()]
	result := make([]sample.Reading, len(h))
	copy(result, h)
	return result
}

// Alerts returns a copy of the retained alerts.
func (m *Monitor) Alerts() []Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]Alert, len(m.alerts))
	copy(result, m.alerts)
	return result
}

// Pass returns the number of the latest pass seen.
func (m *Monitor) Pass() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pass
}

// OnUpdate registers a callback invoked after each completed pass.
func (m *Monitor) OnUpdate(callback func(pass int, table []ChannelState, alerts []Alert)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateCallbacks = append(m.updateCallbacks, callback)
}

// OnAlert registers a callback invoked when an alert opens or closes.
func (m *Monitor) OnAlert(callback func(alert Alert)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alertCallbacks = append(m.alertCallbacks, callback)
}

// notifyUpdate calls all registered update callbacks with copies of the data.
func (m *Monitor) notifyUpdate() {
	m.mu.RLock()
	if m.shutdown {
		m.mu.RUnlock()
		return
	}

	pass := m.pass
	table := m.table()
	alerts := make([]Alert, len(m.alerts))
	copy(alerts, m.alerts)
	callbacks := make([]func(int, []ChannelState, []Alert), len(m.updateCallbacks))
	copy(callbacks, m.updateCallbacks)
	m.mu.RUnlock()

	// Call callbacks without holding locks to avoid deadlock
	for _, callback := range callbacks {
		callback(pass, table, alerts)
	}
}

func (m *Monitor) notifyAlert(a Alert) {
	m.mu.RLock()
	if m.shutdown {
		m.mu.RUnlock()
		return
	}
	callbacks := make([]func(Alert), len(m.alertCallbacks))
	copy(callbacks, m.alertCallbacks)
	m.mu.RUnlock()

	for _, callback := range callbacks {
		callback(a)
	}
}
