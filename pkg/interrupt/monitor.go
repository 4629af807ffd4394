// Package interrupt watches a metering-only capture session during
// assistant playback and fires once when the user starts talking over it.
package interrupt

import (
	"sync"
	"time"

	"github.com/voiceloop-ai/voiceloop/pkg/capture"
)

// Config holds the barge-in detection thresholds.
type Config struct {
	// PollInterval is how often the monitor samples the capture level.
	PollInterval time.Duration `json:"poll_interval"`

	// ThresholdDB is the dBFS level that counts as the user talking over
	// playback. It is stricter than the speech floor used for turn
	// detection so speaker bleed does not trigger it.
	ThresholdDB float64 `json:"threshold_db"`
}

// DefaultConfig returns the standard barge-in thresholds.
func DefaultConfig() Config {
	return Config{
		PollInterval: 50 * time.Millisecond,
		ThresholdDB:  -25.0,
	}
}

// MeterFunc samples the monitor's capture session.
type MeterFunc func() (capture.MeterSample, error)

// Monitor polls a secondary capture session for levels above the
// interruption threshold. It fires OnInterrupt at most once and then
// stops itself; a fresh monitor is created for each playback.
//
// Metering errors do not fire anything. Barge-in is a best-effort
// affordance and a broken monitor simply means playback proceeds without
// it.
type Monitor struct {
	config Config
	meter  MeterFunc

	onInterrupt func()

	mu      sync.Mutex
	running bool
	fired   bool
	stopCh  chan struct{}
}

// NewMonitor creates a monitor over the given metering function.
func NewMonitor(config Config, meter MeterFunc, onInterrupt func()) *Monitor {
	return &Monitor{
		config:      config,
		meter:       meter,
		onInterrupt: onInterrupt,
	}
}

// Start begins polling. Calling Start twice is a no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.running || m.fired {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	stopCh := m.stopCh
	m.mu.Unlock()

	go m.pollLoop(stopCh)
}

// Stop halts polling without firing. Safe to call repeatedly; after Stop
// the callback can no longer run.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		m.running = false
		close(m.stopCh)
	}
	m.fired = true
}

// Fired reports whether the monitor detected an interruption or was
// stopped.
func (m *Monitor) Fired() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fired
}

func (m *Monitor) pollLoop(stopCh chan struct{}) {
	ticker := time.NewTicker(m.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if m.tick() {
				return
			}
		}
	}
}

// tick runs one poll step. Returns true when polling must stop.
func (m *Monitor) tick() bool {
	sample, err := m.meter()
	if err != nil {
		// Degrade silently; the session owner handles capture failures.
		m.Stop()
		return true
	}
	if sample.LevelDB < m.config.ThresholdDB {
		return false
	}

	m.mu.Lock()
	if m.fired {
		m.mu.Unlock()
		return true
	}
	m.fired = true
	if m.running {
		m.running = false
		close(m.stopCh)
	}
	cb := m.onInterrupt
	m.mu.Unlock()

	if cb != nil {
		cb()
	}
	return true
}
