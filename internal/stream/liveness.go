package stream

import (
	"sync"
	"time"
)

// Monitor is a single re-armable deadline. If Arm is not called again within
// the timeout, onStale runs once on the timer goroutine.
type Monitor struct {
	mu       sync.Mutex
	timeout  time.Duration
	onStale  func()
	timer    *time.Timer
	epoch    uint64
	lastSeen time.Time
}

// NewMonitor creates a stopped monitor. A non-positive timeout disables it.
func NewMonitor(timeout time.Duration, onStale func()) *Monitor {
	return &Monitor{timeout: timeout, onStale: onStale}
}

// Arm starts or restarts the deadline.
func (m *Monitor) Arm() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastSeen = time.Now()
	if m.timeout <= 0 {
		return
	}
	m.stopLocked()
	epoch := m.epoch
	m.timer = time.AfterFunc(m.timeout, func() { m.fire(epoch) })
}

// Stop cancels the deadline. A timer that already fired is ignored.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
	m.lastSeen = time.Time{}
}

func (m *Monitor) stopLocked() {
	m.epoch++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Monitor) fire(epoch uint64) {
	m.mu.Lock()
	if epoch != m.epoch {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.mu.Unlock()

	if m.onStale != nil {
		m.onStale()
	}
}

// Expired reports whether the monitor is armed and nothing arrived within the timeout.
func (m *Monitor) Expired() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timeout <= 0 || m.lastSeen.IsZero() {
		return false
	}
	return time.Since(m.lastSeen) >= m.timeout
}

// LastSeen returns when the monitor was last armed, zero when stopped.
func (m *Monitor) LastSeen() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSeen
}

// Timeout returns the configured bound.
func (m *Monitor) Timeout() time.Duration {
	return m.timeout
}
