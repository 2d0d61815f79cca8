// Package rate estimates a frames-per-second figure over fixed, non-overlapping windows.
package rate

import "time"

// DefaultWindow is the length of one counting window.
const DefaultWindow = time.Second

// Clock supplies the current time. Tests substitute a manual clock.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Monitor counts ticks and publishes the count once per window.
// It is not safe for concurrent use; the pipeline loop is its only caller.
type Monitor struct {
	clock  Clock
	window time.Duration

	start time.Time
	count int
	rate  int
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(m *Monitor) { m.clock = c }
}

// WithWindow changes the window length from DefaultWindow.
func WithWindow(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.window = d
		}
	}
}

// NewMonitor starts the first window at the current clock time.
func NewMonitor(opts ...Option) *Monitor {
	m := &Monitor{clock: realClock{}, window: DefaultWindow}
	for _, opt := range opts {
		opt(m)
	}
	m.start = m.clock.Now()
	return m
}

// Tick records one processed frame. When the current window has run for at
// least the window length, every frame counted in it (this one included)
// becomes the new rate, the counter is cleared and a new window starts; Tick
// then returns the rate and true.
func (m *Monitor) Tick() (int, bool) {
	m.count++
	now := m.clock.Now()
	if now.Sub(m.start) >= m.window {
		m.rate = m.count
		m.count = 0
		m.start = now
		return m.rate, true
	}
	return m.rate, false
}

// Rate returns the last published rate, zero before the first window closes.
func (m *Monitor) Rate() int { return m.rate }

// Count returns the ticks recorded in the open window.
func (m *Monitor) Count() int { return m.count }
