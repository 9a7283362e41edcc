// Package clock abstracts wall-clock time so tick-driven loops can be tested
// without sleeping.
package clock

import (
	"sync"
	"time"
)

// Clock provides the current time and periodic ticks.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// Tick returns a channel that delivers a tick roughly every interval.
	// The returned stop function releases the ticker's resources.
	Tick(interval time.Duration) (<-chan time.Time, func())
}

// Real is a Clock backed by the system clock.
type Real struct{}

// NewReal returns a Clock backed by the system clock.
func NewReal() *Real {
	return &Real{}
}

// Now returns the current system time.
func (*Real) Now() time.Time {
	return time.Now()
}

// Tick returns a ticker channel and its stop function.
func (*Real) Tick(interval time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(interval)
	return t.C, t.Stop
}

// Manual is a Clock controlled explicitly by tests.
type Manual struct {
	mu    sync.Mutex
	now   time.Time
	ticks []chan time.Time
}

// NewManual returns a Manual clock starting at the given time.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now returns the manual clock's current time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Tick returns a channel that fires once per Advance call.
// The interval is ignored; tests control delivery directly.
func (m *Manual) Tick(time.Duration) (<-chan time.Time, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan time.Time, 1)
	m.ticks = append(m.ticks, ch)
	stop := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, c := range m.ticks {
			if c == ch {
				m.ticks = append(m.ticks[:i], m.ticks[i+1:]...)
				break
			}
		}
	}
	return ch, stop
}

// Advance moves the clock forward and delivers one tick to each registered
// ticker channel. Delivery is non-blocking; a tick already pending is enough.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	now := m.now
	ticks := make([]chan time.Time, len(m.ticks))
	copy(ticks, m.ticks)
	m.mu.Unlock()

	for _, ch := range ticks {
		select {
		case ch <- now:
		default:
		}
	}
}
