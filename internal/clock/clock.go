package clock

import (
	"sync"
	"time"
)

// Clock returns the current time in milliseconds since the Unix epoch.
type Clock interface {
	NowMillis() int64
}

// System reads the wall clock.
type System struct{}

// NowMillis returns time.Now in milliseconds.
func (System) NowMillis() int64 {
	return time.Now().UnixMilli()
}

// Manual is a clock that only moves when told to.
// It is safe for concurrent use.
type Manual struct {
	mu  sync.Mutex
	now int64
}

// NewManual creates a manual clock starting at the given millisecond value.
func NewManual(startMillis int64) *Manual {
	return &Manual{now: startMillis}
}

// NowMillis returns the current manual time.
func (m *Manual) NowMillis() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock by d. A negative d moves it backward.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now += d.Milliseconds()
}

// Set jumps the clock to an absolute millisecond value.
func (m *Manual) Set(millis int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = millis
}
