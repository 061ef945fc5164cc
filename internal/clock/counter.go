package clock

import (
	"sync/atomic"
	"time"
)

// Counter is the free-running hardware counter.
type Counter interface {
	Now() Tick
}

// Realtime counts microseconds since it was created, using the host's
// monotonic clock.
type Realtime struct {
	start time.Time
}

// NewRealtime starts a counter at tick 0.
func NewRealtime() *Realtime {
	return &Realtime{start: time.Now()}
}

// Now returns the elapsed ticks.
func (r *Realtime) Now() Tick {
	return Ticks(time.Since(r.start))
}

// Manual is a counter that only moves when told to. It backs the
// virtual-time driver and the tests.
type Manual struct {
	now atomic.Uint64
}

// NewManual creates a counter reading start.
func NewManual(start Tick) *Manual {
	m := &Manual{}
	m.now.Store(uint64(start))
	return m
}

// Now returns the current reading.
func (m *Manual) Now() Tick { return Tick(m.now.Load()) }

// Set moves the counter to t. Moving backwards is ignored so the counter
// stays monotonic.
func (m *Manual) Set(t Tick) {
	for {
		cur := m.now.Load()
		if !Tick(cur).Before(t) {
			return
		}
		if m.now.CompareAndSwap(cur, uint64(t)) {
			return
		}
	}
}

// Advance moves the counter forward by d and returns the new reading.
func (m *Manual) Advance(d time.Duration) Tick {
	return Tick(m.now.Add(uint64(Ticks(d))))
}
