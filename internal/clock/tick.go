// internal/clock/tick.go

package clock

import "time"

// TickHz is the counter frequency. One tick is one microsecond.
const TickHz = 1_000_000

// Tick is a reading of the free-running 64-bit counter.
type Tick uint64

// Ticks converts a duration to a tick count, truncating sub-tick remainders.
func Ticks(d time.Duration) Tick {
	if d <= 0 {
		return 0
	}
	return Tick(d / time.Microsecond)
}

// Add returns t advanced by d.
func (t Tick) Add(d time.Duration) Tick { return t + Ticks(d) }

// Sub returns the signed distance t - u.
func (t Tick) Sub(u Tick) time.Duration {
	return time.Duration(int64(t-u)) * time.Microsecond
}

// Before reports whether t is strictly earlier than u.
// The comparison is done on the signed difference so it stays correct
// across counter wraparound.
func (t Tick) Before(u Tick) bool { return int64(t-u) < 0 }

// Due reports whether a deadline d has been reached at t.
func (t Tick) Due(d Tick) bool { return !t.Before(d) }

// Seconds returns t as fractional seconds since counter start.
func (t Tick) Seconds() float64 { return float64(t) / TickHz }
